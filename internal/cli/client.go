package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docflowhq/docflow/internal/models"
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) doRequest(method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	return resp, nil
}

// CreateWorkflow creates a new workflow with its steps
func (c *Client) CreateWorkflow(req *models.CreateWorkflowRequest) (*models.AdvancedWorkflow, error) {
	resp, err := c.doRequest("POST", "/api/v1/workflows", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to create workflow: %s (status: %d)", string(body), resp.StatusCode)
	}

	var workflow models.AdvancedWorkflow
	if err := json.NewDecoder(resp.Body).Decode(&workflow); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &workflow, nil
}

// GetWorkflows retrieves workflows
func (c *Client) GetWorkflows() ([]models.AdvancedWorkflow, error) {
	resp, err := c.doRequest("GET", "/api/v1/workflows", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to get workflows: %s (status: %d)", string(body), resp.StatusCode)
	}

	var result struct {
		Workflows []models.AdvancedWorkflow `json:"workflows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return result.Workflows, nil
}

// CreateEvent publishes an entity event to the API
func (c *Client) CreateEvent(ec *models.EventContext) error {
	resp, err := c.doRequest("POST", "/api/v1/events", ec)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to create event: %s (status: %d)", string(body), resp.StatusCode)
	}

	return nil
}

// GetExecutions retrieves workflow executions
func (c *Client) GetExecutions(workflowID string) ([]models.WorkflowExecution, error) {
	path := "/api/v1/executions"
	if workflowID != "" {
		path += "?workflow_id=" + workflowID
	}

	resp, err := c.doRequest("GET", path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to get executions: %s (status: %d)", string(body), resp.StatusCode)
	}

	var result struct {
		Executions []models.WorkflowExecution `json:"executions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return result.Executions, nil
}

// GetExecution retrieves one execution with its step progress
func (c *Client) GetExecution(id string) (*models.ExecutionProgress, error) {
	resp, err := c.doRequest("GET", "/api/v1/executions/"+id, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to get execution: %s (status: %d)", string(body), resp.StatusCode)
	}

	var progress models.ExecutionProgress
	if err := json.NewDecoder(resp.Body).Decode(&progress); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &progress, nil
}

// CancelExecution cancels a live execution
func (c *Client) CancelExecution(id, reason string) error {
	resp, err := c.doRequest("POST", "/api/v1/executions/"+id+"/cancel", map[string]string{"reason": reason})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to cancel execution: %s (status: %d)", string(body), resp.StatusCode)
	}

	return nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck() error {
	resp, err := c.doRequest("GET", "/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API is not healthy (status: %d)", resp.StatusCode)
	}

	return nil
}
