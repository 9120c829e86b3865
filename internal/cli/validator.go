package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/docflowhq/docflow/internal/models"
	"github.com/docflowhq/docflow/internal/validators"
)

// ValidationResult is the outcome of validating a workflow file.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// ValidateWorkflowFile loads a workflow definition file and validates
// it locally, without talking to the API.
func ValidateWorkflowFile(filename string) (*ValidationResult, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var req models.CreateWorkflowRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return &ValidationResult{
			Valid:  false,
			Errors: []string{fmt.Sprintf("invalid JSON: %v", err)},
		}, nil
	}

	v := validators.NewWorkflowValidator()
	if err := v.ValidateCreate(&req); err != nil {
		return &ValidationResult{
			Valid:  false,
			Errors: splitErrors(err),
		}, nil
	}

	return &ValidationResult{Valid: true}, nil
}

// splitErrors breaks a combined validation error into display lines.
func splitErrors(err error) []string {
	parts := strings.Split(err.Error(), "; ")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
