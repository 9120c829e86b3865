package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/docflowhq/docflow/internal/models"
)

// NotificationAdapter is a recording fake for the notification
// boundary. It counts sends so tests can assert no side effect ran
// twice, and can be told to fail.
type NotificationAdapter struct {
	mu          sync.Mutex
	SendCalls   int
	RenderCalls int
	Sent        []SentNotification
	RenderErr   error
	SendErr     error
}

// SentNotification records one Send call.
type SentNotification struct {
	Recipients []models.Recipient
	Message    models.RenderedMessage
}

// NewNotificationAdapter creates a recording notification fake.
func NewNotificationAdapter() *NotificationAdapter {
	return &NotificationAdapter{}
}

// Render returns a trivially rendered message, or the configured error.
func (a *NotificationAdapter) Render(templateKey string, variables map[string]interface{}) (*models.RenderedMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.RenderCalls++
	if a.RenderErr != nil {
		return nil, a.RenderErr
	}
	return &models.RenderedMessage{
		TemplateKey: templateKey,
		Subject:     "subject: " + templateKey,
		Body:        fmt.Sprintf("body with %d variables", len(variables)),
	}, nil
}

// Send records the call, or fails with the configured error.
func (a *NotificationAdapter) Send(_ context.Context, recipients []models.Recipient, message *models.RenderedMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.SendCalls++
	if a.SendErr != nil {
		return a.SendErr
	}
	a.Sent = append(a.Sent, SentNotification{
		Recipients: append([]models.Recipient(nil), recipients...),
		Message:    *message,
	})
	return nil
}

// StaticRecipientResolver resolves every config to a fixed recipient
// list.
type StaticRecipientResolver struct {
	Recipients []models.Recipient
	Err        error
}

// Resolve returns the fixed recipients.
func (r *StaticRecipientResolver) Resolve(_ context.Context, _ models.RecipientConfig, _ *models.EventContext) ([]models.Recipient, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	return r.Recipients, nil
}

// ActionRunner records every invoked action so tests can assert what
// ran and how often, and can be told to fail.
type ActionRunner struct {
	mu      sync.Mutex
	Calls   []ActionCall
	FailErr error
}

// ActionCall records one action invocation.
type ActionCall struct {
	Kind      string
	ModelType string
	EntityID  string
	Name      string
	Payload   map[string]interface{}
}

// NewActionRunner creates a recording action runner.
func NewActionRunner() *ActionRunner {
	return &ActionRunner{}
}

func (r *ActionRunner) record(call ActionCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailErr != nil {
		return r.FailErr
	}
	r.Calls = append(r.Calls, call)
	return nil
}

// UpdateFields records an update_fields action.
func (r *ActionRunner) UpdateFields(_ context.Context, modelType, entityID string, fields map[string]interface{}) error {
	return r.record(ActionCall{Kind: "update_fields", ModelType: modelType, EntityID: entityID, Payload: fields})
}

// CreateRecord records a create_record action.
func (r *ActionRunner) CreateRecord(_ context.Context, modelType, entityID, relation string, record map[string]interface{}) error {
	return r.record(ActionCall{Kind: "create_record", ModelType: modelType, EntityID: entityID, Name: relation, Payload: record})
}

// InvokeMethod records an invoke_method action.
func (r *ActionRunner) InvokeMethod(_ context.Context, modelType, entityID, method string, args map[string]interface{}) (interface{}, error) {
	if err := r.record(ActionCall{Kind: "invoke_method", ModelType: modelType, EntityID: entityID, Name: method, Payload: args}); err != nil {
		return nil, err
	}
	return "ok", nil
}

// CallCount returns the number of recorded actions.
func (r *ActionRunner) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}
