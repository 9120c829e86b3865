package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/docflowhq/docflow/internal/engine"
	"github.com/docflowhq/docflow/internal/models"
	"github.com/docflowhq/docflow/pkg/logger"
)

// DomainMethod is a named operation that invoke_method actions can
// call against an entity.
type DomainMethod func(ctx context.Context, modelType, entityID string, args map[string]interface{}) (interface{}, error)

// EntityActionRunner executes action steps against the entity
// projection: field updates merge into the snapshot attributes, created
// records append under the relation key, and method invocations
// dispatch through a registry of named domain methods.
type EntityActionRunner struct {
	entities engine.EntityStore
	logger   *logger.Logger

	mu      sync.RWMutex
	methods map[string]DomainMethod
}

// NewEntityActionRunner creates an action runner over the entity store.
func NewEntityActionRunner(entities engine.EntityStore, log *logger.Logger) *EntityActionRunner {
	return &EntityActionRunner{
		entities: entities,
		logger:   log,
		methods:  make(map[string]DomainMethod),
	}
}

// RegisterMethod makes a domain method callable from invoke_method
// actions. Registration replaces any previous method of the same name.
func (r *EntityActionRunner) RegisterMethod(name string, method DomainMethod) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[name] = method
}

// UpdateFields merges the given fields into the entity's attributes.
func (r *EntityActionRunner) UpdateFields(ctx context.Context, modelType, entityID string, fields map[string]interface{}) error {
	snapshot, err := r.entities.GetEntity(ctx, modelType, entityID)
	if err != nil {
		return fmt.Errorf("failed to load entity %s/%s: %w", modelType, entityID, err)
	}

	if snapshot.Attributes == nil {
		snapshot.Attributes = models.JSONB{}
	}
	for key, value := range fields {
		snapshot.Attributes[key] = value
	}
	snapshot.UpdatedAt = time.Now()

	if err := r.entities.UpsertEntity(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to update entity %s/%s: %w", modelType, entityID, err)
	}

	r.logger.Debug("Entity fields updated",
		logger.String("model_type", modelType),
		logger.String("entity_id", entityID),
		logger.Int("fields", len(fields)),
	)
	return nil
}

// CreateRecord appends a related record under the relation key of the
// entity's attributes.
func (r *EntityActionRunner) CreateRecord(ctx context.Context, modelType, entityID, relation string, record map[string]interface{}) error {
	snapshot, err := r.entities.GetEntity(ctx, modelType, entityID)
	if err != nil {
		return fmt.Errorf("failed to load entity %s/%s: %w", modelType, entityID, err)
	}

	if snapshot.Attributes == nil {
		snapshot.Attributes = models.JSONB{}
	}

	var records []interface{}
	if existing, ok := snapshot.Attributes[relation].([]interface{}); ok {
		records = existing
	}
	stamped := make(map[string]interface{}, len(record)+1)
	for key, value := range record {
		stamped[key] = value
	}
	stamped["created_at"] = time.Now().Format(time.RFC3339)
	snapshot.Attributes[relation] = append(records, stamped)
	snapshot.UpdatedAt = time.Now()

	if err := r.entities.UpsertEntity(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to create %s record on %s/%s: %w", relation, modelType, entityID, err)
	}
	return nil
}

// InvokeMethod dispatches a registered domain method. An unknown
// method is an error so misconfigured workflows fail loudly.
func (r *EntityActionRunner) InvokeMethod(ctx context.Context, modelType, entityID, method string, args map[string]interface{}) (interface{}, error) {
	r.mu.RLock()
	fn, ok := r.methods[method]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown domain method %q", method)
	}

	return fn(ctx, modelType, entityID, args)
}
