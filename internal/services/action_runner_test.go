package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflowhq/docflow/internal/mocks"
	"github.com/docflowhq/docflow/internal/models"
	"github.com/docflowhq/docflow/pkg/logger"
)

func newRunnerFixture(t *testing.T) (*EntityActionRunner, *mocks.EntityStore) {
	t.Helper()

	entities := mocks.NewEntityStore()
	require.NoError(t, entities.UpsertEntity(context.Background(), &models.EntitySnapshot{
		ModelType:  "document",
		EntityID:   "42",
		State:      "draft",
		Attributes: models.JSONB{"title": "Q3 report"},
	}))
	return NewEntityActionRunner(entities, logger.NewForTesting()), entities
}

func TestEntityActionRunner_UpdateFields(t *testing.T) {
	ctx := context.Background()
	runner, entities := newRunnerFixture(t)

	err := runner.UpdateFields(ctx, "document", "42", map[string]interface{}{
		"priority": "high",
		"title":    "Q3 report (final)",
	})
	require.NoError(t, err)

	snapshot, err := entities.GetEntity(ctx, "document", "42")
	require.NoError(t, err)
	assert.Equal(t, "high", snapshot.Attributes["priority"])
	assert.Equal(t, "Q3 report (final)", snapshot.Attributes["title"])
	// State is untouched by field updates.
	assert.Equal(t, "draft", snapshot.State)

	err = runner.UpdateFields(ctx, "document", "missing", map[string]interface{}{"x": 1})
	assert.Error(t, err)
}

func TestEntityActionRunner_CreateRecord(t *testing.T) {
	ctx := context.Background()
	runner, entities := newRunnerFixture(t)

	require.NoError(t, runner.CreateRecord(ctx, "document", "42", "comments", map[string]interface{}{"body": "first"}))
	require.NoError(t, runner.CreateRecord(ctx, "document", "42", "comments", map[string]interface{}{"body": "second"}))

	snapshot, err := entities.GetEntity(ctx, "document", "42")
	require.NoError(t, err)

	records, ok := snapshot.Attributes["comments"].([]interface{})
	require.True(t, ok)
	require.Len(t, records, 2)

	first, ok := records[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "first", first["body"])
	assert.Contains(t, first, "created_at")
}

func TestEntityActionRunner_InvokeMethod(t *testing.T) {
	ctx := context.Background()
	runner, _ := newRunnerFixture(t)

	var gotArgs map[string]interface{}
	runner.RegisterMethod("archive", func(_ context.Context, modelType, entityID string, args map[string]interface{}) (interface{}, error) {
		gotArgs = args
		return modelType + "/" + entityID + " archived", nil
	})

	result, err := runner.InvokeMethod(ctx, "document", "42", "archive", map[string]interface{}{"cascade": true})
	require.NoError(t, err)
	assert.Equal(t, "document/42 archived", result)
	assert.Equal(t, true, gotArgs["cascade"])

	_, err = runner.InvokeMethod(ctx, "document", "42", "shred", nil)
	assert.Error(t, err)
}
