package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflowhq/docflow/internal/mocks"
	"github.com/docflowhq/docflow/internal/models"
	"github.com/docflowhq/docflow/pkg/logger"
)

func TestDirectoryResolver_Resolve(t *testing.T) {
	ctx := context.Background()

	alice := models.User{ID: uuid.New(), Name: "Alice", Email: "alice@example.com", Roles: []string{"manager"}, IsActive: true}
	bob := models.User{ID: uuid.New(), Name: "Bob", Email: "bob@example.com", Roles: []string{"manager", "admin"}, IsActive: true}
	carol := models.User{ID: uuid.New(), Name: "Carol", Email: "carol@example.com", Roles: []string{"manager"}, IsActive: false}
	directory := mocks.NewUserDirectory(alice, bob, carol)

	resolver := NewDirectoryResolver(directory, logger.NewForTesting())

	event := func(snapshot models.JSONB) *models.EventContext {
		return &models.EventContext{
			EntityType: "document",
			EntityID:   "42",
			EventName:  "created",
			Snapshot:   snapshot,
		}
	}

	t.Run("creator from snapshot attribute", func(t *testing.T) {
		got, err := resolver.Resolve(ctx,
			models.RecipientConfig{Type: models.RecipientCreator},
			event(models.JSONB{"created_by": alice.ID.String()}))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, alice.ID, got[0].ID)
	})

	t.Run("creator falls back to the event actor", func(t *testing.T) {
		ec := event(models.JSONB{})
		actorID := bob.ID
		ec.ActorID = &actorID

		got, err := resolver.Resolve(ctx, models.RecipientConfig{Type: models.RecipientCreator}, ec)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, bob.ID, got[0].ID)
	})

	t.Run("creator unavailable", func(t *testing.T) {
		_, err := resolver.Resolve(ctx, models.RecipientConfig{Type: models.RecipientCreator}, event(models.JSONB{}))
		assert.Error(t, err)
	})

	t.Run("explicit users skip unknown entries", func(t *testing.T) {
		got, err := resolver.Resolve(ctx,
			models.RecipientConfig{Type: models.RecipientUsers, UserIDs: []uuid.UUID{alice.ID, uuid.New()}},
			event(nil))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, alice.ID, got[0].ID)
	})

	t.Run("roles exclude inactive users", func(t *testing.T) {
		got, err := resolver.Resolve(ctx,
			models.RecipientConfig{Type: models.RecipientRoles, Roles: []string{"manager"}},
			event(nil))
		require.NoError(t, err)
		require.Len(t, got, 2)
		for _, r := range got {
			assert.NotEqual(t, carol.ID, r.ID)
		}
	})

	t.Run("relation as single ID", func(t *testing.T) {
		got, err := resolver.Resolve(ctx,
			models.RecipientConfig{Type: models.RecipientRelation, Relation: "assignee"},
			event(models.JSONB{"assignee": bob.ID.String()}))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, bob.ID, got[0].ID)
	})

	t.Run("relation as list", func(t *testing.T) {
		got, err := resolver.Resolve(ctx,
			models.RecipientConfig{Type: models.RecipientRelation, Relation: "watchers"},
			event(models.JSONB{"watchers": []interface{}{alice.ID.String(), bob.ID.String()}}))
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("relation as embedded object", func(t *testing.T) {
		got, err := resolver.Resolve(ctx,
			models.RecipientConfig{Type: models.RecipientRelation, Relation: "owner"},
			event(models.JSONB{"owner": map[string]interface{}{"id": alice.ID.String(), "name": "Alice"}}))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, alice.ID, got[0].ID)
	})

	t.Run("missing relation attribute", func(t *testing.T) {
		_, err := resolver.Resolve(ctx,
			models.RecipientConfig{Type: models.RecipientRelation, Relation: "assignee"},
			event(models.JSONB{}))
		assert.Error(t, err)
	})

	t.Run("unknown recipient type", func(t *testing.T) {
		_, err := resolver.Resolve(ctx, models.RecipientConfig{Type: "mystery"}, event(nil))
		assert.Error(t, err)
	})
}
