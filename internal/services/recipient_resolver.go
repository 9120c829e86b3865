package services

import (
	"context"
	"fmt"

	"github.com/docflowhq/docflow/internal/models"
	"github.com/docflowhq/docflow/pkg/logger"
	"github.com/google/uuid"
)

// UserDirectory looks up users for recipient resolution.
type UserDirectory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	ListUsersByRoles(ctx context.Context, roles []string) ([]models.User, error)
}

// DirectoryResolver resolves declarative recipient configs against the
// user directory and the entity's projected attributes. It implements
// engine.RecipientResolver.
type DirectoryResolver struct {
	users  UserDirectory
	logger *logger.Logger
}

// NewDirectoryResolver creates a recipient resolver.
func NewDirectoryResolver(users UserDirectory, log *logger.Logger) *DirectoryResolver {
	return &DirectoryResolver{users: users, logger: log}
}

// Resolve expands a recipient config into concrete recipients. Users
// missing from the directory are dropped with a warning rather than
// failing the whole resolution; inactive users never receive anything.
func (r *DirectoryResolver) Resolve(ctx context.Context, cfg models.RecipientConfig, ec *models.EventContext) ([]models.Recipient, error) {
	switch cfg.Type {
	case models.RecipientCreator:
		id, ok := creatorID(ec)
		if !ok {
			return nil, fmt.Errorf("entity %s/%s has no creator attribute", ec.EntityType, ec.EntityID)
		}
		return r.lookupIDs(ctx, []uuid.UUID{id}), nil

	case models.RecipientUsers:
		return r.lookupIDs(ctx, cfg.UserIDs), nil

	case models.RecipientRoles:
		users, err := r.users.ListUsersByRoles(ctx, cfg.Roles)
		if err != nil {
			return nil, fmt.Errorf("failed to list users by roles %v: %w", cfg.Roles, err)
		}
		return toRecipients(users), nil

	case models.RecipientRelation:
		ids, err := relationIDs(ec, cfg.Relation)
		if err != nil {
			return nil, err
		}
		return r.lookupIDs(ctx, ids), nil

	default:
		return nil, fmt.Errorf("unknown recipient type %q", cfg.Type)
	}
}

// lookupIDs fetches directory entries for a set of user IDs, skipping
// unknown and inactive users.
func (r *DirectoryResolver) lookupIDs(ctx context.Context, ids []uuid.UUID) []models.Recipient {
	recipients := make([]models.Recipient, 0, len(ids))
	for _, id := range ids {
		user, err := r.users.GetUser(ctx, id)
		if err != nil {
			r.logger.Warnf("recipient %s not found in directory: %v", id, err)
			continue
		}
		if !user.IsActive {
			continue
		}
		recipients = append(recipients, models.Recipient{ID: user.ID, Name: user.Name, Email: user.Email})
	}
	return recipients
}

// creatorID finds the entity creator from its snapshot, falling back
// to the acting user of the triggering event.
func creatorID(ec *models.EventContext) (uuid.UUID, bool) {
	for _, key := range []string{"created_by", "creator_id", "user_id"} {
		if raw, ok := ec.Snapshot[key].(string); ok {
			if id, err := uuid.Parse(raw); err == nil {
				return id, true
			}
		}
	}
	if ec.ActorID != nil {
		return *ec.ActorID, true
	}
	return uuid.Nil, false
}

// relationIDs reads user IDs from a snapshot attribute. The attribute
// may hold a single ID string, a list of them, or an embedded object
// with an "id" field.
func relationIDs(ec *models.EventContext, relation string) ([]uuid.UUID, error) {
	raw, ok := ec.Snapshot[relation]
	if !ok || raw == nil {
		return nil, fmt.Errorf("entity %s/%s has no relation attribute %q", ec.EntityType, ec.EntityID, relation)
	}

	switch v := raw.(type) {
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("relation %q is not a user ID: %w", relation, err)
		}
		return []uuid.UUID{id}, nil

	case []interface{}:
		ids := make([]uuid.UUID, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				continue
			}
			if id, err := uuid.Parse(s); err == nil {
				ids = append(ids, id)
			}
		}
		return ids, nil

	case map[string]interface{}:
		if s, ok := v["id"].(string); ok {
			if id, err := uuid.Parse(s); err == nil {
				return []uuid.UUID{id}, nil
			}
		}
		return nil, fmt.Errorf("relation %q object has no id field", relation)

	default:
		return nil, fmt.Errorf("relation %q has unsupported shape %T", relation, raw)
	}
}

func toRecipients(users []models.User) []models.Recipient {
	recipients := make([]models.Recipient, 0, len(users))
	for _, u := range users {
		if !u.IsActive {
			continue
		}
		recipients = append(recipients, models.Recipient{ID: u.ID, Name: u.Name, Email: u.Email})
	}
	return recipients
}
