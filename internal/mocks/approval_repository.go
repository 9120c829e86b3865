package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/docflowhq/docflow/internal/engine"
	"github.com/docflowhq/docflow/internal/models"
	"github.com/google/uuid"
)

// ApprovalRepository is an in-memory approval decision store for
// testing. Like the SQL repository, pending is the only mutable state.
type ApprovalRepository struct {
	mu        sync.RWMutex
	decisions map[uuid.UUID]models.ApprovalDecision
}

// NewApprovalRepository creates a new in-memory approval repository.
func NewApprovalRepository() *ApprovalRepository {
	return &ApprovalRepository{decisions: make(map[uuid.UUID]models.ApprovalDecision)}
}

// CreateDecisions stores pending slots.
func (r *ApprovalRepository) CreateDecisions(_ context.Context, decisions []models.ApprovalDecision) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range decisions {
		r.decisions[d.ID] = d
	}
	return nil
}

// GetDecision retrieves one slot.
func (r *ApprovalRepository) GetDecision(_ context.Context, id uuid.UUID) (*models.ApprovalDecision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.decisions[id]
	if !ok {
		return nil, fmt.Errorf("%w: decision %s", engine.ErrNotFound, id)
	}
	copied := d
	return &copied, nil
}

// ListDecisionsByStep retrieves every slot of one approval step.
func (r *ApprovalRepository) ListDecisionsByStep(_ context.Context, stepExecutionID uuid.UUID) ([]models.ApprovalDecision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.ApprovalDecision
	for _, d := range r.decisions {
		if d.StepExecutionID == stepExecutionID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

// ListPendingByApprover retrieves an approver's open slots.
func (r *ApprovalRepository) ListPendingByApprover(_ context.Context, approverID uuid.UUID) ([]models.ApprovalDecision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.ApprovalDecision
	for _, d := range r.decisions {
		if d.ApproverID == approverID && d.Status == models.ApprovalStatusPending {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

// ListOverdueDecisions retrieves pending slots past their expiry.
func (r *ApprovalRepository) ListOverdueDecisions(_ context.Context, before time.Time, limit int) ([]models.ApprovalDecision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.ApprovalDecision
	for _, d := range r.decisions {
		if d.Status != models.ApprovalStatusPending || d.ExpiresAt == nil || d.ExpiresAt.After(before) {
			continue
		}
		out = append(out, d)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// UpdateDecision overwrites a slot if it is still pending.
func (r *ApprovalRepository) UpdateDecision(_ context.Context, d *models.ApprovalDecision) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.decisions[d.ID]
	if !ok {
		return fmt.Errorf("%w: decision %s", engine.ErrNotFound, d.ID)
	}
	if stored.Status != models.ApprovalStatusPending {
		return fmt.Errorf("%w: decision %s not pending", engine.ErrNotFound, d.ID)
	}
	r.decisions[d.ID] = *d
	return nil
}

// UserDirectory is an in-memory user directory for testing.
type UserDirectory struct {
	mu    sync.RWMutex
	users map[uuid.UUID]models.User
}

// NewUserDirectory creates a new in-memory user directory.
func NewUserDirectory(users ...models.User) *UserDirectory {
	d := &UserDirectory{users: make(map[uuid.UUID]models.User)}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// AddUser registers a user.
func (d *UserDirectory) AddUser(user models.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.ID] = user
}

// GetUser retrieves one user.
func (d *UserDirectory) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", engine.ErrNotFound, id)
	}
	copied := u
	return &copied, nil
}

// ListUsersByRoles retrieves active users holding any of the roles.
func (d *UserDirectory) ListUsersByRoles(_ context.Context, roles []string) ([]models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []models.User
	for _, u := range d.users {
		if !u.IsActive {
			continue
		}
		for _, want := range roles {
			matched := false
			for _, have := range u.Roles {
				if have == want {
					out = append(out, u)
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
