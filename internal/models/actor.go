package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Actor is the authenticated principal performing an operation:
// a user identity plus the roles and permissions resolved for it.
type Actor struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email,omitempty"`
	Roles       []string  `json:"roles,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
}

// HasPermission reports whether the actor holds the named permission.
func (a *Actor) HasPermission(name string) bool {
	for _, p := range a.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the actor holds at least one of the roles.
func (a *Actor) HasAnyRole(names ...string) bool {
	for _, want := range names {
		for _, have := range a.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// User is a directory entry used for recipient and approver resolution.
type User struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	Name      string         `json:"name" db:"name"`
	Email     string         `json:"email" db:"email"`
	Roles     pq.StringArray `json:"roles,omitempty" db:"roles"`
	IsActive  bool           `json:"is_active" db:"is_active"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// Recipient is a resolved notification or approval target.
type Recipient struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

// RenderedMessage is the output of template rendering, ready for dispatch.
type RenderedMessage struct {
	TemplateKey string `json:"template_key"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
}
