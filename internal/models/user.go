package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a local user account resolved during authentication.
// The authentication pipeline never creates or deletes users; the admin
// endpoints do.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	ProviderID   *string   `json:"provider_id,omitempty"`
	PasswordHash *string   `json:"-"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
