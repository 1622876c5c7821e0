package auth

import (
	"fmt"

	"github.com/benvon/auth-gateway/internal/models"
)

// Authorize compares a resolved user against a route's required role set.
// The active check always runs before the role check: an inactive admin is
// reported as inactive, never as forbidden. An empty required set admits any
// active user. Idempotent; no side effects.
func Authorize(user *models.User, required ...models.Role) error {
	if !user.IsActive {
		return fmt.Errorf("user %s: %w", user.ID, ErrInactive)
	}

	if len(required) == 0 {
		return nil
	}

	for _, role := range required {
		if user.Role == role {
			return nil
		}
	}
	return fmt.Errorf("role %q not in required set: %w", user.Role, ErrForbidden)
}
