package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/benvon/auth-gateway/internal/models"
	"github.com/google/uuid"
)

// UserStore is the read-only slice of the user repository the resolver needs.
// Implementations signal a missing row with a wrapped sql.ErrNoRows.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByProviderID(ctx context.Context, providerID string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// ProfileFetcher retrieves the canonical profile email for a credential from
// the identity provider. Needed when local users are only indexed by email
// while the token carries an opaque provider subject id.
type ProfileFetcher interface {
	FetchEmail(ctx context.Context, credential string) (string, error)
}

// Resolver maps verified claims to a local user record.
type Resolver struct {
	users    UserStore
	profiles ProfileFetcher // optional
}

// NewResolver creates a resolver over the user store. profiles may be nil.
func NewResolver(users UserStore, profiles ProfileFetcher) *Resolver {
	return &Resolver{users: users, profiles: profiles}
}

// Resolve finds the local user for the claims' subject. Locally issued
// tokens and delegated sessions carry the local user id as subject; provider
// tokens carry an opaque provider id, falling back to the email claim and
// finally to the canonical provider profile if a fetcher is configured.
// Returns ErrUnknownUser when all applicable lookups miss.
func (r *Resolver) Resolve(ctx context.Context, claims *models.Claims, credential string) (*models.User, error) {
	if id, err := uuid.Parse(claims.Subject); err == nil {
		user, err := r.users.GetByID(ctx, id)
		if err == nil {
			return user, nil
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("no local user with id %s: %w", id, ErrUnknownUser)
		}
		return nil, Infra("user lookup by id", err)
	}

	user, err := r.users.GetByProviderID(ctx, claims.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, Infra("user lookup by provider id", err)
	}

	email := claims.Email
	if email == "" && r.profiles != nil {
		email, err = r.profiles.FetchEmail(ctx, credential)
		if err != nil {
			return nil, Infra("fetch canonical profile", err)
		}
	}
	if email == "" {
		return nil, fmt.Errorf("no local user for subject %s: %w", claims.Subject, ErrUnknownUser)
	}

	user, err = r.users.GetByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no local user for subject %s: %w", claims.Subject, ErrUnknownUser)
	}
	return nil, Infra("user lookup by email", err)
}
