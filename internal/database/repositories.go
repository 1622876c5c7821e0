package database

import (
	"context"

	"github.com/benvon/auth-gateway/internal/models"
	"github.com/google/uuid"
)

// UserRepositoryInterface defines the interface for user repository operations
// This interface enables better testability by allowing mock implementations
type UserRepositoryInterface interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByProviderID(ctx context.Context, providerID string) (*models.User, error)
	List(ctx context.Context, page, pageSize int) ([]*models.User, int, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	SetRole(ctx context.Context, id uuid.UUID, role models.Role) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// TrustConfigRepositoryInterface defines the interface for trust config repository operations
type TrustConfigRepositoryInterface interface {
	GetByProvider(ctx context.Context, provider string) (*models.TrustConfig, error)
	GetAll(ctx context.Context) ([]*models.TrustConfig, error)
}

// Ensure concrete types implement the interfaces
var (
	_ UserRepositoryInterface        = (*UserRepository)(nil)
	_ TrustConfigRepositoryInterface = (*TrustConfigRepository)(nil)
)
