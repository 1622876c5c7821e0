package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/benvon/auth-gateway/internal/auth"
	"github.com/benvon/auth-gateway/internal/models"
	"github.com/redis/go-redis/v9"
)

// Store keeps the per-subject token allowlist in Redis. Each subject has one
// set per token type; a token outside its subject's tracked set is revoked.
// Sets expire with the longest-lived token they hold, so abandoned subjects
// fall out of the cache on their own.
type Store struct {
	client *redis.Client
}

// NewStore creates an allowlist store over the given Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

var _ auth.TokenSet = (*Store)(nil)

func allowlistKey(subject string, tokenType models.TokenType) string {
	return fmt.Sprintf("user:%s:%s", subject, tokenType)
}

// Add registers a freshly issued token in the subject's allowlist and
// extends the set's expiry to at least the token's lifetime.
func (s *Store) Add(ctx context.Context, subject string, tokenType models.TokenType, token string, ttl time.Duration) error {
	key := allowlistKey(subject, tokenType)

	if err := s.client.SAdd(ctx, key, token).Err(); err != nil {
		return fmt.Errorf("failed to register token: %w", err)
	}
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set allowlist expiry: %w", err)
	}
	return nil
}

// Contains reports whether the token is a member of the subject's allowlist,
// and whether the subject has a tracked allowlist at all.
func (s *Store) Contains(ctx context.Context, subject string, tokenType models.TokenType, token string) (bool, bool, error) {
	key := allowlistKey(subject, tokenType)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, false, fmt.Errorf("failed to check allowlist presence: %w", err)
	}
	if exists == 0 {
		return false, false, nil
	}

	member, err := s.client.SIsMember(ctx, key, token).Result()
	if err != nil {
		return false, true, fmt.Errorf("failed to check allowlist membership: %w", err)
	}
	return member, true, nil
}

// Clear drops the subject's allowlist for one token type, revoking every
// outstanding token of that type.
func (s *Store) Clear(ctx context.Context, subject string, tokenType models.TokenType) error {
	if err := s.client.Del(ctx, allowlistKey(subject, tokenType)).Err(); err != nil {
		return fmt.Errorf("failed to clear allowlist: %w", err)
	}
	return nil
}

// ClearAll drops every allowlist the subject has, revoking all outstanding
// tokens regardless of type.
func (s *Store) ClearAll(ctx context.Context, subject string) error {
	keys := []string{
		allowlistKey(subject, models.TokenTypeAccess),
		allowlistKey(subject, models.TokenTypeRefresh),
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear allowlists: %w", err)
	}
	return nil
}
