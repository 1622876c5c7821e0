package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/benvon/auth-gateway/internal/models"
)

// LivenessChecker confirms a signature-valid credential has not been
// invalidated since issuance. A nil return means live; ErrRevoked means the
// credential is dead; an InfrastructureError means the check itself failed.
type LivenessChecker interface {
	IsLive(ctx context.Context, claims *models.Claims, credential string) error
}

// TokenSet is the read side of the revocation allowlist: the set of tokens
// still considered valid for a subject and token type. Absence of a token in
// a tracked, non-empty set implies revocation.
type TokenSet interface {
	Contains(ctx context.Context, subject string, tokenType models.TokenType, token string) (member bool, tracked bool, err error)
}

// EmptySetPolicy decides what an untracked subject (no allowlist at all)
// means. Permissive passes: revocation is unenforced until the first login
// registers a set, which avoids lockout on a cold cache. Strict rejects.
type EmptySetPolicy string

const (
	PolicyPermissive EmptySetPolicy = "permissive"
	PolicyStrict     EmptySetPolicy = "strict"
)

// AllowlistChecker checks credentials against the token allowlist. O(1)
// cache lookups, no network beyond the cache round trip.
type AllowlistChecker struct {
	set    TokenSet
	policy EmptySetPolicy
}

// NewAllowlistChecker creates an allowlist-backed liveness checker.
func NewAllowlistChecker(set TokenSet, policy EmptySetPolicy) *AllowlistChecker {
	if policy == "" {
		policy = PolicyPermissive
	}
	return &AllowlistChecker{set: set, policy: policy}
}

// IsLive checks membership of the credential in the subject's allowlist.
func (c *AllowlistChecker) IsLive(ctx context.Context, claims *models.Claims, credential string) error {
	tokenType := claims.TokenType
	if tokenType == "" {
		tokenType = models.TokenTypeAccess
	}

	member, tracked, err := c.set.Contains(ctx, claims.Subject, tokenType, credential)
	if err != nil {
		return Infra("allowlist lookup", err)
	}

	if !tracked {
		if c.policy == PolicyStrict {
			return fmt.Errorf("subject %s has no tracked allowlist: %w", claims.Subject, ErrRevoked)
		}
		return nil
	}

	if !member {
		return fmt.Errorf("token not in allowlist for subject %s: %w", claims.Subject, ErrRevoked)
	}
	return nil
}

// ProviderChecker asks the identity provider directly whether the credential
// is still honored, by presenting it to the provider's userinfo endpoint.
// Tokens stay valid at the signature level for a while after a provider-side
// disable or delete; this live check closes that window at the cost of one
// network round trip per request.
type ProviderChecker struct {
	userInfoURL string
	client      *http.Client
}

// NewProviderChecker creates a provider-live-check liveness checker.
func NewProviderChecker(userInfoURL string) *ProviderChecker {
	return &ProviderChecker{
		userInfoURL: userInfoURL,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

// IsLive presents the credential to the provider. A provider-side
// unauthorized response means revoked; any other failure is infrastructure.
func (c *ProviderChecker) IsLive(ctx context.Context, claims *models.Claims, credential string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return Infra("build userinfo request", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.client.Do(req)
	if err != nil {
		return Infra("userinfo call", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("provider no longer honors credential (status %d): %w", resp.StatusCode, ErrRevoked)
	default:
		return Infra("userinfo call", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
}

// NoopChecker passes every credential. Used when the active mode has no
// separate revocation source (the delegate performs its own).
type NoopChecker struct{}

// IsLive always reports live.
func (NoopChecker) IsLive(ctx context.Context, claims *models.Claims, credential string) error {
	return nil
}
