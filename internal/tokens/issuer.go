package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/benvon/auth-gateway/internal/models"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Issuer mints locally signed tokens and registers them in the allowlist.
// Only the local auth mode issues tokens; the other modes verify credentials
// minted elsewhere.
type Issuer struct {
	key        jwk.Key
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	store      *Store
	now        func() time.Time
}

// NewIssuer creates an issuer signing with the shared HMAC secret.
func NewIssuer(secret []byte, issuer string, accessTTL, refreshTTL time.Duration, store *Store) (*Issuer, error) {
	key, err := jwk.FromRaw(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to build signing key: %w", err)
	}
	return &Issuer{
		key:        key,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		store:      store,
		now:        time.Now,
	}, nil
}

// IssuePair mints an access and a refresh token for the user and registers
// both in the allowlist so they survive the liveness check.
func (i *Issuer) IssuePair(ctx context.Context, user *models.User) (*models.TokenPair, error) {
	access, err := i.mint(ctx, user, models.TokenTypeAccess, i.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := i.mint(ctx, user, models.TokenTypeRefresh, i.refreshTTL)
	if err != nil {
		return nil, err
	}

	return &models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(i.accessTTL.Seconds()),
	}, nil
}

// IssueAccess mints a fresh access token only, used on refresh. The refresh
// token presented by the client stays valid.
func (i *Issuer) IssueAccess(ctx context.Context, user *models.User) (*models.TokenPair, error) {
	access, err := i.mint(ctx, user, models.TokenTypeAccess, i.accessTTL)
	if err != nil {
		return nil, err
	}
	return &models.TokenPair{
		AccessToken: access,
		TokenType:   "bearer",
		ExpiresIn:   int64(i.accessTTL.Seconds()),
	}, nil
}

func (i *Issuer) mint(ctx context.Context, user *models.User, tokenType models.TokenType, ttl time.Duration) (string, error) {
	now := i.now()

	builder := jwt.NewBuilder().
		Subject(user.ID.String()).
		Issuer(i.issuer).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Claim("email", user.Email).
		Claim("role", string(user.Role)).
		Claim("token_type", string(tokenType))

	token, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("failed to build %s claims: %w", tokenType, err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, i.key))
	if err != nil {
		return "", fmt.Errorf("failed to sign %s: %w", tokenType, err)
	}

	if i.store != nil {
		if err := i.store.Add(ctx, user.ID.String(), tokenType, string(signed), ttl); err != nil {
			return "", err
		}
	}
	return string(signed), nil
}
