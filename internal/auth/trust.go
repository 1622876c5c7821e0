package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// TrustSource supplies the verification material for tokens. The signature
// algorithm always comes from configuration, never from the token header.
type TrustSource interface {
	// ResolveKey returns the key for the given key id. Implementations return
	// ErrUnknownKey when the id is not in the set and an InfrastructureError
	// when the set cannot be obtained at all.
	ResolveKey(ctx context.Context, kid string) (jwk.Key, error)
	// Algorithm returns the pinned signature algorithm tokens must carry.
	Algorithm() jwa.SignatureAlgorithm
}

// StaticSecretSource holds a fixed shared secret for locally issued tokens.
type StaticSecretSource struct {
	key jwk.Key
	alg jwa.SignatureAlgorithm
}

// NewStaticSecretSource creates a trust source from a shared secret.
func NewStaticSecretSource(secret []byte, alg jwa.SignatureAlgorithm) (*StaticSecretSource, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("secret must not be empty")
	}
	key, err := jwk.FromRaw(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to build key from secret: %w", err)
	}
	return &StaticSecretSource{key: key, alg: alg}, nil
}

// ResolveKey returns the shared secret regardless of key id.
func (s *StaticSecretSource) ResolveKey(ctx context.Context, kid string) (jwk.Key, error) {
	return s.key, nil
}

// Algorithm returns the configured signature algorithm.
func (s *StaticSecretSource) Algorithm() jwa.SignatureAlgorithm {
	return s.alg
}

const (
	// DefaultJWKSCacheTTL is how long a fetched key set is served before a
	// background refresh.
	DefaultJWKSCacheTTL = 1 * time.Hour
	// minRefetchInterval bounds forced refetches on key-id misses so forged
	// kids cannot be used to hammer the provider.
	minRefetchInterval = 1 * time.Minute
)

// JWKSSource fetches a remote JSON Web Key Set and caches it with a TTL.
// An unknown key id forces one refetch (rate-limited) before failing, so the
// process survives provider key rotation without a restart. Safe for
// concurrent use: reads take the read lock, refreshes are serialized.
type JWKSSource struct {
	url    string
	alg    jwa.SignatureAlgorithm
	client *http.Client
	ttl    time.Duration

	mu        sync.RWMutex
	keys      jwk.Set
	expires   time.Time
	lastFetch time.Time
}

// NewJWKSSource creates a JWKS-backed trust source for the given URL.
func NewJWKSSource(jwksURL string, alg jwa.SignatureAlgorithm, ttl time.Duration) *JWKSSource {
	if ttl <= 0 {
		ttl = DefaultJWKSCacheTTL
	}
	return &JWKSSource{
		url:    jwksURL,
		alg:    alg,
		client: &http.Client{Timeout: 10 * time.Second},
		ttl:    ttl,
	}
}

// Algorithm returns the pinned asymmetric algorithm for provider tokens.
func (s *JWKSSource) Algorithm() jwa.SignatureAlgorithm {
	return s.alg
}

// ResolveKey returns the key with the given id, refreshing the cached set
// when it is stale or the id is missing.
func (s *JWKSSource) ResolveKey(ctx context.Context, kid string) (jwk.Key, error) {
	s.mu.RLock()
	keys, fresh := s.keys, time.Now().Before(s.expires)
	s.mu.RUnlock()

	if keys != nil && fresh {
		if key, ok := keys.LookupKeyID(kid); ok {
			return key, nil
		}
		// Unknown kid with a fresh cache: the provider may have rotated keys
		// early. Fall through to a forced, rate-limited refetch.
	}

	keys, err := s.refresh(ctx)
	if err != nil {
		if keys == nil {
			return nil, err
		}
		// A stale set is still usable when the refetch was rate-limited.
	}

	if key, ok := keys.LookupKeyID(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("no key for kid %q: %w", kid, ErrUnknownKey)
}

// refresh fetches the key set unless a fetch happened within
// minRefetchInterval, in which case the current set is returned unchanged.
func (s *JWKSSource) refresh(ctx context.Context) (jwk.Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keys != nil && time.Since(s.lastFetch) < minRefetchInterval {
		return s.keys, fmt.Errorf("jwks refetch rate limited")
	}

	keys, err := s.fetch(ctx)
	s.lastFetch = time.Now()
	if err != nil {
		// Keep serving the previous set, if any, but surface the failure.
		return s.keys, Infra("fetch jwks", err)
	}

	s.keys = keys
	s.expires = time.Now().Add(s.ttl)
	return keys, nil
}

func (s *JWKSSource) fetch(ctx context.Context) (jwk.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read JWKS response: %w", err)
	}

	keys, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}

	return keys, nil
}
