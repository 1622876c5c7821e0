package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// testKeyPair returns a private signing key and the public JWKS document
// bytes for it, both carrying the given key id.
func testKeyPair(t *testing.T, kid string) (jwk.Key, []byte) {
	t.Helper()

	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}

	private, err := jwk.FromRaw(raw)
	if err != nil {
		t.Fatalf("failed to build private key: %v", err)
	}
	if err := private.Set(jwk.KeyIDKey, kid); err != nil {
		t.Fatalf("failed to set kid: %v", err)
	}

	public, err := private.PublicKey()
	if err != nil {
		t.Fatalf("failed to derive public key: %v", err)
	}

	set := jwk.NewSet()
	if err := set.AddKey(public); err != nil {
		t.Fatalf("failed to add key to set: %v", err)
	}
	doc, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("failed to marshal JWKS: %v", err)
	}

	return private, doc
}

func TestStaticSecretSource(t *testing.T) {
	t.Parallel()

	source := mustSecretSource(t, testSecret)

	if source.Algorithm() != jwa.HS256 {
		t.Errorf("Algorithm() = %v, want HS256", source.Algorithm())
	}

	// Key id is irrelevant for a shared secret.
	for _, kid := range []string{"", "anything"} {
		key, err := source.ResolveKey(context.Background(), kid)
		if err != nil {
			t.Fatalf("ResolveKey(%q) unexpected error: %v", kid, err)
		}
		if key == nil {
			t.Fatalf("ResolveKey(%q) returned nil key", kid)
		}
	}
}

func TestNewStaticSecretSource_EmptySecret(t *testing.T) {
	t.Parallel()

	if _, err := NewStaticSecretSource(nil, jwa.HS256); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestJWKSSource_ResolveKey(t *testing.T) {
	t.Parallel()

	_, doc := testKeyPair(t, "key-1")

	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	}))
	defer srv.Close()

	source := NewJWKSSource(srv.URL, jwa.RS256, time.Hour)

	key, err := source.ResolveKey(context.Background(), "key-1")
	if err != nil {
		t.Fatalf("ResolveKey() unexpected error: %v", err)
	}
	if key.KeyID() != "key-1" {
		t.Errorf("KeyID() = %q, want key-1", key.KeyID())
	}

	// A second lookup must be served from the cache.
	if _, err := source.ResolveKey(context.Background(), "key-1"); err != nil {
		t.Fatalf("cached ResolveKey() unexpected error: %v", err)
	}
	if got := fetches.Load(); got != 1 {
		t.Errorf("fetch count = %d, want 1", got)
	}
}

func TestJWKSSource_UnknownKeyID(t *testing.T) {
	t.Parallel()

	_, doc := testKeyPair(t, "key-1")

	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		_, _ = w.Write(doc)
	}))
	defer srv.Close()

	source := NewJWKSSource(srv.URL, jwa.RS256, time.Hour)

	if _, err := source.ResolveKey(context.Background(), "key-1"); err != nil {
		t.Fatalf("warmup ResolveKey() unexpected error: %v", err)
	}

	// An unknown kid with a fresh cache must not trigger a refetch storm:
	// the forced refetch is rate limited, the stale set is consulted, and
	// the lookup still fails.
	_, err := source.ResolveKey(context.Background(), "forged-kid")
	if !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("ResolveKey(forged) error = %v, want %v", err, ErrUnknownKey)
	}

	for i := 0; i < 5; i++ {
		if _, err := source.ResolveKey(context.Background(), "forged-kid"); !errors.Is(err, ErrUnknownKey) {
			t.Fatalf("ResolveKey(forged) error = %v, want %v", err, ErrUnknownKey)
		}
	}
	if got := fetches.Load(); got != 1 {
		t.Errorf("fetch count = %d, want 1 (refetches must be rate limited)", got)
	}
}

func TestJWKSSource_EndpointDown(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	source := NewJWKSSource(srv.URL, jwa.RS256, time.Hour)

	_, err := source.ResolveKey(context.Background(), "key-1")
	if err == nil {
		t.Fatal("expected error for unreachable key set")
	}
	if !IsInfrastructure(err) {
		t.Errorf("error %v should be an infrastructure failure", err)
	}
	if errors.Is(err, ErrUnknownKey) {
		t.Errorf("endpoint outage must not be reported as an unknown key")
	}
}

func TestVerifier_WithJWKSSource(t *testing.T) {
	t.Parallel()

	private, doc := testKeyPair(t, "key-1")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(doc)
	}))
	defer srv.Close()

	now := time.Now()
	token, err := jwt.NewBuilder().
		Subject("provider-subject-123").
		Issuer("https://issuer.example.com").
		IssuedAt(now).
		Expiration(now.Add(time.Hour)).
		Claim("email", "user@example.com").
		Build()
	if err != nil {
		t.Fatalf("failed to build token: %v", err)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, private))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	source := NewJWKSSource(srv.URL, jwa.RS256, time.Hour)
	verifier := NewVerifier(source, WithIssuer("https://issuer.example.com"))

	claims, err := verifier.Verify(context.Background(), string(signed))
	if err != nil {
		t.Fatalf("Verify() unexpected error: %v", err)
	}
	if claims.Subject != "provider-subject-123" {
		t.Errorf("Subject = %q", claims.Subject)
	}

	// A token signed by a different key with the same kid must not pass.
	impostor, _ := testKeyPair(t, "key-1")
	forged, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, impostor))
	if err != nil {
		t.Fatalf("failed to sign forged token: %v", err)
	}
	if _, err := verifier.Verify(context.Background(), string(forged)); !errors.Is(err, ErrBadSignature) {
		t.Errorf("Verify(forged) error = %v, want %v", err, ErrBadSignature)
	}
}
