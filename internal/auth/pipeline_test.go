package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/benvon/auth-gateway/internal/models"
	"github.com/google/uuid"
)

type fakeDelegate struct {
	subject string
	err     error
}

func (f *fakeDelegate) VerifySession(ctx context.Context, credential string) (string, error) {
	return f.subject, f.err
}

// localPipeline builds a local-mode pipeline over a static secret, an
// allowlist that accepts everything, and a store with one active user.
func localPipeline(t *testing.T, users *fakeUserStore, set TokenSet) *Pipeline {
	t.Helper()

	if set == nil {
		set = &fakeTokenSet{member: true, tracked: true}
	}

	pipeline, err := NewPipeline(PipelineConfig{
		Mode:     ModeLocal,
		Verifier: NewVerifier(mustSecretSource(t, testSecret), WithIssuer("auth-gateway")),
		Liveness: NewAllowlistChecker(set, PolicyPermissive),
		Resolver: NewResolver(users, nil),
	})
	if err != nil {
		t.Fatalf("NewPipeline() failed: %v", err)
	}
	return pipeline
}

func testUserStore(user *models.User) *fakeUserStore {
	return &fakeUserStore{byID: map[uuid.UUID]*models.User{user.ID: user}}
}

func TestPipeline_Authenticate_Local(t *testing.T) {
	t.Parallel()

	user := &models.User{
		ID:       uuid.MustParse("7b0d2c3e-58f0-4f7a-9c36-0d5ad0a3f1be"),
		Email:    "user@example.com",
		Role:     models.RoleUser,
		IsActive: true,
	}
	pipeline := localPipeline(t, testUserStore(user), nil)

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+signTestToken(t, testSecret, nil))

	result := pipeline.Authenticate(r)
	if !result.Allowed {
		t.Fatalf("Authenticate() denied: reason=%s err=%v", result.Reason, result.Err)
	}
	if result.User != user {
		t.Errorf("resolved user = %+v", result.User)
	}
}

func TestPipeline_Authenticate_Denials(t *testing.T) {
	t.Parallel()

	activeUser := &models.User{
		ID:       uuid.MustParse("7b0d2c3e-58f0-4f7a-9c36-0d5ad0a3f1be"),
		Role:     models.RoleUser,
		IsActive: true,
	}
	inactiveAdmin := &models.User{
		ID:       uuid.MustParse("7b0d2c3e-58f0-4f7a-9c36-0d5ad0a3f1be"),
		Role:     models.RoleAdmin,
		IsActive: false,
	}

	tests := []struct {
		name       string
		user       *models.User
		set        TokenSet
		authHeader func(t *testing.T) string
		required   []models.Role
		wantReason Reason
	}{
		{
			name:       "no credential",
			user:       activeUser,
			authHeader: func(t *testing.T) string { return "" },
			wantReason: ReasonMissingCredential,
		},
		{
			name:       "wrong signing key",
			user:       activeUser,
			authHeader: func(t *testing.T) string { return "Bearer " + signTestToken(t, otherTestSecret, nil) },
			wantReason: ReasonBadSignature,
		},
		{
			name: "revoked token",
			user: activeUser,
			set:  &fakeTokenSet{member: false, tracked: true},
			authHeader: func(t *testing.T) string {
				return "Bearer " + signTestToken(t, testSecret, nil)
			},
			wantReason: ReasonRevoked,
		},
		{
			name:       "no matching local user",
			user:       &models.User{ID: uuid.New(), IsActive: true},
			authHeader: func(t *testing.T) string { return "Bearer " + signTestToken(t, testSecret, nil) },
			wantReason: ReasonUnknownUser,
		},
		{
			name:       "inactive user reported before role",
			user:       inactiveAdmin,
			authHeader: func(t *testing.T) string { return "Bearer " + signTestToken(t, testSecret, nil) },
			required:   []models.Role{models.RoleAdmin},
			wantReason: ReasonInactive,
		},
		{
			name:       "insufficient role",
			user:       activeUser,
			authHeader: func(t *testing.T) string { return "Bearer " + signTestToken(t, testSecret, nil) },
			required:   []models.Role{models.RoleAdmin},
			wantReason: ReasonForbidden,
		},
		{
			name: "allowlist outage",
			user: activeUser,
			set:  &fakeTokenSet{err: errors.New("connection refused")},
			authHeader: func(t *testing.T) string {
				return "Bearer " + signTestToken(t, testSecret, nil)
			},
			wantReason: ReasonInfrastructure,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			pipeline := localPipeline(t, testUserStore(tt.user), tt.set)

			r := httptest.NewRequest("GET", "/", nil)
			if header := tt.authHeader(t); header != "" {
				r.Header.Set("Authorization", header)
			}

			result := pipeline.Authenticate(r, tt.required...)
			if result.Allowed {
				t.Fatal("Authenticate() allowed, want denial")
			}
			if result.Reason != tt.wantReason {
				t.Errorf("Reason = %s, want %s (err: %v)", result.Reason, tt.wantReason, result.Err)
			}
			if result.Err == nil {
				t.Error("denied result carries no error")
			}
		})
	}
}

func TestPipeline_Authenticate_Delegate(t *testing.T) {
	t.Parallel()

	user := &models.User{ID: uuid.New(), Role: models.RoleUser, IsActive: true}

	pipeline, err := NewPipeline(PipelineConfig{
		Mode:       ModeDelegate,
		CookieName: "sAccessToken",
		Delegate:   &fakeDelegate{subject: user.ID.String()},
		Resolver:   NewResolver(testUserStore(user), nil),
	})
	if err != nil {
		t.Fatalf("NewPipeline() failed: %v", err)
	}

	// Delegate sessions arrive as a cookie, not a bearer header.
	r := httptest.NewRequest("GET", "/", nil)
	r.AddCookie(&http.Cookie{Name: "sAccessToken", Value: "session-token"})

	result := pipeline.Authenticate(r)
	if !result.Allowed {
		t.Fatalf("Authenticate() denied: reason=%s err=%v", result.Reason, result.Err)
	}
	if result.User != user {
		t.Errorf("resolved user = %+v", result.User)
	}
}

func TestPipeline_Authenticate_DelegateRejects(t *testing.T) {
	t.Parallel()

	pipeline, err := NewPipeline(PipelineConfig{
		Mode:       ModeDelegate,
		CookieName: "sAccessToken",
		Delegate:   &fakeDelegate{err: ErrRevoked},
		Resolver:   NewResolver(&fakeUserStore{}, nil),
	})
	if err != nil {
		t.Fatalf("NewPipeline() failed: %v", err)
	}

	r := httptest.NewRequest("GET", "/", nil)
	r.AddCookie(&http.Cookie{Name: "sAccessToken", Value: "session-token"})

	result := pipeline.Authenticate(r)
	if result.Allowed {
		t.Fatal("Authenticate() allowed a rejected session")
	}
	if result.Reason != ReasonRevoked {
		t.Errorf("Reason = %s, want %s", result.Reason, ReasonRevoked)
	}
}

func TestNewPipeline_Validation(t *testing.T) {
	t.Parallel()

	resolver := NewResolver(&fakeUserStore{}, nil)
	verifier := NewVerifier(mustSecretSource(t, testSecret))
	liveness := NoopChecker{}

	tests := []struct {
		name string
		cfg  PipelineConfig
	}{
		{
			name: "missing resolver",
			cfg:  PipelineConfig{Mode: ModeLocal, Verifier: verifier, Liveness: liveness},
		},
		{
			name: "local without verifier",
			cfg:  PipelineConfig{Mode: ModeLocal, Liveness: liveness, Resolver: resolver},
		},
		{
			name: "local without liveness checker",
			cfg:  PipelineConfig{Mode: ModeLocal, Verifier: verifier, Resolver: resolver},
		},
		{
			name: "oidc without verifier",
			cfg:  PipelineConfig{Mode: ModeOIDC, Liveness: liveness, Resolver: resolver},
		},
		{
			name: "delegate without delegate",
			cfg:  PipelineConfig{Mode: ModeDelegate, Resolver: resolver},
		},
		{
			name: "unknown mode",
			cfg:  PipelineConfig{Mode: "cognito", Verifier: verifier, Liveness: liveness, Resolver: resolver},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := NewPipeline(tt.cfg); err == nil {
				t.Error("NewPipeline() accepted an incomplete configuration")
			}
		})
	}

	valid, err := NewPipeline(PipelineConfig{
		Mode:     ModeLocal,
		Verifier: verifier,
		Liveness: liveness,
		Resolver: resolver,
	})
	if err != nil {
		t.Fatalf("NewPipeline() rejected a valid configuration: %v", err)
	}
	if valid.Mode() != ModeLocal {
		t.Errorf("Mode() = %s, want %s", valid.Mode(), ModeLocal)
	}
}
