package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benvon/auth-gateway/internal/auth"
	"github.com/benvon/auth-gateway/internal/models"
	"github.com/benvon/auth-gateway/internal/request"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var handlerTestSecret = []byte("handler-test-secret-handler-test-sec")

type fakeUserRepo struct {
	users map[uuid.UUID]*models.User

	created     *models.User
	setRole     *models.Role
	setActive   *bool
	deleted     bool
	listErr     error
	lookupErr   error
	mutationErr error
}

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	repo := &fakeUserRepo{users: make(map[uuid.UUID]*models.User)}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user %s: %w", id, sql.ErrNoRows)
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, fmt.Errorf("email %s: %w", email, sql.ErrNoRows)
}

func (f *fakeUserRepo) GetByProviderID(ctx context.Context, providerID string) (*models.User, error) {
	for _, u := range f.users {
		if u.ProviderID != nil && *u.ProviderID == providerID {
			return u, nil
		}
	}
	return nil, fmt.Errorf("provider id %s: %w", providerID, sql.ErrNoRows)
}

func (f *fakeUserRepo) List(ctx context.Context, page, pageSize int) ([]*models.User, int, error) {
	if f.listErr != nil {
		return nil, 0, f.listErr
	}
	users := make([]*models.User, 0, len(f.users))
	for _, u := range f.users {
		users = append(users, u)
	}
	return users, len(users), nil
}

func (f *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	if f.mutationErr != nil {
		return f.mutationErr
	}
	f.created = user
	f.users[user.ID] = user
	return nil
}

func (f *fakeUserRepo) Update(ctx context.Context, user *models.User) error {
	return f.mutationErr
}

func (f *fakeUserRepo) SetRole(ctx context.Context, id uuid.UUID, role models.Role) error {
	if f.mutationErr != nil {
		return f.mutationErr
	}
	if _, ok := f.users[id]; !ok {
		return fmt.Errorf("user %s: %w", id, sql.ErrNoRows)
	}
	f.setRole = &role
	return nil
}

func (f *fakeUserRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	if f.mutationErr != nil {
		return f.mutationErr
	}
	if _, ok := f.users[id]; !ok {
		return fmt.Errorf("user %s: %w", id, sql.ErrNoRows)
	}
	f.setActive = &active
	return nil
}

func (f *fakeUserRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if f.mutationErr != nil {
		return f.mutationErr
	}
	if _, ok := f.users[id]; !ok {
		return fmt.Errorf("user %s: %w", id, sql.ErrNoRows)
	}
	delete(f.users, id)
	f.deleted = true
	return nil
}

type fakeIssuer struct {
	pair *models.TokenPair
	err  error

	issuedFor *models.User
}

func (f *fakeIssuer) IssuePair(ctx context.Context, user *models.User) (*models.TokenPair, error) {
	f.issuedFor = user
	return f.pair, f.err
}

func (f *fakeIssuer) IssueAccess(ctx context.Context, user *models.User) (*models.TokenPair, error) {
	f.issuedFor = user
	return f.pair, f.err
}

type fakeTokenStore struct {
	member  bool
	tracked bool
	err     error

	cleared string
}

func (f *fakeTokenStore) Contains(ctx context.Context, subject string, tokenType models.TokenType, token string) (bool, bool, error) {
	return f.member, f.tracked, f.err
}

func (f *fakeTokenStore) ClearAll(ctx context.Context, subject string) error {
	f.cleared = subject
	return f.err
}

func hashPassword(t *testing.T, password string) *string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	s := string(hash)
	return &s
}

func localTestUser(t *testing.T) *models.User {
	return &models.User{
		ID:           uuid.MustParse("7b0d2c3e-58f0-4f7a-9c36-0d5ad0a3f1be"),
		Email:        "user@example.com",
		PasswordHash: hashPassword(t, "correct-horse-battery"),
		Role:         models.RoleUser,
		IsActive:     true,
	}
}

func testVerifier(t *testing.T) *auth.Verifier {
	t.Helper()
	source, err := auth.NewStaticSecretSource(handlerTestSecret, jwa.HS256)
	if err != nil {
		t.Fatalf("failed to build secret source: %v", err)
	}
	return auth.NewVerifier(source, auth.WithIssuer("auth-gateway"))
}

func signRefreshToken(t *testing.T, user *models.User, tokenType models.TokenType) string {
	t.Helper()

	now := time.Now()
	token, err := jwt.NewBuilder().
		Subject(user.ID.String()).
		Issuer("auth-gateway").
		IssuedAt(now).
		Expiration(now.Add(time.Hour)).
		Claim("email", user.Email).
		Claim("token_type", string(tokenType)).
		Build()
	if err != nil {
		t.Fatalf("failed to build token: %v", err)
	}

	key, err := jwk.FromRaw(handlerTestSecret)
	if err != nil {
		t.Fatalf("failed to build key: %v", err)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, key))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return string(signed)
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request body: %v", err)
	}

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest("POST", path, bytes.NewReader(payload)))
	return rec
}

func TestAuthHandler_Login(t *testing.T) {
	t.Parallel()

	user := localTestUser(t)
	wantPair := &models.TokenPair{AccessToken: "a", RefreshToken: "r", TokenType: "bearer", ExpiresIn: 900}

	tests := []struct {
		name       string
		body       any
		user       *models.User
		wantStatus int
	}{
		{
			name:       "valid credentials",
			body:       map[string]string{"email": user.Email, "password": "correct-horse-battery"},
			user:       user,
			wantStatus: http.StatusOK,
		},
		{
			name:       "wrong password",
			body:       map[string]string{"email": user.Email, "password": "wrong"},
			user:       user,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "unknown email",
			body:       map[string]string{"email": "nobody@example.com", "password": "whatever"},
			user:       user,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "provider-backed account without password",
			body: map[string]string{"email": "sso@example.com", "password": "whatever"},
			user: &models.User{
				ID: uuid.New(), Email: "sso@example.com", Role: models.RoleUser, IsActive: true,
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "inactive user with valid password",
			body: map[string]string{"email": user.Email, "password": "correct-horse-battery"},
			user: &models.User{
				ID: user.ID, Email: user.Email, PasswordHash: user.PasswordHash,
				Role: models.RoleUser, IsActive: false,
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing fields",
			body:       map[string]string{"email": user.Email},
			user:       user,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			issuer := &fakeIssuer{pair: wantPair}
			h := NewAuthHandler(newFakeUserRepo(tt.user), issuer, testVerifier(t), &fakeTokenStore{}, auth.PolicyPermissive, nil, "", zap.NewNop())

			rec := postJSON(t, h.Login, "/api/v1/auth/login", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body: %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}

			if tt.wantStatus == http.StatusOK {
				var resp struct {
					Data models.TokenPair `json:"data"`
				}
				if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if resp.Data.AccessToken != wantPair.AccessToken {
					t.Errorf("access token = %q", resp.Data.AccessToken)
				}
				if issuer.issuedFor != tt.user {
					t.Errorf("tokens issued for %+v", issuer.issuedFor)
				}
			}
		})
	}
}

func TestAuthHandler_Refresh(t *testing.T) {
	t.Parallel()

	user := localTestUser(t)

	tests := []struct {
		name       string
		token      func(t *testing.T) string
		user       *models.User
		store      fakeTokenStore
		policy     auth.EmptySetPolicy
		wantStatus int
	}{
		{
			name:       "valid refresh token",
			token:      func(t *testing.T) string { return signRefreshToken(t, user, models.TokenTypeRefresh) },
			user:       user,
			store:      fakeTokenStore{member: true, tracked: true},
			wantStatus: http.StatusOK,
		},
		{
			name:       "access token presented as refresh",
			token:      func(t *testing.T) string { return signRefreshToken(t, user, models.TokenTypeAccess) },
			user:       user,
			store:      fakeTokenStore{member: true, tracked: true},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "revoked refresh token",
			token:      func(t *testing.T) string { return signRefreshToken(t, user, models.TokenTypeRefresh) },
			user:       user,
			store:      fakeTokenStore{member: false, tracked: true},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "untracked subject passes under permissive",
			token:      func(t *testing.T) string { return signRefreshToken(t, user, models.TokenTypeRefresh) },
			user:       user,
			store:      fakeTokenStore{member: false, tracked: false},
			wantStatus: http.StatusOK,
		},
		{
			// The worker clears every allowlist set on lockout; a strict
			// deployment must not let the refresh token resurrect the subject.
			name:       "untracked subject rejected under strict",
			token:      func(t *testing.T) string { return signRefreshToken(t, user, models.TokenTypeRefresh) },
			user:       user,
			store:      fakeTokenStore{member: false, tracked: false},
			policy:     auth.PolicyStrict,
			wantStatus: http.StatusForbidden,
		},
		{
			name:  "user deleted since issuance",
			token: func(t *testing.T) string { return signRefreshToken(t, user, models.TokenTypeRefresh) },
			user: &models.User{
				ID: uuid.New(), Email: "other@example.com", Role: models.RoleUser, IsActive: true,
			},
			store:      fakeTokenStore{member: true, tracked: true},
			wantStatus: http.StatusForbidden,
		},
		{
			name:  "user deactivated since issuance",
			token: func(t *testing.T) string { return signRefreshToken(t, user, models.TokenTypeRefresh) },
			user: &models.User{
				ID: user.ID, Email: user.Email, Role: models.RoleUser, IsActive: false,
			},
			store:      fakeTokenStore{member: true, tracked: true},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "garbage token",
			token:      func(t *testing.T) string { return "not-a-token" },
			user:       user,
			store:      fakeTokenStore{member: true, tracked: true},
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			issuer := &fakeIssuer{pair: &models.TokenPair{AccessToken: "fresh", TokenType: "bearer"}}
			store := tt.store
			policy := tt.policy
			if policy == "" {
				policy = auth.PolicyPermissive
			}
			h := NewAuthHandler(newFakeUserRepo(tt.user), issuer, testVerifier(t), &store, policy, nil, "", zap.NewNop())

			rec := postJSON(t, h.Refresh, "/api/v1/auth/refresh", map[string]string{"refresh_token": tt.token(t)})
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body: %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestAuthHandler_Logout(t *testing.T) {
	t.Parallel()

	user := localTestUser(t)
	store := &fakeTokenStore{}
	h := NewAuthHandler(newFakeUserRepo(user), &fakeIssuer{}, testVerifier(t), store, auth.PolicyPermissive, nil, "", zap.NewNop())

	r := httptest.NewRequest("POST", "/api/v1/auth/logout", nil)
	r = r.WithContext(request.WithUser(r.Context(), user))
	rec := httptest.NewRecorder()
	h.Logout(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if store.cleared != user.ID.String() {
		t.Errorf("cleared subject = %q, want %q", store.cleared, user.ID.String())
	}
}

func TestAuthHandler_Logout_NoUser(t *testing.T) {
	t.Parallel()

	h := NewAuthHandler(newFakeUserRepo(), &fakeIssuer{}, testVerifier(t), &fakeTokenStore{}, auth.PolicyPermissive, nil, "", zap.NewNop())

	rec := httptest.NewRecorder()
	h.Logout(rec, httptest.NewRequest("POST", "/api/v1/auth/logout", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuthHandler_GetMe(t *testing.T) {
	t.Parallel()

	user := localTestUser(t)
	h := NewAuthHandler(newFakeUserRepo(user), nil, nil, nil, auth.PolicyPermissive, nil, "", zap.NewNop())

	r := httptest.NewRequest("GET", "/api/v1/auth/me", nil)
	r = r.WithContext(request.WithUser(r.Context(), user))
	rec := httptest.NewRecorder()
	h.GetMe(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Data models.User `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Data.Email != user.Email {
		t.Errorf("email = %q", resp.Data.Email)
	}
}

func TestAuthHandler_RouteRegistration(t *testing.T) {
	t.Parallel()

	// Without an issuer there is no local login surface at all.
	h := NewAuthHandler(newFakeUserRepo(), nil, nil, nil, auth.PolicyPermissive, nil, "", zap.NewNop())

	router := mux.NewRouter()
	h.RegisterPublicRoutes(router.PathPrefix("/api/v1/auth").Subrouter())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/auth/login", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("login without issuer: status = %d, want 404", rec.Code)
	}
}
