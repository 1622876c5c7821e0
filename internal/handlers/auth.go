package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/benvon/auth-gateway/internal/auth"
	"github.com/benvon/auth-gateway/internal/database"
	"github.com/benvon/auth-gateway/internal/models"
	"github.com/benvon/auth-gateway/internal/request"
	"github.com/benvon/auth-gateway/internal/services/provider"
	"github.com/benvon/auth-gateway/internal/validation"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// TokenIssuer mints token pairs for local logins
// This interface enables better testability by allowing mock implementations
type TokenIssuer interface {
	IssuePair(ctx context.Context, user *models.User) (*models.TokenPair, error)
	IssueAccess(ctx context.Context, user *models.User) (*models.TokenPair, error)
}

// TokenStore is the slice of the allowlist store the handlers need
type TokenStore interface {
	Contains(ctx context.Context, subject string, tokenType models.TokenType, token string) (member bool, tracked bool, err error)
	ClearAll(ctx context.Context, subject string) error
}

// AuthHandler handles authentication-related requests
type AuthHandler struct {
	userRepo      database.UserRepositoryInterface
	issuer        TokenIssuer
	verifier      *auth.Verifier
	store         TokenStore
	liveness      *auth.AllowlistChecker
	trustProvider *provider.Provider
	providerName  string
	logger        *zap.Logger
}

// NewAuthHandler creates a new auth handler. issuer, verifier, and store are
// only set in local mode; trustProvider only when a trust config exists.
// policy is the empty-set policy the refresh endpoint applies, the same one
// the pipeline's allowlist checker is built with.
func NewAuthHandler(
	userRepo database.UserRepositoryInterface,
	issuer TokenIssuer,
	verifier *auth.Verifier,
	store TokenStore,
	policy auth.EmptySetPolicy,
	trustProvider *provider.Provider,
	providerName string,
	logger *zap.Logger,
) *AuthHandler {
	h := &AuthHandler{
		userRepo:      userRepo,
		issuer:        issuer,
		verifier:      verifier,
		store:         store,
		trustProvider: trustProvider,
		providerName:  providerName,
		logger:        logger,
	}
	if store != nil {
		h.liveness = auth.NewAllowlistChecker(store, policy)
	}
	return h
}

// RegisterPublicRoutes registers the unauthenticated auth routes.
// The router should already have the /api/v1/auth prefix.
func (h *AuthHandler) RegisterPublicRoutes(r *mux.Router) {
	if h.issuer != nil {
		r.HandleFunc("/login", h.Login).Methods("POST")
		r.HandleFunc("/refresh", h.Refresh).Methods("POST")
	}
	if h.trustProvider != nil {
		r.HandleFunc("/provider/login", h.GetProviderLogin).Methods("GET")
		r.HandleFunc("/provider/exchange", h.ExchangeProviderCode).Methods("POST")
	}
}

// RegisterProtectedRoutes registers auth routes that require authentication.
func (h *AuthHandler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/me", h.GetMe).Methods("GET")
	if h.store != nil {
		r.HandleFunc("/logout", h.Logout).Methods("POST")
	}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Login verifies an email/password pair and issues a token pair. Wrong
// email and wrong password produce the same response so the endpoint
// cannot be used to probe for accounts.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Invalid request", "Request body must be valid JSON")
		return
	}
	if err := validation.Validate.Struct(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Invalid request", "Email and password are required")
		return
	}

	user, err := h.userRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		if database.IsNotFound(err) {
			respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "Incorrect email or password")
			return
		}
		h.logger.Error("Failed to look up user for login", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal error", "Failed to process login")
		return
	}

	if user.PasswordHash == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "Incorrect email or password")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(req.Password)); err != nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "Incorrect email or password")
		return
	}

	if !user.IsActive {
		respondJSONError(w, http.StatusBadRequest, "Inactive user", "Inactive user")
		return
	}

	pair, err := h.issuer.IssuePair(ctx, user)
	if err != nil {
		h.logger.Error("Failed to issue tokens", zap.Error(err), zap.String("user_id", user.ID.String()))
		respondJSONError(w, http.StatusInternalServerError, "Internal error", "Failed to issue tokens")
		return
	}

	h.logger.Info("User logged in", zap.String("user_id", user.ID.String()))
	respondJSON(w, http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// Refresh mints a fresh access token from a valid refresh token. The refresh
// token must verify, carry the refresh token type, and still be in the
// allowlist. The presented refresh token stays valid.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Invalid request", "Request body must be valid JSON")
		return
	}
	if err := validation.Validate.Struct(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Invalid request", "refresh_token is required")
		return
	}

	claims, err := h.verifier.Verify(ctx, req.RefreshToken)
	if err != nil {
		if auth.IsInfrastructure(err) {
			h.logger.Error("Refresh token verification failed", zap.Error(err))
			respondJSONError(w, http.StatusInternalServerError, "Internal error", "Failed to verify token")
			return
		}
		respondJSONError(w, http.StatusForbidden, "Forbidden", "Could not validate credentials")
		return
	}

	if claims.TokenType != models.TokenTypeRefresh {
		respondJSONError(w, http.StatusForbidden, "Forbidden", "Could not validate credentials")
		return
	}

	if err := h.liveness.IsLive(ctx, claims, req.RefreshToken); err != nil {
		if auth.IsInfrastructure(err) {
			h.logger.Error("Refresh allowlist lookup failed", zap.Error(err))
			respondJSONError(w, http.StatusInternalServerError, "Internal error", "Failed to verify token")
			return
		}
		respondJSONError(w, http.StatusForbidden, "Forbidden", "Could not validate credentials")
		return
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		respondJSONError(w, http.StatusForbidden, "Forbidden", "Could not validate credentials")
		return
	}
	user, err := h.userRepo.GetByID(ctx, userID)
	if err != nil {
		if database.IsNotFound(err) {
			respondJSONError(w, http.StatusForbidden, "Forbidden", "Could not validate credentials")
			return
		}
		h.logger.Error("Failed to look up user for refresh", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal error", "Failed to process refresh")
		return
	}
	if !user.IsActive {
		respondJSONError(w, http.StatusForbidden, "Forbidden", "Could not validate credentials")
		return
	}

	pair, err := h.issuer.IssueAccess(ctx, user)
	if err != nil {
		h.logger.Error("Failed to issue access token", zap.Error(err), zap.String("user_id", user.ID.String()))
		respondJSONError(w, http.StatusInternalServerError, "Internal error", "Failed to issue tokens")
		return
	}

	respondJSON(w, http.StatusOK, pair)
}

// Logout revokes every outstanding token for the authenticated user.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user := request.UserFromContext(r)
	if user == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "User not found in context")
		return
	}

	if err := h.store.ClearAll(r.Context(), user.ID.String()); err != nil {
		h.logger.Error("Failed to clear allowlist on logout", zap.Error(err), zap.String("user_id", user.ID.String()))
		respondJSONError(w, http.StatusInternalServerError, "Internal error", "Failed to log out")
		return
	}

	h.logger.Info("User logged out", zap.String("user_id", user.ID.String()))
	respondJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// GetMe returns current user information
func (h *AuthHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user := request.UserFromContext(r)
	if user == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "User not found in context")
		return
	}

	respondJSON(w, http.StatusOK, user)
}

type exchangeCodeRequest struct {
	Code string `json:"code" validate:"required"`
}

// ExchangeProviderCode trades an authorization code from the hosted login for
// the provider's token set. The tokens come straight from the provider; the
// pipeline verifies them on subsequent requests like any other credential.
func (h *AuthHandler) ExchangeProviderCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req exchangeCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Invalid request", "Request body must be valid JSON")
		return
	}
	if err := validation.Validate.Struct(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Invalid request", "code is required")
		return
	}

	trustConfig, err := h.trustProvider.GetConfig(ctx, h.providerName)
	if err != nil {
		if database.IsNotFound(err) {
			respondJSONError(w, http.StatusNotFound, "Not found", "No trust configuration for provider")
			return
		}
		h.logger.Error("Failed to get trust configuration", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal error", "Failed to exchange code")
		return
	}

	token, err := provider.NewClient(trustConfig).ExchangeCode(ctx, req.Code)
	if err != nil {
		h.logger.Info("Authorization code exchange rejected", zap.Error(err))
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "Could not validate credentials")
		return
	}

	pair := &models.TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    "bearer",
	}
	if !token.Expiry.IsZero() {
		pair.ExpiresIn = int64(time.Until(token.Expiry).Seconds())
	}
	respondJSON(w, http.StatusOK, pair)
}

// GetProviderLogin returns provider login configuration for the frontend
func (h *AuthHandler) GetProviderLogin(w http.ResponseWriter, r *http.Request) {
	loginConfig, err := h.trustProvider.GetLoginConfig(r.Context(), h.providerName)
	if err != nil {
		if database.IsNotFound(err) {
			respondJSONError(w, http.StatusNotFound, "Not found", "No trust configuration for provider")
			return
		}
		h.logger.Error("Failed to get login configuration", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal error", "Failed to get login configuration")
		return
	}

	respondJSON(w, http.StatusOK, loginConfig)
}
