package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/benvon/auth-gateway/internal/database"
	"github.com/benvon/auth-gateway/internal/models"
	"github.com/benvon/auth-gateway/internal/queue"
	"github.com/benvon/auth-gateway/internal/validation"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// UsersHandler handles user administration requests
type UsersHandler struct {
	userRepo database.UserRepositoryInterface
	jobQueue queue.JobQueue
	logger   *zap.Logger
}

// NewUsersHandler creates a new users handler. jobQueue may be nil when the
// active mode has no allowlist to clear.
func NewUsersHandler(userRepo database.UserRepositoryInterface, jobQueue queue.JobQueue, logger *zap.Logger) *UsersHandler {
	return &UsersHandler{
		userRepo: userRepo,
		jobQueue: jobQueue,
		logger:   logger,
	}
}

// RegisterReadRoutes registers the read-only user routes.
// The router should already have the /api/v1/users prefix.
func (h *UsersHandler) RegisterReadRoutes(r *mux.Router) {
	r.HandleFunc("", h.ListUsers).Methods("GET")
	r.HandleFunc("/{id}", h.GetUser).Methods("GET")
}

// RegisterWriteRoutes registers the mutating user routes.
func (h *UsersHandler) RegisterWriteRoutes(r *mux.Router) {
	r.HandleFunc("", h.CreateUser).Methods("POST")
	r.HandleFunc("/{id}/role", h.SetRole).Methods("PUT")
	r.HandleFunc("/{id}/activate", h.Activate).Methods("POST")
	r.HandleFunc("/{id}/deactivate", h.Deactivate).Methods("POST")
	r.HandleFunc("/{id}/logout", h.LogoutUser).Methods("POST")
	r.HandleFunc("/{id}", h.DeleteUser).Methods("DELETE")
}

// ListUsers returns a paginated list of users
func (h *UsersHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page := 1
	pageSize := 50

	if p := r.URL.Query().Get("page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
			page = parsed
		}
	}
	if ps := r.URL.Query().Get("page_size"); ps != "" {
		if parsed, err := strconv.Atoi(ps); err == nil && parsed > 0 && parsed <= 200 {
			pageSize = parsed
		}
	}

	users, total, err := h.userRepo.List(r.Context(), page, pageSize)
	if err != nil {
		h.logger.Error("Failed to list users", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal error", "Failed to list users")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"users":     users,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetUser returns one user by id
func (h *UsersHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userIDFromPath(w, r)
	if !ok {
		return
	}

	user, err := h.userRepo.GetByID(r.Context(), id)
	if err != nil {
		if database.IsNotFound(err) {
			respondJSONError(w, http.StatusNotFound, "Not found", "User not found")
			return
		}
		h.logger.Error("Failed to get user", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal error", "Failed to get user")
		return
	}

	respondJSON(w, http.StatusOK, user)
}

type createUserRequest struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	Password  string `json:"password" validate:"omitempty,min=12"`
	Role      string `json:"role" validate:"omitempty,role"`
}

// CreateUser creates a new user account. A password is only meaningful in
// local mode; provider-backed accounts are created without one and linked by
// provider id or email on first login.
func (h *UsersHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Invalid request", "Request body must be valid JSON")
		return
	}
	if err := validation.Validate.Struct(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	role := models.RoleUser
	if req.Role != "" {
		role = models.Role(req.Role)
	}

	user := &models.User{
		ID:        uuid.New(),
		Email:     req.Email,
		FirstName: validation.SanitizeText(req.FirstName),
		LastName:  validation.SanitizeText(req.LastName),
		Role:      role,
		IsActive:  true,
	}

	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			h.logger.Error("Failed to hash password", zap.Error(err))
			respondJSONError(w, http.StatusInternalServerError, "Internal error", "Failed to create user")
			return
		}
		hashStr := string(hash)
		user.PasswordHash = &hashStr
	}

	if err := h.userRepo.Create(r.Context(), user); err != nil {
		h.logger.Error("Failed to create user", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal error", "Failed to create user")
		return
	}

	h.logger.Info("User created", zap.String("user_id", user.ID.String()), zap.String("role", string(user.Role)))
	respondJSON(w, http.StatusCreated, user)
}

type setRoleRequest struct {
	Role string `json:"role" validate:"required,role"`
}

// SetRole changes a user's role and revokes the user's outstanding tokens.
// Locally issued tokens embed the role claim, so tokens minted under the old
// role must die before their natural expiry.
func (h *UsersHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userIDFromPath(w, r)
	if !ok {
		return
	}

	var req setRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Invalid request", "Request body must be valid JSON")
		return
	}
	if err := validation.Validate.Struct(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Invalid request", "role must be 'admin', 'manager', or 'user'")
		return
	}

	if err := h.userRepo.SetRole(r.Context(), id, models.Role(req.Role)); err != nil {
		if database.IsNotFound(err) {
			respondJSONError(w, http.StatusNotFound, "Not found", "User not found")
			return
		}
		h.logger.Error("Failed to set role", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal error", "Failed to set role")
		return
	}

	h.enqueueRevocation(r, id, "role changed")

	h.logger.Info("User role changed", zap.String("user_id", id.String()), zap.String("role", req.Role))
	respondJSON(w, http.StatusOK, map[string]string{"message": "Role updated"})
}

type logoutUserRequest struct {
	TokenType string `json:"token_type" validate:"omitempty,token_type"`
}

// LogoutUser revokes a user's outstanding tokens without touching the
// account. An optional token_type narrows the revocation to one allowlist,
// e.g. killing refresh tokens while letting access tokens run out.
func (h *UsersHandler) LogoutUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userIDFromPath(w, r)
	if !ok {
		return
	}

	var req logoutUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondJSONError(w, http.StatusBadRequest, "Invalid request", "Request body must be valid JSON")
		return
	}
	if err := validation.Validate.Struct(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Invalid request", "token_type must be 'access_token' or 'refresh_token'")
		return
	}

	if _, err := h.userRepo.GetByID(r.Context(), id); err != nil {
		if database.IsNotFound(err) {
			respondJSONError(w, http.StatusNotFound, "Not found", "User not found")
			return
		}
		h.logger.Error("Failed to get user for logout", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal error", "Failed to revoke tokens")
		return
	}

	if h.jobQueue == nil {
		respondJSONError(w, http.StatusServiceUnavailable, "Unavailable", "Revocation queue not configured")
		return
	}

	var job *queue.Job
	if req.TokenType != "" {
		tokenType := models.TokenType(req.TokenType)
		job = queue.NewJob(queue.JobTypeRevokeTokenType, id, &tokenType)
	} else {
		job = queue.NewJob(queue.JobTypeRevokeUserTokens, id, nil)
	}
	job.Reason = "admin logout"

	// Unlike deactivation, this endpoint's whole effect is the revocation, so
	// an enqueue failure is the request failing.
	if err := h.jobQueue.Enqueue(r.Context(), job); err != nil {
		h.logger.Error("Failed to enqueue revocation job",
			zap.Error(err),
			zap.String("user_id", id.String()),
		)
		respondJSONError(w, http.StatusInternalServerError, "Internal error", "Failed to revoke tokens")
		return
	}

	h.logger.Info("User tokens revoked",
		zap.String("user_id", id.String()),
		zap.String("token_type", req.TokenType),
	)
	respondJSON(w, http.StatusOK, map[string]string{"message": "Revocation enqueued"})
}

// Activate re-enables a deactivated user
func (h *UsersHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// Deactivate disables a user and revokes their outstanding tokens.
// Revocation runs through the queue so a slow cache never blocks the admin
// request; until the worker processes the job, signature-valid tokens still
// pass the allowlist check.
func (h *UsersHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *UsersHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, ok := h.userIDFromPath(w, r)
	if !ok {
		return
	}

	if err := h.userRepo.SetActive(r.Context(), id, active); err != nil {
		if database.IsNotFound(err) {
			respondJSONError(w, http.StatusNotFound, "Not found", "User not found")
			return
		}
		h.logger.Error("Failed to update user active state", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal error", "Failed to update user")
		return
	}

	if !active {
		h.enqueueRevocation(r, id, "user deactivated")
	}

	h.logger.Info("User active state changed", zap.String("user_id", id.String()), zap.Bool("active", active))
	respondJSON(w, http.StatusOK, map[string]string{"message": "User updated"})
}

// DeleteUser removes a user account and revokes their outstanding tokens
func (h *UsersHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userIDFromPath(w, r)
	if !ok {
		return
	}

	if err := h.userRepo.Delete(r.Context(), id); err != nil {
		if database.IsNotFound(err) {
			respondJSONError(w, http.StatusNotFound, "Not found", "User not found")
			return
		}
		h.logger.Error("Failed to delete user", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal error", "Failed to delete user")
		return
	}

	h.enqueueRevocation(r, id, "user deleted")

	h.logger.Info("User deleted", zap.String("user_id", id.String()))
	respondJSON(w, http.StatusOK, map[string]string{"message": "User deleted"})
}

func (h *UsersHandler) enqueueRevocation(r *http.Request, id uuid.UUID, reason string) {
	if h.jobQueue == nil {
		return
	}

	job := queue.NewJob(queue.JobTypeRevokeUserTokens, id, nil)
	job.Reason = reason
	if err := h.jobQueue.Enqueue(r.Context(), job); err != nil {
		// The user record is already updated; the tokens die at expiry even
		// if this job is lost.
		h.logger.Error("Failed to enqueue revocation job",
			zap.Error(err),
			zap.String("user_id", id.String()),
		)
	}
}

func (h *UsersHandler) userIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	vars := mux.Vars(r)
	id, err := uuid.Parse(vars["id"])
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, "Invalid request", "Invalid user id")
		return uuid.Nil, false
	}
	return id, true
}
