package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/benvon/auth-gateway/internal/auth"
	"github.com/benvon/auth-gateway/internal/models"
	"github.com/benvon/auth-gateway/internal/request"
	"go.uber.org/zap"
)

// Authenticator runs the authentication pipeline for one request.
// Satisfied by *auth.Pipeline; tests substitute a fake.
type Authenticator interface {
	Authenticate(r *http.Request, required ...models.Role) auth.Result
}

// Auth creates authentication middleware. required lists the roles the
// wrapped routes accept; empty means any active user. On success the
// resolved user is attached to the request context for handlers.
func Auth(authn Authenticator, log *zap.Logger, required ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := authn.Authenticate(r, required...)
			if !result.Allowed {
				if result.Reason == auth.ReasonInfrastructure {
					log.Error("authentication dependency failure",
						zap.String("path", r.URL.Path),
						zap.Error(result.Err),
					)
				} else {
					log.Info("request denied",
						zap.String("path", r.URL.Path),
						zap.String("reason", string(result.Reason)),
					)
				}
				respondAuthError(w, result.Reason)
				return
			}

			ctx := request.WithUser(r.Context(), result.User)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func respondAuthError(w http.ResponseWriter, reason auth.Reason) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reason.HTTPStatus())

	response := map[string]any{
		"success": false,
		"error":   reason.PublicMessage(),
	}
	_ = json.NewEncoder(w).Encode(response)
}
