package auth

import (
	"fmt"
	"net/http"
	"strings"
)

// Credential is a client-presented bearer token or session cookie value,
// trusted only after verification. It lives for the duration of one request.
type Credential struct {
	Token      string
	FromCookie bool
}

// ExtractCredential pulls the bearer credential from the Authorization header
// or, failing that, from the named session cookie. Absence is a client error
// (ErrMissingCredential), a present-but-unparseable header is ErrMalformed.
// No side effects.
func ExtractCredential(r *http.Request, cookieName string) (Credential, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return Credential{}, fmt.Errorf("authorization header is not a bearer credential: %w", ErrMalformed)
		}
		token := strings.TrimSpace(parts[1])
		if token == "" {
			return Credential{}, fmt.Errorf("empty bearer token: %w", ErrMalformed)
		}
		return Credential{Token: token}, nil
	}

	if cookieName != "" {
		if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
			return Credential{Token: cookie.Value, FromCookie: true}, nil
		}
	}

	return Credential{}, ErrMissingCredential
}
