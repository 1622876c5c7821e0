package models

import (
	"time"

	"github.com/google/uuid"
)

// TrustConfig represents the configuration of an external trust provider:
// where to fetch verification keys, where to check credential liveness, and
// where to verify delegated sessions. Rows are managed by the configure CLI.
type TrustConfig struct {
	ID               uuid.UUID `json:"id"`
	Provider         string    `json:"provider"`
	Issuer           string    `json:"issuer"`
	Domain           *string   `json:"domain,omitempty"` // Optional OAuth2 domain (e.g. Cognito custom domains)
	ClientID         string    `json:"client_id"`
	ClientSecret     *string   `json:"client_secret,omitempty"` // Optional for public clients
	RedirectURI      string    `json:"redirect_uri"`
	JWKSUrl          *string   `json:"jwks_url,omitempty"`
	UserInfoURL      *string   `json:"userinfo_url,omitempty"`
	SessionVerifyURL *string   `json:"session_verify_url,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
