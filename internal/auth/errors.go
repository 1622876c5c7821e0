package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for every way the pipeline can refuse a request. Handlers
// and middleware dispatch on these with errors.Is; user-visible messages come
// from Reason, never from the raw error.
var (
	ErrMissingCredential = errors.New("missing credential")
	ErrMalformed         = errors.New("malformed credential")
	ErrBadSignature      = errors.New("bad signature")
	ErrUnknownKey        = errors.New("unknown signing key")
	ErrExpired           = errors.New("token expired")
	ErrRevoked           = errors.New("credential revoked")
	ErrUnknownUser       = errors.New("unknown user")
	ErrInactive          = errors.New("inactive user")
	ErrForbidden         = errors.New("forbidden")
)

// InfrastructureError wraps failures of a dependency (JWKS endpoint, cache,
// provider, database). These indicate an outage, not an attacker, and must
// never be conflated with the security failures above.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

// Infra wraps err as an infrastructure failure of the named operation.
func Infra(op string, err error) error {
	return &InfrastructureError{Op: op, Err: err}
}

// IsInfrastructure reports whether err is an infrastructure failure.
func IsInfrastructure(err error) bool {
	var ie *InfrastructureError
	return errors.As(err, &ie)
}

// Reason is the terminal denial state of the pipeline for one request.
type Reason string

const (
	ReasonMissingCredential Reason = "missing_credential"
	ReasonMalformed         Reason = "malformed_credential"
	ReasonBadSignature      Reason = "bad_signature"
	ReasonExpired           Reason = "expired"
	ReasonRevoked           Reason = "revoked"
	ReasonUnknownUser       Reason = "unknown_user"
	ReasonInactive          Reason = "inactive"
	ReasonForbidden         Reason = "forbidden"
	ReasonInfrastructure    Reason = "infrastructure"
)

// ReasonForError maps a pipeline error to its denial reason.
func ReasonForError(err error) Reason {
	switch {
	case IsInfrastructure(err):
		return ReasonInfrastructure
	case errors.Is(err, ErrMissingCredential):
		return ReasonMissingCredential
	case errors.Is(err, ErrMalformed):
		return ReasonMalformed
	case errors.Is(err, ErrUnknownKey), errors.Is(err, ErrBadSignature):
		// An unknown key id is reported as a signature failure to the client;
		// the distinction is kept server-side for logs.
		return ReasonBadSignature
	case errors.Is(err, ErrExpired):
		return ReasonExpired
	case errors.Is(err, ErrRevoked):
		return ReasonRevoked
	case errors.Is(err, ErrUnknownUser):
		return ReasonUnknownUser
	case errors.Is(err, ErrInactive):
		return ReasonInactive
	case errors.Is(err, ErrForbidden):
		return ReasonForbidden
	default:
		return ReasonInfrastructure
	}
}

// HTTPStatus returns the response status code for a denial reason.
func (r Reason) HTTPStatus() int {
	switch r {
	case ReasonMissingCredential, ReasonMalformed:
		return http.StatusUnauthorized
	case ReasonBadSignature, ReasonExpired, ReasonRevoked, ReasonForbidden:
		return http.StatusForbidden
	case ReasonUnknownUser:
		return http.StatusNotFound
	case ReasonInactive:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the client-facing message for a denial reason.
// Signature, expiry, and revocation failures all share one generic message so
// responses cannot be used as an oracle for which check failed.
func (r Reason) PublicMessage() string {
	switch r {
	case ReasonMissingCredential:
		return "Missing credentials"
	case ReasonMalformed:
		return "Invalid authorization header"
	case ReasonBadSignature, ReasonExpired, ReasonRevoked:
		return "Could not validate credentials"
	case ReasonUnknownUser:
		return "User not found"
	case ReasonInactive:
		return "Inactive user"
	case ReasonForbidden:
		return "Insufficient permissions"
	default:
		return "Service temporarily unavailable"
	}
}
