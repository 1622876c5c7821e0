package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/auth-gateway/internal/models"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Verifier validates the signature, expiry, and structural claims of a bearer
// token against a TrustSource. Every failure is a specific sentinel error;
// none of them reveal to the caller whether the key id or the user exists.
type Verifier struct {
	trust    TrustSource
	issuer   string
	audience string
	skew     time.Duration
	clock    jwt.Clock
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithIssuer requires the token's iss claim to match exactly.
func WithIssuer(issuer string) VerifierOption {
	return func(v *Verifier) { v.issuer = issuer }
}

// WithAudience requires the token's aud claim to contain the value.
func WithAudience(audience string) VerifierOption {
	return func(v *Verifier) { v.audience = audience }
}

// WithAcceptableSkew tolerates clock drift on expiry checks. The default is
// zero tolerance.
func WithAcceptableSkew(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.skew = d }
}

// WithClock overrides the time source, for tests.
func WithClock(clock jwt.Clock) VerifierOption {
	return func(v *Verifier) { v.clock = clock }
}

// NewVerifier creates a token verifier over the given trust source.
func NewVerifier(trust TrustSource, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		trust: trust,
		clock: jwt.ClockFunc(time.Now),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify validates tokenString and returns its claims. The signature
// algorithm is the trust source's pinned algorithm; the alg field of the
// token header is never trusted.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*models.Claims, error) {
	raw := []byte(tokenString)

	// Structural parse first, without trusting anything.
	msg, err := jws.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("not a valid compact JWS: %w", ErrMalformed)
	}
	sigs := msg.Signatures()
	if len(sigs) == 0 {
		return nil, fmt.Errorf("token has no signature: %w", ErrMalformed)
	}
	kid := sigs[0].ProtectedHeaders().KeyID()

	key, err := v.trust.ResolveKey(ctx, kid)
	if err != nil {
		return nil, err
	}

	// Signature check with the pinned algorithm. Validation is done
	// separately so expiry failures are distinguishable from signature
	// failures.
	token, err := jwt.Parse(raw,
		jwt.WithKey(v.trust.Algorithm(), key),
		jwt.WithValidate(false),
	)
	if err != nil {
		return nil, fmt.Errorf("signature verification failed: %w", ErrBadSignature)
	}

	validateOpts := []jwt.ValidateOption{
		jwt.WithClock(v.clock),
		jwt.WithAcceptableSkew(v.skew),
	}
	if err := jwt.Validate(token, validateOpts...); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return nil, fmt.Errorf("token expired at %v: %w", token.Expiration(), ErrExpired)
		}
		return nil, fmt.Errorf("claim validation failed: %w", ErrMalformed)
	}

	if v.issuer != "" && token.Issuer() != v.issuer {
		return nil, fmt.Errorf("issuer mismatch: %w", ErrBadSignature)
	}
	if v.audience != "" && !containsAudience(token.Audience(), v.audience) {
		return nil, fmt.Errorf("audience mismatch: %w", ErrBadSignature)
	}

	return claimsFromToken(token), nil
}

func containsAudience(aud []string, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

func claimsFromToken(token jwt.Token) *models.Claims {
	claims := &models.Claims{
		Subject: token.Subject(),
		Issuer:  token.Issuer(),
	}

	if !token.IssuedAt().IsZero() {
		claims.IssuedAt = token.IssuedAt().Unix()
	}
	if !token.Expiration().IsZero() {
		claims.ExpiresAt = token.Expiration().Unix()
	}
	if aud := token.Audience(); len(aud) > 0 {
		claims.Audience = aud[0]
	}

	if email, ok := token.Get("email"); ok {
		if emailStr, ok := email.(string); ok {
			claims.Email = emailStr
		}
	}
	if name, ok := token.Get("name"); ok {
		if nameStr, ok := name.(string); ok {
			claims.Name = nameStr
		}
	}
	if role, ok := token.Get("role"); ok {
		if roleStr, ok := role.(string); ok {
			claims.Role = roleStr
		}
	}
	if tokenType, ok := token.Get("token_type"); ok {
		if typeStr, ok := tokenType.(string); ok {
			claims.TokenType = models.TokenType(typeStr)
		}
	}

	return claims
}
