package auth

import (
	"fmt"
	"net/http"

	"github.com/benvon/auth-gateway/internal/models"
	"go.uber.org/zap"
)

// Mode selects which verification path a pipeline runs. It is fixed when the
// pipeline is built; requests never branch between auth systems.
type Mode string

const (
	// ModeLocal verifies locally issued tokens and checks the allowlist.
	ModeLocal Mode = "local"
	// ModeOIDC verifies provider tokens against a JWKS and checks liveness
	// with the provider.
	ModeOIDC Mode = "oidc"
	// ModeDelegate verifies sessions through an external session service.
	ModeDelegate Mode = "delegate"
)

// Result is the tagged outcome of one pipeline run: either Allowed with the
// resolved user, or denied with a terminal reason. Err carries the underlying
// cause for logs; it is never sent to the client.
type Result struct {
	Allowed bool
	User    *models.User
	Reason  Reason
	Err     error
}

// Allow builds an allowed result.
func Allow(user *models.User) Result {
	return Result{Allowed: true, User: user}
}

// Deny builds a denied result from a pipeline error.
func Deny(err error) Result {
	return Result{Reason: ReasonForError(err), Err: err}
}

// Pipeline runs the full per-request authentication sequence:
//
//	extract -> (verify -> liveness | delegate) -> resolve -> authorize
//
// Each stage either advances or terminates the request with a denial; no
// stage is retried within one request. Pipelines are built once at startup
// and are safe for concurrent use.
type Pipeline struct {
	mode       Mode
	cookieName string
	verifier   *Verifier
	liveness   LivenessChecker
	delegate   SessionDelegate
	resolver   *Resolver
	log        *zap.Logger
}

// PipelineConfig collects the pieces a pipeline composes. Which fields are
// required depends on Mode; NewPipeline rejects incomplete configurations at
// startup rather than failing per-request.
type PipelineConfig struct {
	Mode       Mode
	CookieName string
	Verifier   *Verifier
	Liveness   LivenessChecker
	Delegate   SessionDelegate
	Resolver   *Resolver
	Logger     *zap.Logger
}

// NewPipeline validates and assembles an authentication pipeline.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("pipeline requires a user resolver")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	switch cfg.Mode {
	case ModeLocal, ModeOIDC:
		if cfg.Verifier == nil {
			return nil, fmt.Errorf("mode %q requires a verifier", cfg.Mode)
		}
		if cfg.Liveness == nil {
			return nil, fmt.Errorf("mode %q requires a liveness checker", cfg.Mode)
		}
	case ModeDelegate:
		if cfg.Delegate == nil {
			return nil, fmt.Errorf("mode %q requires a session delegate", cfg.Mode)
		}
	default:
		return nil, fmt.Errorf("unknown pipeline mode %q", cfg.Mode)
	}

	return &Pipeline{
		mode:       cfg.Mode,
		cookieName: cfg.CookieName,
		verifier:   cfg.Verifier,
		liveness:   cfg.Liveness,
		delegate:   cfg.Delegate,
		resolver:   cfg.Resolver,
		log:        cfg.Logger,
	}, nil
}

// Mode returns the pipeline's fixed verification mode.
func (p *Pipeline) Mode() Mode {
	return p.mode
}

// Authenticate runs the pipeline for one request. required lists the roles
// the route accepts; empty means any active user.
func (p *Pipeline) Authenticate(r *http.Request, required ...models.Role) Result {
	ctx := r.Context()

	cred, err := ExtractCredential(r, p.cookieName)
	if err != nil {
		return p.deny(err)
	}

	var claims *models.Claims
	if p.mode == ModeDelegate {
		subject, err := p.delegate.VerifySession(ctx, cred.Token)
		if err != nil {
			return p.deny(err)
		}
		claims = &models.Claims{Subject: subject}
	} else {
		claims, err = p.verifier.Verify(ctx, cred.Token)
		if err != nil {
			return p.deny(err)
		}
		if err := p.liveness.IsLive(ctx, claims, cred.Token); err != nil {
			return p.deny(err)
		}
	}

	user, err := p.resolver.Resolve(ctx, claims, cred.Token)
	if err != nil {
		return p.deny(err)
	}

	if err := Authorize(user, required...); err != nil {
		return p.deny(err)
	}

	return Allow(user)
}

func (p *Pipeline) deny(err error) Result {
	res := Deny(err)
	if res.Reason == ReasonInfrastructure {
		p.log.Error("auth_dependency_failure", zap.Error(err))
	} else {
		p.log.Debug("auth_denied",
			zap.String("reason", string(res.Reason)),
			zap.Error(err),
		)
	}
	return res
}
