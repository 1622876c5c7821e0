package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/benvon/auth-gateway/internal/database"
	"github.com/benvon/auth-gateway/internal/models"
)

// Provider manages trust provider configuration
type Provider struct {
	repo database.TrustConfigRepositoryInterface
}

// NewProvider creates a new trust provider manager
func NewProvider(repo database.TrustConfigRepositoryInterface) *Provider {
	return &Provider{repo: repo}
}

// GetConfig retrieves trust configuration for a provider
func (p *Provider) GetConfig(ctx context.Context, providerName string) (*models.TrustConfig, error) {
	config, err := p.repo.GetByProvider(ctx, providerName)
	if err != nil {
		return nil, fmt.Errorf("failed to get trust config: %w", err)
	}
	return config, nil
}

// GetLoginConfig returns the configuration needed for frontend provider login
func (p *Provider) GetLoginConfig(ctx context.Context, providerName string) (*LoginConfig, error) {
	config, err := p.GetConfig(ctx, providerName)
	if err != nil {
		return nil, err
	}

	// Prefer the discovery document; fall back to issuer-relative endpoints
	// when the provider doesn't serve one.
	var authEndpoint string
	discoveryURL := strings.TrimSuffix(config.Issuer, "/") + "/.well-known/openid-configuration"
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(discoveryURL)
	if err == nil && resp.StatusCode == http.StatusOK {
		var discovery struct {
			AuthorizationEndpoint string `json:"authorization_endpoint"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&discovery); err == nil && discovery.AuthorizationEndpoint != "" {
			authEndpoint = discovery.AuthorizationEndpoint
		}
		_ = resp.Body.Close()
	} else if resp != nil {
		_ = resp.Body.Close()
	}

	if authEndpoint == "" {
		authEndpoint = strings.TrimSuffix(config.Issuer, "/") + "/oauth2/authorize"
	}

	var tokenEndpoint string
	// Cognito OAuth2 flows go through the configured domain, not the issuer.
	if config.Domain != nil && *config.Domain != "" && strings.Contains(config.Issuer, "cognito-idp.") {
		domain := *config.Domain
		baseURL := domain
		if !strings.HasPrefix(domain, "https://") {
			baseURL = fmt.Sprintf("https://%s", domain)
		}
		authEndpoint = fmt.Sprintf("%s/oauth2/authorize", baseURL)
		tokenEndpoint = fmt.Sprintf("%s/oauth2/token", baseURL)
	} else {
		tokenEndpoint = strings.TrimSuffix(config.Issuer, "/") + "/oauth2/token"
	}

	return &LoginConfig{
		AuthorizationEndpoint: authEndpoint,
		TokenEndpoint:         tokenEndpoint,
		ClientID:              config.ClientID,
		RedirectURI:           config.RedirectURI,
		Scope:                 "openid email profile",
	}, nil
}

// LoginConfig contains provider login configuration for the frontend
type LoginConfig struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	ClientID              string `json:"client_id"`
	RedirectURI           string `json:"redirect_uri"`
	Scope                 string `json:"scope"`
}
