package provider

import (
	"context"

	"github.com/benvon/auth-gateway/internal/models"
	"golang.org/x/oauth2"
)

// Client wraps OAuth2 client functionality for a trust provider
type Client struct {
	config *oauth2.Config
}

// NewClient creates a new OAuth2 client from trust config
func NewClient(trust *models.TrustConfig) *Client {
	clientSecret := ""
	if trust.ClientSecret != nil {
		clientSecret = *trust.ClientSecret
	}

	config := &oauth2.Config{
		ClientID:     trust.ClientID,
		ClientSecret: clientSecret,
		RedirectURL:  trust.RedirectURI,
		Scopes:       []string{"openid", "email", "profile"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  trust.Issuer + "/oauth2/authorize",
			TokenURL: trust.Issuer + "/oauth2/token",
		},
	}

	return &Client{config: config}
}

// ExchangeCode exchanges an authorization code for tokens
func (c *Client) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return c.config.Exchange(ctx, code)
}

// AuthCodeURL returns the authorization URL
func (c *Client) AuthCodeURL(state string) string {
	return c.config.AuthCodeURL(state)
}
