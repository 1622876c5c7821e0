package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/benvon/auth-gateway/internal/config"
	"github.com/benvon/auth-gateway/internal/database"
	"github.com/benvon/auth-gateway/internal/models"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// NewTrustCmd creates the trust provider configuration command
func NewTrustCmd() *cobra.Command {
	var issuer, domain, clientID, clientSecret, redirectURI string
	var jwksURL, userInfoURL, sessionVerifyURL string

	cmd := &cobra.Command{
		Use:   "trust <provider-name>",
		Short: "Configure trust provider",
		Long:  "Configure a trust provider for authentication. Provider name can be any identifier (e.g., 'cognito', 'okta', 'auth0')",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := args[0]

			if provider == "" {
				return fmt.Errorf("provider name cannot be empty")
			}

			if issuer == "" || clientID == "" || redirectURI == "" {
				return fmt.Errorf("required flags: --issuer, --client-id, --redirect-uri (--client-secret is optional for public clients)")
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			db, err := database.New(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer func() {
				if err := db.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
				}
			}()

			trustRepo := database.NewTrustConfigRepository(db)
			ctx := context.Background()

			// Derive the JWKS URL from the issuer unless given explicitly
			if jwksURL == "" {
				jwksURL = issuer + "/.well-known/jwks.json"
			}

			apply := func(c *models.TrustConfig) {
				c.Issuer = issuer
				c.ClientID = clientID
				c.RedirectURI = redirectURI
				c.JWKSUrl = &jwksURL
				c.Domain = optional(domain)
				c.ClientSecret = optional(clientSecret)
				c.UserInfoURL = optional(userInfoURL)
				c.SessionVerifyURL = optional(sessionVerifyURL)
			}

			existing, err := trustRepo.GetByProvider(ctx, provider)
			if err == nil && existing != nil {
				apply(existing)
				if err := trustRepo.Update(ctx, existing); err != nil {
					return fmt.Errorf("failed to update trust config: %w", err)
				}
				fmt.Printf("Updated trust configuration for provider: %s\n", provider)
			} else {
				config := &models.TrustConfig{
					ID:       uuid.New(),
					Provider: provider,
				}
				apply(config)
				if err := trustRepo.Create(ctx, config); err != nil {
					return fmt.Errorf("failed to create trust config: %w", err)
				}
				fmt.Printf("Created trust configuration for provider: %s\n", provider)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&issuer, "issuer", "", "Token issuer URL (required)")
	cmd.Flags().StringVar(&domain, "domain", "", "OAuth2 domain (optional, e.g., for Cognito custom domains)")
	cmd.Flags().StringVar(&clientID, "client-id", "", "OAuth2 client ID (required)")
	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "OAuth2 client secret (optional for public clients)")
	cmd.Flags().StringVar(&redirectURI, "redirect-uri", "", "OAuth2 redirect URI (required)")
	cmd.Flags().StringVar(&jwksURL, "jwks-url", "", "JWKS URL (optional, derived from issuer by default)")
	cmd.Flags().StringVar(&userInfoURL, "userinfo-url", "", "UserInfo URL for liveness checks (optional)")
	cmd.Flags().StringVar(&sessionVerifyURL, "session-verify-url", "", "Session verification URL for delegate mode (optional)")

	return cmd
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
