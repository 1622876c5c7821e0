package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/benvon/auth-gateway/internal/auth"
)

// UserInfoFetcher fetches the canonical profile from the provider's userinfo
// endpoint. Used to resolve users by email when the token's subject is an
// opaque provider id with no email claim.
type UserInfoFetcher struct {
	userInfoURL string
	client      *http.Client
}

// NewUserInfoFetcher creates a fetcher for the given userinfo endpoint.
func NewUserInfoFetcher(userInfoURL string) *UserInfoFetcher {
	return &UserInfoFetcher{
		userInfoURL: userInfoURL,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

var _ auth.ProfileFetcher = (*UserInfoFetcher)(nil)

// FetchEmail presents the credential to the userinfo endpoint and returns
// the profile email.
func (f *UserInfoFetcher) FetchEmail(ctx context.Context, credential string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.userInfoURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("userinfo request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo returned status %d", resp.StatusCode)
	}

	var profile struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return "", fmt.Errorf("failed to decode userinfo response: %w", err)
	}
	if profile.Email == "" {
		return "", fmt.Errorf("userinfo response carries no email")
	}
	return profile.Email, nil
}
