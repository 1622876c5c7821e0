package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SessionDelegate verifies a session credential with an external session
// service and returns the subject id it belongs to. It replaces the
// Verifier and Revocation stages; the User Resolver and Authorization Gate
// still run on the returned subject.
type SessionDelegate interface {
	VerifySession(ctx context.Context, credential string) (subjectID string, err error)
}

// HTTPSessionDelegate verifies sessions against a session-management
// service's verify endpoint.
type HTTPSessionDelegate struct {
	verifyURL string
	client    *http.Client
}

// NewHTTPSessionDelegate creates a delegate for the given verify endpoint.
func NewHTTPSessionDelegate(verifyURL string) *HTTPSessionDelegate {
	return &HTTPSessionDelegate{
		verifyURL: verifyURL,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

type sessionVerifyRequest struct {
	AccessToken     string `json:"accessToken"`
	DoAntiCsrfCheck bool   `json:"doAntiCsrfCheck"`
	EnableAntiCsrf  bool   `json:"enableAntiCsrf"`
}

type sessionVerifyResponse struct {
	Status  string `json:"status"`
	Session struct {
		Handle string `json:"handle"`
		UserID string `json:"userId"`
	} `json:"session"`
}

// VerifySession posts the session token to the verify endpoint. A non-OK
// verification status means the session is no longer honored (ErrRevoked);
// transport failures and unexpected responses are infrastructure errors.
func (d *HTTPSessionDelegate) VerifySession(ctx context.Context, credential string) (string, error) {
	payload, err := json.Marshal(sessionVerifyRequest{AccessToken: credential})
	if err != nil {
		return "", Infra("encode session verify request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.verifyURL, bytes.NewReader(payload))
	if err != nil {
		return "", Infra("build session verify request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", Infra("session verify call", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", Infra("session verify call", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var result sessionVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", Infra("decode session verify response", err)
	}

	if result.Status != "OK" {
		return "", fmt.Errorf("session service returned status %q: %w", result.Status, ErrRevoked)
	}
	if result.Session.UserID == "" {
		return "", Infra("session verify call", fmt.Errorf("verified session carries no user id"))
	}

	return result.Session.UserID, nil
}
