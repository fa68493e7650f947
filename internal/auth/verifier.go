// Package auth verifies browser session tokens against the session provider.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrUnauthorized = errors.New("session rejected")
	ErrUnavailable  = errors.New("session provider unavailable")
)

// Identity is the user behind a verified session.
type Identity struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Metadata struct {
		FullName string `json:"full_name"`
	} `json:"user_metadata"`
}

// Verifier resolves a bearer token into an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// HTTPVerifier calls GET {baseURL}/auth/v1/user with the caller's token.
type HTTPVerifier struct {
	baseURL   string
	publicKey string
	client    *http.Client
}

var _ Verifier = (*HTTPVerifier)(nil)

func NewHTTPVerifier(baseURL, publicKey string, timeout time.Duration) *HTTPVerifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPVerifier{
		baseURL:   strings.TrimRight(baseURL, "/"),
		publicKey: publicKey,
		client:    &http.Client{Timeout: timeout},
	}
}

// Verify treats every non-2xx answer as a rejected session. Only transport
// failures surface as ErrUnavailable.
func (v *HTTPVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if v.publicKey != "" {
		req.Header.Set("apikey", v.publicKey)
	}

	res, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4<<10))
		return nil, fmt.Errorf("%w: status=%d", ErrUnauthorized, res.StatusCode)
	}

	var id Identity
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&id); err != nil {
		return nil, fmt.Errorf("%w: decode user: %v", ErrUnauthorized, err)
	}
	if id.ID == "" {
		return nil, fmt.Errorf("%w: user without id", ErrUnauthorized)
	}
	return &id, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
