package oscli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// HeaderAuthToken is the header external services expect the bearer token in.
const HeaderAuthToken = "X-Auth-Token"

// TokenSource supplies an authentication token for outgoing requests.
type TokenSource interface {
	// Token returns a token to attach to the next request.
	Token(ctx context.Context) (string, error)

	// Invalidate discards any cached token after the service rejected it,
	// forcing a refresh on the next call.
	Invalidate()
}

// StaticToken is a TokenSource backed by a fixed token from configuration.
type StaticToken string

func (t StaticToken) Token(ctx context.Context) (string, error) {
	if t == "" {
		return "", ErrMissingAuth
	}
	return string(t), nil
}

func (t StaticToken) Invalidate() {}

// PasswordAuth obtains tokens from the service's auth endpoint using a
// username and password, and caches the token until it is invalidated.
type PasswordAuth struct {
	// AuthURL is the token-issuing endpoint.
	AuthURL string

	// Username and Password are the credentials presented to AuthURL.
	Username string
	Password string

	// HTTPClient is used for token requests.
	HTTPClient *http.Client

	mu     sync.Mutex
	cached string
}

// Token returns the cached token, fetching a fresh one when the cache is
// empty.
func (a *PasswordAuth) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cached != "" {
		return a.cached, nil
	}

	if a.AuthURL == "" || a.Username == "" {
		return "", ErrMissingAuth
	}

	reqBody, err := json.Marshal(map[string]string{
		"username": a.Username,
		"password": a.Password,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.AuthURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("auth request failed with status %d", resp.StatusCode)
	}

	// Token may arrive in the response header or the body.
	if token := resp.Header.Get(HeaderSubjectToken); token != "" {
		a.cached = token
		return token, nil
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to parse auth response: %w", err)
	}
	if body.Token == "" {
		return "", fmt.Errorf("auth response contained no token")
	}

	a.cached = body.Token
	return a.cached, nil
}

// Invalidate discards the cached token.
func (a *PasswordAuth) Invalidate() {
	a.mu.Lock()
	a.cached = ""
	a.mu.Unlock()
}

// HeaderSubjectToken is the header a token-issuing endpoint may return the
// subject token in.
const HeaderSubjectToken = "X-Subject-Token"
