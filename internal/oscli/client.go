// Package oscli is a small HTTP client for the external services doni
// synchronizes hardware state to (Blazar, Ironic, Tunelo). It handles
// authentication, retries with backoff, and maps HTTP status codes to
// sentinel errors so worker drivers can branch on the outcome.
package oscli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chameleoncloud/doni/internal/conf"
)

// Default retry behavior for requests to external services.
const (
	DefaultRetryAttempts = 3
	DefaultRetryWaitMin  = 500 * time.Millisecond
	DefaultRetryWaitMax  = 10 * time.Second
	DefaultTimeout       = 30 * time.Second
)

// Client talks to one external service.
type Client struct {
	// BaseURL is the service API root; request paths are appended to it.
	BaseURL string

	// HTTPClient is the HTTP client used for requests.
	HTTPClient *http.Client

	// TokenSource supplies the auth token for each request. Nil disables
	// authentication.
	TokenSource TokenSource

	// AuthHeader overrides the header the token is sent in. Defaults to
	// HeaderAuthToken.
	AuthHeader string

	// AuthPrefix is prepended to the token value, e.g. "Bearer ".
	AuthPrefix string

	// RetryAttempts is the number of times to retry failed requests.
	RetryAttempts int

	// RetryWaitMin is the minimum wait time between retries.
	RetryWaitMin time.Duration

	// RetryWaitMax is the maximum wait time between retries.
	RetryWaitMax time.Duration
}

// New builds a client from a service configuration section. A configured
// static token wins over password credentials.
func New(cfg conf.ServiceConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrInvalidConfig)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := &http.Client{Timeout: timeout}

	var source TokenSource
	switch {
	case cfg.Token != "":
		source = StaticToken(cfg.Token)
	case cfg.Username != "":
		source = &PasswordAuth{
			AuthURL:    cfg.AuthURL,
			Username:   cfg.Username,
			Password:   cfg.Password,
			HTTPClient: httpClient,
		}
	}

	return &Client{
		BaseURL:       strings.TrimRight(cfg.Endpoint, "/"),
		HTTPClient:    httpClient,
		TokenSource:   source,
		RetryAttempts: DefaultRetryAttempts,
		RetryWaitMin:  DefaultRetryWaitMin,
		RetryWaitMax:  DefaultRetryWaitMax,
	}, nil
}

// DoJSON performs a request with an optional JSON body and decodes the JSON
// response into respBody when it is non-nil. Non-2xx statuses are mapped to
// the package's sentinel errors.
func (c *Client) DoJSON(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer drainAndCloseBody(resp)

	if err := statusError(resp); err != nil {
		return err
	}

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("failed to parse response body: %w", err)
		}
	}
	return nil
}

// do sends the request with auth and retry handling. On a 401 the cached
// token is invalidated and the request is tried once more with a fresh one.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	var payload []byte
	if body != nil {
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to buffer request body: %w", err)
		}
		payload = data
	}

	resp, err := c.send(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && c.TokenSource != nil {
		drainAndCloseBody(resp)
		c.TokenSource.Invalidate()
		return c.send(ctx, method, path, payload)
	}

	return resp, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	fullURL := c.BaseURL + path

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.TokenSource != nil {
		token, err := c.TokenSource.Token(ctx)
		if err != nil {
			return nil, err
		}
		header := c.AuthHeader
		if header == "" {
			header = HeaderAuthToken
		}
		req.Header.Set(header, c.AuthPrefix+token)
	}

	return c.doRequestWithRetry(ctx, req, payload)
}

// statusError maps a non-2xx response to a sentinel error, including the
// service's own error message when one can be extracted.
func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var sentinel error
	switch resp.StatusCode {
	case http.StatusBadRequest:
		sentinel = ErrBadRequest
	case http.StatusUnauthorized:
		sentinel = ErrUnauthorized
	case http.StatusNotFound:
		sentinel = ErrNotFound
	case http.StatusConflict:
		sentinel = ErrConflict
	case http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	default:
		if resp.StatusCode >= 500 {
			sentinel = ErrServerError
		} else {
			sentinel = ErrBadRequest
		}
	}

	if msg := extractErrorMessage(resp); msg != "" {
		return fmt.Errorf("%w: %s", sentinel, msg)
	}
	return fmt.Errorf("%w: status %d", sentinel, resp.StatusCode)
}

func extractErrorMessage(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	if body.Error != "" {
		return body.Error
	}
	return body.Message
}
