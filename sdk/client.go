// Package sdk provides a Go client for the doni hardware registry API.
//
// The client covers the full v1 surface: hardware enrollment and lifecycle,
// availability windows, and the unauthenticated public export.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HeaderAuthToken is the header name for API token authentication.
const HeaderAuthToken = "X-Auth-Token"

// Client is the doni API client.
type Client struct {
	// BaseURL is the doni API URL.
	BaseURL string

	// Token is the API token; empty for unauthenticated use.
	Token string

	// HTTPClient is the HTTP client used for requests.
	HTTPClient *http.Client

	// RetryAttempts is the number of times to retry failed requests.
	RetryAttempts int

	// RetryWaitMin is the minimum wait time between retries.
	RetryWaitMin time.Duration

	// RetryWaitMax is the maximum wait time between retries.
	RetryWaitMax time.Duration
}

// NewClient creates a new SDK client with the given configuration.
func NewClient(config ClientConfig) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Client{
		BaseURL:       config.BaseURL,
		Token:         config.Token,
		HTTPClient:    config.HTTPClient,
		RetryAttempts: config.RetryAttempts,
		RetryWaitMin:  config.RetryWaitMin,
		RetryWaitMax:  config.RetryWaitMax,
	}, nil
}

// ListHardware returns the hardware visible to the token: everything for an
// admin token, the token's own project otherwise.
func (c *Client) ListHardware(ctx context.Context) ([]Hardware, error) {
	var out struct {
		Hardware []Hardware `json:"hardware"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/hardware", nil, true, &out); err != nil {
		return nil, err
	}
	return out.Hardware, nil
}

// ExportHardware returns the public catalog view. No token is required;
// private properties are absent and sensitive values masked.
func (c *Client) ExportHardware(ctx context.Context) ([]Hardware, error) {
	var out struct {
		Hardware []Hardware `json:"hardware"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/hardware/export", nil, false, &out); err != nil {
		return nil, err
	}
	return out.Hardware, nil
}

// GetHardware returns one hardware item including its worker tasks.
func (c *Client) GetHardware(ctx context.Context, uuid string) (*Hardware, error) {
	var hw Hardware
	if err := c.doJSON(ctx, http.MethodGet, "/v1/hardware/"+uuid, nil, true, &hw); err != nil {
		return nil, err
	}
	return &hw, nil
}

// EnrollHardware registers new hardware. Requires an admin token.
func (c *Client) EnrollHardware(ctx context.Context, req *EnrollRequest) (*Hardware, error) {
	var hw Hardware
	if err := c.doJSON(ctx, http.MethodPost, "/v1/hardware", req, true, &hw); err != nil {
		return nil, err
	}
	return &hw, nil
}

// PatchHardware applies a JSON patch to a hardware item and returns the
// updated record. Every update resets the item's worker tasks to PENDING.
func (c *Client) PatchHardware(ctx context.Context, uuid string, ops []PatchOp) (*Hardware, error) {
	var hw Hardware
	if err := c.doJSON(ctx, http.MethodPatch, "/v1/hardware/"+uuid, ops, true, &hw); err != nil {
		return nil, err
	}
	return &hw, nil
}

// DeleteHardware soft-deletes a hardware item. Worker drivers tear down
// external state on their next sweep.
func (c *Client) DeleteHardware(ctx context.Context, uuid string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/hardware/"+uuid, nil, true, nil)
}

// ListAvailability returns the availability windows of a hardware item.
func (c *Client) ListAvailability(ctx context.Context, hardwareUUID string) ([]AvailabilityWindow, error) {
	var out struct {
		Availability []AvailabilityWindow `json:"availability"`
	}
	path := fmt.Sprintf("/v1/hardware/%s/availability", hardwareUUID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, true, &out); err != nil {
		return nil, err
	}
	return out.Availability, nil
}

// CreateAvailability adds an availability window to a hardware item.
func (c *Client) CreateAvailability(ctx context.Context, hardwareUUID string, req *WindowRequest) (*AvailabilityWindow, error) {
	var w AvailabilityWindow
	path := fmt.Sprintf("/v1/hardware/%s/availability", hardwareUUID)
	if err := c.doJSON(ctx, http.MethodPost, path, req, true, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// UpdateAvailability changes the bounds of an existing window.
func (c *Client) UpdateAvailability(ctx context.Context, hardwareUUID, windowUUID string, req *WindowRequest) (*AvailabilityWindow, error) {
	var w AvailabilityWindow
	path := fmt.Sprintf("/v1/hardware/%s/availability/%s", hardwareUUID, windowUUID)
	if err := c.doJSON(ctx, http.MethodPut, path, req, true, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// DeleteAvailability removes an availability window.
func (c *Client) DeleteAvailability(ctx context.Context, hardwareUUID, windowUUID string) error {
	path := fmt.Sprintf("/v1/hardware/%s/availability/%s", hardwareUUID, windowUUID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, true, nil)
}

// doJSON performs one API call: it marshals the body, sends the request with
// retries, maps error statuses to sentinel errors, and decodes the response
// into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, authed bool, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if authed {
		if c.Token == "" {
			return ErrMissingAuth
		}
		req.Header.Set(HeaderAuthToken, c.Token)
	}

	resp, err := c.doRequestWithRetry(ctx, req)
	if err != nil {
		return err
	}
	defer drainAndCloseBody(resp)

	if resp.StatusCode >= 400 {
		return c.errorFromResponse(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorFromResponse maps an error status to a sentinel error, attaching the
// server's message when one was returned.
func (c *Client) errorFromResponse(resp *http.Response) error {
	var sentinel error
	switch resp.StatusCode {
	case http.StatusBadRequest:
		sentinel = ErrBadRequest
	case http.StatusUnauthorized:
		sentinel = ErrUnauthorized
	case http.StatusForbidden:
		sentinel = ErrForbidden
	case http.StatusNotFound:
		sentinel = ErrNotFound
	case http.StatusConflict:
		sentinel = ErrConflict
	case http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	default:
		sentinel = ErrServerError
	}

	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Message != "" {
		return fmt.Errorf("%w: %s", sentinel, body.Message)
	}
	return fmt.Errorf("%w: status code %d", sentinel, resp.StatusCode)
}
