package sdk

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// doRequestWithRetry performs an HTTP request with exponential backoff retry
// logic. It retries on network errors and 5xx server errors.
func (c *Client) doRequestWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error

	for attempt := 0; attempt <= c.RetryAttempts; attempt++ {
		// Recreate the body for retries; the previous attempt consumed it.
		if attempt > 0 && req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, fmt.Errorf("failed to rewind request body: %w", bodyErr)
			}
			req.Body = body
		}

		resp, err = c.HTTPClient.Do(req.WithContext(ctx))

		// Successful or client error; nothing to retry.
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}

		if attempt == c.RetryAttempts {
			break
		}
		drainAndCloseBody(resp)

		backoff := c.calculateBackoff(attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	if err != nil {
		return nil, fmt.Errorf("request failed after %d attempts: %w", c.RetryAttempts+1, err)
	}
	if resp != nil && resp.StatusCode >= 500 {
		drainAndCloseBody(resp)
		return nil, fmt.Errorf("%w: status code %d", ErrServerError, resp.StatusCode)
	}
	return resp, err
}

// calculateBackoff calculates the backoff duration for a retry attempt. It
// uses exponential backoff with jitter to avoid thundering herd.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := float64(c.RetryWaitMin) * math.Pow(2, float64(attempt))
	if backoff > float64(c.RetryWaitMax) {
		backoff = float64(c.RetryWaitMax)
	}

	// Jitter: random value between 0 and backoff.
	return time.Duration(rand.Float64() * backoff)
}

// drainAndCloseBody reads and closes the response body to ensure connection reuse.
func drainAndCloseBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}
