package oscli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// doRequestWithRetry performs an HTTP request with exponential backoff retry
// logic. It retries on network errors and 5xx server errors; the buffered
// payload is replayed on each attempt.
func (c *Client) doRequestWithRetry(ctx context.Context, req *http.Request, payload []byte) (*http.Response, error) {
	var resp *http.Response
	var err error

	for attempt := 0; attempt <= c.RetryAttempts; attempt++ {
		if payload != nil {
			req.Body = io.NopCloser(bytes.NewReader(payload))
		}

		resp, err = c.HTTPClient.Do(req.WithContext(ctx))

		// Success or client error: no point retrying.
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}

		if attempt == c.RetryAttempts {
			if resp != nil {
				drainAndCloseBody(resp)
			}
			break
		}

		if resp != nil {
			drainAndCloseBody(resp)
		}

		backoff := c.calculateBackoff(attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	if err != nil {
		return nil, fmt.Errorf("%w: request failed after %d attempts: %v", ErrUnavailable, c.RetryAttempts+1, err)
	}

	return nil, fmt.Errorf("%w: status %d after %d attempts", ErrServerError, resp.StatusCode, c.RetryAttempts+1)
}

// calculateBackoff calculates the backoff duration for a retry attempt.
// It uses exponential backoff with jitter to avoid thundering herd.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := float64(c.RetryWaitMin) * math.Pow(2, float64(attempt))
	if backoff > float64(c.RetryWaitMax) {
		backoff = float64(c.RetryWaitMax)
	}

	// Add jitter (random value between 0 and backoff)
	jitter := rand.Float64() * backoff

	return time.Duration(jitter)
}

// drainAndCloseBody reads and closes the response body to ensure connection reuse.
func drainAndCloseBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}
