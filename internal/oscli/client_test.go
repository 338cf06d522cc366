package oscli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chameleoncloud/doni/internal/conf"
)

func newTestClient(t *testing.T, server *httptest.Server, token string) *Client {
	t.Helper()
	client, err := New(conf.ServiceConfig{
		Endpoint: server.URL,
		Token:    token,
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	// Tight retry timings keep failure tests fast.
	client.RetryWaitMin = time.Millisecond
	client.RetryWaitMax = 5 * time.Millisecond
	return client
}

func TestNewRequiresEndpoint(t *testing.T) {
	if _, err := New(conf.ServiceConfig{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("New() error = %v, want ErrInvalidConfig", err)
	}
}

func TestDoJSONSendsTokenAndDecodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get(HeaderAuthToken); got != "tok-123" {
			t.Errorf("auth header = %q, want tok-123", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "lease-1"})
	}))
	defer server.Close()

	client := newTestClient(t, server, "tok-123")

	var out struct {
		ID string `json:"id"`
	}
	if err := client.DoJSON(context.Background(), http.MethodGet, "/v1/leases/lease-1", nil, &out); err != nil {
		t.Fatalf("DoJSON() error = %v", err)
	}
	if out.ID != "lease-1" {
		t.Errorf("decoded id = %q, want lease-1", out.ID)
	}
}

func TestDoJSONStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, ErrBadRequest},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusConflict, ErrConflict},
		{http.StatusTooManyRequests, ErrRateLimited},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		client := newTestClient(t, server, "tok")

		err := client.DoJSON(context.Background(), http.MethodGet, "/x", nil, nil)
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: error = %v, want %v", tt.status, err, tt.want)
		}
		server.Close()
	}
}

func TestDoJSONRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, server, "tok")

	if err := client.DoJSON(context.Background(), http.MethodPost, "/x", map[string]string{"a": "b"}, nil); err != nil {
		t.Fatalf("DoJSON() error = %v, want success after retries", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestDoJSONRefreshesTokenOn401(t *testing.T) {
	var authCalls, apiCalls atomic.Int32

	var authServer *httptest.Server
	authServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := authCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"token": map[int32]string{1: "stale", 2: "fresh"}[n]})
	}))
	defer authServer.Close()

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiCalls.Add(1)
		if r.Header.Get(HeaderAuthToken) != "fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer apiServer.Close()

	client, err := New(conf.ServiceConfig{
		Endpoint: apiServer.URL,
		AuthURL:  authServer.URL,
		Username: "doni",
		Password: "secret",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := client.DoJSON(context.Background(), http.MethodGet, "/x", nil, nil); err != nil {
		t.Fatalf("DoJSON() error = %v, want success after token refresh", err)
	}
	if authCalls.Load() != 2 {
		t.Errorf("auth calls = %d, want 2 (initial + refresh)", authCalls.Load())
	}
	if apiCalls.Load() != 2 {
		t.Errorf("api calls = %d, want 2 (rejected + retried)", apiCalls.Load())
	}
}

func TestStaticTokenMissing(t *testing.T) {
	if _, err := StaticToken("").Token(context.Background()); !errors.Is(err, ErrMissingAuth) {
		t.Errorf("Token() error = %v, want ErrMissingAuth", err)
	}
}
