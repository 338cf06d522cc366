package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const testToken = "test-token-0123456789abcdefghijklmnopqrstu"

// newTestClient builds a client against the given server with fast retries.
func newTestClient(t *testing.T, serverURL, token string) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		BaseURL:      serverURL,
		Token:        token,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	return client
}

func TestListHardware(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/hardware" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get(HeaderAuthToken); got != testToken {
			t.Errorf("Expected auth token header, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"hardware": []map[string]any{
				{"uuid": "hw-1", "name": "nc01", "hardware_type": "baremetal"},
				{"uuid": "hw-2", "name": "nc02", "hardware_type": "baremetal"},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, testToken)
	hardware, err := client.ListHardware(context.Background())
	if err != nil {
		t.Fatalf("ListHardware() failed: %v", err)
	}
	if len(hardware) != 2 {
		t.Fatalf("Expected 2 hardware items, got %d", len(hardware))
	}
	if hardware[0].Name != "nc01" {
		t.Errorf("Expected name nc01, got %q", hardware[0].Name)
	}
}

func TestExportHardware_NoAuthHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/hardware/export" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get(HeaderAuthToken); got != "" {
			t.Errorf("Export must not send a token, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"hardware": []map[string]any{}})
	}))
	defer server.Close()

	// No token configured at all; export still works.
	client := newTestClient(t, server.URL, "")
	if _, err := client.ExportHardware(context.Background()); err != nil {
		t.Fatalf("ExportHardware() failed: %v", err)
	}
}

func TestAuthenticatedCallRequiresToken(t *testing.T) {
	client := newTestClient(t, "http://localhost:1", "")
	_, err := client.ListHardware(context.Background())
	if !errors.Is(err, ErrMissingAuth) {
		t.Errorf("Expected ErrMissingAuth, got %v", err)
	}
}

func TestEnrollHardware(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/hardware" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}

		var req EnrollRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if req.Name != "nc01" || req.HardwareType != "baremetal" {
			t.Errorf("Unexpected enroll request: %+v", req)
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Hardware{UUID: "hw-1", Name: req.Name})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, testToken)
	hw, err := client.EnrollHardware(context.Background(), &EnrollRequest{
		Name:         "nc01",
		ProjectID:    "chi-101",
		HardwareType: "baremetal",
		Properties:   map[string]any{"cpu_arch": "x86_64"},
	})
	if err != nil {
		t.Fatalf("EnrollHardware() failed: %v", err)
	}
	if hw.UUID != "hw-1" {
		t.Errorf("Expected uuid hw-1, got %q", hw.UUID)
	}
}

func TestPatchHardware(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/v1/hardware/hw-1" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}

		var ops []PatchOp
		if err := json.NewDecoder(r.Body).Decode(&ops); err != nil {
			t.Fatalf("Failed to decode patch: %v", err)
		}
		if len(ops) != 1 || ops[0].Op != "replace" || ops[0].Path != "/name" {
			t.Errorf("Unexpected patch ops: %+v", ops)
		}

		json.NewEncoder(w).Encode(Hardware{UUID: "hw-1", Name: "renamed"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, testToken)
	hw, err := client.PatchHardware(context.Background(), "hw-1", []PatchOp{
		{Op: "replace", Path: "/name", Value: "renamed"},
	})
	if err != nil {
		t.Fatalf("PatchHardware() failed: %v", err)
	}
	if hw.Name != "renamed" {
		t.Errorf("Expected renamed hardware, got %q", hw.Name)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, ErrBadRequest},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusConflict, ErrConflict},
		{http.StatusTooManyRequests, ErrRateLimited},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			json.NewEncoder(w).Encode(ErrorResponse{Error: "test", Message: "test message"})
		}))

		client := newTestClient(t, server.URL, testToken)
		_, err := client.GetHardware(context.Background(), "hw-1")
		if !errors.Is(err, tt.want) {
			t.Errorf("Status %d: expected %v, got %v", tt.status, tt.want, err)
		}
		server.Close()
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(Hardware{UUID: "hw-1"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, testToken)
	hw, err := client.GetHardware(context.Background(), "hw-1")
	if err != nil {
		t.Fatalf("GetHardware() failed after retries: %v", err)
	}
	if hw.UUID != "hw-1" {
		t.Errorf("Expected hw-1, got %q", hw.UUID)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestAvailabilityLifecycle(t *testing.T) {
	start := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "POST /v1/hardware/hw-1/availability":
			var req WindowRequest
			json.NewDecoder(r.Body).Decode(&req)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(AvailabilityWindow{
				UUID: "aw-1", HardwareUUID: "hw-1", Start: req.Start, End: req.End,
			})
		case "GET /v1/hardware/hw-1/availability":
			json.NewEncoder(w).Encode(map[string]any{
				"availability": []AvailabilityWindow{{UUID: "aw-1", HardwareUUID: "hw-1"}},
			})
		case "DELETE /v1/hardware/hw-1/availability/aw-1":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, testToken)
	ctx := context.Background()

	w, err := client.CreateAvailability(ctx, "hw-1", &WindowRequest{Start: start, End: end})
	if err != nil {
		t.Fatalf("CreateAvailability() failed: %v", err)
	}
	if !w.Start.Equal(start) || !w.End.Equal(end) {
		t.Errorf("Window bounds did not round-trip: %+v", w)
	}

	windows, err := client.ListAvailability(ctx, "hw-1")
	if err != nil {
		t.Fatalf("ListAvailability() failed: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("Expected 1 window, got %d", len(windows))
	}

	if err := client.DeleteAvailability(ctx, "hw-1", "aw-1"); err != nil {
		t.Fatalf("DeleteAvailability() failed: %v", err)
	}
}
