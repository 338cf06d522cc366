package sdk

import (
	"errors"
	"testing"
	"time"
)

func TestClientConfigValidate(t *testing.T) {
	cfg := ClientConfig{BaseURL: "http://doni.example.com:8001/"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}

	if cfg.BaseURL != "http://doni.example.com:8001" {
		t.Errorf("Expected trailing slash to be trimmed, got %q", cfg.BaseURL)
	}
	if cfg.RetryAttempts != 3 {
		t.Errorf("Expected default retry attempts 3, got %d", cfg.RetryAttempts)
	}
	if cfg.RetryWaitMin != time.Second {
		t.Errorf("Expected default retry wait min 1s, got %v", cfg.RetryWaitMin)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Expected default timeout 30s, got %v", cfg.Timeout)
	}
	if cfg.HTTPClient == nil {
		t.Error("Expected a default HTTP client")
	}
}

func TestClientConfigValidate_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
	}{
		{"empty base URL", ClientConfig{}},
		{"whitespace base URL", ClientConfig{BaseURL: "   "}},
		{"missing scheme", ClientConfig{BaseURL: "doni.example.com:8001"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestClientConfigHasAuth(t *testing.T) {
	cfg := ClientConfig{BaseURL: "http://localhost:8001"}
	if cfg.HasAuth() {
		t.Error("Expected HasAuth() to be false without a token")
	}

	cfg.Token = "some-token"
	if !cfg.HasAuth() {
		t.Error("Expected HasAuth() to be true with a token")
	}
}
