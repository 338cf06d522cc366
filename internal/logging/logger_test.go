package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "console", cfg: Config{Level: "debug", Format: "console"}},
		{name: "json", cfg: Config{Level: "info", Format: "json"}},
		{name: "invalid level", cfg: Config{Level: "shout", Format: "console"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && logger == nil {
				t.Fatal("expected non-nil logger")
			}
		})
	}
}

func TestContextRoundTrip(t *testing.T) {
	logger := zap.NewNop()

	ctx := WithLogger(context.Background(), logger)
	if got := FromContext(ctx); got != logger {
		t.Error("FromContext returned a different logger than stored")
	}

	// Missing logger falls back to a no-op, never nil.
	if got := FromContext(context.Background()); got == nil {
		t.Error("FromContext returned nil for empty context")
	}
}
