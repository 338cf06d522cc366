package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/chameleoncloud/doni/internal/conf"
	"github.com/chameleoncloud/doni/internal/oscli"
	"github.com/chameleoncloud/doni/models"
)

// tuneloFake is an in-memory channel service.
type tuneloFake struct {
	channels map[string]map[string]any
	nextID   int
	deleted  []string
}

func newTuneloFake() *tuneloFake {
	return &tuneloFake{channels: map[string]map[string]any{}}
}

func (f *tuneloFake) add(uuid, channelType, publicKey string) {
	f.channels[uuid] = map[string]any{
		"uuid":         uuid,
		"channel_type": channelType,
		"properties":   map[string]any{"public_key": publicKey},
	}
}

func (f *tuneloFake) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /channels", func(w http.ResponseWriter, r *http.Request) {
		list := make([]map[string]any, 0, len(f.channels))
		for _, ch := range f.channels {
			list = append(list, ch)
		}
		json.NewEncoder(w).Encode(map[string]any{"channels": list})
	})
	mux.HandleFunc("POST /channels", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.nextID++
		uuid := fmt.Sprintf("ch-%d", f.nextID)
		props, _ := body["properties"].(map[string]any)
		publicKey, _ := props["public_key"].(string)
		channelType, _ := body["channel_type"].(string)
		f.add(uuid, channelType, publicKey)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"uuid": uuid})
	})
	mux.HandleFunc("DELETE /channels/{uuid}", func(w http.ResponseWriter, r *http.Request) {
		uuid := r.PathValue("uuid")
		if _, ok := f.channels[uuid]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(f.channels, uuid)
		f.deleted = append(f.deleted, uuid)
		w.WriteHeader(http.StatusNoContent)
	})
	return httptest.NewServer(mux)
}

func newTuneloTestWorker(t *testing.T, server *httptest.Server) *TuneloWorker {
	t.Helper()
	client, err := oscli.New(conf.ServiceConfig{Endpoint: server.URL, Token: "tok"})
	if err != nil {
		t.Fatal(err)
	}
	return NewTuneloWorker(client, zaptest.NewLogger(t))
}

func tuneloTestHardware(channels map[string]any) *models.Hardware {
	return &models.Hardware{
		UUID:         "hw-1",
		Name:         "dev01",
		ProjectID:    "proj-1",
		HardwareType: "device.balena",
		Properties:   map[string]any{"channels": channels},
	}
}

func TestTuneloCreatesChannels(t *testing.T) {
	fake := newTuneloFake()
	server := fake.server()
	defer server.Close()

	w := newTuneloTestWorker(t, server)
	hw := tuneloTestHardware(map[string]any{
		"user": map[string]any{"channel_type": "wireguard", "public_key": "pk1"},
	})

	result, err := w.Process(context.Background(), hw, nil, map[string]any{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	channels, _ := result.Payload()["channels"].(map[string]any)
	if channels["user"] != "ch-1" {
		t.Errorf("channels = %v, want user mapped to ch-1", channels)
	}
	if len(fake.channels) != 1 {
		t.Errorf("service holds %d channels, want 1", len(fake.channels))
	}
}

func TestTuneloKeepsUnchangedChannel(t *testing.T) {
	fake := newTuneloFake()
	fake.add("ch-9", "wireguard", "pk1")
	server := fake.server()
	defer server.Close()

	w := newTuneloTestWorker(t, server)
	hw := tuneloTestHardware(map[string]any{
		"user": map[string]any{"channel_type": "wireguard", "public_key": "pk1"},
	})

	result, err := w.Process(context.Background(), hw, nil,
		map[string]any{"channels": map[string]any{"user": "ch-9"}})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	channels, _ := result.Payload()["channels"].(map[string]any)
	if channels["user"] != "ch-9" {
		t.Errorf("channels = %v, want existing ch-9 kept", channels)
	}
	if len(fake.deleted) != 0 {
		t.Errorf("deleted = %v, want nothing deleted", fake.deleted)
	}
}

func TestTuneloRecreatesDriftedChannel(t *testing.T) {
	fake := newTuneloFake()
	fake.add("ch-9", "wireguard", "old-key")
	server := fake.server()
	defer server.Close()

	w := newTuneloTestWorker(t, server)
	hw := tuneloTestHardware(map[string]any{
		"user": map[string]any{"channel_type": "wireguard", "public_key": "new-key"},
	})

	result, err := w.Process(context.Background(), hw, nil,
		map[string]any{"channels": map[string]any{"user": "ch-9"}})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	channels, _ := result.Payload()["channels"].(map[string]any)
	if channels["user"] != "ch-1" {
		t.Errorf("channels = %v, want recreated channel", channels)
	}
	if len(fake.deleted) != 1 || fake.deleted[0] != "ch-9" {
		t.Errorf("deleted = %v, want [ch-9]", fake.deleted)
	}
}

func TestTuneloDeletesDanglingChannel(t *testing.T) {
	fake := newTuneloFake()
	fake.add("ch-9", "wireguard", "pk1")
	server := fake.server()
	defer server.Close()

	w := newTuneloTestWorker(t, server)
	hw := tuneloTestHardware(nil)

	result, err := w.Process(context.Background(), hw, nil,
		map[string]any{"channels": map[string]any{"user": "ch-9"}})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	channels, _ := result.Payload()["channels"].(map[string]any)
	if len(channels) != 0 {
		t.Errorf("channels = %v, want empty", channels)
	}
	if len(fake.deleted) != 1 || fake.deleted[0] != "ch-9" {
		t.Errorf("deleted = %v, want [ch-9]", fake.deleted)
	}
}

func TestTuneloTeardownOnDelete(t *testing.T) {
	fake := newTuneloFake()
	fake.add("ch-9", "wireguard", "pk1")
	server := fake.server()
	defer server.Close()

	w := newTuneloTestWorker(t, server)
	hw := tuneloTestHardware(map[string]any{
		"user": map[string]any{"channel_type": "wireguard", "public_key": "pk1"},
	})
	now := time.Now()
	hw.DeletedAt = &now

	result, err := w.Process(context.Background(), hw, nil,
		map[string]any{"channels": map[string]any{"user": "ch-9"}})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.Payload()["channels"] != nil {
		t.Errorf("channels = %v, want nil after teardown", result.Payload()["channels"])
	}
	if len(fake.channels) != 0 {
		t.Errorf("service still holds %d channels", len(fake.channels))
	}
}
