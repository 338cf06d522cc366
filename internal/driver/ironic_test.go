package driver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/chameleoncloud/doni/internal/conf"
	"github.com/chameleoncloud/doni/internal/oscli"
	"github.com/chameleoncloud/doni/internal/worker"
	"github.com/chameleoncloud/doni/models"
)

func newIronicTestWorker(t *testing.T, server *httptest.Server) *IronicWorker {
	t.Helper()
	client, err := oscli.New(conf.ServiceConfig{Endpoint: server.URL, Token: "tok"})
	if err != nil {
		t.Fatal(err)
	}
	return NewIronicWorker(client, zaptest.NewLogger(t))
}

func ironicTestHardware() *models.Hardware {
	return &models.Hardware{
		UUID:         "hw-1",
		Name:         "nc01",
		HardwareType: "baremetal",
		Properties: map[string]any{
			"management_address": "10.0.0.5",
			"ipmi_username":      "admin",
			"ipmi_password":      "secret",
			"cpu_arch":           "x86_64",
		},
	}
}

func TestIronicCreatesNode(t *testing.T) {
	var created map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/nodes/hw-1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("POST /v1/nodes", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&created)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"uuid": "hw-1", "created_at": "2026-08-01T00:00:00"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	w := newIronicTestWorker(t, server)

	result, err := w.Process(context.Background(), ironicTestHardware(), nil, nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got := result.Payload()["ironic_node_uuid"]; got != "hw-1" {
		t.Errorf("ironic_node_uuid = %v", got)
	}

	if created["driver"] != "ipmi" {
		t.Errorf("driver = %v", created["driver"])
	}
	info, _ := created["driver_info"].(map[string]any)
	if info["ipmi_address"] != "10.0.0.5" || info["ipmi_username"] != "admin" {
		t.Errorf("driver_info = %v", info)
	}
	props, _ := created["properties"].(map[string]any)
	if props["cpu_arch"] != "x86_64" {
		t.Errorf("properties = %v", props)
	}
}

func TestIronicPatchesDrift(t *testing.T) {
	var patch []map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/nodes/hw-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"uuid": "hw-1",
			"name": "oldname",
			"driver_info": map[string]any{
				"ipmi_address":  "10.0.0.5",
				"ipmi_username": "admin",
				"ipmi_password": "stale",
			},
		})
	})
	mux.HandleFunc("PATCH /v1/nodes/hw-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&patch)
		json.NewEncoder(w).Encode(map[string]any{"uuid": "hw-1", "updated_at": "2026-08-02T00:00:00"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	w := newIronicTestWorker(t, server)

	result, err := w.Process(context.Background(), ironicTestHardware(), nil, nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if _, ok := result.(worker.Success); !ok {
		t.Fatalf("result = %T, want Success", result)
	}

	paths := map[string]bool{}
	for _, op := range patch {
		if op["op"] != "replace" {
			t.Errorf("op = %v, want replace", op["op"])
		}
		paths[op["path"].(string)] = true
	}
	if !paths["/name"] || !paths["/driver_info/ipmi_password"] {
		t.Errorf("patch paths = %v, want /name and /driver_info/ipmi_password", paths)
	}
	if paths["/driver_info/ipmi_address"] {
		t.Error("patched ipmi_address although it did not drift")
	}
}

func TestIronicNoPatchWhenInSync(t *testing.T) {
	hw := ironicTestHardware()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/nodes/hw-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"uuid": "hw-1",
			"name": hw.Name,
			"driver_info": map[string]any{
				"ipmi_address":  "10.0.0.5",
				"ipmi_username": "admin",
				"ipmi_password": "secret",
			},
		})
	})
	mux.HandleFunc("PATCH /v1/nodes/hw-1", func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected PATCH for an in-sync node")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	w := newIronicTestWorker(t, server)

	result, err := w.Process(context.Background(), hw, nil, nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if _, ok := result.(worker.Success); !ok {
		t.Fatalf("result = %T, want Success", result)
	}
}

func TestIronicDeleteDefersWhenBusy(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /v1/nodes/hw-1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	w := newIronicTestWorker(t, server)

	hw := ironicTestHardware()
	now := time.Now()
	hw.DeletedAt = &now

	result, err := w.Process(context.Background(), hw, nil, nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if _, ok := result.(worker.Defer); !ok {
		t.Fatalf("result = %T, want Defer while the node is busy", result)
	}
}

func TestIronicDeleteToleratesMissingNode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /v1/nodes/hw-1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	w := newIronicTestWorker(t, server)

	hw := ironicTestHardware()
	now := time.Now()
	hw.DeletedAt = &now

	result, err := w.Process(context.Background(), hw, nil, nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if _, ok := result.(worker.Success); !ok {
		t.Fatalf("result = %T, want Success", result)
	}
}
