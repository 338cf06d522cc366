package driver

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/chameleoncloud/doni/internal/conf"
	"github.com/chameleoncloud/doni/models"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	registry := NewRegistry(zaptest.NewLogger(t))
	if err := registry.RegisterHardwareType(NewFakeHardware()); err != nil {
		t.Fatal(err)
	}
	if err := registry.RegisterWorker(NewFakeWorker(zaptest.NewLogger(t))); err != nil {
		t.Fatal(err)
	}
	return registry
}

func TestRegistryLookups(t *testing.T) {
	registry := newTestRegistry(t)

	if _, err := registry.HardwareType("fake-hardware"); err != nil {
		t.Errorf("HardwareType() error = %v", err)
	}
	if _, err := registry.HardwareType("quantum"); !errors.Is(err, models.ErrDriverNotFound) {
		t.Errorf("HardwareType(unknown) error = %v, want ErrDriverNotFound", err)
	}
	if _, err := registry.Worker("fake-worker"); err != nil {
		t.Errorf("Worker() error = %v", err)
	}
	if _, err := registry.Worker("quantum"); !errors.Is(err, models.ErrDriverNotFound) {
		t.Errorf("Worker(unknown) error = %v, want ErrDriverNotFound", err)
	}
}

func TestRegistryDuplicateRegistration(t *testing.T) {
	registry := newTestRegistry(t)

	if err := registry.RegisterHardwareType(NewFakeHardware()); err == nil {
		t.Error("expected error registering hardware type twice")
	}
	if err := registry.RegisterWorker(NewFakeWorker(zaptest.NewLogger(t))); err == nil {
		t.Error("expected error registering worker twice")
	}
}

func TestRegistryFieldsComposition(t *testing.T) {
	registry := newTestRegistry(t)

	fields, err := registry.Fields("fake-hardware")
	if err != nil {
		t.Fatalf("Fields() error = %v", err)
	}

	byName := map[string]bool{}
	for _, f := range fields {
		byName[f.Name] = true
	}

	// Hardware type defaults plus the fake worker's fields.
	for _, want := range []string{
		"default_field", "default_required_field",
		"private-field", "private-and-sensitive-field", "sensitive-field",
	} {
		if !byName[want] {
			t.Errorf("composed fields missing %q", want)
		}
	}
}

func TestRegistryValidator(t *testing.T) {
	registry := newTestRegistry(t)

	validator, err := registry.Validator("fake-hardware")
	if err != nil {
		t.Fatalf("Validator() error = %v", err)
	}

	if err := validator.Validate(map[string]any{"default_required_field": "x"}); err != nil {
		t.Errorf("valid properties rejected: %v", err)
	}
	if err := validator.Validate(map[string]any{"default_field": "x"}); err == nil {
		t.Error("missing required property accepted")
	}
}

func TestFieldsWithoutLoadedWorkers(t *testing.T) {
	// The API process registers hardware types only; worker clients run in a
	// separate process. The composed schema has to match in both.
	cfg := &conf.Config{Worker: conf.WorkerConfig{
		EnabledHardwareTypes: []string{"device.balena", "baremetal"},
	}}
	registry, err := Load(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	fields, err := registry.Fields("device.balena")
	if err != nil {
		t.Fatalf("Fields() error = %v", err)
	}
	byName := map[string]bool{}
	for _, f := range fields {
		byName[f.Name] = true
	}
	for _, want := range []string{
		"device_type", "contact_email", "channels",
		"blazar_device_driver",
		"application_credential_id", "application_credential_secret",
	} {
		if !byName[want] {
			t.Errorf("composed fields missing %q", want)
		}
	}

	validator, err := registry.Validator("device.balena")
	if err != nil {
		t.Fatalf("Validator() error = %v", err)
	}
	props := map[string]any{
		"device_type":   "raspberrypi4-64",
		"contact_email": "ops@example.com",
		"channels": map[string]any{
			"user": map[string]any{"channel_type": "wireguard", "public_key": "pk"},
		},
		"blazar_device_driver":          "k8s",
		"application_credential_id":     "cred-id",
		"application_credential_secret": "cred-secret",
	}
	if err := validator.Validate(props); err != nil {
		t.Errorf("valid device.balena properties rejected: %v", err)
	}

	props["undeclared"] = "x"
	if err := validator.Validate(props); err == nil {
		t.Error("undeclared property accepted")
	}

	ipmi, err := registry.Validator("baremetal")
	if err != nil {
		t.Fatalf("Validator() error = %v", err)
	}
	if err := ipmi.Validate(map[string]any{
		"management_address": "10.0.0.9",
		"interfaces": []any{
			map[string]any{"name": "eno1", "mac_address": "aa:bb:cc:dd:ee:ff"},
		},
		"cpu_arch":      "x86_64",
		"ipmi_username": "admin",
		"ipmi_password": "hunter2",
	}); err != nil {
		t.Errorf("valid baremetal properties rejected: %v", err)
	}
}

func TestRegistryEnabledWorkers(t *testing.T) {
	registry := newTestRegistry(t)

	workers, err := registry.EnabledWorkers("fake-hardware")
	if err != nil {
		t.Fatalf("EnabledWorkers() error = %v", err)
	}
	if len(workers) != 1 || workers[0].WorkerType() != "fake-worker" {
		t.Errorf("EnabledWorkers() = %v, want [fake-worker]", workers)
	}
}

func TestFakeWorkerProcess(t *testing.T) {
	w := NewFakeWorker(zaptest.NewLogger(t))

	hw := &models.Hardware{UUID: "hw-1", Name: "node01"}
	result, err := w.Process(context.Background(), hw, nil, nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got := result.Payload()["fake-result"]; got != "fake-worker-prefix-hw-1" {
		t.Errorf("fake-result = %v", got)
	}
}

func TestLoadRejectsUnknownDrivers(t *testing.T) {
	logger := zaptest.NewLogger(t)

	cfg := &conf.Config{Worker: conf.WorkerConfig{
		EnabledHardwareTypes: []string{"quantum"},
	}}
	if _, err := Load(cfg, logger); !errors.Is(err, models.ErrDriverNotFound) {
		t.Errorf("Load() error = %v, want ErrDriverNotFound", err)
	}

	cfg = &conf.Config{Worker: conf.WorkerConfig{
		EnabledHardwareTypes: []string{"fake-hardware"},
		EnabledWorkerTypes:   []string{"quantum"},
	}}
	if _, err := Load(cfg, logger); !errors.Is(err, models.ErrDriverNotFound) {
		t.Errorf("Load() error = %v, want ErrDriverNotFound", err)
	}
}

func TestLoadFakeStack(t *testing.T) {
	cfg := &conf.Config{Worker: conf.WorkerConfig{
		EnabledHardwareTypes: []string{"fake-hardware"},
		EnabledWorkerTypes:   []string{"fake-worker"},
	}}

	registry, err := Load(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := registry.HardwareTypeNames(); len(got) != 1 || got[0] != "fake-hardware" {
		t.Errorf("HardwareTypeNames() = %v", got)
	}
	if got := registry.WorkerNames(); len(got) != 1 || got[0] != "fake-worker" {
		t.Errorf("WorkerNames() = %v", got)
	}
}
