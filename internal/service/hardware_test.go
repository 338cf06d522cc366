package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/chameleoncloud/doni/internal/db"
	"github.com/chameleoncloud/doni/internal/driver"
	"github.com/chameleoncloud/doni/models"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.Migrate(database, zaptest.NewLogger(t)); err != nil {
		t.Fatal(err)
	}
	return database
}

func newTestRegistry(t *testing.T) *driver.Registry {
	t.Helper()
	logger := zaptest.NewLogger(t)
	registry := driver.NewRegistry(logger)
	if err := registry.RegisterHardwareType(driver.NewFakeHardware()); err != nil {
		t.Fatal(err)
	}
	if err := registry.RegisterWorker(driver.NewFakeWorker(logger)); err != nil {
		t.Fatal(err)
	}
	return registry
}

func newHardwareService(t *testing.T, database *sql.DB) *HardwareService {
	t.Helper()
	return NewHardwareService(database, zaptest.NewLogger(t), newTestRegistry(t))
}

func enrollRequest() *models.HardwareEnrollRequest {
	return &models.HardwareEnrollRequest{
		Name:         "fake01",
		ProjectID:    "chi-101",
		HardwareType: "fake-hardware",
		Properties: map[string]any{
			"default_required_field": "x",
		},
	}
}

func TestEnrollHardware(t *testing.T) {
	database := newTestDB(t)
	svc := newHardwareService(t, database)

	hw, err := svc.EnrollHardware(context.Background(), enrollRequest())
	if err != nil {
		t.Fatalf("EnrollHardware() error = %v", err)
	}
	if hw.UUID == "" {
		t.Error("enrollment did not assign a uuid")
	}

	// One PENDING task per enabled worker type.
	tasks := NewWorkerTaskService(database, zaptest.NewLogger(t))
	got, err := tasks.TasksForHardware(context.Background(), hw.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("task count = %d, want 1", len(got))
	}
	if got[0].WorkerType != "fake-worker" || got[0].State != models.WorkerStatePending {
		t.Errorf("task = %s/%s, want fake-worker/PENDING", got[0].WorkerType, got[0].State)
	}
}

func TestEnrollHardwareDuplicateName(t *testing.T) {
	svc := newHardwareService(t, newTestDB(t))

	if _, err := svc.EnrollHardware(context.Background(), enrollRequest()); err != nil {
		t.Fatal(err)
	}
	_, err := svc.EnrollHardware(context.Background(), enrollRequest())
	if !errors.Is(err, models.ErrDuplicateName) {
		t.Errorf("second enrollment error = %v, want ErrDuplicateName", err)
	}
}

func TestEnrollHardwareInvalidProperties(t *testing.T) {
	svc := newHardwareService(t, newTestDB(t))

	req := enrollRequest()
	req.Properties = map[string]any{"default_field": "present but required one missing"}
	_, err := svc.EnrollHardware(context.Background(), req)
	if !errors.Is(err, models.ErrInvalidParameter) {
		t.Errorf("EnrollHardware() error = %v, want ErrInvalidParameter", err)
	}
}

func TestEnrollHardwareUnknownType(t *testing.T) {
	svc := newHardwareService(t, newTestDB(t))

	req := enrollRequest()
	req.HardwareType = "quantum"
	_, err := svc.EnrollHardware(context.Background(), req)
	if !errors.Is(err, models.ErrDriverNotFound) {
		t.Errorf("EnrollHardware() error = %v, want ErrDriverNotFound", err)
	}
}

func TestListHardwareProjectScope(t *testing.T) {
	svc := newHardwareService(t, newTestDB(t))
	ctx := context.Background()

	req := enrollRequest()
	if _, err := svc.EnrollHardware(ctx, req); err != nil {
		t.Fatal(err)
	}
	other := enrollRequest()
	other.Name = "fake02"
	other.ProjectID = "chi-202"
	if _, err := svc.EnrollHardware(ctx, other); err != nil {
		t.Fatal(err)
	}

	all, err := svc.ListHardware(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("unscoped list = %d items, want 2", len(all))
	}

	scoped, err := svc.ListHardware(ctx, "chi-202")
	if err != nil {
		t.Fatal(err)
	}
	if len(scoped) != 1 || scoped[0].Name != "fake02" {
		t.Errorf("scoped list = %v", scoped)
	}
}

func TestPatchHardware(t *testing.T) {
	database := newTestDB(t)
	svc := newHardwareService(t, database)
	ctx := context.Background()

	hw, err := svc.EnrollHardware(ctx, enrollRequest())
	if err != nil {
		t.Fatal(err)
	}

	// Move the tasks out of PENDING so the reset is observable.
	tasks := NewWorkerTaskService(database, zaptest.NewLogger(t))
	claimed, err := tasks.ClaimPendingTasks(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, task := range claimed {
		if err := tasks.CompleteTask(ctx, task.UUID, models.WorkerStateSteady, nil); err != nil {
			t.Fatal(err)
		}
	}

	patch := []byte(`[
		{"op": "replace", "path": "/name", "value": "fake01-renamed"},
		{"op": "add", "path": "/properties/default_field", "value": "hello"}
	]`)
	updated, err := svc.PatchHardware(ctx, hw.UUID, patch)
	if err != nil {
		t.Fatalf("PatchHardware() error = %v", err)
	}
	if updated.Name != "fake01-renamed" {
		t.Errorf("name = %q", updated.Name)
	}
	if updated.Properties["default_field"] != "hello" {
		t.Errorf("default_field = %v", updated.Properties["default_field"])
	}

	got, err := tasks.TasksForHardware(ctx, hw.UUID)
	if err != nil {
		t.Fatal(err)
	}
	for _, task := range got {
		if task.State != models.WorkerStatePending {
			t.Errorf("task %s state = %s, want PENDING after update", task.WorkerType, task.State)
		}
	}
}

func TestPatchHardwareImmutableFields(t *testing.T) {
	svc := newHardwareService(t, newTestDB(t))
	ctx := context.Background()

	hw, err := svc.EnrollHardware(ctx, enrollRequest())
	if err != nil {
		t.Fatal(err)
	}

	patch := []byte(`[{"op": "replace", "path": "/project_id", "value": "stolen"}]`)
	_, err = svc.PatchHardware(ctx, hw.UUID, patch)
	if !errors.Is(err, models.ErrInvalidPatch) {
		t.Errorf("PatchHardware() error = %v, want ErrInvalidPatch", err)
	}
}

func TestPatchHardwareRestrictedOps(t *testing.T) {
	svc := newHardwareService(t, newTestDB(t))
	ctx := context.Background()

	hw, err := svc.EnrollHardware(ctx, enrollRequest())
	if err != nil {
		t.Fatal(err)
	}

	for _, patch := range []string{
		`[{"op": "move", "path": "/properties/default_field", "from": "/properties/default_required_field"}]`,
		`[{"op": "copy", "path": "/properties/default_field", "from": "/properties/default_required_field"}]`,
		`[{"op": "test", "path": "/name", "value": "fake01"}]`,
	} {
		_, err := svc.PatchHardware(ctx, hw.UUID, []byte(patch))
		if !errors.Is(err, models.ErrInvalidPatch) {
			t.Errorf("PatchHardware(%s) error = %v, want ErrInvalidPatch", patch, err)
		}
	}
}

func TestPatchHardwareNewRootAttribute(t *testing.T) {
	svc := newHardwareService(t, newTestDB(t))
	ctx := context.Background()

	hw, err := svc.EnrollHardware(ctx, enrollRequest())
	if err != nil {
		t.Fatal(err)
	}

	patch := []byte(`[{"op": "add", "path": "/foo", "value": 1}]`)
	_, err = svc.PatchHardware(ctx, hw.UUID, patch)
	if !errors.Is(err, models.ErrInvalidPatch) {
		t.Errorf("PatchHardware() error = %v, want ErrInvalidPatch", err)
	}

	// Adds under existing attributes are still fine.
	patch = []byte(`[{"op": "add", "path": "/properties/default_field", "value": "x"}]`)
	if _, err := svc.PatchHardware(ctx, hw.UUID, patch); err != nil {
		t.Errorf("PatchHardware() error = %v", err)
	}
}

func TestPatchHardwareOverriddenWorkerField(t *testing.T) {
	database := newTestDB(t)
	logger := zaptest.NewLogger(t)

	// Hardware types only, like the API process runs.
	registry := driver.NewRegistry(logger)
	if err := registry.RegisterHardwareType(driver.NewBalenaDevice()); err != nil {
		t.Fatal(err)
	}
	svc := NewHardwareService(database, logger, registry)
	ctx := context.Background()

	hw, err := svc.EnrollHardware(ctx, &models.HardwareEnrollRequest{
		Name:         "edge01",
		ProjectID:    "chi-101",
		HardwareType: "device.balena",
		Properties: map[string]any{
			"device_type":   "raspberrypi4-64",
			"contact_email": "ops@example.com",
			"channels": map[string]any{
				"user": map[string]any{"channel_type": "wireguard", "public_key": "pk"},
			},
			"application_credential_id":     "cred-id",
			"application_credential_secret": "cred-secret",
		},
	})
	if err != nil {
		t.Fatalf("EnrollHardware() error = %v", err)
	}
	if hw.Properties["blazar_device_driver"] != "k8s" {
		t.Fatalf("blazar_device_driver = %v, want the k8s override applied", hw.Properties["blazar_device_driver"])
	}

	for _, patch := range []string{
		`[{"op": "replace", "path": "/properties/blazar_device_driver", "value": "not-k8s"}]`,
		`[{"op": "remove", "path": "/properties/blazar_device_driver"}]`,
	} {
		_, err := svc.PatchHardware(ctx, hw.UUID, []byte(patch))
		if !errors.Is(err, models.ErrInvalidPatch) {
			t.Errorf("PatchHardware(%s) error = %v, want ErrInvalidPatch", patch, err)
		}
	}

	loaded, err := svc.GetHardware(ctx, hw.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Properties["blazar_device_driver"] != "k8s" {
		t.Errorf("blazar_device_driver = %v, want it pinned to k8s", loaded.Properties["blazar_device_driver"])
	}
}

func TestPatchHardwareInvalidResult(t *testing.T) {
	svc := newHardwareService(t, newTestDB(t))
	ctx := context.Background()

	hw, err := svc.EnrollHardware(ctx, enrollRequest())
	if err != nil {
		t.Fatal(err)
	}

	// Removing a required property must fail validation.
	patch := []byte(`[{"op": "remove", "path": "/properties/default_required_field"}]`)
	_, err = svc.PatchHardware(ctx, hw.UUID, patch)
	if !errors.Is(err, models.ErrInvalidParameter) {
		t.Errorf("PatchHardware() error = %v, want ErrInvalidParameter", err)
	}
}

func TestDeleteHardware(t *testing.T) {
	database := newTestDB(t)
	svc := newHardwareService(t, database)
	ctx := context.Background()

	hw, err := svc.EnrollHardware(ctx, enrollRequest())
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteHardware(ctx, hw.UUID); err != nil {
		t.Fatalf("DeleteHardware() error = %v", err)
	}

	// Hidden from API reads but still loadable for drivers.
	if _, err := svc.GetHardware(ctx, hw.UUID); !errors.Is(err, models.ErrHardwareNotFound) {
		t.Errorf("GetHardware() after delete error = %v, want ErrHardwareNotFound", err)
	}
	loaded, err := svc.GetHardwareAny(ctx, hw.UUID)
	if err != nil {
		t.Fatalf("GetHardwareAny() error = %v", err)
	}
	if !loaded.Deleted() {
		t.Error("hardware not marked deleted")
	}

	// The name is free for reuse.
	if _, err := svc.EnrollHardware(ctx, enrollRequest()); err != nil {
		t.Errorf("re-enrollment with freed name error = %v", err)
	}
}

func TestSerializeMasksFields(t *testing.T) {
	database := newTestDB(t)
	logger := zaptest.NewLogger(t)

	registry := driver.NewRegistry(logger)
	if err := registry.RegisterHardwareType(driver.NewFakeHardware()); err != nil {
		t.Fatal(err)
	}
	if err := registry.RegisterWorker(driver.NewFakeWorker(logger)); err != nil {
		t.Fatal(err)
	}
	svc := NewHardwareService(database, logger, registry)

	hw := &models.Hardware{
		UUID:         "hw-1",
		ProjectID:    "chi-101",
		Name:         "fake01",
		HardwareType: "fake-hardware",
		Properties: map[string]any{
			"default_required_field":      "x",
			"private-field":               "hidden",
			"sensitive-field":             "hunter2",
			"private-and-sensitive-field": "hunter3",
		},
	}

	member := &models.APIToken{ProjectID: "chi-101", Role: models.RoleMember}
	outsider := &models.APIToken{ProjectID: "chi-999", Role: models.RoleMember}

	doc := svc.Serialize(hw, member)
	props := doc["properties"].(map[string]any)
	if props["private-field"] != "hidden" {
		t.Errorf("owner view private-field = %v", props["private-field"])
	}
	if props["sensitive-field"] != SensitiveMask {
		t.Errorf("sensitive-field = %v, want mask", props["sensitive-field"])
	}
	if props["private-and-sensitive-field"] != SensitiveMask {
		t.Errorf("private-and-sensitive-field = %v, want mask", props["private-and-sensitive-field"])
	}

	doc = svc.Serialize(hw, outsider)
	props = doc["properties"].(map[string]any)
	if _, ok := props["private-field"]; ok {
		t.Error("outsider view still contains private-field")
	}
	if _, ok := props["private-and-sensitive-field"]; ok {
		t.Error("outsider view still contains private-and-sensitive-field")
	}
	if props["sensitive-field"] != SensitiveMask {
		t.Errorf("outsider sensitive-field = %v, want mask", props["sensitive-field"])
	}
}
