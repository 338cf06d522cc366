package manager

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/chameleoncloud/doni/internal/conf"
	"github.com/chameleoncloud/doni/internal/db"
	"github.com/chameleoncloud/doni/internal/driver"
	"github.com/chameleoncloud/doni/internal/service"
	"github.com/chameleoncloud/doni/internal/worker"
	"github.com/chameleoncloud/doni/models"
)

// stubHardwareType enrolls with no property requirements.
type stubHardwareType struct {
	name    string
	workers []string
}

func (s *stubHardwareType) Name() string                    { return s.name }
func (s *stubHardwareType) EnabledWorkers() []string        { return s.workers }
func (s *stubHardwareType) DefaultFields() []worker.Field   { return nil }
func (s *stubHardwareType) WorkerOverrides() map[string]any { return nil }

// stubWorker returns a canned result or error.
type stubWorker struct {
	name   string
	result worker.Result
	err    error
}

func (s *stubWorker) WorkerType() string           { return s.name }
func (s *stubWorker) Fields() []worker.Field       { return nil }
func (s *stubWorker) Process(ctx context.Context, hw *models.Hardware, windows []*models.AvailabilityWindow, stateDetails map[string]any) (worker.Result, error) {
	return s.result, s.err
}

type testEnv struct {
	db       *sql.DB
	registry *driver.Registry
	hardware *service.HardwareService
	windows  *service.AvailabilityWindowService
	tasks    *service.WorkerTaskService
}

func newTestEnv(t *testing.T, hwType driver.HardwareType, workers ...worker.Worker) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)

	database, err := db.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.Migrate(database, logger); err != nil {
		t.Fatal(err)
	}

	registry := driver.NewRegistry(logger)
	if err := registry.RegisterHardwareType(hwType); err != nil {
		t.Fatal(err)
	}
	for _, w := range workers {
		if err := registry.RegisterWorker(w); err != nil {
			t.Fatal(err)
		}
	}

	return &testEnv{
		db:       database,
		registry: registry,
		hardware: service.NewHardwareService(database, logger, registry),
		windows:  service.NewAvailabilityWindowService(database, logger),
		tasks:    service.NewWorkerTaskService(database, logger),
	}
}

func (e *testEnv) manager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(conf.WorkerConfig{TaskPoolSize: 4, ProcessPendingInterval: 10 * time.Millisecond},
		zaptest.NewLogger(t), e.registry, e.hardware, e.windows, e.tasks)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func (e *testEnv) enroll(t *testing.T, hardwareType string) *models.Hardware {
	t.Helper()
	hw, err := e.hardware.EnrollHardware(context.Background(), &models.HardwareEnrollRequest{
		Name:         "stub01",
		ProjectID:    "chi-101",
		HardwareType: hardwareType,
	})
	if err != nil {
		t.Fatal(err)
	}
	return hw
}

func (e *testEnv) taskFor(t *testing.T, hardwareUUID, workerType string) *models.WorkerTask {
	t.Helper()
	tasks, err := e.tasks.TasksForHardware(context.Background(), hardwareUUID)
	if err != nil {
		t.Fatal(err)
	}
	for _, task := range tasks {
		if task.WorkerType == workerType {
			return task
		}
	}
	t.Fatalf("no %s task for %s", workerType, hardwareUUID)
	return nil
}

func TestSweepProcessesSuccess(t *testing.T) {
	env := newTestEnv(t,
		&stubHardwareType{name: "stub", workers: []string{"stub-worker"}},
		&stubWorker{name: "stub-worker", result: worker.Success{Details: map[string]any{"external_id": "e-1"}}},
	)
	hw := env.enroll(t, "stub")

	if err := env.manager(t).Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	task := env.taskFor(t, hw.UUID, "stub-worker")
	if task.State != models.WorkerStateSteady {
		t.Errorf("state = %s, want STEADY", task.State)
	}
	if task.StateDetails["external_id"] != "e-1" {
		t.Errorf("state details = %v", task.StateDetails)
	}
}

func TestSweepProcessesDefer(t *testing.T) {
	env := newTestEnv(t,
		&stubHardwareType{name: "stub", workers: []string{"stub-worker"}},
		&stubWorker{name: "stub-worker", result: worker.Defer{Reason: "upstream not ready"}},
	)
	hw := env.enroll(t, "stub")
	mgr := env.manager(t)
	ctx := context.Background()

	if err := mgr.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	task := env.taskFor(t, hw.UUID, "stub-worker")
	if task.State != models.WorkerStatePending {
		t.Errorf("state = %s, want PENDING after defer", task.State)
	}
	if task.StateDetails[models.DetailDeferReason] != "upstream not ready" {
		t.Errorf("defer reason = %v", task.StateDetails[models.DetailDeferReason])
	}

	// Second sweep picks the deferred task up again and counts the retry.
	if err := mgr.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	task = env.taskFor(t, hw.UUID, "stub-worker")
	if count, _ := task.StateDetails[models.DetailDeferCount].(float64); count != 2 {
		t.Errorf("defer count = %v, want 2", task.StateDetails[models.DetailDeferCount])
	}
}

func TestSweepRecordsError(t *testing.T) {
	env := newTestEnv(t,
		&stubHardwareType{name: "stub", workers: []string{"stub-worker"}},
		&stubWorker{name: "stub-worker", err: errors.New("driver exploded")},
	)
	hw := env.enroll(t, "stub")

	if err := env.manager(t).Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}

	task := env.taskFor(t, hw.UUID, "stub-worker")
	if task.State != models.WorkerStateError {
		t.Errorf("state = %s, want ERROR", task.State)
	}
	if task.StateDetails[models.DetailLastError] != "driver exploded" {
		t.Errorf("last error = %v", task.StateDetails[models.DetailLastError])
	}
}

func TestSweepHandsBackUnloadedWorkerTasks(t *testing.T) {
	// The hardware type enables two workers but only one runs here.
	env := newTestEnv(t,
		&stubHardwareType{name: "stub", workers: []string{"stub-worker", "elsewhere-worker"}},
		&stubWorker{name: "stub-worker", result: worker.Success{}},
	)
	hw := env.enroll(t, "stub")

	if err := env.manager(t).Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := env.taskFor(t, hw.UUID, "stub-worker"); got.State != models.WorkerStateSteady {
		t.Errorf("loaded worker task state = %s, want STEADY", got.State)
	}
	if got := env.taskFor(t, hw.UUID, "elsewhere-worker"); got.State != models.WorkerStatePending {
		t.Errorf("unloaded worker task state = %s, want PENDING", got.State)
	}
}

func TestLayerByHardware(t *testing.T) {
	task := func(hw string) *models.WorkerTask {
		return &models.WorkerTask{HardwareUUID: hw}
	}
	claimed := []*models.WorkerTask{
		task("hw-a"), task("hw-b"), task("hw-a"), task("hw-c"), task("hw-a"),
	}

	layers := layerByHardware(claimed)
	if len(layers) != 3 {
		t.Fatalf("layers = %d, want 3", len(layers))
	}
	if len(layers[0]) != 3 || len(layers[1]) != 1 || len(layers[2]) != 1 {
		t.Errorf("layer sizes = %d/%d/%d, want 3/1/1",
			len(layers[0]), len(layers[1]), len(layers[2]))
	}
	// Same-hardware tasks keep their claim order across layers.
	if layers[1][0] != claimed[2] || layers[2][0] != claimed[4] {
		t.Error("hw-a tasks are out of claim order")
	}
}

// periodicStubWorker carries one recurring job that counts its runs.
type periodicStubWorker struct {
	stubWorker
	runs atomic.Int32
}

func (p *periodicStubWorker) Periodics() []worker.Periodic {
	return []worker.Periodic{{
		Name:     "count",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			p.runs.Add(1)
			return nil
		},
	}}
}

func TestRunStartsPeriodics(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	stub := &periodicStubWorker{stubWorker: stubWorker{name: "stub-worker", result: worker.Success{}}}
	env := newTestEnv(t,
		&stubHardwareType{name: "stub", workers: []string{"stub-worker"}},
		stub,
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.manager(t).Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if stub.runs.Load() == 0 {
		t.Error("periodic never ran")
	}
}

func TestNewRequiresWorkers(t *testing.T) {
	logger := zaptest.NewLogger(t)
	registry := driver.NewRegistry(logger)

	_, err := New(conf.WorkerConfig{}, logger, registry, nil, nil, nil)
	if !errors.Is(err, models.ErrDriverNotFound) {
		t.Errorf("New() error = %v, want ErrDriverNotFound", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	env := newTestEnv(t,
		&stubHardwareType{name: "stub", workers: []string{"stub-worker"}},
		&stubWorker{name: "stub-worker", result: worker.Success{}},
	)
	env.enroll(t, "stub")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.manager(t).Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not stop after cancel")
	}
}
