// Package manager runs the background sweep that drives worker tasks through
// their lifecycle. Each sweep claims a batch of PENDING tasks, invokes the
// matching drivers concurrently, and writes the outcome back to the store.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chameleoncloud/doni/internal/conf"
	"github.com/chameleoncloud/doni/internal/driver"
	"github.com/chameleoncloud/doni/internal/metrics"
	"github.com/chameleoncloud/doni/internal/service"
	"github.com/chameleoncloud/doni/internal/worker"
	"github.com/chameleoncloud/doni/models"
)

// stuckTaskAge is how long a task may sit IN_PROGRESS before it is assumed
// abandoned by a crashed process and returned to PENDING.
const stuckTaskAge = 15 * time.Minute

// Manager owns the processing loop of one worker process.
type Manager struct {
	cfg      conf.WorkerConfig
	logger   *zap.Logger
	registry *driver.Registry

	hardware *service.HardwareService
	windows  *service.AvailabilityWindowService
	tasks    *service.WorkerTaskService

	wg sync.WaitGroup
}

// New builds a manager around the loaded driver registry and the store
// services.
func New(cfg conf.WorkerConfig, logger *zap.Logger, registry *driver.Registry,
	hardware *service.HardwareService, windows *service.AvailabilityWindowService,
	tasks *service.WorkerTaskService) (*Manager, error) {

	if len(registry.WorkerNames()) == 0 {
		return nil, fmt.Errorf("%w: no worker drivers loaded", models.ErrDriverNotFound)
	}
	if cfg.TaskPoolSize <= 0 {
		cfg.TaskPoolSize = 100
	}
	if cfg.ProcessPendingInterval <= 0 {
		cfg.ProcessPendingInterval = time.Minute
	}

	return &Manager{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		hardware: hardware,
		windows:  windows,
		tasks:    tasks,
	}, nil
}

// Run sweeps pending tasks until the context is cancelled. It blocks; the
// first sweep happens immediately.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("worker manager started",
		zap.Strings("workers", m.registry.WorkerNames()),
		zap.Int("task_pool_size", m.cfg.TaskPoolSize),
		zap.Duration("interval", m.cfg.ProcessPendingInterval),
	)

	m.startPeriodics(ctx)

	ticker := time.NewTicker(m.cfg.ProcessPendingInterval)
	defer ticker.Stop()

	for {
		if err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			m.wg.Wait()
			m.logger.Info("worker manager stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// startPeriodics launches the recurring jobs loaded drivers expose. They run
// until the context is cancelled; Run waits for them on shutdown.
func (m *Manager) startPeriodics(ctx context.Context) {
	for _, name := range m.registry.WorkerNames() {
		w, err := m.registry.Worker(name)
		if err != nil {
			continue
		}
		runner, ok := w.(worker.PeriodicRunner)
		if !ok {
			continue
		}

		for _, p := range runner.Periodics() {
			p := p
			workerType := name
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.runPeriodic(ctx, workerType, p)
			}()
		}
	}
}

func (m *Manager) runPeriodic(ctx context.Context, workerType string, p worker.Periodic) {
	m.logger.Info("periodic started",
		zap.String("worker_type", workerType),
		zap.String("periodic", p.Name),
		zap.Duration("interval", p.Interval),
	)

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Run(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("periodic failed",
					zap.String("worker_type", workerType),
					zap.String("periodic", p.Name),
					zap.Error(err),
				)
			}
		}
	}
}

// Sweep claims one batch of PENDING tasks and processes it to completion.
func (m *Manager) Sweep(ctx context.Context) error {
	if _, err := m.tasks.ReleaseStuckTasks(ctx, stuckTaskAge); err != nil {
		return err
	}

	claimed, err := m.tasks.ClaimPendingTasks(ctx, m.cfg.TaskPoolSize)
	if err != nil {
		return err
	}
	metrics.WorkerBatchSize.Observe(float64(len(claimed)))

	if len(claimed) > 0 {
		m.logger.Info("processing task batch", zap.Int("count", len(claimed)))

		// Layered execution: tasks of different hardware run in parallel,
		// tasks of the same hardware run in claim order.
		for _, layer := range layerByHardware(claimed) {
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(m.cfg.TaskPoolSize)
			m.wg.Add(len(layer))
			for _, task := range layer {
				task := task
				g.Go(func() error {
					defer m.wg.Done()
					m.processTask(gctx, task)
					return nil
				})
			}
			g.Wait()
		}
	}

	return m.updatePendingGauge(ctx)
}

// layerByHardware splits a claimed batch into layers: layer N holds the Nth
// claimed task of every hardware item.
func layerByHardware(claimed []*models.WorkerTask) [][]*models.WorkerTask {
	depth := make(map[string]int, len(claimed))
	var layers [][]*models.WorkerTask
	for _, task := range claimed {
		d := depth[task.HardwareUUID]
		depth[task.HardwareUUID] = d + 1
		if d == len(layers) {
			layers = append(layers, nil)
		}
		layers[d] = append(layers[d], task)
	}
	return layers
}

// processTask runs one driver invocation and records the outcome. Driver
// errors are captured in the task state, never propagated.
func (m *Manager) processTask(ctx context.Context, task *models.WorkerTask) {
	w, err := m.registry.Worker(task.WorkerType)
	if err != nil {
		// The task belongs to a worker another process runs; hand it back.
		m.finish(ctx, task, models.WorkerStatePending, task.StateDetails)
		return
	}

	hw, err := m.hardware.GetHardwareAny(ctx, task.HardwareUUID)
	if err != nil {
		m.fail(ctx, task, fmt.Errorf("failed to load hardware: %w", err))
		return
	}
	windows, err := m.windows.ListWindows(ctx, task.HardwareUUID)
	if err != nil {
		m.fail(ctx, task, fmt.Errorf("failed to load availability windows: %w", err))
		return
	}

	started := time.Now()
	result, err := w.Process(ctx, hw, windows, copyDetails(task.StateDetails))
	metrics.WorkerTaskDuration.WithLabelValues(task.WorkerType).Observe(time.Since(started).Seconds())
	if err != nil {
		m.fail(ctx, task, err)
		return
	}

	details := copyDetails(task.StateDetails)
	mergePayload(details, result.Payload())

	switch r := result.(type) {
	case worker.Success:
		delete(details, models.DetailLastError)
		delete(details, models.DetailDeferCount)
		delete(details, models.DetailDeferReason)
		m.finish(ctx, task, models.WorkerStateSteady, details)

	case worker.Defer:
		count, _ := details[models.DetailDeferCount].(float64)
		details[models.DetailDeferCount] = count + 1
		details[models.DetailDeferReason] = r.Reason
		m.logger.Info("task deferred",
			zap.String("task_uuid", task.UUID),
			zap.String("worker_type", task.WorkerType),
			zap.String("reason", r.Reason),
		)
		m.finish(ctx, task, models.WorkerStatePending, details)

	default:
		details[models.DetailFallbackResult] = result.Payload()
		m.finish(ctx, task, models.WorkerStateSteady, details)
	}
}

func (m *Manager) fail(ctx context.Context, task *models.WorkerTask, taskErr error) {
	m.logger.Error("task failed",
		zap.String("task_uuid", task.UUID),
		zap.String("worker_type", task.WorkerType),
		zap.String("hardware_uuid", task.HardwareUUID),
		zap.Error(taskErr),
	)

	details := copyDetails(task.StateDetails)
	details[models.DetailLastError] = taskErr.Error()
	m.finish(ctx, task, models.WorkerStateError, details)
}

func (m *Manager) finish(ctx context.Context, task *models.WorkerTask, state string, details map[string]any) {
	metrics.WorkerTasksProcessed.WithLabelValues(task.WorkerType, state).Inc()
	if err := m.tasks.CompleteTask(ctx, task.UUID, state, details); err != nil {
		m.logger.Error("failed to record task outcome",
			zap.String("task_uuid", task.UUID),
			zap.String("state", state),
			zap.Error(err),
		)
	}
}

func (m *Manager) updatePendingGauge(ctx context.Context) error {
	counts, err := m.tasks.PendingCountByType(ctx)
	if err != nil {
		return err
	}

	metrics.WorkerTasksPending.Reset()
	for workerType, count := range counts {
		metrics.WorkerTasksPending.WithLabelValues(workerType).Set(float64(count))
	}
	return nil
}

// copyDetails clones state details so a driver cannot mutate the stored map.
func copyDetails(details map[string]any) map[string]any {
	copied := make(map[string]any, len(details))
	for k, v := range details {
		copied[k] = v
	}
	return copied
}

// mergePayload folds a driver result payload into the task details. A nil
// value removes the key, which drivers use to clear stale external IDs.
func mergePayload(details, payload map[string]any) {
	for k, v := range payload {
		if v == nil {
			delete(details, k)
			continue
		}
		details[k] = v
	}
}
