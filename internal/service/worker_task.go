package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chameleoncloud/doni/models"
)

// WorkerTaskService tracks the synchronization tasks attached to hardware.
// The worker manager claims PENDING tasks through it and records the outcome
// of each driver run.
type WorkerTaskService struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWorkerTaskService creates a new WorkerTaskService.
func NewWorkerTaskService(db *sql.DB, logger *zap.Logger) *WorkerTaskService {
	return &WorkerTaskService{db: db, logger: logger}
}

// TasksForHardware lists the tasks attached to one hardware item.
func (s *WorkerTaskService) TasksForHardware(ctx context.Context, hardwareUUID string) ([]*models.WorkerTask, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, uuid, hardware_uuid, worker_type, state, state_details, created_at, updated_at
		FROM worker_task
		WHERE hardware_uuid = ?
		ORDER BY worker_type ASC
	`, hardwareUUID)
	observeQuery("worker_task_list", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list worker tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// ClaimPendingTasks atomically moves up to limit PENDING tasks to IN_PROGRESS
// and returns them. Concurrent sweeps never claim the same task twice.
func (s *WorkerTaskService) ClaimPendingTasks(ctx context.Context, limit int) ([]*models.WorkerTask, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim: %w", err)
	}
	defer tx.Rollback()

	start := time.Now()
	rows, err := tx.QueryContext(ctx, `
		SELECT id, uuid, hardware_uuid, worker_type, state, state_details, created_at, updated_at
		FROM worker_task
		WHERE state = ?
		ORDER BY updated_at ASC
		LIMIT ?
	`, models.WorkerStatePending, limit)
	observeQuery("worker_task_claim", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending tasks: %w", err)
	}
	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, task := range tasks {
		if _, err := tx.ExecContext(ctx, `
			UPDATE worker_task SET state = ?, updated_at = ? WHERE uuid = ?
		`, models.WorkerStateInProgress, now, task.UUID); err != nil {
			return nil, fmt.Errorf("failed to claim task %s: %w", task.UUID, err)
		}
		task.State = models.WorkerStateInProgress
		task.UpdatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return tasks, nil
}

// CompleteTask records the outcome of one driver run: the new state and the
// merged state details.
func (s *WorkerTaskService) CompleteTask(ctx context.Context, taskUUID, state string, details map[string]any) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode state details: %w", err)
	}

	start := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE worker_task
		SET state = ?, state_details = ?, updated_at = ?
		WHERE uuid = ?
	`, state, string(detailsJSON), time.Now().UTC(), taskUUID)
	observeQuery("worker_task_complete", start, err)
	if err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check task completion: %w", err)
	}
	if rows == 0 {
		return models.ErrWorkerTaskNotFound
	}
	return nil
}

// ReleaseStuckTasks returns tasks stuck IN_PROGRESS longer than maxAge to
// PENDING. A crashed worker process leaves its claimed tasks behind; this
// lets the next sweep pick them up again.
func (s *WorkerTaskService) ReleaseStuckTasks(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	start := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE worker_task
		SET state = ?, updated_at = ?
		WHERE state = ? AND updated_at < ?
	`, models.WorkerStatePending, time.Now().UTC(), models.WorkerStateInProgress, cutoff)
	observeQuery("worker_task_release", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to release stuck tasks: %w", err)
	}

	released, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check released tasks: %w", err)
	}
	if released > 0 {
		s.logger.Warn("released stuck tasks", zap.Int64("count", released))
	}
	return released, nil
}

// PendingCountByType counts PENDING tasks per worker type, for metrics.
func (s *WorkerTaskService) PendingCountByType(ctx context.Context) (map[string]int, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
		SELECT worker_type, COUNT(*)
		FROM worker_task
		WHERE state = ?
		GROUP BY worker_type
	`, models.WorkerStatePending)
	observeQuery("worker_task_pending_count", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending tasks: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var workerType string
		var count int
		if err := rows.Scan(&workerType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan pending count: %w", err)
		}
		counts[workerType] = count
	}
	return counts, rows.Err()
}

// GetTask loads one task by UUID.
func (s *WorkerTaskService) GetTask(ctx context.Context, taskUUID string) (*models.WorkerTask, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, uuid, hardware_uuid, worker_type, state, state_details, created_at, updated_at
		FROM worker_task
		WHERE uuid = ?
	`, taskUUID)
	task, err := scanTask(row)
	observeQuery("worker_task_get", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrWorkerTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// insertWorkerTask creates a PENDING task inside an open transaction. It is
// shared by hardware enrollment.
func insertWorkerTask(ctx context.Context, tx *sql.Tx, hardwareUUID, workerType string) error {
	now := time.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO worker_task (uuid, hardware_uuid, worker_type, state, state_details, created_at, updated_at)
		VALUES (?, ?, ?, ?, '{}', ?, ?)
	`, uuid.New().String(), hardwareUUID, workerType, models.WorkerStatePending, now, now)
	if err != nil {
		return fmt.Errorf("failed to create %s task: %w", workerType, err)
	}
	return nil
}

// resetWorkerTasks moves every task of a hardware item back to PENDING inside
// an open transaction. State details are kept so drivers see their cached
// external IDs on the next run.
func resetWorkerTasks(ctx context.Context, tx *sql.Tx, hardwareUUID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE worker_task
		SET state = ?, updated_at = ?
		WHERE hardware_uuid = ?
	`, models.WorkerStatePending, time.Now().UTC(), hardwareUUID)
	if err != nil {
		return fmt.Errorf("failed to reset worker tasks: %w", err)
	}
	return nil
}

func collectTasks(rows *sql.Rows) ([]*models.WorkerTask, error) {
	defer rows.Close()

	var tasks []*models.WorkerTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate worker tasks: %w", err)
	}
	return tasks, nil
}

func scanTask(row rowScanner) (*models.WorkerTask, error) {
	var task models.WorkerTask
	var detailsJSON string

	err := row.Scan(&task.ID, &task.UUID, &task.HardwareUUID, &task.WorkerType,
		&task.State, &detailsJSON, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(detailsJSON), &task.StateDetails); err != nil {
		return nil, fmt.Errorf("failed to parse state details for %s: %w", task.UUID, err)
	}
	return &task, nil
}
