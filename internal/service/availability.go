package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chameleoncloud/doni/models"
)

// AvailabilityWindowService manages the periods during which hardware is
// available for reservation. Every mutation resets the hardware's worker
// tasks so the reservation service is brought back in sync.
type AvailabilityWindowService struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAvailabilityWindowService creates a new AvailabilityWindowService.
func NewAvailabilityWindowService(db *sql.DB, logger *zap.Logger) *AvailabilityWindowService {
	return &AvailabilityWindowService{db: db, logger: logger}
}

// ListWindows returns the windows attached to one hardware item, earliest
// first.
func (s *AvailabilityWindowService) ListWindows(ctx context.Context, hardwareUUID string) ([]*models.AvailabilityWindow, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, uuid, hardware_uuid, start_time, end_time, created_at, updated_at
		FROM availability_window
		WHERE hardware_uuid = ?
		ORDER BY start_time ASC
	`, hardwareUUID)
	observeQuery("window_list", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list availability windows: %w", err)
	}
	defer rows.Close()

	var windows []*models.AvailabilityWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate availability windows: %w", err)
	}
	return windows, nil
}

// CreateWindow attaches a new availability window to live hardware.
func (s *AvailabilityWindowService) CreateWindow(ctx context.Context, hardwareUUID string, startTime, endTime time.Time) (*models.AvailabilityWindow, error) {
	if err := validateWindow(startTime, endTime); err != nil {
		return nil, err
	}
	if err := s.ensureHardwareExists(ctx, hardwareUUID); err != nil {
		return nil, err
	}

	w := &models.AvailabilityWindow{
		UUID:         uuid.New().String(),
		HardwareUUID: hardwareUUID,
		Start:        startTime.UTC(),
		End:          endTime.UTC(),
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin window create: %w", err)
	}
	defer tx.Rollback()

	start := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO availability_window (uuid, hardware_uuid, start_time, end_time, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, w.UUID, w.HardwareUUID, w.Start, w.End, w.CreatedAt, w.UpdatedAt)
	observeQuery("window_insert", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to insert availability window: %w", err)
	}

	if err := resetWorkerTasks(ctx, tx, hardwareUUID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit window create: %w", err)
	}

	s.logger.Info("created availability window",
		zap.String("uuid", w.UUID),
		zap.String("hardware_uuid", hardwareUUID),
		zap.Time("start", w.Start),
		zap.Time("end", w.End),
	)
	return w, nil
}

// UpdateWindow changes the start and end of an existing window.
func (s *AvailabilityWindowService) UpdateWindow(ctx context.Context, windowUUID string, startTime, endTime time.Time) (*models.AvailabilityWindow, error) {
	if err := validateWindow(startTime, endTime); err != nil {
		return nil, err
	}

	w, err := s.GetWindow(ctx, windowUUID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin window update: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	start := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE availability_window
		SET start_time = ?, end_time = ?, updated_at = ?
		WHERE uuid = ?
	`, startTime.UTC(), endTime.UTC(), now, windowUUID)
	observeQuery("window_update", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to update availability window: %w", err)
	}

	if err := resetWorkerTasks(ctx, tx, w.HardwareUUID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit window update: %w", err)
	}

	w.Start = startTime.UTC()
	w.End = endTime.UTC()
	w.UpdatedAt = now
	return w, nil
}

// DeleteWindow removes a window. The hardware's tasks are reset so the
// matching lease is cleaned up.
func (s *AvailabilityWindowService) DeleteWindow(ctx context.Context, windowUUID string) error {
	w, err := s.GetWindow(ctx, windowUUID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin window delete: %w", err)
	}
	defer tx.Rollback()

	start := time.Now()
	_, err = tx.ExecContext(ctx, `DELETE FROM availability_window WHERE uuid = ?`, windowUUID)
	observeQuery("window_delete", start, err)
	if err != nil {
		return fmt.Errorf("failed to delete availability window: %w", err)
	}

	if err := resetWorkerTasks(ctx, tx, w.HardwareUUID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit window delete: %w", err)
	}

	s.logger.Info("deleted availability window",
		zap.String("uuid", windowUUID),
		zap.String("hardware_uuid", w.HardwareUUID),
	)
	return nil
}

// GetWindow loads one window by UUID.
func (s *AvailabilityWindowService) GetWindow(ctx context.Context, windowUUID string) (*models.AvailabilityWindow, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, uuid, hardware_uuid, start_time, end_time, created_at, updated_at
		FROM availability_window
		WHERE uuid = ?
	`, windowUUID)
	w, err := scanWindow(row)
	observeQuery("window_get", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrWindowNotFound
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (s *AvailabilityWindowService) ensureHardwareExists(ctx context.Context, hardwareUUID string) error {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM hardware WHERE uuid = ? AND deleted_at IS NULL
	`, hardwareUUID).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to verify hardware: %w", err)
	}
	if count == 0 {
		return models.ErrHardwareNotFound
	}
	return nil
}

func scanWindow(row rowScanner) (*models.AvailabilityWindow, error) {
	var w models.AvailabilityWindow
	err := row.Scan(&w.ID, &w.UUID, &w.HardwareUUID, &w.Start, &w.End, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func validateWindow(startTime, endTime time.Time) error {
	if startTime.IsZero() || endTime.IsZero() {
		return fmt.Errorf("%w: start and end are required", models.ErrInvalidRequest)
	}
	if !endTime.After(startTime) {
		return fmt.Errorf("%w: window end must be after its start", models.ErrInvalidRequest)
	}
	return nil
}
