// Package service implements doni's business logic on top of the SQLite
// store: hardware enrollment and lifecycle, availability windows, worker task
// bookkeeping, and API token management.
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chameleoncloud/doni/internal/driver"
	"github.com/chameleoncloud/doni/internal/metrics"
	"github.com/chameleoncloud/doni/models"
)

// SensitiveMask replaces sensitive property values in API responses.
const SensitiveMask = "************"

// HardwareService provides operations for enrolling and managing hardware.
//
// Enrollment validates the property document against the hardware type's
// composed schema and fans out one worker task per enabled worker type.
// Updates and deletes reset the item's tasks to PENDING so the worker process
// re-synchronizes external services.
type HardwareService struct {
	db       *sql.DB
	logger   *zap.Logger
	registry *driver.Registry
}

// NewHardwareService creates a new HardwareService.
func NewHardwareService(db *sql.DB, logger *zap.Logger, registry *driver.Registry) *HardwareService {
	return &HardwareService{
		db:       db,
		logger:   logger,
		registry: registry,
	}
}

// EnrollHardware registers a new hardware item and creates one PENDING worker
// task per worker type its hardware type enables.
func (s *HardwareService) EnrollHardware(ctx context.Context, req *models.HardwareEnrollRequest) (*models.Hardware, error) {
	if err := validateHardwareName(req.Name); err != nil {
		return nil, err
	}
	if req.ProjectID == "" {
		return nil, fmt.Errorf("%w: project_id is required", models.ErrInvalidRequest)
	}

	hwType, err := s.registry.HardwareType(req.HardwareType)
	if err != nil {
		metrics.EnrollmentsTotal.WithLabelValues(req.HardwareType, "error").Inc()
		return nil, err
	}

	properties := make(map[string]any, len(req.Properties))
	for k, v := range req.Properties {
		properties[k] = v
	}
	if err := s.applyDefaults(req.HardwareType, hwType, properties); err != nil {
		return nil, err
	}

	if err := s.validateProperties(req.HardwareType, properties); err != nil {
		metrics.EnrollmentsTotal.WithLabelValues(req.HardwareType, "invalid").Inc()
		return nil, err
	}

	hw := &models.Hardware{
		UUID:         req.UUID,
		ProjectID:    req.ProjectID,
		Name:         req.Name,
		HardwareType: req.HardwareType,
		Properties:   properties,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if hw.UUID == "" {
		hw.UUID = uuid.New().String()
	}

	propsJSON, err := json.Marshal(properties)
	if err != nil {
		return nil, fmt.Errorf("failed to encode properties: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin enrollment: %w", err)
	}
	defer tx.Rollback()

	start := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO hardware (uuid, project_id, name, hardware_type, properties, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, hw.UUID, hw.ProjectID, hw.Name, hw.HardwareType, string(propsJSON), hw.CreatedAt, hw.UpdatedAt)
	observeQuery("hardware_insert", start, err)
	if err != nil {
		if isUniqueConstraint(err) {
			if strings.Contains(err.Error(), "uuid") {
				return nil, models.ErrDuplicateUUID
			}
			return nil, models.ErrDuplicateName
		}
		return nil, fmt.Errorf("failed to insert hardware: %w", err)
	}

	for _, workerType := range hwType.EnabledWorkers() {
		if err := insertWorkerTask(ctx, tx, hw.UUID, workerType); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit enrollment: %w", err)
	}

	metrics.EnrollmentsTotal.WithLabelValues(hw.HardwareType, "success").Inc()
	metrics.HardwareCount.WithLabelValues(hw.ProjectID, hw.HardwareType).Inc()
	s.logger.Info("enrolled hardware",
		zap.String("uuid", hw.UUID),
		zap.String("name", hw.Name),
		zap.String("hardware_type", hw.HardwareType),
		zap.String("project_id", hw.ProjectID),
	)
	return hw, nil
}

// ListHardware returns live hardware, optionally scoped to one project. An
// empty projectID lists everything.
func (s *HardwareService) ListHardware(ctx context.Context, projectID string) ([]*models.Hardware, error) {
	query := `
		SELECT id, uuid, project_id, name, hardware_type, properties, created_at, updated_at, deleted_at
		FROM hardware
		WHERE deleted_at IS NULL
	`
	args := []any{}
	if projectID != "" {
		query += ` AND project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at ASC`

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	observeQuery("hardware_list", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list hardware: %w", err)
	}
	defer rows.Close()

	var items []*models.Hardware
	for rows.Next() {
		hw, err := scanHardware(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, hw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hardware: %w", err)
	}
	return items, nil
}

// GetHardware loads one live hardware item by UUID.
func (s *HardwareService) GetHardware(ctx context.Context, hardwareUUID string) (*models.Hardware, error) {
	return s.getHardware(ctx, hardwareUUID, false)
}

// GetHardwareAny loads a hardware item regardless of soft deletion. Worker
// drivers use this to see items they still have to tear down.
func (s *HardwareService) GetHardwareAny(ctx context.Context, hardwareUUID string) (*models.Hardware, error) {
	return s.getHardware(ctx, hardwareUUID, true)
}

func (s *HardwareService) getHardware(ctx context.Context, hardwareUUID string, includeDeleted bool) (*models.Hardware, error) {
	query := `
		SELECT id, uuid, project_id, name, hardware_type, properties, created_at, updated_at, deleted_at
		FROM hardware
		WHERE uuid = ?
	`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}

	start := time.Now()
	row := s.db.QueryRowContext(ctx, query, hardwareUUID)
	hw, err := scanHardware(row)
	observeQuery("hardware_get", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrHardwareNotFound
	}
	if err != nil {
		return nil, err
	}
	return hw, nil
}

// PatchHardware applies an RFC 6902 JSON patch to the hardware document. Only
// the name and properties may change; the patched document is re-validated
// before it is stored, and the item's worker tasks are reset to PENDING.
func (s *HardwareService) PatchHardware(ctx context.Context, hardwareUUID string, patchJSON []byte) (*models.Hardware, error) {
	hw, err := s.GetHardware(ctx, hardwareUUID)
	if err != nil {
		return nil, err
	}

	patch, err := jsonpatch.DecodePatch(patchJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidPatch, err)
	}
	if err := checkPatchOperations(patch); err != nil {
		return nil, err
	}

	doc, err := json.Marshal(hw.Document())
	if err != nil {
		return nil, fmt.Errorf("failed to encode hardware document: %w", err)
	}
	patched, err := patch.Apply(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidPatch, err)
	}

	var updated struct {
		UUID         string         `json:"uuid"`
		Name         string         `json:"name"`
		ProjectID    string         `json:"project_id"`
		HardwareType string         `json:"hardware_type"`
		Properties   map[string]any `json:"properties"`
	}
	if err := json.Unmarshal(patched, &updated); err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidPatch, err)
	}

	// Identity fields are immutable; re-enroll to change them.
	if updated.UUID != hw.UUID || updated.ProjectID != hw.ProjectID || updated.HardwareType != hw.HardwareType {
		return nil, fmt.Errorf("%w: uuid, project_id and hardware_type cannot be changed", models.ErrInvalidPatch)
	}
	if err := validateHardwareName(updated.Name); err != nil {
		return nil, err
	}

	// Properties the hardware type pins stay pinned.
	hwType, err := s.registry.HardwareType(hw.HardwareType)
	if err != nil {
		return nil, err
	}
	for name, pinned := range hwType.WorkerOverrides() {
		if v, ok := updated.Properties[name]; !ok || !reflect.DeepEqual(v, pinned) {
			return nil, fmt.Errorf("%w: property %q is set by hardware type %s and cannot be changed",
				models.ErrInvalidPatch, name, hw.HardwareType)
		}
	}

	if err := s.validateProperties(hw.HardwareType, updated.Properties); err != nil {
		return nil, err
	}

	propsJSON, err := json.Marshal(updated.Properties)
	if err != nil {
		return nil, fmt.Errorf("failed to encode properties: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin update: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	start := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE hardware
		SET name = ?, properties = ?, updated_at = ?
		WHERE uuid = ? AND deleted_at IS NULL
	`, updated.Name, string(propsJSON), now, hardwareUUID)
	observeQuery("hardware_update", start, err)
	if err != nil {
		if isUniqueConstraint(err) {
			return nil, models.ErrDuplicateName
		}
		return nil, fmt.Errorf("failed to update hardware: %w", err)
	}

	if err := resetWorkerTasks(ctx, tx, hardwareUUID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}

	hw.Name = updated.Name
	hw.Properties = updated.Properties
	hw.UpdatedAt = now

	s.logger.Info("updated hardware",
		zap.String("uuid", hw.UUID),
		zap.String("name", hw.Name),
	)
	return hw, nil
}

// DeleteHardware soft-deletes the hardware and resets its worker tasks so the
// drivers tear down external state. The row itself is kept.
func (s *HardwareService) DeleteHardware(ctx context.Context, hardwareUUID string) error {
	hw, err := s.GetHardware(ctx, hardwareUUID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	start := time.Now()
	result, err := tx.ExecContext(ctx, `
		UPDATE hardware
		SET deleted_at = ?, updated_at = ?
		WHERE uuid = ? AND deleted_at IS NULL
	`, now, now, hardwareUUID)
	observeQuery("hardware_delete", start, err)
	if err != nil {
		return fmt.Errorf("failed to delete hardware: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if rows == 0 {
		return models.ErrHardwareNotFound
	}

	if err := resetWorkerTasks(ctx, tx, hardwareUUID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	metrics.HardwareCount.WithLabelValues(hw.ProjectID, hw.HardwareType).Dec()
	s.logger.Info("deleted hardware",
		zap.String("uuid", hardwareUUID),
		zap.String("name", hw.Name),
	)
	return nil
}

// Serialize renders the hardware for an API response. Sensitive property
// values are always masked; private properties are removed entirely unless
// the caller is an admin or a member of the owning project.
func (s *HardwareService) Serialize(hw *models.Hardware, caller *models.APIToken) map[string]any {
	privileged := caller != nil && (caller.IsAdmin() || caller.ProjectID == hw.ProjectID)

	props := make(map[string]any, len(hw.Properties))
	for k, v := range hw.Properties {
		props[k] = v
	}

	fields, err := s.registry.Fields(hw.HardwareType)
	if err == nil {
		for _, f := range fields {
			if _, present := props[f.Name]; !present {
				continue
			}
			if f.Private && !privileged {
				delete(props, f.Name)
				continue
			}
			if f.Sensitive {
				props[f.Name] = SensitiveMask
			}
		}
	}

	return map[string]any{
		"uuid":          hw.UUID,
		"name":          hw.Name,
		"project_id":    hw.ProjectID,
		"hardware_type": hw.HardwareType,
		"properties":    props,
		"created_at":    hw.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":    hw.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// applyDefaults fills in absent properties: first the hardware type's pinned
// worker overrides, then field defaults. Overrides always win over values the
// caller supplied.
func (s *HardwareService) applyDefaults(hardwareType string, hwType driver.HardwareType, properties map[string]any) error {
	for name, value := range hwType.WorkerOverrides() {
		properties[name] = value
	}

	fields, err := s.registry.Fields(hardwareType)
	if err != nil {
		return err
	}
	for _, f := range fields {
		if f.Default == nil {
			continue
		}
		if _, present := properties[f.Name]; !present {
			properties[f.Name] = f.Default
		}
	}
	return nil
}

func (s *HardwareService) validateProperties(hardwareType string, properties map[string]any) error {
	validator, err := s.registry.Validator(hardwareType)
	if err != nil {
		return err
	}
	return validator.Validate(properties)
}

// hardwareDocumentKeys are the root attributes of the patchable document. An
// add must target one of them; new root attributes cannot be invented.
var hardwareDocumentKeys = map[string]bool{
	"uuid":          true,
	"name":          true,
	"project_id":    true,
	"hardware_type": true,
	"properties":    true,
}

// checkPatchOperations limits patches to add, replace and remove, and rejects
// adds that would introduce a new root attribute.
func checkPatchOperations(patch jsonpatch.Patch) error {
	for _, op := range patch {
		kind := op.Kind()
		switch kind {
		case "add", "replace", "remove":
		default:
			return fmt.Errorf("%w: operation %q is not allowed", models.ErrInvalidPatch, kind)
		}

		if kind != "add" {
			continue
		}
		path, err := op.Path()
		if err != nil {
			return fmt.Errorf("%w: %s", models.ErrInvalidPatch, err)
		}
		root := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)[0]
		if !hardwareDocumentKeys[root] {
			return fmt.Errorf("%w: cannot add attribute %q", models.ErrInvalidPatch, "/"+root)
		}
	}
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanHardware(row rowScanner) (*models.Hardware, error) {
	var hw models.Hardware
	var propsJSON string
	var deletedAt sql.NullTime

	err := row.Scan(&hw.ID, &hw.UUID, &hw.ProjectID, &hw.Name, &hw.HardwareType,
		&propsJSON, &hw.CreatedAt, &hw.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(propsJSON), &hw.Properties); err != nil {
		return nil, fmt.Errorf("failed to parse properties for %s: %w", hw.UUID, err)
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		hw.DeletedAt = &t
	}
	return &hw, nil
}

func validateHardwareName(name string) error {
	if len(strings.TrimSpace(name)) == 0 || len(name) > 255 {
		return fmt.Errorf("%w: name must be 1-255 characters", models.ErrInvalidRequest)
	}
	return nil
}

func isUniqueConstraint(err error) bool {
	if err == nil {
		return false
	}
	// SQLite constraint errors include "UNIQUE constraint failed"
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

func observeQuery(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueriesTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
