package models

import "time"

// Worker task states. A task is created PENDING, picked up by the worker
// process and marked IN_PROGRESS, and lands in STEADY on success or ERROR on
// failure. A deferred task returns to PENDING to be retried on a later sweep.
const (
	WorkerStatePending    = "PENDING"
	WorkerStateInProgress = "IN_PROGRESS"
	WorkerStateError      = "ERROR"
	WorkerStateSteady     = "STEADY"
)

// Bookkeeping keys the worker manager maintains inside a task's state
// details. Driver payload keys live alongside these and are preserved across
// retries; the bookkeeping keys are cleared when a task reaches STEADY.
const (
	// DetailLastError records the message of the most recent failure.
	DetailLastError = "last_error"

	// DetailDeferCount counts how many times the task has been deferred.
	DetailDeferCount = "defer_count"

	// DetailDeferReason records why the task was last deferred.
	DetailDeferReason = "defer_reason"

	// DetailFallbackResult stores a driver return value that was not a
	// recognized result type.
	DetailFallbackResult = "result"
)

// WorkerTask tracks the synchronization of one hardware item into one
// external service. There is at most one task per (hardware, worker type)
// pair; re-synchronization is expressed by resetting the task to PENDING.
type WorkerTask struct {
	// ID is the internal database row ID.
	ID int64 `json:"-" db:"id"`

	// UUID is the unique identifier for this task.
	UUID string `json:"uuid" db:"uuid"`

	// HardwareUUID references the hardware this task synchronizes.
	HardwareUUID string `json:"hardware_uuid" db:"hardware_uuid"`

	// WorkerType is the name of the worker driver (e.g., "k8s",
	// "blazar.physical_host").
	WorkerType string `json:"worker_type" db:"worker_type"`

	// State is one of the WorkerState* constants.
	State string `json:"state" db:"state"`

	// StateDetails carries bookkeeping keys plus any payload the driver
	// chose to persist (external IDs, sync timestamps, etc.).
	StateDetails map[string]any `json:"state_details" db:"state_details"`

	// CreatedAt is the timestamp when this task was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the last state change.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsPending reports whether the task is waiting to be processed.
func (t *WorkerTask) IsPending() bool {
	return t.State == WorkerStatePending
}
