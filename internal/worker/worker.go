// Package worker defines the worker driver contract and the background
// manager that pushes hardware state out to external services.
//
// Every enrollment creates one task per enabled worker type. The manager
// sweeps tasks in the PENDING state, invokes the matching driver, and records
// the outcome: STEADY when the external state converged, ERROR when the
// driver failed, or back to PENDING when the driver asked to defer because a
// precondition is not met yet.
package worker

import (
	"context"
	"time"

	"github.com/chameleoncloud/doni/internal/schema"
	"github.com/chameleoncloud/doni/models"
)

// Result is the outcome of one driver invocation.
type Result interface {
	// Payload returns driver bookkeeping to merge into the task's
	// state_details.
	Payload() map[string]any
}

// Success reports that the external state converged.
type Success struct {
	// Details is merged into the task's state_details under the drivers'
	// result key.
	Details map[string]any
}

func (s Success) Payload() map[string]any { return s.Details }

// Defer reports that processing cannot complete yet and should be retried on
// a later sweep, e.g. because another worker has not finished or an external
// service is temporarily unreachable.
type Defer struct {
	// Details is merged into the task's state_details.
	Details map[string]any

	// Reason is recorded in state_details for operators.
	Reason string
}

func (d Defer) Payload() map[string]any { return d.Details }

// Field is one hardware property a driver cares about.
type Field struct {
	// Name is the property key.
	Name string

	// Schema validates the property value.
	Schema schema.Fragment

	// Required marks the property as mandatory at enrollment.
	Required bool

	// Private hides the property from non-admin callers.
	Private bool

	// Sensitive masks the property value in every serialization.
	Sensitive bool

	// Default is applied when the property is absent. Nil means no default.
	Default any

	// Description documents the property.
	Description string
}

// Worker synchronizes one aspect of a hardware item to an external service.
type Worker interface {
	// WorkerType is the unique driver name, e.g. "blazar.physical_host".
	WorkerType() string

	// Fields lists the hardware properties this driver reads or validates.
	Fields() []Field

	// Process reconciles external state for the hardware item. The item's
	// availability windows are passed for drivers that sync reservations.
	// The task's current state_details are passed in so drivers can read
	// their own bookkeeping from earlier runs. Soft-deleted hardware is
	// passed to drivers so they can tear external state down.
	Process(ctx context.Context, hw *models.Hardware, windows []*models.AvailabilityWindow, stateDetails map[string]any) (Result, error)
}

// Periodic is a recurring driver job that runs independently of any one
// task, e.g. an expiry sweep against an external service.
type Periodic struct {
	// Name identifies the job in logs.
	Name string

	// Interval is the period between runs.
	Interval time.Duration

	// Run executes one iteration.
	Run func(ctx context.Context) error
}

// PeriodicRunner is implemented by workers that carry recurring jobs.
type PeriodicRunner interface {
	Periodics() []Periodic
}

// Importer is implemented by workers that can enumerate hardware already
// present in their external service, for seeding a fresh registry.
type Importer interface {
	// ImportExisting lists hardware known to the external service.
	ImportExisting(ctx context.Context) ([]ImportedHardware, error)
}

// ImportedHardware is one record discovered by an Importer.
type ImportedHardware struct {
	// UUID of the existing record, if the external service tracked one.
	UUID string

	// Name of the hardware item.
	Name string

	// ProjectID owning the item.
	ProjectID string

	// HardwareType the item should be enrolled as.
	HardwareType string

	// Properties holds everything the external service knew about the item.
	Properties map[string]any
}
