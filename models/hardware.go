package models

import "time"

// Hardware represents a single hardware item enrolled in the registry.
//
// A hardware item belongs to exactly one project and has exactly one hardware
// type. The hardware type determines which worker drivers synchronize the
// item into external services, and which property fields are valid.
type Hardware struct {
	// ID is the internal database row ID.
	ID int64 `json:"-" db:"id"`

	// UUID is the unique identifier for this hardware (UUID v4 format).
	// It is the stable handle used by workers and external services.
	UUID string `json:"uuid" db:"uuid"`

	// ProjectID is the owning project's identifier. Policy rules scope
	// non-admin access to hardware in the caller's project.
	ProjectID string `json:"project_id" db:"project_id"`

	// Name is the human-readable hardware name (e.g., "nc-01").
	// Must be unique across the registry.
	Name string `json:"name" db:"name"`

	// HardwareType is the name of the hardware type driver (e.g.,
	// "baremetal", "device.balena-k8s"). It selects the set of worker
	// drivers and the property schema for this item.
	HardwareType string `json:"hardware_type" db:"hardware_type"`

	// Properties is the free-form property document for this hardware.
	// Its keys are validated against the hardware type's composed schema
	// at enrollment and update time. Workers persist no state here; their
	// state lives in the worker task's state details.
	Properties map[string]any `json:"properties" db:"properties"`

	// CreatedAt is the timestamp when this hardware was enrolled.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the last update.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// DeletedAt is set when the hardware is soft-deleted. Deleted hardware
	// is hidden from API reads, but remains visible to worker drivers so
	// they can tear down external state.
	DeletedAt *time.Time `json:"-" db:"deleted_at"`
}

// Deleted reports whether this hardware has been soft-deleted.
func (h *Hardware) Deleted() bool {
	return h.DeletedAt != nil
}

// Document returns the hardware as a flat JSON-style document, the shape
// JSON patches are applied against.
func (h *Hardware) Document() map[string]any {
	props := make(map[string]any, len(h.Properties))
	for k, v := range h.Properties {
		props[k] = v
	}
	return map[string]any{
		"uuid":          h.UUID,
		"name":          h.Name,
		"project_id":    h.ProjectID,
		"hardware_type": h.HardwareType,
		"properties":    props,
	}
}

// HardwareEnrollRequest is the request body for enrolling new hardware.
type HardwareEnrollRequest struct {
	// Name is the desired hardware name (required, unique).
	Name string `json:"name"`

	// UUID optionally pins the hardware UUID; generated when empty.
	UUID string `json:"uuid,omitempty"`

	// ProjectID is the owning project (required).
	ProjectID string `json:"project_id"`

	// HardwareType selects the hardware type driver (required).
	HardwareType string `json:"hardware_type"`

	// Properties is the initial property document.
	Properties map[string]any `json:"properties"`
}
