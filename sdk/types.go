package sdk

import "time"

// Hardware is one registry item as returned by the doni API. Properties the
// caller is not allowed to see are absent; sensitive values arrive masked.
type Hardware struct {
	// UUID is the unique identifier of the hardware item.
	UUID string `json:"uuid"`

	// Name is the unique human-readable name.
	Name string `json:"name"`

	// ProjectID is the owning project.
	ProjectID string `json:"project_id"`

	// HardwareType names the hardware type driver, e.g. "baremetal".
	HardwareType string `json:"hardware_type"`

	// Properties is the validated property document.
	Properties map[string]any `json:"properties"`

	// Workers lists the synchronization tasks for this item. Only present
	// on single-item GET responses.
	Workers []WorkerTask `json:"workers,omitempty"`

	// CreatedAt is when the item was enrolled.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the item last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkerTask tracks synchronization of one hardware item to one external
// service.
type WorkerTask struct {
	// UUID is the unique identifier of the task.
	UUID string `json:"uuid"`

	// HardwareUUID is the hardware item the task belongs to.
	HardwareUUID string `json:"hardware_uuid"`

	// WorkerType names the driver, e.g. "blazar.physical_host".
	WorkerType string `json:"worker_type"`

	// State is PENDING, IN_PROGRESS, STEADY, or ERROR.
	State string `json:"state"`

	// StateDetails carries driver bookkeeping and error details.
	StateDetails map[string]any `json:"state_details"`

	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the task last changed state.
	UpdatedAt time.Time `json:"updated_at"`
}

// AvailabilityWindow is one reservable time range for a hardware item.
type AvailabilityWindow struct {
	// UUID is the unique identifier of the window.
	UUID string `json:"uuid"`

	// HardwareUUID is the hardware item the window applies to.
	HardwareUUID string `json:"hardware_uuid"`

	// Start is the beginning of the window (UTC).
	Start time.Time `json:"start"`

	// End is the end of the window (UTC).
	End time.Time `json:"end"`

	// CreatedAt is when the window was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the window last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// EnrollRequest is the body for enrolling new hardware.
type EnrollRequest struct {
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

// PatchOp is one RFC 6902 JSON patch operation.
type PatchOp struct {
	// Op is "add", "remove", "replace", "move", "copy", or "test".
	Op string `json:"op"`

	// Path is the JSON pointer the operation targets.
	Path string `json:"path"`

	// Value is the operand, where the operation takes one.
	Value any `json:"value,omitempty"`

	// From is the source pointer for "move" and "copy".
	From string `json:"from,omitempty"`
}

// WindowRequest is the body for creating or updating an availability window.
type WindowRequest struct {
	// Start is the beginning of the window.
	Start time.Time `json:"start"`

	// End is the end of the window; must be after Start.
	End time.Time `json:"end"`
}

// ErrorResponse is the error body the doni API returns.
type ErrorResponse struct {
	// Error is the machine-readable error code, e.g. "not_found".
	Error string `json:"error"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// RequestID is the unique request ID for tracing.
	RequestID string `json:"request_id,omitempty"`
}
