package models

import "time"

// AvailabilityWindow expresses a period during which a hardware item is
// available for reservation. Windows are synchronized to the reservation
// service (Blazar) as leases by the blazar worker drivers.
type AvailabilityWindow struct {
	// ID is the internal database row ID.
	ID int64 `json:"-" db:"id"`

	// UUID is the unique identifier for this window.
	UUID string `json:"uuid" db:"uuid"`

	// HardwareUUID references the hardware this window applies to.
	HardwareUUID string `json:"hardware_uuid" db:"hardware_uuid"`

	// Start is the beginning of the window (UTC).
	Start time.Time `json:"start" db:"start"`

	// End is the end of the window (UTC).
	End time.Time `json:"end" db:"end"`

	// CreatedAt is the timestamp when this window was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the last update.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Document returns the window as a JSON-style document for patch handling.
func (w *AvailabilityWindow) Document() map[string]any {
	return map[string]any{
		"uuid":  w.UUID,
		"start": w.Start.UTC().Format(time.RFC3339),
		"end":   w.End.UTC().Format(time.RFC3339),
	}
}
