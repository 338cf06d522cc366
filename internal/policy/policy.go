// Package policy enforces access rules for registry operations.
//
// Rules are evaluated against the authenticated API token and, where the
// operation targets an existing record, that record's owning project.
package policy

import (
	"fmt"

	"github.com/chameleoncloud/doni/models"
)

// Rule names for registry operations.
const (
	RuleHardwareGet    = "hardware:get"
	RuleHardwareCreate = "hardware:create"
	RuleHardwareUpdate = "hardware:update"
	RuleHardwareDelete = "hardware:delete"
)

// Authorize checks whether the token may perform the operation named by rule
// against a record owned by targetProjectID. For create operations there is
// no target record; pass an empty targetProjectID.
//
// Admin tokens may perform any operation. Member tokens may read and modify
// hardware owned by their own project, but may not create hardware.
func Authorize(rule string, token *models.APIToken, targetProjectID string) error {
	if token == nil {
		return models.ErrUnauthorized
	}
	if token.IsAdmin() {
		return nil
	}

	switch rule {
	case RuleHardwareGet, RuleHardwareUpdate, RuleHardwareDelete:
		if token.ProjectID == targetProjectID {
			return nil
		}
		return fmt.Errorf("%w: project %s may not access this record", models.ErrForbidden, token.ProjectID)
	case RuleHardwareCreate:
		return fmt.Errorf("%w: hardware enrollment requires an admin token", models.ErrForbidden)
	default:
		return fmt.Errorf("%w: unknown policy rule %q", models.ErrForbidden, rule)
	}
}
