package models

import "time"

// API token roles.
const (
	// RoleAdmin grants full access to the registry, including enrollment.
	RoleAdmin = "admin"

	// RoleMember grants access to hardware owned by the token's project.
	RoleMember = "member"
)

// APIToken is a bearer credential for the REST API. Only the HMAC hash of
// the token value is stored; the plaintext is shown once at issue time.
type APIToken struct {
	// ID is the internal database row ID.
	ID int64 `json:"-" db:"id"`

	// TokenHash is the hex-encoded HMAC-SHA256 of the token value.
	// Never returned in API responses.
	TokenHash string `json:"-" db:"token_hash"`

	// Name is a human-readable label for the token (e.g., "ci-enroller").
	Name string `json:"name" db:"name"`

	// ProjectID is the project the token acts on behalf of.
	ProjectID string `json:"project_id" db:"project_id"`

	// Role is either RoleAdmin or RoleMember.
	Role string `json:"role" db:"role"`

	// CreatedAt is the timestamp when the token was issued.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// LastUsedAt tracks the most recent authenticated request.
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`

	// RevokedAt is set when the token has been revoked.
	RevokedAt *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}

// IsAdmin reports whether the token carries the admin role.
func (t *APIToken) IsAdmin() bool {
	return t.Role == RoleAdmin
}
