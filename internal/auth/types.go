package auth

import "errors"

// Role is the authorisation tier carried in a token.
type Role string

const (
	// RoleViewer can read parameters and set history.
	RoleViewer Role = "viewer"

	// RoleOperator can additionally change parameters.
	RoleOperator Role = "operator"

	// RoleAdmin can do everything, including minting tokens.
	RoleAdmin Role = "admin"
)

// IsValidRole reports whether role is one of the defined tiers.
func IsValidRole(role Role) bool {
	_, ok := rolePermissions[role]
	return ok
}

// Authentication errors.
var (
	ErrTokenInvalid = errors.New("auth: invalid token")
	ErrTokenMissing = errors.New("auth: missing bearer token")
	ErrForbidden    = errors.New("auth: insufficient permissions")
	ErrInvalidRole  = errors.New("auth: unknown role")
)
