package auth

import "slices"

// Permission represents a named capability of the bridge API.
type Permission string

const (
	PermParameterRead  Permission = "ariston:read"
	PermParameterWrite Permission = "ariston:write"
	PermHistoryRead    Permission = "ariston:history"
	PermTokenIssue     Permission = "ariston:admin"
)

// rolePermissions maps each role to its granted permissions.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermParameterRead,
		PermHistoryRead,
	},
	RoleOperator: {
		PermParameterRead,
		PermParameterWrite,
		PermHistoryRead,
	},
	RoleAdmin: {
		PermParameterRead,
		PermParameterWrite,
		PermHistoryRead,
		PermTokenIssue,
	},
}

// HasPermission reports whether role grants perm. Unknown roles grant nothing.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}

// PermissionsForRole returns a copy of the permissions granted to role, or
// nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	return slices.Clone(rolePermissions[role])
}
