package auth

import "strings"

// Role is the permission level carried in a token's role claim. Roles are
// ordered: each one includes everything the roles below it may do.
type Role string

const (
	// RoleViewer reads stored allocations, validation results, previews and
	// reports for the sites in its scope.
	RoleViewer Role = "viewer"
	// RoleOperator may also run a month's calculation and apply manual
	// overrides for the sites in its scope.
	RoleOperator Role = "operator"
	// RoleAdmin has every operator permission. Site scope still applies, so
	// a scoped admin recalculation leaves rows of unseen sites untouched.
	RoleAdmin Role = "admin"
)

// NormalizeRole maps a role claim, case-insensitively, to a known role.
func NormalizeRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if roleRank(role) == 0 {
		return "", false
	}
	return role, true
}

// RoleAtLeast reports whether role satisfies required.
func RoleAtLeast(role Role, required Role) bool {
	return roleRank(role) >= roleRank(required)
}

func roleRank(role Role) int {
	switch role {
	case RoleViewer:
		return 1
	case RoleOperator:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}
