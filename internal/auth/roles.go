package auth

// Role is an administrative role carried in the token.
type Role string

const (
	// RoleEditor may list, create, update and soft delete stations.
	RoleEditor Role = "editor"
	// RoleAdmin may additionally run the destructive snapshot import.
	RoleAdmin Role = "admin"
)

// NormalizeRole validates and normalizes a role string.
func NormalizeRole(value string) (Role, bool) {
	switch Role(value) {
	case RoleEditor, RoleAdmin:
		return Role(value), true
	default:
		return "", false
	}
}

// RoleAtLeast returns true when role satisfies required role.
func RoleAtLeast(role Role, required Role) bool {
	return roleRank(role) >= roleRank(required)
}

func roleRank(role Role) int {
	switch role {
	case RoleEditor:
		return 1
	case RoleAdmin:
		return 2
	default:
		return 0
	}
}
