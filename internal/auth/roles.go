package auth

// Role is the access level of a dashboard user within their customer.
type Role string

const (
	// RoleViewer watches cold cells and alerts.
	RoleViewer Role = "viewer"
	// RoleOperator also acknowledges and resolves alerts.
	RoleOperator Role = "operator"
	// RoleAdmin also changes cold cell settings and the escalation config.
	RoleAdmin Role = "admin"
)

var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// NormalizeRole maps a claim value to a known role.
func NormalizeRole(value string) (Role, bool) {
	role := Role(value)
	if _, ok := roleRanks[role]; !ok {
		return "", false
	}
	return role, true
}

// RoleAtLeast reports whether role grants everything required grants.
// Unknown roles grant nothing.
func RoleAtLeast(role Role, required Role) bool {
	rank, ok := roleRanks[role]
	return ok && rank >= roleRanks[required]
}
