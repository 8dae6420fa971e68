package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
// These are platform access roles, distinct from the engagement
// ownership roles in internal/engagement.
const (
	RoleAdmin           = "admin"
	RoleManager         = "manager"
	RoleSalesRep        = "sales_rep"
	RoleDoctor          = "doctor"
	RoleSupportOperator = "support_operator" // hidden role
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsHiddenRole(role string) bool { return role == RoleSupportOperator }
