package domain

// Role names carried on accounts and in access-token claims.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// ValidRole reports whether r is a known role name.
func ValidRole(r string) bool {
	return r == RoleUser || r == RoleAdmin
}
