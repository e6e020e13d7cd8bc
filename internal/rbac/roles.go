package rbac

// Role names. Keep these stable; they are part of the call-token contract.
const (
	RoleFan     = "fan"
	RoleCreator = "creator"
	RoleAdmin   = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }
