package domain

// Permission is an ordered capability level: admin implies write implies read.
type Permission int

const (
	PermissionRead Permission = iota + 1
	PermissionWrite
	PermissionAdmin
)

func (p Permission) String() string {
	switch p {
	case PermissionRead:
		return "read"
	case PermissionWrite:
		return "write"
	case PermissionAdmin:
		return "admin"
	default:
		return "none"
	}
}

// Allows reports whether holding p is enough for required.
func (p Permission) Allows(required Permission) bool {
	return p >= required && required > 0
}
