package models

// Role identifies what a signed-in user may do. Exactly two roles exist;
// authorization compares the typed value, never a raw string from a request.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleTeacher, RoleStudent:
		return true
	}
	return false
}
