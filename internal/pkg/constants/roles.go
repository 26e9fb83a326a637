package constants

const (
	Student = "student"
	Faculty = "faculty"
	Admin   = "admin"
)

// ValidRoles is the set of allowed values for Users.role.
var ValidRoles = []string{Student, Faculty, Admin}

// IsValidRole returns true if role is one of the allowed values.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}

// IsReviewer reports whether role may decide on certificate requests.
func IsReviewer(role string) bool {
	return role == Faculty || role == Admin
}
