package types

import "fmt"

// Role is the workflow role of an actor
type Role string

const (
	// RoleUser is an end user who submits change requests
	RoleUser       Role = "USER"
	RoleTechnician Role = "TECHNICIAN"
	RoleAdmin      Role = "ADMIN"
)

// AllRoles returns all valid roles
func AllRoles() []Role {
	return []Role{RoleUser, RoleTechnician, RoleAdmin}
}

// IsValid checks if the role is valid
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleTechnician, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsStaff reports whether the role reviews change requests of other users
func (r Role) IsStaff() bool {
	return r == RoleTechnician || r == RoleAdmin
}

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// ParseRole parses a string into a Role
func ParseRole(s string) (Role, error) {
	role := Role(s)
	if !role.IsValid() {
		return "", fmt.Errorf("invalid role: %s", s)
	}
	return role, nil
}
