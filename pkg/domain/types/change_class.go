package types

import "fmt"

// ChangeClass is the ITIL classification of a change request
type ChangeClass string

const (
	ChangeClassStandard  ChangeClass = "STANDARD"
	ChangeClassMinor     ChangeClass = "MINOR"
	ChangeClassMajor     ChangeClass = "MAJOR"
	ChangeClassEmergency ChangeClass = "EMERGENCY"
)

// AllChangeClasses returns all valid change classes
func AllChangeClasses() []ChangeClass {
	return []ChangeClass{
		ChangeClassStandard,
		ChangeClassMinor,
		ChangeClassMajor,
		ChangeClassEmergency,
	}
}

// IsValid checks if the change class is valid
func (c ChangeClass) IsValid() bool {
	switch c {
	case ChangeClassStandard,
		ChangeClassMinor,
		ChangeClassMajor,
		ChangeClassEmergency:
		return true
	default:
		return false
	}
}

// String returns the string representation of the change class
func (c ChangeClass) String() string {
	return string(c)
}

// ParseChangeClass parses a string into a ChangeClass
func ParseChangeClass(s string) (ChangeClass, error) {
	class := ChangeClass(s)
	if !class.IsValid() {
		return "", fmt.Errorf("invalid change class: %s", s)
	}
	return class, nil
}
