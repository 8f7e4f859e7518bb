package types

import (
	"regexp"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

var idPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ChangeRequestID identifies a change request across every store and device
type ChangeRequestID string

// NewChangeRequestID generates a time-ordered UUID v7 identifier
func NewChangeRequestID() ChangeRequestID {
	return ChangeRequestID(newUUID())
}

// Validate checks if the ChangeRequestID is a UUID
func (id ChangeRequestID) Validate() error {
	return validateUUID("change request ID", string(id))
}

// String returns the string representation of ChangeRequestID
func (id ChangeRequestID) String() string {
	return string(id)
}

// HistoryID identifies an approval history entry
type HistoryID string

// NewHistoryID generates a time-ordered UUID v7 identifier
func NewHistoryID() HistoryID {
	return HistoryID(newUUID())
}

// Validate checks if the HistoryID is a UUID
func (id HistoryID) Validate() error {
	return validateUUID("history ID", string(id))
}

// String returns the string representation of HistoryID
func (id HistoryID) String() string {
	return string(id)
}

// NotificationID identifies a notification
type NotificationID string

// NewNotificationID generates a time-ordered UUID v7 identifier
func NewNotificationID() NotificationID {
	return NotificationID(newUUID())
}

// Validate checks if the NotificationID is a UUID
func (id NotificationID) Validate() error {
	return validateUUID("notification ID", string(id))
}

// String returns the string representation of NotificationID
func (id NotificationID) String() string {
	return string(id)
}

// UserID identifies a user from the configured directory
type UserID string

// Validate checks if the UserID is well formed
func (id UserID) Validate() error {
	if id == "" {
		return goerr.New("user ID cannot be empty")
	}
	if !idPattern.MatchString(string(id)) {
		return goerr.New("user ID must be lowercase alphanumeric with hyphens", goerr.V("id", id))
	}
	return nil
}

// String returns the string representation of UserID
func (id UserID) String() string {
	return string(id)
}

func newUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source fails
		return uuid.New().String()
	}
	return id.String()
}

func validateUUID(kind, s string) error {
	if s == "" {
		return goerr.New(kind + " cannot be empty")
	}
	if _, err := uuid.Parse(s); err != nil {
		return goerr.Wrap(err, kind+" must be a UUID", goerr.V("id", s))
	}
	return nil
}
