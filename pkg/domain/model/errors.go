package model

import "errors"

// Workflow and storage errors shared by every layer. Callers classify with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrValidation         = errors.New("validation failed")
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrConflict           = errors.New("conflict")
)

// Context keys for error values
const (
	ChangeRequestIDKey = "change_request_id"
	TicketIDKey        = "ticket_id"
	NotificationIDKey  = "notification_id"
	UserIDKey          = "user_id"
	FromStatusKey      = "from_status"
	ToStatusKey        = "to_status"
	RoleKey            = "role"
)
