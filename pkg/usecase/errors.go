package usecase

import (
	"errors"

	"github.com/secmon-lab/changegate/pkg/domain/model"
)

// Sentinel errors for use case layer
var (
	// ErrNotLoggedIn is returned by the device agent before `changegate login`
	ErrNotLoggedIn = errors.New("not logged in")
)

// Context keys for error values
const (
	NotesKey     = "notes"
	AssessorKey  = "assessor_id"
	AssigneeKey  = "assigned_technician_id"
	FieldKey     = "field"
	ValidatorKey = "validator"
)

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}
