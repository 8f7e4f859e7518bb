package usecase

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/model"
)

// ValidationIssue represents a single inconsistency found in the store
type ValidationIssue struct {
	ChangeRequestID string
	TicketID        string
	Message         string
	Expected        string
	Actual          string
}

// ValidationResult holds the results of DB validation
type ValidationResult struct {
	Checked int
	Issues  []ValidationIssue
}

// HasIssues returns true if there are any validation issues
func (r *ValidationResult) HasIssues() bool {
	return len(r.Issues) > 0
}

// AddIssue adds a validation issue to the result
func (r *ValidationResult) AddIssue(issue ValidationIssue) {
	r.Issues = append(r.Issues, issue)
}

// ValidateDB checks every stored change request against the workflow in use:
// the record itself, its history walk and the status the walk ends at.
// It does NOT modify any data.
func (uc *UseCases) ValidateDB(ctx context.Context) (*ValidationResult, error) {
	result := &ValidationResult{}

	crs, err := uc.repo.ChangeRequest().List(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list change requests")
	}

	for _, cr := range crs {
		result.Checked++
		issue := func(msg, expected, actual string) {
			result.AddIssue(ValidationIssue{
				ChangeRequestID: cr.ID.String(),
				TicketID:        cr.TicketID.String(),
				Message:         msg,
				Expected:        expected,
				Actual:          actual,
			})
		}

		if err := cr.Validate(); err != nil {
			issue("invalid record", "", err.Error())
			continue
		}

		histories, err := uc.repo.ApprovalHistory().List(ctx, cr.ID)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list history", goerr.V(model.ChangeRequestIDKey, cr.ID))
		}

		if len(histories) != cr.Revision {
			issue("history length differs from revision", fmt.Sprint(cr.Revision), fmt.Sprint(len(histories)))
			continue
		}

		end, err := uc.workflow.ValidateWalk(histories)
		if err != nil {
			issue("history is not a valid walk", "", err.Error())
			continue
		}
		if end != cr.Status {
			issue("history does not end at current status", cr.Status.String(), end.String())
		}
	}

	return result, nil
}
