package model

import (
	"slices"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/model/auth"
	"github.com/secmon-lab/changegate/pkg/domain/types"
)

// Rule is one permitted edge of the change request workflow
type Rule struct {
	From                   types.ChangeStatus
	To                     types.ChangeStatus
	Roles                  []types.Role
	Notify                 bool
	RequiresRiskAssessment bool
}

// Allows reports whether role may take this edge
func (r Rule) Allows(role types.Role) bool {
	return slices.Contains(r.Roles, role)
}

type edge struct {
	from types.ChangeStatus
	to   types.ChangeStatus
}

// Workflow is the transition table consulted by every status change
type Workflow struct {
	rules map[edge]Rule
	order []edge
}

var (
	staffRoles = []types.Role{types.RoleTechnician, types.RoleAdmin}
	adminRoles = []types.Role{types.RoleAdmin}
)

// DefaultRules returns the built-in transition table
func DefaultRules() []Rule {
	s := func(from, to types.ChangeStatus, roles []types.Role, notify bool) Rule {
		return Rule{From: from, To: to, Roles: roles, Notify: notify}
	}
	approve := s(types.ChangeStatusReviewed, types.ChangeStatusApproved, staffRoles, true)
	approve.RequiresRiskAssessment = true

	return []Rule{
		s(types.ChangeStatusSubmitted, types.ChangeStatusReviewed, staffRoles, true),
		s(types.ChangeStatusSubmitted, types.ChangeStatusRevision, staffRoles, true),
		s(types.ChangeStatusSubmitted, types.ChangeStatusClosed, adminRoles, true),
		s(types.ChangeStatusRevision, types.ChangeStatusSubmitted, []types.Role{types.RoleUser}, false),
		s(types.ChangeStatusRevision, types.ChangeStatusClosed, []types.Role{types.RoleUser, types.RoleAdmin}, true),
		approve,
		s(types.ChangeStatusReviewed, types.ChangeStatusRevision, staffRoles, true),
		s(types.ChangeStatusReviewed, types.ChangeStatusClosed, adminRoles, true),
		s(types.ChangeStatusApproved, types.ChangeStatusScheduled, staffRoles, true),
		s(types.ChangeStatusApproved, types.ChangeStatusClosed, adminRoles, true),
		s(types.ChangeStatusScheduled, types.ChangeStatusImplementing, staffRoles, true),
		s(types.ChangeStatusScheduled, types.ChangeStatusClosed, adminRoles, true),
		s(types.ChangeStatusImplementing, types.ChangeStatusCompleted, staffRoles, true),
		s(types.ChangeStatusImplementing, types.ChangeStatusFailed, staffRoles, true),
	}
}

// DefaultWorkflow returns the workflow built from DefaultRules
func DefaultWorkflow() *Workflow {
	w, err := NewWorkflow(DefaultRules())
	if err != nil {
		panic("default workflow is invalid: " + err.Error())
	}
	return w
}

// NewWorkflow validates rules and builds a workflow from them
func NewWorkflow(rules []Rule) (*Workflow, error) {
	if len(rules) == 0 {
		return nil, goerr.Wrap(ErrValidation, "workflow has no transitions")
	}

	w := &Workflow{rules: make(map[edge]Rule, len(rules))}
	for _, r := range rules {
		if !r.From.IsValid() || !r.To.IsValid() {
			return nil, goerr.Wrap(ErrValidation, "transition has invalid status",
				goerr.V(FromStatusKey, r.From), goerr.V(ToStatusKey, r.To))
		}
		if r.From == r.To {
			return nil, goerr.Wrap(ErrValidation, "transition must change status", goerr.V(FromStatusKey, r.From))
		}
		if r.From.IsTerminal() {
			return nil, goerr.Wrap(ErrValidation, "terminal status cannot have outgoing transitions",
				goerr.V(FromStatusKey, r.From), goerr.V(ToStatusKey, r.To))
		}
		if len(r.Roles) == 0 {
			return nil, goerr.Wrap(ErrValidation, "transition has no roles",
				goerr.V(FromStatusKey, r.From), goerr.V(ToStatusKey, r.To))
		}
		for _, role := range r.Roles {
			if !role.IsValid() {
				return nil, goerr.Wrap(ErrValidation, "transition has invalid role",
					goerr.V(FromStatusKey, r.From), goerr.V(ToStatusKey, r.To), goerr.V(RoleKey, role))
			}
		}

		e := edge{from: r.From, to: r.To}
		if _, dup := w.rules[e]; dup {
			return nil, goerr.Wrap(ErrValidation, "duplicate transition",
				goerr.V(FromStatusKey, r.From), goerr.V(ToStatusKey, r.To))
		}
		r.Roles = slices.Clone(r.Roles)
		w.rules[e] = r
		w.order = append(w.order, e)
	}

	if len(w.Next(types.ChangeStatusSubmitted)) == 0 {
		return nil, goerr.Wrap(ErrValidation, "workflow has no transition out of SUBMITTED")
	}
	return w, nil
}

// Rule returns the rule for the edge from -> to
func (w *Workflow) Rule(from, to types.ChangeStatus) (Rule, bool) {
	r, ok := w.rules[edge{from: from, to: to}]
	return r, ok
}

// Next returns the statuses reachable from the given status in one step
func (w *Workflow) Next(from types.ChangeStatus) []types.ChangeStatus {
	var result []types.ChangeStatus
	for _, e := range w.order {
		if e.from == from {
			result = append(result, e.to)
		}
	}
	return result
}

// Rules returns every rule in declaration order
func (w *Workflow) Rules() []Rule {
	result := make([]Rule, 0, len(w.order))
	for _, e := range w.order {
		result = append(result, w.rules[e])
	}
	return result
}

// Authorize checks that actor may move cr to the target status. The returned
// rule carries the side effects of the edge.
func (w *Workflow) Authorize(cr *ChangeRequest, to types.ChangeStatus, actor auth.Actor) (Rule, error) {
	rule, ok := w.Rule(cr.Status, to)
	if !ok {
		return Rule{}, goerr.Wrap(ErrInvalidTransition, "transition is not permitted",
			goerr.V(ChangeRequestIDKey, cr.ID),
			goerr.V(FromStatusKey, cr.Status),
			goerr.V(ToStatusKey, to))
	}

	if !rule.Allows(actor.Role) {
		return Rule{}, goerr.Wrap(ErrUnauthorized, "role may not perform transition",
			goerr.V(ChangeRequestIDKey, cr.ID),
			goerr.V(RoleKey, actor.Role),
			goerr.V(FromStatusKey, cr.Status),
			goerr.V(ToStatusKey, to))
	}

	switch actor.Role {
	case types.RoleUser:
		if actor.ID != cr.SubmittedBy {
			return Rule{}, goerr.Wrap(ErrUnauthorized, "only the requester may perform transition",
				goerr.V(ChangeRequestIDKey, cr.ID), goerr.V(UserIDKey, actor.ID))
		}
	case types.RoleTechnician:
		if cr.AssignedTechnicianID != "" && cr.AssignedTechnicianID != actor.ID {
			return Rule{}, goerr.Wrap(ErrUnauthorized, "change request is assigned to another technician",
				goerr.V(ChangeRequestIDKey, cr.ID),
				goerr.V(UserIDKey, actor.ID),
				goerr.V("assigned_technician_id", cr.AssignedTechnicianID))
		}
	}

	return rule, nil
}

// ValidateWalk checks that histories, ordered by sequence, form a walk through
// the workflow starting at SUBMITTED. It returns the status the walk ends at.
func (w *Workflow) ValidateWalk(histories []*ApprovalHistory) (types.ChangeStatus, error) {
	current := types.ChangeStatusSubmitted
	for i, h := range histories {
		if h.Sequence != i+1 {
			return "", goerr.Wrap(ErrInvalidTransition, "history sequence has a gap",
				goerr.V(ChangeRequestIDKey, h.ChangeRequestID),
				goerr.V("expected", i+1),
				goerr.V("actual", h.Sequence))
		}
		if h.FromStatus != current {
			return "", goerr.Wrap(ErrInvalidTransition, "history does not continue from previous status",
				goerr.V(ChangeRequestIDKey, h.ChangeRequestID),
				goerr.V("sequence", h.Sequence),
				goerr.V("expected", current),
				goerr.V(FromStatusKey, h.FromStatus))
		}
		if _, ok := w.Rule(h.FromStatus, h.ToStatus); !ok {
			return "", goerr.Wrap(ErrInvalidTransition, "history contains a forbidden transition",
				goerr.V(ChangeRequestIDKey, h.ChangeRequestID),
				goerr.V("sequence", h.Sequence),
				goerr.V(FromStatusKey, h.FromStatus),
				goerr.V(ToStatusKey, h.ToStatus))
		}
		current = h.ToStatus
	}
	return current, nil
}
