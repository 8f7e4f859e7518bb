package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
	"github.com/secmon-lab/changegate/pkg/usecase"
)

type transitionRequest struct {
	To    types.ChangeStatus `json:"to"`
	Notes string             `json:"notes"`
}

type resubmitRequest struct {
	usecase.ChangeRequestForm
	Notes string `json:"notes"`
}

type riskRequest struct {
	Impact     int `json:"impact"`
	Likelihood int `json:"likelihood"`
	Exposure   int `json:"exposure"`
}

type transitionResponse struct {
	ChangeRequest *model.ChangeRequest   `json:"change_request"`
	History       *model.ApprovalHistory `json:"history"`
	Notification  *model.Notification    `json:"notification,omitempty"`
}

type ruleResponse struct {
	From                   types.ChangeStatus `json:"from"`
	To                     types.ChangeStatus `json:"to"`
	Roles                  []types.Role       `json:"roles"`
	Notify                 bool               `json:"notify"`
	RequiresRiskAssessment bool               `json:"requires_risk_assessment"`
}

func changeRequestID(r *http.Request) types.ChangeRequestID {
	return types.ChangeRequestID(chi.URLParam(r, "id"))
}

func listChangeRequestsHandler(uc *usecase.UseCases) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorOf(r)
		if err != nil {
			handleError(w, r, err)
			return
		}

		q := r.URL.Query()
		filter := usecase.ChangeRequestFilter{
			Status:      types.ChangeStatus(q.Get("status")),
			SubmittedBy: types.UserID(q.Get("submitted_by")),
			Assignee:    types.UserID(q.Get("assignee")),
		}

		crs, err := uc.ChangeRequest.List(r.Context(), actor, filter)
		if err != nil {
			handleError(w, r, err)
			return
		}
		if crs == nil {
			crs = []*model.ChangeRequest{}
		}
		writeJSON(w, r, http.StatusOK, crs)
	}
}

func createChangeRequestHandler(uc *usecase.UseCases) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorOf(r)
		if err != nil {
			handleError(w, r, err)
			return
		}

		var form usecase.ChangeRequestForm
		if err := decodeJSON(r, &form); err != nil {
			handleError(w, r, err)
			return
		}

		cr, err := uc.ChangeRequest.Create(r.Context(), actor, form)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, cr)
	}
}

func getChangeRequestHandler(uc *usecase.UseCases) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorOf(r)
		if err != nil {
			handleError(w, r, err)
			return
		}

		cr, err := uc.ChangeRequest.Get(r.Context(), actor, changeRequestID(r))
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, cr)
	}
}

func getByTicketHandler(uc *usecase.UseCases) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorOf(r)
		if err != nil {
			handleError(w, r, err)
			return
		}

		cr, err := uc.ChangeRequest.GetByTicket(r.Context(), actor, model.TicketID(chi.URLParam(r, "ticket")))
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, cr)
	}
}

func deleteChangeRequestHandler(uc *usecase.UseCases) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorOf(r)
		if err != nil {
			handleError(w, r, err)
			return
		}

		if err := uc.ChangeRequest.Delete(r.Context(), actor, changeRequestID(r)); err != nil {
			handleError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func historyHandler(uc *usecase.UseCases) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorOf(r)
		if err != nil {
			handleError(w, r, err)
			return
		}

		histories, err := uc.ChangeRequest.History(r.Context(), actor, changeRequestID(r))
		if err != nil {
			handleError(w, r, err)
			return
		}
		if histories == nil {
			histories = []*model.ApprovalHistory{}
		}
		writeJSON(w, r, http.StatusOK, histories)
	}
}

func transitionHandler(uc *usecase.UseCases) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorOf(r)
		if err != nil {
			handleError(w, r, err)
			return
		}

		var req transitionRequest
		if err := decodeJSON(r, &req); err != nil {
			handleError(w, r, err)
			return
		}

		result, err := uc.Workflow.Transition(r.Context(), changeRequestID(r), req.To, actor, req.Notes)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, toTransitionResponse(result))
	}
}

func resubmitHandler(uc *usecase.UseCases) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorOf(r)
		if err != nil {
			handleError(w, r, err)
			return
		}

		var req resubmitRequest
		if err := decodeJSON(r, &req); err != nil {
			handleError(w, r, err)
			return
		}

		result, err := uc.Workflow.Resubmit(r.Context(), changeRequestID(r), actor, req.ChangeRequestForm, req.Notes)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, toTransitionResponse(result))
	}
}

func toTransitionResponse(result *model.TransitionResult) transitionResponse {
	return transitionResponse{
		ChangeRequest: result.ChangeRequest,
		History:       result.History,
		Notification:  result.Notification,
	}
}

func getRiskHandler(uc *usecase.UseCases) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorOf(r)
		if err != nil {
			handleError(w, r, err)
			return
		}

		ra, err := uc.Risk.Get(r.Context(), actor, changeRequestID(r))
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, ra)
	}
}

func assessRiskHandler(uc *usecase.UseCases) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorOf(r)
		if err != nil {
			handleError(w, r, err)
			return
		}

		var req riskRequest
		if err := decodeJSON(r, &req); err != nil {
			handleError(w, r, err)
			return
		}

		ra, err := uc.Risk.Assess(r.Context(), changeRequestID(r), actor, req.Impact, req.Likelihood, req.Exposure)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, ra)
	}
}

// workflowHandler serves the transition table so clients can offer only the
// edges the current user may take
func workflowHandler(uc *usecase.UseCases) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rules := uc.TransitionTable().Rules()
		resp := make([]ruleResponse, len(rules))
		for i, rule := range rules {
			resp[i] = ruleResponse{
				From:                   rule.From,
				To:                     rule.To,
				Roles:                  rule.Roles,
				Notify:                 rule.Notify,
				RequiresRiskAssessment: rule.RequiresRiskAssessment,
			}
		}
		writeJSON(w, r, http.StatusOK, resp)
	}
}
