package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/edustack/accessgate/internal/api/response"
	"github.com/edustack/accessgate/internal/audit"
	"github.com/edustack/accessgate/internal/metrics"
	"github.com/edustack/accessgate/internal/store"
	"github.com/edustack/accessgate/internal/token"
	"github.com/google/uuid"
)

// The family endpoints are deliberately opaque about failure: expired,
// exhausted, and unknown codes all produce the same TOKEN_REJECTED so the
// response does not act as an oracle.

func writeTokenError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, token.ErrRejected):
		metrics.TokenValidation("rejected")
		response.Error(w, http.StatusUnauthorized, "TOKEN_REJECTED",
			"This access code is not valid for this plan", nil)
	case errors.Is(err, token.ErrValidation):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	default:
		metrics.TokenValidation("error")
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"Could not process the request", nil)
	}
}

type familyRequest struct {
	Code         string `json:"code"`
	PlanID       string `json:"plan_id"`
	Body         string `json:"body,omitempty"`
	ApproverName string `json:"approver_name,omitempty"`
}

func decodeFamilyRequest(w http.ResponseWriter, r *http.Request) (*familyRequest, uuid.UUID, bool) {
	var req familyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return nil, uuid.Nil, false
	}
	planID, err := uuid.Parse(req.PlanID)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "plan_id must be a valid UUID", nil)
		return nil, uuid.Nil, false
	}
	if req.Code == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "code is required", nil)
		return nil, uuid.Nil, false
	}
	return &req, planID, true
}

// familyPlanView is the narrow read a grant exposes. Internal audit
// fields stay hidden.
type familyPlanView struct {
	ID          uuid.UUID `json:"id"`
	StudentName string    `json:"student_name"`
	Title       string    `json:"title"`
	Status      string    `json:"status"`
	ApprovedAt  any       `json:"approved_at,omitempty"`
	ApprovedBy  any       `json:"approved_by,omitempty"`
}

// NewFamilyAccessHandler returns the handler for POST /api/v1/family/access.
// A valid code consumes one use and returns the plan together with its
// comment thread.
func NewFamilyAccessHandler(b *token.Broker, s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, planID, ok := decodeFamilyRequest(w, r)
		if !ok {
			return
		}

		grant, err := b.ValidateAndConsume(r.Context(), req.Code, planID)
		if err != nil {
			writeTokenError(w, err)
			return
		}
		metrics.TokenValidation("granted")

		plan, err := s.GetPlan(r.Context(), grant.PlanID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not load plan", nil)
			return
		}
		comments, err := s.ListComments(r.Context(), grant.PlanID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not load comments", nil)
			return
		}

		audit.Event(r.Context(), "family.access", "token_id", grant.TokenID, "plan_id", grant.PlanID)
		response.JSON(w, map[string]any{
			"plan": familyPlanView{
				ID:          plan.ID,
				StudentName: plan.StudentName,
				Title:       plan.Title,
				Status:      plan.Status,
				ApprovedAt:  plan.ApprovedAt,
				ApprovedBy:  plan.ApprovedBy,
			},
			"comments":         comments,
			"grant_expires_at": grant.ExpiresAt,
		})
	}
}

// NewFamilyCommentHandler returns the handler for POST /api/v1/family/comments.
func NewFamilyCommentHandler(b *token.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, planID, ok := decodeFamilyRequest(w, r)
		if !ok {
			return
		}

		grant, err := b.ValidateAndConsume(r.Context(), req.Code, planID)
		if err != nil {
			writeTokenError(w, err)
			return
		}
		metrics.TokenValidation("granted")

		result, err := b.PerformGrantedAction(r.Context(), grant, token.CommentAction{Body: req.Body})
		if err != nil {
			writeTokenError(w, err)
			return
		}

		audit.Event(r.Context(), "family.comment", "token_id", grant.TokenID, "plan_id", grant.PlanID)
		response.Created(w, result.Comment)
	}
}

// NewFamilyApprovalHandler returns the handler for POST /api/v1/family/approval.
func NewFamilyApprovalHandler(b *token.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, planID, ok := decodeFamilyRequest(w, r)
		if !ok {
			return
		}

		grant, err := b.ValidateAndConsume(r.Context(), req.Code, planID)
		if err != nil {
			writeTokenError(w, err)
			return
		}
		metrics.TokenValidation("granted")

		result, err := b.PerformGrantedAction(r.Context(), grant, token.ApprovalAction{ApproverName: req.ApproverName})
		if err != nil {
			writeTokenError(w, err)
			return
		}

		audit.Event(r.Context(), "family.approval", "token_id", grant.TokenID, "plan_id", grant.PlanID)
		response.JSON(w, result.Plan)
	}
}
