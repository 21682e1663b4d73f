package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	mw "github.com/edustack/accessgate/internal/api/middleware"
	"github.com/edustack/accessgate/internal/api/response"
	"github.com/edustack/accessgate/internal/gate"
	"github.com/edustack/accessgate/internal/store"
	"github.com/edustack/accessgate/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func principalOr401(w http.ResponseWriter, r *http.Request) (*gate.PrincipalContext, bool) {
	pc, ok := mw.GetPrincipal(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "UNAUTHENTICATED", "No authenticated principal", nil)
		return nil, false
	}
	return pc, true
}

func planIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "planID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "planID must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

// loadCoveredPlan fetches the plan and enforces the caller's scope over it.
func loadCoveredPlan(w http.ResponseWriter, r *http.Request, s store.Store, pc *gate.PrincipalContext) (*models.Plan, bool) {
	planID, ok := planIDParam(w, r)
	if !ok {
		return nil, false
	}
	plan, err := s.GetPlan(r.Context(), planID)
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Plan not found", nil)
		return nil, false
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not load plan", nil)
		return nil, false
	}
	if !pc.CoversSchool(plan.TenantID, plan.SchoolID) {
		response.Error(w, http.StatusForbidden, "FORBIDDEN", "Plan is outside your scope", nil)
		return nil, false
	}
	return plan, true
}

// NewCreatePlanHandler returns the handler for POST /api/v1/plans.
func NewCreatePlanHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pc, ok := principalOr401(w, r)
		if !ok {
			return
		}

		var req struct {
			StudentID   string `json:"student_id"`
			StudentName string `json:"student_name"`
			Title       string `json:"title"`
			SchoolID    string `json:"school_id,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		studentID, err := uuid.Parse(req.StudentID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "student_id must be a valid UUID", nil)
			return
		}
		if req.StudentName == "" || req.Title == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "student_name and title are required", nil)
			return
		}

		// School-scoped staff create plans in their own school; wider
		// roles must name the school explicitly.
		var schoolID, tenantID uuid.UUID
		if pc.SchoolID != nil {
			schoolID = *pc.SchoolID
			tenantID = *pc.TenantID
		} else {
			sid, err := uuid.Parse(req.SchoolID)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "school_id is required for network-level roles", nil)
				return
			}
			school, err := s.GetSchool(r.Context(), sid)
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "school does not exist", nil)
				return
			}
			if err != nil {
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not load school", nil)
				return
			}
			if !pc.CoversSchool(school.TenantID, school.ID) {
				response.Error(w, http.StatusForbidden, "FORBIDDEN", "School is outside your scope", nil)
				return
			}
			schoolID = school.ID
			tenantID = school.TenantID
		}

		now := time.Now().UTC()
		plan := &models.Plan{
			ID:          uuid.New(),
			TenantID:    tenantID,
			SchoolID:    schoolID,
			StudentID:   studentID,
			StudentName: req.StudentName,
			Title:       req.Title,
			Status:      models.PlanStatusDraft,
			CreatedBy:   pc.PrincipalID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.CreatePlan(r.Context(), plan); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not create plan", nil)
			return
		}
		response.Created(w, plan)
	}
}

// NewListPlansHandler returns the handler for GET /api/v1/plans. Results
// are bounded by the caller's resolved scope.
func NewListPlansHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pc, ok := principalOr401(w, r)
		if !ok {
			return
		}
		if pc.TenantID == nil {
			response.Error(w, http.StatusForbidden, "SCOPE_MISSING", "Account has no school or network assigned", nil)
			return
		}

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		filter := store.PlanFilter{
			TenantID: *pc.TenantID,
			Status:   r.URL.Query().Get("status"),
			Page:     page,
			Limit:    limit,
		}
		if pc.Role != gate.RoleSuperAdmin && pc.Role != gate.RoleNetworkAdmin {
			filter.SchoolID = pc.SchoolID
		}

		plans, total, err := s.ListPlans(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not list plans", nil)
			return
		}

		if filter.Limit <= 0 {
			filter.Limit = 20
		}
		if filter.Page <= 0 {
			filter.Page = 1
		}
		response.Collection(w, plans, response.PaginationMeta{
			Page:    filter.Page,
			Limit:   filter.Limit,
			Total:   total,
			HasNext: filter.Page*filter.Limit < total,
		})
	}
}

// NewGetPlanHandler returns the handler for GET /api/v1/plans/{planID}.
func NewGetPlanHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pc, ok := principalOr401(w, r)
		if !ok {
			return
		}
		plan, ok := loadCoveredPlan(w, r, s, pc)
		if !ok {
			return
		}
		response.JSON(w, plan)
	}
}

// NewListCommentsHandler returns the handler for GET /api/v1/plans/{planID}/comments.
func NewListCommentsHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pc, ok := principalOr401(w, r)
		if !ok {
			return
		}
		plan, ok := loadCoveredPlan(w, r, s, pc)
		if !ok {
			return
		}
		comments, err := s.ListComments(r.Context(), plan.ID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not list comments", nil)
			return
		}
		response.JSON(w, comments)
	}
}

// NewAddCommentHandler returns the handler for POST /api/v1/plans/{planID}/comments.
// Staff comments carry the author's identity, unlike family-originated ones.
func NewAddCommentHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pc, ok := principalOr401(w, r)
		if !ok {
			return
		}
		plan, ok := loadCoveredPlan(w, r, s, pc)
		if !ok {
			return
		}

		var req struct {
			Body string `json:"body"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Body == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "body is required", nil)
			return
		}

		authorID := pc.PrincipalID
		comment := &models.PlanComment{
			ID:        uuid.New(),
			PlanID:    plan.ID,
			AuthorID:  &authorID,
			Body:      req.Body,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.AddComment(r.Context(), comment); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not add comment", nil)
			return
		}
		response.Created(w, comment)
	}
}
