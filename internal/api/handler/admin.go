package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/edustack/accessgate/internal/api/response"
	"github.com/edustack/accessgate/internal/audit"
	"github.com/edustack/accessgate/internal/gate"
	"github.com/edustack/accessgate/internal/store"
	"github.com/edustack/accessgate/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func principalParam(w http.ResponseWriter, r *http.Request, s store.Store) (*models.Principal, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "principalID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "principalID must be a valid UUID", nil)
		return nil, false
	}
	p, err := s.GetPrincipal(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Principal not found", nil)
		return nil, false
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not load principal", nil)
		return nil, false
	}
	return p, true
}

// NewActivatePrincipalHandler returns the handler for
// POST /api/v1/admin/principals/{principalID}/activate. Activation is the
// only way a pending account becomes functional.
func NewActivatePrincipalHandler(s store.Store, g *gate.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin, ok := principalOr401(w, r)
		if !ok {
			return
		}
		target, ok := principalParam(w, r, s)
		if !ok {
			return
		}

		if err := s.SetPrincipalActive(r.Context(), target.ID, true); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not activate principal", nil)
			return
		}
		g.Invalidate(r.Context(), target.AuthUserID)

		audit.Event(r.Context(), "principal.activated",
			"principal_id", target.ID, "by", admin.PrincipalID)
		response.JSON(w, map[string]any{"id": target.ID, "active": true})
	}
}

// NewAssignRoleHandler returns the handler for
// POST /api/v1/admin/principals/{principalID}/role. Unknown role names
// are refused outright; there is no fallback role.
func NewAssignRoleHandler(s store.Store, g *gate.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin, ok := principalOr401(w, r)
		if !ok {
			return
		}
		target, ok := principalParam(w, r, s)
		if !ok {
			return
		}

		var req struct {
			Role string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		role := gate.Role(req.Role)
		if !role.Known() {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown role", nil)
			return
		}

		if err := s.ReplaceRoleAssignments(r.Context(), target.ID, string(role)); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not assign role", nil)
			return
		}
		g.Invalidate(r.Context(), target.AuthUserID)

		audit.Event(r.Context(), "principal.role_assigned",
			"principal_id", target.ID, "role", role, "by", admin.PrincipalID)
		response.JSON(w, map[string]any{"id": target.ID, "role": role})
	}
}

// NewSetScopeHandler returns the handler for
// POST /api/v1/admin/principals/{principalID}/scope.
func NewSetScopeHandler(s store.Store, g *gate.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin, ok := principalOr401(w, r)
		if !ok {
			return
		}
		target, ok := principalParam(w, r, s)
		if !ok {
			return
		}

		var req struct {
			SchoolID string `json:"school_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		schoolID, err := uuid.Parse(req.SchoolID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "school_id must be a valid UUID", nil)
			return
		}

		school, err := s.GetSchool(r.Context(), schoolID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "school does not exist", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not load school", nil)
			return
		}
		if !admin.CoversSchool(school.TenantID, school.ID) {
			response.Error(w, http.StatusForbidden, "FORBIDDEN", "School is outside your scope", nil)
			return
		}

		if err := s.SetPrincipalScope(r.Context(), target.ID, &school.TenantID, &school.ID); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not set scope", nil)
			return
		}
		// Keep the membership relation in step so scope fallback agrees.
		_ = s.AddSchoolMembership(r.Context(), &models.SchoolMembership{
			ID:          uuid.New(),
			PrincipalID: target.ID,
			SchoolID:    school.ID,
			TenantID:    school.TenantID,
			CreatedAt:   time.Now().UTC(),
		})
		g.Invalidate(r.Context(), target.AuthUserID)

		audit.Event(r.Context(), "principal.scope_assigned",
			"principal_id", target.ID, "school_id", school.ID, "by", admin.PrincipalID)
		response.JSON(w, map[string]any{
			"id":        target.ID,
			"tenant_id": school.TenantID,
			"school_id": school.ID,
		})
	}
}
