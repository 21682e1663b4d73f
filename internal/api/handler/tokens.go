package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/edustack/accessgate/internal/api/response"
	"github.com/edustack/accessgate/internal/audit"
	"github.com/edustack/accessgate/internal/token"
	"github.com/edustack/accessgate/pkg/models"
)

// NewIssueTokenHandler returns the handler for POST /api/v1/plans/{planID}/tokens.
// The response is the only place the plaintext code ever appears.
func NewIssueTokenHandler(b *token.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pc, ok := principalOr401(w, r)
		if !ok {
			return
		}
		planID, ok := planIDParam(w, r)
		if !ok {
			return
		}

		var req struct {
			TTLHours int `json:"ttl_hours,omitempty"`
			MaxUses  int `json:"max_uses,omitempty"`
		}
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
				return
			}
		}

		secret, tok, err := b.Issue(r.Context(), pc, token.IssueParams{
			PlanID:  planID,
			TTL:     time.Duration(req.TTLHours) * time.Hour,
			MaxUses: req.MaxUses,
		})
		if errors.Is(err, token.ErrValidation) {
			response.Error(w, http.StatusForbidden, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not issue token", nil)
			return
		}

		audit.Event(r.Context(), "token.issued",
			"token_id", tok.ID, "plan_id", tok.PlanID, "issued_by", pc.PrincipalID)
		response.Created(w, map[string]any{
			"code":  secret,
			"token": tok,
		})
	}
}

// tokenView decorates token metadata with its computed liveness for
// privileged display.
type tokenView struct {
	*models.AccessToken
	Live bool `json:"live"`
}

// NewListTokensHandler returns the handler for GET /api/v1/plans/{planID}/tokens.
// Metadata only; the plaintext no longer exists anywhere.
func NewListTokensHandler(b *token.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pc, ok := principalOr401(w, r)
		if !ok {
			return
		}
		planID, ok := planIDParam(w, r)
		if !ok {
			return
		}

		tokens, err := b.ListForPlan(r.Context(), pc, planID)
		if errors.Is(err, token.ErrValidation) {
			response.Error(w, http.StatusForbidden, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not list tokens", nil)
			return
		}

		now := time.Now().UTC()
		views := make([]tokenView, 0, len(tokens))
		for _, t := range tokens {
			views = append(views, tokenView{AccessToken: t, Live: t.Live(now)})
		}
		response.JSON(w, views)
	}
}
