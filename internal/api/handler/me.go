package handler

import (
	"net/http"

	"github.com/edustack/accessgate/internal/api/response"
)

// NewMeHandler returns the handler for GET /api/v1/me. This is the
// pending-approval view: it stays readable for inactive principals so
// they can see their account state.
func NewMeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pc, ok := principalOr401(w, r)
		if !ok {
			return
		}
		status := "active"
		if !pc.Active {
			status = "pending_approval"
		}
		response.JSON(w, map[string]any{
			"principal": pc,
			"status":    status,
		})
	}
}
