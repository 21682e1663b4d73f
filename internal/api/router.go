package api

import (
	"net/http"

	mw "github.com/edustack/accessgate/internal/api/middleware"
	"github.com/edustack/accessgate/internal/api/response"
	"github.com/edustack/accessgate/internal/gate"
	"github.com/edustack/accessgate/internal/metrics"
	"github.com/go-chi/chi/v5"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth            *mw.Auth
	FamilyRateLimit *mw.FamilyRateLimit

	HealthHandler http.HandlerFunc
	LoginHandler  http.HandlerFunc
	MeHandler     http.HandlerFunc

	FamilyAccessHandler   http.HandlerFunc
	FamilyCommentHandler  http.HandlerFunc
	FamilyApprovalHandler http.HandlerFunc

	CreatePlanHandler   http.HandlerFunc
	ListPlansHandler    http.HandlerFunc
	GetPlanHandler      http.HandlerFunc
	ListCommentsHandler http.HandlerFunc
	AddCommentHandler   http.HandlerFunc

	IssueTokenHandler http.HandlerFunc
	ListTokensHandler http.HandlerFunc

	ActivatePrincipalHandler http.HandlerFunc
	AssignRoleHandler        http.HandlerFunc
	SetScopeHandler          http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(metrics.Instrument)

	// Public surface
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Post("/api/v1/auth/login", orNotImplemented(deps.LoginHandler))

	// Family endpoints: unauthenticated, secret-bearing, throttled.
	r.Group(func(r chi.Router) {
		r.Use(deps.FamilyRateLimit.Limit)

		r.Post("/api/v1/family/access", orNotImplemented(deps.FamilyAccessHandler))
		r.Post("/api/v1/family/comments", orNotImplemented(deps.FamilyCommentHandler))
		r.Post("/api/v1/family/approval", orNotImplemented(deps.FamilyApprovalHandler))
	})

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)

		// Readable while the account is still pending approval.
		r.With(deps.Auth.RequireCapability(gate.CapViewPendingStatus)).
			Get("/api/v1/me", orNotImplemented(deps.MeHandler))

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireCapability(gate.CapManagePlans))

			r.Post("/api/v1/plans", orNotImplemented(deps.CreatePlanHandler))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireCapability(gate.CapViewDashboard))

			r.Get("/api/v1/plans", orNotImplemented(deps.ListPlansHandler))
			r.Get("/api/v1/plans/{planID}", orNotImplemented(deps.GetPlanHandler))
			r.Get("/api/v1/plans/{planID}/comments", orNotImplemented(deps.ListCommentsHandler))
		})

		r.With(deps.Auth.RequireCapability(gate.CapCommentPlan)).
			Post("/api/v1/plans/{planID}/comments", orNotImplemented(deps.AddCommentHandler))

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireCapability(gate.CapIssueFamilyToken))

			r.Post("/api/v1/plans/{planID}/tokens", orNotImplemented(deps.IssueTokenHandler))
			r.Get("/api/v1/plans/{planID}/tokens", orNotImplemented(deps.ListTokensHandler))
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireCapability(gate.CapManagePrincipals))

			r.Post("/api/v1/admin/principals/{principalID}/activate", orNotImplemented(deps.ActivatePrincipalHandler))
			r.Post("/api/v1/admin/principals/{principalID}/role", orNotImplemented(deps.AssignRoleHandler))
			r.Post("/api/v1/admin/principals/{principalID}/scope", orNotImplemented(deps.SetScopeHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
