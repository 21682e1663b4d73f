// Package gate resolves an authenticated user into a principal context
// (role, tenant/school scope, activation state) and authorizes
// capabilities against it. Every policy outcome fails closed: an unknown
// role or an unresolvable scope is a denial, never a default.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/edustack/accessgate/internal/cache"
	"github.com/edustack/accessgate/internal/store"
	"github.com/edustack/accessgate/pkg/models"
	"github.com/google/uuid"
)

const principalCacheTTL = 60 * time.Second

// PrincipalContext is the resolved identity the rest of the system keys
// authorization decisions on.
type PrincipalContext struct {
	PrincipalID uuid.UUID  `json:"principal_id"`
	AuthUserID  uuid.UUID  `json:"auth_user_id"`
	Email       string     `json:"email"`
	Role        Role       `json:"role"`
	TenantID    *uuid.UUID `json:"tenant_id,omitempty"`
	SchoolID    *uuid.UUID `json:"school_id,omitempty"`
	Active      bool       `json:"active"`
}

// CoversSchool reports whether the principal's scope includes the given
// tenant/school partition.
func (pc *PrincipalContext) CoversSchool(tenantID, schoolID uuid.UUID) bool {
	switch pc.Role {
	case RoleSuperAdmin:
		return true
	case RoleNetworkAdmin:
		return pc.TenantID != nil && *pc.TenantID == tenantID
	default:
		return pc.SchoolID != nil && *pc.SchoolID == schoolID
	}
}

// DenyReason classifies why an authorization was refused. Inactive and
// ScopeMissing surface as distinct UI states because the remediation
// differs ("wait for approval" vs "ask an admin to fix your account").
type DenyReason string

const (
	DenyInactive     DenyReason = "inactive"
	DenyScopeMissing DenyReason = "scope_missing"
	DenyRoleUnknown  DenyReason = "role_unknown"
	DenyForbidden    DenyReason = "forbidden"
)

// Decision is the authorization outcome.
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

func allow() Decision            { return Decision{Allowed: true} }
func deny(r DenyReason) Decision { return Decision{Reason: r} }

// Gate is the role-resolved access gate.
type Gate struct {
	store store.Store
	cache cache.Cache
}

// New creates a Gate. The cache holds resolved principal contexts for a
// short TTL; pass nil to disable caching.
func New(s store.Store, c cache.Cache) *Gate {
	return &Gate{store: s, cache: c}
}

// Resolve maps an authenticated user to a PrincipalContext. On first
// login it provisions an inactive principal with the default role; the
// insert is conditional on auth_user_id, so calling Resolve twice never
// creates duplicate rows.
func (g *Gate) Resolve(ctx context.Context, authUserID uuid.UUID, email string) (*PrincipalContext, error) {
	if pc := g.cached(ctx, authUserID); pc != nil {
		return pc, nil
	}

	principal, err := g.store.GetPrincipalByAuthUserID(ctx, authUserID)
	if errors.Is(err, store.ErrNotFound) {
		principal, err = g.provision(ctx, authUserID, email)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve principal: %w", err)
	}

	role, err := g.effectiveRole(ctx, principal.ID)
	if err != nil {
		return nil, err
	}

	pc := &PrincipalContext{
		PrincipalID: principal.ID,
		AuthUserID:  principal.AuthUserID,
		Email:       principal.Email,
		Role:        role,
		TenantID:    principal.TenantID,
		SchoolID:    principal.SchoolID,
		Active:      principal.Active,
	}

	// Scope fallback: a principal row without a school may still be
	// covered by a membership record.
	if pc.SchoolID == nil && role.requiresSchoolScope() {
		m, err := g.store.EarliestSchoolMembership(ctx, principal.ID)
		if err == nil {
			pc.SchoolID = &m.SchoolID
			if pc.TenantID == nil {
				pc.TenantID = &m.TenantID
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("resolve scope fallback: %w", err)
		}
	}

	g.cachePut(ctx, pc)
	return pc, nil
}

// Authorize decides whether the principal may exercise the capability.
// The pending-status view stays readable for inactive principals so they
// can see why nothing else works.
func (g *Gate) Authorize(pc *PrincipalContext, capability Capability) Decision {
	if !pc.Role.Known() {
		return deny(DenyRoleUnknown)
	}
	if capability == CapViewPendingStatus {
		return allow()
	}
	if !pc.Active {
		return deny(DenyInactive)
	}
	if pc.Role.RequiresScope() {
		if pc.TenantID == nil {
			return deny(DenyScopeMissing)
		}
		if pc.Role.requiresSchoolScope() && pc.SchoolID == nil {
			return deny(DenyScopeMissing)
		}
	}
	if !roleHasCapability(pc.Role, capability) {
		return deny(DenyForbidden)
	}
	return allow()
}

// Invalidate drops the cached context after an administrative change to
// the principal's role, scope, or activation.
func (g *Gate) Invalidate(ctx context.Context, authUserID uuid.UUID) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Delete(ctx, cache.PrincipalKey(authUserID)); err != nil {
		slog.Warn("principal cache invalidate failed", "auth_user_id", authUserID, "error", err)
	}
}

func (g *Gate) provision(ctx context.Context, authUserID uuid.UUID, email string) (*models.Principal, error) {
	now := time.Now().UTC()
	p := &models.Principal{
		ID:         uuid.New(),
		AuthUserID: authUserID,
		Email:      email,
		Active:     false,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	created, err := g.store.CreatePrincipal(ctx, p)
	if err != nil {
		return nil, err
	}
	if !created {
		// Lost the race to another first-login request; use its row.
		return g.store.GetPrincipalByAuthUserID(ctx, authUserID)
	}
	if err := g.store.AddRoleAssignment(ctx, &models.RoleAssignment{
		ID:          uuid.New(),
		PrincipalID: p.ID,
		Role:        string(DefaultRole),
		CreatedAt:   now,
	}); err != nil {
		return nil, err
	}
	slog.Info("principal provisioned", "principal_id", p.ID, "role", DefaultRole)
	return p, nil
}

func (g *Gate) effectiveRole(ctx context.Context, principalID uuid.UUID) (Role, error) {
	roleName, err := g.store.EarliestRole(ctx, principalID)
	if errors.Is(err, store.ErrNotFound) {
		// Principal exists but was never given a role; repair with the
		// default rather than guessing upward.
		if err := g.store.AddRoleAssignment(ctx, &models.RoleAssignment{
			ID:          uuid.New(),
			PrincipalID: principalID,
			Role:        string(DefaultRole),
			CreatedAt:   time.Now().UTC(),
		}); err != nil {
			return "", fmt.Errorf("assign default role: %w", err)
		}
		return DefaultRole, nil
	}
	if err != nil {
		return "", fmt.Errorf("effective role: %w", err)
	}
	return Role(roleName), nil
}

func (g *Gate) cached(ctx context.Context, authUserID uuid.UUID) *PrincipalContext {
	if g.cache == nil {
		return nil
	}
	raw, ok, err := g.cache.Get(ctx, cache.PrincipalKey(authUserID))
	if err != nil || !ok {
		return nil
	}
	var pc PrincipalContext
	if err := json.Unmarshal(raw, &pc); err != nil {
		return nil
	}
	return &pc
}

func (g *Gate) cachePut(ctx context.Context, pc *PrincipalContext) {
	if g.cache == nil {
		return
	}
	raw, err := json.Marshal(pc)
	if err != nil {
		return
	}
	if err := g.cache.Set(ctx, cache.PrincipalKey(pc.AuthUserID), raw, principalCacheTTL); err != nil {
		slog.Warn("principal cache write failed", "auth_user_id", pc.AuthUserID, "error", err)
	}
}
