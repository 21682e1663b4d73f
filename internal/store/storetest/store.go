// Package storetest provides an in-memory Store implementation for unit
// tests. It mirrors the Postgres semantics the production store relies
// on: conditional token consumption under a lock, conflict-free principal
// creation, and insertion-ordered comment listing.
package storetest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/edustack/accessgate/internal/store"
	"github.com/edustack/accessgate/pkg/models"
	"github.com/google/uuid"
)

// Store is an in-memory store.Store. Safe for concurrent use.
type Store struct {
	mu sync.Mutex

	Tenants     []*models.Tenant
	Schools     []*models.School
	Principals  []*models.Principal
	Roles       []*models.RoleAssignment
	Memberships []*models.SchoolMembership
	Plans       []*models.Plan
	Comments    []*models.PlanComment
	Tokens      []*models.AccessToken

	// Now lets tests control the clock used for expiry checks.
	Now func() time.Time

	// FailWith, when set, makes every call return this error.
	FailWith error
}

var _ store.Store = (*Store)(nil)

// New returns an empty in-memory store with a seeded default tenant and
// school, matching the initial migration.
func New() *Store {
	s := &Store{Now: func() time.Time { return time.Now().UTC() }}
	tenant := &models.Tenant{ID: uuid.New(), Name: "default"}
	school := &models.School{ID: uuid.New(), TenantID: tenant.ID, Name: "default"}
	s.Tenants = append(s.Tenants, tenant)
	s.Schools = append(s.Schools, school)
	return s
}

func (s *Store) Ping(ctx context.Context) error { return s.FailWith }

func (s *Store) GetDefaultTenant(ctx context.Context) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	for _, t := range s.Tenants {
		if t.Name == "default" {
			return t, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetDefaultSchool(ctx context.Context) (*models.School, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	for _, sc := range s.Schools {
		if sc.Name == "default" {
			return sc, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetSchool(ctx context.Context, id uuid.UUID) (*models.School, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	for _, sc := range s.Schools {
		if sc.ID == id {
			return sc, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreatePrincipal(ctx context.Context, p *models.Principal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return false, s.FailWith
	}
	for _, existing := range s.Principals {
		if existing.AuthUserID == p.AuthUserID {
			return false, nil
		}
	}
	cp := *p
	s.Principals = append(s.Principals, &cp)
	return true, nil
}

func (s *Store) GetPrincipal(ctx context.Context, id uuid.UUID) (*models.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	for _, p := range s.Principals {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetPrincipalByAuthUserID(ctx context.Context, authUserID uuid.UUID) (*models.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	for _, p := range s.Principals {
		if p.AuthUserID == authUserID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetPrincipalByEmail(ctx context.Context, email string) (*models.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	for _, p := range s.Principals {
		if strings.EqualFold(p.Email, email) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) SetPrincipalActive(ctx context.Context, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	for _, p := range s.Principals {
		if p.ID == id {
			p.Active = active
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) SetPrincipalScope(ctx context.Context, id uuid.UUID, tenantID, schoolID *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	for _, p := range s.Principals {
		if p.ID == id {
			p.TenantID = tenantID
			p.SchoolID = schoolID
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) AddRoleAssignment(ctx context.Context, ra *models.RoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	cp := *ra
	s.Roles = append(s.Roles, &cp)
	return nil
}

func (s *Store) ReplaceRoleAssignments(ctx context.Context, principalID uuid.UUID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	kept := s.Roles[:0]
	for _, ra := range s.Roles {
		if ra.PrincipalID != principalID {
			kept = append(kept, ra)
		}
	}
	s.Roles = append(kept, &models.RoleAssignment{
		ID:          uuid.New(),
		PrincipalID: principalID,
		Role:        role,
		CreatedAt:   s.Now(),
	})
	return nil
}

func (s *Store) EarliestRole(ctx context.Context, principalID uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return "", s.FailWith
	}
	var earliest *models.RoleAssignment
	for _, ra := range s.Roles {
		if ra.PrincipalID != principalID {
			continue
		}
		if earliest == nil || ra.CreatedAt.Before(earliest.CreatedAt) {
			earliest = ra
		}
	}
	if earliest == nil {
		return "", store.ErrNotFound
	}
	return earliest.Role, nil
}

func (s *Store) EarliestSchoolMembership(ctx context.Context, principalID uuid.UUID) (*models.SchoolMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	var earliest *models.SchoolMembership
	for _, m := range s.Memberships {
		if m.PrincipalID != principalID {
			continue
		}
		if earliest == nil || m.CreatedAt.Before(earliest.CreatedAt) {
			earliest = m
		}
	}
	if earliest == nil {
		return nil, store.ErrNotFound
	}
	cp := *earliest
	return &cp, nil
}

func (s *Store) AddSchoolMembership(ctx context.Context, m *models.SchoolMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	for _, existing := range s.Memberships {
		if existing.PrincipalID == m.PrincipalID && existing.SchoolID == m.SchoolID {
			return store.ErrDuplicateKey
		}
	}
	cp := *m
	s.Memberships = append(s.Memberships, &cp)
	return nil
}

func (s *Store) CreatePlan(ctx context.Context, p *models.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	cp := *p
	s.Plans = append(s.Plans, &cp)
	return nil
}

func (s *Store) GetPlan(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getPlanLocked(id)
}

func (s *Store) getPlanLocked(id uuid.UUID) (*models.Plan, error) {
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	for _, p := range s.Plans {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListPlans(ctx context.Context, filter store.PlanFilter) ([]*models.Plan, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, 0, s.FailWith
	}
	var matched []*models.Plan
	for _, p := range s.Plans {
		if p.TenantID != filter.TenantID {
			continue
		}
		if filter.SchoolID != nil && p.SchoolID != *filter.SchoolID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		cp := *p
		matched = append(matched, &cp)
	}
	return matched, len(matched), nil
}

func (s *Store) AddComment(ctx context.Context, c *models.PlanComment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	cp := *c
	s.Comments = append(s.Comments, &cp)
	return nil
}

func (s *Store) ListComments(ctx context.Context, planID uuid.UUID) ([]*models.PlanComment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	var out []*models.PlanComment
	for _, c := range s.Comments {
		if c.PlanID == planID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) CreateAccessToken(ctx context.Context, t *models.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	for _, existing := range s.Tokens {
		if existing.SecretHash == t.SecretHash {
			return store.ErrDuplicateKey
		}
	}
	cp := *t
	s.Tokens = append(s.Tokens, &cp)
	return nil
}

func (s *Store) ListAccessTokens(ctx context.Context, planID uuid.UUID) ([]*models.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	var out []*models.AccessToken
	for _, t := range s.Tokens {
		if t.PlanID == planID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) ConsumeAccessToken(ctx context.Context, secretHash string, planID uuid.UUID) (*models.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	now := s.Now()
	for _, t := range s.Tokens {
		if t.SecretHash != secretHash || t.PlanID != planID {
			continue
		}
		if !now.Before(t.ExpiresAt) || t.CurrentUses >= t.MaxUses {
			return nil, store.ErrNotFound
		}
		t.CurrentUses++
		touched := now
		t.LastAccessedAt = &touched
		cp := *t
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) liveTokenLocked(secretHash string, planID uuid.UUID) (*models.AccessToken, error) {
	now := s.Now()
	for _, t := range s.Tokens {
		if t.SecretHash != secretHash || t.PlanID != planID {
			continue
		}
		if !now.Before(t.ExpiresAt) || t.CurrentUses == 0 || t.CurrentUses > t.MaxUses {
			return nil, store.ErrNotFound
		}
		return t, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) AddFamilyComment(ctx context.Context, secretHash string, planID uuid.UUID, body string) (*models.PlanComment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	t, err := s.liveTokenLocked(secretHash, planID)
	if err != nil {
		return nil, err
	}
	now := s.Now()
	t.LastAccessedAt = &now
	c := &models.PlanComment{
		ID:           uuid.New(),
		PlanID:       planID,
		FamilyOrigin: true,
		Body:         body,
		CreatedAt:    now,
	}
	s.Comments = append(s.Comments, c)
	cp := *c
	return &cp, nil
}

func (s *Store) ApprovePlanByToken(ctx context.Context, secretHash string, planID uuid.UUID, approver string) (*models.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	t, err := s.liveTokenLocked(secretHash, planID)
	if err != nil {
		return nil, err
	}
	now := s.Now()
	t.LastAccessedAt = &now
	for _, p := range s.Plans {
		if p.ID == planID {
			p.ApprovedAt = &now
			p.ApprovedBy = &approver
			p.UpdatedAt = now
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}
