package store

import (
	"context"
	"errors"

	"github.com/edustack/accessgate/pkg/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through
// here, including the privileged token procedures that bypass per-caller
// scoping (ConsumeAccessToken, AddFamilyComment, ApprovePlanByToken).
type Store interface {
	Ping(ctx context.Context) error

	GetDefaultTenant(ctx context.Context) (*models.Tenant, error)
	GetDefaultSchool(ctx context.Context) (*models.School, error)
	GetSchool(ctx context.Context, id uuid.UUID) (*models.School, error)

	CreatePrincipal(ctx context.Context, p *models.Principal) (bool, error)
	GetPrincipal(ctx context.Context, id uuid.UUID) (*models.Principal, error)
	GetPrincipalByAuthUserID(ctx context.Context, authUserID uuid.UUID) (*models.Principal, error)
	GetPrincipalByEmail(ctx context.Context, email string) (*models.Principal, error)
	SetPrincipalActive(ctx context.Context, id uuid.UUID, active bool) error
	SetPrincipalScope(ctx context.Context, id uuid.UUID, tenantID, schoolID *uuid.UUID) error
	AddRoleAssignment(ctx context.Context, ra *models.RoleAssignment) error
	// ReplaceRoleAssignments clears a principal's role history and installs
	// a single new assignment. Administrative role changes go through here;
	// the earliest-wins read rule only arbitrates legacy duplicates.
	ReplaceRoleAssignments(ctx context.Context, principalID uuid.UUID, role string) error
	EarliestRole(ctx context.Context, principalID uuid.UUID) (string, error)
	EarliestSchoolMembership(ctx context.Context, principalID uuid.UUID) (*models.SchoolMembership, error)
	AddSchoolMembership(ctx context.Context, m *models.SchoolMembership) error

	CreatePlan(ctx context.Context, p *models.Plan) error
	GetPlan(ctx context.Context, id uuid.UUID) (*models.Plan, error)
	ListPlans(ctx context.Context, filter PlanFilter) ([]*models.Plan, int, error)
	AddComment(ctx context.Context, c *models.PlanComment) error
	ListComments(ctx context.Context, planID uuid.UUID) ([]*models.PlanComment, error)

	CreateAccessToken(ctx context.Context, t *models.AccessToken) error
	ListAccessTokens(ctx context.Context, planID uuid.UUID) ([]*models.AccessToken, error)
	// ConsumeAccessToken finds the live token matching the hash and plan and
	// increments its use counter in one conditional update. Returns
	// ErrNotFound when no live token matches, without distinguishing why.
	ConsumeAccessToken(ctx context.Context, secretHash string, planID uuid.UUID) (*models.AccessToken, error)
	// AddFamilyComment re-validates the token and inserts an unauthored,
	// family-origin comment in a single transaction.
	AddFamilyComment(ctx context.Context, secretHash string, planID uuid.UUID, body string) (*models.PlanComment, error)
	// ApprovePlanByToken re-validates the token and records the family
	// approval on the plan row in a single transaction.
	ApprovePlanByToken(ctx context.Context, secretHash string, planID uuid.UUID, approver string) (*models.Plan, error)
}

// PlanFilter bounds a plan listing to the caller's resolved scope.
type PlanFilter struct {
	TenantID uuid.UUID
	SchoolID *uuid.UUID
	Status   string
	Page     int
	Limit    int
}
