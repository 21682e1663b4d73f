package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/edustack/accessgate/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants & schools ---

func (s *PostgresStore) GetDefaultTenant(ctx context.Context) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at, updated_at FROM tenants WHERE name = 'default' LIMIT 1`,
	).Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default tenant: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) GetDefaultSchool(ctx context.Context) (*models.School, error) {
	var sc models.School
	err := s.pool.QueryRow(ctx,
		`SELECT s.id, s.tenant_id, s.name, s.created_at, s.updated_at
		 FROM schools s JOIN tenants t ON t.id = s.tenant_id
		 WHERE t.name = 'default' AND s.name = 'default' LIMIT 1`,
	).Scan(&sc.ID, &sc.TenantID, &sc.Name, &sc.CreatedAt, &sc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default school: %w", err)
	}
	return &sc, nil
}

func (s *PostgresStore) GetSchool(ctx context.Context, id uuid.UUID) (*models.School, error) {
	var sc models.School
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, created_at, updated_at FROM schools WHERE id = $1`, id,
	).Scan(&sc.ID, &sc.TenantID, &sc.Name, &sc.CreatedAt, &sc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get school: %w", err)
	}
	return &sc, nil
}

// --- Principals ---

// CreatePrincipal inserts the principal unless a row for the same
// auth_user_id already exists. Returns true when a row was inserted, so a
// racing first-login resolution stays idempotent.
func (s *PostgresStore) CreatePrincipal(ctx context.Context, p *models.Principal) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO principals (id, auth_user_id, email, password_hash, tenant_id, school_id, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (auth_user_id) DO NOTHING`,
		p.ID, p.AuthUserID, p.Email, p.PasswordHash, p.TenantID, p.SchoolID, p.Active, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return false, ErrDuplicateKey
		}
		return false, fmt.Errorf("create principal: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) scanPrincipal(row pgx.Row, op string) (*models.Principal, error) {
	var p models.Principal
	err := row.Scan(&p.ID, &p.AuthUserID, &p.Email, &p.PasswordHash,
		&p.TenantID, &p.SchoolID, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &p, nil
}

const principalCols = `id, auth_user_id, email, password_hash, tenant_id, school_id, active, created_at, updated_at`

func (s *PostgresStore) GetPrincipal(ctx context.Context, id uuid.UUID) (*models.Principal, error) {
	return s.scanPrincipal(s.pool.QueryRow(ctx,
		`SELECT `+principalCols+` FROM principals WHERE id = $1`, id), "get principal")
}

func (s *PostgresStore) GetPrincipalByAuthUserID(ctx context.Context, authUserID uuid.UUID) (*models.Principal, error) {
	return s.scanPrincipal(s.pool.QueryRow(ctx,
		`SELECT `+principalCols+` FROM principals WHERE auth_user_id = $1`, authUserID), "get principal by auth user")
}

func (s *PostgresStore) GetPrincipalByEmail(ctx context.Context, email string) (*models.Principal, error) {
	return s.scanPrincipal(s.pool.QueryRow(ctx,
		`SELECT `+principalCols+` FROM principals WHERE email = $1`, email), "get principal by email")
}

func (s *PostgresStore) SetPrincipalActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE principals SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set principal active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetPrincipalScope(ctx context.Context, id uuid.UUID, tenantID, schoolID *uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE principals SET tenant_id = $2, school_id = $3, updated_at = NOW() WHERE id = $1`,
		id, tenantID, schoolID)
	if err != nil {
		return fmt.Errorf("set principal scope: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddRoleAssignment(ctx context.Context, ra *models.RoleAssignment) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO role_assignments (id, principal_id, role, created_at)
		 VALUES ($1, $2, $3, $4)`,
		ra.ID, ra.PrincipalID, ra.Role, ra.CreatedAt)
	if err != nil {
		return fmt.Errorf("add role assignment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReplaceRoleAssignments(ctx context.Context, principalID uuid.UUID, role string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin role replacement: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM role_assignments WHERE principal_id = $1`, principalID); err != nil {
		return fmt.Errorf("clear role assignments: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO role_assignments (id, principal_id, role) VALUES ($1, $2, $3)`,
		uuid.New(), principalID, role); err != nil {
		return fmt.Errorf("insert role assignment: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit role replacement: %w", err)
	}
	return nil
}

// EarliestRole returns the first-created role assignment for the
// principal. Duplicate assignments are tolerated; the earliest wins.
func (s *PostgresStore) EarliestRole(ctx context.Context, principalID uuid.UUID) (string, error) {
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT role FROM role_assignments WHERE principal_id = $1
		 ORDER BY created_at ASC, id ASC LIMIT 1`, principalID,
	).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("earliest role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) EarliestSchoolMembership(ctx context.Context, principalID uuid.UUID) (*models.SchoolMembership, error) {
	var m models.SchoolMembership
	err := s.pool.QueryRow(ctx,
		`SELECT id, principal_id, school_id, tenant_id, created_at
		 FROM school_memberships WHERE principal_id = $1
		 ORDER BY created_at ASC, id ASC LIMIT 1`, principalID,
	).Scan(&m.ID, &m.PrincipalID, &m.SchoolID, &m.TenantID, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("earliest school membership: %w", err)
	}
	return &m, nil
}

func (s *PostgresStore) AddSchoolMembership(ctx context.Context, m *models.SchoolMembership) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO school_memberships (id, principal_id, school_id, tenant_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.PrincipalID, m.SchoolID, m.TenantID, m.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("add school membership: %w", err)
	}
	return nil
}

// --- Plans & comments ---

func (s *PostgresStore) CreatePlan(ctx context.Context, p *models.Plan) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO plans (id, tenant_id, school_id, student_id, student_name, title, status, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.TenantID, p.SchoolID, p.StudentID, p.StudentName, p.Title, p.Status, p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

const planCols = `id, tenant_id, school_id, student_id, student_name, title, status, created_by, approved_at, approved_by, created_at, updated_at`

func scanPlan(row pgx.Row, op string) (*models.Plan, error) {
	var p models.Plan
	err := row.Scan(&p.ID, &p.TenantID, &p.SchoolID, &p.StudentID, &p.StudentName,
		&p.Title, &p.Status, &p.CreatedBy, &p.ApprovedAt, &p.ApprovedBy,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &p, nil
}

func (s *PostgresStore) GetPlan(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	return scanPlan(s.pool.QueryRow(ctx,
		`SELECT `+planCols+` FROM plans WHERE id = $1`, id), "get plan")
}

func (s *PostgresStore) ListPlans(ctx context.Context, filter PlanFilter) ([]*models.Plan, int, error) {
	conditions := []string{"tenant_id = $1"}
	args := []any{filter.TenantID}
	argIdx := 2

	if filter.SchoolID != nil {
		conditions = append(conditions, fmt.Sprintf("school_id = $%d", argIdx))
		args = append(args, *filter.SchoolID)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM plans WHERE " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count plans: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT `+planCols+` FROM plans WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []*models.Plan
	for rows.Next() {
		var p models.Plan
		if err := rows.Scan(&p.ID, &p.TenantID, &p.SchoolID, &p.StudentID, &p.StudentName,
			&p.Title, &p.Status, &p.CreatedBy, &p.ApprovedAt, &p.ApprovedBy,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, &p)
	}
	return plans, total, rows.Err()
}

func (s *PostgresStore) AddComment(ctx context.Context, c *models.PlanComment) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO plan_comments (id, plan_id, author_id, family_origin, body, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.PlanID, c.AuthorID, c.FamilyOrigin, c.Body, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("add comment: %w", err)
	}
	return nil
}

// ListComments returns a plan's comments in insertion order.
func (s *PostgresStore) ListComments(ctx context.Context, planID uuid.UUID) ([]*models.PlanComment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, plan_id, author_id, family_origin, body, created_at
		 FROM plan_comments WHERE plan_id = $1 ORDER BY created_at ASC, id ASC`, planID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var comments []*models.PlanComment
	for rows.Next() {
		var c models.PlanComment
		if err := rows.Scan(&c.ID, &c.PlanID, &c.AuthorID, &c.FamilyOrigin, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}

// --- Access tokens ---

const tokenCols = `id, plan_id, student_id, secret_hash, secret_prefix, issued_by, issued_at, expires_at, max_uses, current_uses, last_accessed_at`

func (s *PostgresStore) CreateAccessToken(ctx context.Context, t *models.AccessToken) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO access_tokens (id, plan_id, student_id, secret_hash, secret_prefix, issued_by, issued_at, expires_at, max_uses, current_uses)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.PlanID, t.StudentID, t.SecretHash, t.SecretPrefix, t.IssuedBy, t.IssuedAt, t.ExpiresAt, t.MaxUses, t.CurrentUses)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAccessTokens(ctx context.Context, planID uuid.UUID) ([]*models.AccessToken, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tokenCols+` FROM access_tokens WHERE plan_id = $1 ORDER BY issued_at DESC`, planID)
	if err != nil {
		return nil, fmt.Errorf("list access tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*models.AccessToken
	for rows.Next() {
		var t models.AccessToken
		if err := rows.Scan(&t.ID, &t.PlanID, &t.StudentID, &t.SecretHash, &t.SecretPrefix,
			&t.IssuedBy, &t.IssuedAt, &t.ExpiresAt, &t.MaxUses, &t.CurrentUses, &t.LastAccessedAt); err != nil {
			return nil, fmt.Errorf("scan access token: %w", err)
		}
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}

// ConsumeAccessToken is the check-and-increment for token validation. The
// guard conditions live inside the single UPDATE so that concurrent
// presentations of the same secret can never push current_uses past
// max_uses.
func (s *PostgresStore) ConsumeAccessToken(ctx context.Context, secretHash string, planID uuid.UUID) (*models.AccessToken, error) {
	var t models.AccessToken
	err := s.pool.QueryRow(ctx,
		`UPDATE access_tokens
		 SET current_uses = current_uses + 1, last_accessed_at = NOW()
		 WHERE secret_hash = $1 AND plan_id = $2
		   AND expires_at > NOW() AND current_uses < max_uses
		 RETURNING `+tokenCols,
		secretHash, planID,
	).Scan(&t.ID, &t.PlanID, &t.StudentID, &t.SecretHash, &t.SecretPrefix,
		&t.IssuedBy, &t.IssuedAt, &t.ExpiresAt, &t.MaxUses, &t.CurrentUses, &t.LastAccessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume access token: %w", err)
	}
	return &t, nil
}

// lockLiveToken re-validates a token inside an open transaction, taking a
// row lock so the granted mutation and the liveness check commit together.
// A consumed token (current_uses > 0) that has not expired is considered
// live for grant execution.
func lockLiveToken(ctx context.Context, tx pgx.Tx, secretHash string, planID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.QueryRow(ctx,
		`SELECT id FROM access_tokens
		 WHERE secret_hash = $1 AND plan_id = $2
		   AND expires_at > NOW() AND current_uses > 0 AND current_uses <= max_uses
		 FOR UPDATE`,
		secretHash, planID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("lock access token: %w", err)
	}
	return id, nil
}

// AddFamilyComment is the privileged comment procedure: token
// re-validation and comment insertion commit as one unit. The comment is
// attributed to no principal and flagged family-origin.
func (s *PostgresStore) AddFamilyComment(ctx context.Context, secretHash string, planID uuid.UUID, body string) (*models.PlanComment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin family comment: %w", err)
	}
	defer tx.Rollback(ctx)

	tokenID, err := lockLiveToken(ctx, tx, secretHash, planID)
	if err != nil {
		return nil, err
	}

	var c models.PlanComment
	err = tx.QueryRow(ctx,
		`INSERT INTO plan_comments (id, plan_id, author_id, family_origin, body)
		 VALUES ($1, $2, NULL, TRUE, $3)
		 RETURNING id, plan_id, author_id, family_origin, body, created_at`,
		uuid.New(), planID, body,
	).Scan(&c.ID, &c.PlanID, &c.AuthorID, &c.FamilyOrigin, &c.Body, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert family comment: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE access_tokens SET last_accessed_at = NOW() WHERE id = $1`, tokenID); err != nil {
		return nil, fmt.Errorf("touch access token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit family comment: %w", err)
	}
	return &c, nil
}

// ApprovePlanByToken is the privileged approval procedure. Re-approval
// after plan edits overwrites the previous approval, which is a valid
// business flow.
func (s *PostgresStore) ApprovePlanByToken(ctx context.Context, secretHash string, planID uuid.UUID, approver string) (*models.Plan, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin family approval: %w", err)
	}
	defer tx.Rollback(ctx)

	tokenID, err := lockLiveToken(ctx, tx, secretHash, planID)
	if err != nil {
		return nil, err
	}

	p, err := scanPlan(tx.QueryRow(ctx,
		`UPDATE plans SET approved_at = NOW(), approved_by = $2, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+planCols,
		planID, approver), "approve plan")
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE access_tokens SET last_accessed_at = NOW() WHERE id = $1`, tokenID); err != nil {
		return nil, fmt.Errorf("touch access token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit family approval: %w", err)
	}
	return p, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
