package models

import (
	"time"

	"github.com/google/uuid"
)

// Principal is a platform user. AuthUserID is the stable identity from the
// authentication provider; PasswordHash is set only for locally-managed
// staff accounts. A principal created at first login starts inactive and
// stays that way until an administrator approves it.
type Principal struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	AuthUserID   uuid.UUID  `db:"auth_user_id"  json:"auth_user_id"`
	Email        string     `db:"email"         json:"email"`
	PasswordHash *string    `db:"password_hash" json:"-"`
	TenantID     *uuid.UUID `db:"tenant_id"     json:"tenant_id,omitempty"`
	SchoolID     *uuid.UUID `db:"school_id"     json:"school_id,omitempty"`
	Active       bool       `db:"active"        json:"active"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}

// RoleAssignment binds a role name to a principal. A principal may
// accumulate several rows over time; the earliest-created one is the
// effective role.
type RoleAssignment struct {
	ID          uuid.UUID `db:"id"           json:"id"`
	PrincipalID uuid.UUID `db:"principal_id" json:"principal_id"`
	Role        string    `db:"role"         json:"role"`
	CreatedAt   time.Time `db:"created_at"   json:"created_at"`
}

// SchoolMembership is the secondary principal-to-school relation used as
// a fallback when the principal row itself carries no school scope.
type SchoolMembership struct {
	ID          uuid.UUID `db:"id"           json:"id"`
	PrincipalID uuid.UUID `db:"principal_id" json:"principal_id"`
	SchoolID    uuid.UUID `db:"school_id"    json:"school_id"`
	TenantID    uuid.UUID `db:"tenant_id"    json:"tenant_id"`
	CreatedAt   time.Time `db:"created_at"   json:"created_at"`
}
