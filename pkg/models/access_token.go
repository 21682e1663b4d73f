package models

import (
	"time"

	"github.com/google/uuid"
)

// AccessToken is a family secure-access capability. The plaintext secret is
// shown once at issuance; only the SHA-256 hash is stored, so the row can
// only ever be found by presenting the correct secret. A token is never
// deleted: once expired or exhausted it is permanently dead but remains as
// an audit record.
type AccessToken struct {
	ID             uuid.UUID  `db:"id"               json:"id"`
	PlanID         uuid.UUID  `db:"plan_id"          json:"plan_id"`
	StudentID      uuid.UUID  `db:"student_id"       json:"student_id"`
	SecretHash     string     `db:"secret_hash"      json:"-"`
	SecretPrefix   string     `db:"secret_prefix"    json:"secret_prefix"`
	IssuedBy       uuid.UUID  `db:"issued_by"        json:"issued_by"`
	IssuedAt       time.Time  `db:"issued_at"        json:"issued_at"`
	ExpiresAt      time.Time  `db:"expires_at"       json:"expires_at"`
	MaxUses        int        `db:"max_uses"         json:"max_uses"`
	CurrentUses    int        `db:"current_uses"     json:"current_uses"`
	LastAccessedAt *time.Time `db:"last_accessed_at" json:"last_accessed_at,omitempty"`
}

// Live reports whether the token can still be consumed at the given time.
func (t *AccessToken) Live(now time.Time) bool {
	return now.Before(t.ExpiresAt) && t.CurrentUses < t.MaxUses
}
