package models

import (
	"time"

	"github.com/google/uuid"
)

// Plan statuses follow the authoring lifecycle; approval is tracked on the
// row itself rather than as a separate record.
const (
	PlanStatusDraft     = "draft"
	PlanStatusInReview  = "in_review"
	PlanStatusActive    = "active"
	PlanStatusArchived  = "archived"
)

// Plan is an individualized education plan, the subject record that family
// access tokens grant entry to.
type Plan struct {
	ID          uuid.UUID  `db:"id"           json:"id"`
	TenantID    uuid.UUID  `db:"tenant_id"    json:"tenant_id"`
	SchoolID    uuid.UUID  `db:"school_id"    json:"school_id"`
	StudentID   uuid.UUID  `db:"student_id"   json:"student_id"`
	StudentName string     `db:"student_name" json:"student_name"`
	Title       string     `db:"title"        json:"title"`
	Status      string     `db:"status"       json:"status"`
	CreatedBy   uuid.UUID  `db:"created_by"   json:"created_by"`
	ApprovedAt  *time.Time `db:"approved_at"  json:"approved_at,omitempty"`
	ApprovedBy  *string    `db:"approved_by"  json:"approved_by,omitempty"`
	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updated_at"`
}

// PlanComment is a collaboration note on a plan. AuthorID is NULL for
// comments posted through a validated family access token; those rows are
// additionally flagged FamilyOrigin so readers can render them as coming
// from the student's family.
type PlanComment struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	PlanID       uuid.UUID  `db:"plan_id"       json:"plan_id"`
	AuthorID     *uuid.UUID `db:"author_id"     json:"author_id,omitempty"`
	FamilyOrigin bool       `db:"family_origin" json:"family_origin"`
	Body         string     `db:"body"          json:"body"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
}
