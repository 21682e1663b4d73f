// Package token implements the family secure-access broker: issuing
// opaque, time- and use-bounded codes that let a student's family read,
// comment on, and approve an education plan without holding an account.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/edustack/accessgate/internal/config"
	"github.com/edustack/accessgate/internal/gate"
	"github.com/edustack/accessgate/internal/store"
	"github.com/edustack/accessgate/pkg/models"
	"github.com/google/uuid"
)

// ErrValidation marks a bad or unauthorized issuance request. It carries
// an actionable message for the privileged caller.
var ErrValidation = errors.New("invalid token request")

// ErrRejected is the single opaque failure returned to an unauthenticated
// presenter. Unknown code, expired token, and exhausted token all look
// identical from outside; the real cause is only logged server-side.
var ErrRejected = errors.New("access code rejected")

// Broker issues and validates family access tokens.
type Broker struct {
	store  store.Store
	policy config.TokenConfig
	now    func() time.Time
}

// NewBroker creates a Broker with the given token policy.
func NewBroker(s store.Store, policy config.TokenConfig) *Broker {
	return &Broker{store: s, policy: policy, now: func() time.Time { return time.Now().UTC() }}
}

// IssueParams describes a token issuance request. Zero TTL or MaxUses
// fall back to the configured policy defaults.
type IssueParams struct {
	PlanID  uuid.UUID
	TTL     time.Duration
	MaxUses int
}

// Issue mints a new access token for a plan. The plaintext code is
// returned exactly once and never persisted; callers must hand it to the
// family immediately or lose it.
func (b *Broker) Issue(ctx context.Context, issuer *gate.PrincipalContext, params IssueParams) (string, *models.AccessToken, error) {
	plan, err := b.store.GetPlan(ctx, params.PlanID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil, fmt.Errorf("%w: plan does not exist", ErrValidation)
	}
	if err != nil {
		return "", nil, fmt.Errorf("issue token: %w", err)
	}

	if !issuer.CoversSchool(plan.TenantID, plan.SchoolID) {
		return "", nil, fmt.Errorf("%w: issuer has no authority over this plan", ErrValidation)
	}

	ttl := params.TTL
	if ttl <= 0 {
		ttl = b.policy.DefaultTTL
	}
	maxUses := params.MaxUses
	if maxUses <= 0 {
		maxUses = b.policy.DefaultMaxUses
	}

	secret, err := NewSecret()
	if err != nil {
		return "", nil, err
	}

	now := b.now()
	tok := &models.AccessToken{
		ID:           uuid.New(),
		PlanID:       plan.ID,
		StudentID:    plan.StudentID,
		SecretHash:   HashSecret(secret),
		SecretPrefix: DisplayPrefix(secret),
		IssuedBy:     issuer.PrincipalID,
		IssuedAt:     now,
		ExpiresAt:    now.Add(ttl),
		MaxUses:      maxUses,
	}
	if err := b.store.CreateAccessToken(ctx, tok); err != nil {
		return "", nil, fmt.Errorf("persist token: %w", err)
	}

	slog.Info("family token issued",
		"token_id", tok.ID,
		"plan_id", tok.PlanID,
		"issued_by", tok.IssuedBy,
		"expires_at", tok.ExpiresAt,
		"max_uses", tok.MaxUses,
	)
	return secret, tok, nil
}

// Grant is the narrow capability produced by a successful validation. It
// covers a single plan and expires on its own short clock, bounded above
// by the token's expiry.
type Grant struct {
	TokenID    uuid.UUID
	PlanID     uuid.UUID
	StudentID  uuid.UUID
	ExpiresAt  time.Time
	secretHash string
}

// ValidateAndConsume checks the presented code and burns one use. The
// check and the increment are a single conditional update in the store,
// so concurrent presentations can never exceed the use cap.
func (b *Broker) ValidateAndConsume(ctx context.Context, secret string, planID uuid.UUID) (*Grant, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrRejected
	}

	hash := HashSecret(secret)
	tok, err := b.store.ConsumeAccessToken(ctx, hash, planID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Info("family token rejected", "plan_id", planID, "reason", "no live token for presented code")
		return nil, ErrRejected
	}
	if err != nil {
		return nil, fmt.Errorf("validate token: %w", err)
	}

	expires := b.now().Add(b.policy.GrantTTL)
	if tok.ExpiresAt.Before(expires) {
		expires = tok.ExpiresAt
	}

	slog.Info("family token consumed",
		"token_id", tok.ID,
		"plan_id", tok.PlanID,
		"uses", tok.CurrentUses,
		"max_uses", tok.MaxUses,
	)
	return &Grant{
		TokenID:    tok.ID,
		PlanID:     tok.PlanID,
		StudentID:  tok.StudentID,
		ExpiresAt:  expires,
		secretHash: hash,
	}, nil
}

// Action is one of the two operations permitted under a grant.
type Action interface{ isAction() }

// CommentAction appends an unauthored, family-origin comment to the plan.
type CommentAction struct{ Body string }

// ApprovalAction records the family's approval on the plan itself.
type ApprovalAction struct{ ApproverName string }

func (CommentAction) isAction()  {}
func (ApprovalAction) isAction() {}

// ActionResult carries the outcome of a granted action; exactly one field
// is set depending on the action type.
type ActionResult struct {
	Comment *models.PlanComment
	Plan    *models.Plan
}

// PerformGrantedAction executes a granted action through the privileged
// store procedures. The token is re-validated inside the same transaction
// as the mutation: a grant that went stale between validation and use
// (token expired, row gone) fails as a rejection, never as a silent
// success against dead state.
func (b *Broker) PerformGrantedAction(ctx context.Context, grant *Grant, action Action) (*ActionResult, error) {
	if grant == nil || b.now().After(grant.ExpiresAt) {
		slog.Info("family grant rejected", "reason", "grant expired before use")
		return nil, ErrRejected
	}

	switch a := action.(type) {
	case CommentAction:
		body := strings.TrimSpace(a.Body)
		if body == "" {
			return nil, fmt.Errorf("%w: comment body is empty", ErrValidation)
		}
		c, err := b.store.AddFamilyComment(ctx, grant.secretHash, grant.PlanID, body)
		if errors.Is(err, store.ErrNotFound) {
			slog.Info("family grant rejected", "token_id", grant.TokenID, "reason", "token dead at execution")
			return nil, ErrRejected
		}
		if err != nil {
			return nil, fmt.Errorf("family comment: %w", err)
		}
		return &ActionResult{Comment: c}, nil

	case ApprovalAction:
		name := strings.TrimSpace(a.ApproverName)
		if name == "" {
			return nil, fmt.Errorf("%w: approver name is empty", ErrValidation)
		}
		p, err := b.store.ApprovePlanByToken(ctx, grant.secretHash, grant.PlanID, name)
		if errors.Is(err, store.ErrNotFound) {
			slog.Info("family grant rejected", "token_id", grant.TokenID, "reason", "token dead at execution")
			return nil, ErrRejected
		}
		if err != nil {
			return nil, fmt.Errorf("family approval: %w", err)
		}
		slog.Info("plan approved by family", "plan_id", grant.PlanID, "token_id", grant.TokenID)
		return &ActionResult{Plan: p}, nil

	default:
		return nil, fmt.Errorf("%w: unsupported action", ErrValidation)
	}
}

// ListForPlan returns a plan's token metadata for privileged display.
// Secrets are not part of the result; they no longer exist anywhere.
func (b *Broker) ListForPlan(ctx context.Context, viewer *gate.PrincipalContext, planID uuid.UUID) ([]*models.AccessToken, error) {
	plan, err := b.store.GetPlan(ctx, planID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: plan does not exist", ErrValidation)
	}
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	if !viewer.CoversSchool(plan.TenantID, plan.SchoolID) {
		return nil, fmt.Errorf("%w: viewer has no authority over this plan", ErrValidation)
	}
	return b.store.ListAccessTokens(ctx, planID)
}
