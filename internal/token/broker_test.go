package token

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/edustack/accessgate/internal/config"
	"github.com/edustack/accessgate/internal/gate"
	"github.com/edustack/accessgate/internal/store/storetest"
	"github.com/edustack/accessgate/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPolicy = config.TokenConfig{
	DefaultTTL:     7 * 24 * time.Hour,
	DefaultMaxUses: 10,
	GrantTTL:       15 * time.Minute,
}

// testClock is a controllable clock shared between the broker and the
// in-memory store so expiry behaves consistently.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBroker(t *testing.T) (*Broker, *storetest.Store, *testClock, *models.Plan, *gate.PrincipalContext) {
	t.Helper()
	st := storetest.New()
	clock := newTestClock()
	st.Now = clock.Now

	school := st.Schools[0]
	coordinator := &models.Principal{
		ID:         uuid.New(),
		AuthUserID: uuid.New(),
		Email:      "coordinator@example.org",
		TenantID:   &school.TenantID,
		SchoolID:   &school.ID,
		Active:     true,
	}
	st.Principals = append(st.Principals, coordinator)

	plan := &models.Plan{
		ID:          uuid.New(),
		TenantID:    school.TenantID,
		SchoolID:    school.ID,
		StudentID:   uuid.New(),
		StudentName: "Ana Souza",
		Title:       "Reading support plan",
		Status:      models.PlanStatusInReview,
		CreatedBy:   coordinator.ID,
	}
	require.NoError(t, st.CreatePlan(context.Background(), plan))

	pc := &gate.PrincipalContext{
		PrincipalID: coordinator.ID,
		AuthUserID:  coordinator.AuthUserID,
		Email:       coordinator.Email,
		Role:        gate.RoleCoordinator,
		TenantID:    &school.TenantID,
		SchoolID:    &school.ID,
		Active:      true,
	}

	b := NewBroker(st, testPolicy)
	b.now = clock.Now
	return b, st, clock, plan, pc
}

func TestIssue_Defaults(t *testing.T) {
	b, st, clock, plan, pc := newTestBroker(t)
	ctx := context.Background()

	secret, tok, err := b.Issue(ctx, pc, IssueParams{PlanID: plan.ID})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(secret, "fam_"))
	assert.Len(t, secret, len("fam_")+26)
	assert.Equal(t, 10, tok.MaxUses)
	assert.Equal(t, 0, tok.CurrentUses)
	assert.Equal(t, clock.Now().Add(7*24*time.Hour), tok.ExpiresAt)
	assert.Equal(t, plan.StudentID, tok.StudentID)
	assert.Equal(t, pc.PrincipalID, tok.IssuedBy)

	// Only the hash and a short display prefix survive issuance.
	assert.Equal(t, HashSecret(secret), tok.SecretHash)
	assert.Equal(t, secret[:12], tok.SecretPrefix)
	assert.NotContains(t, tok.SecretHash, secret)
	require.Len(t, st.Tokens, 1)
	assert.NotEqual(t, secret, st.Tokens[0].SecretHash)
}

func TestIssue_UnknownPlan(t *testing.T) {
	b, _, _, _, pc := newTestBroker(t)

	_, _, err := b.Issue(context.Background(), pc, IssueParams{PlanID: uuid.New()})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestIssue_IssuerOutsideScope(t *testing.T) {
	b, _, _, plan, pc := newTestBroker(t)

	otherSchool := uuid.New()
	outsider := &gate.PrincipalContext{
		PrincipalID: uuid.New(),
		Role:        gate.RoleCoordinator,
		TenantID:    pc.TenantID,
		SchoolID:    &otherSchool,
		Active:      true,
	}
	_, _, err := b.Issue(context.Background(), outsider, IssueParams{PlanID: plan.ID})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestValidateAndConsume_Success(t *testing.T) {
	b, st, clock, plan, pc := newTestBroker(t)
	ctx := context.Background()

	secret, tok, err := b.Issue(ctx, pc, IssueParams{PlanID: plan.ID})
	require.NoError(t, err)

	grant, err := b.ValidateAndConsume(ctx, secret, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, tok.ID, grant.TokenID)
	assert.Equal(t, plan.ID, grant.PlanID)
	assert.Equal(t, plan.StudentID, grant.StudentID)
	assert.Equal(t, clock.Now().Add(testPolicy.GrantTTL), grant.ExpiresAt)

	assert.Equal(t, 1, st.Tokens[0].CurrentUses)
	require.NotNil(t, st.Tokens[0].LastAccessedAt)
}

func TestValidateAndConsume_WrongSecret(t *testing.T) {
	b, _, _, plan, pc := newTestBroker(t)
	ctx := context.Background()

	_, _, err := b.Issue(ctx, pc, IssueParams{PlanID: plan.ID})
	require.NoError(t, err)

	// A random candidate never validates against the stored hash.
	candidate, err := NewSecret()
	require.NoError(t, err)
	_, err = b.ValidateAndConsume(ctx, candidate, plan.ID)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestValidateAndConsume_WrongPlan(t *testing.T) {
	b, _, _, plan, pc := newTestBroker(t)
	ctx := context.Background()

	secret, _, err := b.Issue(ctx, pc, IssueParams{PlanID: plan.ID})
	require.NoError(t, err)

	_, err = b.ValidateAndConsume(ctx, secret, uuid.New())
	assert.ErrorIs(t, err, ErrRejected)
}

func TestValidateAndConsume_SingleUseExhaustion(t *testing.T) {
	b, _, _, plan, pc := newTestBroker(t)
	ctx := context.Background()

	secret, _, err := b.Issue(ctx, pc, IssueParams{PlanID: plan.ID, MaxUses: 1})
	require.NoError(t, err)

	_, err = b.ValidateAndConsume(ctx, secret, plan.ID)
	require.NoError(t, err)

	_, err = b.ValidateAndConsume(ctx, secret, plan.ID)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestValidateAndConsume_Expired(t *testing.T) {
	b, _, clock, plan, pc := newTestBroker(t)
	ctx := context.Background()

	secret, _, err := b.Issue(ctx, pc, IssueParams{PlanID: plan.ID})
	require.NoError(t, err)

	clock.Advance(7*24*time.Hour + time.Second)

	// Uses remain but the window is closed, permanently.
	_, err = b.ValidateAndConsume(ctx, secret, plan.ID)
	assert.ErrorIs(t, err, ErrRejected)
	_, err = b.ValidateAndConsume(ctx, secret, plan.ID)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestValidateAndConsume_BoundedUnderConcurrency(t *testing.T) {
	b, st, _, plan, pc := newTestBroker(t)
	ctx := context.Background()

	const maxUses = 5
	const attempts = 25

	secret, _, err := b.Issue(ctx, pc, IssueParams{PlanID: plan.ID, MaxUses: maxUses})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.ValidateAndConsume(ctx, secret, plan.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, rejections int
	for err := range results {
		switch {
		case err == nil:
			successes++
		default:
			assert.ErrorIs(t, err, ErrRejected)
			rejections++
		}
	}
	assert.Equal(t, maxUses, successes)
	assert.Equal(t, attempts-maxUses, rejections)
	assert.Equal(t, maxUses, st.Tokens[0].CurrentUses)
}

func TestPerformGrantedAction_Comment(t *testing.T) {
	b, st, _, plan, pc := newTestBroker(t)
	ctx := context.Background()

	secret, _, err := b.Issue(ctx, pc, IssueParams{PlanID: plan.ID})
	require.NoError(t, err)
	grant, err := b.ValidateAndConsume(ctx, secret, plan.ID)
	require.NoError(t, err)

	result, err := b.PerformGrantedAction(ctx, grant, CommentAction{Body: "We agree with the goals."})
	require.NoError(t, err)
	require.NotNil(t, result.Comment)
	assert.Nil(t, result.Comment.AuthorID)
	assert.True(t, result.Comment.FamilyOrigin)
	assert.Equal(t, "We agree with the goals.", result.Comment.Body)

	comments, err := st.ListComments(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, result.Comment.ID, comments[0].ID)
}

func TestPerformGrantedAction_Approval(t *testing.T) {
	b, _, _, plan, pc := newTestBroker(t)
	ctx := context.Background()

	secret, _, err := b.Issue(ctx, pc, IssueParams{PlanID: plan.ID})
	require.NoError(t, err)
	grant, err := b.ValidateAndConsume(ctx, secret, plan.ID)
	require.NoError(t, err)

	result, err := b.PerformGrantedAction(ctx, grant, ApprovalAction{ApproverName: "Maria Souza"})
	require.NoError(t, err)
	require.NotNil(t, result.Plan)
	require.NotNil(t, result.Plan.ApprovedAt)
	require.NotNil(t, result.Plan.ApprovedBy)
	assert.Equal(t, "Maria Souza", *result.Plan.ApprovedBy)
}

func TestPerformGrantedAction_GrantExpiredBeforeUse(t *testing.T) {
	b, _, clock, plan, pc := newTestBroker(t)
	ctx := context.Background()

	secret, _, err := b.Issue(ctx, pc, IssueParams{PlanID: plan.ID})
	require.NoError(t, err)
	grant, err := b.ValidateAndConsume(ctx, secret, plan.ID)
	require.NoError(t, err)

	clock.Advance(testPolicy.GrantTTL + time.Second)

	_, err = b.PerformGrantedAction(ctx, grant, CommentAction{Body: "too late"})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestPerformGrantedAction_TokenDeadAtExecution(t *testing.T) {
	b, _, clock, plan, pc := newTestBroker(t)
	ctx := context.Background()

	// Short-lived token: the grant TTL gets clamped to the token expiry.
	secret, _, err := b.Issue(ctx, pc, IssueParams{PlanID: plan.ID, TTL: time.Minute})
	require.NoError(t, err)
	grant, err := b.ValidateAndConsume(ctx, secret, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Minute), grant.ExpiresAt)

	clock.Advance(2 * time.Minute)

	_, err = b.PerformGrantedAction(ctx, grant, CommentAction{Body: "stale"})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestPerformGrantedAction_EmptyInputs(t *testing.T) {
	b, _, _, plan, pc := newTestBroker(t)
	ctx := context.Background()

	secret, _, err := b.Issue(ctx, pc, IssueParams{PlanID: plan.ID})
	require.NoError(t, err)
	grant, err := b.ValidateAndConsume(ctx, secret, plan.ID)
	require.NoError(t, err)

	_, err = b.PerformGrantedAction(ctx, grant, CommentAction{Body: "   "})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = b.PerformGrantedAction(ctx, grant, ApprovalAction{ApproverName: ""})
	assert.ErrorIs(t, err, ErrValidation)
}
