package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/edustack/accessgate/internal/config"
	"github.com/edustack/accessgate/internal/gate"
	"github.com/edustack/accessgate/internal/store/storetest"
	"github.com/edustack/accessgate/internal/token"
	"github.com/edustack/accessgate/pkg/models"
	"github.com/google/uuid"
)

var familyTestPolicy = config.TokenConfig{
	DefaultTTL:     7 * 24 * time.Hour,
	DefaultMaxUses: 10,
	GrantTTL:       15 * time.Minute,
}

// familyFixture wires a broker over the in-memory store with one plan and
// one issued access code.
type familyFixture struct {
	broker *token.Broker
	store  *storetest.Store
	plan   *models.Plan
	secret string
}

func newFamilyFixture(t *testing.T, maxUses int) *familyFixture {
	t.Helper()
	st := storetest.New()
	school := st.Schools[0]

	issuer := &models.Principal{
		ID:         uuid.New(),
		AuthUserID: uuid.New(),
		Email:      "coordinator@example.org",
		TenantID:   &school.TenantID,
		SchoolID:   &school.ID,
		Active:     true,
	}
	st.Principals = append(st.Principals, issuer)

	plan := &models.Plan{
		ID:          uuid.New(),
		TenantID:    school.TenantID,
		SchoolID:    school.ID,
		StudentID:   uuid.New(),
		StudentName: "Ana Souza",
		Title:       "Reading support plan",
		Status:      models.PlanStatusInReview,
		CreatedBy:   issuer.ID,
	}
	if err := st.CreatePlan(context.Background(), plan); err != nil {
		t.Fatalf("create plan: %v", err)
	}

	b := token.NewBroker(st, familyTestPolicy)
	pc := &gate.PrincipalContext{
		PrincipalID: issuer.ID,
		AuthUserID:  issuer.AuthUserID,
		Email:       issuer.Email,
		Role:        gate.RoleCoordinator,
		TenantID:    &school.TenantID,
		SchoolID:    &school.ID,
		Active:      true,
	}
	secret, _, err := b.Issue(context.Background(), pc, token.IssueParams{PlanID: plan.ID, MaxUses: maxUses})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	return &familyFixture{broker: b, store: st, plan: plan, secret: secret}
}

func familyReq(t *testing.T, target string, body any) *http.Request {
	t.Helper()
	b, _ := json.Marshal(body)
	r := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(b))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v: %s", err, rec.Body.String())
	}
	return env.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) (code, message string) {
	t.Helper()
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error response: %v: %s", err, rec.Body.String())
	}
	return env.Error.Code, env.Error.Message
}

func TestFamilyAccess_Success(t *testing.T) {
	fx := newFamilyFixture(t, 10)
	h := NewFamilyAccessHandler(fx.broker, fx.store)

	rec := httptest.NewRecorder()
	h(rec, familyReq(t, "/api/v1/family/access", map[string]string{
		"code":    fx.secret,
		"plan_id": fx.plan.ID.String(),
	}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)

	plan, ok := data["plan"].(map[string]any)
	if !ok {
		t.Fatalf("expected plan object, got %v", data["plan"])
	}
	if plan["student_name"] != "Ana Souza" {
		t.Errorf("expected student name, got %v", plan["student_name"])
	}
	if _, ok := data["grant_expires_at"]; !ok {
		t.Error("expected grant_expires_at in response")
	}
	if fx.store.Tokens[0].CurrentUses != 1 {
		t.Errorf("expected one consumed use, got %d", fx.store.Tokens[0].CurrentUses)
	}
}

func TestFamilyAccess_BadRequests(t *testing.T) {
	fx := newFamilyFixture(t, 10)
	h := NewFamilyAccessHandler(fx.broker, fx.store)

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", "{not json"},
		{"bad plan id", `{"code":"fam_x","plan_id":"not-a-uuid"}`},
		{"missing code", `{"plan_id":"` + fx.plan.ID.String() + `"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/api/v1/family/access", strings.NewReader(tc.body))
			h(rec, r)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			code, _ := decodeError(t, rec)
			if code != "INVALID_REQUEST" {
				t.Errorf("expected INVALID_REQUEST, got %s", code)
			}
		})
	}
}

func TestFamilyAccess_RejectionIsOpaque(t *testing.T) {
	fx := newFamilyFixture(t, 1)
	h := NewFamilyAccessHandler(fx.broker, fx.store)

	reject := func(code string) (int, string, string) {
		rec := httptest.NewRecorder()
		h(rec, familyReq(t, "/api/v1/family/access", map[string]string{
			"code":    code,
			"plan_id": fx.plan.ID.String(),
		}))
		c, m := decodeError(t, rec)
		return rec.Code, c, m
	}

	// Unknown code.
	unknownStatus, unknownCode, unknownMsg := reject("fam_aaaaaaaaaaaaaaaaaaaaaaaaaa")

	// Exhaust the real code, then present it again.
	rec := httptest.NewRecorder()
	h(rec, familyReq(t, "/api/v1/family/access", map[string]string{
		"code": fx.secret, "plan_id": fx.plan.ID.String(),
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected first use to succeed, got %d", rec.Code)
	}
	exhaustedStatus, exhaustedCode, exhaustedMsg := reject(fx.secret)

	// Both failures must be byte-for-byte indistinguishable.
	if unknownStatus != http.StatusUnauthorized || exhaustedStatus != http.StatusUnauthorized {
		t.Fatalf("expected 401 for both, got %d and %d", unknownStatus, exhaustedStatus)
	}
	if unknownCode != exhaustedCode || unknownMsg != exhaustedMsg {
		t.Errorf("rejection responses differ: %q/%q vs %q/%q",
			unknownCode, unknownMsg, exhaustedCode, exhaustedMsg)
	}
	if unknownCode != "TOKEN_REJECTED" {
		t.Errorf("expected TOKEN_REJECTED, got %s", unknownCode)
	}
}

func TestFamilyComment_Success(t *testing.T) {
	fx := newFamilyFixture(t, 10)
	h := NewFamilyCommentHandler(fx.broker)

	rec := httptest.NewRecorder()
	h(rec, familyReq(t, "/api/v1/family/comments", map[string]string{
		"code":    fx.secret,
		"plan_id": fx.plan.ID.String(),
		"body":    "We agree with the goals.",
	}))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	if data["family_origin"] != true {
		t.Errorf("expected family_origin true, got %v", data["family_origin"])
	}
	if data["author_id"] != nil {
		t.Errorf("expected null author, got %v", data["author_id"])
	}
}

func TestFamilyComment_EmptyBody(t *testing.T) {
	fx := newFamilyFixture(t, 10)
	h := NewFamilyCommentHandler(fx.broker)

	rec := httptest.NewRecorder()
	h(rec, familyReq(t, "/api/v1/family/comments", map[string]string{
		"code":    fx.secret,
		"plan_id": fx.plan.ID.String(),
		"body":    "   ",
	}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	code, _ := decodeError(t, rec)
	if code != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %s", code)
	}
}

func TestFamilyApproval_Success(t *testing.T) {
	fx := newFamilyFixture(t, 10)
	h := NewFamilyApprovalHandler(fx.broker)

	rec := httptest.NewRecorder()
	h(rec, familyReq(t, "/api/v1/family/approval", map[string]string{
		"code":          fx.secret,
		"plan_id":       fx.plan.ID.String(),
		"approver_name": "Maria Souza",
	}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	if data["approved_by"] != "Maria Souza" {
		t.Errorf("expected approver recorded, got %v", data["approved_by"])
	}
	if fx.store.Plans[0].ApprovedAt == nil {
		t.Error("expected plan marked approved")
	}
}

func TestFamilyApproval_UnknownCode(t *testing.T) {
	fx := newFamilyFixture(t, 10)
	h := NewFamilyApprovalHandler(fx.broker)

	rec := httptest.NewRecorder()
	h(rec, familyReq(t, "/api/v1/family/approval", map[string]string{
		"code":          "fam_aaaaaaaaaaaaaaaaaaaaaaaaaa",
		"plan_id":       fx.plan.ID.String(),
		"approver_name": "Maria Souza",
	}))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}
