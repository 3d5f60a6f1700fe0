package task

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Babel-Snake/vinagent-backend-sub000/internal/audit"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/config"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/errs"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/execution"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/notify"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/store"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/token"
	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

var (
	manager = types.Staff{ID: "mgr1", TenantID: "t1", Name: "Morgan Hale", Role: types.RoleManager}
	basic   = types.Staff{ID: "bas1", TenantID: "t1", Name: "Riley Chen", Role: types.RoleBasic}
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := zap.NewNop()
	rec := audit.NewRecorder(log)
	tokens := token.NewService(7*24*time.Hour, log)
	engine := execution.NewEngine(execution.Deps{
		Tokens:        tokens,
		Providers:     execution.NewRegistryProviders(config.Registry{}, log),
		Audit:         rec,
		Dispatcher:    notify.NewDispatcher(notify.NewRegistryFactory(config.Registry{}, log), log),
		Messages:      db,
		PublicBaseURL: "https://vinagent.example",
		Log:           log,
	})
	svc := NewService(db, rec, engine, tokens, log)

	ctx := context.Background()
	tenant := types.Tenant{
		ID: "t1", Name: "Hillside Estate",
		EnabledModules: map[string]bool{"booking": true, "ordering": true, "membership": true},
		AutoExecute:    true,
	}
	if err := db.UpsertTenant(ctx, tenant); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	for _, st := range []types.Staff{manager, basic} {
		if err := db.UpsertStaff(ctx, st); err != nil {
			t.Fatalf("seed staff: %v", err)
		}
	}
	contact := types.Contact{
		ID: "c1", TenantID: "t1", Name: "Alex Reed",
		Phone: "+61411111111", PreferredChannel: types.ChannelSMS,
		AddressLine1: "1 Old Road", AddressSuburb: "Cessnock", AddressPostcode: "2325",
		CreatedAt: time.Now(),
	}
	if err := db.UpsertContact(ctx, contact); err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	return svc, db
}

func ptr[T any](v T) *T { return &v }

func createTask(t *testing.T, svc *Service, in CreateInput) types.Task {
	t.Helper()
	created, err := svc.Create(context.Background(), manager, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return created
}

func TestCreateRecordsAuditEntry(t *testing.T) {
	svc, _ := newTestService(t)
	created := createTask(t, svc, CreateInput{
		Category: types.CategoryGeneralEnquiry, Subtype: types.SubtypeGeneral, ContactID: "c1",
	})
	if created.Status != types.StatusPendingReview {
		t.Fatalf("new task must be pending review, got %s", created.Status)
	}
	if created.Version != 1 {
		t.Fatalf("new task version = %d", created.Version)
	}

	detail, err := svc.Get(context.Background(), manager, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(detail.History) != 1 || detail.History[0].Type != types.ActionCreated {
		t.Fatalf("expected one created entry, got %+v", detail.History)
	}
}

func TestGetCrossTenantIsNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	created := createTask(t, svc, CreateInput{Category: types.CategoryGeneralEnquiry, Subtype: types.SubtypeGeneral})

	outsider := types.Staff{ID: "x", TenantID: "t2", Role: types.RoleAdmin}
	if _, err := svc.Get(context.Background(), outsider, created.ID); !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("expected not_found for other tenant, got %v", err)
	}
}

func TestApproveGeneralTaskExecutesAndSendsReply(t *testing.T) {
	svc, db := newTestService(t)
	created := createTask(t, svc, CreateInput{
		Category: types.CategoryGeneralEnquiry, Subtype: types.SubtypeGeneral, ContactID: "c1",
		ReplyBody: "Thanks for reaching out!", ReplyChannel: types.ChannelSMS,
	})

	updated, err := svc.Update(context.Background(), manager, created.ID, UpdateInput{
		Version: created.Version, Status: ptr(types.StatusApproved),
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if updated.Status != types.StatusExecuted {
		t.Fatalf("expected executed, got %s", updated.Status)
	}

	detail, err := svc.Get(context.Background(), manager, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var seen []types.ActionType
	for _, a := range detail.History {
		seen = append(seen, a.Type)
	}
	want := []types.ActionType{types.ActionCreated, types.ActionApproved, types.ActionExecuted}
	if len(seen) != len(want) {
		t.Fatalf("history %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("history %v, want %v", seen, want)
		}
	}

	msgs, err := db.ListMessagesForContact(context.Background(), "t1", "c1")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Direction != types.DirectionOutbound {
		t.Fatalf("expected one outbound reply, got %+v", msgs)
	}
}

func TestBasicRoleCannotApprove(t *testing.T) {
	svc, _ := newTestService(t)
	created := createTask(t, svc, CreateInput{Category: types.CategoryGeneralEnquiry, Subtype: types.SubtypeGeneral})

	_, err := svc.Update(context.Background(), basic, created.ID, UpdateInput{Status: ptr(types.StatusApproved)})
	if !errs.Is(err, errs.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	detail, _ := svc.Get(context.Background(), manager, created.ID)
	if detail.Task.Status != types.StatusPendingReview {
		t.Fatalf("status changed despite forbidden: %s", detail.Task.Status)
	}
}

func TestBasicRoleCannotReassign(t *testing.T) {
	svc, _ := newTestService(t)
	created := createTask(t, svc, CreateInput{Category: types.CategoryGeneralEnquiry, Subtype: types.SubtypeGeneral})

	_, err := svc.Update(context.Background(), basic, created.ID, UpdateInput{AssigneeID: ptr("mgr1")})
	if !errs.Is(err, errs.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestApproveAddressChangeThenMemberConfirm(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	created := createTask(t, svc, CreateInput{
		Category: types.CategoryAccount, Subtype: types.SubtypeAddressChange, ContactID: "c1",
		Payload: map[string]any{"line1": "12 Oak Street", "suburb": "Pokolbin", "postcode": "2320"},
	})

	updated, err := svc.Update(ctx, manager, created.ID, UpdateInput{
		Version: created.Version, Status: ptr(types.StatusApproved),
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if updated.Status != types.StatusAwaitingMemberAction {
		t.Fatalf("expected awaiting member action, got %s", updated.Status)
	}

	parts := strings.Split(updated.ReplyBody, "/confirm/")
	if len(parts) != 2 {
		t.Fatalf("reply has no confirmation link: %q", updated.ReplyBody)
	}
	tokenString := strings.TrimSpace(parts[1])

	view, err := svc.MemberView(ctx, tokenString)
	if err != nil {
		t.Fatalf("member view: %v", err)
	}
	if view.TenantName != "Hillside Estate" || view.Proposed["line1"] != "12 Oak Street" {
		t.Fatalf("unexpected view: %+v", view)
	}

	result, err := svc.MemberConfirm(ctx, tokenString, nil)
	if err != nil {
		t.Fatalf("member confirm: %v", err)
	}
	if result.TaskID != created.ID {
		t.Fatalf("confirmed wrong task: %s", result.TaskID)
	}

	contact, found, err := db.GetContact(ctx, "t1", "c1")
	if err != nil || !found {
		t.Fatalf("load contact: %v", err)
	}
	if contact.AddressLine1 != "12 Oak Street" || contact.AddressPostcode != "2320" {
		t.Fatalf("address not applied: %+v", contact)
	}

	detail, _ := svc.Get(ctx, manager, created.ID)
	if detail.Task.Status != types.StatusExecuted {
		t.Fatalf("task not executed after confirmation: %s", detail.Task.Status)
	}

	if _, err := svc.MemberConfirm(ctx, tokenString, nil); !errs.Is(err, errs.KindTokenAlreadyUsed) {
		t.Fatalf("second confirm should fail with token_already_used, got %v", err)
	}
}

func TestMemberConfirmWithOverride(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	created := createTask(t, svc, CreateInput{
		Category: types.CategoryAccount, Subtype: types.SubtypeAddressChange, ContactID: "c1",
		Payload: map[string]any{"line1": "12 Oak Street", "suburb": "Pokolbin", "postcode": "2320"},
	})
	updated, err := svc.Update(ctx, manager, created.ID, UpdateInput{Status: ptr(types.StatusApproved)})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	tokenString := strings.TrimSpace(strings.Split(updated.ReplyBody, "/confirm/")[1])

	if _, err := svc.MemberConfirm(ctx, tokenString, map[string]any{"line1": "14 Oak Street"}); err != nil {
		t.Fatalf("confirm with override: %v", err)
	}
	contact, _, _ := db.GetContact(ctx, "t1", "c1")
	if contact.AddressLine1 != "14 Oak Street" || contact.AddressSuburb != "Pokolbin" {
		t.Fatalf("override not applied: %+v", contact)
	}
}

func TestApproveAddressChangeIncompletePayloadRollsBack(t *testing.T) {
	svc, _ := newTestService(t)
	created := createTask(t, svc, CreateInput{
		Category: types.CategoryAccount, Subtype: types.SubtypeAddressChange, ContactID: "c1",
		Payload: map[string]any{"line1": "12 Oak Street"},
	})

	_, err := svc.Update(context.Background(), manager, created.ID, UpdateInput{Status: ptr(types.StatusApproved)})
	if !errs.Is(err, errs.KindIncompletePayload) {
		t.Fatalf("expected incomplete_payload, got %v", err)
	}

	detail, _ := svc.Get(context.Background(), manager, created.ID)
	if detail.Task.Status != types.StatusPendingReview {
		t.Fatalf("approval not rolled back: %s", detail.Task.Status)
	}
	if len(detail.History) != 1 {
		t.Fatalf("audit written despite rollback: %+v", detail.History)
	}
}

func TestRejectedTaskIsTerminal(t *testing.T) {
	svc, _ := newTestService(t)
	created := createTask(t, svc, CreateInput{Category: types.CategoryGeneralEnquiry, Subtype: types.SubtypeGeneral})
	ctx := context.Background()

	if _, err := svc.Update(ctx, manager, created.ID, UpdateInput{Status: ptr(types.StatusRejected)}); err != nil {
		t.Fatalf("reject: %v", err)
	}

	_, err := svc.Update(ctx, manager, created.ID, UpdateInput{Priority: ptr(types.PriorityHigh)})
	if !errs.Is(err, errs.KindInvalidStatusTransition) {
		t.Fatalf("expected invalid_status_transition on terminal task, got %v", err)
	}
}

func TestDirectExecutedStatusRejected(t *testing.T) {
	svc, _ := newTestService(t)
	created := createTask(t, svc, CreateInput{Category: types.CategoryGeneralEnquiry, Subtype: types.SubtypeGeneral})

	_, err := svc.Update(context.Background(), manager, created.ID, UpdateInput{Status: ptr(types.StatusExecuted)})
	if !errs.Is(err, errs.KindInvalidStatusTransition) {
		t.Fatalf("expected invalid_status_transition, got %v", err)
	}
}

func TestStaleVersionConflicts(t *testing.T) {
	svc, _ := newTestService(t)
	created := createTask(t, svc, CreateInput{Category: types.CategoryGeneralEnquiry, Subtype: types.SubtypeGeneral})
	ctx := context.Background()

	if _, err := svc.Update(ctx, manager, created.ID, UpdateInput{Priority: ptr(types.PriorityHigh)}); err != nil {
		t.Fatalf("first update: %v", err)
	}

	_, err := svc.Update(ctx, manager, created.ID, UpdateInput{
		Version: created.Version, Priority: ptr(types.PriorityUrgent),
	})
	if !errs.Is(err, errs.KindConflict) {
		t.Fatalf("expected conflict for stale version, got %v", err)
	}
}

func TestNoteRecordsMentionsAndQueuesRegen(t *testing.T) {
	svc, db := newTestService(t)
	created := createTask(t, svc, CreateInput{Category: types.CategoryGeneralEnquiry, Subtype: types.SubtypeGeneral})
	ctx := context.Background()

	if _, err := svc.Update(ctx, manager, created.ID, UpdateInput{
		Note: ptr("@riley can you double-check the vintage?"),
	}); err != nil {
		t.Fatalf("note: %v", err)
	}

	detail, _ := svc.Get(ctx, manager, created.ID)
	var noteEntry *types.TaskAction
	for i, a := range detail.History {
		if a.Type == types.ActionNoteAdded {
			noteEntry = &detail.History[i]
		}
	}
	if noteEntry == nil {
		t.Fatalf("no note_added entry: %+v", detail.History)
	}
	mentions, _ := noteEntry.Details["mentions"].([]any)
	if len(mentions) != 1 || mentions[0] != "bas1" {
		t.Fatalf("expected riley mentioned, got %+v", noteEntry.Details)
	}

	jobs, err := db.ClaimRegenJobs(ctx, time.Now().Add(time.Second), 10, time.Minute)
	if err != nil {
		t.Fatalf("claim jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].TaskID != created.ID {
		t.Fatalf("expected one regen job for task, got %+v", jobs)
	}

	notifs, err := db.ListNotificationsForStaff(ctx, "t1", "bas1")
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notifs) != 1 {
		t.Fatalf("expected one mention notification, got %+v", notifs)
	}
	n := notifs[0]
	if n.Kind != types.NotificationMention || n.TaskID != created.ID {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if !strings.Contains(n.Body, manager.Name) {
		t.Fatalf("notification body missing author: %q", n.Body)
	}

	unmentioned, err := db.ListNotificationsForStaff(ctx, "t1", "mgr1")
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(unmentioned) != 0 {
		t.Fatalf("unmentioned staff should get nothing, got %+v", unmentioned)
	}
}

func TestBasicRoleCanReject(t *testing.T) {
	svc, _ := newTestService(t)
	created := createTask(t, svc, CreateInput{Category: types.CategoryGeneralEnquiry, Subtype: types.SubtypeGeneral})

	updated, err := svc.Update(context.Background(), basic, created.ID, UpdateInput{Status: ptr(types.StatusRejected)})
	if err != nil {
		t.Fatalf("basic reject: %v", err)
	}
	if updated.Status != types.StatusRejected {
		t.Fatalf("expected rejected, got %s", updated.Status)
	}

	detail, _ := svc.Get(context.Background(), manager, created.ID)
	var found bool
	for _, a := range detail.History {
		if a.Type == types.ActionRejected && a.ActorID == basic.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("no rejected entry for basic staff: %+v", detail.History)
	}
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	long := strings.Repeat("é", 100)
	got := truncate(long)
	if !utf8.ValidString(got) {
		t.Fatalf("truncate produced invalid utf-8: %q", got)
	}
	if got != strings.Repeat("é", 80)+"…" {
		t.Fatalf("unexpected truncation: %q", got)
	}
	if truncate("short") != "short" {
		t.Fatalf("short strings must pass through")
	}
}

func TestParentLinkValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	parent := createTask(t, svc, CreateInput{Category: types.CategoryGeneralEnquiry, Subtype: types.SubtypeGeneral})
	child := createTask(t, svc, CreateInput{Category: types.CategoryGeneralEnquiry, Subtype: types.SubtypeGeneral})

	if _, err := svc.Update(ctx, manager, child.ID, UpdateInput{ParentTaskID: ptr(child.ID)}); !errs.Is(err, errs.KindValidation) {
		t.Fatalf("self-link must be rejected, got %v", err)
	}
	if _, err := svc.Update(ctx, manager, child.ID, UpdateInput{ParentTaskID: ptr("nope")}); !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("unknown parent must be not_found, got %v", err)
	}

	updated, err := svc.Update(ctx, manager, child.ID, UpdateInput{ParentTaskID: ptr(parent.ID)})
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if updated.ParentTaskID != parent.ID {
		t.Fatalf("parent not set: %+v", updated)
	}

	detail, _ := svc.Get(ctx, manager, child.ID)
	var linked bool
	for _, a := range detail.History {
		if a.Type == types.ActionLinked {
			linked = true
		}
	}
	if !linked {
		t.Fatalf("no linked entry: %+v", detail.History)
	}
}

func TestApproveBookingStoresReference(t *testing.T) {
	svc, _ := newTestService(t)
	created := createTask(t, svc, CreateInput{
		Category: types.CategoryBooking, Subtype: types.SubtypeBookingRequest, ContactID: "c1",
		Payload: map[string]any{"date": "2026-09-12", "time": "18:30", "party_size": float64(4)},
	})

	updated, err := svc.Update(context.Background(), manager, created.ID, UpdateInput{Status: ptr(types.StatusApproved)})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if updated.Status != types.StatusExecuted {
		t.Fatalf("expected executed, got %s", updated.Status)
	}
	ref, _ := updated.Payload["booking_reference"].(string)
	if !strings.HasPrefix(ref, "DEV-") {
		t.Fatalf("expected dev booking reference, got %q", ref)
	}
}
