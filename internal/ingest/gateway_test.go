package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Babel-Snake/vinagent-backend-sub000/internal/audit"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/classify"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/errs"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/store"
	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

func newTestGateway(t *testing.T, modules map[string]bool) (*Gateway, *store.Store) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := db.UpsertTenant(ctx, types.Tenant{
		ID: "t1", Name: "Hillside Estate",
		InboundSMS: "+61400000001", InboundEmail: "cellar@hillside.example",
		EnabledModules: modules, AutoExecute: true,
	}); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	if err := db.UpsertContact(ctx, types.Contact{
		ID: "c1", TenantID: "t1", Name: "Alex Reed",
		Phone: "+61411111111", PreferredChannel: types.ChannelSMS, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("seed contact: %v", err)
	}

	log := zap.NewNop()
	classifier := classify.NewService(nil, db, time.Second, log)
	return NewGateway(db, classifier, audit.NewRecorder(log), log), db
}

func allModules() map[string]bool {
	return map[string]bool{"booking": true, "ordering": true, "membership": true}
}

func smsInbound(body, externalID string) Inbound {
	return Inbound{
		Channel: types.ChannelSMS, Sender: "+61411111111", Recipient: "+61400000001",
		Body: body, ExternalID: externalID, OccurredAt: time.Now(), Raw: `{"body":"` + body + `"}`,
	}
}

func TestIngestCreatesTaskForKnownContact(t *testing.T) {
	g, db := newTestGateway(t, allModules())
	ctx := context.Background()

	out, err := g.Ingest(ctx, smsInbound("Hi, I'd like to book a table for saturday", "sms-1"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if out.Duplicate || out.TaskID == "" {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	task, found, err := db.GetTask(ctx, "t1", out.TaskID)
	if err != nil || !found {
		t.Fatalf("task not persisted: %v", err)
	}
	if task.Category != types.CategoryBooking || task.Subtype != types.SubtypeBookingRequest {
		t.Fatalf("unexpected classification: %s/%s", task.Category, task.Subtype)
	}
	if task.ContactID != "c1" || task.CustomerType != types.CustomerMember {
		t.Fatalf("contact not resolved: %+v", task)
	}
	if task.SourceMessageID != out.MessageID {
		t.Fatalf("task not linked to source message")
	}

	actions, err := db.ListActions(ctx, out.TaskID)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if len(actions) != 1 || actions[0].Type != types.ActionCreated {
		t.Fatalf("expected one created entry, got %+v", actions)
	}
	if actions[0].Details["origin"] != "ingestion" {
		t.Fatalf("created entry missing origin: %+v", actions[0].Details)
	}
}

func TestIngestDuplicateShortCircuits(t *testing.T) {
	g, db := newTestGateway(t, allModules())
	ctx := context.Background()

	first, err := g.Ingest(ctx, smsInbound("hello", "sms-dup"))
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	second, err := g.Ingest(ctx, smsInbound("hello again", "sms-dup"))
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("expected duplicate outcome, got %+v", second)
	}
	if second.TaskID != "" {
		t.Fatalf("duplicate outcome must not carry a new task id")
	}
	if second.MessageID != first.MessageID {
		t.Fatalf("duplicate should reference original message")
	}

	n, err := db.CountTasks(ctx, "t1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("duplicate created a task: %d total", n)
	}
}

func TestIngestUnknownDestinationPersistsNothing(t *testing.T) {
	g, db := newTestGateway(t, allModules())
	ctx := context.Background()

	in := smsInbound("hello", "sms-unknown")
	in.Recipient = "+61499999999"
	_, err := g.Ingest(ctx, in)
	if !errs.Is(err, errs.KindUnknownDestination) {
		t.Fatalf("expected unknown_destination, got %v", err)
	}

	if _, found, _ := db.GetInboundMessage(ctx, types.ChannelSMS, "sms-unknown"); found {
		t.Fatalf("message persisted for unknown destination")
	}
	if n, _ := db.CountTasks(ctx, "t1"); n != 0 {
		t.Fatalf("task persisted for unknown destination: %d", n)
	}
}

func TestIngestScrubsSensitiveNumbers(t *testing.T) {
	g, db := newTestGateway(t, allModules())
	ctx := context.Background()

	out, err := g.Ingest(ctx, smsInbound("my card is 4111 1111 1111 1111 thanks", "sms-pii"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	msg, found, err := db.GetMessage(ctx, "t1", out.MessageID)
	if err != nil || !found {
		t.Fatalf("message not persisted: %v", err)
	}
	if strings.Contains(msg.Body, "4111") {
		t.Fatalf("card number survived scrubbing: %q", msg.Body)
	}
	if !strings.Contains(msg.Body, "[redacted-card]") {
		t.Fatalf("expected card placeholder: %q", msg.Body)
	}
}

func TestIngestUnknownSenderIsVisitor(t *testing.T) {
	g, db := newTestGateway(t, allModules())
	ctx := context.Background()

	in := smsInbound("hello there", "sms-visitor")
	in.Sender = "+61422222222"
	out, err := g.Ingest(ctx, in)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	task, _, _ := db.GetTask(ctx, "t1", out.TaskID)
	if task.ContactID != "" || task.CustomerType != types.CustomerVisitor {
		t.Fatalf("unknown sender should be a visitor: %+v", task)
	}
}

func TestIngestDisabledModuleDowngrades(t *testing.T) {
	g, db := newTestGateway(t, map[string]bool{"booking": false})
	ctx := context.Background()

	out, err := g.Ingest(ctx, smsInbound("table reservation for friday please", "sms-gated"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	task, _, _ := db.GetTask(ctx, "t1", out.TaskID)
	if task.Category != types.CategoryGeneralEnquiry || task.Subtype != types.SubtypeGeneral {
		t.Fatalf("disabled module not downgraded: %s/%s", task.Category, task.Subtype)
	}
}

func TestIngestEmailThreadsSubject(t *testing.T) {
	g, db := newTestGateway(t, allModules())
	ctx := context.Background()

	out, err := g.Ingest(ctx, Inbound{
		Channel: types.ChannelEmail, Sender: "alex@example.com", Recipient: "cellar@hillside.example",
		Subject: "Wine club question", Body: "What is in the next pack?", ExternalID: "em-1",
		OccurredAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	task, _, _ := db.GetTask(ctx, "t1", out.TaskID)
	if !strings.HasPrefix(task.ReplySubject, "Re: ") {
		t.Fatalf("reply subject not threaded: %q", task.ReplySubject)
	}
}

func TestParsePayload(t *testing.T) {
	now := time.Now()

	raw, _ := json.Marshal(map[string]string{
		"from": "+61411111111", "to": "+61400000001", "body": "hi", "message_id": "m1",
	})
	in, err := ParsePayload(types.ChannelSMS, raw, now)
	if err != nil {
		t.Fatalf("parse sms: %v", err)
	}
	if in.Sender != "+61411111111" || in.ExternalID != "m1" {
		t.Fatalf("bad sms parse: %+v", in)
	}

	raw, _ = json.Marshal(map[string]string{
		"caller": "+61411111111", "to": "+61400000001", "transcript": "hello", "call_id": "v1",
	})
	in, err = ParsePayload(types.ChannelVoice, raw, now)
	if err != nil {
		t.Fatalf("parse voice: %v", err)
	}
	if in.Body != "hello" || in.ExternalID != "v1" {
		t.Fatalf("bad voice parse: %+v", in)
	}

	if _, err := ParsePayload(types.ChannelSMS, []byte(`{"from":"x"}`), now); !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation error for missing fields, got %v", err)
	}
	if _, err := ParsePayload(types.Channel("fax"), []byte(`{}`), now); !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation error for unknown channel, got %v", err)
	}
	if _, err := ParsePayload(types.ChannelEmail, []byte(`not-json`), now); !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation error for malformed payload, got %v", err)
	}
}
