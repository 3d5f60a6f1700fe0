// Package ingest turns inbound channel messages into review tasks. Ingestion
// is idempotent on (channel, external id): replays and webhook retries return
// the original outcome without creating anything.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Babel-Snake/vinagent-backend-sub000/internal/audit"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/classify"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/errs"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/store"
	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

// Outcome reports what ingestion did. Duplicate outcomes carry no task id:
// the original delivery already created whatever was going to be created.
type Outcome struct {
	Duplicate bool   `json:"duplicate"`
	MessageID string `json:"message_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
}

type Gateway struct {
	db         *store.Store
	classifier *classify.Service
	audit      *audit.Recorder
	log        *zap.Logger
	now        func() time.Time
}

func NewGateway(db *store.Store, classifier *classify.Service, rec *audit.Recorder, log *zap.Logger) *Gateway {
	return &Gateway{db: db, classifier: classifier, audit: rec, log: log, now: time.Now}
}

// Ingest processes one inbound message end to end: dedupe, tenant routing,
// contact resolution, scrubbing, classification, then the atomic write of the
// message and its task.
func (g *Gateway) Ingest(ctx context.Context, in Inbound) (Outcome, error) {
	// Dedupe check first: replays must short-circuit before any other work.
	if existing, found, err := g.db.GetInboundMessage(ctx, in.Channel, in.ExternalID); err != nil {
		return Outcome{}, errs.Wrap(errs.KindInternal, err, "dedupe lookup")
	} else if found {
		g.log.Info("duplicate inbound message ignored",
			zap.String("channel", string(in.Channel)), zap.String("external_id", in.ExternalID))
		return Outcome{Duplicate: true, MessageID: existing.ID}, nil
	}

	tenant, found, err := g.db.GetTenantByInbound(ctx, in.Channel, in.Recipient)
	if err != nil {
		return Outcome{}, errs.Wrap(errs.KindInternal, err, "tenant routing")
	}
	if !found {
		return Outcome{}, errs.E(errs.KindUnknownDestination, "no tenant owns %s destination %q", in.Channel, in.Recipient)
	}

	var contact *types.Contact
	if c, found, err := g.db.GetContactByAddress(ctx, tenant.ID, in.Channel, in.Sender); err != nil {
		g.log.Warn("contact resolution failed, continuing without contact",
			zap.String("tenant_id", tenant.ID), zap.Error(err))
	} else if found {
		contact = &c
	}

	body := Scrub(in.Body)
	raw := Scrub(in.Raw)
	subject := Scrub(in.Subject)

	cls := g.classifier.Classify(ctx, body, classify.Context{
		Tenant:  tenant,
		Contact: contact,
		Channel: in.Channel,
	})

	now := g.now().UTC()
	msg := types.Message{
		ID:         uuid.NewString(),
		TenantID:   tenant.ID,
		Channel:    in.Channel,
		Direction:  types.DirectionInbound,
		ExternalID: in.ExternalID,
		Body:       body,
		RawPayload: raw,
		OccurredAt: in.OccurredAt.UTC(),
	}
	task := types.Task{
		ID:              uuid.NewString(),
		TenantID:        tenant.ID,
		SourceMessageID: msg.ID,
		Category:        cls.Category,
		Subtype:         cls.Subtype,
		CustomerType:    types.CustomerVisitor,
		Sentiment:       cls.Sentiment,
		Priority:        cls.Priority,
		Status:          types.StatusPendingReview,
		ReplyBody:       cls.ReplyBody,
		ReplySubject:    cls.ReplySubject,
		ReplyChannel:    cls.ReplyChannel,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if cls.Summary != "" {
		task.Payload = map[string]any{"summary": cls.Summary}
	}
	if subject != "" {
		task.ReplySubject = replySubject(subject, cls.ReplySubject)
	}
	if contact != nil {
		msg.ContactID = contact.ID
		task.ContactID = contact.ID
		task.CustomerType = types.CustomerMember
	}

	err = g.db.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertMessage(ctx, msg); err != nil {
			return err
		}
		if err := tx.InsertTask(ctx, task); err != nil {
			return err
		}
		_, err := g.audit.Record(ctx, tx, task.ID, "", types.ActionCreated, map[string]any{
			"origin":            "ingestion",
			"channel":           string(in.Channel),
			"source_message_id": msg.ID,
			"category":          string(task.Category),
			"subtype":           string(task.Subtype),
		})
		return err
	})
	if errors.Is(err, store.ErrDuplicate) {
		// Lost an insert race to a concurrent delivery of the same message.
		g.log.Info("concurrent duplicate inbound message ignored",
			zap.String("channel", string(in.Channel)), zap.String("external_id", in.ExternalID))
		return Outcome{Duplicate: true}, nil
	}
	if err != nil {
		return Outcome{}, errs.Wrap(errs.KindInternal, err, "persist inbound message")
	}

	g.log.Info("inbound message ingested",
		zap.String("tenant_id", tenant.ID),
		zap.String("channel", string(in.Channel)),
		zap.String("task_id", task.ID),
		zap.String("category", string(task.Category)))
	return Outcome{MessageID: msg.ID, TaskID: task.ID}, nil
}

// replySubject threads the reply under the inbound subject unless the
// classifier already proposed one.
func replySubject(inboundSubject, proposed string) string {
	if proposed != "" {
		return proposed
	}
	return "Re: " + inboundSubject
}
