// Package notify sends outbound messages through pluggable per-channel
// providers and records every attempt as an outbound Message row, keeping the
// communication audit trail complete even when a provider fails.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

// ProviderResult is what an outbound provider reports for one send.
type ProviderResult struct {
	MessageID string `json:"message_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Provider delivers one message on one channel.
type Provider interface {
	Send(ctx context.Context, target, subject, body string) (ProviderResult, error)
}

// Factory selects the provider for a tenant and channel at request time.
// Implementations must always return a usable provider; the logged-only
// fallback stands in where nothing is configured.
type Factory interface {
	ProviderFor(tenantID string, channel types.Channel) Provider
}

// MessageWriter is the store slice the dispatcher writes outbound rows with.
type MessageWriter interface {
	InsertMessage(ctx context.Context, m types.Message) error
}

// SendContext links the outbound record to its tenant, task and contact.
type SendContext struct {
	TenantID  string
	TaskID    string
	ContactID string
}

type Dispatcher struct {
	factory Factory
	log     *zap.Logger
	now     func() time.Time
}

func NewDispatcher(factory Factory, log *zap.Logger) *Dispatcher {
	return &Dispatcher{factory: factory, log: log, now: time.Now}
}

// Send delivers body to target over channel and persists the outbound record.
// The record is written whether or not the provider succeeded; a provider
// failure is returned only after the record is durable.
func (d *Dispatcher) Send(ctx context.Context, w MessageWriter, channel types.Channel, target, subject, body string, sc SendContext) (ProviderResult, error) {
	provider := d.factory.ProviderFor(sc.TenantID, channel)

	result, sendErr := provider.Send(ctx, target, subject, body)

	record := outboundRecord{
		Target:  target,
		Subject: subject,
		Result:  result,
	}
	if sendErr != nil {
		record.Failure = sendErr.Error()
	}
	raw, _ := json.Marshal(record)

	msg := types.Message{
		ID:         uuid.NewString(),
		TenantID:   sc.TenantID,
		ContactID:  sc.ContactID,
		Channel:    channel,
		Direction:  types.DirectionOutbound,
		ExternalID: result.MessageID,
		Body:       body,
		RawPayload: string(raw),
		OccurredAt: d.now().UTC(),
	}
	if err := w.InsertMessage(ctx, msg); err != nil {
		d.log.Error("failed to persist outbound message record",
			zap.String("tenant_id", sc.TenantID), zap.String("task_id", sc.TaskID), zap.Error(err))
		return result, err
	}

	if sendErr != nil {
		d.log.Warn("outbound send failed",
			zap.String("tenant_id", sc.TenantID),
			zap.String("channel", string(channel)),
			zap.String("task_id", sc.TaskID),
			zap.Error(sendErr))
		return result, sendErr
	}

	d.log.Info("outbound message sent",
		zap.String("tenant_id", sc.TenantID),
		zap.String("channel", string(channel)),
		zap.String("task_id", sc.TaskID),
		zap.String("provider_message_id", result.MessageID))
	return result, nil
}

type outboundRecord struct {
	Target  string         `json:"target"`
	Subject string         `json:"subject,omitempty"`
	Result  ProviderResult `json:"result"`
	Failure string         `json:"failure,omitempty"`
}

// LoggedProvider is the no-op fallback for unconfigured tenant/channel pairs.
// The attempt still produces an outbound record via the dispatcher.
type LoggedProvider struct {
	Log     *zap.Logger
	Channel types.Channel
}

func (p LoggedProvider) Send(_ context.Context, target, subject, body string) (ProviderResult, error) {
	p.Log.Info("no provider configured, message logged only",
		zap.String("channel", string(p.Channel)),
		zap.String("target", target),
		zap.String("subject", subject),
		zap.Int("body_len", len(body)))
	return ProviderResult{MessageID: "logged-" + uuid.NewString(), Detail: "logged only"}, nil
}
