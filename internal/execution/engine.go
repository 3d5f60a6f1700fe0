// Package execution runs the side effects an approved task implies. Handlers
// are registered per task subtype; a subtype without a handler is a logged
// no-op and the task stays approved. Handlers validate the task payload before
// touching any external system, so a failed execution never leaves a partial
// change behind.
package execution

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Babel-Snake/vinagent-backend-sub000/internal/audit"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/errs"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/notify"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/token"
	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

// Tx is the transactional store slice handlers work against. The caller's open
// transaction satisfies it, so every handler mutation commits or rolls back
// with the approval itself.
type Tx interface {
	token.Store
	audit.Writer
	GetContact(ctx context.Context, tenantID, id string) (types.Contact, bool, error)
}

// PostCommit runs after the approval transaction commits. Used for best-effort
// work, like sending the suggested reply, that must not roll back an already
// executed task.
type PostCommit func(ctx context.Context)

type handler func(ctx context.Context, tx Tx, ec execContext, task *types.Task) error

type execContext struct {
	tenant  types.Tenant
	contact *types.Contact
}

type Deps struct {
	Tokens        *token.Service
	Providers     ProviderFactory
	Audit         *audit.Recorder
	Dispatcher    *notify.Dispatcher
	Messages      notify.MessageWriter
	PublicBaseURL string
	Log           *zap.Logger
}

type Engine struct {
	tokens     *token.Service
	providers  ProviderFactory
	audit      *audit.Recorder
	dispatcher *notify.Dispatcher
	messages   notify.MessageWriter
	publicURL  string
	log        *zap.Logger
	handlers   map[types.TaskSubtype]handler
}

func NewEngine(deps Deps) *Engine {
	e := &Engine{
		tokens:     deps.Tokens,
		providers:  deps.Providers,
		audit:      deps.Audit,
		dispatcher: deps.Dispatcher,
		messages:   deps.Messages,
		publicURL:  strings.TrimRight(deps.PublicBaseURL, "/"),
		log:        deps.Log,
	}
	e.handlers = map[types.TaskSubtype]handler{
		types.SubtypeAddressChange:  e.executeAddressChange,
		types.SubtypeBookingRequest: e.executeBooking,
		types.SubtypeOrderEnquiry:   e.executeOrderEnquiry,
		types.SubtypeGeneral:        e.executeGeneral,
	}
	return e
}

// Execute runs the handler for the task's subtype inside the caller's
// transaction, mutating the task in place. The caller persists the task and
// commits, then runs the returned PostCommit (which may be nil). A handler
// error must abort the whole approval.
func (e *Engine) Execute(ctx context.Context, tx Tx, tenant types.Tenant, task *types.Task) (PostCommit, error) {
	if !tenant.AutoExecute {
		e.log.Info("auto-execute disabled for tenant, task stays approved",
			zap.String("tenant_id", tenant.ID), zap.String("task_id", task.ID))
		return nil, nil
	}

	h, ok := e.handlers[task.Subtype]
	if !ok {
		e.log.Warn("no execution handler for subtype",
			zap.String("task_id", task.ID), zap.String("subtype", string(task.Subtype)))
		return nil, nil
	}

	ec := execContext{tenant: tenant}
	if task.ContactID != "" {
		contact, found, err := tx.GetContact(ctx, tenant.ID, task.ContactID)
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, err, "load task contact")
		}
		if found {
			ec.contact = &contact
		}
	}

	if err := h(ctx, tx, ec, task); err != nil {
		return nil, err
	}

	return e.replyFollowUp(ec, *task), nil
}

// replyFollowUp builds the best-effort suggested-reply send for after commit.
// Nil when there is nothing to send or nobody to send it to.
func (e *Engine) replyFollowUp(ec execContext, task types.Task) PostCommit {
	if task.ReplyBody == "" || ec.contact == nil {
		return nil
	}
	channel := task.ReplyChannel
	if channel == "" || channel == types.ChannelNone {
		channel, _ = ec.contact.PreferredTarget()
	}
	target := targetFor(*ec.contact, channel)
	if target == "" {
		return nil
	}

	body, subject := task.ReplyBody, task.ReplySubject
	sc := notify.SendContext{TenantID: task.TenantID, TaskID: task.ID, ContactID: task.ContactID}
	return func(ctx context.Context) {
		if _, err := e.dispatcher.Send(ctx, e.messages, channel, target, subject, body, sc); err != nil {
			e.log.Warn("suggested reply dispatch failed",
				zap.String("task_id", task.ID), zap.Error(err))
		}
	}
}

// executeAddressChange never writes the new address directly. It issues a
// single-use confirmation token for the contact and parks the task until the
// member confirms through the public link.
func (e *Engine) executeAddressChange(ctx context.Context, tx Tx, ec execContext, task *types.Task) error {
	line1 := payloadString(task.Payload, "line1")
	suburb := payloadString(task.Payload, "suburb")
	postcode := payloadString(task.Payload, "postcode")
	if missing := missingFields(map[string]string{"line1": line1, "suburb": suburb, "postcode": postcode}); len(missing) > 0 {
		return errs.E(errs.KindIncompletePayload, "address change payload missing %s", strings.Join(missing, ", "))
	}
	if ec.contact == nil {
		return errs.E(errs.KindIncompletePayload, "address change task has no linked contact")
	}

	contact := *ec.contact
	if crm := e.providers.CRM(ec.tenant.ID); crm != nil {
		query := contact.Email
		if query == "" {
			query = contact.Phone
		}
		fresh, err := crm.GetContact(ctx, query)
		if err != nil {
			e.log.Warn("crm lookup failed, using stored contact",
				zap.String("contact_id", contact.ID), zap.Error(err))
		} else if fresh != nil {
			if fresh.Phone != "" {
				contact.Phone = fresh.Phone
			}
			if fresh.Email != "" {
				contact.Email = fresh.Email
			}
		}
	}

	channel, target := contact.PreferredTarget()
	if channel == types.ChannelNone {
		return errs.E(errs.KindIncompletePayload, "contact has no reachable channel for confirmation")
	}

	tok, err := e.tokens.Issue(ctx, tx, token.IssueInput{
		TaskID:    task.ID,
		ContactID: contact.ID,
		TenantID:  ec.tenant.ID,
		Type:      types.TokenAddressChange,
		Channel:   channel,
		Target:    target,
		Payload: map[string]any{
			"line1":    line1,
			"suburb":   suburb,
			"postcode": postcode,
		},
	})
	if err != nil {
		return err
	}

	task.Status = types.StatusAwaitingMemberAction
	confirmURL := fmt.Sprintf("%s/confirm/%s", e.publicURL, tok.Token)
	if task.ReplyBody != "" {
		task.ReplyBody += "\n\n"
	}
	task.ReplyBody += "Please confirm your new address here: " + confirmURL
	if task.ReplyChannel == "" || task.ReplyChannel == types.ChannelNone {
		task.ReplyChannel = channel
	}

	_, err = e.audit.Record(ctx, tx, task.ID, "", types.ActionExecutionTriggered, map[string]any{
		"subtype":    string(types.SubtypeAddressChange),
		"token_id":   tok.ID,
		"channel":    string(channel),
		"expires_at": tok.ExpiresAt,
	})
	return err
}

func (e *Engine) executeBooking(ctx context.Context, tx Tx, ec execContext, task *types.Task) error {
	date := payloadString(task.Payload, "date")
	timeOfDay := payloadString(task.Payload, "time")
	partySize := payloadInt(task.Payload, "party_size")
	missing := missingFields(map[string]string{"date": date, "time": timeOfDay})
	if partySize <= 0 {
		missing = append(missing, "party_size")
	}
	if len(missing) > 0 {
		return errs.E(errs.KindIncompletePayload, "booking payload missing %s", strings.Join(missing, ", "))
	}

	res, err := e.providers.Booking(ec.tenant.ID).CreateReservation(ctx, ReservationDetails{
		TenantID:  ec.tenant.ID,
		ContactID: task.ContactID,
		Date:      date,
		Time:      timeOfDay,
		PartySize: partySize,
		Notes:     payloadString(task.Payload, "notes"),
	})
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "create reservation")
	}

	if task.Payload == nil {
		task.Payload = map[string]any{}
	}
	task.Payload["booking_reference"] = res.ReferenceCode
	task.Status = types.StatusExecuted
	if task.ReplyBody != "" {
		task.ReplyBody += "\n\n"
	}
	task.ReplyBody += "Your booking is confirmed. Reference: " + res.ReferenceCode

	_, err = e.audit.Record(ctx, tx, task.ID, "", types.ActionExecuted, map[string]any{
		"subtype":           string(types.SubtypeBookingRequest),
		"booking_reference": res.ReferenceCode,
		"provider_status":   res.Status,
	})
	return err
}

// executeOrderEnquiry has no external system to call yet; approval executes
// the task so the suggested reply goes out.
// TODO: wire the commerce platform once tenants expose an orders API.
func (e *Engine) executeOrderEnquiry(ctx context.Context, tx Tx, _ execContext, task *types.Task) error {
	task.Status = types.StatusExecuted
	_, err := e.audit.Record(ctx, tx, task.ID, "", types.ActionExecuted, map[string]any{
		"subtype": string(types.SubtypeOrderEnquiry),
	})
	return err
}

// executeGeneral: sending the approved reply is the whole execution.
func (e *Engine) executeGeneral(ctx context.Context, tx Tx, _ execContext, task *types.Task) error {
	task.Status = types.StatusExecuted
	_, err := e.audit.Record(ctx, tx, task.ID, "", types.ActionExecuted, map[string]any{
		"subtype": string(types.SubtypeGeneral),
	})
	return err
}

func targetFor(c types.Contact, channel types.Channel) string {
	switch channel {
	case types.ChannelSMS, types.ChannelVoice:
		return c.Phone
	case types.ChannelEmail:
		return c.Email
	default:
		return ""
	}
}

func payloadString(p map[string]any, key string) string {
	v, _ := p[key].(string)
	return strings.TrimSpace(v)
}

func payloadInt(p map[string]any, key string) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	default:
		return 0
	}
}

func missingFields(fields map[string]string) []string {
	var missing []string
	for _, key := range []string{"line1", "suburb", "postcode", "date", "time"} {
		if v, ok := fields[key]; ok && v == "" {
			missing = append(missing, key)
		}
	}
	return missing
}
