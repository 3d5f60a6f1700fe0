package task

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Babel-Snake/vinagent-backend-sub000/internal/errs"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/store"
	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

// MemberView is the minimal, unauthenticated view a confirmation token grants.
// It deliberately exposes nothing beyond the proposed change itself.
type MemberView struct {
	TenantName  string          `json:"tenant_name"`
	ContactName string          `json:"contact_name"`
	Type        types.TokenType `json:"type"`
	Proposed    map[string]any  `json:"proposed"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// MemberView resolves a token into what the member is being asked to confirm.
// It never mutates anything, so the page can be refreshed freely.
func (s *Service) MemberView(ctx context.Context, tokenString string) (MemberView, error) {
	tok, err := s.tokens.Validate(ctx, s.db, tokenString)
	if err != nil {
		return MemberView{}, err
	}

	view := MemberView{Type: tok.Type, Proposed: tok.Payload, ExpiresAt: tok.ExpiresAt}
	if tenant, found, err := s.db.GetTenant(ctx, tok.TenantID); err == nil && found {
		view.TenantName = tenant.Name
	}
	if contact, found, err := s.db.GetContact(ctx, tok.TenantID, tok.ContactID); err == nil && found {
		view.ContactName = contact.Name
	}
	return view, nil
}

// ConfirmResult reports what a successful confirmation applied.
type ConfirmResult struct {
	TaskID  string         `json:"task_id"`
	Applied map[string]any `json:"applied"`
}

// MemberConfirm applies the proposed change, consumes the token and executes
// the task, all in one transaction. The token is single-use: losing the
// consume race means someone else already confirmed, and nothing is applied
// twice. Override values, when present, replace the proposed address fields;
// the member may correct a typo at confirmation time.
func (s *Service) MemberConfirm(ctx context.Context, tokenString string, override map[string]any) (ConfirmResult, error) {
	var result ConfirmResult

	err := s.db.WithTx(ctx, func(tx *store.Tx) error {
		tok, err := s.tokens.Validate(ctx, tx, tokenString)
		if err != nil {
			return err
		}
		if tok.Type != types.TokenAddressChange {
			return errs.E(errs.KindValidation, "token type %s is not confirmable", tok.Type)
		}

		t, found, err := tx.GetTask(ctx, tok.TenantID, tok.TaskID)
		if err != nil {
			return errs.Wrap(errs.KindInternal, err, "load task")
		}
		if !found {
			return errs.E(errs.KindNotFound, "task not found")
		}
		if t.Status != types.StatusAwaitingMemberAction {
			return errs.E(errs.KindInvalidStatusTransition, "task is no longer awaiting confirmation")
		}

		applied := map[string]any{}
		for _, field := range []string{"line1", "suburb", "postcode"} {
			value := payloadString(tok.Payload, field)
			if o := payloadString(override, field); o != "" {
				value = o
			}
			if value == "" {
				return errs.E(errs.KindIncompletePayload, "confirmation payload missing %s", field)
			}
			applied[field] = value
		}

		if err := tx.UpdateContactAddress(ctx, tok.ContactID,
			applied["line1"].(string), applied["suburb"].(string), applied["postcode"].(string)); err != nil {
			return errs.Wrap(errs.KindInternal, err, "apply address change")
		}

		if err := s.tokens.Consume(ctx, tx, tok.ID); err != nil {
			return err
		}

		if _, err := s.audit.Record(ctx, tx, t.ID, "", types.ActionExecuted, map[string]any{
			"subtype":  string(types.SubtypeAddressChange),
			"via":      "member_confirmation",
			"token_id": tok.ID,
		}); err != nil {
			return errs.Wrap(errs.KindInternal, err, "record execution")
		}

		t.Status = types.StatusExecuted
		t.UpdatedAt = s.now().UTC()
		if err := tx.UpdateTask(ctx, t); err != nil {
			if err == store.ErrVersionConflict {
				return errs.E(errs.KindConflict, "task was modified concurrently")
			}
			return errs.Wrap(errs.KindInternal, err, "persist task")
		}

		result = ConfirmResult{TaskID: t.ID, Applied: applied}
		return nil
	})
	if err != nil {
		return ConfirmResult{}, err
	}

	s.log.Info("member confirmation applied", zap.String("task_id", result.TaskID))
	return result, nil
}

func payloadString(p map[string]any, key string) string {
	v, _ := p[key].(string)
	return strings.TrimSpace(v)
}
