package task

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Babel-Snake/vinagent-backend-sub000/internal/errs"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/execution"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/store"
	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

// UpdateInput carries a partial task update. Nil pointers mean "leave as is".
// Version is the optimistic lock snapshot the caller read; zero skips the
// pre-check and relies on the conditional write alone.
type UpdateInput struct {
	Version      int64
	Status       *types.TaskStatus
	Category     *types.TaskCategory
	Subtype      *types.TaskSubtype
	Priority     *types.Priority
	AssigneeID   *string
	ParentTaskID *string
	Payload      map[string]any
	ReplyBody    *string
	ReplySubject *string
	ReplyChannel *types.Channel
	Note         *string
}

var mentionPattern = regexp.MustCompile(`@([\p{L}\d_-]+)`)

// Update applies a review-time mutation: field edits, assignment, linking,
// notes and the approve/reject/cancel transitions. Approval runs the execution
// engine inside the same transaction, so a failed execution rolls the approval
// back whole.
func (s *Service) Update(ctx context.Context, actor types.Staff, id string, in UpdateInput) (types.Task, error) {
	var (
		updated types.Task
		post    execution.PostCommit
	)

	err := s.db.WithTx(ctx, func(tx *store.Tx) error {
		t, found, err := tx.GetTask(ctx, actor.TenantID, id)
		if err != nil {
			return errs.Wrap(errs.KindInternal, err, "load task")
		}
		if !found {
			return errs.E(errs.KindNotFound, "task not found")
		}
		if in.Version > 0 && in.Version != t.Version {
			return errs.E(errs.KindConflict, "task was modified concurrently, reload and retry")
		}

		now := s.now().UTC()
		note := ""
		if in.Note != nil {
			note = strings.TrimSpace(*in.Note)
		}

		changes := map[string]any{}
		hasFieldEdit := in.Category != nil || in.Subtype != nil || in.Priority != nil ||
			in.Payload != nil || in.ReplyBody != nil || in.ReplySubject != nil || in.ReplyChannel != nil
		hasAssign := in.AssigneeID != nil && *in.AssigneeID != t.AssigneeID
		hasLink := in.ParentTaskID != nil && *in.ParentTaskID != t.ParentTaskID

		if t.Status.Terminal() && (hasFieldEdit || hasAssign || hasLink || in.Status != nil) {
			return errs.E(errs.KindInvalidStatusTransition, "task is %s and can no longer change", t.Status)
		}

		if in.Category != nil && *in.Category != t.Category {
			changes["category"] = diff(string(t.Category), string(*in.Category))
			t.Category = *in.Category
		}
		if in.Subtype != nil && *in.Subtype != t.Subtype {
			changes["subtype"] = diff(string(t.Subtype), string(*in.Subtype))
			t.Subtype = *in.Subtype
		}
		if in.Priority != nil && *in.Priority != t.Priority {
			changes["priority"] = diff(string(t.Priority), string(*in.Priority))
			t.Priority = *in.Priority
		}
		if in.Payload != nil {
			if t.Payload == nil {
				t.Payload = map[string]any{}
			}
			for k, v := range in.Payload {
				if old, ok := t.Payload[k]; !ok || old != v {
					changes["payload."+k] = diff(old, v)
				}
				t.Payload[k] = v
			}
		}
		if in.ReplyBody != nil && *in.ReplyBody != t.ReplyBody {
			changes["reply_body"] = diff(truncate(t.ReplyBody), truncate(*in.ReplyBody))
			t.ReplyBody = *in.ReplyBody
		}
		if in.ReplySubject != nil && *in.ReplySubject != t.ReplySubject {
			changes["reply_subject"] = diff(t.ReplySubject, *in.ReplySubject)
			t.ReplySubject = *in.ReplySubject
		}
		if in.ReplyChannel != nil && *in.ReplyChannel != t.ReplyChannel {
			changes["reply_channel"] = diff(string(t.ReplyChannel), string(*in.ReplyChannel))
			t.ReplyChannel = *in.ReplyChannel
		}

		if hasAssign {
			if !actor.Role.Elevated() {
				return errs.E(errs.KindForbidden, "role %s may not reassign tasks", actor.Role)
			}
			from := t.AssigneeID
			t.AssigneeID = *in.AssigneeID
			if _, err := s.audit.Record(ctx, tx, t.ID, actor.ID, types.ActionAssigned, map[string]any{
				"from": from, "to": t.AssigneeID,
			}); err != nil {
				return errs.Wrap(errs.KindInternal, err, "record assignment")
			}
		}

		if hasLink {
			parent := *in.ParentTaskID
			if parent == t.ID {
				return errs.E(errs.KindValidation, "task cannot be its own parent")
			}
			if parent != "" {
				if _, found, err := tx.GetTask(ctx, actor.TenantID, parent); err != nil {
					return errs.Wrap(errs.KindInternal, err, "load parent task")
				} else if !found {
					return errs.E(errs.KindNotFound, "parent task not found")
				}
			}
			t.ParentTaskID = parent
			if _, err := s.audit.Record(ctx, tx, t.ID, actor.ID, types.ActionLinked, map[string]any{
				"parent_task_id": parent,
			}); err != nil {
				return errs.Wrap(errs.KindInternal, err, "record link")
			}
		}

		entryType := types.ActionUpdated
		approving := false
		if in.Status != nil {
			to := *in.Status
			if !staffSettable(to) {
				return errs.E(errs.KindInvalidStatusTransition, "status %s cannot be set directly", to)
			}
			if !legalTransition(t.Status, to) {
				return errs.E(errs.KindInvalidStatusTransition, "cannot move task from %s to %s", t.Status, to)
			}
			if to == types.StatusApproved && !actor.Role.Elevated() {
				return errs.E(errs.KindForbidden, "role %s may not approve tasks", actor.Role)
			}
			if to == types.StatusApproved {
				if err := validateForApproval(t.Subtype, t.Payload); err != nil {
					return err
				}
			}
			changes["status"] = diff(string(t.Status), string(to))
			t.Status = to
			switch to {
			case types.StatusApproved:
				entryType = types.ActionApproved
				approving = true
			case types.StatusRejected:
				entryType = types.ActionRejected
			default:
				entryType = types.ActionStatusChanged
			}
		}

		if len(changes) > 0 {
			if _, err := s.audit.Record(ctx, tx, t.ID, actor.ID, entryType, map[string]any{
				"changes": changes,
			}); err != nil {
				return errs.Wrap(errs.KindInternal, err, "record update")
			}
		}

		if note != "" {
			details := map[string]any{"note": note}
			mentioned := s.scanMentions(ctx, tx, actor.TenantID, note)
			if len(mentioned) > 0 {
				details["mentions"] = mentioned
			}
			if _, err := s.audit.Record(ctx, tx, t.ID, actor.ID, types.ActionNoteAdded, details); err != nil {
				return errs.Wrap(errs.KindInternal, err, "record note")
			}
			for _, staffID := range mentioned {
				n := types.Notification{
					ID:        uuid.NewString(),
					TenantID:  actor.TenantID,
					StaffID:   staffID,
					TaskID:    t.ID,
					Kind:      types.NotificationMention,
					Body:      actor.Name + " mentioned you: " + truncate(note),
					CreatedAt: now,
				}
				if err := tx.InsertNotification(ctx, n); err != nil {
					return errs.Wrap(errs.KindInternal, err, "record mention notification")
				}
			}
			if !t.Status.Terminal() {
				job := store.RegenJob{ID: uuid.NewString(), TaskID: t.ID, NotBefore: now, CreatedAt: now}
				if err := tx.EnqueueRegenJob(ctx, job); err != nil {
					return errs.Wrap(errs.KindInternal, err, "enqueue reply regeneration")
				}
			}
		}

		if approving {
			tenant, found, err := tx.GetTenant(ctx, t.TenantID)
			if err != nil || !found {
				return errs.Wrap(errs.KindInternal, err, "load tenant")
			}
			post, err = s.engine.Execute(ctx, tx, tenant, &t)
			if err != nil {
				return err
			}
		}

		t.UpdatedAt = now
		if err := tx.UpdateTask(ctx, t); err != nil {
			if err == store.ErrVersionConflict {
				return errs.E(errs.KindConflict, "task was modified concurrently, reload and retry")
			}
			return errs.Wrap(errs.KindInternal, err, "persist task")
		}
		t.Version++
		updated = t
		return nil
	})
	if err != nil {
		return types.Task{}, err
	}

	if post != nil {
		post(ctx)
	}

	s.log.Info("task updated",
		zap.String("task_id", updated.ID),
		zap.String("actor_id", actor.ID),
		zap.String("status", string(updated.Status)))
	return updated, nil
}

// scanMentions resolves @name references in a note against the tenant's staff.
// Lookup failures only cost the mention metadata, never the note itself.
func (s *Service) scanMentions(ctx context.Context, tx *store.Tx, tenantID, note string) []string {
	matches := mentionPattern.FindAllStringSubmatch(note, -1)
	if len(matches) == 0 {
		return nil
	}
	staff, err := tx.ListStaff(ctx, tenantID)
	if err != nil {
		s.log.Warn("staff lookup for mentions failed", zap.Error(err))
		return nil
	}

	seen := map[string]bool{}
	var mentioned []string
	for _, m := range matches {
		handle := strings.ToLower(m[1])
		for _, st := range staff {
			fields := strings.Fields(st.Name)
			if len(fields) == 0 {
				continue
			}
			first := strings.ToLower(fields[0])
			if first == handle && !seen[st.ID] {
				seen[st.ID] = true
				mentioned = append(mentioned, st.ID)
			}
		}
	}
	return mentioned
}

func diff(from, to any) map[string]any {
	return map[string]any{"from": from, "to": to}
}

func truncate(s string) string {
	const max = 80
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "…"
}
