// Package task owns the task lifecycle: creation, review, approval, rejection
// and the member confirmation path. Every status transition goes through this
// package, and every mutation lands in the audit ledger inside the same
// transaction as the change itself.
package task

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Babel-Snake/vinagent-backend-sub000/internal/audit"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/errs"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/execution"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/store"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/token"
	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

// transitions is the full state machine. Statuses absent as keys are terminal.
var transitions = map[types.TaskStatus][]types.TaskStatus{
	types.StatusPendingReview:        {types.StatusApproved, types.StatusRejected, types.StatusCancelled},
	types.StatusApproved:             {types.StatusAwaitingMemberAction, types.StatusExecuted, types.StatusCancelled},
	types.StatusAwaitingMemberAction: {types.StatusExecuted, types.StatusCancelled},
}

func legalTransition(from, to types.TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// staffSettable limits which statuses the review API may request directly.
// Awaiting-member-action and executed are owned by the execution engine and
// the member confirmation path.
func staffSettable(s types.TaskStatus) bool {
	switch s {
	case types.StatusApproved, types.StatusRejected, types.StatusCancelled:
		return true
	default:
		return false
	}
}

type Service struct {
	db     *store.Store
	audit  *audit.Recorder
	engine *execution.Engine
	tokens *token.Service
	log    *zap.Logger
	now    func() time.Time
}

func NewService(db *store.Store, rec *audit.Recorder, engine *execution.Engine, tokens *token.Service, log *zap.Logger) *Service {
	return &Service{db: db, audit: rec, engine: engine, tokens: tokens, log: log, now: time.Now}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateInput is a manually raised task, as opposed to one created by
// ingestion.
type CreateInput struct {
	Category     types.TaskCategory
	Subtype      types.TaskSubtype
	Priority     types.Priority
	ContactID    string
	ParentTaskID string
	Payload      map[string]any
	ReplyBody    string
	ReplySubject string
	ReplyChannel types.Channel
}

func (s *Service) Create(ctx context.Context, actor types.Staff, in CreateInput) (types.Task, error) {
	if in.Category == "" || in.Subtype == "" {
		return types.Task{}, errs.E(errs.KindValidation, "category and subtype are required")
	}
	if in.Priority == "" {
		in.Priority = types.PriorityNormal
	}

	now := s.now().UTC()
	t := types.Task{
		ID:           uuid.NewString(),
		TenantID:     actor.TenantID,
		ContactID:    in.ContactID,
		ParentTaskID: in.ParentTaskID,
		Category:     in.Category,
		Subtype:      in.Subtype,
		Priority:     in.Priority,
		Status:       types.StatusPendingReview,
		Payload:      in.Payload,
		CreatorID:    actor.ID,
		ReplyBody:    in.ReplyBody,
		ReplySubject: in.ReplySubject,
		ReplyChannel: in.ReplyChannel,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.db.WithTx(ctx, func(tx *store.Tx) error {
		if in.ContactID != "" {
			if _, found, err := tx.GetContact(ctx, actor.TenantID, in.ContactID); err != nil {
				return errs.Wrap(errs.KindInternal, err, "load contact")
			} else if !found {
				return errs.E(errs.KindNotFound, "contact not found")
			}
		}
		if in.ParentTaskID != "" {
			if _, found, err := tx.GetTask(ctx, actor.TenantID, in.ParentTaskID); err != nil {
				return errs.Wrap(errs.KindInternal, err, "load parent task")
			} else if !found {
				return errs.E(errs.KindNotFound, "parent task not found")
			}
		}
		if err := tx.InsertTask(ctx, t); err != nil {
			return errs.Wrap(errs.KindInternal, err, "insert task")
		}
		if _, err := s.audit.Record(ctx, tx, t.ID, actor.ID, types.ActionCreated, map[string]any{
			"category": string(t.Category),
			"subtype":  string(t.Subtype),
			"origin":   "manual",
		}); err != nil {
			return errs.Wrap(errs.KindInternal, err, "record creation")
		}
		if in.ParentTaskID != "" {
			if _, err := s.audit.Record(ctx, tx, t.ID, actor.ID, types.ActionLinked, map[string]any{
				"parent_task_id": in.ParentTaskID,
			}); err != nil {
				return errs.Wrap(errs.KindInternal, err, "record link")
			}
		}
		return nil
	})
	if err != nil {
		return types.Task{}, err
	}

	s.log.Info("task created",
		zap.String("task_id", t.ID),
		zap.String("tenant_id", t.TenantID),
		zap.String("subtype", string(t.Subtype)))
	return t, nil
}

// Detail is a task plus its full ledger history in append order.
type Detail struct {
	Task    types.Task         `json:"task"`
	History []types.TaskAction `json:"history"`
}

// Get returns the task scoped to the actor's tenant. A task belonging to
// another tenant is indistinguishable from a missing one.
func (s *Service) Get(ctx context.Context, actor types.Staff, id string) (Detail, error) {
	t, found, err := s.db.GetTask(ctx, actor.TenantID, id)
	if err != nil {
		return Detail{}, errs.Wrap(errs.KindInternal, err, "load task")
	}
	if !found {
		return Detail{}, errs.E(errs.KindNotFound, "task not found")
	}
	history, err := s.audit.History(ctx, s.db, id)
	if err != nil {
		return Detail{}, errs.Wrap(errs.KindInternal, err, "load history")
	}
	return Detail{Task: t, History: history}, nil
}

func (s *Service) List(ctx context.Context, actor types.Staff, f store.TaskFilter) ([]types.Task, error) {
	tasks, err := s.db.ListTasks(ctx, actor.TenantID, f)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "list tasks")
	}
	return tasks, nil
}
