// Package worker runs the background reply regeneration loop. When a reviewer
// adds a note, a queued job re-runs classification with the note context so
// the suggested reply reflects the discussion. Jobs are at-least-once: a
// failed attempt becomes visible again after its window, up to a retry cap.
package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Babel-Snake/vinagent-backend-sub000/internal/classify"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/store"
	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

const (
	defaultInterval   = 15 * time.Second
	defaultVisibility = 2 * time.Minute
	defaultBatch      = 10
	maxAttempts       = 5
)

type Regenerator struct {
	db         *store.Store
	classifier *classify.Service
	log        *zap.Logger
	interval   time.Duration
	visibility time.Duration
	now        func() time.Time
}

func NewRegenerator(db *store.Store, classifier *classify.Service, log *zap.Logger) *Regenerator {
	return &Regenerator{
		db:         db,
		classifier: classifier,
		log:        log,
		interval:   defaultInterval,
		visibility: defaultVisibility,
		now:        time.Now,
	}
}

// Run polls until the context is cancelled. Job failures are logged, never
// fatal: the loop's only exit is cancellation.
func (w *Regenerator) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce claims and processes one batch of due jobs.
func (w *Regenerator) RunOnce(ctx context.Context) {
	jobs, err := w.db.ClaimRegenJobs(ctx, w.now(), defaultBatch, w.visibility)
	if err != nil {
		w.log.Error("claim regen jobs failed", zap.Error(err))
		return
	}

	for _, job := range jobs {
		if job.Attempts > maxAttempts {
			w.log.Warn("regen job exhausted its retries, dropping",
				zap.String("job_id", job.ID), zap.String("task_id", job.TaskID))
			if err := w.db.DeleteRegenJob(ctx, job.ID); err != nil {
				w.log.Error("drop exhausted regen job failed", zap.Error(err))
			}
			continue
		}
		if err := w.process(ctx, job); err != nil {
			// Leave the job for redelivery after the visibility window.
			w.log.Warn("regen job failed, will retry",
				zap.String("job_id", job.ID), zap.String("task_id", job.TaskID),
				zap.Int("attempts", job.Attempts), zap.Error(err))
			continue
		}
		if err := w.db.DeleteRegenJob(ctx, job.ID); err != nil {
			w.log.Error("complete regen job failed", zap.Error(err))
		}
	}
}

func (w *Regenerator) process(ctx context.Context, job store.RegenJob) error {
	task, found, err := w.db.GetTaskByID(ctx, job.TaskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	// Replies only matter while the task is still under review; anything past
	// that state completes the job without work.
	if !found || task.Status != types.StatusPendingReview {
		return nil
	}

	tenant, found, err := w.db.GetTenant(ctx, task.TenantID)
	if err != nil || !found {
		return fmt.Errorf("load tenant: %w", err)
	}

	var contact *types.Contact
	if task.ContactID != "" {
		if c, found, err := w.db.GetContact(ctx, task.TenantID, task.ContactID); err == nil && found {
			contact = &c
		}
	}

	text, err := w.regenText(ctx, task)
	if err != nil {
		return err
	}

	cls := w.classifier.Classify(ctx, text, classify.Context{
		Tenant:  tenant,
		Contact: contact,
		Channel: task.ReplyChannel,
	})
	if cls.ReplyBody == "" || cls.ReplyBody == task.ReplyBody {
		return nil
	}

	if err := w.db.UpdateTaskReply(ctx, task.TenantID, task.ID, cls.ReplyBody, firstNonEmpty(cls.ReplySubject, task.ReplySubject)); err != nil {
		return fmt.Errorf("update reply: %w", err)
	}
	w.log.Info("suggested reply regenerated",
		zap.String("task_id", task.ID), zap.String("tenant_id", task.TenantID))
	return nil
}

// regenText rebuilds the classification input: the original message plus any
// reviewer notes from the ledger.
func (w *Regenerator) regenText(ctx context.Context, task types.Task) (string, error) {
	var parts []string
	if task.SourceMessageID != "" {
		msg, found, err := w.db.GetMessage(ctx, task.TenantID, task.SourceMessageID)
		if err != nil {
			return "", fmt.Errorf("load source message: %w", err)
		}
		if found {
			parts = append(parts, msg.Body)
		}
	}
	if len(parts) == 0 {
		if summary, _ := task.Payload["summary"].(string); summary != "" {
			parts = append(parts, summary)
		}
	}

	actions, err := w.db.ListActions(ctx, task.ID)
	if err != nil {
		return "", fmt.Errorf("load ledger: %w", err)
	}
	for _, a := range actions {
		if a.Type != types.ActionNoteAdded {
			continue
		}
		if note, _ := a.Details["note"].(string); note != "" {
			parts = append(parts, "Note: "+note)
		}
	}
	return strings.Join(parts, "\n"), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
