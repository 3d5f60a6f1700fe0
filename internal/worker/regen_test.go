package worker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Babel-Snake/vinagent-backend-sub000/internal/classify"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/store"
	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

func newTestRegenerator(t *testing.T) (*Regenerator, *store.Store) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := db.UpsertTenant(ctx, types.Tenant{
		ID: "t1", Name: "Hillside Estate",
		EnabledModules: map[string]bool{"booking": true},
	}); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	if err := db.UpsertContact(ctx, types.Contact{
		ID: "c1", TenantID: "t1", Name: "Alex Reed", Phone: "+61411111111",
		PreferredChannel: types.ChannelSMS, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("seed contact: %v", err)
	}

	log := zap.NewNop()
	classifier := classify.NewService(nil, db, time.Second, log)
	return NewRegenerator(db, classifier, log), db
}

func seedTask(t *testing.T, db *store.Store, status types.TaskStatus) types.Task {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	msg := types.Message{
		ID: uuid.NewString(), TenantID: "t1", ContactID: "c1",
		Channel: types.ChannelSMS, Direction: types.DirectionInbound,
		ExternalID: uuid.NewString(), Body: "can I book a tasting for six?",
		OccurredAt: now,
	}
	if err := db.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	task := types.Task{
		ID: uuid.NewString(), TenantID: "t1", ContactID: "c1", SourceMessageID: msg.ID,
		Category: types.CategoryBooking, Subtype: types.SubtypeBookingRequest,
		Priority: types.PriorityNormal, Status: status,
		ReplyChannel: types.ChannelSMS, Version: 1, CreatedAt: now, UpdatedAt: now,
	}
	if err := db.InsertTask(ctx, task); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return task
}

func enqueue(t *testing.T, db *store.Store, taskID string, attempts int) string {
	t.Helper()
	job := store.RegenJob{
		ID: uuid.NewString(), TaskID: taskID, Attempts: attempts,
		NotBefore: time.Now().Add(-time.Second), CreatedAt: time.Now(),
	}
	if err := db.EnqueueRegenJob(context.Background(), job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return job.ID
}

func pendingJobs(t *testing.T, db *store.Store) []store.RegenJob {
	t.Helper()
	jobs, err := db.ClaimRegenJobs(context.Background(), time.Now().Add(time.Hour), 100, 0)
	if err != nil {
		t.Fatalf("inspect jobs: %v", err)
	}
	return jobs
}

func TestRunOnceRegeneratesReply(t *testing.T) {
	w, db := newTestRegenerator(t)
	ctx := context.Background()
	task := seedTask(t, db, types.StatusPendingReview)
	enqueue(t, db, task.ID, 0)

	w.RunOnce(ctx)

	got, _, err := db.GetTask(ctx, "t1", task.ID)
	if err != nil {
		t.Fatalf("load task: %v", err)
	}
	if got.ReplyBody == "" {
		t.Fatalf("reply not regenerated")
	}
	if !strings.Contains(got.ReplyBody, "Alex") {
		t.Fatalf("regenerated reply not personalized: %q", got.ReplyBody)
	}
	if len(pendingJobs(t, db)) != 0 {
		t.Fatalf("completed job not deleted")
	}
}

func TestRunOncePreservesAuthoritativeState(t *testing.T) {
	w, db := newTestRegenerator(t)
	ctx := context.Background()
	task := seedTask(t, db, types.StatusPendingReview)
	enqueue(t, db, task.ID, 0)

	w.RunOnce(ctx)

	got, _, _ := db.GetTask(ctx, "t1", task.ID)
	if got.Status != types.StatusPendingReview || got.Version != 1 {
		t.Fatalf("worker touched task state: status=%s version=%d", got.Status, got.Version)
	}
}

func TestRunOnceSkipsNonPendingTask(t *testing.T) {
	w, db := newTestRegenerator(t)
	ctx := context.Background()
	task := seedTask(t, db, types.StatusExecuted)
	enqueue(t, db, task.ID, 0)

	w.RunOnce(ctx)

	got, _, _ := db.GetTask(ctx, "t1", task.ID)
	if got.ReplyBody != "" {
		t.Fatalf("executed task reply modified: %q", got.ReplyBody)
	}
	if len(pendingJobs(t, db)) != 0 {
		t.Fatalf("job for settled task should be completed")
	}
}

func TestRunOnceDropsExhaustedJob(t *testing.T) {
	w, db := newTestRegenerator(t)
	ctx := context.Background()
	task := seedTask(t, db, types.StatusPendingReview)
	enqueue(t, db, task.ID, maxAttempts+3)

	w.RunOnce(ctx)

	if len(pendingJobs(t, db)) != 0 {
		t.Fatalf("exhausted job not dropped")
	}
	got, _, _ := db.GetTask(ctx, "t1", task.ID)
	if got.ReplyBody != "" {
		t.Fatalf("exhausted job still processed the task")
	}
}

func TestRunCancellation(t *testing.T) {
	w, _ := newTestRegenerator(t)
	w.interval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not stop on cancellation")
	}
}
