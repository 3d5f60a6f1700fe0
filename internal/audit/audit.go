// Package audit appends task mutation records to the ledger. A mutation
// without its audit entry is treated as a worse outcome than a failed request,
// so Record errors must abort the enclosing transaction.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

// Writer is the slice of the store the recorder needs. Both the root store and
// an open transaction satisfy it.
type Writer interface {
	InsertAction(ctx context.Context, a types.TaskAction) error
}

type Reader interface {
	ListActions(ctx context.Context, taskID string) ([]types.TaskAction, error)
}

type Recorder struct {
	log *zap.Logger
	now func() time.Time
}

func NewRecorder(log *zap.Logger) *Recorder {
	return &Recorder{log: log, now: time.Now}
}

// WithClock overrides the recorder's clock. Test hook.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// Record appends one entry inside the caller's transaction.
func (r *Recorder) Record(ctx context.Context, w Writer, taskID, actorID string, typ types.ActionType, details map[string]any) (types.TaskAction, error) {
	entry := types.TaskAction{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		ActorID:   actorID,
		Type:      typ,
		Details:   details,
		CreatedAt: r.now().UTC(),
	}
	if err := w.InsertAction(ctx, entry); err != nil {
		return types.TaskAction{}, err
	}
	r.log.Debug("audit entry recorded",
		zap.String("task_id", taskID),
		zap.String("action_type", string(typ)),
		zap.String("actor_id", actorID))
	return entry, nil
}

// History returns a task's ledger in append order.
func (r *Recorder) History(ctx context.Context, reader Reader, taskID string) ([]types.TaskAction, error) {
	return reader.ListActions(ctx, taskID)
}
