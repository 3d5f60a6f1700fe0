package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

// InsertAction appends one audit ledger entry. There is deliberately no update
// or delete counterpart.
func (q Queries) InsertAction(ctx context.Context, a types.TaskAction) error {
	details, err := marshalMap(a.Details)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO task_actions (id, task_id, actor_id, action_type, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.TaskID, nullStr(a.ActorID), a.Type, details, utc(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert task action: %w", err)
	}
	return nil
}

// ListActions returns a task's ledger in append order.
func (q Queries) ListActions(ctx context.Context, taskID string) ([]types.TaskAction, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, task_id, actor_id, action_type, details, created_at
		FROM task_actions WHERE task_id = ? ORDER BY rowid`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list task actions: %w", err)
	}
	defer rows.Close()

	var out []types.TaskAction
	for rows.Next() {
		var a types.TaskAction
		var actorID sql.NullString
		var details string
		if err := rows.Scan(&a.ID, &a.TaskID, &actorID, &a.Type, &details, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task action: %w", err)
		}
		a.ActorID = scanStr(actorID)
		a.Details, err = unmarshalMap(details)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
