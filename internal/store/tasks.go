package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

func (q Queries) InsertTask(ctx context.Context, t types.Task) error {
	payload, err := marshalMap(t.Payload)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO tasks (id, tenant_id, contact_id, source_message_id, parent_task_id, category, subtype,
			customer_type, sentiment, priority, status, payload, assignee_id, creator_id,
			reply_body, reply_subject, reply_channel, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TenantID, nullStr(t.ContactID), nullStr(t.SourceMessageID), nullStr(t.ParentTaskID),
		t.Category, t.Subtype, t.CustomerType, t.Sentiment, t.Priority, t.Status, payload,
		nullStr(t.AssigneeID), nullStr(t.CreatorID), t.ReplyBody, t.ReplySubject, t.ReplyChannel,
		t.Version, utc(t.CreatedAt), utc(t.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (q Queries) GetTask(ctx context.Context, tenantID, id string) (types.Task, bool, error) {
	row := q.db.QueryRowContext(ctx, taskSelect+` WHERE tenant_id = ? AND id = ?`, tenantID, id)
	return scanTask(row.Scan)
}

// GetTaskByID is the tenant-less lookup for background workers resolving a
// queued job. Request paths must use GetTask, which scopes by tenant.
func (q Queries) GetTaskByID(ctx context.Context, id string) (types.Task, bool, error) {
	row := q.db.QueryRowContext(ctx, taskSelect+` WHERE id = ?`, id)
	return scanTask(row.Scan)
}

// UpdateTask writes the task conditionally on its version. The stored version
// is bumped; callers pass the version they read. A stale snapshot gets
// ErrVersionConflict so concurrent staff edits are serialized rather than
// silently last-writer-wins.
func (q Queries) UpdateTask(ctx context.Context, t types.Task) error {
	payload, err := marshalMap(t.Payload)
	if err != nil {
		return err
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET
			category = ?, subtype = ?, customer_type = ?, sentiment = ?, priority = ?, status = ?,
			payload = ?, assignee_id = ?, parent_task_id = ?, reply_body = ?, reply_subject = ?,
			reply_channel = ?, version = version + 1, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND version = ?`,
		t.Category, t.Subtype, t.CustomerType, t.Sentiment, t.Priority, t.Status,
		payload, nullStr(t.AssigneeID), nullStr(t.ParentTaskID), t.ReplyBody, t.ReplySubject,
		t.ReplyChannel, utc(t.UpdatedAt),
		t.TenantID, t.ID, t.Version)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

// UpdateTaskReply touches only the suggested reply fields, without a version
// bump guard on the rest of the row. Used by the background regeneration
// worker, whose output must never clobber authoritative task state.
func (q Queries) UpdateTaskReply(ctx context.Context, tenantID, id, body, subject string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET reply_body = ?, reply_subject = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		body, subject, utc(time.Now()), tenantID, id)
	if err != nil {
		return fmt.Errorf("update task reply: %w", err)
	}
	return nil
}

// TaskFilter narrows ListTasks. Zero values mean "any".
type TaskFilter struct {
	Status     types.TaskStatus
	Category   types.TaskCategory
	Priority   types.Priority
	AssigneeID string
	CreatorID  string
	From       time.Time
	To         time.Time
	Query      string
	Limit      int
}

func (q Queries) ListTasks(ctx context.Context, tenantID string, f TaskFilter) ([]types.Task, error) {
	query := taskSelect + ` WHERE tenant_id = ?`
	args := []any{tenantID}

	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}
	if f.Priority != "" {
		query += ` AND priority = ?`
		args = append(args, f.Priority)
	}
	if f.AssigneeID != "" {
		query += ` AND assignee_id = ?`
		args = append(args, f.AssigneeID)
	}
	if f.CreatorID != "" {
		query += ` AND creator_id = ?`
		args = append(args, f.CreatorID)
	}
	if !f.From.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, utc(f.From))
	}
	if !f.To.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, utc(f.To))
	}
	if f.Query != "" {
		query += ` AND (payload LIKE ? OR reply_body LIKE ?)`
		like := "%" + f.Query + "%"
		args = append(args, like, like)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []types.Task
	for rows.Next() {
		t, ok, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, t)
		}
	}
	return out, rows.Err()
}

func (q Queries) CountTasks(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE tenant_id = ?`, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

const taskSelect = `
	SELECT id, tenant_id, contact_id, source_message_id, parent_task_id, category, subtype,
		customer_type, sentiment, priority, status, payload, assignee_id, creator_id,
		reply_body, reply_subject, reply_channel, version, created_at, updated_at
	FROM tasks`

func scanTask(scan func(dest ...any) error) (types.Task, bool, error) {
	var t types.Task
	var contactID, sourceMessageID, parentTaskID, assigneeID, creatorID sql.NullString
	var payload string
	err := scan(&t.ID, &t.TenantID, &contactID, &sourceMessageID, &parentTaskID, &t.Category, &t.Subtype,
		&t.CustomerType, &t.Sentiment, &t.Priority, &t.Status, &payload, &assigneeID, &creatorID,
		&t.ReplyBody, &t.ReplySubject, &t.ReplyChannel, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Task{}, false, nil
	}
	if err != nil {
		return types.Task{}, false, fmt.Errorf("scan task: %w", err)
	}
	t.ContactID = scanStr(contactID)
	t.SourceMessageID = scanStr(sourceMessageID)
	t.ParentTaskID = scanStr(parentTaskID)
	t.AssigneeID = scanStr(assigneeID)
	t.CreatorID = scanStr(creatorID)
	t.Payload, err = unmarshalMap(payload)
	if err != nil {
		return types.Task{}, false, err
	}
	return t, true, nil
}
