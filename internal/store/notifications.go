package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

func (q Queries) InsertNotification(ctx context.Context, n types.Notification) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO notifications (id, tenant_id, staff_id, task_id, kind, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.TenantID, n.StaffID, nullStr(n.TaskID), n.Kind, n.Body, utc(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListNotificationsForStaff returns a staff user's notifications, newest first.
func (q Queries) ListNotificationsForStaff(ctx context.Context, tenantID, staffID string) ([]types.Notification, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, tenant_id, staff_id, task_id, kind, body, read_at, created_at
		FROM notifications WHERE tenant_id = ? AND staff_id = ?
		ORDER BY created_at DESC, rowid DESC`, tenantID, staffID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []types.Notification
	for rows.Next() {
		var n types.Notification
		var taskID sql.NullString
		var readAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.TenantID, &n.StaffID, &taskID, &n.Kind, &n.Body, &readAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.TaskID = scanStr(taskID)
		if readAt.Valid {
			t := readAt.Time
			n.ReadAt = &t
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
