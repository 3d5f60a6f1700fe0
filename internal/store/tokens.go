package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

func (q Queries) InsertToken(ctx context.Context, t types.MemberActionToken) error {
	payload, err := marshalMap(t.Payload)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO member_action_tokens (id, token, tenant_id, contact_id, task_id, token_type, channel, target, payload, expires_at, used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		t.ID, t.Token, t.TenantID, t.ContactID, t.TaskID, t.Type, t.Channel, t.Target, payload,
		utc(t.ExpiresAt), utc(t.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

func (q Queries) GetTokenByString(ctx context.Context, token string) (types.MemberActionToken, bool, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, token, tenant_id, contact_id, task_id, token_type, channel, target, payload, expires_at, used_at, created_at
		FROM member_action_tokens WHERE token = ?`, token)
	return scanToken(row)
}

func (q Queries) GetToken(ctx context.Context, id string) (types.MemberActionToken, bool, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, token, tenant_id, contact_id, task_id, token_type, channel, target, payload, expires_at, used_at, created_at
		FROM member_action_tokens WHERE id = ?`, id)
	return scanToken(row)
}

// MarkTokenUsed consumes a token. The used_at guard makes consumption
// first-wins under concurrency; a second attempt reports ErrDuplicate.
func (q Queries) MarkTokenUsed(ctx context.Context, id string, at time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE member_action_tokens SET used_at = ? WHERE id = ? AND used_at IS NULL`,
		utc(at), id)
	if err != nil {
		return fmt.Errorf("mark token used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

func scanToken(row *sql.Row) (types.MemberActionToken, bool, error) {
	var t types.MemberActionToken
	var payload string
	var usedAt sql.NullTime
	err := row.Scan(&t.ID, &t.Token, &t.TenantID, &t.ContactID, &t.TaskID, &t.Type, &t.Channel,
		&t.Target, &payload, &t.ExpiresAt, &usedAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.MemberActionToken{}, false, nil
	}
	if err != nil {
		return types.MemberActionToken{}, false, fmt.Errorf("scan token: %w", err)
	}
	if usedAt.Valid {
		at := usedAt.Time
		t.UsedAt = &at
	}
	t.Payload, err = unmarshalMap(payload)
	if err != nil {
		return types.MemberActionToken{}, false, err
	}
	return t, true, nil
}
