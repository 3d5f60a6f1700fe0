package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

// InsertMessage persists a message row. Inbound rows with an external id are
// protected by the dedupe index; a losing racer gets ErrDuplicate.
func (q Queries) InsertMessage(ctx context.Context, m types.Message) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO messages (id, tenant_id, contact_id, channel, direction, external_id, body, raw_payload, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.TenantID, nullStr(m.ContactID), m.Channel, m.Direction, nullStr(m.ExternalID),
		m.Body, m.RawPayload, utc(m.OccurredAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetInboundMessage is the ingestion dedupe lookup.
func (q Queries) GetInboundMessage(ctx context.Context, channel types.Channel, externalID string) (types.Message, bool, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, contact_id, channel, direction, external_id, body, raw_payload, occurred_at
		FROM messages WHERE channel = ? AND external_id = ? AND direction = ?`,
		channel, externalID, types.DirectionInbound)
	return scanMessage(row)
}

func (q Queries) GetMessage(ctx context.Context, tenantID, id string) (types.Message, bool, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, contact_id, channel, direction, external_id, body, raw_payload, occurred_at
		FROM messages WHERE tenant_id = ? AND id = ?`, tenantID, id)
	return scanMessage(row)
}

// ListMessagesForContact returns the communication trail for a contact, oldest
// first.
func (q Queries) ListMessagesForContact(ctx context.Context, tenantID, contactID string) ([]types.Message, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, tenant_id, contact_id, channel, direction, external_id, body, raw_payload, occurred_at
		FROM messages WHERE tenant_id = ? AND contact_id = ? ORDER BY occurred_at, rowid`, tenantID, contactID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []types.Message
	for rows.Next() {
		m, err := scanMessageRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(row *sql.Row) (types.Message, bool, error) {
	var m types.Message
	var contactID, externalID sql.NullString
	err := row.Scan(&m.ID, &m.TenantID, &contactID, &m.Channel, &m.Direction, &externalID,
		&m.Body, &m.RawPayload, &m.OccurredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Message{}, false, nil
	}
	if err != nil {
		return types.Message{}, false, fmt.Errorf("scan message: %w", err)
	}
	m.ContactID = scanStr(contactID)
	m.ExternalID = scanStr(externalID)
	return m, true, nil
}

func scanMessageRows(rows *sql.Rows) (types.Message, error) {
	var m types.Message
	var contactID, externalID sql.NullString
	err := rows.Scan(&m.ID, &m.TenantID, &contactID, &m.Channel, &m.Direction, &externalID,
		&m.Body, &m.RawPayload, &m.OccurredAt)
	if err != nil {
		return types.Message{}, fmt.Errorf("scan message: %w", err)
	}
	m.ContactID = scanStr(contactID)
	m.ExternalID = scanStr(externalID)
	return m, nil
}
