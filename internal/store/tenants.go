package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

// UpsertTenant syncs a tenant row from the registry at boot.
func (q Queries) UpsertTenant(ctx context.Context, t types.Tenant) error {
	modules, err := marshalBoolMap(t.EnabledModules)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, inbound_sms, inbound_email, inbound_voice, enabled_modules, auto_execute)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			inbound_sms = excluded.inbound_sms,
			inbound_email = excluded.inbound_email,
			inbound_voice = excluded.inbound_voice,
			enabled_modules = excluded.enabled_modules,
			auto_execute = excluded.auto_execute`,
		t.ID, t.Name, t.InboundSMS, t.InboundEmail, t.InboundVoice, modules, boolInt(t.AutoExecute))
	if err != nil {
		return fmt.Errorf("upsert tenant: %w", err)
	}
	return nil
}

func (q Queries) GetTenant(ctx context.Context, id string) (types.Tenant, bool, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, name, inbound_sms, inbound_email, inbound_voice, enabled_modules, auto_execute
		FROM tenants WHERE id = ?`, id)
	return scanTenant(row)
}

// GetTenantByInbound resolves the tenant owning a destination address for the
// given channel. Misses are not errors.
func (q Queries) GetTenantByInbound(ctx context.Context, channel types.Channel, address string) (types.Tenant, bool, error) {
	var column string
	switch channel {
	case types.ChannelSMS:
		column = "inbound_sms"
	case types.ChannelEmail:
		column = "inbound_email"
	case types.ChannelVoice:
		column = "inbound_voice"
	default:
		return types.Tenant{}, false, nil
	}
	row := q.db.QueryRowContext(ctx, `
		SELECT id, name, inbound_sms, inbound_email, inbound_voice, enabled_modules, auto_execute
		FROM tenants WHERE `+column+` = ? AND `+column+` != ''`, address)
	return scanTenant(row)
}

// ModuleEnabled answers feature gating lookups against the tenant row.
func (q Queries) ModuleEnabled(ctx context.Context, tenantID, module string) (bool, error) {
	t, found, err := q.GetTenant(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, fmt.Errorf("unknown tenant %s", tenantID)
	}
	return t.ModuleEnabled(module), nil
}

func scanTenant(row *sql.Row) (types.Tenant, bool, error) {
	var t types.Tenant
	var modules string
	var auto int
	err := row.Scan(&t.ID, &t.Name, &t.InboundSMS, &t.InboundEmail, &t.InboundVoice, &modules, &auto)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Tenant{}, false, nil
	}
	if err != nil {
		return types.Tenant{}, false, fmt.Errorf("scan tenant: %w", err)
	}
	t.EnabledModules, err = unmarshalBoolMap(modules)
	if err != nil {
		return types.Tenant{}, false, err
	}
	t.AutoExecute = auto != 0
	return t, true, nil
}

func (q Queries) UpsertStaff(ctx context.Context, s types.Staff) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO staff (id, tenant_id, name, role) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET tenant_id = excluded.tenant_id, name = excluded.name, role = excluded.role`,
		s.ID, s.TenantID, s.Name, s.Role)
	if err != nil {
		return fmt.Errorf("upsert staff: %w", err)
	}
	return nil
}

func (q Queries) ListStaff(ctx context.Context, tenantID string) ([]types.Staff, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, role FROM staff WHERE tenant_id = ? ORDER BY name`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list staff: %w", err)
	}
	defer rows.Close()

	var out []types.Staff
	for rows.Next() {
		var s types.Staff
		if err := rows.Scan(&s.ID, &s.TenantID, &s.Name, &s.Role); err != nil {
			return nil, fmt.Errorf("scan staff: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q Queries) UpsertContact(ctx context.Context, c types.Contact) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO contacts (id, tenant_id, name, phone, email, address_line1, address_suburb, address_postcode, preferred_channel, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			email = excluded.email,
			address_line1 = excluded.address_line1,
			address_suburb = excluded.address_suburb,
			address_postcode = excluded.address_postcode,
			preferred_channel = excluded.preferred_channel`,
		c.ID, c.TenantID, c.Name, c.Phone, c.Email, c.AddressLine1, c.AddressSuburb, c.AddressPostcode, c.PreferredChannel, utc(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

func (q Queries) GetContact(ctx context.Context, tenantID, id string) (types.Contact, bool, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, phone, email, address_line1, address_suburb, address_postcode, preferred_channel, created_at
		FROM contacts WHERE tenant_id = ? AND id = ?`, tenantID, id)
	return scanContact(row)
}

// GetContactByAddress looks up a contact by its sender address for a channel.
// Phone matches sms/voice, email matches email.
func (q Queries) GetContactByAddress(ctx context.Context, tenantID string, channel types.Channel, address string) (types.Contact, bool, error) {
	column := "phone"
	if channel == types.ChannelEmail {
		column = "email"
	}
	row := q.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, phone, email, address_line1, address_suburb, address_postcode, preferred_channel, created_at
		FROM contacts WHERE tenant_id = ? AND `+column+` = ? AND `+column+` != ''`, tenantID, address)
	return scanContact(row)
}

// UpdateContactAddress applies a confirmed address change.
func (q Queries) UpdateContactAddress(ctx context.Context, contactID, line1, suburb, postcode string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE contacts SET address_line1 = ?, address_suburb = ?, address_postcode = ? WHERE id = ?`,
		line1, suburb, postcode, contactID)
	if err != nil {
		return fmt.Errorf("update contact address: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanContact(row *sql.Row) (types.Contact, bool, error) {
	var c types.Contact
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Phone, &c.Email,
		&c.AddressLine1, &c.AddressSuburb, &c.AddressPostcode, &c.PreferredChannel, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Contact{}, false, nil
	}
	if err != nil {
		return types.Contact{}, false, fmt.Errorf("scan contact: %w", err)
	}
	return c, true, nil
}

func marshalBoolMap(m map[string]bool) (string, error) {
	generic := make(map[string]any, len(m))
	for k, v := range m {
		generic[k] = v
	}
	return marshalMap(generic)
}

func unmarshalBoolMap(s string) (map[string]bool, error) {
	generic, err := unmarshalMap(s)
	if err != nil {
		return nil, err
	}
	if generic == nil {
		return nil, nil
	}
	out := make(map[string]bool, len(generic))
	for k, v := range generic {
		b, _ := v.(bool)
		out[k] = b
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
