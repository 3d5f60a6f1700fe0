package types

import "time"

// Tenant is the business account that owns contacts, tasks and configuration.
type Tenant struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	InboundSMS     string          `json:"inbound_sms,omitempty"`
	InboundEmail   string          `json:"inbound_email,omitempty"`
	InboundVoice   string          `json:"inbound_voice,omitempty"`
	EnabledModules map[string]bool `json:"enabled_modules,omitempty"`
	AutoExecute    bool            `json:"auto_execute"`
}

// ModuleEnabled reports whether a feature module is switched on for the tenant.
func (t Tenant) ModuleEnabled(module string) bool {
	if t.EnabledModules == nil {
		return false
	}
	return t.EnabledModules[module]
}

// InboundAddress returns the tenant's configured destination for a channel.
func (t Tenant) InboundAddress(c Channel) string {
	switch c {
	case ChannelSMS:
		return t.InboundSMS
	case ChannelEmail:
		return t.InboundEmail
	case ChannelVoice:
		return t.InboundVoice
	default:
		return ""
	}
}

// Staff is an internal user acting on tasks.
type Staff struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
}

// Contact is the external customer a message or task relates to.
type Contact struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenant_id"`
	Name             string    `json:"name"`
	Phone            string    `json:"phone,omitempty"`
	Email            string    `json:"email,omitempty"`
	AddressLine1     string    `json:"address_line1,omitempty"`
	AddressSuburb    string    `json:"address_suburb,omitempty"`
	AddressPostcode  string    `json:"address_postcode,omitempty"`
	PreferredChannel Channel   `json:"preferred_channel,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// PreferredTarget returns the delivery address for the contact's preferred
// channel, falling back to whichever address is populated.
func (c Contact) PreferredTarget() (Channel, string) {
	switch c.PreferredChannel {
	case ChannelEmail:
		if c.Email != "" {
			return ChannelEmail, c.Email
		}
	case ChannelSMS, ChannelVoice:
		if c.Phone != "" {
			return ChannelSMS, c.Phone
		}
	}
	if c.Phone != "" {
		return ChannelSMS, c.Phone
	}
	if c.Email != "" {
		return ChannelEmail, c.Email
	}
	return ChannelNone, ""
}

// Message is one inbound or outbound communication. Inbound rows are unique on
// (channel, external_id); that pair is the ingestion idempotency key. Messages
// are never mutated after creation.
type Message struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	ContactID  string    `json:"contact_id,omitempty"`
	Channel    Channel   `json:"channel"`
	Direction  Direction `json:"direction"`
	ExternalID string    `json:"external_id,omitempty"`
	Body       string    `json:"body"`
	RawPayload string    `json:"raw_payload,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Task is the unit of approvable work.
type Task struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenant_id"`
	ContactID       string         `json:"contact_id,omitempty"`
	SourceMessageID string         `json:"source_message_id,omitempty"`
	ParentTaskID    string         `json:"parent_task_id,omitempty"`
	Category        TaskCategory   `json:"category"`
	Subtype         TaskSubtype    `json:"subtype"`
	CustomerType    CustomerType   `json:"customer_type,omitempty"`
	Sentiment       Sentiment      `json:"sentiment,omitempty"`
	Priority        Priority       `json:"priority"`
	Status          TaskStatus     `json:"status"`
	Payload         map[string]any `json:"payload,omitempty"`
	AssigneeID      string         `json:"assignee_id,omitempty"`
	CreatorID       string         `json:"creator_id,omitempty"`
	ReplyBody       string         `json:"reply_body,omitempty"`
	ReplySubject    string         `json:"reply_subject,omitempty"`
	ReplyChannel    Channel        `json:"reply_channel,omitempty"`
	Version         int64          `json:"version"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// TaskAction is one append-only audit ledger entry. ActorID is empty for
// system-originated actions. Entries are never updated or deleted.
type TaskAction struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id"`
	ActorID   string         `json:"actor_id,omitempty"`
	Type      ActionType     `json:"type"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// MemberActionToken is a single-use capability granting one unauthenticated
// confirmation of a proposed change. UsedAt is set at most once.
type MemberActionToken struct {
	ID        string         `json:"id"`
	Token     string         `json:"-"`
	TenantID  string         `json:"tenant_id"`
	ContactID string         `json:"contact_id"`
	TaskID    string         `json:"task_id"`
	Type      TokenType      `json:"type"`
	Channel   Channel        `json:"channel"`
	Target    string         `json:"target"`
	Payload   map[string]any `json:"payload,omitempty"`
	ExpiresAt time.Time      `json:"expires_at"`
	UsedAt    *time.Time     `json:"used_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Notification is an in-app alert for a staff user, written in the same
// transaction as the event it describes.
type Notification struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	StaffID   string     `json:"staff_id"`
	TaskID    string     `json:"task_id,omitempty"`
	Kind      string     `json:"kind"`
	Body      string     `json:"body"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

const NotificationMention = "mention"

// Classification is what the classifier produces for one inbound message.
type Classification struct {
	Category     TaskCategory `json:"category"`
	Subtype      TaskSubtype  `json:"subtype"`
	Sentiment    Sentiment    `json:"sentiment"`
	Priority     Priority     `json:"priority"`
	Summary      string       `json:"summary,omitempty"`
	ReplyBody    string       `json:"reply_body,omitempty"`
	ReplySubject string       `json:"reply_subject,omitempty"`
	ReplyChannel Channel      `json:"reply_channel,omitempty"`
}
