package ingest

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Babel-Snake/vinagent-backend-sub000/internal/errs"
	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

// Inbound is the channel-neutral form of one received message.
type Inbound struct {
	Channel    types.Channel
	Sender     string
	Recipient  string
	Subject    string
	Body       string
	ExternalID string
	OccurredAt time.Time
	Raw        string
}

type smsPayload struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Body      string `json:"body"`
	MessageID string `json:"message_id"`
}

type emailPayload struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	MessageID string `json:"message_id"`
}

type voicePayload struct {
	Caller     string `json:"caller"`
	To         string `json:"to"`
	Transcript string `json:"transcript"`
	CallID     string `json:"call_id"`
}

// ParsePayload maps a channel-specific webhook body onto Inbound. Each channel
// keeps its own field names; providers are not asked to adapt to ours.
func ParsePayload(channel types.Channel, raw []byte, now time.Time) (Inbound, error) {
	if !types.ValidInboundChannel(channel) {
		return Inbound{}, errs.E(errs.KindValidation, "unknown inbound channel %q", channel)
	}

	in := Inbound{Channel: channel, OccurredAt: now.UTC(), Raw: string(raw)}
	switch channel {
	case types.ChannelSMS:
		var p smsPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return Inbound{}, errs.E(errs.KindValidation, "malformed sms payload")
		}
		in.Sender, in.Recipient, in.Body, in.ExternalID = p.From, p.To, p.Body, p.MessageID
	case types.ChannelEmail:
		var p emailPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return Inbound{}, errs.E(errs.KindValidation, "malformed email payload")
		}
		in.Sender, in.Recipient, in.Subject, in.Body, in.ExternalID = p.From, p.To, p.Subject, p.Body, p.MessageID
	case types.ChannelVoice:
		var p voicePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return Inbound{}, errs.E(errs.KindValidation, "malformed voice payload")
		}
		in.Sender, in.Recipient, in.Body, in.ExternalID = p.Caller, p.To, p.Transcript, p.CallID
	}

	var missing []string
	if strings.TrimSpace(in.Sender) == "" {
		missing = append(missing, "sender")
	}
	if strings.TrimSpace(in.Recipient) == "" {
		missing = append(missing, "recipient")
	}
	if strings.TrimSpace(in.ExternalID) == "" {
		missing = append(missing, "external id")
	}
	if len(missing) > 0 {
		return Inbound{}, errs.E(errs.KindValidation, "%s payload missing %s", channel, strings.Join(missing, ", "))
	}
	return in, nil
}
