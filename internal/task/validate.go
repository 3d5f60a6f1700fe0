package task

import (
	"strings"

	"github.com/Babel-Snake/vinagent-backend-sub000/internal/errs"
	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

// requiredPayload lists the fields a subtype must carry before approval.
// Subtypes absent here approve with any payload.
var requiredPayload = map[types.TaskSubtype][]string{
	types.SubtypeAddressChange:  {"line1", "suburb", "postcode"},
	types.SubtypeBookingRequest: {"date", "time", "party_size"},
}

// validateForApproval rejects an approval whose payload would fail in the
// execution engine anyway, so the reviewer sees the gap before any side
// effect is attempted.
func validateForApproval(subtype types.TaskSubtype, payload map[string]any) error {
	required, ok := requiredPayload[subtype]
	if !ok {
		return nil
	}
	var missing []string
	for _, field := range required {
		if !payloadFieldPresent(payload, field) {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return errs.E(errs.KindIncompletePayload, "%s task payload missing %s",
			subtype, strings.Join(missing, ", "))
	}
	return nil
}

func payloadFieldPresent(payload map[string]any, field string) bool {
	v, ok := payload[field]
	if !ok || v == nil {
		return false
	}
	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value) != ""
	case float64:
		return value > 0
	case int:
		return value > 0
	default:
		return true
	}
}
