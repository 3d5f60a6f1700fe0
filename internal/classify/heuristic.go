package classify

import (
	"strings"
	"unicode/utf8"

	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

// phrase patterns checked in order; first hit wins.
var categoryPatterns = []struct {
	keywords []string
	category types.TaskCategory
	subtype  types.TaskSubtype
}{
	{[]string{"moved", "moving house", "change my address", "update my address", "new address"},
		types.CategoryAccount, types.SubtypeAddressChange},
	{[]string{"book", "booking", "reservation", "reserve", "table for", "tasting"},
		types.CategoryBooking, types.SubtypeBookingRequest},
	{[]string{"order", "shipment", "delivery", "tracking", "dispatch"},
		types.CategoryOrdering, types.SubtypeOrderEnquiry},
	{[]string{"membership", "member", "wine club", "subscription", "cancel my club"},
		types.CategoryMembership, types.SubtypeGeneral},
}

var negativeKeywords = []string{
	"angry", "terrible", "awful", "refund", "complaint", "disappointed",
	"unacceptable", "worst", "broken", "damaged", "never again", "furious",
}

// Heuristic is the deterministic fallback classifier. It is total: any input,
// including empty text, yields a usable classification.
func Heuristic(text string, cctx Context) types.Classification {
	lower := strings.ToLower(text)

	cls := types.Classification{
		Category:  types.CategoryGeneralEnquiry,
		Subtype:   types.SubtypeGeneral,
		Sentiment: types.SentimentNeutral,
		Priority:  types.PriorityNormal,
	}

	for _, p := range categoryPatterns {
		if containsAny(lower, p.keywords) {
			cls.Category = p.category
			cls.Subtype = p.subtype
			break
		}
	}

	if containsAny(lower, negativeKeywords) {
		cls.Sentiment = types.SentimentNegative
		cls.Priority = types.PriorityHigh
	}

	cls.Summary = summarize(text)
	cls.ReplyBody = heuristicReply(cls, cctx)
	cls.ReplyChannel = replyChannel(cctx.Channel)
	return cls
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func summarize(text string) string {
	text = strings.TrimSpace(text)
	const max = 140
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	return string([]rune(text)[:max]) + "…"
}

func heuristicReply(cls types.Classification, cctx Context) string {
	name := "there"
	if cctx.Contact != nil && cctx.Contact.Name != "" {
		name = strings.Fields(cctx.Contact.Name)[0]
	}
	brand := cctx.Tenant.Name
	if brand == "" {
		brand = "our team"
	}

	switch cls.Subtype {
	case types.SubtypeAddressChange:
		return "Hi " + name + ", thanks for letting us know you've moved. We'll confirm your new details shortly."
	case types.SubtypeBookingRequest:
		return "Hi " + name + ", thanks for your booking enquiry. " + brand + " will confirm availability soon."
	case types.SubtypeOrderEnquiry:
		return "Hi " + name + ", thanks for getting in touch about your order. We're looking into it now."
	default:
		return "Hi " + name + ", thanks for your message. " + brand + " will get back to you shortly."
	}
}

// Voice transcripts have no reply channel of their own; replies go out by SMS.
func replyChannel(c types.Channel) types.Channel {
	if c == types.ChannelVoice {
		return types.ChannelSMS
	}
	if c == "" {
		return types.ChannelNone
	}
	return c
}
