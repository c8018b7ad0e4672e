package responder

import (
	"strings"

	"github.com/ignite/outreach-engine/internal/domain"
)

// Knowledge carries the sender identity and sales collateral the
// generator draws on: persona, per-competitor battle cards, and case
// studies.
type Knowledge struct {
	SenderName    string
	SenderTitle   string
	CompanyName   string
	ProductPitch  string
	BattleCards   map[string]string // keyed by lowercase competitor name
	CaseStudies   []string
	MeetingLink   string
	SignatureLine string
}

// Bundle assembles the knowledge text relevant to one reply: the pitch,
// the matching battle card when a competitor was named, and up to two
// case studies for interest or objection intents.
func (k *Knowledge) Bundle(intent domain.Intent, competitor string) string {
	var sb strings.Builder

	sb.WriteString("Product: " + k.ProductPitch + "\n")
	if k.MeetingLink != "" {
		sb.WriteString("Meeting link: " + k.MeetingLink + "\n")
	}

	if competitor != "" {
		if card, ok := k.BattleCards[strings.ToLower(competitor)]; ok {
			sb.WriteString("Battle card for " + competitor + ": " + card + "\n")
		}
	}

	if intent == domain.IntentInterested || intent == domain.IntentObjection || intent == domain.IntentQuestion {
		for i, cs := range k.CaseStudies {
			if i == 2 {
				break
			}
			sb.WriteString("Case study: " + cs + "\n")
		}
	}
	return sb.String()
}

// guidance returns intent-specific instructions for the system prompt.
func guidance(intent domain.Intent) string {
	switch intent {
	case domain.IntentMeetingRequest:
		return "The lead wants to meet. Confirm enthusiastically, propose concrete times or share the meeting link, and keep it short."
	case domain.IntentObjection:
		return "The lead raised an objection. Acknowledge it directly, respond with one relevant proof point, and do not argue."
	case domain.IntentQuestion:
		return "The lead asked a question. Answer it plainly first, then offer a call for anything deeper."
	case domain.IntentInterested:
		return "The lead is interested. Reinforce the value briefly and move toward scheduling a call."
	case domain.IntentFollowUp:
		return "The lead deferred. Accept gracefully and propose a specific later date to reconnect."
	default:
		return "Reply helpfully and briefly, and end with a clear next step."
	}
}
