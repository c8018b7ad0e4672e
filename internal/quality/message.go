package quality

import (
	"regexp"
	"strings"
)

// Message point values, out of 100.
const (
	pointsPersonalized = 20
	pointsLength       = 20
	pointsCTA          = 20
	pointsSpamFree     = 25
	pointsProfessional = 15
)

var ctaKeywords = []string{
	"call", "chat", "connect", "demo", "discuss", "meet", "meeting",
	"reply", "schedule", "talk", "thoughts", "time",
}

var spamWords = []string{
	"100% free", "act now", "buy now", "cash bonus", "click here",
	"congratulations", "double your", "earn money", "free money",
	"guarantee", "limited time", "no obligation", "no risk", "once in a lifetime",
	"risk-free", "urgent", "winner",
}

var (
	// [insert name], {{first_name}} left unrendered, Lorem ipsum filler.
	placeholderRe = regexp.MustCompile(`(?i)\[insert [^\]]*\]|\{\{[^}]*\}\}|lorem ipsum|\[your [^\]]*\]`)
	credentialRe  = regexp.MustCompile(`(?i)\b(password|passwd|api[ _-]?key|secret[ _-]?key|access[ _-]?token|bearer )\b`)
	profanityRe   = regexp.MustCompile(`(?i)\b(damn|hell no|crap|wtf|screw)\b`)
)

// MessageInput is the rendered outbound message plus the contact fields
// personalization is checked against.
type MessageInput struct {
	Subject   string
	Body      string
	FirstName string
	Company   string
}

// MessageResult is the outcome of scoring one message.
type MessageResult struct {
	Score      float64
	HardBlocks []string
	Warnings   []string
}

// ScoreMessage scores an outbound message. Missing content, leftover
// placeholders and credential-like text are hard blocks.
func ScoreMessage(m MessageInput) MessageResult {
	var res MessageResult

	body := strings.TrimSpace(m.Body)
	if body == "" {
		res.HardBlocks = append(res.HardBlocks, "empty message body")
		return res
	}
	if placeholderRe.MatchString(body) || placeholderRe.MatchString(m.Subject) {
		res.HardBlocks = append(res.HardBlocks, "unresolved placeholder text")
	}
	if credentialRe.MatchString(body) {
		res.HardBlocks = append(res.HardBlocks, "credential-like content")
	}
	if len(res.HardBlocks) > 0 {
		return res
	}

	lower := strings.ToLower(body)

	if personalized(lower, m) {
		res.Score += pointsPersonalized
	} else {
		res.Warnings = append(res.Warnings, "no personalization")
	}

	words := len(strings.Fields(body))
	switch {
	case words >= 40 && words <= 150:
		res.Score += pointsLength
	case words >= 20 && words <= 250:
		res.Score += pointsLength / 2
		res.Warnings = append(res.Warnings, "length outside ideal band")
	default:
		res.Warnings = append(res.Warnings, "message too short or too long")
	}

	if containsAny(lower, ctaKeywords) {
		res.Score += pointsCTA
	} else {
		res.Warnings = append(res.Warnings, "no call to action")
	}

	if containsAny(lower, spamWords) {
		res.Warnings = append(res.Warnings, "spam trigger words")
	} else {
		res.Score += pointsSpamFree
	}

	if profanityRe.MatchString(lower) {
		res.Warnings = append(res.Warnings, "unprofessional language")
	} else {
		res.Score += pointsProfessional
	}

	return res
}

func personalized(lowerBody string, m MessageInput) bool {
	if m.FirstName != "" && strings.Contains(lowerBody, strings.ToLower(m.FirstName)) {
		return true
	}
	if m.Company != "" && strings.Contains(lowerBody, strings.ToLower(m.Company)) {
		return true
	}
	return false
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
