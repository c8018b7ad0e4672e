package responder

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	minReplyLen = 40
	maxReplyLen = 2500
)

var (
	outputCredentialRe  = regexp.MustCompile(`(?i)\b(password|passwd|api[ _-]?key|secret[ _-]?key|access[ _-]?token)\b`)
	outputProfanityRe   = regexp.MustCompile(`(?i)\b(damn|crap|wtf|screw|stupid|idiot)\b`)
	outputPromiseRe     = regexp.MustCompile(`(?i)\b(guarantee[ds]?|100% (certain|sure)|promise (you|that)|legally binding|refund)\b`)
	outputPlaceholderRe = regexp.MustCompile(`(?i)\[insert [^\]]*\]|\[your [^\]]*\]|\{\{[^}]*\}\}|lorem ipsum|as an ai`)
)

// validateOutput applies the safety checks every AI-generated reply must
// pass before it may be sent.
func validateOutput(text string) error {
	trimmed := strings.TrimSpace(text)
	switch {
	case len(trimmed) < minReplyLen:
		return fmt.Errorf("reply too short (%d chars)", len(trimmed))
	case len(trimmed) > maxReplyLen:
		return fmt.Errorf("reply too long (%d chars)", len(trimmed))
	case outputCredentialRe.MatchString(trimmed):
		return fmt.Errorf("reply contains credential-like content")
	case outputProfanityRe.MatchString(trimmed):
		return fmt.Errorf("reply contains unprofessional language")
	case outputPromiseRe.MatchString(trimmed):
		return fmt.Errorf("reply contains risky promises")
	case outputPlaceholderRe.MatchString(trimmed):
		return fmt.Errorf("reply contains placeholder text")
	}
	return nil
}
