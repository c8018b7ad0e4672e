package responder

import (
	"regexp"
	"strings"

	"github.com/ignite/outreach-engine/internal/domain"
)

// Intent pattern rules, checked in order. Out-of-office wins over
// everything because autoresponders routinely quote the original pitch.
var intentRules = []struct {
	intent  domain.Intent
	pattern *regexp.Regexp
}{
	{domain.IntentOutOfOffice, regexp.MustCompile(`(?i)out of (the )?office|on vacation|annual leave|parental leave|auto.?reply|automatic reply|currently away|back on [a-z]+day|limited access to email`)},
	{domain.IntentNotInterested, regexp.MustCompile(`(?i)not interested|no thanks|please remove|unsubscribe|stop (contacting|emailing)|don'?t contact|not a (good )?fit|no budget`)},
	{domain.IntentMeetingRequest, regexp.MustCompile(`(?i)(book|schedule|set up|grab|find) (a |some )?(call|time|meeting|demo|slot)|calendly|send (me )?(your|an) (availability|invite)|how about (monday|tuesday|wednesday|thursday|friday)|works for me`)},
	{domain.IntentObjection, regexp.MustCompile(`(?i)too expensive|we (already )?use|we'?re (already )?(on|using|with)|existing (vendor|solution|provider)|under contract|happy with`)},
	{domain.IntentQuestion, regexp.MustCompile(`(?i)\?|how (does|do|much|many)|what (is|are|does)|can (you|it)|does (it|this)|pricing|integrat`)},
	{domain.IntentInterested, regexp.MustCompile(`(?i)sounds (good|great|interesting)|tell me more|interested|i'?d (like|love) to|learn more|send (me )?(more )?(info|details)`)},
	{domain.IntentFollowUp, regexp.MustCompile(`(?i)follow up|circle back|check (back )?in|next (quarter|month|year)|reach out (again|later)|not (right )?now|maybe later`)},
}

var competitorRe = regexp.MustCompile(`(?i)we (?:already )?use ([A-Z][A-Za-z0-9]+)|we'?re (?:already )?(?:on|using|with) ([A-Z][A-Za-z0-9]+)`)

var (
	positiveRe = regexp.MustCompile(`(?i)sounds (good|great)|interested|love to|great|perfect|thanks|appreciate|yes`)
	negativeRe = regexp.MustCompile(`(?i)not interested|no thanks|remove|stop|unsubscribe|annoy|spam|waste`)
)

// Classification is the result of analysing one inbound reply.
type Classification struct {
	Intent     domain.Intent
	Sentiment  domain.ReplySentiment
	Competitor string
}

// Classify derives intent, sentiment, and (for objections) the named
// competitor from a reply body using pattern rules.
func Classify(body string) Classification {
	c := Classification{Intent: domain.IntentUnknown, Sentiment: domain.SentimentNeutral}
	text := strings.TrimSpace(body)
	if text == "" {
		return c
	}

	for _, rule := range intentRules {
		if rule.pattern.MatchString(text) {
			c.Intent = rule.intent
			break
		}
	}

	switch c.Intent {
	case domain.IntentObjection:
		c.Sentiment = domain.SentimentObjection
		if m := competitorRe.FindStringSubmatch(text); m != nil {
			for _, g := range m[1:] {
				if g != "" {
					c.Competitor = g
					break
				}
			}
		}
	case domain.IntentNotInterested:
		c.Sentiment = domain.SentimentNegative
	case domain.IntentInterested, domain.IntentMeetingRequest:
		c.Sentiment = domain.SentimentPositive
	default:
		switch {
		case negativeRe.MatchString(text):
			c.Sentiment = domain.SentimentNegative
		case positiveRe.MatchString(text):
			c.Sentiment = domain.SentimentPositive
		}
	}
	return c
}
