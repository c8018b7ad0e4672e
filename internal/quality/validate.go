// Package quality implements the pre-send quality gate: contact
// validation, message scoring, timing scoring, and the weighted
// allow/warn/block decision.
package quality

import (
	"context"
	"net"
	"net/mail"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Validation point values. The data score is the sum of what a contact
// earns across these checks, out of 100.
const (
	pointsMX           = 20
	pointsNotRole      = 15
	pointsNotThrowaway = 15
	pointsCompleteness = 25

	pointsICPTier1 = 25
	pointsICPTier2 = 15
	pointsICPTier3 = 8
)

var rolePrefixes = map[string]bool{
	"admin": true, "billing": true, "contact": true, "hello": true,
	"help": true, "info": true, "marketing": true, "noreply": true,
	"no-reply": true, "office": true, "postmaster": true, "sales": true,
	"security": true, "support": true, "team": true, "webmaster": true,
}

var disposableDomains = map[string]bool{
	"10minutemail.com": true, "dispostable.com": true, "fakeinbox.com": true,
	"guerrillamail.com": true, "mailinator.com": true, "maildrop.cc": true,
	"sharklasers.com": true, "temp-mail.org": true, "throwawaymail.com": true,
	"trashmail.com": true, "yopmail.com": true,
}

// ICP title tiers, best first. The first matching tier scores.
var (
	icpTier1 = regexp.MustCompile(`(?i)\b(ceo|cto|cfo|coo|cro|chief|founder|co-founder|president|owner|vp|vice president|head of)\b`)
	icpTier2 = regexp.MustCompile(`(?i)\b(director|principal|lead|manager|partner)\b`)
	icpTier3 = regexp.MustCompile(`(?i)\b(senior|architect|engineer|consultant|specialist|analyst)\b`)
)

// MXLookup resolves mail exchangers for a domain. Swappable in tests.
type MXLookup func(ctx context.Context, domain string) ([]*net.MX, error)

type mxEntry struct {
	ok      bool
	checked time.Time
}

// Validator validates contacts ahead of a send. MX results are cached
// for a short TTL so batch validation does not hammer DNS.
type Validator struct {
	lookupMX MXLookup
	mxTTL    time.Duration

	mu      sync.Mutex
	mxCache map[string]mxEntry
}

// NewValidator creates a contact validator. lookup may be nil to use the
// system resolver.
func NewValidator(lookup MXLookup, mxTTL time.Duration) *Validator {
	if lookup == nil {
		lookup = func(ctx context.Context, domain string) ([]*net.MX, error) {
			return net.DefaultResolver.LookupMX(ctx, domain)
		}
	}
	if mxTTL <= 0 {
		mxTTL = 5 * time.Minute
	}
	return &Validator{lookupMX: lookup, mxTTL: mxTTL, mxCache: make(map[string]mxEntry)}
}

// ContactInput is the slice of a contact the validator needs.
type ContactInput struct {
	Email     string
	FirstName string
	LastName  string
	Title     string
	Company   string
	Phone     string
}

// ContactResult is the outcome of validating one contact.
type ContactResult struct {
	Score      float64  // 0-100
	HardBlocks []string // any entry forces a block decision
	Warnings   []string
}

// ValidateContact scores a contact's deliverability and fit. Invalid
// email syntax is a hard block; everything else degrades the score.
func (v *Validator) ValidateContact(ctx context.Context, c ContactInput) ContactResult {
	var res ContactResult

	addr, err := mail.ParseAddress(strings.TrimSpace(c.Email))
	if err != nil {
		res.HardBlocks = append(res.HardBlocks, "invalid email syntax")
		return res
	}
	local, domain, ok := splitAddress(addr.Address)
	if !ok {
		res.HardBlocks = append(res.HardBlocks, "invalid email syntax")
		return res
	}

	if v.hasMX(ctx, domain) {
		res.Score += pointsMX
	} else {
		res.Warnings = append(res.Warnings, "domain has no MX records")
	}

	if rolePrefixes[strings.ToLower(local)] {
		res.Warnings = append(res.Warnings, "role-based address")
	} else {
		res.Score += pointsNotRole
	}

	if disposableDomains[strings.ToLower(domain)] {
		res.Warnings = append(res.Warnings, "disposable email domain")
	} else {
		res.Score += pointsNotThrowaway
	}

	res.Score += completeness(c)
	if tier := icpPoints(c.Title); tier > 0 {
		res.Score += tier
	} else if c.Title != "" {
		res.Warnings = append(res.Warnings, "title outside ICP")
	}

	return res
}

// ICPScore returns the 0..1 ideal-customer-profile fit for a title.
func ICPScore(title string) float64 {
	return icpPoints(title) / pointsICPTier1
}

func icpPoints(title string) float64 {
	switch {
	case title == "":
		return 0
	case icpTier1.MatchString(title):
		return pointsICPTier1
	case icpTier2.MatchString(title):
		return pointsICPTier2
	case icpTier3.MatchString(title):
		return pointsICPTier3
	}
	return 0
}

// completeness grades how much of the contact record is filled in.
func completeness(c ContactInput) float64 {
	fields := []string{c.FirstName, c.LastName, c.Title, c.Company, c.Phone}
	filled := 0
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			filled++
		}
	}
	return pointsCompleteness * float64(filled) / float64(len(fields))
}

func splitAddress(addr string) (local, domain string, ok bool) {
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "", "", false
	}
	return addr[:at], addr[at+1:], true
}

func (v *Validator) hasMX(ctx context.Context, domain string) bool {
	domain = strings.ToLower(domain)

	v.mu.Lock()
	entry, hit := v.mxCache[domain]
	v.mu.Unlock()
	if hit && time.Since(entry.checked) < v.mxTTL {
		return entry.ok
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	records, err := v.lookupMX(lookupCtx, domain)
	ok := err == nil && len(records) > 0

	v.mu.Lock()
	v.mxCache[domain] = mxEntry{ok: ok, checked: time.Now()}
	v.mu.Unlock()
	return ok
}
