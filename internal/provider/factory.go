package provider

import (
	"fmt"
	"time"

	"github.com/ignite/outreach-engine/internal/config"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/reliability"
	"github.com/ignite/outreach-engine/internal/secrets"
)

// Registry holds the constructed providers for the process. The email
// field already reflects the configured primary/secondary selection and
// fallback policy.
type Registry struct {
	Email      EmailProvider
	LinkedIn   LinkedInProvider
	CRM        CRMProvider
	Enrichment EnrichmentProvider
	Video      VideoProvider
	Verifier   *WebhookVerifier
}

func breakerConfig(cfg config.BreakerConfig) reliability.BreakerConfig {
	return reliability.BreakerConfig{
		Window:            time.Duration(cfg.WindowMs) * time.Millisecond,
		ErrorThresholdPct: cfg.ErrorThresholdPct,
		MinVolume:         cfg.MinVolume,
		Reset:             time.Duration(cfg.ResetMs) * time.Millisecond,
	}
}

func newCaller(name string, cfg config.ProviderConfig) *reliability.Caller {
	return reliability.NewCaller(reliability.CallerConfig{
		Name:      name,
		Breaker:   breakerConfig(cfg.Breaker),
		PerMinute: cfg.RateLimit.PerMinute,
		Timeout:   cfg.Timeout(),
		Retry:     reliability.RetryPolicy{},
	})
}

// NewRegistry builds every provider adapter from config, resolving
// credentials through the secret store. Each provider gets its own
// reliability caller so one failing service cannot open another's
// breaker.
func NewRegistry(cfg *config.Config, store secrets.Store) (*Registry, error) {
	pc := cfg.Provider

	lemlistKey, err := store.Get(secrets.KeyLemlistAPIKey)
	if err != nil {
		return nil, fmt.Errorf("building email provider: %w", err)
	}
	postmarkToken, err := store.Get(secrets.KeyPostmarkServerToken)
	if err != nil {
		return nil, fmt.Errorf("building email provider: %w", err)
	}

	primary := NewLemlist(pc.Lemlist.BaseURL, lemlistKey, newCaller("lemlist", pc))
	secondary := NewPostmark(pc.Postmark.BaseURL, postmarkToken, newCaller("postmark", pc))

	var email EmailProvider
	switch pc.Email.Provider {
	case "secondary":
		email = secondary
	default:
		email = primary
	}
	if pc.Email.FallbackOnFailure && pc.Email.Provider != "secondary" {
		email = NewFallbackEmail(primary, secondary)
	}

	pbKey, err := store.Get(secrets.KeyPhantomBusterKey)
	if err != nil {
		return nil, fmt.Errorf("building linkedin provider: %w", err)
	}
	linkedin := NewPhantomBuster(pc.PhantomBuster.BaseURL, pbKey, map[LinkedInAction]string{
		ActionConnect: "linkedin-connect",
		ActionMessage: "linkedin-message",
	}, pc.LinkedIn.DailyLimit, newCaller("phantombuster", pc))

	crmSecret, err := store.Get(secrets.KeyCRMClientSecret)
	if err != nil {
		return nil, fmt.Errorf("building crm provider: %w", err)
	}
	crm := NewHubSpot(cfg.CRM.BaseURL, cfg.CRM.TokenURL, cfg.CRM.ClientID, crmSecret, newCaller("hubspot", pc))

	exploriumKey, err := store.Get(secrets.KeyExploriumAPIKey)
	if err != nil {
		return nil, fmt.Errorf("building enrichment provider: %w", err)
	}
	enrichment := NewExplorium(cfg.Enrichment.BaseURL, exploriumKey, newCaller("explorium", pc))

	var video VideoProvider
	if pc.HeyGen.Enabled {
		heygenKey, err := store.Get(secrets.KeyHeyGenAPIKey)
		if err != nil {
			return nil, fmt.Errorf("building video provider: %w", err)
		}
		video = NewHeyGen(pc.HeyGen.BaseURL, heygenKey, "", newCaller("heygen", pc))
	}

	logger.Info("provider registry built",
		"email", email.Name(), "linkedin", linkedin.Name(), "crm", crm.Name(),
		"video_enabled", video != nil)

	return &Registry{
		Email:      email,
		LinkedIn:   linkedin,
		CRM:        crm,
		Enrichment: enrichment,
		Video:      video,
		Verifier:   NewWebhookVerifier(store),
	}, nil
}
