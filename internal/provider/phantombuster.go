package provider

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ignite/outreach-engine/internal/metrics"
	"github.com/ignite/outreach-engine/internal/reliability"
)

// PhantomBuster performs LinkedIn outreach actions through launched agents.
// The daily action ceiling is enforced here, before any call reaches the
// API, because LinkedIn accounts get restricted well before PhantomBuster
// pushes back.
type PhantomBuster struct {
	rest       *restClient
	agents     map[LinkedInAction]string
	dailyLimit int

	mu        sync.Mutex
	day       string
	usedToday int
}

// NewPhantomBuster creates the LinkedIn automation adapter. agents maps
// each action to the PhantomBuster agent id that performs it.
func NewPhantomBuster(baseURL, apiKey string, agents map[LinkedInAction]string, dailyLimit int, caller *reliability.Caller) *PhantomBuster {
	return &PhantomBuster{
		rest: newRESTClient("phantombuster", baseURL, caller, func(req *http.Request) {
			req.Header.Set("X-Phantombuster-Key", apiKey)
		}),
		agents:     agents,
		dailyLimit: dailyLimit,
	}
}

// Name identifies this provider in events and logs.
func (p *PhantomBuster) Name() string { return "phantombuster" }

// RemainingDailyActions reports how many actions today's ceiling still
// permits.
func (p *PhantomBuster) RemainingDailyActions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollDayLocked()
	return p.dailyLimit - p.usedToday
}

func (p *PhantomBuster) rollDayLocked() {
	today := time.Now().UTC().Format("2006-01-02")
	if p.day != today {
		p.day = today
		p.usedToday = 0
	}
}

// reserveAction claims one unit of today's budget, or fails with
// ErrRateLimited when the ceiling is reached.
func (p *PhantomBuster) reserveAction() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollDayLocked()
	if p.usedToday >= p.dailyLimit {
		return fmt.Errorf("%w: linkedin daily ceiling of %d reached", reliability.ErrRateLimited, p.dailyLimit)
	}
	p.usedToday++
	return nil
}

func (p *PhantomBuster) releaseAction() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.usedToday > 0 {
		p.usedToday--
	}
}

type pbLaunchRequest struct {
	ID       string         `json:"id"`
	Argument map[string]any `json:"argument"`
}

type pbLaunchResponse struct {
	ContainerID string `json:"containerId"`
}

// Perform launches the agent for the requested action. The container id
// becomes the provider message id so webhook events can be correlated.
func (p *PhantomBuster) Perform(ctx context.Context, req *LinkedInRequest) (*SendResult, error) {
	agentID, ok := p.agents[req.Action]
	if !ok {
		return nil, reliability.Validationf("no agent configured for linkedin action %q", req.Action)
	}

	if err := p.reserveAction(); err != nil {
		return nil, err
	}

	payload := pbLaunchRequest{
		ID: agentID,
		Argument: map[string]any{
			"profileUrl": req.ProfileURL,
			"message":    req.Message,
		},
	}

	var resp pbLaunchResponse
	if err := p.rest.doJSON(ctx, http.MethodPost, "/agents/launch", payload, &resp); err != nil {
		// A failed launch did not consume a LinkedIn action.
		p.releaseAction()
		return nil, fmt.Errorf("phantombuster %s: %w", req.Action, err)
	}

	metrics.MessagesSent.WithLabelValues("linkedin", p.Name()).Inc()
	return &SendResult{ProviderMessageID: resp.ContainerID, Provider: p.Name(), AcceptedAt: time.Now().UTC()}, nil
}
