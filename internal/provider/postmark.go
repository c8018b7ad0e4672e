package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/outreach-engine/internal/metrics"
	"github.com/ignite/outreach-engine/internal/reliability"
)

// Postmark is the secondary email provider, used directly or as the
// fallback target when the primary fails.
type Postmark struct {
	rest *restClient
}

// NewPostmark creates the Postmark adapter.
func NewPostmark(baseURL, serverToken string, caller *reliability.Caller) *Postmark {
	return &Postmark{
		rest: newRESTClient("postmark", baseURL, caller, func(req *http.Request) {
			req.Header.Set("X-Postmark-Server-Token", serverToken)
		}),
	}
}

// Name identifies this provider in events and logs.
func (p *Postmark) Name() string { return "postmark" }

type postmarkEmail struct {
	From     string            `json:"From"`
	To       string            `json:"To"`
	Subject  string            `json:"Subject"`
	HTMLBody string            `json:"HtmlBody,omitempty"`
	TextBody string            `json:"TextBody,omitempty"`
	Tag      string            `json:"Tag,omitempty"`
	Metadata map[string]string `json:"Metadata,omitempty"`
}

type postmarkResponse struct {
	MessageID   string `json:"MessageID"`
	ErrorCode   int    `json:"ErrorCode"`
	Message     string `json:"Message"`
	SubmittedAt string `json:"SubmittedAt"`
}

func (p *Postmark) toEmail(req *SendRequest) postmarkEmail {
	from := req.FromEmail
	if req.FromName != "" {
		from = fmt.Sprintf("%s <%s>", req.FromName, req.FromEmail)
	}
	return postmarkEmail{
		From:     from,
		To:       req.To,
		Subject:  req.Subject,
		HTMLBody: req.HTMLBody,
		TextBody: req.TextBody,
		Tag:      req.CampaignRef,
		Metadata: req.Metadata,
	}
}

// Send submits one email.
func (p *Postmark) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	var resp postmarkResponse
	if err := p.rest.doJSON(ctx, http.MethodPost, "/email", p.toEmail(req), &resp); err != nil {
		return nil, fmt.Errorf("postmark send to %s: %w", req.To, err)
	}
	if resp.ErrorCode != 0 {
		// Postmark reports per-message errors with a 200 status.
		return nil, reliability.Permanent(fmt.Errorf("postmark error %d: %s", resp.ErrorCode, resp.Message))
	}

	metrics.MessagesSent.WithLabelValues("email", p.Name()).Inc()
	return &SendResult{ProviderMessageID: resp.MessageID, Provider: p.Name(), AcceptedAt: time.Now().UTC()}, nil
}

// SendBatch submits up to 500 messages through the native batch endpoint.
func (p *Postmark) SendBatch(ctx context.Context, reqs []*SendRequest) ([]*SendResult, error) {
	if err := checkBatchLimits(reqs); err != nil {
		return nil, err
	}

	emails := make([]postmarkEmail, len(reqs))
	for i, req := range reqs {
		emails[i] = p.toEmail(req)
	}

	var resp []postmarkResponse
	if err := p.rest.doJSON(ctx, http.MethodPost, "/email/batch", emails, &resp); err != nil {
		return nil, fmt.Errorf("postmark batch of %d: %w", len(reqs), err)
	}
	if len(resp) != len(reqs) {
		return nil, reliability.Permanent(fmt.Errorf("postmark returned %d results for %d messages", len(resp), len(reqs)))
	}

	results := make([]*SendResult, len(resp))
	now := time.Now().UTC()
	for i, r := range resp {
		if r.ErrorCode != 0 {
			continue
		}
		results[i] = &SendResult{ProviderMessageID: r.MessageID, Provider: p.Name(), AcceptedAt: now}
		metrics.MessagesSent.WithLabelValues("email", p.Name()).Inc()
	}
	return results, nil
}
