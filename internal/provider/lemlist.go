package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/outreach-engine/internal/metrics"
	"github.com/ignite/outreach-engine/internal/reliability"
)

// Lemlist is the primary email provider.
type Lemlist struct {
	rest *restClient
}

// NewLemlist creates the Lemlist adapter. The API key goes in the basic
// auth password with an empty username.
func NewLemlist(baseURL, apiKey string, caller *reliability.Caller) *Lemlist {
	return &Lemlist{
		rest: newRESTClient("lemlist", baseURL, caller, func(req *http.Request) {
			req.SetBasicAuth("", apiKey)
		}),
	}
}

// Name identifies this provider in events and logs.
func (l *Lemlist) Name() string { return "lemlist" }

type lemlistSendRequest struct {
	Email     string            `json:"email"`
	FromEmail string            `json:"fromEmail"`
	FromName  string            `json:"fromName,omitempty"`
	Subject   string            `json:"subject"`
	HTML      string            `json:"html"`
	Text      string            `json:"text,omitempty"`
	Campaign  string            `json:"campaignId,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

type lemlistSendResponse struct {
	ID string `json:"_id"`
}

// Send submits one email.
func (l *Lemlist) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	payload := lemlistSendRequest{
		Email:     req.To,
		FromEmail: req.FromEmail,
		FromName:  req.FromName,
		Subject:   req.Subject,
		HTML:      req.HTMLBody,
		Text:      req.TextBody,
		Campaign:  req.CampaignRef,
		Variables: req.Metadata,
	}

	var resp lemlistSendResponse
	if err := l.rest.doJSON(ctx, http.MethodPost, "/emails", payload, &resp); err != nil {
		return nil, fmt.Errorf("lemlist send to %s: %w", req.To, err)
	}
	if resp.ID == "" {
		return nil, reliability.Permanent(fmt.Errorf("lemlist accepted send without a message id"))
	}

	metrics.MessagesSent.WithLabelValues("email", l.Name()).Inc()
	return &SendResult{ProviderMessageID: resp.ID, Provider: l.Name(), AcceptedAt: time.Now().UTC()}, nil
}

// SendBatch has no native batch endpoint at Lemlist, so it loops. The
// first error aborts the remainder; results stay positional.
func (l *Lemlist) SendBatch(ctx context.Context, reqs []*SendRequest) ([]*SendResult, error) {
	if err := checkBatchLimits(reqs); err != nil {
		return nil, err
	}
	results := make([]*SendResult, 0, len(reqs))
	for _, req := range reqs {
		res, err := l.Send(ctx, req)
		if err != nil {
			return results, fmt.Errorf("batch aborted at message %d: %w", len(results), err)
		}
		results = append(results, res)
	}
	return results, nil
}

// checkBatchLimits rejects batches over the recipient or payload size caps
// before any message reaches the wire.
func checkBatchLimits(reqs []*SendRequest) error {
	if len(reqs) == 0 {
		return reliability.Validationf("batch is empty")
	}
	if len(reqs) > MaxBatchRecipients {
		return reliability.Validationf("batch of %d exceeds %d recipient limit", len(reqs), MaxBatchRecipients)
	}
	var total int
	for _, req := range reqs {
		total += len(req.HTMLBody) + len(req.TextBody) + len(req.Subject)
	}
	if total > MaxBatchBytes {
		return reliability.Validationf("batch payload of %d bytes exceeds %d byte limit", total, MaxBatchBytes)
	}
	return nil
}
