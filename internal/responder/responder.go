// Package responder turns inbound campaign replies into rate-limited,
// validated, AI-generated outbound responses.
package responder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/outreach-engine/internal/ai"
	"github.com/ignite/outreach-engine/internal/config"
	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/metrics"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/provider"
	"github.com/ignite/outreach-engine/internal/repository/postgres"
)

// ThreadStore is the conversation persistence the responder needs.
type ThreadStore interface {
	GetOrCreateThread(ctx context.Context, leadEmail, campaignID string, channel domain.Channel) (*domain.ConversationThread, error)
	AppendMessage(ctx context.Context, m *domain.ConversationMessage) error
	History(ctx context.Context, threadID string, limit int) ([]*domain.ConversationMessage, error)
	IncrementAIResponses(ctx context.Context, threadID string, cap int) (int, error)
	EnqueueManualReview(ctx context.Context, threadID, reason, draft, replyBody string) error
}

// Outcome describes how the pipeline disposed of one inbound reply.
type Outcome string

const (
	OutcomeSent             Outcome = "sent"
	OutcomeRateLimited      Outcome = "rate_limited"
	OutcomeCapReached       Outcome = "cap_reached"
	OutcomeExcludedIntent   Outcome = "excluded_intent"
	OutcomeGenerationFailed Outcome = "generation_failed"
	OutcomeBlocked          Outcome = "blocked"
	OutcomeHumanReview      Outcome = "human_review"
	OutcomeSendFailed       Outcome = "send_failed"
	OutcomeDisabled         Outcome = "disabled"
)

const historyLimit = 6

// Inbound is one reply entering the pipeline.
type Inbound struct {
	LeadEmail  string
	LeadName   string
	CampaignID string
	Subject    string
	Body       string
	LeadScore  float64
}

// Responder runs the reply pipeline: classify, persist, generate,
// validate, and send under per-lead and per-thread limits.
type Responder struct {
	store     ThreadStore
	generate  ai.Generator
	email     provider.EmailProvider
	video     provider.VideoProvider
	knowledge *Knowledge
	cfg       config.ResponderConfig
	rate      *rateWindow
	excluded  map[domain.Intent]bool
	fromEmail string
	fromName  string
}

// New creates the responder. video may be nil when personalized video
// is not configured.
func New(store ThreadStore, gen ai.Generator, email provider.EmailProvider, video provider.VideoProvider,
	knowledge *Knowledge, cfg config.ResponderConfig, fromEmail, fromName string) *Responder {

	excluded := make(map[domain.Intent]bool, len(cfg.ExcludedIntents))
	for _, i := range cfg.ExcludedIntents {
		excluded[domain.Intent(i)] = true
	}
	return &Responder{
		store:     store,
		generate:  gen,
		email:     email,
		video:     video,
		knowledge: knowledge,
		cfg:       cfg,
		rate:      newRateWindow(cfg.RateLimitPerHour),
		excluded:  excluded,
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

// Shutdown stops the background rate-window cleanup.
func (r *Responder) Shutdown() { r.rate.Stop() }

// HandleReply runs the full pipeline for one inbound reply.
func (r *Responder) HandleReply(ctx context.Context, in Inbound) (Outcome, error) {
	if !r.cfg.Enabled {
		return OutcomeDisabled, nil
	}

	if !r.rate.Allow(in.LeadEmail) {
		logger.Info("responder rate limit hit", "campaign_id", in.CampaignID)
		return r.done(OutcomeRateLimited), nil
	}

	thread, err := r.store.GetOrCreateThread(ctx, in.LeadEmail, in.CampaignID, domain.ChannelEmail)
	if err != nil {
		return "", err
	}

	cls := Classify(in.Body)

	inbound := &domain.ConversationMessage{
		ThreadID:       thread.ID,
		Direction:      domain.DirectionInbound,
		Subject:        in.Subject,
		Content:        in.Body,
		Sentiment:      cls.Sentiment,
		DetectedIntent: cls.Intent,
	}
	if err := r.store.AppendMessage(ctx, inbound); err != nil {
		return "", err
	}

	if thread.AIResponsesCount >= r.cfg.MaxPerThread {
		logger.Info("thread reply cap reached", "thread_id", thread.ID, "count", thread.AIResponsesCount)
		return r.done(OutcomeCapReached), nil
	}
	if r.excluded[cls.Intent] {
		logger.Info("intent excluded from automated reply",
			"thread_id", thread.ID, "intent", string(cls.Intent))
		return r.done(OutcomeExcludedIntent), nil
	}

	draft, err := r.generateReply(ctx, thread.ID, in, cls)
	if err != nil {
		reason := fmt.Sprintf("generation failed: %v", err)
		if reviewErr := r.store.EnqueueManualReview(ctx, thread.ID, reason, "", in.Body); reviewErr != nil {
			logger.Error("manual review enqueue failed", "thread_id", thread.ID, "error", reviewErr.Error())
		}
		logger.Warn("reply generation failed, queued for manual review", "thread_id", thread.ID, "error", err.Error())
		return r.done(OutcomeGenerationFailed), nil
	}

	if err := validateOutput(draft); err != nil {
		reason := fmt.Sprintf("output validation: %v", err)
		if reviewErr := r.store.EnqueueManualReview(ctx, thread.ID, reason, draft, in.Body); reviewErr != nil {
			logger.Error("manual review enqueue failed", "thread_id", thread.ID, "error", reviewErr.Error())
		}
		logger.Warn("generated reply blocked", "thread_id", thread.ID, "reason", err.Error())
		return r.done(OutcomeBlocked), nil
	}

	if r.cfg.RequireHumanReview {
		if err := r.store.EnqueueManualReview(ctx, thread.ID, "human review required", draft, in.Body); err != nil {
			return "", err
		}
		return r.done(OutcomeHumanReview), nil
	}

	if delay := r.cfg.HumanDelay(); delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	// Reserve a cap slot just before the send; the guard in the store
	// keeps two concurrent replies from both passing.
	if _, err := r.store.IncrementAIResponses(ctx, thread.ID, r.cfg.MaxPerThread); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return r.done(OutcomeCapReached), nil
		}
		return "", err
	}

	subject := in.Subject
	if subject != "" && !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	_, err = r.email.Send(ctx, &provider.SendRequest{
		To:          in.LeadEmail,
		FromEmail:   r.fromEmail,
		FromName:    r.fromName,
		Subject:     subject,
		TextBody:    draft,
		CampaignRef: in.CampaignID,
	})
	if err != nil {
		reason := fmt.Sprintf("send failed: %v", err)
		if reviewErr := r.store.EnqueueManualReview(ctx, thread.ID, reason, draft, in.Body); reviewErr != nil {
			logger.Error("manual review enqueue failed", "thread_id", thread.ID, "error", reviewErr.Error())
		}
		return r.done(OutcomeSendFailed), fmt.Errorf("send reply: %w", err)
	}

	outbound := &domain.ConversationMessage{
		ThreadID:  thread.ID,
		Direction: domain.DirectionOutbound,
		Subject:   subject,
		Content:   draft,
	}
	if err := r.store.AppendMessage(ctx, outbound); err != nil {
		logger.Error("outbound message persist failed", "thread_id", thread.ID, "error", err.Error())
	}
	r.rate.Record(in.LeadEmail)

	if r.video != nil && highValueIntent(cls.Intent, in.LeadScore, r.cfg.VideoLeadScoreMin) {
		go r.generateVideo(in, cls)
	}

	logger.Info("automated reply sent", "thread_id", thread.ID, "intent", string(cls.Intent))
	return r.done(OutcomeSent), nil
}

// highValueIntent reports whether the reply warrants a personalized
// video: a meeting request, or an interested lead scoring at or above
// the configured minimum. Other intents never trigger one.
func highValueIntent(intent domain.Intent, score, min float64) bool {
	switch intent {
	case domain.IntentMeetingRequest:
		return true
	case domain.IntentInterested:
		return score >= min
	}
	return false
}

func (r *Responder) done(o Outcome) Outcome {
	metrics.AIResponses.WithLabelValues(string(o)).Inc()
	return o
}

func (r *Responder) generateReply(ctx context.Context, threadID string, in Inbound, cls Classification) (string, error) {
	history, err := r.store.History(ctx, threadID, historyLimit)
	if err != nil {
		return "", err
	}

	system := r.systemPrompt(cls)
	user := r.userPrompt(in, history, cls)

	genCtx, cancel := context.WithTimeout(ctx, r.cfg.AITimeout())
	defer cancel()
	return r.generate.Generate(genCtx, system, user)
}

func (r *Responder) systemPrompt(cls Classification) string {
	var sb strings.Builder
	sb.WriteString("You are " + r.knowledge.SenderName + ", " + r.knowledge.SenderTitle +
		" at " + r.knowledge.CompanyName + ", replying to a sales outreach response over email.\n")
	sb.WriteString("Write a short, natural, professional reply in plain text. No subject line, no markdown.\n")
	sb.WriteString("Never invent pricing, commitments, or guarantees. Never mention being an AI.\n")
	sb.WriteString(guidance(cls.Intent) + "\n\n")
	sb.WriteString(r.knowledge.Bundle(cls.Intent, cls.Competitor))
	if r.knowledge.SignatureLine != "" {
		sb.WriteString("\nSign off as: " + r.knowledge.SignatureLine + "\n")
	}
	return sb.String()
}

func (r *Responder) userPrompt(in Inbound, history []*domain.ConversationMessage, cls Classification) string {
	var sb strings.Builder
	if len(history) > 0 {
		sb.WriteString("Conversation so far:\n")
		for _, m := range history {
			role := "Lead"
			if m.Direction == domain.DirectionOutbound {
				role = "You"
			}
			sb.WriteString(role + ": " + m.Content + "\n")
		}
		sb.WriteString("\n")
	}
	name := in.LeadName
	if name == "" {
		name = "the lead"
	}
	sb.WriteString(fmt.Sprintf("New reply from %s (detected intent: %s):\n%s\n", name, cls.Intent, in.Body))
	sb.WriteString("\nWrite your reply:")
	return sb.String()
}

// generateVideo kicks off a personalized video for a hot lead. Best
// effort: failures are logged and never affect the reply pipeline.
func (r *Responder) generateVideo(in Inbound, cls Classification) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	script := fmt.Sprintf("Hi %s, thanks for getting back to us. %s",
		firstWord(in.LeadName), r.knowledge.ProductPitch)
	result, err := r.video.GenerateVideo(ctx, &provider.VideoRequest{
		Script:    script,
		LeadEmail: in.LeadEmail,
	})
	if err != nil {
		logger.Warn("lead video generation failed", "campaign_id", in.CampaignID, "error", err.Error())
		return
	}
	logger.Info("lead video generation started", "video_id", result.VideoID, "campaign_id", in.CampaignID)
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}
