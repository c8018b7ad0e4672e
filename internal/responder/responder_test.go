package responder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-engine/internal/config"
	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/provider"
	"github.com/ignite/outreach-engine/internal/repository/postgres"
)

type memThreadStore struct {
	mu       sync.Mutex
	threads  map[string]*domain.ConversationThread
	messages map[string][]*domain.ConversationMessage
	reviews  []string
}

func newMemThreadStore() *memThreadStore {
	return &memThreadStore{
		threads:  make(map[string]*domain.ConversationThread),
		messages: make(map[string][]*domain.ConversationMessage),
	}
}

func (s *memThreadStore) GetOrCreateThread(ctx context.Context, leadEmail, campaignID string, channel domain.Channel) (*domain.ConversationThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := domain.NormalizeEmail(leadEmail) + "|" + campaignID
	if t, ok := s.threads[key]; ok {
		cp := *t
		return &cp, nil
	}
	t := &domain.ConversationThread{
		ID:         fmt.Sprintf("thread-%d", len(s.threads)+1),
		LeadEmail:  domain.NormalizeEmail(leadEmail),
		CampaignID: campaignID,
		Channel:    channel,
	}
	s.threads[key] = t
	cp := *t
	return &cp, nil
}

func (s *memThreadStore) AppendMessage(ctx context.Context, m *domain.ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ThreadID] = append(s.messages[m.ThreadID], m)
	return nil
}

func (s *memThreadStore) History(ctx context.Context, threadID string, limit int) ([]*domain.ConversationMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[threadID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *memThreadStore) IncrementAIResponses(ctx context.Context, threadID string, cap int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.threads {
		if t.ID == threadID {
			if t.AIResponsesCount >= cap {
				return 0, postgres.ErrNotFound
			}
			t.AIResponsesCount++
			return t.AIResponsesCount, nil
		}
	}
	return 0, postgres.ErrNotFound
}

func (s *memThreadStore) EnqueueManualReview(ctx context.Context, threadID, reason, draft, replyBody string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews = append(s.reviews, reason)
	return nil
}

func (s *memThreadStore) messageCount(threadID string, dir domain.MessageDirection) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages[threadID] {
		if m.Direction == dir {
			n++
		}
	}
	return n
}

type fakeGen struct {
	reply string
	err   error
}

func (g *fakeGen) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

type recordingEmail struct {
	mu   sync.Mutex
	sent []*provider.SendRequest
	err  error
}

func (e *recordingEmail) Name() string { return "recording" }

func (e *recordingEmail) Send(ctx context.Context, req *provider.SendRequest) (*provider.SendResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	e.sent = append(e.sent, req)
	return &provider.SendResult{ProviderMessageID: "m-1", Provider: "recording"}, nil
}

func (e *recordingEmail) SendBatch(ctx context.Context, reqs []*provider.SendRequest) ([]*provider.SendResult, error) {
	out := make([]*provider.SendResult, len(reqs))
	for i, req := range reqs {
		res, err := e.Send(ctx, req)
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return out, nil
}

type fakeVideo struct {
	calls chan *provider.VideoRequest
}

func (f *fakeVideo) Name() string { return "fakevideo" }

func (f *fakeVideo) GenerateVideo(ctx context.Context, req *provider.VideoRequest) (*provider.VideoResult, error) {
	f.calls <- req
	return &provider.VideoResult{VideoID: "vid-1"}, nil
}

func (f *fakeVideo) GetVideo(ctx context.Context, id string) (*provider.VideoResult, error) {
	return &provider.VideoResult{VideoID: id, Ready: true}, nil
}

func testKnowledge() *Knowledge {
	return &Knowledge{
		SenderName:   "Sam Rivera",
		SenderTitle:  "Account Executive",
		CompanyName:  "Ignite",
		ProductPitch: "Ignite automates outbound pipelines end to end.",
		BattleCards:  map[string]string{"outreachly": "We integrate natively with the CRM."},
		CaseStudies:  []string{"Acme cut ramp time by 40%."},
		MeetingLink:  "https://cal.example/sam",
	}
}

func testConfig() config.ResponderConfig {
	return config.ResponderConfig{
		Enabled:           true,
		RateLimitPerHour:  2,
		MaxPerThread:      2,
		HumanDelayMs:      1,
		AITimeoutMs:       1000,
		ExcludedIntents:   []string{"out_of_office", "not_interested"},
		VideoLeadScoreMin: 0.7,
	}
}

const goodDraft = "Thanks for getting back to me! Happy to walk you through how it works. Would Tuesday or Wednesday afternoon suit you for a quick call?"

func newTestResponder(store ThreadStore, gen *fakeGen, email *recordingEmail, cfg config.ResponderConfig) *Responder {
	r := New(store, gen, email, nil, testKnowledge(), cfg, "sam@ignite.example", "Sam Rivera")
	return r
}

func TestReplyPipelineSends(t *testing.T) {
	store := newMemThreadStore()
	email := &recordingEmail{}
	r := newTestResponder(store, &fakeGen{reply: goodDraft}, email, testConfig())
	defer r.Shutdown()

	out, err := r.HandleReply(context.Background(), Inbound{
		LeadEmail:  "jane@acme.io",
		LeadName:   "Jane Doe",
		CampaignID: "c-1",
		Subject:    "Quick question",
		Body:       "Sounds interesting, tell me more about pricing?",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, out)

	require.Len(t, email.sent, 1)
	assert.Equal(t, "Re: Quick question", email.sent[0].Subject)
	assert.Equal(t, goodDraft, email.sent[0].TextBody)

	assert.Equal(t, 1, store.messageCount("thread-1", domain.DirectionInbound))
	assert.Equal(t, 1, store.messageCount("thread-1", domain.DirectionOutbound))
}

func TestPerThreadCap(t *testing.T) {
	store := newMemThreadStore()
	email := &recordingEmail{}
	cfg := testConfig()
	cfg.RateLimitPerHour = 100
	r := newTestResponder(store, &fakeGen{reply: goodDraft}, email, cfg)
	defer r.Shutdown()

	ctx := context.Background()
	in := Inbound{LeadEmail: "jane@acme.io", CampaignID: "c-1", Body: "Tell me more please, this is interesting."}

	for i := 0; i < 2; i++ {
		out, err := r.HandleReply(ctx, in)
		require.NoError(t, err)
		require.Equal(t, OutcomeSent, out)
	}

	out, err := r.HandleReply(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCapReached, out)
	assert.Len(t, email.sent, 2)
	// The inbound message is still recorded even when capped.
	assert.Equal(t, 3, store.messageCount("thread-1", domain.DirectionInbound))
}

func TestPerLeadRateLimit(t *testing.T) {
	store := newMemThreadStore()
	email := &recordingEmail{}
	cfg := testConfig()
	cfg.MaxPerThread = 100
	r := newTestResponder(store, &fakeGen{reply: goodDraft}, email, cfg)
	defer r.Shutdown()

	ctx := context.Background()
	// Same lead across two campaigns shares the hourly budget of 2.
	for i, campaign := range []string{"c-1", "c-2"} {
		out, err := r.HandleReply(ctx, Inbound{LeadEmail: "jane@acme.io", CampaignID: campaign, Body: "Tell me more please, interested."})
		require.NoError(t, err, "send %d", i)
		require.Equal(t, OutcomeSent, out)
	}

	out, err := r.HandleReply(ctx, Inbound{LeadEmail: "jane@acme.io", CampaignID: "c-3", Body: "Tell me more please, interested."})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRateLimited, out)
}

func TestExcludedIntentRecordsInboundOnly(t *testing.T) {
	store := newMemThreadStore()
	email := &recordingEmail{}
	r := newTestResponder(store, &fakeGen{reply: goodDraft}, email, testConfig())
	defer r.Shutdown()

	out, err := r.HandleReply(context.Background(), Inbound{
		LeadEmail:  "jane@acme.io",
		CampaignID: "c-1",
		Body:       "I am out of office until Monday with limited access to email.",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeExcludedIntent, out)
	assert.Empty(t, email.sent)
	assert.Equal(t, 1, store.messageCount("thread-1", domain.DirectionInbound))
}

func TestGenerationFailureGoesToManualReview(t *testing.T) {
	store := newMemThreadStore()
	email := &recordingEmail{}
	r := newTestResponder(store, &fakeGen{err: errors.New("model timeout")}, email, testConfig())
	defer r.Shutdown()

	out, err := r.HandleReply(context.Background(), Inbound{
		LeadEmail: "jane@acme.io", CampaignID: "c-1", Body: "Interested, tell me more.",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeGenerationFailed, out)
	require.Len(t, store.reviews, 1)
	assert.Contains(t, store.reviews[0], "generation failed")
	assert.Empty(t, email.sent)
}

func TestInvalidDraftIsBlocked(t *testing.T) {
	store := newMemThreadStore()
	email := &recordingEmail{}
	r := newTestResponder(store, &fakeGen{reply: "I guarantee you will double revenue, that is a promise you can hold us to in writing."}, email, testConfig())
	defer r.Shutdown()

	out, err := r.HandleReply(context.Background(), Inbound{
		LeadEmail: "jane@acme.io", CampaignID: "c-1", Body: "Interested, tell me more.",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, out)
	require.Len(t, store.reviews, 1)
	assert.Contains(t, store.reviews[0], "output validation")
	assert.Empty(t, email.sent)
}

func TestHumanReviewGate(t *testing.T) {
	store := newMemThreadStore()
	email := &recordingEmail{}
	cfg := testConfig()
	cfg.RequireHumanReview = true
	r := newTestResponder(store, &fakeGen{reply: goodDraft}, email, cfg)
	defer r.Shutdown()

	out, err := r.HandleReply(context.Background(), Inbound{
		LeadEmail: "jane@acme.io", CampaignID: "c-1", Body: "Interested, tell me more.",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeHumanReview, out)
	assert.Empty(t, email.sent)
	require.Len(t, store.reviews, 1)
}

func TestVideoTriggersOnHighValueIntentsOnly(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		score  float64
		expect bool
	}{
		{"meeting request, low score", "Can we schedule a call on Thursday?", 0.1, true},
		{"interested above threshold", "Sounds interesting, tell me more.", 0.9, true},
		{"interested below threshold", "Sounds interesting, tell me more.", 0.3, false},
		{"question with high score", "How does the integration work?", 0.9, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemThreadStore()
			email := &recordingEmail{}
			video := &fakeVideo{calls: make(chan *provider.VideoRequest, 1)}
			r := New(store, &fakeGen{reply: goodDraft}, email, video,
				testKnowledge(), testConfig(), "sam@ignite.example", "Sam Rivera")
			defer r.Shutdown()

			out, err := r.HandleReply(context.Background(), Inbound{
				LeadEmail:  "jane@acme.io",
				LeadName:   "Jane Doe",
				CampaignID: "c-1",
				Body:       tc.body,
				LeadScore:  tc.score,
			})
			require.NoError(t, err)
			require.Equal(t, OutcomeSent, out)

			if tc.expect {
				select {
				case req := <-video.calls:
					assert.Equal(t, "jane@acme.io", req.LeadEmail)
				case <-time.After(2 * time.Second):
					t.Fatal("expected a video generation call")
				}
			} else {
				select {
				case <-video.calls:
					t.Fatal("no video should be generated for this reply")
				case <-time.After(50 * time.Millisecond):
				}
			}
		})
	}
}

func TestClassifyIntents(t *testing.T) {
	cases := []struct {
		body   string
		intent domain.Intent
	}{
		{"I'm out of the office until next week.", domain.IntentOutOfOffice},
		{"Not interested, please remove me from your list.", domain.IntentNotInterested},
		{"Can we schedule a call on Thursday?", domain.IntentMeetingRequest},
		{"We already use Outreachly and we're under contract.", domain.IntentObjection},
		{"How much does it cost per seat?", domain.IntentQuestion},
		{"Sounds interesting, tell me more.", domain.IntentInterested},
		{"Busy quarter, circle back in January.", domain.IntentFollowUp},
		{"ok", domain.IntentUnknown},
	}
	for _, tc := range cases {
		got := Classify(tc.body)
		assert.Equal(t, tc.intent, got.Intent, "body %q", tc.body)
	}
}

func TestClassifyExtractsCompetitor(t *testing.T) {
	got := Classify("We already use Outreachly for this.")
	assert.Equal(t, domain.IntentObjection, got.Intent)
	assert.Equal(t, domain.SentimentObjection, got.Sentiment)
	assert.Equal(t, "Outreachly", got.Competitor)
}
