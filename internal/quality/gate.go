package quality

import (
	"context"
	"strings"
	"sync"

	"github.com/ignite/outreach-engine/internal/metrics"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

// Recommendation is the gate's decision for one outreach.
type Recommendation string

const (
	Allow Recommendation = "allow"
	Warn  Recommendation = "warn"
	Block Recommendation = "block"
)

// Composite weights over the three component scores.
const (
	weightData    = 0.4
	weightMessage = 0.4
	weightTiming  = 0.2
)

// Input is one outreach to score before send.
type Input struct {
	Contact ContactInput
	Message MessageInput
	Timing  TimingInput
}

// Result is the gate's verdict for one outreach.
type Result struct {
	Overall        float64        `json:"overall"`
	DataScore      float64        `json:"data_score"`
	MessageScore   float64        `json:"message_score"`
	TimingScore    float64        `json:"timing_score"`
	Recommendation Recommendation `json:"recommendation"`
	Reasons        []string       `json:"reasons,omitempty"`
}

// BatchStats aggregates a batch scoring run.
type BatchStats struct {
	Allowed int `json:"allowed"`
	Warned  int `json:"warned"`
	Blocked int `json:"blocked"`
}

// Gate combines contact, message, and timing scores into a weighted
// allow/warn/block decision. Hard blocks override the score.
type Gate struct {
	validator      *Validator
	allowThreshold float64
	blockThreshold float64
}

// NewGate creates the quality gate with the given thresholds
// (allow at or above allowThreshold, block below blockThreshold).
func NewGate(validator *Validator, allowThreshold, blockThreshold float64) *Gate {
	if allowThreshold <= 0 {
		allowThreshold = 70
	}
	if blockThreshold <= 0 {
		blockThreshold = 50
	}
	return &Gate{validator: validator, allowThreshold: allowThreshold, blockThreshold: blockThreshold}
}

// ScoreOutreach scores one outreach end to end.
func (g *Gate) ScoreOutreach(ctx context.Context, in Input) Result {
	contact := g.validator.ValidateContact(ctx, in.Contact)
	return g.compose(ctx, in, contact)
}

func (g *Gate) compose(ctx context.Context, in Input, contact ContactResult) Result {
	message := ScoreMessage(in.Message)
	timing := ScoreTiming(in.Timing)

	res := Result{
		DataScore:    contact.Score,
		MessageScore: message.Score,
		TimingScore:  timing,
		Overall:      weightData*contact.Score + weightMessage*message.Score + weightTiming*timing,
	}
	res.Reasons = append(res.Reasons, contact.Warnings...)
	res.Reasons = append(res.Reasons, message.Warnings...)

	hardBlocks := append(append([]string{}, contact.HardBlocks...), message.HardBlocks...)
	switch {
	case len(hardBlocks) > 0:
		res.Recommendation = Block
		res.Reasons = append(hardBlocks, res.Reasons...)
	case res.Overall >= g.allowThreshold:
		res.Recommendation = Allow
	case res.Overall >= g.blockThreshold:
		res.Recommendation = Warn
	default:
		res.Recommendation = Block
	}

	metrics.QualityGateDecisions.WithLabelValues(string(res.Recommendation)).Inc()
	if res.Recommendation == Block {
		logger.Debug("outreach blocked by quality gate",
			"overall", res.Overall, "reasons", strings.Join(res.Reasons, "; "))
	}
	return res
}

// ScoreBatch scores many outreaches, validating each unique contact
// once (keyed by normalized email) and scoring items in parallel.
func (g *Gate) ScoreBatch(ctx context.Context, items []Input) ([]Result, BatchStats) {
	// Validate each unique contact exactly once, then fan out scoring.
	contactResults := make(map[string]ContactResult)
	for _, item := range items {
		key := strings.ToLower(strings.TrimSpace(item.Contact.Email))
		if _, seen := contactResults[key]; !seen {
			contactResults[key] = g.validator.ValidateContact(ctx, item.Contact)
		}
	}

	results := make([]Result, len(items))
	var wg sync.WaitGroup
	sem := make(chan struct{}, 8)
	for i, item := range items {
		wg.Add(1)
		go func(i int, item Input) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			key := strings.ToLower(strings.TrimSpace(item.Contact.Email))
			results[i] = g.compose(ctx, item, contactResults[key])
		}(i, item)
	}
	wg.Wait()

	var stats BatchStats
	for _, r := range results {
		switch r.Recommendation {
		case Allow:
			stats.Allowed++
		case Warn:
			stats.Warned++
		default:
			stats.Blocked++
		}
	}
	return results, stats
}
