package quality

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mxAlways(ctx context.Context, domain string) ([]*net.MX, error) {
	return []*net.MX{{Host: "mx." + domain}}, nil
}

func mxNever(ctx context.Context, domain string) ([]*net.MX, error) {
	return nil, errors.New("no such host")
}

func goodContact() ContactInput {
	return ContactInput{
		Email:     "jane.doe@acme.io",
		FirstName: "Jane",
		LastName:  "Doe",
		Title:     "VP Engineering",
		Company:   "Acme",
		Phone:     "+1 555 0100",
	}
}

func goodMessage() MessageInput {
	return MessageInput{
		Subject:   "Quick question about Acme's pipeline",
		FirstName: "Jane",
		Company:   "Acme",
		Body: "Hi Jane, I noticed Acme recently expanded its engineering team. " +
			"We help teams like yours cut onboarding time in half, and I thought " +
			"it might be relevant to what you are building right now. Teams at " +
			"similar companies saw results within the first month of rollout. " +
			"Would you be open to a short call next week to discuss whether it " +
			"could work for Acme as well?",
	}
}

func tuesdayMorning() TimingInput {
	// 2026-08-25 is a Tuesday.
	return TimingInput{SendAt: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)}
}

func TestGateAllowsStrongOutreach(t *testing.T) {
	gate := NewGate(NewValidator(mxAlways, time.Minute), 70, 50)

	res := gate.ScoreOutreach(context.Background(), Input{
		Contact: goodContact(),
		Message: goodMessage(),
		Timing:  tuesdayMorning(),
	})

	assert.Equal(t, Allow, res.Recommendation)
	assert.GreaterOrEqual(t, res.Overall, 70.0)
	assert.InDelta(t, 100, res.DataScore, 0.01)
	assert.InDelta(t, 100, res.TimingScore, 0.01)
}

func TestGateHardBlocksOverrideScore(t *testing.T) {
	gate := NewGate(NewValidator(mxAlways, time.Minute), 70, 50)

	contact := goodContact()
	contact.Email = "not an address"
	res := gate.ScoreOutreach(context.Background(), Input{
		Contact: contact,
		Message: goodMessage(),
		Timing:  tuesdayMorning(),
	})
	assert.Equal(t, Block, res.Recommendation)
	assert.Contains(t, res.Reasons, "invalid email syntax")

	msg := goodMessage()
	msg.Body = "Hi {{first_name}}, just checking in about [insert product]."
	res = gate.ScoreOutreach(context.Background(), Input{
		Contact: goodContact(),
		Message: msg,
		Timing:  tuesdayMorning(),
	})
	assert.Equal(t, Block, res.Recommendation)
	assert.Contains(t, res.Reasons, "unresolved placeholder text")
}

func TestGateWarnsMiddleBand(t *testing.T) {
	gate := NewGate(NewValidator(mxNever, time.Minute), 70, 50)

	contact := ContactInput{Email: "info@unknown-co.example"}
	msg := MessageInput{Body: "Hey, we should definitely sync up sometime about stuff. Would love to chat about it whenever works, just reply and we can find a time that suits."}
	res := gate.ScoreOutreach(context.Background(), Input{
		Contact: contact,
		Message: msg,
		Timing:  tuesdayMorning(),
	})

	assert.Equal(t, Warn, res.Recommendation)
	assert.GreaterOrEqual(t, res.Overall, 50.0)
	assert.Less(t, res.Overall, 70.0)
}

func TestGateBlocksLowScore(t *testing.T) {
	gate := NewGate(NewValidator(mxNever, time.Minute), 70, 50)

	res := gate.ScoreOutreach(context.Background(), Input{
		Contact: ContactInput{Email: "info@mailinator.com"},
		Message: MessageInput{Body: "Act now! 100% free winner guarantee, click here!"},
		Timing:  TimingInput{SendAt: time.Date(2026, 8, 23, 3, 0, 0, 0, time.UTC)}, // Sunday 3am
	})

	assert.Equal(t, Block, res.Recommendation)
	assert.Less(t, res.Overall, 50.0)
}

func TestMXLookupCached(t *testing.T) {
	var calls int32
	lookup := func(ctx context.Context, domain string) ([]*net.MX, error) {
		atomic.AddInt32(&calls, 1)
		return mxAlways(ctx, domain)
	}
	v := NewValidator(lookup, time.Minute)

	ctx := context.Background()
	v.ValidateContact(ctx, goodContact())
	v.ValidateContact(ctx, goodContact())
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestScoreBatchValidatesUniqueContactsOnce(t *testing.T) {
	var calls int32
	lookup := func(ctx context.Context, domain string) ([]*net.MX, error) {
		atomic.AddInt32(&calls, 1)
		return mxAlways(ctx, domain)
	}
	// Zero TTL forces a fresh lookup per validation, so the counter
	// tracks validations, not cache hits.
	gate := NewGate(NewValidator(lookup, time.Nanosecond), 70, 50)

	items := []Input{
		{Contact: goodContact(), Message: goodMessage(), Timing: tuesdayMorning()},
		{Contact: goodContact(), Message: goodMessage(), Timing: tuesdayMorning()},
		{Contact: goodContact(), Message: MessageInput{Body: "Act now! 100% free winner, click here!"}, Timing: tuesdayMorning()},
	}
	results, stats := gate.ScoreBatch(context.Background(), items)

	require.Len(t, results, 3)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "same contact must validate once")
	assert.Equal(t, 2, stats.Allowed)
	assert.Equal(t, 1, stats.Warned+stats.Blocked)
}

func TestTimingRecency(t *testing.T) {
	at := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	recent := at.Add(-24 * time.Hour)
	spaced := at.Add(-20 * 24 * time.Hour)

	fresh := ScoreTiming(TimingInput{SendAt: at, LastTouchAt: &recent})
	rested := ScoreTiming(TimingInput{SendAt: at, LastTouchAt: &spaced})
	assert.Greater(t, rested, fresh)
	assert.InDelta(t, 100, rested, 0.01)
	assert.InDelta(t, 75, fresh, 0.01)
}
