package reliability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestFromStatusCode(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{200, nil},
		{201, nil},
		{408, ErrTransientRemote},
		{425, ErrTransientRemote},
		{429, ErrTransientRemote},
		{500, ErrTransientRemote},
		{503, ErrTransientRemote},
		{409, ErrConflict},
		{400, ErrPermanentRemote},
		{401, ErrPermanentRemote},
		{404, ErrPermanentRemote},
		{422, ErrPermanentRemote},
	}
	for _, tc := range cases {
		err := FromStatusCode(tc.status, "x")
		if tc.want == nil {
			if err != nil {
				t.Fatalf("status %d: expected nil, got %v", tc.status, err)
			}
			continue
		}
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
	}
}

func TestRetryEventualSuccess(t *testing.T) {
	p := RetryPolicy{InitialInterval: time.Millisecond, Multiplier: 2, MaxAttempts: 5}
	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return Transient(fmt.Errorf("flaky"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryStopsOnPermanent(t *testing.T) {
	p := RetryPolicy{InitialInterval: time.Millisecond, MaxAttempts: 5}
	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return Permanent(fmt.Errorf("bad request"))
	})
	if !errors.Is(err, ErrPermanentRemote) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("permanent error must not be retried, got %d attempts", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	p := RetryPolicy{InitialInterval: time.Millisecond, MaxAttempts: 3}
	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return Transient(fmt.Errorf("still down"))
	})
	if !errors.Is(err, ErrTransientRemote) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	cfg := BreakerConfig{
		Window:            time.Second,
		ErrorThresholdPct: 50,
		MinVolume:         10,
		Reset:             50 * time.Millisecond,
	}
	b := NewBreaker("test-provider", cfg)

	// 60% failures over 20 calls: breaker must open.
	for i := 0; i < 20; i++ {
		i := i
		b.Execute(func() error {
			if i%5 < 3 {
				return Transient(fmt.Errorf("429"))
			}
			return nil
		})
	}

	invoked := false
	err := b.Execute(func() error { invoked = true; return nil })
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected ErrBreakerOpen, got %v", err)
	}
	if invoked {
		t.Fatal("open breaker must not invoke the operation")
	}

	// After the reset delay a single probe is admitted; success closes it.
	time.Sleep(70 * time.Millisecond)
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe should be admitted, got %v", err)
	}
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("breaker should be closed after successful probe, got %v", err)
	}
}

func TestLimiterHonorsDeadline(t *testing.T) {
	l := NewLimiter(1) // one token capacity, refill 1/60s

	if !l.Allow() {
		t.Fatal("first token should be available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on exhausted bucket, got %v", err)
	}
}

func TestCallerFastFailsWhenOpen(t *testing.T) {
	c := NewCaller(CallerConfig{
		Name:      "flaky",
		Breaker:   BreakerConfig{Window: time.Second, ErrorThresholdPct: 50, MinVolume: 2, Reset: time.Minute},
		PerMinute: 0,
		Timeout:   time.Second,
		Retry:     RetryPolicy{InitialInterval: time.Millisecond, MaxAttempts: 1},
	})

	for i := 0; i < 3; i++ {
		c.Do(context.Background(), func(ctx context.Context) error {
			return Permanent(fmt.Errorf("boom"))
		})
	}

	calls := 0
	err := c.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected ErrBreakerOpen, got %v", err)
	}
	if calls != 0 {
		t.Fatal("operation must not run while breaker is open")
	}
}

func TestCallerTimeoutBoundsAllAttempts(t *testing.T) {
	c := NewCaller(CallerConfig{
		Name:    "slow",
		Timeout: 50 * time.Millisecond,
		Retry:   RetryPolicy{InitialInterval: time.Millisecond, MaxAttempts: 5},
	})

	attempts := 0
	start := time.Now()
	err := c.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		<-ctx.Done()
		return ctx.Err()
	})
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTransientRemote) {
		t.Fatalf("deadline should classify as transient, got %v", err)
	}
	// One deadline covers the whole retried call, so a hung provider
	// costs at most the timeout, not attempts times the timeout.
	if elapsed > 200*time.Millisecond {
		t.Fatalf("call held for %v, deadline must cap the full retry loop", elapsed)
	}
	if attempts > 2 {
		t.Fatalf("expired deadline must stop further attempts, got %d", attempts)
	}
}
