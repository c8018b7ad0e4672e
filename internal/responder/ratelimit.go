package responder

import (
	"sync"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
)

// rateWindow enforces at most maxPerHour automated responses per lead
// over a rolling hour, in memory. Timestamps are recorded only after a
// successful send, so failed attempts never consume budget.
type rateWindow struct {
	maxPerHour int
	window     time.Duration

	mu    sync.Mutex
	sends map[string][]time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

func newRateWindow(maxPerHour int) *rateWindow {
	if maxPerHour <= 0 {
		maxPerHour = 5
	}
	rw := &rateWindow{
		maxPerHour: maxPerHour,
		window:     time.Hour,
		sends:      make(map[string][]time.Time),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	go rw.cleanupLoop()
	return rw
}

// Allow reports whether the lead still has budget in the current window.
func (rw *rateWindow) Allow(leadEmail string) bool {
	key := domain.NormalizeEmail(leadEmail)
	cutoff := time.Now().Add(-rw.window)

	rw.mu.Lock()
	defer rw.mu.Unlock()
	recent := prune(rw.sends[key], cutoff)
	rw.sends[key] = recent
	return len(recent) < rw.maxPerHour
}

// Record consumes one slot for the lead. Called after a successful send.
func (rw *rateWindow) Record(leadEmail string) {
	key := domain.NormalizeEmail(leadEmail)
	rw.mu.Lock()
	rw.sends[key] = append(rw.sends[key], time.Now())
	rw.mu.Unlock()
}

func prune(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// cleanupLoop drops fully expired leads every 10 minutes so the map
// does not grow without bound.
func (rw *rateWindow) cleanupLoop() {
	defer close(rw.doneCh)
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rw.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-rw.window)
			rw.mu.Lock()
			for key, ts := range rw.sends {
				recent := prune(ts, cutoff)
				if len(recent) == 0 {
					delete(rw.sends, key)
				} else {
					rw.sends[key] = recent
				}
			}
			rw.mu.Unlock()
		}
	}
}

// Stop halts the cleanup task.
func (rw *rateWindow) Stop() {
	close(rw.stopCh)
	<-rw.doneCh
}
