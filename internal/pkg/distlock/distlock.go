// Package distlock provides a Redis-backed mutual exclusion lease used to
// keep scheduled work (campaign ticks, stale-lease recovery) running on a
// single instance at a time.
package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when this holder still owns it.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// extendScript refreshes the TTL only when this holder still owns the key.
var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Lease is a single-holder lock with a TTL. The holder token is random so a
// crashed holder's expired lease cannot be released by its replacement.
type Lease struct {
	client *redis.Client
	key    string
	holder string
	ttl    time.Duration
}

// NewLease creates a lease for the named task.
func NewLease(client *redis.Client, task string, ttl time.Duration) *Lease {
	b := make([]byte, 16)
	rand.Read(b)
	return &Lease{
		client: client,
		key:    "lease:" + task,
		holder: hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// TryAcquire attempts to take the lease. Returns false when another
// instance holds it.
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.holder, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	return ok, nil
}

// Release gives the lease up if this holder still owns it.
func (l *Lease) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.holder).Result()
	return err
}

// Extend pushes the expiry out for a long-running holder. Returns an error
// when the lease was lost.
func (l *Lease) Extend(ctx context.Context) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.holder, l.ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("lease %s no longer held", l.key)
	}
	return nil
}

// RunExclusive runs fn only if the lease can be taken, releasing it after.
// A heartbeat extends the lease at half-TTL intervals while fn runs, so a
// tick that outlives the TTL is not stolen by another instance.
func (l *Lease) RunExclusive(ctx context.Context, fn func(ctx context.Context) error) (bool, error) {
	ok, err := l.TryAcquire(ctx)
	if err != nil || !ok {
		return false, err
	}
	defer l.Release(context.WithoutCancel(ctx))

	hbCtx, stopHB := context.WithCancel(ctx)
	defer stopHB()
	go func() {
		ticker := time.NewTicker(l.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				l.Extend(hbCtx)
			}
		}
	}()

	return true, fn(ctx)
}
