package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestLeaseMutualExclusion(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	a := NewLease(client, "campaign-tick", time.Minute)
	b := NewLease(client, "campaign-tick", time.Minute)

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire a held lease")

	require.NoError(t, a.Release(ctx))

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "released lease should be acquirable")
}

func TestReleaseOnlyByHolder(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	a := NewLease(client, "recovery", time.Minute)
	b := NewLease(client, "recovery", time.Minute)

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// b never acquired, so its release must not free a's lease.
	require.NoError(t, b.Release(ctx))

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExtendLostLease(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	a := NewLease(client, "tick", time.Minute)
	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.Extend(ctx))

	require.NoError(t, a.Release(ctx))
	assert.Error(t, a.Extend(ctx), "extending a released lease must fail")
}

func TestRunExclusive(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	a := NewLease(client, "tick", time.Minute)
	b := NewLease(client, "tick", time.Minute)

	ran := false
	held, err := a.RunExclusive(ctx, func(ctx context.Context) error {
		ran = true
		skipped, err := b.RunExclusive(ctx, func(ctx context.Context) error {
			t.Fatal("second runner must be skipped while lease is held")
			return nil
		})
		require.NoError(t, err)
		assert.False(t, skipped)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, held)
	assert.True(t, ran)

	// Lease released after the run.
	ok, err := b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
