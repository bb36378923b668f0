package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gauntlet/worker/internal/hotstore"
)

// flakyKV counts Set calls and can be told to start failing them, which
// is how a dropped hot-store connection looks to the renewal loop.
type flakyKV struct {
	hotstore.Store
	sets    atomic.Int32
	failing atomic.Bool
}

func (kv *flakyKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	kv.sets.Add(1)
	if kv.failing.Load() {
		return errors.New("hotstore: connection reset")
	}
	return kv.Store.Set(ctx, key, value, ttl)
}

func newLeaseFixture(t *testing.T, instanceID string, clk clockwork.Clock) (*Lease, *flakyKV) {
	t.Helper()
	store := hotstore.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	kv := &flakyKV{Store: store}
	return NewLease(kv, instanceID, 15*time.Second, 5*time.Second, clk), kv
}

func TestLeaseAcquireAndRelease(t *testing.T) {
	ctx := context.Background()
	clk := clockwork.NewFakeClockAt(testStart)
	lease, kv := newLeaseFixture(t, "worker-a", clk)

	leaseCtx, release, ok, err := lease.Acquire(ctx, 4)
	require.NoError(t, err)
	require.True(t, ok)

	holder, err := kv.Get(ctx, hotstore.LeaseKey(4))
	require.NoError(t, err)
	assert.Equal(t, "worker-a", string(holder))

	release()
	select {
	case <-leaseCtx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("release must cancel the lease context")
	}

	_, err = kv.Get(ctx, hotstore.LeaseKey(4))
	assert.True(t, errors.Is(err, hotstore.ErrNotFound), "release must delete the key")

	// Releasing twice is harmless.
	release()
}

func TestLeaseConflictBacksOff(t *testing.T) {
	ctx := context.Background()
	clk := clockwork.NewFakeClockAt(testStart)
	lease, kv := newLeaseFixture(t, "worker-b", clk)

	require.NoError(t, kv.Set(ctx, hotstore.LeaseKey(4), []byte("worker-a"), time.Minute))

	_, _, ok, err := lease.Acquire(ctx, 4)
	require.NoError(t, err)
	assert.False(t, ok)

	holder, err := kv.Get(ctx, hotstore.LeaseKey(4))
	require.NoError(t, err)
	assert.Equal(t, "worker-a", string(holder), "a contender must not overwrite the holder")
}

func TestLeaseRetakesOwnKeyAfterRestart(t *testing.T) {
	ctx := context.Background()
	clk := clockwork.NewFakeClockAt(testStart)
	lease, kv := newLeaseFixture(t, "worker-a", clk)

	// A pinned instance id survives the process; its old key may too.
	require.NoError(t, kv.Set(ctx, hotstore.LeaseKey(4), []byte("worker-a"), time.Minute))

	_, release, ok, err := lease.Acquire(ctx, 4)
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}

func TestLeaseRenewalRefreshesKey(t *testing.T) {
	ctx := context.Background()
	clk := clockwork.NewFakeClockAt(testStart)
	lease, kv := newLeaseFixture(t, "worker-a", clk)

	leaseCtx, release, ok, err := lease.Acquire(ctx, 4)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	clk.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return kv.sets.Load() >= 1 },
		5*time.Second, 5*time.Millisecond, "renewal should rewrite the key each refresh interval")

	select {
	case <-leaseCtx.Done():
		t.Fatal("successful renewal must keep the lease context alive")
	default:
	}
}

func TestLeaseRenewalFailureYields(t *testing.T) {
	ctx := context.Background()
	clk := clockwork.NewFakeClockAt(testStart)
	lease, kv := newLeaseFixture(t, "worker-a", clk)

	leaseCtx, release, ok, err := lease.Acquire(ctx, 4)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	kv.failing.Store(true)
	clk.Advance(5 * time.Second)

	select {
	case <-leaseCtx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("failed renewal must cancel the lease context")
	}
}

func TestLeaseRenewalYieldsWhenKeyVanishes(t *testing.T) {
	ctx := context.Background()
	clk := clockwork.NewFakeClockAt(testStart)
	lease, kv := newLeaseFixture(t, "worker-a", clk)

	leaseCtx, release, ok, err := lease.Acquire(ctx, 4)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	// The key expiring (or being deleted out of band) means the lease is
	// gone; renewal must notice and stop instead of writing a fresh one.
	require.NoError(t, kv.Del(ctx, hotstore.LeaseKey(4)))
	clk.Advance(5 * time.Second)

	select {
	case <-leaseCtx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("renewal of a vanished key must cancel the lease context")
	}

	_, err = kv.Get(ctx, hotstore.LeaseKey(4))
	assert.True(t, errors.Is(err, hotstore.ErrNotFound),
		"renewal must not resurrect a lost lease")
}

func TestLeaseRenewalYieldsWhenLeaseStolen(t *testing.T) {
	ctx := context.Background()
	clk := clockwork.NewFakeClockAt(testStart)
	lease, kv := newLeaseFixture(t, "worker-a", clk)

	leaseCtx, release, ok, err := lease.Acquire(ctx, 4)
	require.NoError(t, err)
	require.True(t, ok)

	// worker-b took over after a TTL lapse; worker-a must stand down.
	require.NoError(t, kv.Set(ctx, hotstore.LeaseKey(4), []byte("worker-b"), time.Minute))
	clk.Advance(5 * time.Second)

	select {
	case <-leaseCtx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("renewal against a stolen lease must cancel the lease context")
	}

	// A late release must leave the successor's key alone.
	release()
	holder, err := kv.Get(ctx, hotstore.LeaseKey(4))
	require.NoError(t, err)
	assert.Equal(t, "worker-b", string(holder))
}
