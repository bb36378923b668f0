package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gauntlet/worker/internal/hotstore"
)

// Lease guards one session so a single instance drives it when several
// workers run behind the same deployment. Backed by SetNX + TTL on
// worker:active:{sessionID}; renewal re-reads the key and refreshes it
// only while this instance is still the holder.
type Lease struct {
	store      hotstore.KV
	instanceID string
	ttl        time.Duration
	refresh    time.Duration
	clock      clockwork.Clock
}

func NewLease(store hotstore.KV, instanceID string, ttl, refresh time.Duration, clk clockwork.Clock) *Lease {
	return &Lease{store: store, instanceID: instanceID, ttl: ttl, refresh: refresh, clock: clk}
}

// Acquire takes the session lease. ok=false means another instance holds
// it. On success the returned context stays live while renewals succeed;
// a failed or lost renewal cancels it so the holder stops driving the
// session. The release func stops renewal and deletes the key if this
// instance still holds it.
func (l *Lease) Acquire(ctx context.Context, sessionID int64) (context.Context, func(), bool, error) {
	key := hotstore.LeaseKey(sessionID)

	set, err := l.store.SetNX(ctx, key, []byte(l.instanceID), l.ttl)
	if err != nil {
		return nil, nil, false, fmt.Errorf("worker: acquire lease %s: %w", key, err)
	}
	if !set {
		holder, err := l.store.Get(ctx, key)
		if err != nil && !errors.Is(err, hotstore.ErrNotFound) {
			return nil, nil, false, fmt.Errorf("worker: read lease %s: %w", key, err)
		}
		// A pinned instance id may find its own key after an unclean
		// restart; taking it back is safe, anyone else backs off.
		if string(holder) != l.instanceID {
			slog.Info("[Lease] Session held by another instance",
				"sessionID", sessionID, "holder", string(holder))
			return nil, nil, false, nil
		}
		if err := l.store.Set(ctx, key, []byte(l.instanceID), l.ttl); err != nil {
			return nil, nil, false, fmt.Errorf("worker: retake lease %s: %w", key, err)
		}
	}

	leaseCtx, cancel := context.WithCancel(ctx)
	ticker := l.clock.NewTicker(l.refresh)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-leaseCtx.Done():
				return
			case <-ticker.Chan():
				// Re-check ownership before rewriting: a blind Set would
				// resurrect a key that expired or changed hands and leave
				// two instances driving the session.
				holder, err := l.store.Get(leaseCtx, key)
				if err != nil && !errors.Is(err, hotstore.ErrNotFound) {
					slog.Error("[Lease] Renewal failed, yielding session",
						"sessionID", sessionID, "error", err)
					cancel()
					return
				}
				if string(holder) != l.instanceID {
					slog.Error("[Lease] Lease no longer held, yielding session",
						"sessionID", sessionID, "holder", string(holder))
					cancel()
					return
				}
				if err := l.store.Set(leaseCtx, key, []byte(l.instanceID), l.ttl); err != nil {
					slog.Error("[Lease] Renewal failed, yielding session",
						"sessionID", sessionID, "error", err)
					cancel()
					return
				}
			}
		}
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			cancel()
			delCtx, cancelDel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancelDel()
			// Delete only while still the holder; a successor's key must
			// survive a late release. Our own stale key expires by TTL.
			holder, err := l.store.Get(delCtx, key)
			if err != nil || string(holder) != l.instanceID {
				return
			}
			if err := l.store.Del(delCtx, key); err != nil {
				slog.Warn("[Lease] Failed to delete lease key", "key", key, "error", err)
			}
		})
	}

	slog.Info("[Lease] Acquired session lease", "sessionID", sessionID, "ttl", l.ttl)
	return leaseCtx, release, true, nil
}
