// Package clock provides cancellable wall-clock sleeps for the phase loop.
//
// The clockwork abstraction keeps the worker testable: production code
// passes clockwork.NewRealClock(), tests drive a fake and advance it past
// phase boundaries without waiting.
package clock

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// SleepUntil blocks until the wall-clock instant t, or until ctx is
// cancelled, whichever comes first. Instants already past return
// immediately. The wait duration is computed once at the call, so a
// backward wall-clock jump cannot stretch the sleep beyond t - now.
func SleepUntil(ctx context.Context, c clockwork.Clock, t time.Time) error {
	d := t.Sub(c.Now())
	if d <= 0 {
		slog.Debug("[Clock] Deadline already past", "deadline", t, "lateBy", -d)
		return nil
	}
	return SleepFor(ctx, c, d)
}

// SleepFor blocks for d or until ctx is cancelled. Non-positive durations
// return immediately.
func SleepFor(ctx context.Context, c clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-c.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
