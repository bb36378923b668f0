package clock

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSleepUntilPastDeadlineReturnsImmediately(t *testing.T) {
	fake := clockwork.NewFakeClock()
	ctx := context.Background()

	err := SleepUntil(ctx, fake, fake.Now().Add(-time.Minute))
	assert.NoError(t, err)

	err = SleepUntil(ctx, fake, fake.Now())
	assert.NoError(t, err)
}

func TestSleepUntilWakesAtDeadline(t *testing.T) {
	fake := clockwork.NewFakeClock()
	target := fake.Now().Add(10 * time.Minute)

	done := make(chan error, 1)
	go func() {
		done <- SleepUntil(context.Background(), fake, target)
	}()

	// Wait for the sleeper to park, then release it.
	fake.BlockUntil(1)

	select {
	case <-done:
		t.Fatal("sleep returned before the clock advanced")
	case <-time.After(20 * time.Millisecond):
	}

	fake.Advance(10 * time.Minute)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sleep did not wake after the clock advanced")
	}
}

func TestSleepUntilCancelled(t *testing.T) {
	fake := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- SleepUntil(ctx, fake, fake.Now().Add(time.Hour))
	}()

	fake.BlockUntil(1)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sleep did not observe cancellation")
	}
}

func TestSleepForNonPositive(t *testing.T) {
	fake := clockwork.NewFakeClock()
	assert.NoError(t, SleepFor(context.Background(), fake, 0))
	assert.NoError(t, SleepFor(context.Background(), fake, -time.Second))
}
