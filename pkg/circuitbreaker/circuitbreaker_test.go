package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("store down")

func fail(context.Context) error    { return errDown }
func succeed(context.Context) error { return nil }

// manualClock is advanced by hand so cooldowns need no sleeps.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(clock *manualClock, transitions *[]string) *CircuitBreaker {
	return New(Settings{
		Name:      "test",
		TripAfter: 2,
		Cooldown:  time.Minute,
		Now:       clock.Now,
		OnTransition: func(tr Transition) {
			*transitions = append(*transitions, tr.From.String()+"->"+tr.To.String())
		},
	})
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	var transitions []string
	cb := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.NoError(t, cb.Execute(ctx, succeed), "success resets the streak")
	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.Equal(t, StateClosed, cb.State())

	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.True(t, cb.IsOpen())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.True(t, IsRejection(err))
	assert.False(t, called)

	snap := cb.Snapshot()
	assert.Equal(t, 2, snap.ConsecutiveFailures)
	assert.Equal(t, clock.Now(), snap.OpenedAt)
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestBreaker_TrialAfterCooldown(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	var transitions []string
	cb := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	require.True(t, cb.IsOpen())

	clock.Advance(time.Minute)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown, "failed trial")
	assert.True(t, cb.IsOpen())

	clock.Advance(time.Minute)
	assert.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Snapshot().ConsecutiveFailures)

	assert.Equal(t, []string{
		"closed->open",
		"open->half-open",
		"half-open->open",
		"open->half-open",
		"half-open->closed",
	}, transitions)
}

func TestBreaker_SingleTrialInFlight(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	var transitions []string
	cb := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Minute)

	inTrial := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(inTrial)
			<-release
			return nil
		})
	}()

	<-inTrial
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrTrialBusy)
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestStoreBreaker_IgnoresUncountedErrors(t *testing.T) {
	errConflict := errors.New("conflict")
	cb := StoreBreaker(func(err error) bool { return !errors.Is(err, errConflict) }, nil)

	for i := 0; i < 20; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return errConflict })
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Snapshot().ConsecutiveFailures)
	assert.Equal(t, "progression-store", cb.Name())
}
