package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConflict = errors.New("conflict")

func fast(attempts int) Policy {
	return Policy{Attempts: attempts, Base: time.Millisecond, Cap: 2 * time.Millisecond}
}

func TestPolicy_RetriesUntilSuccess(t *testing.T) {
	var seen []int
	err := fast(4).Do(context.Background(), func(_ context.Context, attempt int) error {
		seen = append(seen, attempt)
		if attempt < 3 {
			return errConflict
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestPolicy_ReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	var retried []int
	p := fast(2)
	p.OnRetry = func(attempt int, err error, _ time.Duration) {
		retried = append(retried, attempt)
		assert.ErrorIs(t, err, errConflict)
	}

	err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return errConflict
	})

	assert.Equal(t, 2, calls)
	assert.Same(t, errConflict, err)
	assert.Equal(t, []int{1}, retried, "no wait after the final attempt")
}

func TestPolicy_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	err := fast(5).Do(context.Background(), func(context.Context, int) error {
		calls++
		return Permanent(errConflict)
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, errConflict, err)
	assert.Nil(t, Permanent(nil))
}

func TestConflicts_RetriesOnlyConflicts(t *testing.T) {
	other := errors.New("unavailable")
	calls := 0
	onlyConflicts := func(err error) bool { return errors.Is(err, errConflict) }

	err := Conflicts(3, onlyConflicts).Do(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		if attempt == 1 {
			return errConflict
		}
		return other
	})

	assert.Equal(t, 2, calls)
	assert.Same(t, other, err)
}

func TestPolicy_Backoff(t *testing.T) {
	p := Policy{Base: 100 * time.Millisecond, Cap: time.Second}

	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 800*time.Millisecond, p.Backoff(4))
	assert.Equal(t, time.Second, p.Backoff(5))
	assert.Equal(t, time.Second, p.Backoff(60))

	p.Jitter = 0.5
	for i := 0; i < 100; i++ {
		d := p.Backoff(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestPolicy_ContextCancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Attempts: 10, Base: time.Hour}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(context.Context, int) error {
			calls++
			return errConflict
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.Same(t, errConflict, err)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestPolicy_CancelledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := fast(3).Do(ctx, func(context.Context, int) error {
		t.Fatal("fn must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
