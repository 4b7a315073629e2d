package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gracegarden/community-hub/internal/domain/shared"
	"github.com/gracegarden/community-hub/internal/infrastructure/messaging"
	"github.com/gracegarden/community-hub/pkg/logger"
)

func TestScheduler_RunsJobsPeriodically(t *testing.T) {
	s := New(nil)

	var ok, failing atomic.Int32
	require.NoError(t, s.Register(JobFunc{JobName: "ok", Fn: func(context.Context) error {
		ok.Add(1)
		return nil
	}}, 5*time.Millisecond))
	require.NoError(t, s.Register(JobFunc{JobName: "failing", Fn: func(context.Context) error {
		failing.Add(1)
		return errors.New("boom")
	}}, 5*time.Millisecond))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	require.Eventually(t, func() bool { return ok.Load() >= 3 && failing.Load() >= 3 },
		time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	jobs := s.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "failing", jobs[0].Name)
	assert.Equal(t, jobs[0].RunCount, jobs[0].FailCount)
	require.NotNil(t, jobs[0].LastRun)
	assert.False(t, jobs[0].LastRun.Success())
	assert.Equal(t, "ok", jobs[1].Name)
	assert.Zero(t, jobs[1].FailCount)
}

func TestScheduler_RegisterValidation(t *testing.T) {
	s := New(nil)
	job := JobFunc{JobName: "x", Fn: func(context.Context) error { return nil }}

	assert.ErrorIs(t, s.Register(job, 0), ErrInvalidInterval)
	require.NoError(t, s.Register(job, time.Minute))
	assert.ErrorIs(t, s.Register(job, time.Minute), ErrJobAlreadyRegistered)
}

func TestScheduler_StopCancelsRunningJob(t *testing.T) {
	s := New(nil)
	started := make(chan struct{}, 1)

	require.NoError(t, s.Register(JobFunc{JobName: "slow", Fn: func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}}, time.Millisecond))

	var results atomic.Int32
	s.OnJobComplete(func(JobResult) { results.Add(1) })

	require.NoError(t, s.Start(context.Background()))
	<-started
	require.NoError(t, s.Stop())
	assert.Equal(t, int32(1), results.Load())
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestStoreProbeJob_AppliesTimeout(t *testing.T) {
	job := NewStoreProbeJob(pingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}), 10*time.Millisecond)

	assert.Equal(t, "store-probe", job.Name())
	assert.ErrorIs(t, job.Run(context.Background()), context.DeadlineExceeded)
}

func TestEventMetricsJob(t *testing.T) {
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{EnableMetrics: true})
	t.Cleanup(func() { _ = bus.Close() })
	require.NoError(t, bus.Publish(shared.NewXPGainedEvent("u1", 5, 5, "comment_posted", "")))

	job := NewEventMetricsJob(bus, logger.Nop())
	assert.NoError(t, job.Run(context.Background()))

	quiet := NewEventMetricsJob(messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{}), logger.Nop())
	assert.NoError(t, quiet.Run(context.Background()))
}
