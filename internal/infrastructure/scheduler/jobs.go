package scheduler

import (
	"context"
	"time"

	"github.com/gracegarden/community-hub/internal/infrastructure/messaging"
	"github.com/gracegarden/community-hub/pkg/logger"
)

// Pinger is anything with a liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewStoreProbeJob pings the store so outages show up in logs between requests.
func NewStoreProbeJob(store Pinger, timeout time.Duration) Job {
	return JobFunc{
		JobName: "store-probe",
		Fn: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return store.Ping(ctx)
		},
	}
}

// MetricsSource exposes event bus counters. A nil result means metrics are off.
type MetricsSource interface {
	Metrics() *messaging.EventBusMetrics
}

// NewEventMetricsJob logs an event bus metrics snapshot.
func NewEventMetricsJob(src MetricsSource, log *logger.Logger) Job {
	log = log.With(logger.Component("event_metrics"))
	return JobFunc{
		JobName: "event-metrics-report",
		Fn: func(context.Context) error {
			m := src.Metrics()
			if m == nil {
				return nil
			}
			snap := m.Snapshot()
			log.Info("event bus metrics",
				logger.Int64("published", snap.TotalPublished),
				logger.Int64("handler_execs", snap.TotalHandlerExecs),
				logger.Int64("handler_failures", snap.HandlerFailures),
				logger.Float64("handler_success_rate", snap.HandlerSuccessRate),
				logger.Duration("avg_handler_duration", snap.AverageHandlerDuration),
			)
			return nil
		},
	}
}
