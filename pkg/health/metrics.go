package health

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/carverauto/hostpulse/pkg/logger"
)

// RegisterMetrics exports poll outcome, drop, and event counters through the
// global meter. Without a configured metrics provider the instruments are
// no-ops, so registration is unconditional at startup.
func (r *Reporter) RegisterMetrics() error {
	meter := logger.Meter("hostpulse/health")

	polls, err := meter.Int64ObservableCounter("hostpulse.polls",
		metric.WithDescription("Completed polls by outcome"))
	if err != nil {
		return err
	}

	drops, err := meter.Int64ObservableCounter("hostpulse.poll_drops",
		metric.WithDescription("Tasks dropped before execution by reason"))
	if err != nil {
		return err
	}

	published, err := meter.Int64ObservableCounter("hostpulse.events_published",
		metric.WithDescription("Pipeline events accepted by the stream"))
	if err != nil {
		return err
	}

	failed, err := meter.Int64ObservableCounter("hostpulse.events_failed",
		metric.WithDescription("Pipeline events dropped on publish failure"))
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		if r.cfg.Pool != nil {
			stats := r.cfg.Pool.Stats()

			var successes, failures int64

			for _, agent := range stats.Agents {
				successes += agent.Successes
				failures += agent.Failures
			}

			o.ObserveInt64(polls, successes,
				metric.WithAttributes(attribute.String("outcome", "success")))
			o.ObserveInt64(polls, failures,
				metric.WithAttributes(attribute.String("outcome", "failure")))
			o.ObserveInt64(drops, stats.DroppedBusy,
				metric.WithAttributes(attribute.String("reason", "agent_busy")))
			o.ObserveInt64(drops, stats.DroppedFull,
				metric.WithAttributes(attribute.String("reason", "queue_full")))
		}

		if r.cfg.Scheduler != nil {
			o.ObserveInt64(drops, r.cfg.Scheduler.Dropped(),
				metric.WithAttributes(attribute.String("reason", "backpressure")))
		}

		if r.cfg.Events != nil {
			o.ObserveInt64(published, r.cfg.Events.Published())
			o.ObserveInt64(failed, r.cfg.Events.Failures())
		}

		return nil
	}, polls, drops, published, failed)

	return err
}
