package health

import (
	"context"

	"github.com/carverauto/hostpulse/pkg/models"
	"github.com/carverauto/hostpulse/pkg/poller"
)

// GateStates exposes the dependency gate's last-known readiness per
// dependency.
type GateStates interface {
	States() map[string]models.ReadinessState
}

// PollStats exposes the worker pool's per-agent outcome tallies and drop
// counters.
type PollStats interface {
	Stats() poller.PoolStats
}

// SchedulerStats exposes task emission counters.
type SchedulerStats interface {
	Emitted() int64
	Dropped() int64
}

// PublisherStats exposes event publish counters.
type PublisherStats interface {
	Published() int64
	Failures() int64
}

// StorePinger verifies the metric store still answers.
type StorePinger interface {
	Ping(ctx context.Context) error
}
