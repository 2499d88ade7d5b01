package poller

//go:generate mockgen -destination=mock_poller.go -package=poller github.com/carverauto/hostpulse/pkg/poller Clock,Ticker

import (
	"context"
	"time"

	"github.com/carverauto/hostpulse/pkg/models"
)

// Clock abstracts time-related operations.
type Clock interface {
	Now() time.Time
	Ticker(d time.Duration) Ticker
}

// Ticker abstracts the ticker behavior.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// TaskSink accepts tasks from the scheduler. Submit never blocks; a false
// return means the task was dropped.
type TaskSink interface {
	Submit(task models.PollTask) bool
}

// AgentCaller is the client surface a worker drives for one agent.
type AgentCaller interface {
	// Health reports whether the agent answers its health probe. It never
	// returns an error; an unreachable agent is Down.
	Health(ctx context.Context) models.HealthStatus

	// Fetch runs the named query against the agent and returns the
	// flattened samples. Failures come back as a *models.AgentError.
	Fetch(ctx context.Context, query string) ([]models.MetricSample, error)
}

// EventSink receives per-task poll outcomes for publishing.
type EventSink interface {
	PublishPollResult(ctx context.Context, data models.PollEventData)
}
