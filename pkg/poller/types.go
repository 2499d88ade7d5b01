/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/carverauto/hostpulse/pkg/logger"
	"github.com/carverauto/hostpulse/pkg/metricstore"
	"github.com/carverauto/hostpulse/pkg/models"
)

// Scheduler emits one PollTask per registered target on a fixed cadence.
// Emission is single-threaded; a slow or stuck task never delays the next
// tick because dispatch into the sink is non-blocking.
type Scheduler struct {
	cadence time.Duration
	targets []scheduleTarget
	sink    TaskSink
	clock   Clock
	logger  logger.Logger

	// lastEmit is written only by the scheduling loop.
	lastEmit map[string]time.Time
	emitted  atomic.Int64
	dropped  atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// scheduleTarget is one registered agent with its resolved poll interval.
type scheduleTarget struct {
	agentID  string
	interval time.Duration
}

// Pool executes poll tasks on a bounded set of workers. Tasks for distinct
// agents run in parallel; a second task for an agent already queued or
// executing is dropped, not queued.
type Pool struct {
	workers int
	retries int
	tasks   chan models.PollTask
	targets map[string]Target
	writer  metricstore.Writer
	events  EventSink
	clock   Clock
	logger  logger.Logger
	tracer  trace.Tracer

	mu       sync.Mutex
	inflight map[string]bool
	tallies  map[string]*agentTally

	droppedBusy atomic.Int64
	droppedFull atomic.Int64

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// PoolConfig assembles a worker pool.
type PoolConfig struct {
	Workers       int
	QueueSize     int
	RetryAttempts int
	Targets       map[string]Target
	Writer        metricstore.Writer
	// Events may be nil when event publishing is disabled.
	Events EventSink
	Clock  Clock
}

// Target binds one agent's client to its query shape and per-attempt timeout.
type Target struct {
	Caller  AgentCaller
	Query   string
	Timeout time.Duration
}

// agentTally accumulates poll outcomes for one agent.
type agentTally struct {
	successes   int64
	failures    int64
	lastError   string
	lastSamples int
	lastWritten int
	lastAt      time.Time
}

// AgentPollStats is the per-agent slice of a stats snapshot.
type AgentPollStats struct {
	AgentID     string    `json:"agent_id"`
	Successes   int64     `json:"successes"`
	Failures    int64     `json:"failures"`
	LastError   string    `json:"last_error,omitempty"`
	LastSamples int       `json:"last_samples"`
	LastWritten int       `json:"last_written"`
	LastPollAt  time.Time `json:"last_poll_at"`
}

// PoolStats snapshots the pool's counters for the health reporter. DroppedBusy
// counts tasks rejected because their agent was already in flight; DroppedFull
// counts tasks rejected because the intake channel was saturated.
type PoolStats struct {
	Agents      map[string]AgentPollStats `json:"agents"`
	DroppedBusy int64                     `json:"dropped_busy"`
	DroppedFull int64                     `json:"dropped_full"`
}
