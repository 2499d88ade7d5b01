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

// Package health assembles the server's readiness surface from the live
// pipeline components and serves it as JSON.
package health

import (
	"context"
	"time"

	"github.com/carverauto/hostpulse/pkg/logger"
	"github.com/carverauto/hostpulse/pkg/models"
	"github.com/carverauto/hostpulse/pkg/poller"
)

const storePingTimeout = 2 * time.Second

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
)

// Config wires the reporter to the components it observes. A nil member is
// left out of the snapshot instead of probed.
type Config struct {
	Version   string
	Gate      GateStates
	Pool      PollStats
	Scheduler SchedulerStats
	Events    PublisherStats
	Store     StorePinger
}

// Reporter produces point-in-time health snapshots. It keeps no state beyond
// the start time; every snapshot reads the live components.
type Reporter struct {
	cfg       Config
	startedAt time.Time
	logger    logger.Logger
}

// NewReporter builds a reporter over the given components.
func NewReporter(cfg Config, log logger.Logger) *Reporter {
	return &Reporter{
		cfg:       cfg,
		startedAt: time.Now(),
		logger:    log,
	}
}

// Snapshot is the full health surface, served on /health/detail.
type Snapshot struct {
	Status        string                           `json:"status"`
	Version       string                           `json:"version"`
	UptimeSeconds int64                            `json:"uptime_seconds"`
	Dependencies  map[string]models.ReadinessState `json:"dependencies,omitempty"`
	Store         *StoreHealth                     `json:"store,omitempty"`
	Scheduler     *SchedulerHealth                 `json:"scheduler,omitempty"`
	Pool          *PoolHealth                      `json:"pool,omitempty"`
	Events        *EventsHealth                    `json:"events,omitempty"`
	GeneratedAt   time.Time                        `json:"generated_at"`
}

// StoreHealth reports the outcome of the snapshot's store ping.
type StoreHealth struct {
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

// SchedulerHealth carries the scheduler's emission counters.
type SchedulerHealth struct {
	Emitted int64 `json:"emitted"`
	Dropped int64 `json:"dropped"`
}

// PoolHealth carries per-agent poll outcomes and the pool's drop counters.
type PoolHealth struct {
	Agents      map[string]poller.AgentPollStats `json:"agents"`
	DroppedBusy int64                            `json:"dropped_busy"`
	DroppedFull int64                            `json:"dropped_full"`
}

// EventsHealth carries the event publisher's counters.
type EventsHealth struct {
	Published int64 `json:"published"`
	Failures  int64 `json:"failures"`
}

// Summary is the reduced form served on /health.
type Summary struct {
	Status        string                           `json:"status"`
	Version       string                           `json:"version"`
	UptimeSeconds int64                            `json:"uptime_seconds"`
	Dependencies  map[string]models.ReadinessState `json:"dependencies,omitempty"`
}

// Healthy reports whether every observed component looked fine.
func (s Snapshot) Healthy() bool {
	return s.Status == statusOK
}

// Summary reduces the snapshot to the fields a probe needs.
func (s Snapshot) Summary() Summary {
	return Summary{
		Status:        s.Status,
		Version:       s.Version,
		UptimeSeconds: s.UptimeSeconds,
		Dependencies:  s.Dependencies,
	}
}

// Snapshot reads every observed component once. The store ping is bounded so
// a hung store degrades the snapshot instead of stalling it.
func (r *Reporter) Snapshot(ctx context.Context) Snapshot {
	snap := Snapshot{
		Status:        statusOK,
		Version:       r.cfg.Version,
		UptimeSeconds: int64(time.Since(r.startedAt).Seconds()),
		GeneratedAt:   time.Now().UTC(),
	}

	if r.cfg.Gate != nil {
		snap.Dependencies = r.cfg.Gate.States()

		for _, state := range snap.Dependencies {
			if state != models.ReadinessReady {
				snap.Status = statusDegraded
			}
		}
	}

	if r.cfg.Store != nil {
		snap.Store = r.pingStore(ctx)

		if !snap.Store.Reachable {
			snap.Status = statusDegraded
		}
	}

	if r.cfg.Scheduler != nil {
		snap.Scheduler = &SchedulerHealth{
			Emitted: r.cfg.Scheduler.Emitted(),
			Dropped: r.cfg.Scheduler.Dropped(),
		}
	}

	if r.cfg.Pool != nil {
		stats := r.cfg.Pool.Stats()

		snap.Pool = &PoolHealth{
			Agents:      stats.Agents,
			DroppedBusy: stats.DroppedBusy,
			DroppedFull: stats.DroppedFull,
		}
	}

	if r.cfg.Events != nil {
		snap.Events = &EventsHealth{
			Published: r.cfg.Events.Published(),
			Failures:  r.cfg.Events.Failures(),
		}
	}

	return snap
}

func (r *Reporter) pingStore(ctx context.Context) *StoreHealth {
	pingCtx, cancel := context.WithTimeout(ctx, storePingTimeout)
	defer cancel()

	if err := r.cfg.Store.Ping(pingCtx); err != nil {
		r.logger.Warn().Err(err).Msg("Metric store failed health ping")

		return &StoreHealth{Error: err.Error()}
	}

	return &StoreHealth{Reachable: true}
}
