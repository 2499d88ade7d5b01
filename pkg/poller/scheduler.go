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

// Package poller drives the server's poll pipeline. A Scheduler emits tasks
// on a fixed cadence into a bounded worker Pool, which executes them against
// agents and hands the results to the metric store.
package poller

import (
	"context"
	"sort"
	"time"

	"github.com/carverauto/hostpulse/pkg/logger"
	"github.com/carverauto/hostpulse/pkg/models"
)

// NewScheduler builds a scheduler over the configured agents. Each target
// polls at its own interval when one is set, otherwise at the server-wide
// interval; the tick cadence is the shortest of them, and longer intervals
// are honored at tick granularity.
func NewScheduler(config *models.ServerConfig, sink TaskSink, clock Clock, log logger.Logger) (*Scheduler, error) {
	if config == nil {
		return nil, errNilConfig
	}

	if sink == nil {
		return nil, errNilSink
	}

	if len(config.Agents) == 0 {
		return nil, errNoTargets
	}

	if clock == nil {
		clock = realClock{}
	}

	ids := make([]string, 0, len(config.Agents))
	for id := range config.Agents {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	cadence := time.Duration(config.PollInterval)
	targets := make([]scheduleTarget, 0, len(ids))

	for _, id := range ids {
		interval := time.Duration(config.PollInterval)
		if ep := config.Agents[id]; ep.PollInterval > 0 {
			interval = time.Duration(ep.PollInterval)
		}

		if interval < cadence {
			cadence = interval
		}

		targets = append(targets, scheduleTarget{agentID: id, interval: interval})
	}

	return &Scheduler{
		cadence:  cadence,
		targets:  targets,
		sink:     sink,
		clock:    clock,
		logger:   log,
		lastEmit: make(map[string]time.Time, len(targets)),
		done:     make(chan struct{}),
	}, nil
}

// Start emits the first round immediately, then keeps emitting on the tick.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := s.clock.Ticker(s.cadence)

	s.logger.Info().
		Dur("cadence", s.cadence).
		Int("targets", len(s.targets)).
		Msg("Starting scheduler")

	s.emitDue(s.clock.Now())

	s.wg.Add(1)

	go s.run(ctx, ticker)

	return nil
}

func (s *Scheduler) run(ctx context.Context, ticker Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.Chan():
			s.emitDue(s.clock.Now())
		}
	}
}

// emitDue submits a task for every target whose interval has elapsed. A
// rejected submit counts as backpressure and the target stays due, so the
// next tick tries again.
func (s *Scheduler) emitDue(now time.Time) {
	for _, t := range s.targets {
		if last, ok := s.lastEmit[t.agentID]; ok && now.Sub(last) < t.interval {
			continue
		}

		task := models.NewPollTask(t.agentID, now)

		if !s.sink.Submit(task) {
			s.dropped.Add(1)

			s.logger.Warn().
				Str("agent_id", t.agentID).
				Str("task_id", task.ID.String()).
				Msg("Worker pool intake saturated, dropping task")

			continue
		}

		s.lastEmit[t.agentID] = now
		s.emitted.Add(1)

		s.logger.Debug().
			Str("agent_id", t.agentID).
			Str("task_id", task.ID.String()).
			Time("scheduled_at", now).
			Msg("Scheduled poll task")
	}
}

// Stop halts emission. Tasks already handed to the sink are unaffected.
func (s *Scheduler) Stop(_ context.Context) error {
	s.closeOnce.Do(func() {
		close(s.done)
	})

	s.wg.Wait()

	s.logger.Info().
		Int64("emitted", s.emitted.Load()).
		Int64("dropped", s.dropped.Load()).
		Msg("Scheduler stopped")

	return nil
}

// Emitted reports how many tasks the sink accepted.
func (s *Scheduler) Emitted() int64 {
	return s.emitted.Load()
}

// Dropped reports how many tasks were discarded against a saturated sink.
func (s *Scheduler) Dropped() int64 {
	return s.dropped.Load()
}
