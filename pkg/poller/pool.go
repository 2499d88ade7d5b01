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
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/carverauto/hostpulse/pkg/logger"
	"github.com/carverauto/hostpulse/pkg/models"
)

const (
	defaultRetryAttempts = 3

	retryInitialBackoff = 100 * time.Millisecond
	retryMaxBackoff     = 2 * time.Second
)

// NewPool creates a worker pool over the given targets. No workers run until
// Start is called.
func NewPool(cfg PoolConfig, log logger.Logger) (*Pool, error) {
	if len(cfg.Targets) == 0 {
		return nil, errNoTargets
	}

	if cfg.Writer == nil {
		return nil, errNilWriter
	}

	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = workers
	}

	retries := cfg.RetryAttempts
	if retries <= 0 {
		retries = defaultRetryAttempts
	}

	targets := make(map[string]Target, len(cfg.Targets))

	for id, target := range cfg.Targets {
		if target.Timeout <= 0 {
			target.Timeout = defaultFetchTimeout
		}

		if target.Query == "" {
			target.Query = models.QueryExtended
		}

		targets[id] = target
	}

	return &Pool{
		workers:  workers,
		retries:  retries,
		tasks:    make(chan models.PollTask, queueSize),
		targets:  targets,
		writer:   cfg.Writer,
		events:   cfg.Events,
		clock:    clock,
		logger:   log,
		tracer:   logger.Tracer("hostpulse/poller"),
		inflight: make(map[string]bool, len(targets)),
		tallies:  make(map[string]*agentTally, len(targets)),
		done:     make(chan struct{}),
	}, nil
}

// TargetsFromConfig builds live agent clients for every configured endpoint.
func TargetsFromConfig(config *models.ServerConfig, log logger.Logger) map[string]Target {
	targets := make(map[string]Target, len(config.Agents))

	for id, ep := range config.Agents {
		timeout := time.Duration(config.PollTimeout)
		if ep.Timeout > 0 {
			timeout = time.Duration(ep.Timeout)
		}

		targets[id] = Target{
			Caller:  NewAgentClient(id, ep, timeout, log),
			Query:   ep.Query,
			Timeout: timeout,
		}
	}

	return targets
}

// Start launches the worker goroutines.
func (p *Pool) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info().
		Int("workers", p.workers).
		Int("queue_size", cap(p.tasks)).
		Int("retry_attempts", p.retries).
		Msg("Starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)

		go p.worker(runCtx)
	}

	return nil
}

// Stop halts the workers. Tasks still sitting in the intake channel are
// abandoned; the next scheduled tick supersedes them.
func (p *Pool) Stop(_ context.Context) error {
	p.closeOnce.Do(func() {
		close(p.done)

		if p.cancel != nil {
			p.cancel()
		}
	})

	p.wg.Wait()

	p.logger.Info().Msg("Worker pool stopped")

	return nil
}

// Submit offers a task to the pool without blocking. It reports false when
// the task's agent is already in flight or the intake channel is full; a
// rejected task is gone, not queued.
func (p *Pool) Submit(task models.PollTask) bool {
	if !p.acquire(task.AgentID) {
		p.droppedBusy.Add(1)

		p.logger.Debug().
			Str("agent_id", task.AgentID).
			Str("task_id", task.ID.String()).
			Msg("Agent already in flight, dropping task")

		return false
	}

	select {
	case p.tasks <- task:
		return true
	default:
		p.release(task.AgentID)
		p.droppedFull.Add(1)

		p.logger.Debug().
			Str("agent_id", task.AgentID).
			Str("task_id", task.ID.String()).
			Msg("Intake channel full, dropping task")

		return false
	}
}

// acquire takes the in-flight latch for an agent. The latch is held from
// submission to completion, so a same-agent task can never run or queue
// concurrently.
func (p *Pool) acquire(agentID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inflight[agentID] {
		return false
	}

	p.inflight[agentID] = true

	return true
}

func (p *Pool) release(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.inflight, agentID)
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case task := <-p.tasks:
			p.execute(ctx, task)
		}
	}
}

func (p *Pool) execute(ctx context.Context, task models.PollTask) {
	defer p.release(task.AgentID)

	ctx, span := p.tracer.Start(ctx, "poller.execute", trace.WithAttributes(
		attribute.String("agent_id", task.AgentID),
		attribute.String("task_id", task.ID.String()),
	))
	defer span.End()

	target, ok := p.targets[task.AgentID]
	if !ok {
		p.logger.Error().
			Str("agent_id", task.AgentID).
			Str("task_id", task.ID.String()).
			Msg("Task names an unregistered agent")

		span.SetStatus(codes.Error, errUnknownAgent.Error())
		p.recordOutcome(ctx, task, 0, 0, 0, errUnknownAgent)

		return
	}

	samples, attempts, err := p.fetchWithRetry(ctx, task, target)
	if err != nil {
		p.logger.Warn().
			Err(err).
			Str("agent_id", task.AgentID).
			Str("task_id", task.ID.String()).
			Int("attempts", attempts).
			Msg("Poll failed after retries")

		span.RecordError(err)
		span.SetStatus(codes.Error, "poll failed")
		p.recordOutcome(ctx, task, attempts, 0, 0, err)

		return
	}

	written, storeErr := p.persist(ctx, samples)
	if storeErr != nil {
		p.logger.Warn().
			Err(storeErr).
			Str("agent_id", task.AgentID).
			Str("task_id", task.ID.String()).
			Int("samples", len(samples)).
			Int("written", written).
			Msg("Poll result stored incompletely")

		span.RecordError(storeErr)
		span.SetStatus(codes.Error, "store write failed")
		p.recordOutcome(ctx, task, attempts, len(samples), written, storeErr)

		return
	}

	span.SetAttributes(attribute.Int("samples", len(samples)), attribute.Int("attempts", attempts))
	p.recordOutcome(ctx, task, attempts, len(samples), written, nil)

	p.logger.Debug().
		Str("agent_id", task.AgentID).
		Str("task_id", task.ID.String()).
		Int("samples", len(samples)).
		Int("written", written).
		Msg("Poll completed")
}

// fetchWithRetry runs health-gated fetch attempts under exponential backoff
// until one succeeds or the attempt cap is reached. Each attempt is bounded
// by the target's timeout; a timed-out attempt counts toward the cap.
func (p *Pool) fetchWithRetry(ctx context.Context, task models.PollTask, target Target) ([]models.MetricSample, int, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialBackoff
	bo.MaxInterval = retryMaxBackoff
	bo.Multiplier = 1.6
	bo.RandomizationFactor = 0.2

	attempts := 0

	operation := func() ([]models.MetricSample, error) {
		attempts++

		attemptCtx, cancel := context.WithTimeout(ctx, target.Timeout)
		defer cancel()

		if target.Caller.Health(attemptCtx) != models.HealthUp {
			return nil, &models.AgentError{
				Kind:    models.AgentUnreachable,
				AgentID: task.AgentID,
				Err:     errAgentNotReady,
			}
		}

		return target.Caller.Fetch(attemptCtx, target.Query)
	}

	samples, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo), backoff.WithMaxTries(uint(p.retries)))

	return samples, attempts, err
}

// persist writes the batch, re-submitting a rejected subset exactly once.
func (p *Pool) persist(ctx context.Context, samples []models.MetricSample) (int, error) {
	result, err := p.writer.Write(ctx, samples)
	written := result.Written

	if err == nil || len(result.Failed) == 0 {
		return written, err
	}

	retry := make([]models.MetricSample, 0, len(result.Failed))
	for i := range result.Failed {
		retry = append(retry, result.Failed[i].Sample())
	}

	retryResult, retryErr := p.writer.Write(ctx, retry)

	return written + retryResult.Written, retryErr
}

// recordOutcome updates the agent's tally and publishes the poll event.
func (p *Pool) recordOutcome(ctx context.Context, task models.PollTask, attempts, sampleCount, written int, err error) {
	completedAt := p.clock.Now()

	p.mu.Lock()

	tally := p.tallies[task.AgentID]
	if tally == nil {
		tally = &agentTally{}
		p.tallies[task.AgentID] = tally
	}

	if err == nil {
		tally.successes++
		tally.lastError = ""
	} else {
		tally.failures++
		tally.lastError = err.Error()
	}

	tally.lastSamples = sampleCount
	tally.lastWritten = written
	tally.lastAt = completedAt

	p.mu.Unlock()

	if p.events == nil {
		return
	}

	data := models.PollEventData{
		TaskID:      task.ID.String(),
		AgentID:     task.AgentID,
		Succeeded:   err == nil,
		Attempts:    attempts,
		SampleCount: sampleCount,
		Written:     written,
		ScheduledAt: task.ScheduledAt,
		CompletedAt: completedAt,
	}
	if err != nil {
		data.Error = err.Error()
	}

	p.events.PublishPollResult(ctx, data)
}

// Stats returns a snapshot of per-agent outcomes and drop counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	agents := make(map[string]AgentPollStats, len(p.tallies))
	for id, tally := range p.tallies {
		agents[id] = AgentPollStats{
			AgentID:     id,
			Successes:   tally.successes,
			Failures:    tally.failures,
			LastError:   tally.lastError,
			LastSamples: tally.lastSamples,
			LastWritten: tally.lastWritten,
			LastPollAt:  tally.lastAt,
		}
	}

	return PoolStats{
		Agents:      agents,
		DroppedBusy: p.droppedBusy.Load(),
		DroppedFull: p.droppedFull.Load(),
	}
}
