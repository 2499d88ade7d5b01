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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/hostpulse/pkg/logger"
	"github.com/carverauto/hostpulse/pkg/models"
)

var errFetchRefused = errors.New("fetch refused")

type fakeCaller struct {
	healthFn func(ctx context.Context) models.HealthStatus
	fetchFn  func(ctx context.Context, query string) ([]models.MetricSample, error)

	healthCalls atomic.Int64
	fetchCalls  atomic.Int64
}

func (f *fakeCaller) Health(ctx context.Context) models.HealthStatus {
	f.healthCalls.Add(1)

	if f.healthFn != nil {
		return f.healthFn(ctx)
	}

	return models.HealthUp
}

func (f *fakeCaller) Fetch(ctx context.Context, query string) ([]models.MetricSample, error) {
	f.fetchCalls.Add(1)

	if f.fetchFn != nil {
		return f.fetchFn(ctx, query)
	}

	return nil, nil
}

type fakeWriter struct {
	mu      sync.Mutex
	writeFn func(samples []models.MetricSample) (models.WriteResult, error)
	batches [][]models.MetricSample
}

func (f *fakeWriter) Write(_ context.Context, samples []models.MetricSample) (models.WriteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	batch := make([]models.MetricSample, len(samples))
	copy(batch, samples)

	f.batches = append(f.batches, batch)

	if f.writeFn != nil {
		return f.writeFn(batch)
	}

	return models.WriteResult{Written: len(batch)}, nil
}

func (f *fakeWriter) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.batches)
}

func (f *fakeWriter) allBatches() [][]models.MetricSample {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([][]models.MetricSample, len(f.batches))
	copy(out, f.batches)

	return out
}

type fakeEvents struct {
	mu     sync.Mutex
	events []models.PollEventData
}

func (f *fakeEvents) PublishPollResult(_ context.Context, data models.PollEventData) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = append(f.events, data)
}

func (f *fakeEvents) snapshot() []models.PollEventData {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]models.PollEventData, len(f.events))
	copy(out, f.events)

	return out
}

func testSamples(source string, n int) []models.MetricSample {
	now := time.Now().UTC()
	samples := make([]models.MetricSample, 0, n)

	for i := 0; i < n; i++ {
		samples = append(samples, models.MetricSample{
			Source:      source,
			MetricName:  fmt.Sprintf("metric.%d", i),
			Value:       float64(i),
			Unit:        models.UnitCount,
			CollectedAt: now,
		})
	}

	return samples
}

func successesFor(p *Pool, agentID string) func() bool {
	return func() bool {
		return p.Stats().Agents[agentID].Successes >= 1
	}
}

func failuresFor(p *Pool, agentID string) func() bool {
	return func() bool {
		return p.Stats().Agents[agentID].Failures >= 1
	}
}

func TestNewPoolValidation(t *testing.T) {
	writer := &fakeWriter{}
	targets := map[string]Target{"edge-1": {Caller: &fakeCaller{}}}

	_, err := NewPool(PoolConfig{Writer: writer}, logger.NewTestLogger())
	assert.ErrorIs(t, err, errNoTargets)

	_, err = NewPool(PoolConfig{Targets: targets}, logger.NewTestLogger())
	assert.ErrorIs(t, err, errNilWriter)
}

func TestPoolExecutesTask(t *testing.T) {
	var gotQuery atomic.Value

	caller := &fakeCaller{
		fetchFn: func(_ context.Context, query string) ([]models.MetricSample, error) {
			gotQuery.Store(query)

			return testSamples("edge-1", 3), nil
		},
	}

	writer := &fakeWriter{}
	events := &fakeEvents{}

	pool, err := NewPool(PoolConfig{
		Workers:   1,
		QueueSize: 2,
		Targets:   map[string]Target{"edge-1": {Caller: caller, Query: models.QueryBasic, Timeout: time.Second}},
		Writer:    writer,
		Events:    events,
	}, logger.NewTestLogger())
	require.NoError(t, err)

	require.NoError(t, pool.Start(context.Background()))

	defer func() { _ = pool.Stop(context.Background()) }()

	task := models.NewPollTask("edge-1", time.Now().UTC())
	require.True(t, pool.Submit(task))

	require.Eventually(t, successesFor(pool, "edge-1"), time.Second, 5*time.Millisecond)

	assert.Equal(t, models.QueryBasic, gotQuery.Load())
	assert.EqualValues(t, 1, caller.healthCalls.Load())
	assert.EqualValues(t, 1, caller.fetchCalls.Load())

	stats := pool.Stats().Agents["edge-1"]
	assert.Equal(t, int64(1), stats.Successes)
	assert.Zero(t, stats.Failures)
	assert.Equal(t, 3, stats.LastSamples)
	assert.Equal(t, 3, stats.LastWritten)
	assert.Empty(t, stats.LastError)
	assert.False(t, stats.LastPollAt.IsZero())

	published := events.snapshot()
	require.Len(t, published, 1)

	event := published[0]
	assert.Equal(t, task.ID.String(), event.TaskID)
	assert.Equal(t, "edge-1", event.AgentID)
	assert.True(t, event.Succeeded)
	assert.Equal(t, 1, event.Attempts)
	assert.Equal(t, 3, event.SampleCount)
	assert.Equal(t, 3, event.Written)
	assert.Empty(t, event.Error)
	assert.True(t, event.ScheduledAt.Equal(task.ScheduledAt))
	assert.False(t, event.CompletedAt.IsZero())

	batches := writer.allBatches()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 3)
}

func TestPoolRetriesUntilCap(t *testing.T) {
	caller := &fakeCaller{
		fetchFn: func(_ context.Context, _ string) ([]models.MetricSample, error) {
			return nil, errFetchRefused
		},
	}

	writer := &fakeWriter{}
	events := &fakeEvents{}

	pool, err := NewPool(PoolConfig{
		Workers:       1,
		RetryAttempts: 3,
		Targets:       map[string]Target{"edge-1": {Caller: caller, Timeout: time.Second}},
		Writer:        writer,
		Events:        events,
	}, logger.NewTestLogger())
	require.NoError(t, err)

	require.NoError(t, pool.Start(context.Background()))

	defer func() { _ = pool.Stop(context.Background()) }()

	require.True(t, pool.Submit(models.NewPollTask("edge-1", time.Now().UTC())))

	require.Eventually(t, failuresFor(pool, "edge-1"), 3*time.Second, 10*time.Millisecond)

	assert.EqualValues(t, 3, caller.fetchCalls.Load())
	assert.EqualValues(t, 3, caller.healthCalls.Load())
	assert.Zero(t, writer.batchCount())

	stats := pool.Stats().Agents["edge-1"]
	assert.Equal(t, int64(1), stats.Failures)
	assert.Contains(t, stats.LastError, "fetch refused")

	published := events.snapshot()
	require.Len(t, published, 1)
	assert.False(t, published[0].Succeeded)
	assert.Equal(t, 3, published[0].Attempts)
	assert.Contains(t, published[0].Error, "fetch refused")
}

func TestPoolHealthGateSkipsFetch(t *testing.T) {
	caller := &fakeCaller{
		healthFn: func(_ context.Context) models.HealthStatus {
			return models.HealthDown
		},
	}

	writer := &fakeWriter{}

	pool, err := NewPool(PoolConfig{
		Workers: 1,
		Targets: map[string]Target{"edge-1": {Caller: caller, Timeout: time.Second}},
		Writer:  writer,
	}, logger.NewTestLogger())
	require.NoError(t, err)

	require.NoError(t, pool.Start(context.Background()))

	defer func() { _ = pool.Stop(context.Background()) }()

	require.True(t, pool.Submit(models.NewPollTask("edge-1", time.Now().UTC())))

	require.Eventually(t, failuresFor(pool, "edge-1"), 3*time.Second, 10*time.Millisecond)

	// A down agent is never queried, only probed.
	assert.Zero(t, caller.fetchCalls.Load())
	assert.EqualValues(t, 3, caller.healthCalls.Load())

	stats := pool.Stats().Agents["edge-1"]
	assert.Contains(t, stats.LastError, "health probe failed")
}

func TestPoolSameAgentDropsNotQueues(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	caller := &fakeCaller{
		fetchFn: func(_ context.Context, _ string) ([]models.MetricSample, error) {
			started <- struct{}{}
			<-release

			return testSamples("edge-1", 1), nil
		},
	}

	writer := &fakeWriter{}

	pool, err := NewPool(PoolConfig{
		Workers:   2,
		QueueSize: 4,
		Targets:   map[string]Target{"edge-1": {Caller: caller, Timeout: time.Minute}},
		Writer:    writer,
	}, logger.NewTestLogger())
	require.NoError(t, err)

	require.NoError(t, pool.Start(context.Background()))

	defer func() { _ = pool.Stop(context.Background()) }()

	require.True(t, pool.Submit(models.NewPollTask("edge-1", time.Now().UTC())))

	<-started

	// A second task for an in-flight agent is rejected, not queued behind it.
	assert.False(t, pool.Submit(models.NewPollTask("edge-1", time.Now().UTC())))
	assert.Equal(t, int64(1), pool.Stats().DroppedBusy)
	assert.EqualValues(t, 1, caller.fetchCalls.Load())

	close(release)

	require.Eventually(t, successesFor(pool, "edge-1"), time.Second, 5*time.Millisecond)

	// Completion frees the latch.
	require.True(t, pool.Submit(models.NewPollTask("edge-1", time.Now().UTC())))

	require.Eventually(t, func() bool {
		return pool.Stats().Agents["edge-1"].Successes == 2
	}, time.Second, 5*time.Millisecond)

	assert.EqualValues(t, 2, caller.fetchCalls.Load())
}

func TestPoolFullIntakeDropsTask(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	blocking := &fakeCaller{
		fetchFn: func(_ context.Context, _ string) ([]models.MetricSample, error) {
			started <- struct{}{}
			<-release

			return testSamples("agent-a", 1), nil
		},
	}

	writer := &fakeWriter{}

	pool, err := NewPool(PoolConfig{
		Workers:   1,
		QueueSize: 1,
		Targets: map[string]Target{
			"agent-a": {Caller: blocking, Timeout: time.Minute},
			"agent-b": {Caller: &fakeCaller{}, Timeout: time.Second},
			"agent-c": {Caller: &fakeCaller{}, Timeout: time.Second},
		},
		Writer: writer,
	}, logger.NewTestLogger())
	require.NoError(t, err)

	require.NoError(t, pool.Start(context.Background()))

	defer func() { _ = pool.Stop(context.Background()) }()

	// Wedge the only worker on agent-a and fill the one-slot intake with
	// agent-b, so agent-c has nowhere to go.
	require.True(t, pool.Submit(models.NewPollTask("agent-a", time.Now().UTC())))

	<-started

	require.True(t, pool.Submit(models.NewPollTask("agent-b", time.Now().UTC())))
	assert.False(t, pool.Submit(models.NewPollTask("agent-c", time.Now().UTC())))
	assert.Equal(t, int64(1), pool.Stats().DroppedFull)

	close(release)

	require.Eventually(t, func() bool {
		stats := pool.Stats()

		return stats.Agents["agent-a"].Successes == 1 && stats.Agents["agent-b"].Successes == 1
	}, time.Second, 5*time.Millisecond)

	// The rejection released agent-c's latch, so a later submit goes through.
	require.True(t, pool.Submit(models.NewPollTask("agent-c", time.Now().UTC())))

	require.Eventually(t, successesFor(pool, "agent-c"), time.Second, 5*time.Millisecond)
}

func TestPoolPartialWriteResubmitsFailedSubset(t *testing.T) {
	caller := &fakeCaller{
		fetchFn: func(_ context.Context, _ string) ([]models.MetricSample, error) {
			return testSamples("edge-1", 4), nil
		},
	}

	writer := &fakeWriter{}
	writer.writeFn = func(batch []models.MetricSample) (models.WriteResult, error) {
		if len(writer.batches) > 1 {
			return models.WriteResult{Written: len(batch)}, nil
		}

		failed := []models.TimeSeriesPoint{
			models.PointFromSample(&batch[2]),
			models.PointFromSample(&batch[3]),
		}

		return models.WriteResult{Written: 2, Failed: failed},
			&models.StoreError{Kind: models.StorePartialWrite, Err: errFetchRefused}
	}

	events := &fakeEvents{}

	pool, err := NewPool(PoolConfig{
		Workers: 1,
		Targets: map[string]Target{"edge-1": {Caller: caller, Timeout: time.Second}},
		Writer:  writer,
		Events:  events,
	}, logger.NewTestLogger())
	require.NoError(t, err)

	require.NoError(t, pool.Start(context.Background()))

	defer func() { _ = pool.Stop(context.Background()) }()

	require.True(t, pool.Submit(models.NewPollTask("edge-1", time.Now().UTC())))

	require.Eventually(t, successesFor(pool, "edge-1"), time.Second, 5*time.Millisecond)

	batches := writer.allBatches()
	require.Len(t, batches, 2)
	require.Len(t, batches[1], 2)
	assert.Equal(t, "metric.2", batches[1][0].MetricName)
	assert.Equal(t, "metric.3", batches[1][1].MetricName)

	stats := pool.Stats().Agents["edge-1"]
	assert.Equal(t, 4, stats.LastSamples)
	assert.Equal(t, 4, stats.LastWritten)
	assert.Empty(t, stats.LastError)

	published := events.snapshot()
	require.Len(t, published, 1)
	assert.True(t, published[0].Succeeded)
	assert.Equal(t, 4, published[0].Written)
}

func TestPoolStoreFailureMarksPollFailed(t *testing.T) {
	caller := &fakeCaller{
		fetchFn: func(_ context.Context, _ string) ([]models.MetricSample, error) {
			return testSamples("edge-1", 4), nil
		},
	}

	storeErr := &models.StoreError{Kind: models.StoreUnreachable, Err: errFetchRefused}

	writer := &fakeWriter{}
	writer.writeFn = func(batch []models.MetricSample) (models.WriteResult, error) {
		failed := make([]models.TimeSeriesPoint, 0, len(batch))
		for i := range batch {
			failed = append(failed, models.PointFromSample(&batch[i]))
		}

		return models.WriteResult{Failed: failed}, storeErr
	}

	events := &fakeEvents{}

	pool, err := NewPool(PoolConfig{
		Workers: 1,
		Targets: map[string]Target{"edge-1": {Caller: caller, Timeout: time.Second}},
		Writer:  writer,
		Events:  events,
	}, logger.NewTestLogger())
	require.NoError(t, err)

	require.NoError(t, pool.Start(context.Background()))

	defer func() { _ = pool.Stop(context.Background()) }()

	require.True(t, pool.Submit(models.NewPollTask("edge-1", time.Now().UTC())))

	require.Eventually(t, failuresFor(pool, "edge-1"), time.Second, 5*time.Millisecond)

	// The rejected subset is retried exactly once, not in a loop.
	assert.Equal(t, 2, writer.batchCount())

	stats := pool.Stats().Agents["edge-1"]
	assert.Equal(t, int64(1), stats.Failures)
	assert.Contains(t, stats.LastError, "store unreachable")

	published := events.snapshot()
	require.Len(t, published, 1)
	assert.False(t, published[0].Succeeded)
	assert.Contains(t, published[0].Error, "store unreachable")
}

func TestPoolUnknownAgentRecordsFailure(t *testing.T) {
	writer := &fakeWriter{}
	events := &fakeEvents{}

	pool, err := NewPool(PoolConfig{
		Workers: 1,
		Targets: map[string]Target{"edge-1": {Caller: &fakeCaller{}, Timeout: time.Second}},
		Writer:  writer,
		Events:  events,
	}, logger.NewTestLogger())
	require.NoError(t, err)

	require.NoError(t, pool.Start(context.Background()))

	defer func() { _ = pool.Stop(context.Background()) }()

	require.True(t, pool.Submit(models.NewPollTask("ghost", time.Now().UTC())))

	require.Eventually(t, failuresFor(pool, "ghost"), time.Second, 5*time.Millisecond)

	stats := pool.Stats().Agents["ghost"]
	assert.Contains(t, stats.LastError, "unregistered agent")

	published := events.snapshot()
	require.Len(t, published, 1)
	assert.False(t, published[0].Succeeded)
	assert.Zero(t, published[0].Attempts)
}

func TestPoolMixedAgentRounds(t *testing.T) {
	healthy := &fakeCaller{
		fetchFn: func(_ context.Context, _ string) ([]models.MetricSample, error) {
			return testSamples("agent-a", 3), nil
		},
	}

	down := &fakeCaller{
		healthFn: func(_ context.Context) models.HealthStatus {
			return models.HealthDown
		},
	}

	writer := &fakeWriter{}

	pool, err := NewPool(PoolConfig{
		Workers: 2,
		Targets: map[string]Target{
			"agent-a": {Caller: healthy, Timeout: time.Second},
			"agent-b": {Caller: down, Timeout: time.Second},
		},
		Writer: writer,
	}, logger.NewTestLogger())
	require.NoError(t, err)

	require.NoError(t, pool.Start(context.Background()))

	defer func() { _ = pool.Stop(context.Background()) }()

	for round := 1; round <= 2; round++ {
		require.True(t, pool.Submit(models.NewPollTask("agent-a", time.Now().UTC())))
		require.True(t, pool.Submit(models.NewPollTask("agent-b", time.Now().UTC())))

		require.Eventually(t, func() bool {
			stats := pool.Stats()

			return stats.Agents["agent-a"].Successes == int64(round) &&
				stats.Agents["agent-b"].Failures == int64(round)
		}, 3*time.Second, 10*time.Millisecond)
	}

	// Only the healthy agent produced points.
	total := 0

	for _, batch := range writer.allBatches() {
		for _, sample := range batch {
			assert.Equal(t, "agent-a", sample.Source)
			total++
		}
	}

	assert.Equal(t, 6, total)
}

func TestPoolStopIsIdempotent(t *testing.T) {
	pool, err := NewPool(PoolConfig{
		Targets: map[string]Target{"edge-1": {Caller: &fakeCaller{}, Timeout: time.Second}},
		Writer:  &fakeWriter{},
	}, logger.NewTestLogger())
	require.NoError(t, err)

	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Stop(context.Background()))
	require.NoError(t, pool.Stop(context.Background()))
}

func TestTargetsFromConfig(t *testing.T) {
	cfg := &models.ServerConfig{
		PollTimeout: models.Duration(7 * time.Second),
		Agents: map[string]*models.AgentEndpoint{
			"edge-1": {BaseURL: "http://edge-1:8000", Query: models.QueryBasic, Timeout: models.Duration(2 * time.Second)},
			"edge-2": {BaseURL: "http://edge-2:8000"},
		},
	}

	targets := TargetsFromConfig(cfg, logger.NewTestLogger())
	require.Len(t, targets, 2)

	assert.Equal(t, models.QueryBasic, targets["edge-1"].Query)
	assert.Equal(t, 2*time.Second, targets["edge-1"].Timeout)
	assert.NotNil(t, targets["edge-1"].Caller)

	assert.Empty(t, targets["edge-2"].Query)
	assert.Equal(t, 7*time.Second, targets["edge-2"].Timeout)
}
