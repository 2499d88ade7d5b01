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

package gate

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/hostpulse/pkg/logger"
	"github.com/carverauto/hostpulse/pkg/models"
)

var errProbeRefused = errors.New("connection refused")

func testGateConfig() models.GateConfig {
	return models.GateConfig{
		ProbeInterval: models.Duration(time.Second),
		ProbeTimeout:  models.Duration(2 * time.Second),
	}
}

func TestAwaitReadyImmediate(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	clock := NewMockClock(ctrl)

	g := New(testGateConfig(), []Dependency{{Name: "store", Addr: "localhost:5432"}}, clock, logger.NewTestLogger())
	g.ProbeFunc = func(_ context.Context, _ string, _ time.Duration) error {
		return nil
	}

	err := g.AwaitReady(context.Background(), Dependency{Name: "store", Addr: "localhost:5432"})
	require.NoError(t, err)

	assert.Equal(t, models.ReadinessReady, g.State("store"))
}

func TestAwaitReadyRetriesUntilReady(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	clock := NewMockClock(ctrl)
	ticker := NewMockTicker(ctrl)

	tickCh := make(chan time.Time, 2)
	tickCh <- time.Now()
	tickCh <- time.Now()

	clock.EXPECT().Now().Return(time.Now()).AnyTimes()
	clock.EXPECT().Ticker(time.Second).Return(ticker)
	ticker.EXPECT().Chan().Return(tickCh).AnyTimes()
	ticker.EXPECT().Stop()

	dep := Dependency{Name: "broker", Addr: "localhost:4222"}

	g := New(testGateConfig(), []Dependency{dep}, clock, logger.NewTestLogger())

	var mu sync.Mutex

	var transitions []Transition

	g.OnTransition = func(_ context.Context, tr Transition) {
		mu.Lock()
		defer mu.Unlock()

		transitions = append(transitions, tr)
	}

	attempts := 0
	g.ProbeFunc = func(_ context.Context, _ string, _ time.Duration) error {
		attempts++
		if attempts < 3 {
			return errProbeRefused
		}

		return nil
	}

	err := g.AwaitReady(context.Background(), dep)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, transitions, 2)
	assert.Equal(t, models.ReadinessUnknown, transitions[0].From)
	assert.Equal(t, models.ReadinessUnreachable, transitions[0].To)
	assert.Equal(t, models.ReadinessUnreachable, transitions[1].From)
	assert.Equal(t, models.ReadinessReady, transitions[1].To)
}

func TestAwaitReadyMaxWaitExceeded(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	clock := NewMockClock(ctrl)
	ticker := NewMockTicker(ctrl)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tickCh := make(chan time.Time, 2)
	tickCh <- base.Add(2 * time.Second)
	tickCh <- base.Add(4 * time.Second)

	gomock.InOrder(
		clock.EXPECT().Now().Return(base),
		clock.EXPECT().Now().Return(base.Add(2*time.Second)),
		clock.EXPECT().Now().Return(base.Add(4*time.Second)),
	)
	clock.EXPECT().Ticker(2 * time.Second).Return(ticker)
	ticker.EXPECT().Chan().Return(tickCh).AnyTimes()
	ticker.EXPECT().Stop()

	config := models.GateConfig{
		ProbeInterval: models.Duration(2 * time.Second),
		ProbeTimeout:  models.Duration(time.Second),
		MaxWait:       models.Duration(3 * time.Second),
	}

	dep := Dependency{Name: "broker", Addr: "localhost:4222"}

	g := New(config, []Dependency{dep}, clock, logger.NewTestLogger())
	g.ProbeFunc = func(_ context.Context, _ string, _ time.Duration) error {
		return errProbeRefused
	}

	err := g.AwaitReady(context.Background(), dep)
	require.ErrorIs(t, err, ErrDependencyUnavailable)

	assert.Equal(t, models.ReadinessUnreachable, g.State("broker"))
}

func TestAwaitReadyContextCanceled(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	clock := NewMockClock(ctrl)
	ticker := NewMockTicker(ctrl)

	clock.EXPECT().Ticker(time.Second).Return(ticker)
	ticker.EXPECT().Chan().Return(make(chan time.Time)).AnyTimes()
	ticker.EXPECT().Stop()

	dep := Dependency{Name: "store", Addr: "localhost:5432"}

	g := New(testGateConfig(), []Dependency{dep}, clock, logger.NewTestLogger())
	g.ProbeFunc = func(_ context.Context, _ string, _ time.Duration) error {
		return errProbeRefused
	}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() {
		done <- g.AwaitReady(ctx, dep)
	}()

	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("AwaitReady did not return after context cancellation")
	}
}

func TestAwaitAllAllReady(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	clock := NewMockClock(ctrl)

	deps := []Dependency{
		{Name: "store", Addr: "localhost:5432"},
		{Name: "broker", Addr: "localhost:4222"},
	}

	g := New(testGateConfig(), deps, clock, logger.NewTestLogger())
	g.ProbeFunc = func(_ context.Context, _ string, _ time.Duration) error {
		return nil
	}

	require.NoError(t, g.AwaitAll(context.Background()))

	states := g.States()
	assert.Equal(t, models.ReadinessReady, states["store"])
	assert.Equal(t, models.ReadinessReady, states["broker"])
}

func TestAwaitAllPropagatesFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	clock := NewMockClock(ctrl)
	ticker := NewMockTicker(ctrl)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tickCh := make(chan time.Time, 1)
	tickCh <- base.Add(2 * time.Second)

	// Every Now() call advances well past the 1s max wait, so the broker
	// probe gives up on its first re-check regardless of goroutine order.
	var nowMu sync.Mutex

	current := base

	clock.EXPECT().Now().DoAndReturn(func() time.Time {
		nowMu.Lock()
		defer nowMu.Unlock()

		now := current
		current = current.Add(2 * time.Second)

		return now
	}).AnyTimes()
	clock.EXPECT().Ticker(time.Second).Return(ticker)
	ticker.EXPECT().Chan().Return(tickCh).AnyTimes()
	ticker.EXPECT().Stop()

	config := models.GateConfig{
		ProbeInterval: models.Duration(time.Second),
		ProbeTimeout:  models.Duration(time.Second),
		MaxWait:       models.Duration(time.Second),
	}

	deps := []Dependency{
		{Name: "store", Addr: "localhost:5432"},
		{Name: "broker", Addr: "localhost:4222"},
	}

	g := New(config, deps, clock, logger.NewTestLogger())
	g.ProbeFunc = func(_ context.Context, addr string, _ time.Duration) error {
		if addr == "localhost:5432" {
			return nil
		}

		return errProbeRefused
	}

	err := g.AwaitAll(context.Background())
	require.ErrorIs(t, err, ErrDependencyUnavailable)

	states := g.States()
	assert.Equal(t, models.ReadinessReady, states["store"])
	assert.Equal(t, models.ReadinessUnreachable, states["broker"])
}

func TestReadinessFlipsButNeverReturnsToUnknown(t *testing.T) {
	dep := Dependency{Name: "store", Addr: "localhost:5432"}

	g := New(testGateConfig(), []Dependency{dep}, nil, logger.NewTestLogger())

	var transitions []Transition

	g.OnTransition = func(_ context.Context, tr Transition) {
		transitions = append(transitions, tr)
	}

	ctx := context.Background()

	g.setState(ctx, dep, models.ReadinessUnreachable)
	g.setState(ctx, dep, models.ReadinessUnreachable)
	g.setState(ctx, dep, models.ReadinessReady)
	g.setState(ctx, dep, models.ReadinessUnreachable)
	g.setState(ctx, dep, models.ReadinessReady)

	assert.Equal(t, models.ReadinessReady, g.State("store"))

	// Repeated probes of the same outcome are not transitions; flips
	// between Unreachable and Ready are.
	require.Len(t, transitions, 4)
	assert.Equal(t, models.ReadinessUnknown, transitions[0].From)
	assert.Equal(t, models.ReadinessUnreachable, transitions[0].To)
	assert.Equal(t, models.ReadinessReady, transitions[1].To)
	assert.Equal(t, models.ReadinessUnreachable, transitions[2].To)
	assert.Equal(t, models.ReadinessReady, transitions[3].To)

	for _, tr := range transitions[1:] {
		assert.NotEqual(t, models.ReadinessUnknown, tr.From)
	}
}

func TestProbeTCP(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := listener.Addr().String()

	require.NoError(t, probeTCP(context.Background(), addr, time.Second))

	require.NoError(t, listener.Close())

	err = probeTCP(context.Background(), addr, 200*time.Millisecond)
	require.Error(t, err)
}
