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

// Package gate blocks server startup until external dependencies accept TCP
// connections. Each dependency is probed on its own schedule; readiness is
// tracked per dependency and never moves back to unknown.
package gate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/carverauto/hostpulse/pkg/logger"
	"github.com/carverauto/hostpulse/pkg/models"
)

// ErrDependencyUnavailable reports that a dependency stayed unreachable for
// the full configured wait.
var ErrDependencyUnavailable = errors.New("dependency unavailable")

// Dependency names one address the gate must see accept a connection.
type Dependency struct {
	Name string
	Addr string
}

// Transition records a readiness state change for one dependency.
type Transition struct {
	Dependency string
	Addr       string
	From       models.ReadinessState
	To         models.ReadinessState
	At         time.Time
}

// ProbeFunc attempts one connection to addr within timeout.
type ProbeFunc func(ctx context.Context, addr string, timeout time.Duration) error

// TransitionFunc receives readiness state changes.
type TransitionFunc func(ctx context.Context, t Transition)

// Gate probes dependencies until every one of them is ready.
type Gate struct {
	// ProbeFunc overrides the default TCP probe, used by tests.
	ProbeFunc ProbeFunc

	// OnTransition, when set, receives every readiness change.
	OnTransition TransitionFunc

	config models.GateConfig
	deps   []Dependency
	clock  Clock
	logger logger.Logger

	mu     sync.RWMutex
	states map[string]models.ReadinessState
}

// New creates a gate for the given dependencies.
func New(config models.GateConfig, deps []Dependency, clock Clock, log logger.Logger) *Gate {
	if clock == nil {
		clock = realClock{}
	}

	states := make(map[string]models.ReadinessState, len(deps))
	for _, dep := range deps {
		states[dep.Name] = models.ReadinessUnknown
	}

	return &Gate{
		config: config,
		deps:   deps,
		clock:  clock,
		logger: log,
		states: states,
	}
}

// AwaitAll blocks until every dependency is ready. Dependencies are probed
// concurrently; the first definitive failure cancels the rest.
func (g *Gate) AwaitAll(ctx context.Context) error {
	awaitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	errCh := make(chan error, len(g.deps))

	for i := range g.deps {
		dep := g.deps[i]

		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := g.AwaitReady(awaitCtx, dep); err != nil {
				errCh <- err

				cancel()
			}
		}()
	}

	wg.Wait()
	close(errCh)

	var firstErr error

	for err := range errCh {
		if errors.Is(err, context.Canceled) {
			continue
		}

		if firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		return firstErr
	}

	return ctx.Err()
}

// AwaitReady blocks until the dependency accepts a connection. With a
// configured max wait it gives up once the deadline passes; otherwise it
// retries until the context is canceled.
func (g *Gate) AwaitReady(ctx context.Context, dep Dependency) error {
	interval := time.Duration(g.config.ProbeInterval)
	timeout := time.Duration(g.config.ProbeTimeout)
	maxWait := time.Duration(g.config.MaxWait)

	var deadline time.Time
	if maxWait > 0 {
		deadline = g.clock.Now().Add(maxWait)
	}

	g.logger.Info().
		Str("dependency", dep.Name).
		Str("addr", dep.Addr).
		Dur("probe_interval", interval).
		Msg("Waiting for dependency")

	if g.tryProbe(ctx, dep, timeout) {
		return nil
	}

	ticker := g.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if g.tryProbe(ctx, dep, timeout) {
				return nil
			}

			if !deadline.IsZero() && !g.clock.Now().Before(deadline) {
				return fmt.Errorf("%w: %s (%s) after %s",
					ErrDependencyUnavailable, dep.Name, dep.Addr, maxWait)
			}
		}
	}
}

// tryProbe runs one probe and records the resulting state.
func (g *Gate) tryProbe(ctx context.Context, dep Dependency, timeout time.Duration) bool {
	probe := g.ProbeFunc
	if probe == nil {
		probe = probeTCP
	}

	if err := probe(ctx, dep.Addr, timeout); err != nil {
		g.logger.Debug().
			Err(err).
			Str("dependency", dep.Name).
			Str("addr", dep.Addr).
			Msg("Dependency probe failed")

		g.setState(ctx, dep, models.ReadinessUnreachable)

		return false
	}

	g.setState(ctx, dep, models.ReadinessReady)

	return true
}

// setState applies a readiness transition. Repeated probes with the same
// outcome are not transitions; a probed dependency never returns to Unknown.
func (g *Gate) setState(ctx context.Context, dep Dependency, to models.ReadinessState) {
	g.mu.Lock()

	from := g.states[dep.Name]
	if from == to {
		g.mu.Unlock()
		return
	}

	g.states[dep.Name] = to
	g.mu.Unlock()

	event := g.logger.Info()
	if to == models.ReadinessUnreachable {
		event = g.logger.Warn()
	}

	event.Str("dependency", dep.Name).
		Str("addr", dep.Addr).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Dependency readiness changed")

	if g.OnTransition != nil {
		g.OnTransition(ctx, Transition{
			Dependency: dep.Name,
			Addr:       dep.Addr,
			From:       from,
			To:         to,
			At:         g.clock.Now(),
		})
	}
}

// State returns the recorded readiness for one dependency.
func (g *Gate) State(name string) models.ReadinessState {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.states[name]
}

// States returns a snapshot of every dependency's readiness.
func (g *Gate) States() map[string]models.ReadinessState {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string]models.ReadinessState, len(g.states))
	for name, state := range g.states {
		out[name] = state
	}

	return out
}

// probeTCP is the default probe: dial, then close immediately.
func probeTCP(ctx context.Context, addr string, timeout time.Duration) error {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer

	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return err
	}

	return conn.Close()
}
