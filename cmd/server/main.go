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

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/carverauto/hostpulse/pkg/config"
	"github.com/carverauto/hostpulse/pkg/db"
	"github.com/carverauto/hostpulse/pkg/gate"
	"github.com/carverauto/hostpulse/pkg/health"
	"github.com/carverauto/hostpulse/pkg/lifecycle"
	"github.com/carverauto/hostpulse/pkg/logger"
	"github.com/carverauto/hostpulse/pkg/metricstore"
	"github.com/carverauto/hostpulse/pkg/models"
	"github.com/carverauto/hostpulse/pkg/natsutil"
	"github.com/carverauto/hostpulse/pkg/poller"
	"github.com/carverauto/hostpulse/pkg/version"
)

const startupPingTimeout = 10 * time.Second

var (
	errFailedToLoadConfig = fmt.Errorf("failed to load config")
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/hostpulse/server.json", "Path to server config file")
	flag.Parse()

	ctx := context.Background()

	cfgLoader := config.NewConfig(nil)

	var cfg models.ServerConfig

	if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	serverLogger, err := lifecycle.CreateComponentLogger("server", cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() {
		_ = logger.Shutdown()
	}()

	if err := lifecycle.SetupTelemetry(ctx, logger.TelemetryConfig{
		ServiceName:    "hostpulse-server",
		ServiceVersion: version.GetVersion(),
		OTel:           cfg.Logging.OTel,
	}, serverLogger); err != nil {
		return err
	}

	serverLogger.Info().
		Str("version", version.GetFullVersion()).
		Str("server_id", cfg.ServerID).
		Int("agents", len(cfg.Agents)).
		Msg("Starting server")

	// Readiness transitions fire before the event publisher exists; buffer
	// them for replay once the broker connection is up.
	buffer := &transitionBuffer{}

	depGate := buildGate(&cfg, serverLogger)
	depGate.OnTransition = func(_ context.Context, t gate.Transition) {
		buffer.add(gateEvent(t))
	}

	if err := depGate.AwaitAll(ctx); err != nil {
		return fmt.Errorf("dependencies never became ready: %w", err)
	}

	pool, err := db.NewPool(ctx, &cfg.Database, serverLogger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	pingCtx, cancelPing := context.WithTimeout(ctx, startupPingTimeout)
	err = pool.Ping(pingCtx)

	cancelPing()

	if err != nil {
		pool.Close()
		return fmt.Errorf("store accepted a connection but failed ping: %w", err)
	}

	if err := db.RunMigrations(ctx, pool, serverLogger); err != nil {
		pool.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	store := db.NewStore(pool, serverLogger)
	defer store.Close()

	publisher, closeEvents, err := connectEvents(ctx, &cfg, depGate, buffer, serverLogger)
	if err != nil {
		return err
	}
	defer closeEvents()

	writer := metricstore.NewWriter(store, serverLogger)

	poolCfg := poller.PoolConfig{
		Workers:       cfg.Workers,
		QueueSize:     cfg.QueueSize,
		RetryAttempts: cfg.RetryAttempts,
		Targets:       poller.TargetsFromConfig(&cfg, serverLogger),
		Writer:        writer,
	}
	if publisher != nil {
		poolCfg.Events = publisher
	}

	workerPool, err := poller.NewPool(poolCfg, serverLogger)
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}

	scheduler, err := poller.NewScheduler(&cfg, workerPool, nil, serverLogger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	healthCfg := health.Config{
		Version:   version.GetVersion(),
		Gate:      depGate,
		Pool:      workerPool,
		Scheduler: scheduler,
		Store:     store,
	}
	if publisher != nil {
		healthCfg.Events = publisher
	}

	reporter := health.NewReporter(healthCfg, serverLogger)
	if err := reporter.RegisterMetrics(); err != nil {
		return fmt.Errorf("failed to register health metrics: %w", err)
	}

	healthServer := health.NewServer(cfg.ListenAddr, reporter, cfg.CORS, serverLogger)

	return lifecycle.Run(ctx, lifecycle.Options{
		Components: []lifecycle.Component{
			{Name: "worker-pool", Service: workerPool},
			{Name: "scheduler", Service: scheduler},
			{Name: "health-http", Service: healthServer},
		},
	}, serverLogger)
}

// buildGate wires the TCP readiness gate over the store and the broker. Both
// are gated even when event publishing is off; no poll task is dispatched
// until each accepts a connection.
func buildGate(cfg *models.ServerConfig, log logger.Logger) *gate.Gate {
	deps := []gate.Dependency{
		{Name: "store", Addr: cfg.Database.Addr()},
		{Name: "nats", Addr: cfg.NATS.Addr()},
	}

	return gate.New(cfg.Gate, deps, nil, log)
}

// transitionBuffer holds gate events that fire before the publisher exists.
type transitionBuffer struct {
	mu     sync.Mutex
	events []models.GateEventData
}

func (b *transitionBuffer) add(data models.GateEventData) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, data)
}

func (b *transitionBuffer) drain() []models.GateEventData {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := b.events
	b.events = nil

	return events
}

// connectEvents dials the broker when publishing is enabled, replays the
// readiness transitions buffered during the gate wait, and re-points the
// gate at the live publisher. It returns a nil publisher when events are
// disabled; closeEvents is always safe to call.
func connectEvents(
	ctx context.Context,
	cfg *models.ServerConfig,
	depGate *gate.Gate,
	buffer *transitionBuffer,
	log logger.Logger,
) (*natsutil.EventPublisher, func(), error) {
	if !eventsEnabled(cfg) {
		log.Info().Msg("Event publishing disabled")

		return nil, func() {}, nil
	}

	publisher, nc, err := natsutil.Connect(ctx, cfg.NATS, cfg.Events, cfg.ServerID, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to event broker: %w", err)
	}

	depGate.OnTransition = func(ctx context.Context, t gate.Transition) {
		publisher.PublishGateTransition(ctx, gateEvent(t))
	}

	for _, data := range buffer.drain() {
		publisher.PublishGateTransition(ctx, data)
	}

	return publisher, nc.Close, nil
}

func eventsEnabled(cfg *models.ServerConfig) bool {
	return cfg.Events != nil && cfg.Events.Enabled
}

func gateEvent(t gate.Transition) models.GateEventData {
	return models.GateEventData{
		Dependency:    t.Dependency,
		PreviousState: t.From.String(),
		CurrentState:  t.To.String(),
		Address:       t.Addr,
		Timestamp:     t.At,
	}
}
