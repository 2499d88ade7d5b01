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

// Package lifecycle runs a set of services as one process: ordered startup,
// signal handling, and reverse-ordered shutdown under a timeout.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carverauto/hostpulse/pkg/logger"
)

const defaultShutdownTimeout = 30 * time.Second

// Service is one startable component of a process. Start must return once
// the component is running; long-running work happens on goroutines the
// service owns and Stop winds down.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Component pairs a service with the name used in logs.
type Component struct {
	Name    string
	Service Service
}

// Options configures a Run.
type Options struct {
	// Components start in order and stop in reverse order.
	Components []Component
	// ShutdownTimeout bounds the whole stop sequence. Zero means 30s.
	ShutdownTimeout time.Duration
}

// Run starts every component, waits for SIGINT/SIGTERM or context
// cancellation, then stops them in reverse order. A component that fails to
// start aborts the run after stopping the ones already started.
func Run(ctx context.Context, opts Options, log logger.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := make([]Component, 0, len(opts.Components))

	for _, c := range opts.Components {
		log.Info().Str("service", c.Name).Msg("Starting service")

		if err := c.Service.Start(ctx); err != nil {
			stopComponents(started, opts.ShutdownTimeout, log)

			return fmt.Errorf("failed to start %s: %w", c.Name, err)
		}

		started = append(started, c)
	}

	<-ctx.Done()

	log.Info().Msg("Shutdown signal received")

	stopComponents(started, opts.ShutdownTimeout, log)

	return nil
}

func stopComponents(started []Component, timeout time.Duration, log logger.Logger) {
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for i := len(started) - 1; i >= 0; i-- {
		c := started[i]

		if err := c.Service.Stop(ctx); err != nil {
			log.Error().Err(err).Str("service", c.Name).Msg("Service failed to stop cleanly")
		} else {
			log.Info().Str("service", c.Name).Msg("Service stopped")
		}
	}
}

// CreateComponentLogger builds the named component's logger from config.
func CreateComponentLogger(component string, config *logger.Config) (logger.Logger, error) {
	return logger.New(config, component)
}

// SetupTelemetry initializes OTLP trace and metric export when an endpoint
// is configured. A disabled exporter is not an error; the process runs
// without a collector.
func SetupTelemetry(ctx context.Context, cfg logger.TelemetryConfig, log logger.Logger) error {
	if _, err := logger.InitTracing(ctx, cfg); err != nil {
		if !errors.Is(err, logger.ErrTelemetryDisabled) {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}

		log.Debug().Msg("Tracing disabled, no OTLP endpoint configured")
	}

	if _, err := logger.InitMetrics(ctx, cfg); err != nil {
		if !errors.Is(err, logger.ErrTelemetryDisabled) {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}

		log.Debug().Msg("Metrics disabled, no OTLP endpoint configured")
	}

	return nil
}
