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

	"github.com/carverauto/hostpulse/pkg/agent"
	"github.com/carverauto/hostpulse/pkg/config"
	"github.com/carverauto/hostpulse/pkg/lifecycle"
	"github.com/carverauto/hostpulse/pkg/logger"
	"github.com/carverauto/hostpulse/pkg/models"
	"github.com/carverauto/hostpulse/pkg/version"
)

var (
	errFailedToLoadConfig = fmt.Errorf("failed to load config")
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/hostpulse/agent.json", "Path to agent config file")
	flag.Parse()

	ctx := context.Background()

	cfgLoader := config.NewConfig(nil)

	var cfg models.AgentServiceConfig

	if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	agentLogger, err := lifecycle.CreateComponentLogger("agent", cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() {
		_ = logger.Shutdown()
	}()

	if err := lifecycle.SetupTelemetry(ctx, logger.TelemetryConfig{
		ServiceName:    "hostpulse-agent",
		ServiceVersion: version.GetVersion(),
		OTel:           cfg.Logging.OTel,
	}, agentLogger); err != nil {
		return err
	}

	srv, err := agent.NewServer(&cfg, agentLogger)
	if err != nil {
		return fmt.Errorf("failed to create agent server: %w", err)
	}

	agentLogger.Info().
		Str("version", version.GetFullVersion()).
		Str("listen_addr", cfg.ListenAddr).
		Str("agent_id", cfg.AgentID).
		Msg("Starting agent")

	return lifecycle.Run(ctx, lifecycle.Options{
		Components: []lifecycle.Component{
			{Name: "agent-http", Service: srv},
		},
	}, agentLogger)
}
