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

package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validServerConfig() *ServerConfig {
	return &ServerConfig{
		Agents: map[string]*AgentEndpoint{
			"agent-a": {Host: "agent-a"},
		},
		Database: PostgresConfig{Host: "timescale", Database: "hostpulse"},
		NATS:     &NATSConfig{URL: "nats://broker:4222"},
	}
}

func TestServerConfigValidateDefaults(t *testing.T) {
	cfg := validServerConfig()

	require.NoError(t, cfg.Validate())

	assert.Equal(t, Duration(5*time.Second), cfg.PollInterval)
	assert.Equal(t, Duration(5*time.Second), cfg.PollTimeout)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 16, cfg.QueueSize)
	assert.Equal(t, ":8090", cfg.ListenAddr)
	assert.Equal(t, "hostpulse-server", cfg.ServerID)
	assert.NotNil(t, cfg.Logging)

	ep := cfg.Agents["agent-a"]
	require.NotNil(t, ep)
	assert.Equal(t, 8000, ep.Port)
	assert.Equal(t, "/health", ep.HealthPath)
	assert.Equal(t, "/graphql", ep.QueryPath)
	assert.Equal(t, QueryExtended, ep.Query)

	assert.Equal(t, Duration(time.Second), cfg.Gate.ProbeInterval)
	assert.Equal(t, Duration(2*time.Second), cfg.Gate.ProbeTimeout)
	assert.Equal(t, Duration(0), cfg.Gate.MaxWait)
}

func TestServerConfigValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ServerConfig)
		wantErr string
	}{
		{
			name:    "no agents",
			mutate:  func(c *ServerConfig) { c.Agents = nil },
			wantErr: "at least one agent endpoint is required",
		},
		{
			name: "agent without host",
			mutate: func(c *ServerConfig) {
				c.Agents = map[string]*AgentEndpoint{"bad": {}}
			},
			wantErr: "host or base_url is required",
		},
		{
			name: "unknown query shape",
			mutate: func(c *ServerConfig) {
				c.Agents["agent-a"].Query = "everything"
			},
			wantErr: "unknown query shape",
		},
		{
			name:    "missing database host",
			mutate:  func(c *ServerConfig) { c.Database.Host = "" },
			wantErr: "database host is required",
		},
		{
			name:    "missing database name",
			mutate:  func(c *ServerConfig) { c.Database.Database = "" },
			wantErr: "database name is required",
		},
		{
			name:    "missing broker url",
			mutate:  func(c *ServerConfig) { c.NATS = nil },
			wantErr: "nats url is required",
		},
		{
			name:    "negative retries",
			mutate:  func(c *ServerConfig) { c.RetryAttempts = -1 },
			wantErr: "retry_attempts must be positive",
		},
		{
			name:    "negative gate wait",
			mutate:  func(c *ServerConfig) { c.Gate.MaxWait = Duration(-time.Second) },
			wantErr: "max_wait must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validServerConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestServerConfigFoldsSingleAgent(t *testing.T) {
	cfg := validServerConfig()
	cfg.Agents = nil
	cfg.Agent = &AgentEndpoint{
		Host:         "10.0.0.7",
		PollInterval: Duration(2 * time.Second),
		Timeout:      Duration(time.Second),
	}

	require.NoError(t, cfg.Validate())

	require.Len(t, cfg.Agents, 1)
	ep := cfg.Agents["10.0.0.7"]
	require.NotNil(t, ep)
	assert.Equal(t, "http://10.0.0.7:8000", ep.ResolveBaseURL())
	assert.Equal(t, Duration(2*time.Second), cfg.PollInterval)
	assert.Equal(t, Duration(time.Second), cfg.PollTimeout)
}

func TestAgentServiceConfigValidate(t *testing.T) {
	cfg := &AgentServiceConfig{}

	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8000", cfg.ListenAddr)
	assert.Equal(t, "/health", cfg.HealthPath)
	assert.Equal(t, "/graphql", cfg.QueryPath)

	cfg = &AgentServiceConfig{HealthPath: "health"}
	assert.Error(t, cfg.Validate())
}

func TestAgentEndpointURLs(t *testing.T) {
	ep := &AgentEndpoint{Host: "agent-b", Port: 9000, HealthPath: "/health", QueryPath: "/graphql"}

	assert.Equal(t, "http://agent-b:9000/health", ep.HealthURL())
	assert.Equal(t, "http://agent-b:9000/graphql", ep.QueryURL())

	ep.BaseURL = "https://edge.example.com"
	assert.Equal(t, "https://edge.example.com/graphql", ep.QueryURL())
}

func TestDurationUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    time.Duration
		wantErr bool
	}{
		{name: "string form", payload: `"2m30s"`, want: 2*time.Minute + 30*time.Second},
		{name: "numeric nanoseconds", payload: `1500000000`, want: 1500 * time.Millisecond},
		{name: "garbage string", payload: `"soon"`, wantErr: true},
		{name: "wrong type", payload: `true`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration

			err := json.Unmarshal([]byte(tt.payload), &d)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, time.Duration(d))
		})
	}
}

func TestReadinessStateMarshalJSON(t *testing.T) {
	out, err := json.Marshal(map[string]ReadinessState{
		"broker": ReadinessReady,
		"store":  ReadinessUnreachable,
	})

	require.NoError(t, err)
	assert.JSONEq(t, `{"broker":"ready","store":"unreachable"}`, string(out))
}

func TestNATSConfigAddr(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{url: "nats://broker.internal:4222", want: "broker.internal:4222"},
		{url: "tls://broker.internal:4223", want: "broker.internal:4223"},
		{url: "nats://broker.internal", want: "broker.internal:4222"},
		{url: "broker.internal:4222", want: "broker.internal:4222"},
		{url: "broker.internal", want: "broker.internal:4222"},
	}

	for _, tt := range tests {
		cfg := NATSConfig{URL: tt.url}
		assert.Equal(t, tt.want, cfg.Addr(), "url %q", tt.url)
	}
}
