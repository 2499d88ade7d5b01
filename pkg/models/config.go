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
	"fmt"
	"time"

	"github.com/carverauto/hostpulse/pkg/logger"
)

// Duration wraps time.Duration so configs accept both "5s" strings and plain
// nanosecond numbers.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		// parse numeric as nanoseconds
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

var (
	errInvalidDuration        = fmt.Errorf("invalid duration")
	errNoAgentsConfigured     = fmt.Errorf("at least one agent endpoint is required")
	errAgentHostRequired      = fmt.Errorf("agent host or base_url is required")
	errUnknownQueryShape      = fmt.Errorf("unknown query shape (expected basic, extended, or health)")
	errDatabaseHostRequired   = fmt.Errorf("database host is required")
	errDatabaseNameRequired   = fmt.Errorf("database name is required")
	errBrokerURLRequired      = fmt.Errorf("nats url is required")
	errRetryAttemptsInvalid   = fmt.Errorf("retry_attempts must be positive")
	errWorkersInvalid         = fmt.Errorf("workers must be positive")
	errQueueSizeInvalid       = fmt.Errorf("queue_size must be positive")
	errGateMaxWaitNegative    = fmt.Errorf("gate max_wait must be non-negative")
	errPollIntervalNegative   = fmt.Errorf("poll_interval must be non-negative")
	errAgentTimeoutNegative   = fmt.Errorf("agent timeout must be non-negative")
	errHealthPathMissingSlash = fmt.Errorf("health_path must start with /")
	errQueryPathMissingSlash  = fmt.Errorf("query_path must start with /")
)

// Defaults applied during validation.
const (
	defaultPollInterval   = 5 * time.Second
	defaultPollTimeout    = 5 * time.Second
	defaultRetryAttempts  = 3
	defaultWorkers        = 4
	defaultQueueSize      = 16
	defaultAgentPort      = 8000
	defaultHealthPath     = "/health"
	defaultQueryPath      = "/graphql"
	defaultProbeInterval  = time.Second
	defaultProbeTimeout   = 2 * time.Second
	defaultServerListen   = ":8090"
	defaultAgentListen    = ":8000"
	defaultServerIdentity = "hostpulse-server"
)

// TLSConfig names the certificate material for a TLS client connection.
type TLSConfig struct {
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
	CAFile   string `json:"ca_file,omitempty"`
}

// CORSConfig controls cross-origin access to an HTTP listener. An empty
// origin list means allow any origin.
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins,omitempty"`
	AllowCredentials bool     `json:"allow_credentials,omitempty"`
}

// PostgresConfig describes the time-series store connection.
type PostgresConfig struct {
	Host               string            `json:"host"`
	Port               int               `json:"port,omitempty"`
	Database           string            `json:"database"`
	Username           string            `json:"username,omitempty"`
	Password           string            `json:"password,omitempty"`
	SSLMode            string            `json:"ssl_mode,omitempty"`
	ApplicationName    string            `json:"application_name,omitempty"`
	MaxConnections     int32             `json:"max_connections,omitempty"`
	MinConnections     int32             `json:"min_connections,omitempty"`
	MaxConnLifetime    Duration          `json:"max_conn_lifetime,omitempty"`
	HealthCheckPeriod  Duration          `json:"health_check_period,omitempty"`
	StatementTimeout   Duration          `json:"statement_timeout,omitempty"`
	ExtraRuntimeParams map[string]string `json:"extra_runtime_params,omitempty"`
	CertDir            string            `json:"cert_dir,omitempty"`
	TLS                *TLSConfig        `json:"tls,omitempty"`
}

// Addr returns the host:port the dependency gate probes.
func (c *PostgresConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = 5432
	}

	return fmt.Sprintf("%s:%d", c.Host, port)
}

// GateConfig tunes the dependency gate's probing.
type GateConfig struct {
	ProbeInterval Duration `json:"probe_interval,omitempty"`
	ProbeTimeout  Duration `json:"probe_timeout,omitempty"`
	// MaxWait bounds the total wait per dependency. Zero means wait forever.
	MaxWait Duration `json:"max_wait,omitempty"`
}

// ServerConfig configures the polling server process.
type ServerConfig struct {
	ListenAddr string     `json:"listen_addr,omitempty"`
	ServerID   string     `json:"server_id,omitempty"`
	CORS       CORSConfig `json:"cors,omitempty"`

	// Agent is a single default polling target, reachable through the
	// AGENT_HOST / AGENT_PORT / AGENT_BASE_URL environment surface. It is
	// folded into Agents during validation when the map is empty.
	Agent  *AgentEndpoint            `json:"agent,omitempty"`
	Agents map[string]*AgentEndpoint `json:"agents,omitempty"`

	PollInterval  Duration `json:"poll_interval,omitempty"`
	PollTimeout   Duration `json:"poll_timeout,omitempty"`
	RetryAttempts int      `json:"retry_attempts,omitempty"`
	Workers       int      `json:"workers,omitempty"`
	QueueSize     int      `json:"queue_size,omitempty"`

	Database PostgresConfig `json:"database"`
	NATS     *NATSConfig    `json:"nats,omitempty"`
	Events   *EventsConfig  `json:"events,omitempty"`
	Gate     GateConfig     `json:"gate,omitempty"`

	Logging *logger.Config `json:"logging,omitempty"`
}

// Validate applies defaults and rejects malformed settings. It is called once
// at startup; configuration is never re-read afterwards.
func (c *ServerConfig) Validate() error {
	if c.Logging == nil {
		c.Logging = logger.DefaultConfig()
	}

	if c.ListenAddr == "" {
		c.ListenAddr = defaultServerListen
	}

	if c.ServerID == "" {
		c.ServerID = defaultServerIdentity
	}

	if err := c.validateAgents(); err != nil {
		return err
	}

	if err := c.validateLimits(); err != nil {
		return err
	}

	if c.Database.Host == "" {
		return errDatabaseHostRequired
	}

	if c.Database.Database == "" {
		return errDatabaseNameRequired
	}

	if c.NATS == nil || c.NATS.URL == "" {
		return errBrokerURLRequired
	}

	if c.Events != nil {
		if err := c.Events.Validate(); err != nil {
			return err
		}
	}

	return c.validateGate()
}

func (c *ServerConfig) validateAgents() error {
	if len(c.Agents) == 0 && c.Agent != nil {
		host := c.Agent.Host
		if host == "" {
			host = "default"
		}

		c.Agents = map[string]*AgentEndpoint{host: c.Agent}

		if c.PollInterval == 0 && c.Agent.PollInterval > 0 {
			c.PollInterval = c.Agent.PollInterval
		}

		if c.PollTimeout == 0 && c.Agent.Timeout > 0 {
			c.PollTimeout = c.Agent.Timeout
		}
	}

	if len(c.Agents) == 0 {
		return errNoAgentsConfigured
	}

	for id, ep := range c.Agents {
		if err := normalizeEndpoint(ep); err != nil {
			return fmt.Errorf("agent %q: %w", id, err)
		}
	}

	return nil
}

func (c *ServerConfig) validateLimits() error {
	if c.PollInterval < 0 {
		return errPollIntervalNegative
	}

	if c.PollInterval == 0 {
		c.PollInterval = Duration(defaultPollInterval)
	}

	if c.PollTimeout < 0 {
		return errAgentTimeoutNegative
	}

	if c.PollTimeout == 0 {
		c.PollTimeout = Duration(defaultPollTimeout)
	}

	switch {
	case c.RetryAttempts < 0:
		return errRetryAttemptsInvalid
	case c.RetryAttempts == 0:
		c.RetryAttempts = defaultRetryAttempts
	}

	switch {
	case c.Workers < 0:
		return errWorkersInvalid
	case c.Workers == 0:
		c.Workers = defaultWorkers
	}

	switch {
	case c.QueueSize < 0:
		return errQueueSizeInvalid
	case c.QueueSize == 0:
		c.QueueSize = defaultQueueSize
	}

	return nil
}

func (c *ServerConfig) validateGate() error {
	if c.Gate.MaxWait < 0 {
		return errGateMaxWaitNegative
	}

	if c.Gate.ProbeInterval <= 0 {
		c.Gate.ProbeInterval = Duration(defaultProbeInterval)
	}

	if c.Gate.ProbeTimeout <= 0 {
		c.Gate.ProbeTimeout = Duration(defaultProbeTimeout)
	}

	return nil
}

func normalizeEndpoint(ep *AgentEndpoint) error {
	if ep.Host == "" && ep.BaseURL == "" {
		return errAgentHostRequired
	}

	if ep.Port == 0 {
		ep.Port = defaultAgentPort
	}

	if ep.HealthPath == "" {
		ep.HealthPath = defaultHealthPath
	}

	if ep.QueryPath == "" {
		ep.QueryPath = defaultQueryPath
	}

	if ep.Query == "" {
		ep.Query = QueryExtended
	}

	switch ep.Query {
	case QueryBasic, QueryExtended, QueryHealth:
	default:
		return fmt.Errorf("%w: %q", errUnknownQueryShape, ep.Query)
	}

	if ep.HealthPath[0] != '/' {
		return errHealthPathMissingSlash
	}

	if ep.QueryPath[0] != '/' {
		return errQueryPathMissingSlash
	}

	if ep.Timeout < 0 {
		return errAgentTimeoutNegative
	}

	return nil
}

// AgentServiceConfig configures the agent process.
type AgentServiceConfig struct {
	ListenAddr string `json:"listen_addr,omitempty"`
	// AgentID is the source identity stamped on every sample. Defaults to
	// the hostname when empty.
	AgentID    string         `json:"agent_id,omitempty"`
	HealthPath string         `json:"health_path,omitempty"`
	QueryPath  string         `json:"query_path,omitempty"`
	CORS       CORSConfig     `json:"cors,omitempty"`
	Logging    *logger.Config `json:"logging,omitempty"`
}

// Validate applies defaults and rejects malformed settings.
func (c *AgentServiceConfig) Validate() error {
	if c.Logging == nil {
		c.Logging = logger.DefaultConfig()
	}

	if c.ListenAddr == "" {
		c.ListenAddr = defaultAgentListen
	}

	if c.HealthPath == "" {
		c.HealthPath = defaultHealthPath
	}

	if c.QueryPath == "" {
		c.QueryPath = defaultQueryPath
	}

	if c.HealthPath[0] != '/' {
		return errHealthPathMissingSlash
	}

	if c.QueryPath[0] != '/' {
		return errQueryPathMissingSlash
	}

	return nil
}
