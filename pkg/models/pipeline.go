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
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Named query shapes the agent understands.
const (
	QueryBasic    = "basic"
	QueryExtended = "extended"
	QueryHealth   = "health"
)

// PollTask is one unit of poll work. Tasks are created by the scheduler on
// each tick, immutable, and consumed exactly once by a worker slot.
type PollTask struct {
	ID          uuid.UUID `json:"id"`
	AgentID     string    `json:"agent_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// NewPollTask builds a task for the given agent at the given tick time.
func NewPollTask(agentID string, scheduledAt time.Time) PollTask {
	return PollTask{
		ID:          uuid.New(),
		AgentID:     agentID,
		ScheduledAt: scheduledAt,
	}
}

// AgentEndpoint describes how to reach one agent. Read-only after startup.
type AgentEndpoint struct {
	Host       string `json:"host"`
	Port       int    `json:"port,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
	HealthPath string `json:"health_path,omitempty"`
	QueryPath  string `json:"query_path,omitempty"`
	// Query selects the named query shape sent on each poll.
	Query string `json:"query,omitempty"`
	// PollInterval and Timeout override the server-wide settings for this
	// agent when non-zero.
	PollInterval Duration `json:"poll_interval,omitempty"`
	Timeout      Duration `json:"timeout,omitempty"`
}

// ResolveBaseURL returns the explicit base URL when set, otherwise one built
// from host and port.
func (e *AgentEndpoint) ResolveBaseURL() string {
	if e.BaseURL != "" {
		return e.BaseURL
	}

	return fmt.Sprintf("http://%s:%d", e.Host, e.Port)
}

// HealthURL returns the full URL of the agent's health probe.
func (e *AgentEndpoint) HealthURL() string {
	return e.ResolveBaseURL() + e.HealthPath
}

// QueryURL returns the full URL of the agent's query endpoint.
func (e *AgentEndpoint) QueryURL() string {
	return e.ResolveBaseURL() + e.QueryPath
}

// ReadinessState tracks whether a dependency is reachable. States only move
// Unknown to Unreachable or Ready, then flip between those two; a dependency
// never returns to Unknown once probed.
type ReadinessState int32

const (
	ReadinessUnknown ReadinessState = iota
	ReadinessUnreachable
	ReadinessReady
)

func (s ReadinessState) String() string {
	switch s {
	case ReadinessReady:
		return "ready"
	case ReadinessUnreachable:
		return "unreachable"
	case ReadinessUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state as its string form for health snapshots.
func (s ReadinessState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// HealthStatus is the outcome of an agent health probe.
type HealthStatus int32

const (
	HealthDown HealthStatus = iota
	HealthUp
)

func (s HealthStatus) String() string {
	if s == HealthUp {
		return "up"
	}

	return "down"
}
