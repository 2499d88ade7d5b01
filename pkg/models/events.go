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
	"net/url"
	"strings"
	"time"
)

// NATSConfig configures broker connectivity.
type NATSConfig struct {
	URL string `json:"url"`
	// CredsFile points at a NATS credentials file when the broker requires
	// authentication.
	CredsFile  string     `json:"creds_file,omitempty"`
	ServerName string     `json:"server_name,omitempty"`
	CertDir    string     `json:"cert_dir,omitempty"`
	TLS        *TLSConfig `json:"tls,omitempty"`
}

// Validate ensures the NATS configuration is usable.
func (c *NATSConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("nats url is required")
	}

	return nil
}

// Addr returns the host:port the dependency gate probes, stripping the URL
// scheme. The port defaults to 4222 when the URL names none.
func (c *NATSConfig) Addr() string {
	raw := c.URL

	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		raw = u.Host
	}

	if !strings.Contains(raw, ":") {
		raw += ":4222"
	}

	return raw
}

// EventsConfig configures CloudEvent publishing.
type EventsConfig struct {
	Enabled    bool     `json:"enabled"`
	StreamName string   `json:"stream_name,omitempty"`
	Subjects   []string `json:"subjects,omitempty"`
}

// Validate applies stream defaults when publishing is enabled.
func (c *EventsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.StreamName == "" {
		c.StreamName = "events"
	}

	if len(c.Subjects) == 0 {
		c.Subjects = []string{"events.gate.*", "events.poll.*"}
	}

	return nil
}

// CloudEvent represents a CloudEvents v1.0 compliant event.
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	ID              string      `json:"id"`
	Source          string      `json:"source"`
	Type            string      `json:"type"`
	DataContentType string      `json:"datacontenttype"`
	Subject         string      `json:"subject,omitempty"`
	Time            *time.Time  `json:"time,omitempty"`
	Data            interface{} `json:"data,omitempty"`
}

// GateEventData is the payload for dependency readiness transitions.
type GateEventData struct {
	Dependency    string    `json:"dependency"`
	PreviousState string    `json:"previous_state"`
	CurrentState  string    `json:"current_state"`
	Address       string    `json:"address"`
	Timestamp     time.Time `json:"timestamp"`
}

// PollEventData is the payload for per-tick poll outcomes.
type PollEventData struct {
	TaskID      string    `json:"task_id"`
	AgentID     string    `json:"agent_id"`
	Succeeded   bool      `json:"succeeded"`
	Attempts    int       `json:"attempts"`
	SampleCount int       `json:"sample_count"`
	Written     int       `json:"written"`
	Error       string    `json:"error,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at"`
	CompletedAt time.Time `json:"completed_at"`
}
