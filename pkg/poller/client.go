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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/carverauto/hostpulse/pkg/logger"
	"github.com/carverauto/hostpulse/pkg/models"
)

const (
	defaultFetchTimeout = 5 * time.Second

	// maxErrorBody bounds how much of a failed response is read for the
	// error message.
	maxErrorBody = 2048
)

// AgentClient speaks GraphQL over HTTP to one agent. It carries no retry
// policy of its own; retries belong to the worker pool.
type AgentClient struct {
	agentID   string
	queryURL  string
	healthURL string
	client    *http.Client
	logger    logger.Logger
}

// NewAgentClient creates a client for the given agent endpoint. The timeout
// caps every request; callers usually tighten it further per attempt through
// the context.
func NewAgentClient(agentID string, endpoint *models.AgentEndpoint, timeout time.Duration, log logger.Logger) *AgentClient {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}

	return &AgentClient{
		agentID:   agentID,
		queryURL:  endpoint.QueryURL(),
		healthURL: endpoint.HealthURL(),
		client:    &http.Client{Timeout: timeout},
		logger:    log,
	}
}

// queryRequest is the request body the agent's query endpoint expects.
type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse struct {
	Data   *queryData       `json:"data"`
	Errors []queryErrorBody `json:"errors"`
}

type queryErrorBody struct {
	Message string `json:"message"`
}

type queryData struct {
	Telemetry *telemetryPayload    `json:"telemetry"`
	Health    *healthStatusPayload `json:"health"`
}

// Payload structs carry the agent's GraphQL field names, so their tags are
// camelCase rather than this module's usual snake_case.
type telemetryPayload struct {
	CPU       *cpuPayload     `json:"cpu"`
	Memory    *memoryPayload  `json:"memory"`
	Disks     []diskPayload   `json:"disks"`
	Network   *networkPayload `json:"network"`
	Host      *hostPayload    `json:"host"`
	Timestamp time.Time       `json:"timestamp"`
}

type cpuPayload struct {
	UsagePercent float64 `json:"usagePercent"`
	CoreCount    int     `json:"coreCount"`
}

type memoryPayload struct {
	TotalBytes     float64 `json:"totalBytes"`
	UsedBytes      float64 `json:"usedBytes"`
	AvailableBytes float64 `json:"availableBytes"`
	UsedPercent    float64 `json:"usedPercent"`
}

type diskPayload struct {
	MountPoint  string  `json:"mountPoint"`
	TotalBytes  float64 `json:"totalBytes"`
	UsedBytes   float64 `json:"usedBytes"`
	FreeBytes   float64 `json:"freeBytes"`
	UsedPercent float64 `json:"usedPercent"`
}

type networkPayload struct {
	BytesSent        float64 `json:"bytesSent"`
	BytesRecv        float64 `json:"bytesRecv"`
	PacketsSent      float64 `json:"packetsSent"`
	PacketsRecv      float64 `json:"packetsRecv"`
	UploadSpeedBps   float64 `json:"uploadSpeedBps"`
	DownloadSpeedBps float64 `json:"downloadSpeedBps"`
}

type hostPayload struct {
	Hostname      string  `json:"hostname"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

type healthStatusPayload struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Fetch runs the named query against the agent and flattens the response
// into metric samples. Every failure comes back as a *models.AgentError so
// callers can branch on kind without unwrapping transport errors.
func (c *AgentClient) Fetch(ctx context.Context, query string) ([]models.MetricSample, error) {
	document, err := queryDocument(query)
	if err != nil {
		return nil, c.failure(models.AgentMalformed, err)
	}

	payload, err := json.Marshal(queryRequest{Query: document})
	if err != nil {
		return nil, c.failure(models.AgentMalformed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.queryURL, bytes.NewReader(payload))
	if err != nil {
		return nil, c.failure(models.AgentUnreachable, err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.failure(classifyTransportError(err), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return nil, c.failure(models.AgentMalformed,
			fmt.Errorf("%w: %d: %s", errUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	var decoded queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, c.failure(models.AgentMalformed, err)
	}

	if len(decoded.Errors) > 0 {
		return nil, c.failure(models.AgentMalformed,
			fmt.Errorf("%w: %s", errExecutionFailed, decoded.Errors[0].Message))
	}

	samples, err := c.flattenResponse(query, decoded.Data)
	if err != nil {
		return nil, c.failure(models.AgentMalformed, err)
	}

	c.logger.Debug().
		Str("agent_id", c.agentID).
		Str("query", query).
		Int("samples", len(samples)).
		Msg("Fetched agent telemetry")

	return samples, nil
}

// Health probes the agent's health endpoint. It reports Down on any failure
// and never returns an error.
func (c *AgentClient) Health(ctx context.Context) models.HealthStatus {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return models.HealthDown
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("agent_id", c.agentID).Msg("Agent health probe failed")

		return models.HealthDown
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug().
			Int("status", resp.StatusCode).
			Str("agent_id", c.agentID).
			Msg("Agent health probe returned non-OK status")

		return models.HealthDown
	}

	return models.HealthUp
}

func (c *AgentClient) flattenResponse(query string, data *queryData) ([]models.MetricSample, error) {
	if data == nil {
		return nil, errMissingData
	}

	now := time.Now().UTC()

	if query == models.QueryHealth {
		if data.Health == nil {
			return nil, errMissingData
		}

		return flattenHealth(c.agentID, data.Health, now), nil
	}

	if data.Telemetry == nil {
		return nil, errMissingData
	}

	return flattenTelemetry(c.agentID, data.Telemetry, now), nil
}

func (c *AgentClient) failure(kind models.AgentErrorKind, err error) error {
	return &models.AgentError{Kind: kind, AgentID: c.agentID, Err: err}
}

// classifyTransportError maps a transport failure onto the agent error
// taxonomy. Deadline and net timeouts become Timeout; everything else at this
// level means the agent could not be reached.
func classifyTransportError(err error) models.AgentErrorKind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.AgentTimeout
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.AgentTimeout
	}

	return models.AgentUnreachable
}
