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

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/graphql-go/graphql"

	hpHttp "github.com/carverauto/hostpulse/pkg/http"
	"github.com/carverauto/hostpulse/pkg/logger"
	"github.com/carverauto/hostpulse/pkg/models"
	"github.com/carverauto/hostpulse/pkg/version"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultIdleTimeout  = 60 * time.Second
)

var errAgentConfigRequired = errors.New("agent config is required")

// Server is the agent HTTP surface: a GraphQL query endpoint and a health
// probe.
type Server struct {
	config    *models.AgentServiceConfig
	collector *Collector
	schema    graphql.Schema
	srv       *http.Server
	log       logger.Logger
}

// NewServer wires the collector, schema, and HTTP handlers from a validated
// config.
func NewServer(config *models.AgentServiceConfig, log logger.Logger) (*Server, error) {
	if config == nil {
		return nil, errAgentConfigRequired
	}

	identity := config.AgentID
	if identity == "" {
		if name, err := os.Hostname(); err == nil {
			identity = name
		}
	}

	schema, err := newSchema(version.GetVersion())
	if err != nil {
		return nil, fmt.Errorf("failed to build query schema: %w", err)
	}

	s := &Server{
		config:    config,
		collector: NewCollector(version.GetVersion(), identity, log),
		schema:    schema,
		log:       log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(config.QueryPath, s.handleQuery)
	mux.HandleFunc(config.HealthPath, s.handleHealth)

	s.srv = &http.Server{
		Addr:         config.ListenAddr,
		Handler:      hpHttp.CommonMiddleware(mux, config.CORS, log),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	return s, nil
}

// Handler exposes the full middleware-wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start binds the listener and serves in the background, returning once the
// bind succeeded so startup failures surface immediately.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}

	s.log.Info().
		Str("listen_addr", ln.Addr().String()).
		Str("query_path", s.config.QueryPath).
		Str("health_path", s.config.HealthPath).
		Msg("Agent HTTP server listening")

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("Agent HTTP server exited")
		}
	}()

	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// graphQLRequest is the POST body of a query request.
type graphQLRequest struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrors(w, http.StatusMethodNotAllowed, "query endpoint only accepts POST")
		return
	}

	var req graphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrors(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if req.Query == "" {
		writeErrors(w, http.StatusBadRequest, "query is required")
		return
	}

	result := graphql.Do(graphql.Params{
		Schema:         s.schema,
		RequestString:  req.Query,
		OperationName:  req.OperationName,
		VariableValues: req.Variables,
		RootObject:     map[string]interface{}{snapshotKey: &snapshotHolder{collector: s.collector}},
		Context:        r.Context(),
	})

	if len(result.Errors) > 0 {
		s.log.Warn().
			Str("remote_addr", r.RemoteAddr).
			Int("error_count", len(result.Errors)).
			Str("first_error", result.Errors[0].Message).
			Msg("query returned errors")
	}

	// Execution errors still answer 200 with an errors array in the body.
	writeJSON(w, http.StatusOK, result, s.log)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrors(w, http.StatusMethodNotAllowed, "health endpoint only accepts GET")
		return
	}

	writeJSON(w, http.StatusOK, healthPayload{Status: "OK", Version: version.GetVersion()}, s.log)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}, log logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeErrors(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body := map[string]interface{}{
		"errors": []map[string]string{{"message": message}},
	}

	_ = json.NewEncoder(w).Encode(body)
}
