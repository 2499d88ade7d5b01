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

package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	hpHttp "github.com/carverauto/hostpulse/pkg/http"
	"github.com/carverauto/hostpulse/pkg/logger"
	"github.com/carverauto/hostpulse/pkg/models"
)

const (
	healthPath       = "/health"
	healthDetailPath = "/health/detail"

	readTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second
)

// Server serves the health snapshot on the server process listener. GET
// /health answers 200 or 503 by overall status so orchestrators can gate on
// it; GET /health/detail always answers 200 with the full snapshot.
type Server struct {
	reporter *Reporter
	srv      *http.Server
	log      logger.Logger
}

// NewServer wires the health handlers onto a listener address.
func NewServer(listenAddr string, reporter *Reporter, cors models.CORSConfig, log logger.Logger) *Server {
	s := &Server{
		reporter: reporter,
		log:      log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(healthPath, s.handleHealth)
	mux.HandleFunc(healthDetailPath, s.handleDetail)

	s.srv = &http.Server{
		Addr:         listenAddr,
		Handler:      hpHttp.CommonMiddleware(mux, cors, log),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	return s
}

// Handler exposes the middleware-wrapped handler, mainly for tests.
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
		Str("health_path", healthPath).
		Msg("Health HTTP server listening")

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("Health HTTP server exited")
		}
	}()

	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "health endpoint only accepts GET")
		return
	}

	snap := s.reporter.Snapshot(r.Context())

	status := http.StatusOK
	if !snap.Healthy() {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, snap.Summary())
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "health endpoint only accepts GET")
		return
	}

	s.writeJSON(w, http.StatusOK, s.reporter.Snapshot(r.Context()))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error().Err(err).Msg("failed to encode health response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
