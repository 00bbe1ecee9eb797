// Copyright 2025 The Lighthouse Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package transport exposes the bridge facade over HTTP. Every operation
// is JSON in, JSON out; elicitation awaits and expert queues are long
// polls bounded by the request context.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lighthouse-agents/lighthouse/pkg/bridge"
	"github.com/lighthouse-agents/lighthouse/pkg/config"
)

// Server serves the bridge over HTTP.
type Server struct {
	config *config.Config
	bridge *bridge.Bridge
	http   *http.Server
}

// NewServer builds the HTTP server around the bridge.
func NewServer(cfg *config.Config, b *bridge.Bridge) *Server {
	s := &Server{config: cfg, bridge: b}
	s.http = &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router assembles the route table. Exposed separately for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(loggingMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sessions", s.handleCreateSession)

		// Everything below requires a session token.
		r.Group(func(r chi.Router) {
			r.Use(requireIdentity)

			r.Delete("/sessions", s.handleEndSession)
			r.Post("/validate", s.handleValidate)

			r.Post("/events", s.handleAppendEvent)
			r.Post("/events/batch", s.handleAppendBatch)
			r.Get("/events", s.handleQueryEvents)

			r.Post("/elicitations", s.handleCreateElicitation)
			r.Get("/elicitations/{id}", s.handleGetElicitation)
			r.Post("/elicitations/{id}/respond", s.handleRespondElicitation)
			r.Get("/elicitations/{id}/await", s.handleAwaitElicitation)

			r.Post("/experts", s.handleRegisterExpert)
			r.Delete("/experts", s.handleDeregisterExpert)
			r.Post("/experts/heartbeat", s.handleExpertHeartbeat)
			r.Get("/experts/next", s.handleNextEscalation)
			r.Post("/experts/decision", s.handleSubmitDecision)
		})
	})
	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	slog.Info("HTTP server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.bridge.GetHealth()
	status := http.StatusOK
	if h.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

// writeJSON renders one response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps the bridge error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	kind := bridge.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case bridge.KindAuth:
		status = http.StatusUnauthorized
	case bridge.KindAuthorization:
		status = http.StatusForbidden
	case bridge.KindValidation:
		status = http.StatusBadRequest
	case bridge.KindIntegrity:
		status = http.StatusConflict
	case bridge.KindStorage, bridge.KindCache:
		status = http.StatusServiceUnavailable
	case bridge.KindCoordination:
		status = http.StatusGatewayTimeout
	case bridge.KindCancellation:
		status = http.StatusRequestTimeout
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  string(kind),
	})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
