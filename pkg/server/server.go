// Copyright 2026 Workforce Labs
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

// Package server wires the MCP and A2A wire contracts onto HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/workforcelabs/foreman/pkg/config"
	"github.com/workforcelabs/foreman/pkg/consent"
	"github.com/workforcelabs/foreman/pkg/llms"
	"github.com/workforcelabs/foreman/pkg/session"
)

// ToolRunner executes one named tool call. Progress callbacks arrive
// from the worker goroutine; implementations must keep them cheap.
type ToolRunner interface {
	RunTool(ctx context.Context, name string, args map[string]any, progress func(session.ProgressEvent)) (map[string]any, error)
}

// Sampler serves MCP sampling passthrough requests.
type Sampler interface {
	CreateMessage(ctx context.Context, model, prompt string, maxTokens int) (*llms.Response, error)
}

// Deps are the collaborators the server dispatches to.
type Deps struct {
	MCP     *session.MCPService
	A2A     *session.A2AService
	Manager *session.Manager
	Gate    *consent.Gate
	Tools   ToolRunner
	Sampler Sampler
}

// Server is the HTTP face of the orchestrator.
type Server struct {
	cfg  config.ServerConfig
	deps Deps

	httpServer *http.Server
	upgrader   websocket.Upgrader

	// cancelPoll is how often streaming handlers check for external
	// cancellation. Short in tests.
	cancelPoll time.Duration
}

// New builds the server and its route table.
func New(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		cfg:        cfg,
		deps:       deps,
		upgrader:   websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		cancelPoll: 200 * time.Millisecond,
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the chi route table.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// MCP
	r.Post("/initialize", s.handleInitialize)
	r.Get("/resources", s.handleResources)
	r.Get("/resources/*", s.handleReadResource)
	r.Get("/tools", s.handleTools)
	r.Get("/prompts", s.handlePrompts)
	r.Route("/tools/{name}", func(r chi.Router) {
		r.Post("/call", s.handleToolCall)
		r.Post("/cancel", s.handleToolCancel)
		r.Get("/status/{task_id}", s.handleToolStatus)
	})
	r.Post("/sampling/createMessage", s.handleSampling)

	// A2A
	r.Post("/handshake", s.handleHandshake)
	r.Post("/negotiate", s.handleNegotiate)
	r.Post("/communicate", s.handleCommunicate)
	r.Get("/stream/{session_id}", s.handleStream)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	slog.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrVersionMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrSessionInactive):
		status = http.StatusUnauthorized
	case errors.Is(err, consent.ErrNoPolicy), errors.Is(err, consent.ErrConsentDenied):
		status = http.StatusForbidden
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func requestOrigin(r *http.Request) session.Origin {
	return session.Origin{IP: r.RemoteAddr, UserAgent: r.UserAgent()}
}

// callerIdentity derives the user and held permissions from headers.
// Real authentication is an upstream concern; the gate only needs a
// stable identity.
func callerIdentity(r *http.Request) (string, []string) {
	user := r.Header.Get("X-User-Id")
	if user == "" {
		user = "anonymous"
	}
	var perms []string
	if raw := r.Header.Get("X-Permissions"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &perms); err != nil {
			perms = splitComma(raw)
		}
	}
	return user, perms
}

func splitComma(raw string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func sessionID(r *http.Request, bodyID string) string {
	if bodyID != "" {
		return bodyID
	}
	return r.Header.Get("Mcp-Session-Id")
}
