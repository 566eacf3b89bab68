// Copyright 2025 Nexus
// SPDX-License-Identifier: Apache-2.0

// Package server wires the query orchestration core, the tool registry
// and the GitHub OAuth flow into one HTTP surface.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ADML003/Nexus-AgentHack/agent"
	"github.com/ADML003/Nexus-AgentHack/shared/logger"
	"github.com/ADML003/Nexus-AgentHack/tools"
)

// Version is reported on the health and root endpoints.
const Version = "1.0.0"

// Server holds the HTTP handler dependencies.
type Server struct {
	cfg     Config
	service *agent.Service
	tools   *tools.Registry
	auth    *GitHubAuth
	log     *logger.Logger
	stats   *counters
	started time.Time
}

// NewServer creates a Server. auth may be nil when GitHub OAuth is not
// configured; its routes then answer 503.
func NewServer(cfg Config, service *agent.Service, registry *tools.Registry, auth *GitHubAuth) *Server {
	return &Server{
		cfg:     cfg,
		service: service,
		tools:   registry,
		auth:    auth,
		log:     logger.New("server"),
		stats:   newCounters(),
		started: time.Now(),
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/", s.rootHandler).Methods("GET")
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/query", s.queryHandler).Methods("POST")
	r.HandleFunc("/api/query", s.queryHandler).Methods("POST")
	r.HandleFunc("/api/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/tools", s.toolsHandler).Methods("GET")
	r.HandleFunc("/tools/registries", s.toolRegistriesHandler).Methods("GET")
	r.HandleFunc("/metrics", s.metricsHandler).Methods("GET")
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/api/auth/github/exchange", s.githubExchangeHandler).Methods("POST")
	r.HandleFunc("/api/auth/github/user", s.githubUserHandler).Methods("GET")
	r.HandleFunc("/api/auth/github/repos", s.githubReposHandler).Methods("GET")

	return r
}

type queryRequest struct {
	// Message and Query are aliases; clients have historically sent both.
	Message         string `json:"message"`
	Query           string `json:"query"`
	ModelPreference string `json:"model_preference"`
}

func (s *Server) queryHandler(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	query := req.Message
	if query == "" {
		query = req.Query
	}

	requestID := uuid.NewString()
	start := time.Now()

	outcome := s.service.Handle(r.Context(), requestID, query, req.ModelPreference)
	s.stats.record(outcome)

	status := "error"
	if outcome.Success {
		status = "success"
	}
	queriesTotal.WithLabelValues(status, outcome.ProviderUsed).Inc()
	queryDuration.WithLabelValues(outcome.ProviderUsed).Observe(time.Since(start).Seconds())

	code := http.StatusOK
	if outcome.ErrorKind == agent.KindEmptyQuery {
		code = http.StatusBadRequest
	}
	writeJSON(w, code, outcome)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	names := s.service.Registry().Names()

	agentBacked := false
	for _, name := range names {
		if name != "mistral-direct" {
			agentBacked = true
			break
		}
	}

	// Degradation is reported in the body; the probe itself stays 200 so
	// the process is not restarted for missing upstream credentials.
	status := "healthy"
	switch {
	case len(names) == 0:
		status = "degraded"
	case !agentBacked:
		status = "fallback_mode"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"service":        "nexus-backend",
		"version":        Version,
		"environment":    s.cfg.Environment,
		"providers":      names,
		"tools":          s.tools.Count(),
		"uptime_seconds": time.Since(s.started).Seconds(),
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	descriptors := s.service.Registry().Descriptors()
	providers := make([]map[string]any, 0, len(descriptors))
	for _, d := range descriptors {
		providers = append(providers, map[string]any{
			"name":     d.Name,
			"priority": d.Priority,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service":          "nexus-backend",
		"version":          Version,
		"environment":      s.cfg.Environment,
		"providers":        providers,
		"tool_count":       s.tools.Count(),
		"github_oauth":     s.auth != nil,
		"uptime_seconds":   time.Since(s.started).Seconds(),
		"max_retries":      s.cfg.MaxRetries,
		"await_timeout_ms": s.cfg.AwaitTimeout.Milliseconds(),
	})
}

func (s *Server) toolsHandler(w http.ResponseWriter, r *http.Request) {
	list := s.tools.Tools()
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": list,
		"count": len(list),
	})
}

func (s *Server) toolRegistriesHandler(w http.ResponseWriter, r *http.Request) {
	registries := map[string]any{}
	for _, source := range []string{tools.SourceBuiltin, tools.SourceCloud} {
		entries := s.tools.BySource(source)
		registries[source] = map[string]any{
			"count": len(entries),
			"tools": entries,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"registries": registries,
		"total":      s.tools.Count(),
	})
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.stats.snapshot()
	snap.UptimeSeconds = time.Since(s.started).Seconds()
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":        "Nexus AgentHack backend",
		"version":        Version,
		"status":         "running",
		"fallback_chain": s.service.Registry().Names(),
		"endpoints": []string{
			"POST /query",
			"GET /health",
			"GET /tools",
			"GET /tools/registries",
			"GET /api/status",
			"GET /metrics",
			"POST /api/auth/github/exchange",
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func sendErrorResponse(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]any{
		"success": false,
		"error":   message,
	})
}
