// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package controlplane implements the HTTP control plane (C5): the
// authoritative store for firewall rules and the sink for the events the
// drain forwards. It speaks the wire contract of §6 over gorilla/mux.
package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"warden.sh/warden/internal/ebpf/types"
	werrors "warden.sh/warden/internal/errors"
	"warden.sh/warden/internal/logging"
)

// requestsTotal counts HTTP requests served by this control plane, labeled
// by route and outcome. Registered once per process via the package-level
// default registry, same as the rest of the fleet's metrics.
var requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_controlplane_requests_total",
	Help: "Total number of control plane HTTP requests served",
}, []string{"route", "status"})

func init() {
	prometheus.MustRegister(requestsTotal)
}

// ServerConfig holds HTTP hardening parameters. Defaults mirror the
// OWASP-referenced timeouts the rest of the fleet uses.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64
}

// DefaultServerConfig returns secure default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
		MaxBodyBytes:      1 << 20,
	}
}

// Server serves the control plane's HTTP API over a Store.
type Server struct {
	store  *Store
	logger *logging.Logger
	router *mux.Router

	httpServer *http.Server
	cfg        ServerConfig
}

// NewServer builds a Server backed by store. addr is the listen address
// from the [http_server] config section.
func NewServer(store *Store, addr string, cfg ServerConfig, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Server{
		store:  store,
		logger: logger.WithComponent("controlplane"),
		router: mux.NewRouter(),
		cfg:    cfg,
	}
	s.setupRoutes()
	s.router.Use(s.metricsMiddleware)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           http.MaxBytesHandler(s.router, cfg.MaxBodyBytes),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/ping", s.handlePing).Methods("GET")
	s.router.HandleFunc("/firewall-rule/list/{layer}", s.handleListRules).Methods("GET")
	s.router.HandleFunc("/firewall-rule/create", s.handleCreateRule).Methods("POST")
	s.router.HandleFunc("/firewall-rule/delete/{id}", s.handleDeleteRule).Methods("DELETE")
	s.router.HandleFunc("/firewall-log/create", s.handleCreateFirewallLog).Methods("POST")
	s.router.HandleFunc("/command-execution/log", s.handleLogCommandExecution).Methods("POST")
	s.router.HandleFunc("/command-execution/list", s.handleListCommandExecutions).Methods("GET")
	s.router.HandleFunc("/command-execution/stats", s.handleCommandExecutionStats).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// responseWriter wraps http.ResponseWriter to capture the status code for
// metricsMiddleware.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware records every request's route and outcome in
// requestsTotal. /metrics itself is excluded so scraping doesn't inflate
// its own counter.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		requestsTotal.WithLabelValues(route, strconv.Itoa(wrapped.statusCode)).Inc()
	})
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("control plane listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()
}

// Shutdown gracefully stops the server, giving in-flight requests up to 5s
// to complete.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// handlePing answers liveness probes.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("pong"))
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	layer, err := strconv.ParseUint(vars["layer"], 10, 8)
	if err != nil {
		http.Error(w, "invalid layer", http.StatusBadRequest)
		return
	}

	rules, err := s.store.ListRulesByLayer(uint8(layer))
	if err != nil {
		s.logger.Error("list rules failed", "layer", layer, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if rules == nil {
		rules = []types.Rule{}
	}
	respondWithJSON(w, http.StatusOK, rules)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule types.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	created, err := s.store.CreateRule(rule)
	if err != nil {
		s.logger.Warn("reject rule create", "error", err)
		writeStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.DeleteRule(id); err != nil {
		s.logger.Warn("delete rule failed", "id", id, "error", err)
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeStoreError maps a Store error's Kind to an HTTP status, falling back
// to 500 for anything not explicitly categorized.
func writeStoreError(w http.ResponseWriter, err error) {
	switch werrors.GetKind(err) {
	case werrors.KindValidation:
		http.Error(w, err.Error(), http.StatusBadRequest)
	case werrors.KindNotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) handleCreateFirewallLog(w http.ResponseWriter, r *http.Request) {
	var log types.FirewallLogData
	if err := json.NewDecoder(r.Body).Decode(&log); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	stored, err := s.store.CreateFirewallLog(log)
	if err != nil {
		s.logger.Error("insert firewall log failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	respondWithJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleLogCommandExecution(w http.ResponseWriter, r *http.Request) {
	var form types.CommandExecutionRequestForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	stored, err := s.store.CreateCommandExecution(form)
	if err != nil {
		s.logger.Error("insert command execution failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	respondWithJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleListCommandExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	executions, err := s.store.ListCommandExecutions(limit, offset)
	if err != nil {
		s.logger.Error("list command executions failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if executions == nil {
		executions = []types.CommandExecutionData{}
	}
	respondWithJSON(w, http.StatusOK, executions)
}

func (s *Server) handleCommandExecutionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.CommandStats()
	if err != nil {
		s.logger.Error("command stats failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if stats == nil {
		stats = []types.CommandStat{}
	}
	respondWithJSON(w, http.StatusOK, stats)
}

// respondWithJSON marshals payload and writes it with the given status code.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, fmt.Sprintf("marshal response: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
