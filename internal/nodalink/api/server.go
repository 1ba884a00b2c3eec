// Package api implements the control-plane HTTP and WebSocket server.
//
// Endpoints:
//
//	GET    /health                     → service health + version
//	GET    /scenarios                  → full scenario map
//	POST   /scenarios                  → create (201)
//	GET    /scenarios/{id}             → one scenario by fingerprint
//	PUT    /scenarios/{id}             → update (re-keys when the fingerprint changes)
//	DELETE /scenarios/{id}             → delete
//	DELETE /scenarios                  → clear all
//	POST   /scenarios/validate         → validate a scenarios.json document
//	POST   /scenarios/bulk-import      → merge a scenario map
//	GET    /scenarios/time-buckets     → enumerate buckets of a size
//	GET    /scenarios/defaults         → starter scenario set
//	GET    /config, POST /config       → read / replace config.json
//	POST   /config/validate            → validate a config document
//	GET    /unmatched-scenarios        → unmatched ring contents
//	GET    /suggestions                → aggregated rule suggestions
//	GET    /engine/status              → engine status
//	POST   /engine/reload              → reload both files from disk
//	POST   /engine/test-scenario       → simulate a trigger without dispatch
//	GET    /stats                      → scenario statistics
//	GET    /logs, DELETE /logs         → activity log window / clear
//	GET    /ws                         → WebSocket event stream
//
// Error bodies are {"detail": "<message>"}. Mutations persist through the
// rule store before the shared store publishes, so a failed save rolls back
// and subscribers never see uncommitted state.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nodalink/nodalink/common/version"
	"github.com/nodalink/nodalink/internal/nodalink/state"
	"github.com/nodalink/nodalink/internal/nodalink/store"
)

// persistTimeout bounds a single on-disk save; past it the request fails 504.
const persistTimeout = 5 * time.Second

// Server exposes the control plane over one ServeMux.
type Server struct {
	store      *store.Store
	state      *state.Store
	configPath string
	missPath   string
	cors       []string

	writes atomic.Uint64
}

// New creates a control-plane server. configPath is where POST /config
// persists; missPath points at the unmatched log file used as the
// suggestions fallback source; corsOrigins lists allowed origins, with "*"
// (or an empty list) meaning any.
func New(ruleStore *store.Store, shared *state.Store, configPath, missPath string, corsOrigins []string) *Server {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	return &Server{
		store:      ruleStore,
		state:      shared,
		configPath: configPath,
		missPath:   missPath,
		cors:       corsOrigins,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /scenarios", s.handleListScenarios)
	mux.HandleFunc("POST /scenarios", s.handleCreateScenario)
	mux.HandleFunc("DELETE /scenarios", s.handleClearScenarios)
	mux.HandleFunc("POST /scenarios/validate", s.handleValidateScenarios)
	mux.HandleFunc("POST /scenarios/bulk-import", s.handleBulkImport)
	mux.HandleFunc("GET /scenarios/time-buckets", s.handleTimeBuckets)
	mux.HandleFunc("GET /scenarios/defaults", s.handleDefaults)
	mux.HandleFunc("GET /scenarios/{id}", s.handleGetScenario)
	mux.HandleFunc("PUT /scenarios/{id}", s.handleUpdateScenario)
	mux.HandleFunc("DELETE /scenarios/{id}", s.handleDeleteScenario)

	mux.HandleFunc("GET /config", s.handleGetConfig)
	mux.HandleFunc("POST /config", s.handleSetConfig)
	mux.HandleFunc("POST /config/validate", s.handleValidateConfig)

	mux.HandleFunc("GET /unmatched-scenarios", s.handleUnmatched)
	mux.HandleFunc("GET /suggestions", s.handleSuggestions)

	mux.HandleFunc("GET /engine/status", s.handleEngineStatus)
	mux.HandleFunc("POST /engine/reload", s.handleEngineReload)
	mux.HandleFunc("POST /engine/test-scenario", s.handleTestScenario)

	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /logs", s.handleGetLogs)
	mux.HandleFunc("DELETE /logs", s.handleClearLogs)

	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return s.withCORS(mux)
}

// Writes reports how many times this process has persisted the scenario or
// config file through the control plane. The file watcher compares it across
// a change to tell our own saves from external edits.
func (s *Server) Writes() uint64 {
	return s.writes.Load()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "nodalink",
		"version":   version.Version,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// --- middleware --------------------------------------------------------------

// withCORS applies the configured origin policy and answers preflights.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if allowed := s.allowOrigin(origin); allowed != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowed)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowOrigin(origin string) string {
	for _, o := range s.cors {
		if o == "*" {
			return "*"
		}
		if o == origin {
			return origin
		}
	}
	return ""
}

// --- helpers -----------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"detail": fmt.Sprintf(format, args...)})
}

// writePersistError maps a failed save to 504 on timeout, 500 otherwise.
func writePersistError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, "persistence timed out: %v", err)
		return
	}
	writeError(w, http.StatusInternalServerError, "persistence failed: %v", err)
}

// persistContext bounds the save triggered by a mutating request.
func persistContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), persistTimeout)
}

func limitParam(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
