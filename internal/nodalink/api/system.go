package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/nodalink/nodalink/internal/nodalink/config"
	"github.com/nodalink/nodalink/internal/nodalink/fingerprint"
	"github.com/nodalink/nodalink/internal/nodalink/misslog"
)

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Config())
}

// handleSetConfig replaces config.json. The document must validate cleanly;
// warnings alone do not block the write.
func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var cfg config.Config
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "parse config: %v", err)
		return
	}
	result := config.Validate(cfg)
	if !result.Valid {
		writeJSON(w, http.StatusBadRequest, result)
		return
	}
	if err := config.Save(s.configPath, cfg); err != nil {
		writeError(w, http.StatusInternalServerError, "save config: %v", err)
		return
	}
	s.writes.Add(1)
	s.state.SetConfig(cfg)
	writeJSON(w, http.StatusOK, map[string]any{"status": "saved", "warnings": result.Warnings})
}

func (s *Server) handleValidateConfig(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: %v", err)
		return
	}
	if err := config.CheckDocument(raw); err != nil {
		writeJSON(w, http.StatusOK, config.Result{
			Errors:   []string{err.Error()},
			Warnings: []string{},
		})
		return
	}
	var cfg config.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "parse config: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, config.Validate(cfg))
}

func (s *Server) handleUnmatched(w http.ResponseWriter, r *http.Request) {
	records := s.state.Unmatched()
	writeJSON(w, http.StatusOK, map[string]any{
		"unmatched_scenarios": records,
		"count":               len(records),
	})
}

// handleSuggestions aggregates the in-memory unmatched ring; when the ring is
// empty (fresh process) it falls back to the on-disk log.
func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	records := s.state.Unmatched()
	if len(records) == 0 {
		fromDisk, err := misslog.Read(s.missPath)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "read unmatched log: %v", err)
			return
		}
		records = fromDisk
	}
	suggestions := misslog.Suggestions(records, limitParam(r, 10))
	writeJSON(w, http.StatusOK, map[string]any{
		"suggestions": suggestions,
		"count":       len(suggestions),
	})
}

func (s *Server) handleEngineStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Status())
}

func (s *Server) handleEngineReload(w http.ResponseWriter, r *http.Request) {
	if err := s.state.ReloadFromDisk(); err != nil {
		writeError(w, http.StatusInternalServerError, "reload: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "reloaded",
		"scenarios_loaded": s.state.Status().ScenariosLoaded,
	})
}

func (s *Server) handleTestScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Room            string `json:"room"`
		InteractionType string `json:"interaction_type"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "parse request: %v", err)
		return
	}
	if !fingerprint.IsValidIdentifier(req.Room) {
		writeError(w, http.StatusBadRequest, "room %q is not a valid identifier", req.Room)
		return
	}
	if req.InteractionType != "" && !fingerprint.IsValidIdentifier(req.InteractionType) {
		writeError(w, http.StatusBadRequest, "interaction type %q is not a valid identifier", req.InteractionType)
		return
	}
	result, err := s.state.Simulate(req.Room, req.InteractionType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "simulate: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Stats())
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	logs := s.state.Logs(limitParam(r, 100))
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "count": len(logs)})
}

func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	s.state.ClearLogs()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
