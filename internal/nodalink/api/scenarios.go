package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/nodalink/nodalink/internal/nodalink/fingerprint"
	"github.com/nodalink/nodalink/internal/nodalink/scenario"
	"github.com/nodalink/nodalink/internal/nodalink/state"
	"github.com/nodalink/nodalink/internal/nodalink/store"
)

const maxBodyBytes = 4 * 1024 * 1024

func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.All())
}

func (s *Server) handleGetScenario(w http.ResponseWriter, r *http.Request) {
	fp := r.PathValue("id")
	sc, ok := s.store.Get(fp)
	if !ok {
		writeError(w, http.StatusNotFound, "scenario %q not found", fp)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleCreateScenario(w http.ResponseWriter, r *http.Request) {
	sc, fp, ok := s.decodeScenario(w, r)
	if !ok {
		return
	}
	if _, exists := s.store.Get(fp); exists {
		writeError(w, http.StatusBadRequest, "scenario %q already exists", fp)
		return
	}
	now := time.Now().Format(time.RFC3339)
	sc.CreatedAt = now
	sc.UpdatedAt = now

	ctx, cancel := persistContext(r)
	defer cancel()
	if _, err := s.store.Put(ctx, sc); err != nil {
		writePersistError(w, err)
		return
	}
	s.writes.Add(1)
	s.state.SetScenarios(s.store.All(), "")
	writeJSON(w, http.StatusCreated, map[string]any{"fingerprint": fp, "scenario": sc})
}

func (s *Server) handleUpdateScenario(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	prev, ok := s.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "scenario %q not found", id)
		return
	}
	sc, fp, ok := s.decodeScenario(w, r)
	if !ok {
		return
	}
	sc.CreatedAt = prev.CreatedAt
	sc.UpdatedAt = time.Now().Format(time.RFC3339)

	// Re-keying (the update changed a fingerprint component) replaces the old
	// entry in the same persisted write.
	next := s.store.All()
	delete(next, id)
	next[fp] = sc

	ctx, cancel := persistContext(r)
	defer cancel()
	if err := s.store.Replace(ctx, next); err != nil {
		writePersistError(w, err)
		return
	}
	s.writes.Add(1)
	s.state.SetScenarios(s.store.All(), "")
	writeJSON(w, http.StatusOK, map[string]any{"fingerprint": fp, "scenario": sc})
}

func (s *Server) handleDeleteScenario(w http.ResponseWriter, r *http.Request) {
	fp := r.PathValue("id")
	ctx, cancel := persistContext(r)
	defer cancel()
	if err := s.store.Delete(ctx, fp); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "scenario %q not found", fp)
			return
		}
		writePersistError(w, err)
		return
	}
	s.writes.Add(1)
	s.state.SetScenarios(s.store.All(), "")
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "fingerprint": fp})
}

func (s *Server) handleClearScenarios(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := persistContext(r)
	defer cancel()
	if err := s.store.Replace(ctx, nil); err != nil {
		writePersistError(w, err)
		return
	}
	s.writes.Add(1)
	s.state.SetScenarios(nil, state.EventCleared)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleValidateScenarios(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: %v", err)
		return
	}
	if err := scenario.CheckDocument(raw); err != nil {
		writeJSON(w, http.StatusOK, scenario.FileResult{
			Errors:   []string{err.Error()},
			Warnings: []string{},
		})
		return
	}
	var scenarios map[string]scenario.Scenario
	if err := json.Unmarshal(raw, &scenarios); err != nil {
		writeError(w, http.StatusBadRequest, "parse scenarios: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, scenario.ValidateFile(scenarios))
}

func (s *Server) handleBulkImport(w http.ResponseWriter, r *http.Request) {
	var scenarios map[string]scenario.Scenario
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&scenarios); err != nil {
		writeError(w, http.StatusBadRequest, "parse scenarios: %v", err)
		return
	}
	result := scenario.ValidateFile(scenarios)
	if !result.Valid {
		writeJSON(w, http.StatusBadRequest, result)
		return
	}
	now := time.Now().Format(time.RFC3339)
	for fp, sc := range scenarios {
		if sc.CreatedAt == "" {
			sc.CreatedAt = now
		}
		sc.UpdatedAt = now
		scenarios[fp] = sc
	}

	ctx, cancel := persistContext(r)
	defer cancel()
	if err := s.store.Merge(ctx, scenarios); err != nil {
		writePersistError(w, err)
		return
	}
	s.writes.Add(1)
	s.state.SetScenarios(s.store.All(), state.EventBulkUpdate)
	writeJSON(w, http.StatusOK, map[string]any{
		"imported": len(scenarios),
		"total":    s.store.Len(),
		"warnings": result.Warnings,
	})
}

func (s *Server) handleTimeBuckets(w http.ResponseWriter, r *http.Request) {
	minutes := 60
	if raw := r.URL.Query().Get("minutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "minutes must be a positive integer")
			return
		}
		minutes = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"minutes":      minutes,
		"time_buckets": fingerprint.AllTimeBuckets(minutes),
	})
}

func (s *Server) handleDefaults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenario.Defaults())
}

// decodeScenario reads and pre-validates a scenario body so persistence
// errors later in the handler are never validation errors in disguise.
func (s *Server) decodeScenario(w http.ResponseWriter, r *http.Request) (scenario.Scenario, string, bool) {
	var sc scenario.Scenario
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&sc); err != nil {
		writeError(w, http.StatusBadRequest, "parse scenario: %v", err)
		return scenario.Scenario{}, "", false
	}
	fp, err := sc.Fingerprint()
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return scenario.Scenario{}, "", false
	}
	for _, action := range sc.Actions {
		if err := action.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "%v", err)
			return scenario.Scenario{}, "", false
		}
	}
	return sc, fp, true
}
