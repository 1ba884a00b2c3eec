// Package store persists the scenario set to scenarios.json and exposes
// CRUD over it. The store holds the authoritative in-memory copy; mutations
// persist to disk before they commit, so a failed save never leaves memory
// and disk disagreeing.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/nodalink/nodalink/internal/nodalink/scenario"
)

// ErrNotFound is returned when no scenario exists for a fingerprint.
var ErrNotFound = errors.New("scenario not found")

// Store is a file-backed scenario table keyed by canonical fingerprint.
// Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	path      string
	scenarios map[string]scenario.Scenario
}

// New creates a store persisting to path. Call Load to read existing data.
func New(path string) *Store {
	return &Store{
		path:      path,
		scenarios: map[string]scenario.Scenario{},
	}
}

// ReadFile reads and validates scenarios.json without touching the in-memory
// set. A missing file reads as an empty set. Structural problems fail the
// read; entries that fail validation on their own are dropped and reported as
// warnings, so one bad rule never takes the rest of the file down.
func (s *Store) ReadFile() (map[string]scenario.Scenario, []string, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]scenario.Scenario{}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read scenarios %s: %w", s.path, err)
	}

	if err := scenario.CheckDocument(raw); err != nil {
		return nil, nil, err
	}
	var scenarios map[string]scenario.Scenario
	if err := json.Unmarshal(raw, &scenarios); err != nil {
		return nil, nil, fmt.Errorf("parse scenarios %s: %w", s.path, err)
	}
	if scenarios == nil {
		scenarios = map[string]scenario.Scenario{}
	}

	var warnings []string
	for fp, sc := range scenarios {
		if res := scenario.ValidateFile(map[string]scenario.Scenario{fp: sc}); len(res.Errors) > 0 {
			warnings = append(warnings, fmt.Sprintf("dropped invalid entry: %s", res.Errors[0]))
			delete(scenarios, fp)
		}
	}
	warnings = append(warnings, scenario.ValidateFile(scenarios).Warnings...)
	return scenarios, warnings, nil
}

// Load reads scenarios.json via ReadFile and replaces the in-memory set with
// the surviving entries.
func (s *Store) Load() ([]string, error) {
	scenarios, warnings, err := s.ReadFile()
	if err != nil {
		return nil, err
	}
	s.SetAll(scenarios)
	return warnings, nil
}

// SetAll replaces the in-memory set without persisting. Callers pass data
// that already came from disk, so writing it back would be a no-op at best
// and would clobber a concurrent external edit at worst.
func (s *Store) SetAll(scenarios map[string]scenario.Scenario) {
	if scenarios == nil {
		scenarios = map[string]scenario.Scenario{}
	}
	s.mu.Lock()
	s.scenarios = scenarios
	s.mu.Unlock()
}

// Get returns the scenario for an exact fingerprint.
func (s *Store) Get(fp string) (scenario.Scenario, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scenarios[fp]
	if !ok {
		return scenario.Scenario{}, false
	}
	return sc.Clone(), true
}

// All returns a snapshot copy of the scenario set.
func (s *Store) All() map[string]scenario.Scenario {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]scenario.Scenario, len(s.scenarios))
	for fp, sc := range s.scenarios {
		out[fp] = sc.Clone()
	}
	return out
}

// Len returns the number of stored scenarios.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.scenarios)
}

// Put validates the scenario, stores it under its canonical fingerprint and
// persists. Returns the fingerprint the scenario was stored under.
func (s *Store) Put(ctx context.Context, sc scenario.Scenario) (string, error) {
	fp, err := sc.Fingerprint()
	if err != nil {
		return "", err
	}
	for _, action := range sc.Actions {
		if err := action.Validate(); err != nil {
			return "", fmt.Errorf("%w", err)
		}
	}
	if len(sc.Actions) == 0 {
		slog.Warn("scenario stored with no actions", "fingerprint", fp)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.scenarios[fp]
	s.scenarios[fp] = sc
	if err := s.saveLocked(ctx); err != nil {
		if existed {
			s.scenarios[fp] = prev
		} else {
			delete(s.scenarios, fp)
		}
		return "", err
	}
	return fp, nil
}

// Delete removes a scenario and persists. ErrNotFound when absent.
func (s *Store) Delete(ctx context.Context, fp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.scenarios[fp]
	if !ok {
		return ErrNotFound
	}
	delete(s.scenarios, fp)
	if err := s.saveLocked(ctx); err != nil {
		s.scenarios[fp] = prev
		return err
	}
	return nil
}

// Replace swaps the entire scenario set and persists. Used by clear and
// bulk import. On save failure the previous set is restored.
func (s *Store) Replace(ctx context.Context, scenarios map[string]scenario.Scenario) error {
	if scenarios == nil {
		scenarios = map[string]scenario.Scenario{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.scenarios
	s.scenarios = scenarios
	if err := s.saveLocked(ctx); err != nil {
		s.scenarios = prev
		return err
	}
	return nil
}

// Merge adds or overwrites the given scenarios and persists, keeping
// everything else. On save failure the previous set is restored.
func (s *Store) Merge(ctx context.Context, scenarios map[string]scenario.Scenario) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := make(map[string]scenario.Scenario, len(s.scenarios))
	for fp, sc := range s.scenarios {
		prev[fp] = sc
	}
	for fp, sc := range scenarios {
		s.scenarios[fp] = sc
	}
	if err := s.saveLocked(ctx); err != nil {
		s.scenarios = prev
		return err
	}
	return nil
}

// saveLocked writes the scenario set atomically: temp file in the target
// directory, then rename. Honors ctx so a stuck disk surfaces as a timeout
// instead of wedging the control plane.
func (s *Store) saveLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("persist scenarios: %w", err)
	}
	data, err := json.MarshalIndent(s.scenarios, "", "  ")
	if err != nil {
		return fmt.Errorf("encode scenarios: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- writeAtomic(s.path, append(data, '\n'))
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("persist scenarios: %w", ctx.Err())
	}
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create scenarios dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".scenarios-*.json")
	if err != nil {
		return fmt.Errorf("create temp scenarios: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp scenarios: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp scenarios: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace scenarios: %w", err)
	}
	return nil
}

// Validate runs the file-level validation over the current set.
func (s *Store) Validate() scenario.FileResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scenario.ValidateFile(s.scenarios)
}
