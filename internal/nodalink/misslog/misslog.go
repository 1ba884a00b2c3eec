// Package misslog records triggers that matched no scenario.
//
// Records land in two places: the shared store's bounded ring (for the live
// editor) and an append-only JSON-Lines file (so authoring suggestions
// survive restarts). One JSON object per line; malformed lines are skipped
// on read rather than failing the whole file.
package misslog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Record is one unmatched trigger: the fingerprint that found nothing plus
// the full context that produced it.
type Record struct {
	Timestamp  string         `json:"timestamp"`
	ScenarioID string         `json:"scenario_id"`
	Context    map[string]any `json:"context"`
}

// Writer appends records to the unmatched log file.
type Writer struct {
	mu   sync.Mutex
	path string
}

// NewWriter returns a Writer appending to path. The file and its directory
// are created on first append.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Path returns the log file location.
func (w *Writer) Path() string { return w.path }

// Append writes one record as a single JSON line.
func (w *Writer) Append(rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode unmatched record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open unmatched log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append unmatched record: %w", err)
	}
	return nil
}

// Read returns all parseable records from the log file, oldest first.
// A missing file reads as empty.
func Read(path string) ([]Record, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open unmatched log: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue // tolerate partial writes and legacy lines
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("scan unmatched log: %w", err)
	}
	return records, nil
}

// Suggestion is an aggregated group of unmatched records for one fingerprint.
type Suggestion struct {
	ScenarioID string         `json:"scenario_id"`
	Count      int            `json:"count"`
	FirstSeen  string         `json:"first_seen"`
	LastSeen   string         `json:"last_seen"`
	Context    map[string]any `json:"context"`
}

// Suggestions groups records by fingerprint and returns the top groups,
// sorted descending by count and then by last occurrence. A non-positive
// limit means 10.
func Suggestions(records []Record, limit int) []Suggestion {
	if limit <= 0 {
		limit = 10
	}

	groups := make(map[string]*Suggestion)
	for _, rec := range records {
		g, ok := groups[rec.ScenarioID]
		if !ok {
			groups[rec.ScenarioID] = &Suggestion{
				ScenarioID: rec.ScenarioID,
				Count:      1,
				FirstSeen:  rec.Timestamp,
				LastSeen:   rec.Timestamp,
				Context:    rec.Context,
			}
			continue
		}
		g.Count++
		g.LastSeen = rec.Timestamp
	}

	out := make([]Suggestion, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].LastSeen != out[j].LastSeen {
			return out[i].LastSeen > out[j].LastSeen
		}
		return out[i].ScenarioID < out[j].ScenarioID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
