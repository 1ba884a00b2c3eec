// Package state implements the shared coordination store: the single mutable
// holder of scenarios, configuration, stats, engine status, the bounded log
// and unmatched rings, and the WebSocket subscriber set.
//
// Writers take the exclusive lock and publish atomically; readers receive
// snapshot copies, never live references. Change notifications are queued to
// subscribers after the write commits, so an already-connected client always
// observes the committed state next.
package state

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nodalink/nodalink/internal/nodalink/config"
	"github.com/nodalink/nodalink/internal/nodalink/fingerprint"
	"github.com/nodalink/nodalink/internal/nodalink/misslog"
	"github.com/nodalink/nodalink/internal/nodalink/scenario"
)

const (
	maxLogEntries = 1000
	maxUnmatched  = 500

	// subscriberBuffer is the per-subscriber event queue. A subscriber that
	// falls this far behind is dropped on the next broadcast.
	subscriberBuffer = 64
)

// LogEntry is one line in the bounded activity log.
type LogEntry struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// Stats summarises the loaded scenario set.
type Stats struct {
	TotalScenarios   int      `json:"total_scenarios"`
	TotalActions     int      `json:"total_actions"`
	Rooms            []string `json:"rooms"`
	TimeBuckets      []string `json:"time_buckets"`
	InteractionTypes []string `json:"interaction_types"`
}

// EngineStatus mirrors the engine's coarse health fields.
type EngineStatus struct {
	Running          bool   `json:"running"`
	ScenariosLoaded  int    `json:"scenarios_loaded"`
	LastExecution    string `json:"last_execution,omitempty"`
	LastConfigUpdate string `json:"last_config_update,omitempty"`
}

// StatusPatch merges into EngineStatus; nil fields are left untouched.
type StatusPatch struct {
	Running          *bool
	ScenariosLoaded  *int
	LastExecution    *string
	LastConfigUpdate *string
}

// Simulator runs a scenario lookup without dispatching. Implemented by the
// engine and injected so the control plane can expose test runs.
type Simulator interface {
	Simulate(room, interactionType string) (map[string]any, error)
}

// Loader re-reads the on-disk files for ReloadFromDisk. Implemented by the
// app wiring over the rule store and config loader. Both Load methods are
// detached reads with no side effects; ApplyScenarios commits the new set to
// the rule store, and is only called once the whole reload has succeeded.
type Loader interface {
	LoadScenarios() (map[string]scenario.Scenario, []string, error)
	LoadConfig() (config.Config, error)
	ApplyScenarios(map[string]scenario.Scenario)
}

// Store is the process-wide coordination store. The zero value is not usable;
// construct with New.
type Store struct {
	mu        sync.RWMutex
	scenarios map[string]scenario.Scenario
	cfg       config.Config
	stats     Stats
	status    EngineStatus
	logs      []LogEntry
	unmatched []misslog.Record
	subs      map[string]chan Event

	sim    Simulator
	loader Loader
}

// New creates an empty store with default configuration.
func New() *Store {
	return &Store{
		scenarios: map[string]scenario.Scenario{},
		cfg:       config.Default(),
		stats:     Stats{Rooms: []string{}, TimeBuckets: []string{}, InteractionTypes: []string{}},
		subs:      map[string]chan Event{},
	}
}

// SetSimulator injects the engine's simulation entry point.
func (s *Store) SetSimulator(sim Simulator) {
	s.mu.Lock()
	s.sim = sim
	s.mu.Unlock()
}

// SetLoader injects the disk loader used by ReloadFromDisk.
func (s *Store) SetLoader(l Loader) {
	s.mu.Lock()
	s.loader = l
	s.mu.Unlock()
}

// --- scenario and config publication ---------------------------------------

// SetScenarios atomically replaces the scenario set, recomputes stats and
// notifies subscribers. eventType lets callers distinguish plain updates
// from bulk imports and clears; pass "" for the default rules_update.
func (s *Store) SetScenarios(scenarios map[string]scenario.Scenario, eventType string) {
	if eventType == "" {
		eventType = EventRulesUpdate
	}
	if scenarios == nil {
		scenarios = map[string]scenario.Scenario{}
	}

	s.mu.Lock()
	s.scenarios = scenarios
	s.stats = computeStats(scenarios)
	s.status.ScenariosLoaded = len(scenarios)
	snapshot := copyScenarios(scenarios)
	s.notifyLocked(NewEvent(eventType, snapshot))
	s.mu.Unlock()
}

// SetConfig atomically replaces the configuration, stamps the status and
// notifies subscribers.
func (s *Store) SetConfig(cfg config.Config) {
	now := time.Now().Format(time.RFC3339)
	s.mu.Lock()
	s.cfg = cfg.Clone()
	s.status.LastConfigUpdate = now
	s.notifyLocked(NewEvent(EventConfigUpdate, cfg.Clone()))
	s.mu.Unlock()
}

// MergeStatus applies a partial status update and notifies subscribers.
func (s *Store) MergeStatus(patch StatusPatch) {
	s.mu.Lock()
	if patch.Running != nil {
		s.status.Running = *patch.Running
	}
	if patch.ScenariosLoaded != nil {
		s.status.ScenariosLoaded = *patch.ScenariosLoaded
	}
	if patch.LastExecution != nil {
		s.status.LastExecution = *patch.LastExecution
	}
	if patch.LastConfigUpdate != nil {
		s.status.LastConfigUpdate = *patch.LastConfigUpdate
	}
	s.notifyLocked(NewEvent(EventStatusUpdate, s.status))
	s.mu.Unlock()
}

// --- bounded rings ----------------------------------------------------------

// AppendLog pushes an entry onto the activity log, evicting the oldest entry
// past the cap, and notifies subscribers.
func (s *Store) AppendLog(level, message string, data map[string]any) {
	entry := LogEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().Format(time.RFC3339),
		Level:     level,
		Message:   message,
		Data:      data,
	}
	s.mu.Lock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > maxLogEntries {
		s.logs = s.logs[len(s.logs)-maxLogEntries:]
	}
	s.notifyLocked(NewEvent(EventLogUpdate, entry))
	s.mu.Unlock()
}

// AppendUnmatched pushes an unmatched record, evicting past the cap, and
// notifies subscribers.
func (s *Store) AppendUnmatched(rec misslog.Record) {
	s.mu.Lock()
	s.unmatched = append(s.unmatched, rec)
	if len(s.unmatched) > maxUnmatched {
		s.unmatched = s.unmatched[len(s.unmatched)-maxUnmatched:]
	}
	s.notifyLocked(NewEvent(EventUnmatched, rec))
	s.mu.Unlock()
}

// ClearLogs empties the activity log.
func (s *Store) ClearLogs() {
	s.mu.Lock()
	s.logs = nil
	s.mu.Unlock()
}

// --- reads ------------------------------------------------------------------

// Scenarios returns a snapshot copy of the scenario set.
func (s *Store) Scenarios() map[string]scenario.Scenario {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyScenarios(s.scenarios)
}

// Config returns a snapshot copy of the configuration.
func (s *Store) Config() config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Stats returns the current scenario statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyStats(s.stats)
}

// Status returns the current engine status.
func (s *Store) Status() EngineStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Logs returns up to limit most recent log entries, oldest first.
// A non-positive limit returns everything.
func (s *Store) Logs(limit int) []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	logs := s.logs
	if limit > 0 && len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}
	return append([]LogEntry(nil), logs...)
}

// Unmatched returns a copy of the unmatched ring, oldest first.
func (s *Store) Unmatched() []misslog.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]misslog.Record(nil), s.unmatched...)
}

// Snapshot bundles the full current state for WebSocket init messages.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	logs := s.logs
	if len(logs) > 100 {
		logs = logs[len(logs)-100:]
	}
	return map[string]any{
		"scenarios":     copyScenarios(s.scenarios),
		"config":        s.cfg.Clone(),
		"stats":         copyStats(s.stats),
		"engine_status": s.status,
		"logs":          append([]LogEntry(nil), logs...),
	}
}

// --- subscribers ------------------------------------------------------------

// Subscribe registers a new event subscriber and returns its id and channel.
// The channel is closed when the subscriber is dropped or unsubscribed.
func (s *Store) Subscribe() (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, subscriberBuffer)
	s.mu.Lock()
	s.subs[id] = ch
	s.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Store) Unsubscribe(id string) {
	s.mu.Lock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()
}

// Publish broadcasts an event without changing store state. Used for events
// that describe actions rather than data (scenario_test, engine_reload).
func (s *Store) Publish(ev Event) {
	s.mu.Lock()
	s.notifyLocked(ev)
	s.mu.Unlock()
}

// notifyLocked queues ev to every subscriber. Slow subscribers whose buffer
// is full are reaped here rather than blocking the writer.
func (s *Store) notifyLocked(ev Event) {
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("dropping slow event subscriber", "subscriber", id)
			delete(s.subs, id)
			close(ch)
		}
	}
}

// --- coordination operations ------------------------------------------------

// ReloadFromDisk re-reads scenarios and config through the injected loader
// and applies both as one visible transition. Both files are read before
// anything commits, so a failure in either leaves the rule store and the
// in-memory state untouched.
func (s *Store) ReloadFromDisk() error {
	s.mu.RLock()
	loader := s.loader
	s.mu.RUnlock()
	if loader == nil {
		return fmt.Errorf("no loader configured")
	}

	scenarios, warnings, err := loader.LoadScenarios()
	if err != nil {
		s.AppendLog("ERROR", "reload failed: "+err.Error(), nil)
		return err
	}
	cfg, err := loader.LoadConfig()
	if err != nil {
		s.AppendLog("ERROR", "reload failed: "+err.Error(), nil)
		return err
	}
	for _, w := range warnings {
		s.AppendLog("WARNING", w, nil)
	}

	loader.ApplyScenarios(copyScenarios(scenarios))

	now := time.Now().Format(time.RFC3339)
	s.mu.Lock()
	s.scenarios = scenarios
	s.cfg = cfg.Clone()
	s.stats = computeStats(scenarios)
	s.status.ScenariosLoaded = len(scenarios)
	s.status.LastConfigUpdate = now
	s.notifyLocked(NewEvent(EventEngineReload, map[string]any{
		"scenarios": copyScenarios(scenarios),
		"config":    cfg.Clone(),
	}))
	s.mu.Unlock()

	s.AppendLog("INFO", fmt.Sprintf("engine data reloaded: %d scenarios", len(scenarios)), nil)
	return nil
}

// Simulate delegates to the engine's simulator and broadcasts the result.
func (s *Store) Simulate(room, interactionType string) (map[string]any, error) {
	s.mu.RLock()
	sim := s.sim
	s.mu.RUnlock()
	if sim == nil {
		return nil, fmt.Errorf("engine not available")
	}
	result, err := sim.Simulate(room, interactionType)
	if err != nil {
		return nil, err
	}
	s.Publish(NewEvent(EventScenarioTest, result))
	return result, nil
}

// --- helpers ----------------------------------------------------------------

func copyScenarios(in map[string]scenario.Scenario) map[string]scenario.Scenario {
	out := make(map[string]scenario.Scenario, len(in))
	for fp, sc := range in {
		out[fp] = sc.Clone()
	}
	return out
}

func copyStats(in Stats) Stats {
	out := in
	out.Rooms = append([]string(nil), in.Rooms...)
	out.TimeBuckets = append([]string(nil), in.TimeBuckets...)
	out.InteractionTypes = append([]string(nil), in.InteractionTypes...)
	return out
}

// computeStats derives the deterministic summary published on every
// scenario update. Identifier sets are sorted for stable output.
func computeStats(scenarios map[string]scenario.Scenario) Stats {
	rooms := map[string]struct{}{}
	buckets := map[string]struct{}{}
	interactions := map[string]struct{}{}
	totalActions := 0

	for fp, sc := range scenarios {
		c := fingerprint.Parse(fp)
		if c.Room != "" {
			rooms[c.Room] = struct{}{}
		}
		if c.TimeBucket != "" {
			buckets[c.TimeBucket] = struct{}{}
		}
		if c.InteractionType != "" {
			interactions[c.InteractionType] = struct{}{}
		}
		totalActions += len(sc.Actions)
	}

	return Stats{
		TotalScenarios:   len(scenarios),
		TotalActions:     totalActions,
		Rooms:            sortedKeys(rooms),
		TimeBuckets:      sortedKeys(buckets),
		InteractionTypes: sortedKeys(interactions),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
