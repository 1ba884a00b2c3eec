// Package engine implements the scenario matching engine: it composes
// fingerprints from incoming triggers, resolves them against the loaded
// scenario set with hierarchical fallback, and dispatches the matched
// actions to the automation host.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nodalink/nodalink/internal/nodalink/config"
	"github.com/nodalink/nodalink/internal/nodalink/fingerprint"
	"github.com/nodalink/nodalink/internal/nodalink/misslog"
	"github.com/nodalink/nodalink/internal/nodalink/scenario"
	"github.com/nodalink/nodalink/internal/nodalink/state"
)

// Bridge is the engine's view of the automation host.
type Bridge interface {
	// CallService invokes domain.service against entityID with extra data.
	CallService(ctx context.Context, domain, service, entityID string, data map[string]any) error
	// EntityState returns the current state string of an entity.
	EntityState(ctx context.Context, entityID string) (string, error)
}

// Trigger is one normalised event waiting to be matched.
type Trigger struct {
	Room            string         `json:"room"`
	InteractionType string         `json:"interaction_type"`
	Source          string         `json:"source,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
}

// MatchResult is the outcome of resolving a fingerprint.
type MatchResult struct {
	Found    bool
	Pattern  string
	Fallback bool
	Scenario scenario.Scenario
}

const triggerBuffer = 128

// Engine consumes triggers and turns them into host service calls.
// Construct with New; Run must be started before triggers are processed.
type Engine struct {
	state    *state.Store
	bridge   Bridge
	miss     *misslog.Writer
	triggers chan Trigger

	// now is swapped out in tests to pin time buckets.
	now func() time.Time
}

// Option customises engine construction.
type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New wires an engine over the shared store, the host bridge and the
// unmatched-scenario log.
func New(st *state.Store, bridge Bridge, miss *misslog.Writer, opts ...Option) *Engine {
	e := &Engine{
		state:    st,
		bridge:   bridge,
		miss:     miss,
		triggers: make(chan Trigger, triggerBuffer),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run processes queued triggers until ctx is cancelled. It owns the engine's
// running flag in the shared store.
func (e *Engine) Run(ctx context.Context) {
	on, off := true, false
	e.state.MergeStatus(state.StatusPatch{Running: &on})
	defer e.state.MergeStatus(state.StatusPatch{Running: &off})

	slog.Info("scenario engine started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("scenario engine stopping", "reason", ctx.Err())
			return
		case trig := <-e.triggers:
			e.ProcessTrigger(ctx, trig)
		}
	}
}

// Enqueue queues a trigger for processing. A full queue drops the trigger
// rather than blocking the event source.
func (e *Engine) Enqueue(trig Trigger) {
	select {
	case e.triggers <- trig:
	default:
		slog.Warn("trigger queue full, dropping trigger",
			"room", trig.Room, "interaction", trig.InteractionType)
	}
}

// --- ingress ----------------------------------------------------------------

// buttonCommands normalises host button commands to interaction types.
// Unlisted commands pass through verbatim.
var buttonCommands = map[string]string{
	"single":   "single_press",
	"1_single": "single_press",
	"double":   "double_press",
	"1_double": "double_press",
	"hold":     "long_press",
	"1_hold":   "long_press",
	"release":  "release",
}

// HandleButtonEvent maps a button event from a known device to a trigger.
// Events from unmapped devices are logged and discarded.
func (e *Engine) HandleButtonEvent(deviceID, command string) {
	cfg := e.state.Config()
	room, ok := cfg.RoomForSource(deviceID)
	if !ok {
		slog.Info("button event from unmapped device", "device", deviceID, "command", command)
		return
	}
	interaction := command
	if mapped, ok := buttonCommands[command]; ok {
		interaction = mapped
	}
	e.Enqueue(Trigger{
		Room:            room,
		InteractionType: interaction,
		Source:          deviceID,
		Context:         map[string]any{"command": command},
	})
}

// HandlePresenceChange turns an off-to-on presence transition into a trigger.
// Every other transition is ignored.
func (e *Engine) HandlePresenceChange(entityID, oldState, newState string) {
	if !isActiveState(newState) || isActiveState(oldState) {
		return
	}
	cfg := e.state.Config()
	room, ok := cfg.RoomForSource(entityID)
	if !ok {
		slog.Info("presence change from unmapped entity", "entity", entityID)
		return
	}
	e.Enqueue(Trigger{
		Room:            room,
		InteractionType: "presence_detected",
		Source:          entityID,
		Context:         map[string]any{"old_state": oldState, "new_state": newState},
	})
}

// HandleCustomTrigger queues a caller-supplied trigger verbatim.
func (e *Engine) HandleCustomTrigger(room, interactionType string, extra map[string]any) {
	e.Enqueue(Trigger{
		Room:            room,
		InteractionType: interactionType,
		Context:         extra,
	})
}

// --- matching ---------------------------------------------------------------

// ProcessTrigger composes the fingerprint for a trigger, resolves it and
// dispatches or records the miss.
func (e *Engine) ProcessTrigger(ctx context.Context, trig Trigger) {
	cfg := e.state.Config()
	now := e.now()

	bucket := fingerprint.TimeBucket(now, cfg.SystemSettings.TimeBucketMinutes)
	day := fingerprint.DayType(now)
	flags := e.activeFlags(ctx, cfg)

	fp, err := fingerprint.Build(trig.Room, bucket, day, flags, trig.InteractionType)
	if err != nil {
		slog.Warn("trigger produced an invalid fingerprint",
			"room", trig.Room, "interaction", trig.InteractionType, "error", err)
		return
	}

	match := e.Match(fp, cfg.SystemSettings.FallbackEnabled)
	if !match.Found {
		e.recordMiss(now, fp, trig, flags)
		return
	}
	if match.Fallback {
		slog.Info("fallback used", "fingerprint", fp, "pattern", match.Pattern)
	}
	e.dispatch(ctx, cfg, fp, match)
}

// Match resolves a fingerprint: exact lookup first, then the fallback
// hierarchy when enabled.
func (e *Engine) Match(fp string, fallbackEnabled bool) MatchResult {
	scenarios := e.state.Scenarios()
	if sc, ok := scenarios[fp]; ok {
		return MatchResult{Found: true, Pattern: fp, Scenario: sc}
	}
	if !fallbackEnabled {
		return MatchResult{}
	}
	for _, pattern := range fingerprint.Fallbacks(fp) {
		if sc, ok := scenarios[pattern]; ok {
			return MatchResult{Found: true, Pattern: pattern, Fallback: true, Scenario: sc}
		}
	}
	return MatchResult{}
}

// activeFlags reads every conditional entity from the host and returns the
// identifiers whose state reads as active. Read failures skip the flag.
func (e *Engine) activeFlags(ctx context.Context, cfg config.Config) []string {
	var flags []string
	for flag, mapping := range cfg.ConditionalEntities {
		if mapping.EntityID == "" {
			continue
		}
		st, err := e.bridge.EntityState(ctx, mapping.EntityID)
		if err != nil {
			slog.Warn("conditional entity read failed", "flag", flag, "entity", mapping.EntityID, "error", err)
			continue
		}
		if isActiveState(st) {
			flags = append(flags, flag)
		}
	}
	return flags
}

func isActiveState(st string) bool {
	switch strings.ToLower(st) {
	case "on", "true", "active", "home":
		return true
	}
	return false
}

// --- dispatch ---------------------------------------------------------------

// dispatch executes a matched scenario's actions. Individual action failures
// are logged and skipped; a cancelled context stops mid-scenario. In test
// mode the intent is logged without touching the host.
func (e *Engine) dispatch(ctx context.Context, cfg config.Config, fp string, match MatchResult) {
	sc := match.Scenario
	if len(sc.Actions) == 0 {
		slog.Warn("matched scenario has no actions", "pattern", match.Pattern)
		return
	}

	if cfg.SystemSettings.TestMode {
		for _, action := range sc.Actions {
			slog.Info("test mode: would execute action",
				"pattern", match.Pattern, "service", action.Service, "entity", action.EntityID)
		}
		e.state.AppendLog("INFO",
			fmt.Sprintf("test mode: matched %s (%d actions, not executed)", match.Pattern, len(sc.Actions)),
			map[string]any{"fingerprint": fp, "pattern": match.Pattern, "fallback_used": match.Fallback})
		e.markExecuted()
		return
	}

	executed := 0
	for _, action := range sc.Actions {
		if ctx.Err() != nil {
			slog.Warn("dispatch interrupted", "pattern", match.Pattern, "executed", executed)
			break
		}
		if err := e.executeAction(ctx, cfg, action); err != nil {
			slog.Error("action failed", "pattern", match.Pattern,
				"service", action.Service, "entity", action.EntityID, "error", err)
			e.state.AppendLog("WARNING",
				fmt.Sprintf("action %s on %s dropped: %v", action.Service, action.EntityID, err),
				map[string]any{"fingerprint": fp, "pattern": match.Pattern})
			continue
		}
		executed++
	}

	if executed > 0 {
		e.state.AppendLog("INFO",
			fmt.Sprintf("executed %s: %d/%d actions", match.Pattern, executed, len(sc.Actions)),
			map[string]any{"fingerprint": fp, "pattern": match.Pattern, "fallback_used": match.Fallback})
		e.markExecuted()
	}
}

func (e *Engine) executeAction(ctx context.Context, cfg config.Config, action scenario.Action) error {
	if err := action.Validate(); err != nil {
		return err
	}
	domain := action.Domain()
	if !cfg.AllowsDomain(domain) {
		return fmt.Errorf("domain %q is not on the allow-list", domain)
	}
	entity := scenario.SanitizeEntityID(action.EntityID)
	if entity == "" {
		return fmt.Errorf("entity id %q is not valid", action.EntityID)
	}
	_, service, _ := strings.Cut(action.Service, ".")
	return e.bridge.CallService(ctx, domain, service, entity, action.Data)
}

func (e *Engine) markExecuted() {
	ts := e.now().Format(time.RFC3339)
	e.state.MergeStatus(state.StatusPatch{LastExecution: &ts})
}

func (e *Engine) recordMiss(now time.Time, fp string, trig Trigger, flags []string) {
	slog.Info("no scenario matched", "fingerprint", fp)
	rec := misslog.Record{
		Timestamp:  now.Format(time.RFC3339),
		ScenarioID: fp,
		Context: map[string]any{
			"room":             trig.Room,
			"interaction_type": trig.InteractionType,
			"active_flags":     flags,
			"source":           trig.Source,
		},
	}
	if e.miss != nil {
		if err := e.miss.Append(rec); err != nil {
			slog.Error("unmatched log write failed", "error", err)
		}
	}
	e.state.AppendUnmatched(rec)
	e.state.AppendLog("WARNING", "no scenario matched "+fp,
		map[string]any{"fingerprint": fp})
}

// --- simulation -------------------------------------------------------------

// Simulate resolves the fingerprint a trigger would produce right now and
// reports what would run, without dispatching anything. Satisfies the shared
// store's simulator hook.
func (e *Engine) Simulate(room, interactionType string) (map[string]any, error) {
	cfg := e.state.Config()
	now := e.now()

	bucket := fingerprint.TimeBucket(now, cfg.SystemSettings.TimeBucketMinutes)
	day := fingerprint.DayType(now)
	flags := e.activeFlags(context.Background(), cfg)

	fp, err := fingerprint.Build(room, bucket, day, flags, interactionType)
	if err != nil {
		return nil, err
	}

	match := e.Match(fp, cfg.SystemSettings.FallbackEnabled)
	result := map[string]any{
		"scenario_id":    fp,
		"scenario_found": match.Found,
		"fallback_used":  match.Fallback,
		"test_mode":      cfg.SystemSettings.TestMode,
	}
	if match.Found {
		result["matched_pattern"] = match.Pattern
		result["actions"] = match.Scenario.Actions
	}
	return result, nil
}
