package state_test

import (
	"errors"
	"testing"

	"github.com/nodalink/nodalink/internal/nodalink/config"
	"github.com/nodalink/nodalink/internal/nodalink/misslog"
	"github.com/nodalink/nodalink/internal/nodalink/scenario"
	"github.com/nodalink/nodalink/internal/nodalink/state"
)

func sampleScenarios() map[string]scenario.Scenario {
	return map[string]scenario.Scenario{
		"kitchen|07-08|weekday||single_press": {
			Room:            "kitchen",
			TimeBucket:      "07-08",
			DayType:         "weekday",
			InteractionType: "single_press",
			Actions: []scenario.Action{
				{Service: "light.turn_on", EntityID: "light.kitchen"},
				{Service: "switch.turn_on", EntityID: "switch.kettle"},
			},
		},
		"bedroom|22-23||night_mode|presence_detected": {
			Room:            "bedroom",
			TimeBucket:      "22-23",
			OptionalFlags:   []string{"night_mode"},
			InteractionType: "presence_detected",
			Actions: []scenario.Action{
				{Service: "light.turn_on", EntityID: "light.bedroom"},
			},
		},
	}
}

func TestSetScenarios_RecomputesStats(t *testing.T) {
	s := state.New()
	s.SetScenarios(sampleScenarios(), "")

	stats := s.Stats()
	if stats.TotalScenarios != 2 {
		t.Errorf("total_scenarios = %d, want 2", stats.TotalScenarios)
	}
	if stats.TotalActions != 3 {
		t.Errorf("total_actions = %d, want 3", stats.TotalActions)
	}
	if len(stats.Rooms) != 2 || stats.Rooms[0] != "bedroom" || stats.Rooms[1] != "kitchen" {
		t.Errorf("rooms = %v, want sorted [bedroom kitchen]", stats.Rooms)
	}
	if len(stats.InteractionTypes) != 2 {
		t.Errorf("interaction_types = %v", stats.InteractionTypes)
	}
	if got := s.Status().ScenariosLoaded; got != 2 {
		t.Errorf("scenarios_loaded = %d, want 2", got)
	}
}

func TestScenarios_ReturnsIsolatedCopy(t *testing.T) {
	s := state.New()
	s.SetScenarios(sampleScenarios(), "")

	snap := s.Scenarios()
	sc := snap["kitchen|07-08|weekday||single_press"]
	sc.Actions[0].EntityID = "light.tampered"
	snap["kitchen|07-08|weekday||single_press"] = sc

	again := s.Scenarios()
	if again["kitchen|07-08|weekday||single_press"].Actions[0].EntityID != "light.kitchen" {
		t.Error("snapshot mutation leaked into store")
	}
}

func TestSetConfig_StampsLastUpdate(t *testing.T) {
	s := state.New()
	if s.Status().LastConfigUpdate != "" {
		t.Fatal("expected empty last_config_update on a fresh store")
	}
	cfg := config.Default()
	cfg.SystemSettings.TestMode = true
	s.SetConfig(cfg)

	if s.Status().LastConfigUpdate == "" {
		t.Error("last_config_update not stamped")
	}
	if !s.Config().SystemSettings.TestMode {
		t.Error("config not applied")
	}
}

func TestMergeStatus_PartialUpdate(t *testing.T) {
	s := state.New()
	running := true
	s.MergeStatus(state.StatusPatch{Running: &running})

	last := "2025-06-02T07:30:00Z"
	s.MergeStatus(state.StatusPatch{LastExecution: &last})

	st := s.Status()
	if !st.Running {
		t.Error("running flag lost by later partial patch")
	}
	if st.LastExecution != last {
		t.Errorf("last_execution = %q", st.LastExecution)
	}
}

func TestAppendLog_EvictsPastCap(t *testing.T) {
	s := state.New()
	for i := 0; i < 1005; i++ {
		s.AppendLog("INFO", "entry", nil)
	}
	if got := len(s.Logs(0)); got != 1000 {
		t.Errorf("log ring holds %d entries, want 1000", got)
	}
}

func TestLogs_LimitReturnsNewest(t *testing.T) {
	s := state.New()
	s.AppendLog("INFO", "first", nil)
	s.AppendLog("INFO", "second", nil)
	s.AppendLog("ERROR", "third", nil)

	logs := s.Logs(2)
	if len(logs) != 2 {
		t.Fatalf("got %d entries, want 2", len(logs))
	}
	if logs[0].Message != "second" || logs[1].Message != "third" {
		t.Errorf("unexpected window: %q, %q", logs[0].Message, logs[1].Message)
	}
	if logs[1].ID == "" || logs[0].ID == logs[1].ID {
		t.Error("log entries should carry distinct ids")
	}

	s.ClearLogs()
	if len(s.Logs(0)) != 0 {
		t.Error("ClearLogs left entries behind")
	}
}

func TestAppendUnmatched_EvictsPastCap(t *testing.T) {
	s := state.New()
	for i := 0; i < 510; i++ {
		s.AppendUnmatched(misslog.Record{ScenarioID: "hall|20-21"})
	}
	if got := len(s.Unmatched()); got != 500 {
		t.Errorf("unmatched ring holds %d entries, want 500", got)
	}
}

func TestSubscribe_ReceivesCommittedUpdates(t *testing.T) {
	s := state.New()
	id, ch := s.Subscribe()
	defer s.Unsubscribe(id)

	s.SetScenarios(sampleScenarios(), "")

	ev := <-ch
	if ev.Type != state.EventRulesUpdate {
		t.Fatalf("event type = %q, want %q", ev.Type, state.EventRulesUpdate)
	}
	if ev.Timestamp == "" {
		t.Error("event missing timestamp")
	}
	data, ok := ev.Data.(map[string]scenario.Scenario)
	if !ok {
		t.Fatalf("event data has type %T", ev.Data)
	}
	if len(data) != 2 {
		t.Errorf("event carried %d scenarios, want 2", len(data))
	}
}

func TestSubscribe_SlowSubscriberDropped(t *testing.T) {
	s := state.New()
	_, ch := s.Subscribe()

	// Never drain; overflow the buffer and confirm the channel is closed.
	for i := 0; i < 200; i++ {
		s.AppendLog("INFO", "flood", nil)
	}
	drained := 0
	for range ch {
		drained++
	}
	if drained == 0 || drained >= 200 {
		t.Errorf("drained %d events; expected a partial buffer then close", drained)
	}
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	s := state.New()
	id, ch := s.Subscribe()
	s.Unsubscribe(id)
	if _, open := <-ch; open {
		t.Error("channel still open after Unsubscribe")
	}
	// Second unsubscribe is a no-op, not a double close.
	s.Unsubscribe(id)
}

func TestSnapshot_BundlesEverything(t *testing.T) {
	s := state.New()
	s.SetScenarios(sampleScenarios(), "")
	for i := 0; i < 150; i++ {
		s.AppendLog("INFO", "entry", nil)
	}

	snap := s.Snapshot()
	for _, key := range []string{"scenarios", "config", "stats", "engine_status", "logs"} {
		if _, ok := snap[key]; !ok {
			t.Errorf("snapshot missing %q", key)
		}
	}
	if logs := snap["logs"].([]state.LogEntry); len(logs) != 100 {
		t.Errorf("snapshot carries %d log entries, want last 100", len(logs))
	}
}

type fakeLoader struct {
	scenarios    map[string]scenario.Scenario
	warnings     []string
	cfg          config.Config
	scenariosErr error
	cfgErr       error

	applied map[string]scenario.Scenario
}

func (l *fakeLoader) LoadScenarios() (map[string]scenario.Scenario, []string, error) {
	return l.scenarios, l.warnings, l.scenariosErr
}

func (l *fakeLoader) LoadConfig() (config.Config, error) {
	return l.cfg, l.cfgErr
}

func (l *fakeLoader) ApplyScenarios(scenarios map[string]scenario.Scenario) {
	l.applied = scenarios
}

func TestReloadFromDisk_AppliesBoth(t *testing.T) {
	s := state.New()
	cfg := config.Default()
	cfg.SystemSettings.TimeBucketMinutes = 30
	loader := &fakeLoader{
		scenarios: sampleScenarios(),
		warnings:  []string{"scenario kitchen|07-08|weekday||single_press has no actions"},
		cfg:       cfg,
	}
	s.SetLoader(loader)

	if err := s.ReloadFromDisk(); err != nil {
		t.Fatalf("ReloadFromDisk: %v", err)
	}
	if s.Stats().TotalScenarios != 2 {
		t.Error("scenarios not applied")
	}
	if len(loader.applied) != 2 {
		t.Error("scenarios not committed back to the rule store")
	}
	if s.Config().SystemSettings.TimeBucketMinutes != 30 {
		t.Error("config not applied")
	}
	logs := s.Logs(0)
	if len(logs) < 2 {
		t.Fatalf("expected warning and info entries, got %d", len(logs))
	}
	if logs[0].Level != "WARNING" {
		t.Errorf("first log level = %q, want WARNING", logs[0].Level)
	}
}

func TestReloadFromDisk_FailureLeavesStateUntouched(t *testing.T) {
	s := state.New()
	s.SetScenarios(sampleScenarios(), "")
	s.SetLoader(&fakeLoader{scenariosErr: errors.New("disk gone")})

	if err := s.ReloadFromDisk(); err == nil {
		t.Fatal("expected error")
	}
	if s.Stats().TotalScenarios != 2 {
		t.Error("failed reload changed the scenario set")
	}
}

func TestReloadFromDisk_ConfigFailureCommitsNothing(t *testing.T) {
	s := state.New()
	s.SetScenarios(sampleScenarios(), "")
	loader := &fakeLoader{
		scenarios: map[string]scenario.Scenario{},
		cfgErr:    errors.New("config corrupt"),
	}
	s.SetLoader(loader)

	if err := s.ReloadFromDisk(); err == nil {
		t.Fatal("expected error")
	}
	if loader.applied != nil {
		t.Error("scenarios were committed to the rule store despite the config failure")
	}
	if s.Stats().TotalScenarios != 2 {
		t.Error("failed reload changed the shared scenario set")
	}
}

func TestReloadFromDisk_NoLoader(t *testing.T) {
	if err := state.New().ReloadFromDisk(); err == nil {
		t.Fatal("expected error without a loader")
	}
}

type fakeSimulator struct {
	result map[string]any
	err    error
}

func (f *fakeSimulator) Simulate(room, interactionType string) (map[string]any, error) {
	return f.result, f.err
}

func TestSimulate_BroadcastsResult(t *testing.T) {
	s := state.New()
	s.SetSimulator(&fakeSimulator{result: map[string]any{"scenario_found": true}})
	id, ch := s.Subscribe()
	defer s.Unsubscribe(id)

	result, err := s.Simulate("kitchen", "single_press")
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if found, _ := result["scenario_found"].(bool); !found {
		t.Errorf("result = %v", result)
	}
	ev := <-ch
	if ev.Type != state.EventScenarioTest {
		t.Errorf("event type = %q, want %q", ev.Type, state.EventScenarioTest)
	}
}

func TestSimulate_NoEngine(t *testing.T) {
	if _, err := state.New().Simulate("kitchen", "single_press"); err == nil {
		t.Fatal("expected error without an engine")
	}
}
