package state

import "time"

// Event types pushed to WebSocket subscribers.
const (
	EventInit         = "init"
	EventCurrentState = "current_state"
	EventPing         = "ping"
	EventPong         = "pong"
	EventRulesUpdate  = "rules_update"
	EventConfigUpdate = "config_update"
	EventStatusUpdate = "status_update"
	EventLogUpdate    = "log_update"
	EventUnmatched    = "unmatched_scenario"
	EventBulkUpdate   = "scenarios_bulk_update"
	EventCleared      = "scenarios_cleared"
	EventScenarioTest = "scenario_test"
	EventEngineReload = "engine_reload"
)

// Event is one message on the subscriber fan-out.
type Event struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

// NewEvent stamps an event with the current time.
func NewEvent(eventType string, data any) Event {
	return Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}
