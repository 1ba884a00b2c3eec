package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// scenariosSchema is the structural contract for scenarios.json: a top-level
// object mapping fingerprints to rule objects. Semantic checks (fingerprint
// grammar, service grammar) live in ValidateFile; the schema only rejects
// shape drift before typed decoding.
const scenariosSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": {
    "type": "object",
    "properties": {
      "room": {"type": "string"},
      "time_bucket": {"type": "string"},
      "day_type": {"type": "string", "enum": ["weekday", "weekend", ""]},
      "optional_flags": {"type": ["array", "null"], "items": {"type": "string"}},
      "interaction_type": {"type": "string"},
      "actions": {
        "type": ["array", "null"],
        "items": {
          "type": "object",
          "properties": {
            "service": {"type": "string"},
            "entity_id": {"type": "string"},
            "data": {"type": "object"}
          },
          "required": ["service", "entity_id"]
        }
      },
      "created_at": {"type": "string"},
      "updated_at": {"type": "string"}
    },
    "required": ["room", "time_bucket", "actions"]
  }
}`

var compiledScenariosSchema = jsonschema.MustCompileString("scenarios.json", scenariosSchema)

// CheckDocument validates a raw scenarios.json document against the schema.
// Numbers are decoded as json.Number so integer bounds validate exactly.
func CheckDocument(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("scenarios document: %w", err)
	}
	if err := compiledScenariosSchema.Validate(doc); err != nil {
		return fmt.Errorf("scenarios document: %w", err)
	}
	return nil
}

// Defaults returns the starter scenario set offered to fresh installations.
func Defaults() map[string]Scenario {
	return map[string]Scenario{
		"living_room|18-19|weekday||presence_detected": {
			Room:            "living_room",
			TimeBucket:      "18-19",
			DayType:         "weekday",
			OptionalFlags:   []string{},
			InteractionType: "presence_detected",
			Actions: []Action{
				{
					Service:  "light.turn_on",
					EntityID: "light.living_room",
					Data:     map[string]any{"brightness": 180, "color_temp": 300},
				},
			},
		},
		"kitchen|07-08|weekday||single_press": {
			Room:            "kitchen",
			TimeBucket:      "07-08",
			DayType:         "weekday",
			OptionalFlags:   []string{},
			InteractionType: "single_press",
			Actions: []Action{
				{
					Service:  "scene.turn_on",
					EntityID: "scene.kitchen_morning",
				},
				{
					Service:  "media_player.play_media",
					EntityID: "media_player.kitchen_speaker",
					Data: map[string]any{
						"media_content_id":   "morning_playlist",
						"media_content_type": "playlist",
					},
				},
			},
		},
		"bedroom|22-23||night_mode|presence_detected": {
			Room:            "bedroom",
			TimeBucket:      "22-23",
			OptionalFlags:   []string{"night_mode"},
			InteractionType: "presence_detected",
			Actions: []Action{
				{
					Service:  "light.turn_on",
					EntityID: "light.bedroom_nightlight",
					Data:     map[string]any{"brightness": 20, "rgb_color": []any{255, 100, 100}},
				},
			},
		},
	}
}
