package config

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// configSchema pins the shape of config.json. Semantic rules (bucket sizes,
// identifier grammar, duplicate labels) are handled by Validate.
const configSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "_metadata": {
      "type": "object",
      "properties": {
        "version": {"type": "string"},
        "created": {"type": "string"},
        "description": {"type": "string"}
      }
    },
    "room_mappings": {"$ref": "#/$defs/mappings"},
    "conditional_entities": {"$ref": "#/$defs/mappings"},
    "system_settings": {
      "type": "object",
      "properties": {
        "time_bucket_minutes": {"type": "integer"},
        "fallback_enabled": {"type": "boolean"},
        "test_mode": {"type": "boolean"},
        "auto_reload_config": {"type": "boolean"},
        "allowed_domains": {"type": "array", "items": {"type": "string"}}
      }
    }
  },
  "$defs": {
    "mappings": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "label": {"type": "string"},
          "entity_id": {"type": "string"},
          "entity_type": {"type": "string"},
          "description": {"type": "string"},
          "icon": {"type": "string"}
        },
        "required": ["entity_id"]
      }
    }
  }
}`

var compiledConfigSchema = jsonschema.MustCompileString("config.json", configSchema)

// CheckDocument validates a raw config.json document against the schema.
// Numbers are decoded as json.Number so integer bounds validate exactly.
func CheckDocument(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("config document: %w", err)
	}
	if err := compiledConfigSchema.Validate(doc); err != nil {
		return fmt.Errorf("config document: %w", err)
	}
	return nil
}
