// Package config models the UI-managed config.json file: room mappings,
// conditional entities and system settings.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/nodalink/nodalink/internal/nodalink/fingerprint"
)

// DefaultAllowedDomains is the service-domain allow-list applied when the
// config does not name one.
var DefaultAllowedDomains = []string{
	"light", "switch", "scene", "script", "automation",
	"media_player", "climate", "cover", "fan", "vacuum",
}

// Metadata is the informational _metadata block.
type Metadata struct {
	Version     string `json:"version"`
	Created     string `json:"created"`
	Description string `json:"description"`
}

// EntityMapping binds an internal identifier (room or conditional flag) to a
// host entity.
type EntityMapping struct {
	Label       string `json:"label"`
	EntityID    string `json:"entity_id"`
	EntityType  string `json:"entity_type"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
}

// SystemSettings tunes engine behaviour.
type SystemSettings struct {
	TimeBucketMinutes int      `json:"time_bucket_minutes"`
	FallbackEnabled   bool     `json:"fallback_enabled"`
	TestMode          bool     `json:"test_mode"`
	AutoReloadConfig  bool     `json:"auto_reload_config"`
	AllowedDomains    []string `json:"allowed_domains"`
}

// Config is the full config.json document.
type Config struct {
	Metadata            Metadata                 `json:"_metadata"`
	RoomMappings        map[string]EntityMapping `json:"room_mappings"`
	ConditionalEntities map[string]EntityMapping `json:"conditional_entities"`
	SystemSettings      SystemSettings           `json:"system_settings"`
}

// Default returns the configuration used when no config.json exists yet.
func Default() Config {
	return Config{
		Metadata: Metadata{
			Version:     "1.0.0",
			Created:     time.Now().Format(time.RFC3339),
			Description: "Nodalink system configuration - rooms, sensors, and conditional flags",
		},
		RoomMappings:        map[string]EntityMapping{},
		ConditionalEntities: map[string]EntityMapping{},
		SystemSettings: SystemSettings{
			TimeBucketMinutes: 60,
			FallbackEnabled:   true,
			TestMode:          false,
			AutoReloadConfig:  true,
			AllowedDomains:    append([]string(nil), DefaultAllowedDomains...),
		},
	}
}

// Load reads and decodes the config file. A missing file yields the default
// configuration without error; a present but unparseable file is an error so
// a corrupted config never silently degrades to defaults.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills zero values that would otherwise disable the engine.
func (c *Config) applyDefaults() {
	if c.RoomMappings == nil {
		c.RoomMappings = map[string]EntityMapping{}
	}
	if c.ConditionalEntities == nil {
		c.ConditionalEntities = map[string]EntityMapping{}
	}
	if c.SystemSettings.TimeBucketMinutes <= 0 {
		c.SystemSettings.TimeBucketMinutes = 60
	}
	if len(c.SystemSettings.AllowedDomains) == 0 {
		c.SystemSettings.AllowedDomains = append([]string(nil), DefaultAllowedDomains...)
	}
}

// Save writes the config atomically: marshal pretty-printed, write a temp
// file in the target directory, then rename over the destination.
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.json")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// Result reports validation findings for a config document.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Validate checks a config for structural problems. Duplicate human labels
// are warnings; everything else listed here is an error.
func Validate(cfg Config) Result {
	result := Result{Errors: []string{}, Warnings: []string{}}

	checkMappings := func(kind string, mappings map[string]EntityMapping) {
		labels := make(map[string]string, len(mappings))
		for id, m := range mappings {
			if !fingerprint.IsValidIdentifier(id) {
				result.Errors = append(result.Errors,
					fmt.Sprintf("%s %q: identifier must be letters, digits or underscore and not start with a digit", kind, id))
			}
			if m.EntityID == "" {
				result.Errors = append(result.Errors, fmt.Sprintf("%s %q: entity id is required", kind, id))
			}
			if m.Label != "" {
				if other, dup := labels[m.Label]; dup {
					result.Warnings = append(result.Warnings,
						fmt.Sprintf("%ss %q and %q share the label %q", kind, id, other, m.Label))
				} else {
					labels[m.Label] = id
				}
			}
		}
	}
	checkMappings("room mapping", cfg.RoomMappings)
	checkMappings("conditional entity", cfg.ConditionalEntities)

	s := cfg.SystemSettings
	if s.TimeBucketMinutes <= 0 {
		result.Errors = append(result.Errors, "time_bucket_minutes must be positive")
	} else if 1440%s.TimeBucketMinutes != 0 {
		result.Errors = append(result.Errors,
			fmt.Sprintf("time_bucket_minutes %d must divide the day evenly (1440)", s.TimeBucketMinutes))
	}
	for _, domain := range s.AllowedDomains {
		if !fingerprint.IsValidIdentifier(domain) {
			result.Errors = append(result.Errors, fmt.Sprintf("allowed domain %q is not a valid identifier", domain))
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// RoomForSource maps a host entity id or device id back to its room
// identifier. Returns false when no room mapping references the source.
func (c Config) RoomForSource(source string) (string, bool) {
	for room, m := range c.RoomMappings {
		if m.EntityID == source {
			return room, true
		}
	}
	return "", false
}

// AllowsDomain reports whether the domain is on the allow-list.
func (c Config) AllowsDomain(domain string) bool {
	for _, d := range c.SystemSettings.AllowedDomains {
		if d == domain {
			return true
		}
	}
	return false
}

// Clone deep-copies the configuration so readers can hold a snapshot.
func (c Config) Clone() Config {
	out := c
	out.RoomMappings = make(map[string]EntityMapping, len(c.RoomMappings))
	for k, v := range c.RoomMappings {
		out.RoomMappings[k] = v
	}
	out.ConditionalEntities = make(map[string]EntityMapping, len(c.ConditionalEntities))
	for k, v := range c.ConditionalEntities {
		out.ConditionalEntities[k] = v
	}
	out.SystemSettings.AllowedDomains = append([]string(nil), c.SystemSettings.AllowedDomains...)
	return out
}
