// Package scenario defines the rule model keyed by fingerprint and the
// validation applied to rule files before they reach the engine.
package scenario

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/nodalink/nodalink/internal/nodalink/fingerprint"
)

// servicePartRe matches each side of a "domain.verb" service reference.
var servicePartRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// entityCharRe strips everything an entity id may not contain.
var entityCharRe = regexp.MustCompile(`[^a-zA-Z0-9_.]`)

// entityNameRe matches the part after the dot in a sanitized entity id.
var entityNameRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Action is a single service invocation against the host.
type Action struct {
	Service  string         `json:"service"`
	EntityID string         `json:"entity_id"`
	Data     map[string]any `json:"data,omitempty"`
}

// Domain returns the part of Service before the dot, or "" when Service is
// not a well-formed "domain.verb" reference.
func (a Action) Domain() string {
	domain, _, ok := strings.Cut(a.Service, ".")
	if !ok {
		return ""
	}
	return domain
}

// Validate checks the action's service reference against the grammar:
// exactly one dot, both sides lowercase identifiers.
func (a Action) Validate() error {
	domain, verb, ok := strings.Cut(a.Service, ".")
	if !ok || strings.Contains(verb, ".") {
		return fmt.Errorf("service %q must be in domain.verb format", a.Service)
	}
	if !servicePartRe.MatchString(domain) {
		return fmt.Errorf("service %q: domain %q is not a valid identifier", a.Service, domain)
	}
	if !servicePartRe.MatchString(verb) {
		return fmt.Errorf("service %q: verb %q is not a valid identifier", a.Service, verb)
	}
	return nil
}

// Scenario is one automation rule: the context it applies to plus the ordered
// actions to run. Its map key in scenarios.json is the canonical fingerprint.
type Scenario struct {
	Room            string   `json:"room"`
	TimeBucket      string   `json:"time_bucket"`
	DayType         string   `json:"day_type"`
	OptionalFlags   []string `json:"optional_flags"`
	InteractionType string   `json:"interaction_type"`
	Actions         []Action `json:"actions"`
	CreatedAt       string   `json:"created_at,omitempty"`
	UpdatedAt       string   `json:"updated_at,omitempty"`
}

// Fingerprint composes the scenario's canonical key.
func (s Scenario) Fingerprint() (string, error) {
	return fingerprint.Build(s.Room, s.TimeBucket, s.DayType, s.OptionalFlags, s.InteractionType)
}

// Clone returns a deep copy so a dispatch cycle can hold the scenario without
// observing later mutations through the store.
func (s Scenario) Clone() Scenario {
	out := s
	out.OptionalFlags = append([]string(nil), s.OptionalFlags...)
	out.Actions = make([]Action, len(s.Actions))
	for i, a := range s.Actions {
		out.Actions[i] = a
		if a.Data != nil {
			data := make(map[string]any, len(a.Data))
			for k, v := range a.Data {
				data[k] = v
			}
			out.Actions[i].Data = data
		}
	}
	return out
}

// actionsSignature renders the action sequence in a stable form, used to spot
// rules that duplicate each other's behaviour.
func actionsSignature(actions []Action) string {
	b, err := json.Marshal(actions)
	if err != nil {
		return ""
	}
	return string(b)
}

// SanitizeEntityID strips characters outside [a-zA-Z0-9_.] and verifies the
// "domain.name" shape. It returns "" when nothing valid remains.
func SanitizeEntityID(entityID string) string {
	if entityID == "" {
		return ""
	}
	sanitized := entityCharRe.ReplaceAllString(entityID, "")
	domain, name, ok := strings.Cut(sanitized, ".")
	if !ok {
		return ""
	}
	if !servicePartRe.MatchString(domain) {
		return ""
	}
	if !entityNameRe.MatchString(name) {
		return ""
	}
	return domain + "." + name
}
