// Package fingerprint builds and parses the canonical scenario fingerprint.
//
// A fingerprint is the pipe-joined match key the engine derives from a
// trigger's context:
//
//	room | time_bucket | day_type | optional_flags | interaction_type
//
// Trailing empty components are trimmed, so "kitchen|07-08||" canonicalises
// to "kitchen|07-08". Interior empty components are kept: a scenario with
// flags but no day type keys as "bedroom|22-23||night_mode|presence_detected".
// Optional flags are sorted ascending and joined with "+" so that flag order
// at trigger time never changes the key.
package fingerprint

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Separator joins the fingerprint components.
const Separator = "|"

// FlagSeparator joins the sorted optional flags inside the flags component.
const FlagSeparator = "+"

var (
	identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	timeBucketRe = regexp.MustCompile(`^\d{2}[-:]\d{2}(-\d{2}[-:]\d{2})?$`)
)

// ErrInvalid is returned when fingerprint components cannot form a valid key.
var ErrInvalid = fmt.Errorf("invalid fingerprint")

// Components holds the five parsed parts of a fingerprint.
type Components struct {
	Room            string   `json:"room"`
	TimeBucket      string   `json:"time_bucket"`
	DayType         string   `json:"day_type"`
	OptionalFlags   []string `json:"optional_flags"`
	InteractionType string   `json:"interaction_type"`
}

// Build composes a canonical fingerprint from its components.
//
// Room must be a valid identifier and timeBucket must be non-empty;
// anything else wraps ErrInvalid. DayType, flags and interactionType are
// optional. The caller does not need to pre-sort flags.
func Build(room, timeBucket, dayType string, optionalFlags []string, interactionType string) (string, error) {
	if !identifierRe.MatchString(room) {
		return "", fmt.Errorf("%w: room %q is not a valid identifier", ErrInvalid, room)
	}
	if timeBucket == "" {
		return "", fmt.Errorf("%w: time bucket must not be empty", ErrInvalid)
	}

	flags := ""
	if len(optionalFlags) > 0 {
		sorted := make([]string, len(optionalFlags))
		copy(sorted, optionalFlags)
		sort.Strings(sorted)
		flags = strings.Join(sorted, FlagSeparator)
	}

	parts := []string{room, timeBucket, dayType, flags, interactionType}
	// Trim trailing empty components so the key stays canonical.
	for len(parts) > 2 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, Separator), nil
}

// Parse splits a fingerprint into its components. It performs no grammar
// validation; use Validate for that.
func Parse(fp string) Components {
	parts := strings.Split(fp, Separator)
	c := Components{OptionalFlags: []string{}}
	if len(parts) > 0 {
		c.Room = parts[0]
	}
	if len(parts) > 1 {
		c.TimeBucket = parts[1]
	}
	if len(parts) > 2 {
		c.DayType = parts[2]
	}
	if len(parts) > 3 && parts[3] != "" {
		c.OptionalFlags = strings.Split(parts[3], FlagSeparator)
	}
	if len(parts) > 4 {
		c.InteractionType = parts[4]
	}
	return c
}

// Validate checks a fingerprint against the grammar and returns every
// violation found. An empty slice means the fingerprint is well-formed.
func Validate(fp string) []string {
	var errs []string

	if fp == "" {
		return []string{"fingerprint cannot be empty"}
	}

	parts := strings.Split(fp, Separator)
	if len(parts) < 2 {
		errs = append(errs, "fingerprint must have at least room and time_bucket")
	}
	if len(parts) > 5 {
		errs = append(errs, fmt.Sprintf("fingerprint has %d components, maximum is 5", len(parts)))
	}

	if len(parts) > 0 && !identifierRe.MatchString(parts[0]) {
		errs = append(errs, fmt.Sprintf("room %q must be an identifier (letters, digits, underscore; not starting with a digit)", parts[0]))
	}
	if len(parts) > 1 && !timeBucketRe.MatchString(parts[1]) {
		errs = append(errs, fmt.Sprintf("time bucket %q must be in HH-HH or HH:MM-HH:MM format", parts[1]))
	}
	if len(parts) > 2 && parts[2] != "" && parts[2] != DayWeekday && parts[2] != DayWeekend {
		errs = append(errs, fmt.Sprintf("day type %q must be %q or %q", parts[2], DayWeekday, DayWeekend))
	}
	if len(parts) > 3 && parts[3] != "" {
		for _, flag := range strings.Split(parts[3], FlagSeparator) {
			if !identifierRe.MatchString(flag) {
				errs = append(errs, fmt.Sprintf("flag %q is not a valid identifier", flag))
			}
		}
	}
	if len(parts) > 4 && parts[4] != "" && !identifierRe.MatchString(parts[4]) {
		errs = append(errs, fmt.Sprintf("interaction type %q is not a valid identifier", parts[4]))
	}

	return errs
}

// IsValidIdentifier reports whether s matches the identifier grammar used by
// rooms, flags and interaction types.
func IsValidIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

// IsValidTimeBucket reports whether s matches the time-bucket grammar.
func IsValidTimeBucket(s string) bool {
	return timeBucketRe.MatchString(s)
}

// Fallbacks returns the relaxed lookup patterns for fp, most specific first.
// Each pattern progressively drops the least significant populated component:
// interaction, then flags, then day type, ending with the bare room.
// Drop steps whose source component is already empty are skipped. Trailing
// empty components are trimmed from every pattern.
func Fallbacks(fp string) []string {
	c := Parse(fp)
	var patterns []string

	add := func(parts ...string) {
		for len(parts) > 1 && parts[len(parts)-1] == "" {
			parts = parts[:len(parts)-1]
		}
		p := strings.Join(parts, Separator)
		if p != "" && p != fp {
			patterns = append(patterns, p)
		}
	}

	flags := strings.Join(c.OptionalFlags, FlagSeparator)
	if c.InteractionType != "" {
		add(c.Room, c.TimeBucket, c.DayType, flags)
	}
	if flags != "" {
		add(c.Room, c.TimeBucket, c.DayType)
	}
	if c.DayType != "" {
		add(c.Room, c.TimeBucket)
	}
	add(c.Room)

	return patterns
}
