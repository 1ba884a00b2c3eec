package scenario

import (
	"fmt"

	"github.com/nodalink/nodalink/internal/nodalink/fingerprint"
)

// FileResult is the outcome of validating a whole scenario set.
type FileResult struct {
	Valid          bool     `json:"valid"`
	Errors         []string `json:"errors"`
	Warnings       []string `json:"warnings"`
	TotalScenarios int      `json:"total_scenarios"`
	TotalActions   int      `json:"total_actions"`
}

// ValidateFile checks every scenario in the set: fingerprint grammar on the
// key, the key round-tripping to the scenario's own components, and the
// action grammar. Empty action lists and byte-identical action sequences
// across distinct rules are reported as warnings, not errors.
func ValidateFile(scenarios map[string]Scenario) FileResult {
	result := FileResult{
		Errors:         []string{},
		Warnings:       []string{},
		TotalScenarios: len(scenarios),
	}

	signatures := make(map[string]string, len(scenarios))
	for fp, sc := range scenarios {
		for _, msg := range fingerprint.Validate(fp) {
			result.Errors = append(result.Errors, fmt.Sprintf("scenario %q: %s", fp, msg))
		}

		if rebuilt, err := sc.Fingerprint(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("scenario %q: %v", fp, err))
		} else if rebuilt != fp {
			result.Errors = append(result.Errors,
				fmt.Sprintf("scenario %q: components build to %q; key is not canonical", fp, rebuilt))
		}

		result.TotalActions += len(sc.Actions)
		if len(sc.Actions) == 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("scenario %q: no actions defined", fp))
		}
		for i, action := range sc.Actions {
			if err := action.Validate(); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("scenario %q: action %d: %v", fp, i+1, err))
			}
			if SanitizeEntityID(action.EntityID) == "" {
				result.Errors = append(result.Errors,
					fmt.Sprintf("scenario %q: action %d: entity id %q is not valid", fp, i+1, action.EntityID))
			}
		}

		if len(sc.Actions) > 0 {
			sig := actionsSignature(sc.Actions)
			if other, seen := signatures[sig]; seen {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("scenarios %q and %q have identical actions", fp, other))
			} else {
				signatures[sig] = fp
			}
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}
