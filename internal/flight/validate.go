package flight

import (
	"fmt"
	"strings"
)

// ValidationError represents a single validation failure with a field path.
type ValidationError struct {
	FieldPath string
	Message   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.FieldPath, e.Message)
}

// ValidationErrors aggregates multiple validation failures so a malformed
// program reports every problem in one pass.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	parts := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}

// Add appends a validation error.
func (e *ValidationErrors) Add(fieldPath, message string) {
	e.Errors = append(e.Errors, &ValidationError{FieldPath: fieldPath, Message: message})
}

// HasErrors returns true if there are any validation errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// FormatStderr formats errors for stderr output, one per line.
func (e *ValidationErrors) FormatStderr() string {
	var sb strings.Builder
	sb.WriteString("validation failed:\n")
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s: %s\n", err.FieldPath, err.Message))
	}
	return sb.String()
}

// ValidateProgram checks every safety invariant of a flight program and
// returns the accumulated failures. A program that reports errors here must
// not be admitted to a Library.
func ValidateProgram(p Program) *ValidationErrors {
	errs := &ValidationErrors{}

	if strings.TrimSpace(p.Identifier) == "" {
		errs.Add("identifier", "cannot be empty")
	}
	if len(p.Steps) == 0 {
		errs.Add("steps", "must include at least one step")
	}
	if p.RecommendedSpaceM <= 0 {
		errs.Add("recommended_space_m", "must be positive")
	}
	if p.MinBatteryPercent < 1 || p.MinBatteryPercent > 100 {
		errs.Add("min_battery_percent", fmt.Sprintf("must be between 1 and 100, got %d", p.MinBatteryPercent))
	}
	if p.EstimatedDurationSec <= 0 {
		errs.Add("estimated_duration_seconds", "must be positive")
	}

	for i, step := range p.Steps {
		validateStep(errs, i, step)
	}

	return errs
}

func validateStep(errs *ValidationErrors, index int, step Step) {
	path := func(field string) string {
		return fmt.Sprintf("steps[%d].%s", index, field)
	}

	if !knownCommands[step.Command] {
		errs.Add(path("command"), fmt.Sprintf("unknown command '%s'", step.Command))
	}
	if step.WaitSeconds < 0 {
		errs.Add(path("wait_seconds"), "must be non-negative")
	}
	if step.Command == CommandPause && step.WaitSeconds <= 0 {
		errs.Add(path("wait_seconds"), "pause steps must define a wait greater than 0")
	}
	for j, arg := range step.Args {
		switch arg.(type) {
		case int, string:
		default:
			errs.Add(path("args"), fmt.Sprintf("argument %d must be an int or string, got %T", j, arg))
		}
	}
}
