package flight

import (
	"fmt"

	"github.com/mohae/deepcopy"
	"golang.org/x/text/cases"
)

// Library holds the flight programs available to the operator, keyed by
// case-folded identifier. The curated catalog is always present; programs
// loaded from the workspace are added on top. Lookups return deep copies so
// callers can never mutate the registered routines.
type Library struct {
	programs map[string]Program
	order    []string
}

// NewLibrary returns a Library seeded with the curated catalog.
func NewLibrary() *Library {
	l := &Library{programs: make(map[string]Program)}
	for _, p := range builtinPrograms() {
		if err := l.Add(p); err != nil {
			panic(fmt.Sprintf("flight: builtin catalog: %v", err))
		}
	}
	return l
}

// Add validates a program and registers it. Registration order is preserved
// for listings.
func (l *Library) Add(p Program) error {
	if errs := ValidateProgram(p); errs.HasErrors() {
		return errs
	}
	key := foldIdentifier(p.Identifier)
	if _, exists := l.programs[key]; exists {
		return fmt.Errorf("program '%s' is already registered", p.Identifier)
	}
	l.programs[key] = p
	l.order = append(l.order, key)
	return nil
}

// Get resolves an identifier case-insensitively and returns a deep copy of
// the matching program.
func (l *Library) Get(identifier string) (Program, error) {
	p, ok := l.programs[foldIdentifier(identifier)]
	if !ok {
		return Program{}, &UploadError{
			Msg: fmt.Sprintf("Unknown program '%s'. Use 'programs list' to inspect options.", identifier),
		}
	}
	return deepcopy.Copy(p).(Program), nil
}

// Summaries lists every registered program in registration order.
func (l *Library) Summaries() []Summary {
	out := make([]Summary, 0, len(l.order))
	for _, key := range l.order {
		out = append(out, l.programs[key].Summary())
	}
	return out
}

// Len returns the number of registered programs.
func (l *Library) Len() int {
	return len(l.programs)
}

// foldIdentifier applies Unicode case folding so lookups match regardless of
// how the operator typed the identifier. A Caser is stateful, so a fresh one
// is built per call.
func foldIdentifier(identifier string) string {
	return cases.Fold().String(identifier)
}

func builtinPrograms() []Program {
	return []Program{
		{
			Identifier: "square-dance",
			Title:      "Square Dance",
			Objective:  "Trace a one-meter square with style and celebratory flips.",
			Steps: []Step{
				{Command: CommandTakeoff, WaitSeconds: 2.0, Description: "Smooth takeoff"},
				{Command: CommandMoveForward, Args: []any{80}, WaitSeconds: 1.0, Description: "Forward leg"},
				{Command: CommandMoveRight, Args: []any{80}, WaitSeconds: 1.0, Description: "Right leg"},
				{Command: CommandMoveBack, Args: []any{80}, WaitSeconds: 1.0, Description: "Backwards leg"},
				{Command: CommandMoveLeft, Args: []any{80}, WaitSeconds: 1.0, Description: "Left leg to close square"},
				{Command: CommandFlip, Args: []any{"l"}, WaitSeconds: 1.5, Description: "Left flip celebration"},
				{Command: CommandFlip, Args: []any{"r"}, WaitSeconds: 1.5, Description: "Right flip celebration"},
				{Command: CommandLand, Description: "Autoland"},
			},
			RecommendedSpaceM:    3.0,
			MinBatteryPercent:    50,
			EstimatedDurationSec: 55.0,
		},
		{
			Identifier: "spiral-climb",
			Title:      "Spiral Climb",
			Objective:  "Climb in a tightening spiral to showcase altitude control.",
			Steps: []Step{
				{Command: CommandTakeoff, WaitSeconds: 2.0, Description: "Liftoff"},
				{Command: CommandMoveUp, Args: []any{40}, WaitSeconds: 0.8, Description: "Initial climb"},
				{Command: CommandRotateClockwise, Args: []any{45}, WaitSeconds: 0.6, Description: "Start spiral"},
				{Command: CommandMoveForward, Args: []any{60}, WaitSeconds: 0.8, Description: "Forward move"},
				{Command: CommandMoveUp, Args: []any{30}, WaitSeconds: 0.8, Description: "Gain altitude"},
				{Command: CommandRotateClockwise, Args: []any{60}, WaitSeconds: 0.6, Description: "Spiral turn"},
				{Command: CommandMoveRight, Args: []any{60}, WaitSeconds: 0.8, Description: "Shift right"},
				{Command: CommandMoveForward, Args: []any{60}, WaitSeconds: 0.8, Description: "Forward progression"},
				{Command: CommandMoveUp, Args: []any{30}, WaitSeconds: 0.8, Description: "Final climb"},
				{Command: CommandRotateClockwise, Args: []any{90}, WaitSeconds: 1.0, Description: "Panorama"},
				{Command: CommandPause, WaitSeconds: 2.5, Description: "Hover showcase"},
				{Command: CommandLand, Description: "Descend safely"},
			},
			RecommendedSpaceM:    3.5,
			MinBatteryPercent:    40,
			EstimatedDurationSec: 60.0,
		},
		{
			Identifier: "zigzag-dash",
			Title:      "Zig-Zag Dash",
			Objective:  "Agile lateral zig-zag with quick rotations.",
			Steps: []Step{
				{Command: CommandTakeoff, WaitSeconds: 1.5, Description: "Takeoff"},
				{Command: CommandMoveForward, Args: []any{70}, WaitSeconds: 0.7, Description: "Forward sprint"},
				{Command: CommandMoveLeft, Args: []any{60}, WaitSeconds: 0.6, Description: "Left dodge"},
				{Command: CommandRotateCounterClockwise, Args: []any{45}, WaitSeconds: 0.5, Description: "Angle change"},
				{Command: CommandMoveForward, Args: []any{70}, WaitSeconds: 0.7, Description: "Forward sprint two"},
				{Command: CommandMoveRight, Args: []any{60}, WaitSeconds: 0.6, Description: "Right dodge"},
				{Command: CommandRotateClockwise, Args: []any{45}, WaitSeconds: 0.5, Description: "Recenter"},
				{Command: CommandMoveBack, Args: []any{60}, WaitSeconds: 0.7, Description: "Return to origin"},
				{Command: CommandPause, WaitSeconds: 1.5, Description: "Hover reset"},
				{Command: CommandLand, Description: "Land"},
			},
			RecommendedSpaceM:    4.0,
			MinBatteryPercent:    35,
			EstimatedDurationSec: 45.0,
		},
		{
			Identifier: "selfie-orbit",
			Title:      "Selfie Orbit",
			Objective:  "Slow, camera-friendly orbit and bow for filming.",
			Steps: []Step{
				{Command: CommandTakeoff, WaitSeconds: 2.0, Description: "Takeoff"},
				{Command: CommandMoveBack, Args: []any{80}, WaitSeconds: 0.8, Description: "Create distance"},
				{Command: CommandMoveUp, Args: []any{40}, WaitSeconds: 0.6, Description: "Rise to eye level"},
				{Command: CommandPause, WaitSeconds: 2.0, Description: "Hold for framing"},
				{Command: CommandRotateCounterClockwise, Args: []any{90}, WaitSeconds: 0.6, Description: "Begin orbit"},
				{Command: CommandMoveRight, Args: []any{70}, WaitSeconds: 0.8, Description: "Strafe while facing target"},
				{Command: CommandRotateCounterClockwise, Args: []any{90}, WaitSeconds: 0.6, Description: "Continue orbit"},
				{Command: CommandMoveRight, Args: []any{70}, WaitSeconds: 0.8, Description: "Complete orbit"},
				{Command: CommandMoveForward, Args: []any{60}, WaitSeconds: 0.7, Description: "Approach for bow"},
				{Command: CommandFlip, Args: []any{"f"}, WaitSeconds: 1.5, Description: "Forward flip finale"},
				{Command: CommandLand, Description: "Land gently"},
			},
			RecommendedSpaceM:    5.0,
			MinBatteryPercent:    45,
			EstimatedDurationSec: 75.0,
		},
	}
}
