// Package flight defines pre-authored flight programs for the Tello and the
// engine that validates, sequences, and executes them against a connected
// vehicle.
package flight

// Command identifies one vehicle action within a flight program. The set is
// closed: the runner dispatches each value to the matching typed Vehicle
// method, so an unlisted command can never reach the drone.
type Command string

const (
	CommandTakeoff                Command = "takeoff"
	CommandLand                   Command = "land"
	CommandMoveUp                 Command = "move_up"
	CommandMoveDown               Command = "move_down"
	CommandMoveLeft               Command = "move_left"
	CommandMoveRight              Command = "move_right"
	CommandMoveForward            Command = "move_forward"
	CommandMoveBack               Command = "move_back"
	CommandRotateClockwise        Command = "rotate_clockwise"
	CommandRotateCounterClockwise Command = "rotate_counter_clockwise"
	CommandFlip                   Command = "flip"
	CommandPause                  Command = "pause"
)

var knownCommands = map[Command]bool{
	CommandTakeoff:                true,
	CommandLand:                   true,
	CommandMoveUp:                 true,
	CommandMoveDown:               true,
	CommandMoveLeft:               true,
	CommandMoveRight:              true,
	CommandMoveForward:            true,
	CommandMoveBack:               true,
	CommandRotateClockwise:        true,
	CommandRotateCounterClockwise: true,
	CommandFlip:                   true,
	CommandPause:                  true,
}

// Step is a single drone action within a flight program.
//
// Args are matched positionally to the command's parameters: move commands
// take one distance in centimeters, rotations one angle in degrees, flip one
// direction token (l/r/f/b). WaitSeconds is the minimum dwell after the
// command completes, or the entire duration for a pause step. Steps are built
// once at catalog or load time and never mutated.
type Step struct {
	Command     Command `yaml:"command" json:"command"`
	Args        []any   `yaml:"args,omitempty" json:"args,omitempty"`
	WaitSeconds float64 `yaml:"wait_seconds,omitempty" json:"wait_seconds"`
	Description string  `yaml:"description,omitempty" json:"description"`
}

// descriptor returns the display text for a progress notification.
func (s Step) descriptor() string {
	if s.Description != "" {
		return s.Description
	}
	return string(s.Command)
}
