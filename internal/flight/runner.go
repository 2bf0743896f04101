package flight

import (
	"context"
	"fmt"
	"time"
)

// DefaultPauseSeconds is the dwell applied after every vehicle command when
// the step itself asks for less.
const DefaultPauseSeconds = 0.8

// Vehicle is the drone capability the runner drives. Every command in the
// program vocabulary maps to exactly one method. Battery reports the charge
// percentage before any motion is attempted.
type Vehicle interface {
	Battery() (int, error)
	TakeOff() error
	Land() error
	MoveUp(cm int) error
	MoveDown(cm int) error
	MoveLeft(cm int) error
	MoveRight(cm int) error
	MoveForward(cm int) error
	MoveBack(cm int) error
	RotateClockwise(deg int) error
	RotateCounterClockwise(deg int) error
	Flip(direction string) error
}

// NotifyFunc receives one human-readable progress line per lifecycle moment
// of a run. A nil NotifyFunc is treated as a no-op.
type NotifyFunc func(message string)

// Runner executes flight programs step by step against a Vehicle. It holds
// no per-run state; the same Runner may execute any number of programs.
type Runner struct {
	defaultPause float64
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewRunner returns a Runner with the given default dwell in seconds.
func NewRunner(defaultPauseSeconds float64) (*Runner, error) {
	return newRunner(defaultPauseSeconds, sleepCtx)
}

func newRunner(defaultPauseSeconds float64, sleep func(context.Context, time.Duration) error) (*Runner, error) {
	if defaultPauseSeconds < 0 {
		return nil, fmt.Errorf("default_pause_seconds must be non-negative, got %v", defaultPauseSeconds)
	}
	return &Runner{defaultPause: defaultPauseSeconds, sleep: sleep}, nil
}

// Execute runs the program against the vehicle, aborting on the first
// failure. The battery gate runs before any motion command; a reading below
// the program's minimum refuses the whole run. Each step emits one progress
// notification before it executes. Cancelling the context stops the run
// between steps and interrupts any dwell.
func (r *Runner) Execute(ctx context.Context, vehicle Vehicle, program Program, notify NotifyFunc) error {
	if notify == nil {
		notify = func(string) {}
	}
	if len(program.Steps) == 0 {
		return &UploadError{Msg: "Program has no steps to execute."}
	}

	battery, err := vehicle.Battery()
	if err != nil {
		return &UploadError{Msg: "Unable to read battery level.", Cause: err}
	}
	if battery < 0 || battery > 100 {
		return &UploadError{Msg: fmt.Sprintf("Battery reading '%d' is outside expected range 0-100.", battery)}
	}
	if battery < program.MinBatteryPercent {
		return &UploadError{Msg: fmt.Sprintf("Battery level is too low (%d%%). Required: %d%%.", battery, program.MinBatteryPercent)}
	}

	notify(fmt.Sprintf("Starting '%s' (est. %.0fs).", program.Title, program.EstimatedDurationSec))

	total := len(program.Steps)
	for i, step := range program.Steps {
		if err := ctx.Err(); err != nil {
			return &UploadError{Msg: "Flight program cancelled.", Cause: err}
		}

		notify(fmt.Sprintf("[%d/%d] %s", i+1, total, step.descriptor()))

		if step.Command == CommandPause {
			if err := r.sleep(ctx, secondsToDuration(step.WaitSeconds)); err != nil {
				return &UploadError{Msg: "Flight program cancelled.", Cause: err}
			}
			continue
		}

		if err := r.invoke(vehicle, step); err != nil {
			return err
		}

		wait := max(step.WaitSeconds, r.defaultPause)
		if wait > 0 {
			if err := r.sleep(ctx, secondsToDuration(wait)); err != nil {
				return &UploadError{Msg: "Flight program cancelled.", Cause: err}
			}
		}
	}

	notify(fmt.Sprintf("Completed '%s'.", program.Title))
	return nil
}

func (r *Runner) invoke(vehicle Vehicle, step Step) error {
	call, ok := commandCall(step.Command)
	if !ok {
		return &UploadError{Msg: fmt.Sprintf("Tello API does not implement '%s'.", step.Command)}
	}
	if err := call(vehicle, step.Args); err != nil {
		return &UploadError{
			Msg:   fmt.Sprintf("Command '%s' with args %v failed.", step.Command, step.Args),
			Cause: err,
		}
	}
	return nil
}

// commandCall maps a command to a closure invoking the matching Vehicle
// method. Pause never appears here; the runner handles it without touching
// the vehicle.
func commandCall(cmd Command) (func(Vehicle, []any) error, bool) {
	switch cmd {
	case CommandTakeoff:
		return func(v Vehicle, _ []any) error { return v.TakeOff() }, true
	case CommandLand:
		return func(v Vehicle, _ []any) error { return v.Land() }, true
	case CommandMoveUp:
		return distanceCall(Vehicle.MoveUp), true
	case CommandMoveDown:
		return distanceCall(Vehicle.MoveDown), true
	case CommandMoveLeft:
		return distanceCall(Vehicle.MoveLeft), true
	case CommandMoveRight:
		return distanceCall(Vehicle.MoveRight), true
	case CommandMoveForward:
		return distanceCall(Vehicle.MoveForward), true
	case CommandMoveBack:
		return distanceCall(Vehicle.MoveBack), true
	case CommandRotateClockwise:
		return distanceCall(Vehicle.RotateClockwise), true
	case CommandRotateCounterClockwise:
		return distanceCall(Vehicle.RotateCounterClockwise), true
	case CommandFlip:
		return func(v Vehicle, args []any) error {
			dir, err := stringArg(args, 0)
			if err != nil {
				return err
			}
			return v.Flip(dir)
		}, true
	default:
		return nil, false
	}
}

func distanceCall(method func(Vehicle, int) error) func(Vehicle, []any) error {
	return func(v Vehicle, args []any) error {
		n, err := intArg(args, 0)
		if err != nil {
			return err
		}
		return method(v, n)
	}
}

func intArg(args []any, i int) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i)
	}
	n, ok := args[i].(int)
	if !ok {
		return 0, fmt.Errorf("argument %d: expected int, got %T", i, args[i])
	}
	return n, nil
}

func stringArg(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d: expected string, got %T", i, args[i])
	}
	return s, nil
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
