package flight

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// fakeVehicle records every call in order. failOn makes the named command
// return failErr.
type fakeVehicle struct {
	battery    int
	batteryErr error
	failOn     string
	failErr    error
	calls      []string
}

func (f *fakeVehicle) Battery() (int, error) {
	f.calls = append(f.calls, "battery")
	return f.battery, f.batteryErr
}

func (f *fakeVehicle) record(call string) error {
	f.calls = append(f.calls, call)
	if f.failOn != "" && strings.HasPrefix(call, f.failOn) {
		return f.failErr
	}
	return nil
}

func (f *fakeVehicle) TakeOff() error                 { return f.record("takeoff") }
func (f *fakeVehicle) Land() error                    { return f.record("land") }
func (f *fakeVehicle) MoveUp(cm int) error            { return f.record(fmt.Sprintf("move_up(%d)", cm)) }
func (f *fakeVehicle) MoveDown(cm int) error          { return f.record(fmt.Sprintf("move_down(%d)", cm)) }
func (f *fakeVehicle) MoveLeft(cm int) error          { return f.record(fmt.Sprintf("move_left(%d)", cm)) }
func (f *fakeVehicle) MoveRight(cm int) error         { return f.record(fmt.Sprintf("move_right(%d)", cm)) }
func (f *fakeVehicle) MoveForward(cm int) error       { return f.record(fmt.Sprintf("move_forward(%d)", cm)) }
func (f *fakeVehicle) MoveBack(cm int) error          { return f.record(fmt.Sprintf("move_back(%d)", cm)) }
func (f *fakeVehicle) RotateClockwise(deg int) error  { return f.record(fmt.Sprintf("rotate_clockwise(%d)", deg)) }
func (f *fakeVehicle) RotateCounterClockwise(deg int) error {
	return f.record(fmt.Sprintf("rotate_counter_clockwise(%d)", deg))
}
func (f *fakeVehicle) Flip(direction string) error { return f.record("flip(" + direction + ")") }

// motionCalls filters out battery reads, leaving only commands that would
// move the drone.
func (f *fakeVehicle) motionCalls() []string {
	var out []string
	for _, c := range f.calls {
		if c != "battery" {
			out = append(out, c)
		}
	}
	return out
}

type sleepRecorder struct {
	slept []time.Duration
	err   error
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	if s.err != nil {
		return s.err
	}
	s.slept = append(s.slept, d)
	return nil
}

func testProgram(steps ...Step) Program {
	return Program{
		Identifier:           "test-routine",
		Title:                "Test Routine",
		Objective:            "Exercise the runner.",
		Steps:                steps,
		RecommendedSpaceM:    2.0,
		MinBatteryPercent:    20,
		EstimatedDurationSec: 5.0,
	}
}

func mustRunner(t *testing.T, defaultPause float64, sleep func(context.Context, time.Duration) error) *Runner {
	t.Helper()
	r, err := newRunner(defaultPause, sleep)
	if err != nil {
		t.Fatalf("newRunner failed: %v", err)
	}
	return r
}

func TestNewRunner_NegativeDefaultPause(t *testing.T) {
	_, err := NewRunner(-0.1)
	if err == nil {
		t.Fatal("expected error for negative default pause")
	}
	if !strings.Contains(err.Error(), "non-negative") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestExecute_EndToEnd(t *testing.T) {
	vehicle := &fakeVehicle{battery: 80}
	rec := &sleepRecorder{}
	r := mustRunner(t, 0, rec.sleep)

	program := testProgram(
		Step{Command: CommandTakeoff},
		Step{Command: CommandPause, WaitSeconds: 0.1},
		Step{Command: CommandLand},
	)

	var notes []string
	err := r.Execute(context.Background(), vehicle, program, func(msg string) {
		notes = append(notes, msg)
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	want := []string{
		"Starting 'Test Routine' (est. 5s).",
		"[1/3] takeoff",
		"[2/3] pause",
		"[3/3] land",
		"Completed 'Test Routine'.",
	}
	if len(notes) != len(want) {
		t.Fatalf("expected %d notifications, got %d: %v", len(want), len(notes), notes)
	}
	for i, msg := range want {
		if notes[i] != msg {
			t.Errorf("notification %d: got %q, want %q", i, notes[i], msg)
		}
	}

	motion := vehicle.motionCalls()
	if len(motion) != 2 || motion[0] != "takeoff" || motion[1] != "land" {
		t.Errorf("unexpected vehicle calls: %v", motion)
	}

	// The only sleep is the pause step itself; takeoff and land carry no
	// dwell with a zero default pause.
	if len(rec.slept) != 1 || rec.slept[0] != 100*time.Millisecond {
		t.Errorf("unexpected sleeps: %v", rec.slept)
	}
}

func TestExecute_StepDescriptionsInNotifications(t *testing.T) {
	vehicle := &fakeVehicle{battery: 80}
	r := mustRunner(t, 0, (&sleepRecorder{}).sleep)

	program := testProgram(
		Step{Command: CommandTakeoff, Description: "Smooth takeoff"},
		Step{Command: CommandLand},
	)

	var notes []string
	if err := r.Execute(context.Background(), vehicle, program, func(msg string) {
		notes = append(notes, msg)
	}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if notes[1] != "[1/2] Smooth takeoff" {
		t.Errorf("described step: got %q", notes[1])
	}
	if notes[2] != "[2/2] land" {
		t.Errorf("bare step falls back to command name: got %q", notes[2])
	}
}

func TestExecute_NilNotifier(t *testing.T) {
	vehicle := &fakeVehicle{battery: 80}
	r := mustRunner(t, 0, (&sleepRecorder{}).sleep)

	err := r.Execute(context.Background(), vehicle, testProgram(Step{Command: CommandTakeoff}), nil)
	if err != nil {
		t.Fatalf("Execute with nil notifier failed: %v", err)
	}
}

func TestExecute_EmptySteps(t *testing.T) {
	vehicle := &fakeVehicle{battery: 80}
	r := mustRunner(t, 0, (&sleepRecorder{}).sleep)

	program := testProgram()
	err := r.Execute(context.Background(), vehicle, program, nil)
	if err == nil {
		t.Fatal("expected error for empty steps")
	}
	if err.Error() != "Program has no steps to execute." {
		t.Errorf("unexpected message: %q", err.Error())
	}
	if len(vehicle.calls) != 0 {
		t.Errorf("vehicle should not be touched, got calls: %v", vehicle.calls)
	}
}

func TestExecute_BatteryReadError(t *testing.T) {
	cause := errors.New("socket timeout")
	vehicle := &fakeVehicle{batteryErr: cause}
	r := mustRunner(t, 0, (&sleepRecorder{}).sleep)

	err := r.Execute(context.Background(), vehicle, testProgram(Step{Command: CommandTakeoff}), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "Unable to read battery level." {
		t.Errorf("message should not leak the cause: %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be reachable via errors.Is")
	}
}

func TestExecute_BatteryOutOfRange(t *testing.T) {
	vehicle := &fakeVehicle{battery: 130}
	r := mustRunner(t, 0, (&sleepRecorder{}).sleep)

	err := r.Execute(context.Background(), vehicle, testProgram(Step{Command: CommandTakeoff}), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "Battery reading '130' is outside expected range 0-100." {
		t.Errorf("unexpected message: %q", err.Error())
	}
	if len(vehicle.motionCalls()) != 0 {
		t.Errorf("no motion expected, got: %v", vehicle.motionCalls())
	}
}

func TestExecute_BatteryGate(t *testing.T) {
	program := testProgram(Step{Command: CommandTakeoff})
	program.MinBatteryPercent = 50

	t.Run("one percent short refuses the run", func(t *testing.T) {
		vehicle := &fakeVehicle{battery: 49}
		r := mustRunner(t, 0, (&sleepRecorder{}).sleep)

		var notes []string
		err := r.Execute(context.Background(), vehicle, program, func(msg string) {
			notes = append(notes, msg)
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if err.Error() != "Battery level is too low (49%). Required: 50%." {
			t.Errorf("unexpected message: %q", err.Error())
		}
		if len(vehicle.motionCalls()) != 0 {
			t.Errorf("no motion expected, got: %v", vehicle.motionCalls())
		}
		if len(notes) != 0 {
			t.Errorf("no notifications expected before the gate, got: %v", notes)
		}
	})

	t.Run("exact minimum proceeds", func(t *testing.T) {
		vehicle := &fakeVehicle{battery: 50}
		r := mustRunner(t, 0, (&sleepRecorder{}).sleep)

		if err := r.Execute(context.Background(), vehicle, program, nil); err != nil {
			t.Fatalf("Execute failed at exact minimum: %v", err)
		}
		if len(vehicle.motionCalls()) != 1 {
			t.Errorf("expected takeoff, got: %v", vehicle.motionCalls())
		}
	})
}

func TestExecute_PauseNeverTouchesVehicle(t *testing.T) {
	vehicle := &fakeVehicle{battery: 80}
	rec := &sleepRecorder{}
	r := mustRunner(t, 1.0, rec.sleep)

	program := testProgram(Step{Command: CommandPause, WaitSeconds: 2.5})
	if err := r.Execute(context.Background(), vehicle, program, nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(vehicle.motionCalls()) != 0 {
		t.Errorf("pause must not reach the vehicle, got: %v", vehicle.motionCalls())
	}
	// The pause sleeps its own wait; the default dwell never applies.
	if len(rec.slept) != 1 || rec.slept[0] != 2500*time.Millisecond {
		t.Errorf("unexpected sleeps: %v", rec.slept)
	}
}

func TestExecute_DwellFloor(t *testing.T) {
	tests := []struct {
		name         string
		stepWait     float64
		defaultPause float64
		want         []time.Duration
	}{
		{"default pause lifts short waits", 0.3, 1.0, []time.Duration{time.Second}},
		{"longer step wait wins", 2.0, 0.8, []time.Duration{2 * time.Second}},
		{"both zero skips the dwell", 0, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vehicle := &fakeVehicle{battery: 80}
			rec := &sleepRecorder{}
			r := mustRunner(t, tt.defaultPause, rec.sleep)

			program := testProgram(Step{Command: CommandMoveUp, Args: []any{40}, WaitSeconds: tt.stepWait})
			if err := r.Execute(context.Background(), vehicle, program, nil); err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if len(rec.slept) != len(tt.want) {
				t.Fatalf("expected %d sleeps, got %v", len(tt.want), rec.slept)
			}
			for i, d := range tt.want {
				if rec.slept[i] != d {
					t.Errorf("sleep %d: got %v, want %v", i, rec.slept[i], d)
				}
			}
		})
	}
}

func TestExecute_UnknownCommandFailsFast(t *testing.T) {
	vehicle := &fakeVehicle{battery: 80}
	r := mustRunner(t, 0, (&sleepRecorder{}).sleep)

	program := testProgram(
		Step{Command: CommandTakeoff},
		Step{Command: Command("warp")},
		Step{Command: CommandLand},
	)

	err := r.Execute(context.Background(), vehicle, program, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "Tello API does not implement 'warp'." {
		t.Errorf("unexpected message: %q", err.Error())
	}

	// Steps before the unknown command keep their effects.
	motion := vehicle.motionCalls()
	if len(motion) != 1 || motion[0] != "takeoff" {
		t.Errorf("expected only takeoff before the failure, got: %v", motion)
	}
}

func TestExecute_CommandFailureWrapsCause(t *testing.T) {
	cause := errors.New("motor fault")
	vehicle := &fakeVehicle{battery: 80, failOn: "flip", failErr: cause}
	r := mustRunner(t, 0, (&sleepRecorder{}).sleep)

	program := testProgram(Step{Command: CommandFlip, Args: []any{"l"}})
	err := r.Execute(context.Background(), vehicle, program, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "Command 'flip' with args [l] failed." {
		t.Errorf("unexpected message: %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be reachable via errors.Is")
	}

	var upErr *UploadError
	if !errors.As(err, &upErr) {
		t.Fatal("expected an *UploadError")
	}
	if upErr.Cause != cause {
		t.Errorf("unexpected cause: %v", upErr.Cause)
	}
}

func TestExecute_MissingArgumentFailsCommand(t *testing.T) {
	vehicle := &fakeVehicle{battery: 80}
	r := mustRunner(t, 0, (&sleepRecorder{}).sleep)

	program := testProgram(Step{Command: CommandMoveUp})
	err := r.Execute(context.Background(), vehicle, program, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "Command 'move_up' with args [] failed." {
		t.Errorf("unexpected message: %q", err.Error())
	}
	if len(vehicle.motionCalls()) != 0 {
		t.Errorf("no motion expected, got: %v", vehicle.motionCalls())
	}
}

func TestExecute_CancelledBeforeFirstStep(t *testing.T) {
	vehicle := &fakeVehicle{battery: 80}
	r := mustRunner(t, 0, (&sleepRecorder{}).sleep)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Execute(ctx, vehicle, testProgram(Step{Command: CommandTakeoff}), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "Flight program cancelled." {
		t.Errorf("unexpected message: %q", err.Error())
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("expected context.Canceled in the chain")
	}
	if len(vehicle.motionCalls()) != 0 {
		t.Errorf("no motion expected, got: %v", vehicle.motionCalls())
	}
}

func TestExecute_CancelledDuringDwell(t *testing.T) {
	vehicle := &fakeVehicle{battery: 80}
	rec := &sleepRecorder{err: context.Canceled}
	r := mustRunner(t, 0.8, rec.sleep)

	program := testProgram(
		Step{Command: CommandTakeoff, WaitSeconds: 1.0},
		Step{Command: CommandLand},
	)

	err := r.Execute(context.Background(), vehicle, program, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}

	motion := vehicle.motionCalls()
	if len(motion) != 1 || motion[0] != "takeoff" {
		t.Errorf("expected run to stop after takeoff, got: %v", motion)
	}
}

func TestExecute_DispatchesEveryCommand(t *testing.T) {
	tests := []struct {
		command Command
		args    []any
		want    string
	}{
		{CommandTakeoff, nil, "takeoff"},
		{CommandLand, nil, "land"},
		{CommandMoveUp, []any{40}, "move_up(40)"},
		{CommandMoveDown, []any{30}, "move_down(30)"},
		{CommandMoveLeft, []any{60}, "move_left(60)"},
		{CommandMoveRight, []any{60}, "move_right(60)"},
		{CommandMoveForward, []any{80}, "move_forward(80)"},
		{CommandMoveBack, []any{80}, "move_back(80)"},
		{CommandRotateClockwise, []any{90}, "rotate_clockwise(90)"},
		{CommandRotateCounterClockwise, []any{45}, "rotate_counter_clockwise(45)"},
		{CommandFlip, []any{"r"}, "flip(r)"},
	}

	for _, tt := range tests {
		t.Run(string(tt.command), func(t *testing.T) {
			vehicle := &fakeVehicle{battery: 80}
			r := mustRunner(t, 0, (&sleepRecorder{}).sleep)

			program := testProgram(Step{Command: tt.command, Args: tt.args})
			if err := r.Execute(context.Background(), vehicle, program, nil); err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			motion := vehicle.motionCalls()
			if len(motion) != 1 || motion[0] != tt.want {
				t.Errorf("got calls %v, want [%s]", motion, tt.want)
			}
		})
	}
}

func TestSleepCtx_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sleepCtx(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
}

func TestSleepCtx_Elapses(t *testing.T) {
	if err := sleepCtx(context.Background(), time.Millisecond); err != nil {
		t.Errorf("expected nil, got: %v", err)
	}
}
