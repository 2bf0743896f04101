// Package shell is the interactive operator console: direct stick-free
// control commands, telemetry reads, and flight program dispatch.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/airdeck/telloctl/internal/events"
	"github.com/airdeck/telloctl/internal/flight"
	"github.com/airdeck/telloctl/internal/model"
	"github.com/airdeck/telloctl/internal/notify"
	"github.com/airdeck/telloctl/internal/telemetry"
)

const helpText = `
Available Commands:
==================

CONTROL COMMANDS:
  takeoff          - Auto takeoff
  land             - Auto landing
  up <x>           - Move up x cm (20-500)
  down <x>         - Move down x cm (20-500)
  left <x>         - Move left x cm (20-500)
  right <x>        - Move right x cm (20-500)
  forward <x>      - Move forward x cm (20-500)
  back <x>         - Move back x cm (20-500)
  cw <x>           - Rotate clockwise x degrees (1-360)
  ccw <x>          - Rotate counter-clockwise x degrees (1-360)
  flip <d>         - Flip in direction (l/r/f/b)
  emergency        - Emergency stop (motors off)

READ COMMANDS:
  battery          - Get battery percentage
  speed            - Get current speed
  time             - Get flight time
  temp             - Get temperature
  height           - Get current height
  tof              - Get TOF distance
  baro             - Get barometer reading
  attitude         - Get pitch, roll, yaw
  acceleration     - Get acceleration x, y, z
  state            - Get all state data

SYSTEM COMMANDS:
  help             - Show this help
  status           - Show current status
  exit/quit        - Exit program

PROGRAM LIBRARY:
  programs                 - List curated routines
  programs info <slug>     - Show routine steps
  programs run <slug>      - Upload + fly selected routine

Examples:
  > up 50
  > battery
  > cw 90
`

// Drone is the shell's view of a connected vehicle. It widens the runner's
// Vehicle with the operations only the console uses.
type Drone interface {
	flight.Vehicle
	Emergency() error
	State() (telemetry.Snapshot, error)
	Flying() bool
}

// Config assembles a Shell. Drone may be nil for offline browsing of the
// program library. Bus and In/Out are optional.
type Config struct {
	Drone         Drone
	Library       *flight.Library
	Runner        *flight.Runner
	Bus           *events.Bus
	DesktopNotify bool
	In            io.Reader
	Out           io.Writer
}

// Shell reads commands from one stream and answers on another.
type Shell struct {
	drone   Drone
	runner  *flight.Runner
	bus     *events.Bus
	desktop bool
	in      io.Reader
	out     io.Writer

	// The library is swapped under the mutex when a reload event arrives.
	libMu sync.RWMutex
	lib   *flight.Library

	// seam for desktop notifications in tests
	sendNotification func(title, message string) error
}

func New(cfg Config) *Shell {
	return &Shell{
		drone:            cfg.Drone,
		lib:              cfg.Library,
		runner:           cfg.Runner,
		bus:              cfg.Bus,
		desktop:          cfg.DesktopNotify,
		in:               cfg.In,
		out:              cfg.Out,
		sendNotification: notify.Send,
	}
}

func (s *Shell) library() *flight.Library {
	s.libMu.RLock()
	defer s.libMu.RUnlock()
	return s.lib
}

func (s *Shell) setLibrary(lib *flight.Library) {
	s.libMu.Lock()
	s.lib = lib
	s.libMu.Unlock()
}

// Run reads commands until exit, EOF, or ctx cancellation. On the way out it
// lands the drone if it is still flying. While running, the shell picks up
// program library reloads announced on the bus.
func (s *Shell) Run(ctx context.Context) error {
	if s.bus != nil {
		unsubscribe := s.bus.Subscribe(events.EventProgramsReloaded, func(e events.Event) {
			if lib, ok := e.Data["library"].(*flight.Library); ok {
				s.setLibrary(lib)
			}
		})
		defer unsubscribe()
	}

	fmt.Fprintln(s.out, "\nTello Manual Command Interface")
	fmt.Fprintln(s.out, "Type 'help' for available commands")
	fmt.Fprintln(s.out)

	scanner := bufio.NewScanner(s.in)
	for {
		select {
		case <-ctx.Done():
			s.landOnExit()
			return nil
		default:
		}

		fmt.Fprint(s.out, "tello> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			s.landOnExit()
			return scanner.Err()
		}
		if !s.execute(ctx, scanner.Text()) {
			s.landOnExit()
			return nil
		}
	}
}

func (s *Shell) landOnExit() {
	if s.drone != nil && s.drone.Flying() {
		fmt.Fprintln(s.out, "\nLanding before disconnect...")
		if err := s.drone.Land(); err != nil {
			fmt.Fprintf(s.out, "Error during landing: %v\n", err)
		}
	}
}

// offlineAllowed are the commands usable without a connected drone.
var offlineAllowed = map[string]bool{
	"exit":     true,
	"quit":     true,
	"help":     true,
	"programs": true,
}

// execute runs one command line. It returns false when the shell should
// exit.
func (s *Shell) execute(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(line)))
	if len(parts) == 0 {
		return true
	}
	action := parts[0]

	if s.drone == nil && !offlineAllowed[action] {
		fmt.Fprintln(s.out, "Not connected to Tello")
		return true
	}

	switch action {
	case "exit", "quit":
		return false

	case "help":
		fmt.Fprint(s.out, helpText)

	case "status":
		s.showStatus()

	case "programs":
		s.handlePrograms(ctx, parts[1:])

	case "takeoff":
		fmt.Fprintln(s.out, "Taking off...")
		s.report(s.drone.TakeOff(), "✓ Takeoff complete")

	case "land":
		fmt.Fprintln(s.out, "Landing...")
		s.report(s.drone.Land(), "✓ Landed")

	case "emergency":
		fmt.Fprintln(s.out, "EMERGENCY STOP!")
		if err := s.drone.Emergency(); err != nil {
			fmt.Fprintf(s.out, "Error executing command: %v\n", err)
		}

	case "up", "down", "left", "right", "forward", "back":
		s.move(action, parts[1:])

	case "cw", "ccw":
		s.rotate(action, parts[1:])

	case "flip":
		s.flip(parts[1:])

	case "battery":
		if pct, err := s.drone.Battery(); err != nil {
			fmt.Fprintf(s.out, "Error executing command: %v\n", err)
		} else {
			fmt.Fprintf(s.out, "Battery: %d%%\n", pct)
		}

	case "speed":
		s.withState(func(snap telemetry.Snapshot) {
			fmt.Fprintf(s.out, "Speed - X: %d, Y: %d, Z: %d dm/s\n", snap.SpeedX, snap.SpeedY, snap.SpeedZ)
		})

	case "time":
		s.withState(func(snap telemetry.Snapshot) {
			fmt.Fprintf(s.out, "Flight time: %ds\n", snap.FlightTime)
		})

	case "temp":
		s.withState(func(snap telemetry.Snapshot) {
			fmt.Fprintf(s.out, "Temperature: %.1f°C (Range: %d-%d°C)\n",
				snap.Temperature(), snap.TempLow, snap.TempHigh)
		})

	case "height":
		s.withState(func(snap telemetry.Snapshot) {
			fmt.Fprintf(s.out, "Height: %d cm\n", snap.Height)
		})

	case "tof":
		s.withState(func(snap telemetry.Snapshot) {
			fmt.Fprintf(s.out, "TOF Distance: %d cm\n", snap.TOFDistance)
		})

	case "baro":
		s.withState(func(snap telemetry.Snapshot) {
			fmt.Fprintf(s.out, "Barometer: %.0f cm\n", snap.Barometer)
		})

	case "attitude":
		s.withState(func(snap telemetry.Snapshot) {
			fmt.Fprintf(s.out, "Attitude - Pitch: %d°, Roll: %d°, Yaw: %d°\n",
				snap.Pitch, snap.Roll, snap.Yaw)
		})

	case "acceleration":
		s.withState(func(snap telemetry.Snapshot) {
			fmt.Fprintf(s.out, "Acceleration - X: %.2f, Y: %.2f, Z: %.2f cm/s²\n",
				snap.AccelX, snap.AccelY, snap.AccelZ)
		})

	case "state":
		s.withState(s.printState)

	default:
		fmt.Fprintf(s.out, "Unknown command: %s\n", action)
		fmt.Fprintln(s.out, "Type 'help' for available commands")
	}

	return true
}

func (s *Shell) report(err error, success string) {
	if err != nil {
		fmt.Fprintf(s.out, "Error executing command: %v\n", err)
		return
	}
	fmt.Fprintln(s.out, success)
}

func (s *Shell) withState(render func(telemetry.Snapshot)) {
	snap, err := s.drone.State()
	if err != nil {
		fmt.Fprintf(s.out, "Error executing command: %v\n", err)
		return
	}
	render(snap)
}

func (s *Shell) move(direction string, args []string) {
	if len(args) < 1 {
		fmt.Fprintf(s.out, "Usage: %s <distance>\n", direction)
		return
	}
	distance, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(s.out, "Invalid value: %v\n", err)
		return
	}
	if distance < 20 || distance > 500 {
		fmt.Fprintln(s.out, "Distance must be between 20 and 500 cm")
		return
	}

	fmt.Fprintf(s.out, "Moving %s %d cm...\n", direction, distance)
	var callErr error
	switch direction {
	case "up":
		callErr = s.drone.MoveUp(distance)
	case "down":
		callErr = s.drone.MoveDown(distance)
	case "left":
		callErr = s.drone.MoveLeft(distance)
	case "right":
		callErr = s.drone.MoveRight(distance)
	case "forward":
		callErr = s.drone.MoveForward(distance)
	case "back":
		callErr = s.drone.MoveBack(distance)
	}
	s.report(callErr, "✓ Move complete")
}

func (s *Shell) rotate(direction string, args []string) {
	if len(args) < 1 {
		fmt.Fprintf(s.out, "Usage: %s <degrees>\n", direction)
		return
	}
	degrees, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(s.out, "Invalid value: %v\n", err)
		return
	}
	if degrees < 1 || degrees > 360 {
		fmt.Fprintln(s.out, "Degrees must be between 1 and 360")
		return
	}

	fmt.Fprintf(s.out, "Rotating %s %d°...\n", direction, degrees)
	var callErr error
	if direction == "cw" {
		callErr = s.drone.RotateClockwise(degrees)
	} else {
		callErr = s.drone.RotateCounterClockwise(degrees)
	}
	s.report(callErr, "✓ Rotation complete")
}

func (s *Shell) flip(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "Usage: flip <direction>  (l/r/f/b)")
		return
	}
	direction := args[0]
	switch direction {
	case "l", "r", "f", "b":
	default:
		fmt.Fprintln(s.out, "Direction must be l (left), r (right), f (forward), or b (back)")
		return
	}

	fmt.Fprintf(s.out, "Flipping %s...\n", direction)
	s.report(s.drone.Flip(direction), "✓ Flip complete")
}

func (s *Shell) showStatus() {
	snap, err := s.drone.State()
	if err != nil {
		fmt.Fprintf(s.out, "Error reading status: %v\n", err)
		return
	}

	rule := strings.Repeat("=", 50)
	fmt.Fprintln(s.out, "\n"+rule)
	fmt.Fprintln(s.out, "TELLO STATUS")
	fmt.Fprintln(s.out, rule)
	fmt.Fprintf(s.out, "Battery:     %d%%\n", snap.Battery)
	fmt.Fprintf(s.out, "Temperature: %.1f°C\n", snap.Temperature())
	fmt.Fprintf(s.out, "Height:      %d cm\n", snap.Height)
	fmt.Fprintf(s.out, "Flight Time: %ds\n", snap.FlightTime)
	fmt.Fprintln(s.out, rule+"\n")
}

func (s *Shell) printState(snap telemetry.Snapshot) {
	fmt.Fprintln(s.out, "\nAll State Data:")
	fields := []struct {
		name  string
		value string
	}{
		{"accel_x", fmt.Sprintf("%.2f", snap.AccelX)},
		{"accel_y", fmt.Sprintf("%.2f", snap.AccelY)},
		{"accel_z", fmt.Sprintf("%.2f", snap.AccelZ)},
		{"barometer", fmt.Sprintf("%.0f", snap.Barometer)},
		{"battery", strconv.Itoa(snap.Battery)},
		{"flight_time", strconv.Itoa(snap.FlightTime)},
		{"height", strconv.Itoa(snap.Height)},
		{"pitch", strconv.Itoa(snap.Pitch)},
		{"roll", strconv.Itoa(snap.Roll)},
		{"speed_x", strconv.Itoa(snap.SpeedX)},
		{"speed_y", strconv.Itoa(snap.SpeedY)},
		{"speed_z", strconv.Itoa(snap.SpeedZ)},
		{"temp_high", strconv.Itoa(snap.TempHigh)},
		{"temp_low", strconv.Itoa(snap.TempLow)},
		{"tof_distance", strconv.Itoa(snap.TOFDistance)},
		{"yaw", strconv.Itoa(snap.Yaw)},
	}
	for _, f := range fields {
		fmt.Fprintf(s.out, "  %-15s: %s\n", f.name, f.value)
	}
	fmt.Fprintln(s.out)
}

func (s *Shell) handlePrograms(ctx context.Context, args []string) {
	if len(args) == 0 || args[0] == "list" {
		s.printCatalog()
		return
	}

	switch {
	case args[0] == "info" && len(args) >= 2:
		s.showProgramDetails(args[1])
	case args[0] == "run" && len(args) >= 2:
		s.runProgram(ctx, args[1])
	default:
		fmt.Fprintln(s.out, "Usage: programs [list|info <slug>|run <slug>]")
	}
}

func (s *Shell) printCatalog() {
	fmt.Fprintln(s.out, "\nAvailable Flight Programs")
	fmt.Fprintln(s.out, strings.Repeat("-", 80))
	header := fmt.Sprintf("%-15s | %-20s | %-9s | %-9s | %-6s",
		"Slug", "Title", "Space(m)", "Battery%", "ETA(s)")
	fmt.Fprintln(s.out, header)
	fmt.Fprintln(s.out, strings.Repeat("-", len(header)))

	for _, summary := range s.library().Summaries() {
		title := summary.Title
		if len(title) > 20 {
			title = title[:20]
		}
		fmt.Fprintf(s.out, "%-15s | %-20s | %9.1f | %9d | %6.0f\n",
			summary.Identifier, title, summary.RecommendedSpaceM,
			summary.MinBatteryPercent, summary.EstimatedDurationSec)
	}

	fmt.Fprintln(s.out, "\nUse 'programs info <slug>' for step-by-step details.")
}

func (s *Shell) showProgramDetails(slug string) {
	program, err := s.library().Get(slug)
	if err != nil {
		fmt.Fprintln(s.out, err.Error())
		return
	}

	fmt.Fprintf(s.out, "\n%s (%s)\n", program.Title, program.Identifier)
	fmt.Fprintln(s.out, strings.Repeat("-", 80))
	fmt.Fprintln(s.out, program.Objective)
	fmt.Fprintf(s.out, "- Recommended space: %.1f m clear bubble\n", program.RecommendedSpaceM)
	fmt.Fprintf(s.out, "- Minimum battery: %d%%\n", program.MinBatteryPercent)
	fmt.Fprintf(s.out, "- Estimated duration: %.0fs\n", program.EstimatedDurationSec)

	fmt.Fprintln(s.out, "\nSteps:")
	for i, step := range program.Steps {
		detail := step.Description
		if detail == "" {
			detail = string(step.Command)
		}
		if step.Command == flight.CommandPause {
			fmt.Fprintf(s.out, "  %02d. Hover %.1fs - %s\n", i+1, step.WaitSeconds, detail)
			continue
		}

		waitSuffix := ""
		if step.WaitSeconds > 0 {
			waitSuffix = fmt.Sprintf(" + hold %.1fs", step.WaitSeconds)
		}
		fmt.Fprintf(s.out, "  %02d. %s %v - %s%s\n", i+1, step.Command, step.Args, detail, waitSuffix)
	}
}

func (s *Shell) runProgram(ctx context.Context, slug string) {
	if s.drone == nil {
		fmt.Fprintln(s.out, "Connect to the Tello before running a program.")
		return
	}

	program, err := s.library().Get(slug)
	if err != nil {
		fmt.Fprintln(s.out, err.Error())
		return
	}

	fmt.Fprintf(s.out, "\nUploading '%s' routine...\n", program.Title)

	runID, _ := model.GenerateID(model.IDTypeRun)
	s.publish(events.EventRunStarted, runID, program.Identifier, "", 0)

	callback := func(message string) {
		fmt.Fprintf(s.out, "  %s\n", message)
		// Step notifications carry their 1-based index as "[i/N] ...".
		var idx, total int
		if n, err := fmt.Sscanf(message, "[%d/%d]", &idx, &total); err == nil && n == 2 {
			s.publish(events.EventRunStep, runID, program.Identifier, message, idx)
		}
	}

	if err := s.runner.Execute(ctx, s.drone, program, callback); err != nil {
		fmt.Fprintf(s.out, "✗ Routine aborted: %v\n", err)
		s.publish(events.EventRunFailed, runID, program.Identifier, err.Error(), 0)
		s.notifyDesktop("Flight aborted", fmt.Sprintf("%s: %v", program.Title, err))
		return
	}

	fmt.Fprintln(s.out, "✓ Routine completed successfully.")
	s.publish(events.EventRunCompleted, runID, program.Identifier, "", 0)
	s.notifyDesktop("Flight completed", program.Title)
}

func (s *Shell) publish(eventType events.EventType, runID, programID, message string, stepIndex int) {
	if s.bus == nil {
		return
	}
	data := map[string]interface{}{
		"run_id":     runID,
		"program_id": programID,
	}
	if message != "" {
		data["message"] = message
	}
	if stepIndex > 0 {
		data["step_index"] = stepIndex
	}
	s.bus.Publish(eventType, data)
}

func (s *Shell) notifyDesktop(title, message string) {
	if !s.desktop {
		return
	}
	if err := s.sendNotification(title, message); err != nil {
		fmt.Fprintf(s.out, "Desktop notification failed: %v\n", err)
	}
}
