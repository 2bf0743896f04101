// Package monitor renders a live telemetry dashboard in the terminal.
package monitor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/airdeck/telloctl/internal/telemetry"
)

const (
	// MinIntervalSec and MaxIntervalSec bound the display refresh interval.
	MinIntervalSec = 0.1
	MaxIntervalSec = 5.0

	batteryBarCells = 20
)

// Source yields the telemetry snapshot to display. A Source that has no
// fresh state returns an error and the frame is skipped.
type Source interface {
	State() (telemetry.Snapshot, error)
}

// Monitor redraws the diagnostic dashboard on a fixed interval.
type Monitor struct {
	src      Source
	interval time.Duration
	out      io.Writer
	sleep    func(context.Context, time.Duration) error
}

// New creates a Monitor writing to out. Intervals outside the supported
// range are clamped.
func New(src Source, intervalSec float64, out io.Writer) *Monitor {
	if intervalSec < MinIntervalSec {
		intervalSec = MinIntervalSec
	}
	if intervalSec > MaxIntervalSec {
		intervalSec = MaxIntervalSec
	}
	return &Monitor{
		src:      src,
		interval: time.Duration(intervalSec * float64(time.Second)),
		out:      out,
		sleep:    sleepCtx,
	}
}

// Interval returns the effective refresh interval after clamping.
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Run redraws until ctx is cancelled or the optional duration elapses.
// Cancellation is the normal way to stop and is not an error.
func (m *Monitor) Run(ctx context.Context, duration time.Duration) error {
	fmt.Fprintln(m.out, "Starting diagnostic monitoring...")
	fmt.Fprintf(m.out, "Update interval: %gs\n", m.interval.Seconds())
	if duration > 0 {
		fmt.Fprintf(m.out, "Duration: %gs\n", duration.Seconds())
	}
	fmt.Fprintln(m.out)

	start := time.Now()
	for {
		if duration > 0 && time.Since(start) >= duration {
			fmt.Fprintln(m.out, "\nMonitoring duration reached.")
			return nil
		}

		if snap, err := m.src.State(); err == nil {
			m.render(snap)
		}

		if err := m.sleep(ctx, m.interval); err != nil {
			fmt.Fprintln(m.out, "\n\nMonitoring stopped.")
			return nil
		}
	}
}

// render draws one dashboard frame, clearing the screen first.
func (m *Monitor) render(snap telemetry.Snapshot) {
	w := m.out
	rule := strings.Repeat("=", 60)

	fmt.Fprint(w, "\033[2J\033[H")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "DJI TELLO DIAGNOSTICS - REAL-TIME MONITOR")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "┌─ POWER & STATUS "+strings.Repeat("─", 41))
	fmt.Fprintf(w, "│ Battery:       %3d%% [%s]\n", snap.Battery, batteryBar(snap.Battery))
	fmt.Fprintf(w, "│ Temperature:   %5.1f°C  (Range: %d°C - %d°C)\n",
		snap.Temperature(), snap.TempLow, snap.TempHigh)
	fmt.Fprintf(w, "│ Flight Time:   %3ds\n", snap.FlightTime)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "┌─ POSITION & ALTITUDE "+strings.Repeat("─", 36))
	fmt.Fprintf(w, "│ Height:        %5d cm\n", snap.Height)
	fmt.Fprintf(w, "│ Barometer:     %5.0f cm\n", snap.Barometer)
	fmt.Fprintf(w, "│ TOF Distance:  %5d cm\n", snap.TOFDistance)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "┌─ ATTITUDE (IMU) "+strings.Repeat("─", 41))
	fmt.Fprintf(w, "│ Pitch:         %+4d°\n", snap.Pitch)
	fmt.Fprintf(w, "│ Roll:          %+4d°\n", snap.Roll)
	fmt.Fprintf(w, "│ Yaw:           %+4d°\n", snap.Yaw)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "┌─ VELOCITY "+strings.Repeat("─", 47))
	fmt.Fprintf(w, "│ X-axis:        %+4d dm/s\n", snap.SpeedX)
	fmt.Fprintf(w, "│ Y-axis:        %+4d dm/s\n", snap.SpeedY)
	fmt.Fprintf(w, "│ Z-axis:        %+4d dm/s\n", snap.SpeedZ)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "┌─ ACCELERATION "+strings.Repeat("─", 43))
	fmt.Fprintf(w, "│ X-axis:        %+7.2f cm/s²\n", snap.AccelX)
	fmt.Fprintf(w, "│ Y-axis:        %+7.2f cm/s²\n", snap.AccelY)
	fmt.Fprintf(w, "│ Z-axis:        %+7.2f cm/s²\n", snap.AccelZ)
	fmt.Fprintln(w)

	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "Press Ctrl+C to exit")
	fmt.Fprintln(w)
}

// batteryBar renders the charge as 20 cells of 5% each.
func batteryBar(battery int) string {
	cells := battery / 5
	if cells < 0 {
		cells = 0
	}
	if cells > batteryBarCells {
		cells = batteryBarCells
	}
	return strings.Repeat("█", cells) + strings.Repeat("░", batteryBarCells-cells)
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
