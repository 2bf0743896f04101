// Package status queries a running feed daemon over its control socket and
// renders the answer.
package status

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/airdeck/telloctl/internal/uds"
)

// Report is the printable view of a feed daemon's answer.
type Report struct {
	Daemon    DaemonStatus  `json:"daemon"`
	Telemetry *TelemetryRow `json:"telemetry,omitempty"`
	Runs      []RunRow      `json:"runs,omitempty"`
}

type DaemonStatus struct {
	Running       bool    `json:"running"`
	DeviceID      string  `json:"device_id,omitempty"`
	Connected     bool    `json:"connected"`
	UptimeSec     float64 `json:"uptime_sec,omitempty"`
	AuditLogBytes int64   `json:"audit_log_bytes,omitempty"`
}

// TelemetryRow mirrors the snapshot fields the feed daemon reports.
type TelemetryRow struct {
	Battery     int       `json:"battery"`
	Height      int       `json:"height"`
	TOFDistance int       `json:"tof_distance"`
	TempLow     int       `json:"temp_low"`
	TempHigh    int       `json:"temp_high"`
	FlightTime  int       `json:"flight_time"`
	ReceivedAt  time.Time `json:"received_at"`
}

// RunRow mirrors one audit log entry as the feed daemon reports it.
type RunRow struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	RunID     string    `json:"run_id,omitempty"`
	ProgramID string    `json:"program_id,omitempty"`
	Message   string    `json:"message,omitempty"`
}

type statusData struct {
	DeviceID      string        `json:"device_id"`
	Connected     bool          `json:"connected"`
	UptimeSec     float64       `json:"uptime_sec"`
	AuditLogBytes int64         `json:"audit_log_bytes"`
	Telemetry     *TelemetryRow `json:"telemetry,omitempty"`
}

type runsData struct {
	Runs []RunRow `json:"runs"`
}

// Run queries the feed daemon in workspaceDir and prints its status.
func Run(workspaceDir string, jsonOutput bool) error {
	return run(workspaceDir, jsonOutput, os.Stdout)
}

func run(workspaceDir string, jsonOutput bool, out io.Writer) error {
	report := Gather(workspaceDir)

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printReport(out, report)
	return nil
}

// Gather collects the daemon's status and recent runs. A daemon that cannot
// be reached yields a not-running report rather than an error.
func Gather(workspaceDir string) Report {
	report := Report{}

	sockPath := filepath.Join(workspaceDir, uds.DefaultSocketName)
	client := uds.NewClient(sockPath)
	client.SetTimeout(3 * time.Second)

	resp, err := client.SendCommand("status", nil)
	if err != nil || !resp.Success {
		return report
	}

	var data statusData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return report
	}

	report.Daemon = DaemonStatus{
		Running:       true,
		DeviceID:      data.DeviceID,
		Connected:     data.Connected,
		UptimeSec:     data.UptimeSec,
		AuditLogBytes: data.AuditLogBytes,
	}
	report.Telemetry = data.Telemetry

	if resp, err := client.SendCommand("runs", nil); err == nil && resp.Success {
		var rd runsData
		if err := json.Unmarshal(resp.Data, &rd); err == nil {
			report.Runs = rd.Runs
		}
	}

	return report
}

func printReport(out io.Writer, r Report) {
	if !r.Daemon.Running {
		fmt.Fprintln(out, "Feed daemon: stopped")
		return
	}

	fmt.Fprintf(out, "Feed daemon: running  device=%s  drone=%s  up=%s\n",
		r.Daemon.DeviceID, connectedWord(r.Daemon.Connected),
		(time.Duration(r.Daemon.UptimeSec) * time.Second).String())

	if r.Telemetry != nil {
		t := r.Telemetry
		fmt.Fprintf(out, "\nTelemetry (as of %s):\n", t.ReceivedAt.Format(time.RFC3339))
		fmt.Fprintf(out, "  battery=%d%%  height=%dcm  tof=%dcm  temp=%d-%d°C  flight_time=%ds\n",
			t.Battery, t.Height, t.TOFDistance, t.TempLow, t.TempHigh, t.FlightTime)
	} else {
		fmt.Fprintln(out, "\nTelemetry: none yet")
	}

	if r.Daemon.AuditLogBytes > 0 {
		fmt.Fprintf(out, "\nFlight log: %d bytes\n", r.Daemon.AuditLogBytes)
	}

	if len(r.Runs) > 0 {
		fmt.Fprintln(out, "\nRecent runs:")
		for _, run := range r.Runs {
			fmt.Fprintf(out, "  %s  %-13s  %-14s  %s\n",
				run.Timestamp.Format("15:04:05"), run.EventType, run.ProgramID, run.Message)
		}
	}
}

func connectedWord(connected bool) string {
	if connected {
		return "connected"
	}
	return "disconnected"
}
