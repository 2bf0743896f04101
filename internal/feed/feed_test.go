package feed

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/airdeck/telloctl/internal/events"
	"github.com/airdeck/telloctl/internal/lock"
	"github.com/airdeck/telloctl/internal/model"
	"github.com/airdeck/telloctl/internal/telemetry"
	"github.com/airdeck/telloctl/internal/uds"
)

// fakeDrone serves canned snapshots without any UDP traffic.
type fakeDrone struct {
	store *telemetry.Store
	mu    sync.Mutex
	err   error
}

func newFakeDrone(err error) *fakeDrone {
	return &fakeDrone{store: telemetry.NewStore(), err: err}
}

func (f *fakeDrone) Connect(ctx context.Context) error { return nil }

func (f *fakeDrone) State() (telemetry.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return telemetry.Snapshot{}, f.err
	}
	snap, _ := f.store.Latest()
	return snap, nil
}

func (f *fakeDrone) Store() *telemetry.Store { return f.store }

func (f *fakeDrone) Close() error { return nil }

func (f *fakeDrone) setState(snap telemetry.Snapshot) {
	f.store.Update(snap)
}

// tempWorkspace builds a minimal workspace under /tmp to keep the socket
// path inside the platform limit.
func tempWorkspace(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "tctl-feed-*")
	if err != nil {
		t.Fatalf("create temp workspace: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	for _, sub := range []string{"locks", "logs", "programs"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			t.Fatalf("create %s: %v", sub, err)
		}
	}
	return dir
}

func testConfig() model.Config {
	cfg := model.ApplyDefaults(model.Config{})
	cfg.Feed.DeviceID = "tello-test"
	cfg.Feed.IntervalMs = 20
	cfg.Programs.Watch = false
	cfg.Metrics.Enabled = false
	cfg.Daemon.ShutdownTimeoutSec = 2
	cfg.Logging.Level = "error"
	return cfg
}

func startDaemon(t *testing.T, dir string, cfg model.Config, drone DroneSource) (*Daemon, chan error) {
	t.Helper()
	d, err := newDaemon(dir, cfg, drone, io.Discard, nil)
	if err != nil {
		t.Fatalf("newDaemon: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- d.Run() }()
	// Shutdown is idempotent; tests that stop the daemon themselves are fine.
	t.Cleanup(d.Shutdown)

	client := newTestClient(dir)
	deadline := time.Now().Add(3 * time.Second)
	for {
		if resp, err := client.SendCommand("ping", nil); err == nil && resp.Success {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("daemon did not answer ping")
		}
		time.Sleep(20 * time.Millisecond)
	}
	return d, done
}

func newTestClient(dir string) *uds.Client {
	client := uds.NewClient(filepath.Join(dir, uds.DefaultSocketName))
	client.SetTimeout(time.Second)
	return client
}

func TestDaemon_StatusReportsTelemetry(t *testing.T) {
	dir := tempWorkspace(t)
	drone := newFakeDrone(nil)
	drone.setState(telemetry.Snapshot{
		Battery:     72,
		Height:      30,
		TOFDistance: 40,
		TempLow:     55,
		TempHigh:    59,
		FlightTime:  12,
		ReceivedAt:  time.Now(),
	})

	startDaemon(t, dir, testConfig(), drone)
	client := newTestClient(dir)

	var payload statusPayload
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := client.SendCommand("status", nil)
		if err == nil && resp.Success {
			if err := json.Unmarshal(resp.Data, &payload); err != nil {
				t.Fatalf("decode status: %v", err)
			}
			if payload.Connected {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("daemon never reported connected: %+v", payload)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if payload.DeviceID != "tello-test" {
		t.Errorf("device_id: got %q", payload.DeviceID)
	}
	if payload.Telemetry == nil || payload.Telemetry.Battery != 72 {
		t.Errorf("telemetry: got %+v", payload.Telemetry)
	}
	if payload.UptimeSec < 0 {
		t.Errorf("uptime_sec: got %v", payload.UptimeSec)
	}
}

func TestDaemon_RunsReturnsAuditedEvents(t *testing.T) {
	dir := tempWorkspace(t)
	drone := newFakeDrone(os.ErrDeadlineExceeded)

	d, _ := startDaemon(t, dir, testConfig(), drone)

	d.Bus().Publish(events.EventRunStarted, map[string]interface{}{
		"run_id":     "run-1",
		"program_id": "square-dance",
	})

	client := newTestClient(dir)
	type runsPayload struct {
		Runs []runRow `json:"runs"`
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := client.SendCommand("runs", nil)
		if err == nil && resp.Success {
			var payload runsPayload
			if err := json.Unmarshal(resp.Data, &payload); err != nil {
				t.Fatalf("decode runs: %v", err)
			}
			if len(payload.Runs) == 1 {
				row := payload.Runs[0]
				if row.EventType != string(events.EventRunStarted) {
					t.Errorf("event_type: got %q", row.EventType)
				}
				if row.ProgramID != "square-dance" {
					t.Errorf("program_id: got %q", row.ProgramID)
				}
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("run event never reached the audit log")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDaemon_TelemetryPublishesEachSnapshotOnce(t *testing.T) {
	dir := tempWorkspace(t)
	drone := newFakeDrone(nil)
	first := time.Now()
	drone.setState(telemetry.Snapshot{Battery: 70, ReceivedAt: first})

	d, err := newDaemon(dir, testConfig(), drone, io.Discard, nil)
	if err != nil {
		t.Fatalf("newDaemon: %v", err)
	}

	var mu sync.Mutex
	published := 0
	d.Bus().Subscribe(events.EventTelemetryUpdate, func(e events.Event) {
		mu.Lock()
		published++
		mu.Unlock()
	})

	done := make(chan error, 1)
	go func() { done <- d.Run() }()
	defer func() {
		d.Shutdown()
		<-done
	}()

	// One store update is published exactly once regardless of how many
	// intervals elapse.
	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	got := published
	mu.Unlock()
	if got != 1 {
		t.Fatalf("publishes for one snapshot: got %d, want 1", got)
	}

	drone.setState(telemetry.Snapshot{Battery: 69, ReceivedAt: first.Add(time.Second)})
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		got = published
		mu.Unlock()
		if got == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("fresh snapshot not published, count=%d", got)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDaemon_RunsFilterAndVerify(t *testing.T) {
	dir := tempWorkspace(t)
	drone := newFakeDrone(os.ErrDeadlineExceeded)

	cfg := testConfig()
	cfg.Logging.AuditChecksum = true
	d, _ := startDaemon(t, dir, cfg, drone)

	const wantID = "run_1771722000_a3f2b7c1"
	d.Bus().Publish(events.EventRunStarted, map[string]interface{}{
		"run_id":     wantID,
		"program_id": "square-dance",
	})
	d.Bus().Publish(events.EventRunStarted, map[string]interface{}{
		"run_id":     "run_1771722060_b7c1d4e9",
		"program_id": "spiral-climb",
	})

	client := newTestClient(dir)
	type runsPayload struct {
		Runs  []runRow `json:"runs"`
		Total int      `json:"entries_total"`
		Valid int      `json:"entries_valid"`
	}

	params := map[string]interface{}{"run_id": wantID, "verify": true}
	var payload runsPayload
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := client.SendCommand("runs", params)
		if err == nil && resp.Success {
			if err := json.Unmarshal(resp.Data, &payload); err != nil {
				t.Fatalf("decode runs: %v", err)
			}
			if payload.Total == 2 {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("audit log never reached two entries: %+v", payload)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if len(payload.Runs) != 1 || payload.Runs[0].RunID != wantID {
		t.Errorf("filtered runs: got %+v", payload.Runs)
	}
	// Checksums were enabled, so every entry must verify.
	if payload.Valid != payload.Total {
		t.Errorf("integrity: %d/%d entries valid", payload.Valid, payload.Total)
	}

	resp, err := client.SendCommand("runs", map[string]interface{}{"run_id": "not-an-id"})
	if err != nil {
		t.Fatalf("runs with malformed id: %v", err)
	}
	if resp.Success {
		t.Error("malformed run id was accepted")
	}
}

func TestDaemon_ShutdownViaSocketReleasesWorkspace(t *testing.T) {
	dir := tempWorkspace(t)
	drone := newFakeDrone(os.ErrDeadlineExceeded)

	_, done := startDaemon(t, dir, testConfig(), drone)
	client := newTestClient(dir)

	resp, err := client.SendCommand("shutdown", nil)
	if err != nil {
		t.Fatalf("shutdown command: %v", err)
	}
	if !resp.Success {
		t.Fatalf("shutdown rejected: %+v", resp.Error)
	}

	select {
	case runErr := <-done:
		if runErr != nil {
			t.Fatalf("Run returned error: %v", runErr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop after shutdown command")
	}

	if _, err := os.Stat(filepath.Join(dir, uds.DefaultSocketName)); !os.IsNotExist(err) {
		t.Error("socket file still present after shutdown")
	}

	fl := lock.NewFileLock(filepath.Join(dir, "locks", "feed.lock"))
	if err := fl.TryLock(); err != nil {
		t.Fatalf("workspace lock not released: %v", err)
	}
	_ = fl.Unlock()
}

func TestDaemon_SecondInstanceRefused(t *testing.T) {
	dir := tempWorkspace(t)
	drone := newFakeDrone(os.ErrDeadlineExceeded)

	startDaemon(t, dir, testConfig(), drone)

	second, err := newDaemon(dir, testConfig(), newFakeDrone(nil), io.Discard, nil)
	if err != nil {
		t.Fatalf("newDaemon: %v", err)
	}
	if err := second.Run(); err == nil {
		t.Fatal("second daemon acquired the workspace lock")
	}
}

func TestDaemon_ReloadsProgramsOnFileChange(t *testing.T) {
	dir := tempWorkspace(t)
	drone := newFakeDrone(os.ErrDeadlineExceeded)

	cfg := testConfig()
	cfg.Programs.Watch = true
	cfg.Programs.DebounceSec = 0.05

	d, _ := startDaemon(t, dir, cfg, drone)

	if got := d.Library().Len(); got != 4 {
		t.Fatalf("curated catalog size: got %d, want 4", got)
	}

	program := `schema_version: 1
file_type: flight_program
identifier: test-hover
title: Test Hover
objective: Hover briefly for watcher tests.
recommended_space_m: 1.5
min_battery_percent: 20
estimated_duration_seconds: 8
steps:
  - command: takeoff
    wait_seconds: 2.0
  - command: pause
    wait_seconds: 3.0
  - command: land
`
	path := filepath.Join(dir, "programs", "test-hover.yaml")
	if err := os.WriteFile(path, []byte(program), 0644); err != nil {
		t.Fatalf("write program: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if d.Library().Len() == 5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("library not reloaded, size=%d", d.Library().Len())
		}
		time.Sleep(20 * time.Millisecond)
	}

	if _, err := d.Library().Get("test-hover"); err != nil {
		t.Errorf("reloaded program not found: %v", err)
	}
}
