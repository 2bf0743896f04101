// Package feed runs the headless daemon: it holds the exclusive workspace
// lock, keeps the drone connection alive, publishes telemetry to the
// configured sinks, and answers the control socket.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/airdeck/telloctl/internal/events"
	"github.com/airdeck/telloctl/internal/flight"
	"github.com/airdeck/telloctl/internal/lock"
	"github.com/airdeck/telloctl/internal/model"
	"github.com/airdeck/telloctl/internal/observability"
	"github.com/airdeck/telloctl/internal/telemetry"
	"github.com/airdeck/telloctl/internal/tello"
	"github.com/airdeck/telloctl/internal/uds"
)

const (
	connectRetryInterval = 10 * time.Second
	recentRunsLimit      = 10
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// DroneSource is the daemon's view of the vehicle connection.
type DroneSource interface {
	Connect(ctx context.Context) error
	State() (telemetry.Snapshot, error)
	Store() *telemetry.Store
	Close() error
}

// Daemon is the feed daemon process.
type Daemon struct {
	workspaceDir string
	cfg          model.Config
	logLevel     LogLevel
	logger       *log.Logger
	logFile      io.Closer

	drone      DroneSource
	fileLock   *lock.FileLock
	server     *uds.Server
	watcher    *flight.Watcher
	bus        *events.Bus
	audit      *events.AuditLogger
	collector  *observability.FlightCollector
	metricsSrv *http.Server
	mqtt       *MQTTPublisher
	hub        *HubClient

	libMu sync.RWMutex
	lib   *flight.Library

	connected atomic.Bool
	startedAt time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	group    *errgroup.Group
	shutdown sync.Once
}

// New creates a Daemon that drives a real Tello and logs to
// <workspaceDir>/logs/feed.log. The config is expected to have defaults
// applied.
func New(workspaceDir string, cfg model.Config) (*Daemon, error) {
	logPath := filepath.Join(workspaceDir, "logs", "feed.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open feed log: %w", err)
	}

	drone, err := tello.NewDriverWithLogFile(workspaceDir, cfg.Vehicle, cfg.Logging.Level)
	if err != nil {
		_ = logFile.Close()
		return nil, err
	}

	return newDaemon(workspaceDir, cfg, drone, logFile, logFile)
}

// newDaemon is the internal constructor for testing.
func newDaemon(workspaceDir string, cfg model.Config, drone DroneSource, w io.Writer, closer io.Closer) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	d := &Daemon{
		workspaceDir: workspaceDir,
		cfg:          cfg,
		logLevel:     parseLogLevel(cfg.Logging.Level),
		logger:       log.New(w, "", 0),
		logFile:      closer,
		drone:        drone,
		fileLock:     lock.NewFileLock(filepath.Join(workspaceDir, "locks", "feed.lock")),
		server:       uds.NewServer(filepath.Join(workspaceDir, uds.DefaultSocketName)),
		bus:          events.NewBus(100),
		lib:          flight.NewLibrary(),
		ctx:          gctx,
		cancel:       cancel,
		group:        group,
	}
	return d, nil
}

// Bus exposes the daemon's event bus.
func (d *Daemon) Bus() *events.Bus {
	return d.bus
}

// Library returns the current program library.
func (d *Daemon) Library() *flight.Library {
	d.libMu.RLock()
	defer d.libMu.RUnlock()
	return d.lib
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	if err := d.fileLock.TryLock(); err != nil {
		lockPath := filepath.Join(d.workspaceDir, "locks", "feed.lock")
		if pid := lock.OwnerPID(lockPath); pid > 0 {
			return fmt.Errorf("feed lock held by pid %d: %w", pid, err)
		}
		return fmt.Errorf("feed lock: %w", err)
	}
	d.startedAt = time.Now()
	d.log(LogLevelInfo, "feed daemon starting pid=%d device=%s", os.Getpid(), d.cfg.Feed.DeviceID)

	audit, err := events.NewAuditLogger(filepath.Join(d.workspaceDir, "logs", "flights"+events.LogFileExtension), 0)
	if err != nil {
		d.fileLock.Unlock()
		return fmt.Errorf("open audit log: %w", err)
	}
	d.audit = audit
	if d.cfg.Logging.AuditChecksum {
		audit.EnableChecksum(true)
	}
	d.log(LogLevelInfo, "audit log at %s", audit.GetCurrentLogPath())
	d.bus.SubscribeRunEvents(func(e events.Event) {
		if err := d.audit.LogEvent(e); err != nil {
			d.log(LogLevelError, "audit write failed: %v", err)
		}
	})

	collector, err := observability.NewFlightCollector(prometheus.NewRegistry())
	if err != nil {
		d.cleanup()
		return fmt.Errorf("init metrics: %w", err)
	}
	d.collector = collector
	d.collector.Attach(d.bus)

	d.reloadLibrary()

	if d.cfg.Programs.Watch {
		if err := d.startWatcher(); err != nil {
			d.cleanup()
			return err
		}
	}

	if d.cfg.Feed.MQTT.Enabled {
		pub, err := NewMQTTPublisher(d.cfg.Feed.MQTT, d.cfg.Feed.DeviceID)
		if err != nil {
			d.log(LogLevelWarn, "mqtt disabled: %v", err)
		} else {
			d.mqtt = pub
			d.bus.SubscribeRunEvents(func(e events.Event) {
				d.mqtt.PublishRunEvent(e)
			})
			d.log(LogLevelInfo, "mqtt publisher connected to %s", d.cfg.Feed.MQTT.Broker)
		}
	}

	if d.cfg.Feed.Hub.Enabled {
		d.hub = NewHubClient(d.cfg.Feed.Hub.URL)
		d.hub.logf = func(format string, args ...any) {
			d.log(LogLevelWarn, format, args...)
		}
		d.group.Go(func() error { return d.hub.Run(d.ctx) })
	}

	d.registerHandlers()
	d.server.SetLogf(func(format string, args ...any) {
		d.log(LogLevelWarn, format, args...)
	})
	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start control socket: %w", err)
	}
	d.log(LogLevelInfo, "control socket listening on %s", filepath.Join(d.workspaceDir, uds.DefaultSocketName))

	if d.cfg.Metrics.Enabled {
		d.startMetricsServer()
	}

	d.group.Go(d.connectLoop)
	d.group.Go(d.telemetryLoop)

	d.log(LogLevelInfo, "feed daemon ready")
	d.waitSignals()
	return nil
}

func (d *Daemon) registerHandlers() {
	d.server.Handle("ping", func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]string{"status": "ok"})
	})

	d.server.Handle("status", func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(d.statusPayload())
	})

	d.server.Handle("runs", func(req *uds.Request) *uds.Response {
		var params struct {
			RunID  string `json:"run_id"`
			Verify bool   `json:"verify"`
		}
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				return uds.ErrorResponse(uds.ErrCodeInternal, fmt.Sprintf("decode params: %v", err))
			}
		}
		if params.RunID != "" && !model.ValidateID(params.RunID) {
			return uds.ErrorResponse(uds.ErrCodeInternal, fmt.Sprintf("malformed run id %q", params.RunID))
		}

		logPath := filepath.Join(d.workspaceDir, "logs", "flights"+events.LogFileExtension)
		limit := recentRunsLimit
		if params.RunID != "" {
			// Filtering scans the whole file; the limit applies afterwards.
			limit = 0
		}
		entries, err := events.ReadRecent(logPath, limit)
		if err != nil {
			return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
		}
		rows := make([]runRow, 0, len(entries))
		for _, e := range entries {
			if params.RunID != "" && e.RunID != params.RunID {
				continue
			}
			rows = append(rows, runRow{
				Timestamp: e.Timestamp,
				EventType: e.EventType,
				RunID:     e.RunID,
				ProgramID: e.ProgramID,
				Message:   e.Message,
			})
		}

		payload := map[string]interface{}{"runs": rows}
		if params.Verify {
			total, valid, err := events.VerifyLogIntegrity(logPath)
			if err != nil {
				return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
			}
			payload["entries_total"] = total
			payload["entries_valid"] = valid
		}
		return uds.SuccessResponse(payload)
	})

	d.server.Handle("shutdown", func(req *uds.Request) *uds.Response {
		d.log(LogLevelInfo, "shutdown requested via control socket")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})
}

// statusPayload mirrors the wire shape the status subcommand decodes.
type statusPayload struct {
	DeviceID      string        `json:"device_id"`
	Connected     bool          `json:"connected"`
	UptimeSec     float64       `json:"uptime_sec"`
	AuditLogBytes int64         `json:"audit_log_bytes"`
	Telemetry     *telemetryRow `json:"telemetry,omitempty"`
}

type telemetryRow struct {
	Battery     int       `json:"battery"`
	Height      int       `json:"height"`
	TOFDistance int       `json:"tof_distance"`
	TempLow     int       `json:"temp_low"`
	TempHigh    int       `json:"temp_high"`
	FlightTime  int       `json:"flight_time"`
	ReceivedAt  time.Time `json:"received_at"`
}

type runRow struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	RunID     string    `json:"run_id,omitempty"`
	ProgramID string    `json:"program_id,omitempty"`
	Message   string    `json:"message,omitempty"`
}

func (d *Daemon) statusPayload() statusPayload {
	payload := statusPayload{
		DeviceID:  d.cfg.Feed.DeviceID,
		Connected: d.connected.Load(),
		UptimeSec: time.Since(d.startedAt).Seconds(),
	}
	if d.audit != nil {
		payload.AuditLogBytes = d.audit.GetCurrentSize()
	}
	if snap, err := d.drone.State(); err == nil {
		payload.Telemetry = &telemetryRow{
			Battery:     snap.Battery,
			Height:      snap.Height,
			TOFDistance: snap.TOFDistance,
			TempLow:     snap.TempLow,
			TempHigh:    snap.TempHigh,
			FlightTime:  snap.FlightTime,
			ReceivedAt:  snap.ReceivedAt,
		}
	}
	return payload
}

// connectLoop dials the drone until it answers or the daemon shuts down.
func (d *Daemon) connectLoop() error {
	for {
		err := d.drone.Connect(d.ctx)
		if err == nil {
			d.connected.Store(true)
			d.log(LogLevelInfo, "drone connected")
			return nil
		}
		if d.ctx.Err() != nil {
			return nil
		}
		d.log(LogLevelWarn, "drone connect failed: %v (retrying in %s)", err, connectRetryInterval)
		if sleepCtx(d.ctx, connectRetryInterval) != nil {
			return nil
		}
	}
}

// telemetryLoop publishes snapshots on the configured interval. The store's
// dirty flag hands out each snapshot at most once, so a round with no fresh
// state packet is skipped and sinks only ever see new data.
func (d *Daemon) telemetryLoop() error {
	interval := time.Duration(d.cfg.Feed.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return nil
		case <-ticker.C:
			snap, ok := d.drone.Store().ConsumeDirty()
			if !ok {
				continue
			}

			d.collector.ObserveTelemetry(snap)
			d.bus.Publish(events.EventTelemetryUpdate, map[string]interface{}{
				"battery":     snap.Battery,
				"height":      snap.Height,
				"flight_time": snap.FlightTime,
			})
			if d.mqtt != nil {
				d.mqtt.PublishTelemetry(snap)
			}
			if d.hub != nil {
				d.hub.Send(newTelemetryMessage(d.cfg.Feed.DeviceID, snap))
			}
		}
	}
}

func (d *Daemon) startWatcher() error {
	programsDir := d.programsDir()
	if err := os.MkdirAll(programsDir, 0755); err != nil {
		return fmt.Errorf("ensure programs dir: %w", err)
	}

	debounce := time.Duration(d.cfg.Programs.DebounceSec * float64(time.Second))
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	watcher, err := flight.NewWatcher(d.workspaceDir, programsDir, debounce, d.swapLibrary)
	if err != nil {
		return err
	}
	watcher.SetLogf(func(format string, args ...any) {
		d.log(LogLevelWarn, format, args...)
	})
	d.watcher = watcher

	d.group.Go(func() error { return d.watcher.Run(d.ctx) })
	return nil
}

func (d *Daemon) reloadLibrary() {
	lib, err := flight.LoadLibrary(d.workspaceDir, d.programsDir())
	if err != nil {
		d.log(LogLevelError, "program library reload failed: %v", err)
		return
	}
	d.swapLibrary(lib)
}

// swapLibrary installs a freshly loaded library and announces it on the bus.
// The event carries the library itself so subscribers can pick it up without
// touching the filesystem again.
func (d *Daemon) swapLibrary(lib *flight.Library) {
	d.libMu.Lock()
	d.lib = lib
	d.libMu.Unlock()

	d.bus.Publish(events.EventProgramsReloaded, map[string]interface{}{
		"library":  lib,
		"programs": lib.Len(),
	})
	d.log(LogLevelInfo, "program library loaded: %d programs", lib.Len())
}

func (d *Daemon) programsDir() string {
	dir := d.cfg.Programs.Dir
	if dir == "" {
		dir = "programs"
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(d.workspaceDir, dir)
	}
	return dir
}

func (d *Daemon) startMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.collector.Handler())
	d.metricsSrv = &http.Server{Addr: d.cfg.Metrics.ListenAddr, Handler: mux}

	srv := d.metricsSrv
	d.group.Go(func() error {
		d.log(LogLevelInfo, "metrics listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
}

// waitSignals blocks until a shutdown signal arrives or the daemon is shut
// down through the control socket.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.log(LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)
		// Second signal forces exit.
		go func() {
			<-sigCh
			d.log(LogLevelWarn, "received second signal, forcing exit")
			os.Exit(1)
		}()
		d.Shutdown()
	case <-d.ctx.Done():
		d.Shutdown()
	}
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log(LogLevelInfo, "shutdown started")

		d.cancel()

		if d.watcher != nil {
			_ = d.watcher.Close()
		}
		if d.server != nil {
			_ = d.server.Stop()
		}
		if d.metricsSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = d.metricsSrv.Shutdown(ctx)
			cancel()
		}

		timeout := d.cfg.Daemon.ShutdownTimeoutSec
		if timeout <= 0 {
			timeout = 5
		}
		done := make(chan struct{})
		go func() {
			_ = d.group.Wait()
			close(done)
		}()
		select {
		case <-done:
			d.log(LogLevelInfo, "all goroutines drained")
		case <-time.After(time.Duration(timeout) * time.Second):
			d.log(LogLevelWarn, "shutdown timeout after %ds, some operations may be incomplete", timeout)
		}

		if d.mqtt != nil {
			d.mqtt.Close()
		}
		_ = d.drone.Close()
		if d.audit != nil {
			_ = d.audit.Close()
		}
		d.bus.Close()
		d.cleanup()
		d.log(LogLevelInfo, "feed daemon stopped")
	})
}

// cleanup releases resources acquired during startup.
func (d *Daemon) cleanup() {
	_ = os.Remove(filepath.Join(d.workspaceDir, uds.DefaultSocketName))
	d.fileLock.Unlock()
	if d.logFile != nil {
		_ = d.logFile.Close()
	}
}

func (d *Daemon) log(level LogLevel, format string, args ...any) {
	if level < d.logLevel {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	d.logger.Printf("%s %s feed: %s", time.Now().Format(time.RFC3339), levelStr, msg)
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
