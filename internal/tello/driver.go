// Package tello speaks the Tello text SDK over UDP: one dialed socket for
// commands and responses, one listening socket for the state feed.
package tello

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/airdeck/telloctl/internal/model"
	"github.com/airdeck/telloctl/internal/telemetry"
)

const (
	DefaultAddress     = "192.168.10.1"
	DefaultCommandPort = 8889
	DefaultStatePort   = 8890

	defaultResponseTimeoutSec = 7.0
	defaultConnectTimeoutSec  = 5.0

	// MinMoveDistanceCm and MaxMoveDistanceCm bound every linear move the
	// firmware accepts.
	MinMoveDistanceCm = 20
	MaxMoveDistanceCm = 500

	MinRotateDegrees = 1
	MaxRotateDegrees = 360

	statePollInterval = 100 * time.Millisecond
	stateStaleAfter   = 3 * time.Second
)

// ErrNotConnected is returned for any command issued before Connect.
var ErrNotConnected = errors.New("not connected to the vehicle")

// LogLevel controls logging verbosity.
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

// Driver is a connection to one Tello. Commands are serialized: the SDK
// answers strictly in order, so one request is in flight at a time.
type Driver struct {
	cfg            model.VehicleConfig
	respTimeout    time.Duration
	connectTimeout time.Duration

	cmdMu     sync.Mutex
	cmdConn   *net.UDPConn
	stateConn *net.UDPConn

	store *telemetry.Store

	flyMu  sync.RWMutex
	flying bool

	connMu    sync.Mutex
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	logger   *log.Logger
	logFile  io.Closer
	logLevel LogLevel
}

// NewDriver creates a Driver that logs to stderr.
func NewDriver(cfg model.VehicleConfig, logLevel string) *Driver {
	return newDriver(cfg, logLevel, os.Stderr, nil)
}

// NewDriverWithLogFile creates a Driver that logs to
// <workspaceDir>/logs/driver.log.
func NewDriverWithLogFile(workspaceDir string, cfg model.VehicleConfig, logLevel string) (*Driver, error) {
	logPath := filepath.Join(workspaceDir, "logs", "driver.log")
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", logPath, err)
	}
	return newDriver(cfg, logLevel, logFile, logFile), nil
}

// newDriver is the internal constructor that accepts an io.Writer for testing.
func newDriver(cfg model.VehicleConfig, logLevel string, w io.Writer, closer io.Closer) *Driver {
	cfg = applyDefaults(cfg)
	return &Driver{
		cfg:            cfg,
		respTimeout:    time.Duration(cfg.ResponseTimeoutSec * float64(time.Second)),
		connectTimeout: time.Duration(cfg.ConnectTimeoutSec * float64(time.Second)),
		store:          telemetry.NewStore(),
		logger:         log.New(w, "", 0),
		logFile:        closer,
		logLevel:       parseLogLevel(logLevel),
	}
}

func applyDefaults(cfg model.VehicleConfig) model.VehicleConfig {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.CommandPort <= 0 {
		cfg.CommandPort = DefaultCommandPort
	}
	if cfg.StatePort <= 0 {
		cfg.StatePort = DefaultStatePort
	}
	if cfg.ResponseTimeoutSec <= 0 {
		cfg.ResponseTimeoutSec = defaultResponseTimeoutSec
	}
	if cfg.ConnectTimeoutSec <= 0 {
		cfg.ConnectTimeoutSec = defaultConnectTimeoutSec
	}
	return cfg
}

// Connect dials the command socket, starts the state listener, switches the
// drone into SDK mode, and waits for the first state packet. Every error path
// tears the sockets down again, so a failed Connect may be retried on the
// same driver.
func (d *Driver) Connect(ctx context.Context) error {
	droneAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(d.cfg.Address, strconv.Itoa(d.cfg.CommandPort)))
	if err != nil {
		return fmt.Errorf("resolve drone address: %w", err)
	}
	cmdConn, err := net.DialUDP("udp", nil, droneAddr)
	if err != nil {
		return fmt.Errorf("dial command socket: %w", err)
	}

	stateAddr, err := net.ResolveUDPAddr("udp", ":"+strconv.Itoa(d.cfg.StatePort))
	if err != nil {
		_ = cmdConn.Close()
		return fmt.Errorf("resolve state address: %w", err)
	}
	stateConn, err := net.ListenUDP("udp", stateAddr)
	if err != nil {
		_ = cmdConn.Close()
		return fmt.Errorf("listen state socket: %w", err)
	}

	stop := make(chan struct{})
	started := time.Now()

	d.connMu.Lock()
	d.cmdMu.Lock()
	d.cmdConn = cmdConn
	d.cmdMu.Unlock()
	d.stateConn = stateConn
	d.stop = stop
	d.connMu.Unlock()

	d.wg.Add(1)
	go d.stateListener(stateConn, stop)

	d.log(LogLevelInfo, "connecting to %s", droneAddr)
	if err := d.control("command"); err != nil {
		d.disconnect()
		return fmt.Errorf("enter SDK mode: %w", err)
	}

	if err := d.waitForState(ctx, started); err != nil {
		d.disconnect()
		return err
	}
	d.log(LogLevelInfo, "connection established")
	return nil
}

// waitForState polls until a state packet from this connection attempt
// arrives or the connect timeout elapses. Snapshots left over from an
// earlier session do not count.
func (d *Driver) waitForState(ctx context.Context, since time.Time) error {
	deadline := time.Now().Add(d.connectTimeout)
	for {
		if snap, ok := d.store.Latest(); ok && !snap.ReceivedAt.Before(since) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("no state received within %s", d.connectTimeout)
		}
		t := time.NewTimer(statePollInterval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

func (d *Driver) stateListener(conn *net.UDPConn, stop chan struct{}) {
	defer d.wg.Done()
	buf := make([]byte, 2048)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-stop:
			default:
				d.log(LogLevelWarn, "state listener stopped: %v", err)
			}
			return
		}
		snap, err := telemetry.ParseState(string(buf[:n]))
		if err != nil {
			d.log(LogLevelDebug, "state packet dropped: %v", err)
			continue
		}
		snap.ReceivedAt = time.Now()
		d.store.Update(snap)
	}
}

// disconnect closes the sockets and waits for the state listener to exit,
// leaving the driver ready for another Connect.
func (d *Driver) disconnect() {
	d.connMu.Lock()
	d.cmdMu.Lock()
	if d.cmdConn != nil {
		_ = d.cmdConn.Close()
		d.cmdConn = nil
	}
	d.cmdMu.Unlock()
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
	if d.stateConn != nil {
		_ = d.stateConn.Close()
		d.stateConn = nil
	}
	d.connMu.Unlock()
	d.wg.Wait()
}

// Close shuts the sockets down and waits for the state listener to exit.
func (d *Driver) Close() error {
	d.disconnect()
	var err error
	d.closeOnce.Do(func() {
		if d.logFile != nil {
			err = d.logFile.Close()
		}
	})
	return err
}

// sendCommand writes one command and reads its response. The command mutex
// is held for the whole exchange.
func (d *Driver) sendCommand(cmd string) (string, error) {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	if d.cmdConn == nil {
		return "", ErrNotConnected
	}

	d.log(LogLevelDebug, "send: %s", cmd)
	if _, err := d.cmdConn.Write([]byte(cmd)); err != nil {
		return "", fmt.Errorf("send '%s': %w", cmd, err)
	}
	if err := d.cmdConn.SetReadDeadline(time.Now().Add(d.respTimeout)); err != nil {
		return "", fmt.Errorf("set read deadline: %w", err)
	}

	buf := make([]byte, 1024)
	n, err := d.cmdConn.Read(buf)
	if err != nil {
		return "", fmt.Errorf("response to '%s': %w", cmd, err)
	}
	resp := strings.TrimSpace(string(buf[:n]))
	d.log(LogLevelDebug, "recv: %s", resp)
	return resp, nil
}

// control runs a command that must answer "ok".
func (d *Driver) control(cmd string) error {
	resp, err := d.sendCommand(cmd)
	if err != nil {
		return err
	}
	if !strings.EqualFold(resp, "ok") {
		return fmt.Errorf("command '%s' rejected: %s", cmd, resp)
	}
	return nil
}

// query runs a read command and returns the raw response.
func (d *Driver) query(cmd string) (string, error) {
	return d.sendCommand(cmd)
}

// State returns the latest telemetry snapshot. It fails when no packet has
// arrived yet or the feed has gone quiet.
func (d *Driver) State() (telemetry.Snapshot, error) {
	snap, ok := d.store.Latest()
	if !ok {
		return telemetry.Snapshot{}, errors.New("no state received yet")
	}
	if time.Since(snap.ReceivedAt) > stateStaleAfter {
		return snap, fmt.Errorf("state feed stale, last packet %s ago", time.Since(snap.ReceivedAt).Round(time.Millisecond))
	}
	return snap, nil
}

// Store exposes the telemetry store for consumers that stream snapshots.
func (d *Driver) Store() *telemetry.Store {
	return d.store
}

// Flying reports whether the drone took off through this driver and has not
// landed yet.
func (d *Driver) Flying() bool {
	d.flyMu.RLock()
	defer d.flyMu.RUnlock()
	return d.flying
}

func (d *Driver) setFlying(flying bool) {
	d.flyMu.Lock()
	d.flying = flying
	d.flyMu.Unlock()
}

func (d *Driver) log(level LogLevel, format string, args ...any) {
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
	d.logger.Printf("%s %s driver: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
