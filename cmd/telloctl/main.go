package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/airdeck/telloctl/internal/events"
	"github.com/airdeck/telloctl/internal/feed"
	"github.com/airdeck/telloctl/internal/flight"
	"github.com/airdeck/telloctl/internal/model"
	"github.com/airdeck/telloctl/internal/monitor"
	"github.com/airdeck/telloctl/internal/record"
	"github.com/airdeck/telloctl/internal/setup"
	"github.com/airdeck/telloctl/internal/shell"
	"github.com/airdeck/telloctl/internal/status"
	"github.com/airdeck/telloctl/internal/tello"
	yamlutil "github.com/airdeck/telloctl/internal/yaml"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit(os.Args[2:])
	case "monitor":
		runMonitor(os.Args[2:])
	case "record":
		runRecord(os.Args[2:])
	case "shell":
		runShell(os.Args[2:])
	case "programs":
		runPrograms(os.Args[2:])
	case "feed":
		runFeed(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "version":
		fmt.Printf("telloctl %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runInit(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: telloctl init <dir> [--name <workspace_name>]")
		os.Exit(1)
	}

	baseDir := args[0]
	rest := args[1:]

	var name string
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--name":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--name requires a value")
				os.Exit(1)
			}
			i++
			name = rest[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: telloctl init <dir> [--name <workspace_name>]\n", rest[i])
			os.Exit(1)
		}
	}

	if err := setup.Run(baseDir, name); err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Initialized %s workspace in %s\n", setup.WorkspaceDir, baseDir)
}

func runMonitor(args []string) {
	var interval float64
	var duration time.Duration
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--interval":
			interval = secondsFlag(args, &i, "--interval")
		case "--duration":
			duration = durationFlag(args, &i, "--duration")
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: telloctl monitor [--interval <sec>] [--duration <sec>]\n", args[i])
			os.Exit(1)
		}
	}

	dir, cfg := workspaceConfig()
	if interval == 0 {
		interval = cfg.Monitor.RefreshIntervalSec
	}

	ctx, stop := signalContext()
	defer stop()

	drone := connectDrone(ctx, dir, cfg)
	defer drone.Close()

	m := monitor.New(drone, interval, os.Stdout)
	if err := m.Run(ctx, duration); err != nil {
		fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
		os.Exit(1)
	}
}

func runRecord(args []string) {
	var output string
	var opts record.Options
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--output":
			output = valueFlag(args, &i, "--output")
		case "--duration":
			opts.Duration = durationFlag(args, &i, "--duration")
		case "--rate":
			opts.SampleRateSec = secondsFlag(args, &i, "--rate")
		case "--max-samples":
			opts.MaxSamples = intFlag(args, &i, "--max-samples")
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: telloctl record [--output <file>] [--duration <sec>] [--rate <sec>] [--max-samples <n>]\n", args[i])
			os.Exit(1)
		}
	}

	dir, cfg := workspaceConfig()
	if opts.SampleRateSec == 0 {
		opts.SampleRateSec = cfg.Record.SampleRateSec
	}
	if opts.MaxSamples == 0 {
		opts.MaxSamples = cfg.Record.MaxSamples
	}
	if output == "" {
		output = record.DefaultFileName(time.Now())
		if dir != "" {
			outDir := cfg.Record.OutputDir
			if !filepath.IsAbs(outDir) {
				outDir = filepath.Join(dir, outDir)
			}
			if err := os.MkdirAll(outDir, 0755); err != nil {
				fmt.Fprintf(os.Stderr, "record: create output dir: %v\n", err)
				os.Exit(1)
			}
			output = filepath.Join(outDir, output)
		}
	}

	ctx, stop := signalContext()
	defer stop()

	drone := connectDrone(ctx, dir, cfg)
	defer drone.Close()

	r := record.New(drone, opts, os.Stdout)
	n, err := r.RecordTo(ctx, output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "record: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Recorded %d samples to %s\n", n, output)
}

func runShell(args []string) {
	if len(args) > 0 {
		fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: telloctl shell\n", args[0])
		os.Exit(1)
	}

	dir, cfg := workspaceConfig()

	lib := loadLibrary(dir, cfg)
	runner, err := flight.NewRunner(cfg.Runner.DefaultPauseSec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shell: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signalContext()
	defer stop()

	sc := shell.Config{
		Library:       lib,
		Runner:        runner,
		DesktopNotify: cfg.Notify.Desktop,
		In:            os.Stdin,
		Out:           os.Stdout,
	}

	// Inside a workspace, shell runs land in the same flight log the feed
	// daemon writes, and program file edits reach the running session.
	if dir != "" {
		audit, err := events.NewAuditLogger(filepath.Join(dir, "logs", "flights"+events.LogFileExtension), 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open flight log: %v\n", err)
			os.Exit(1)
		}
		defer audit.Close()

		bus := events.NewBus(100)
		defer bus.Close()
		bus.SubscribeRunEvents(func(e events.Event) { _ = audit.LogEvent(e) })
		sc.Bus = bus

		if cfg.Programs.Watch {
			debounce := time.Duration(cfg.Programs.DebounceSec * float64(time.Second))
			watcher, werr := flight.NewWatcher(dir, programsDir(dir, cfg), debounce, func(lib *flight.Library) {
				bus.Publish(events.EventProgramsReloaded, map[string]interface{}{
					"library":  lib,
					"programs": lib.Len(),
				})
			})
			if werr != nil {
				fmt.Fprintf(os.Stderr, "warning: program watcher disabled: %v\n", werr)
			} else {
				defer watcher.Close()
				go func() { _ = watcher.Run(ctx) }()
			}
		}
	}

	drone := newDrone(dir, cfg)
	fmt.Printf("Connecting to Tello at %s...\n", cfg.Vehicle.Address)
	if err := drone.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		fmt.Println("Starting offline. Read and control commands need a connected Tello.")
		drone.Close()
	} else {
		fmt.Println("Connected.")
		sc.Drone = drone
		defer drone.Close()
	}

	if err := shell.New(sc).Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "shell: %v\n", err)
		os.Exit(1)
	}
}

func runPrograms(args []string) {
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
		args = args[1:]
	}

	dir, cfg := workspaceConfig()
	lib := loadLibrary(dir, cfg)

	switch sub {
	case "list":
		printCatalog(lib)
	case "info":
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "usage: telloctl programs info <id>")
			os.Exit(1)
		}
		printProgram(lib, args[0])
	case "run":
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "usage: telloctl programs run <id>")
			os.Exit(1)
		}
		runProgram(dir, cfg, lib, args[0])
	case "export":
		runProgramsExport(lib, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand: programs %s\nusage: telloctl programs <list|info|run|export>\n", sub)
		os.Exit(1)
	}
}

func runProgramsExport(lib *flight.Library, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: telloctl programs export <id> [-o <file.yaml>]")
		os.Exit(1)
	}

	id := args[0]
	rest := args[1:]

	var output string
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "-o", "--output":
			output = valueFlag(rest, &i, rest[i])
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: telloctl programs export <id> [-o <file.yaml>]\n", rest[i])
			os.Exit(1)
		}
	}
	if output == "" {
		output = id + ".yaml"
	}

	if err := flight.ExportProgram(lib, id, output); err != nil {
		fmt.Fprintf(os.Stderr, "export: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Exported '%s' to %s\n", id, output)
}

func runProgram(dir string, cfg model.Config, lib *flight.Library, id string) {
	program, err := lib.Get(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "programs run: %v\n", err)
		os.Exit(1)
	}

	runner, err := flight.NewRunner(cfg.Runner.DefaultPauseSec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "programs run: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signalContext()
	defer stop()

	drone := connectDrone(ctx, dir, cfg)
	defer drone.Close()

	fmt.Printf("\nUploading '%s' routine...\n", program.Title)
	err = runner.Execute(ctx, drone, program, func(message string) {
		fmt.Printf("  %s\n", message)
	})
	if drone.Flying() {
		fmt.Println("Landing...")
		_ = drone.Land()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ Routine aborted: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Routine completed successfully.")
}

func runFeed(_ []string) {
	dir := requireWorkspace()
	cfg := mustLoadConfig(dir)

	d, err := feed.New(dir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create feed daemon: %v\n", err)
		os.Exit(1)
	}

	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "feed: %v\n", err)
		os.Exit(1)
	}
}

func runStatus(args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: telloctl status [--json]\n", a)
			os.Exit(1)
		}
	}

	dir := requireWorkspace()

	if err := status.Run(dir, jsonOutput); err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
}

// findWorkspaceDir walks upward from the working directory looking for a
// .telloctl/ workspace.
func findWorkspaceDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, setup.WorkspaceDir)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func requireWorkspace() string {
	dir := findWorkspaceDir()
	if dir == "" {
		fmt.Fprintln(os.Stderr, "error: .telloctl/ directory not found. Run 'telloctl init <dir>' first.")
		os.Exit(1)
	}
	return dir
}

func loadConfig(workspaceDir string) (model.Config, error) {
	path := filepath.Join(workspaceDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Config{}, fmt.Errorf("read config.yaml: %w", err)
	}
	var cfg model.Config
	if err := parseConfig(data, &cfg); err != nil {
		// A corrupt config may still have the .bak the atomic writer left.
		if rerr := yamlutil.RestoreFromBackup(path); rerr == nil {
			if data, rerr = os.ReadFile(path); rerr == nil && parseConfig(data, &cfg) == nil {
				return model.ApplyDefaults(cfg), nil
			}
		}
		return model.Config{}, fmt.Errorf("parse config.yaml: %w", err)
	}
	return model.ApplyDefaults(cfg), nil
}

// parseConfig checks the schema header before decoding the body.
func parseConfig(data []byte, cfg *model.Config) error {
	if err := yamlutil.ValidateSchemaHeaderFromBytes(data, "config"); err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func mustLoadConfig(workspaceDir string) model.Config {
	cfg, err := loadConfig(workspaceDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// workspaceConfig loads the nearest workspace's config. Monitor, record,
// shell and the program library also work without a workspace, on defaults.
func workspaceConfig() (string, model.Config) {
	dir := findWorkspaceDir()
	if dir == "" {
		return "", model.ApplyDefaults(model.Config{})
	}
	return dir, mustLoadConfig(dir)
}

func programsDir(workspaceDir string, cfg model.Config) string {
	dir := cfg.Programs.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(workspaceDir, dir)
	}
	return dir
}

func loadLibrary(workspaceDir string, cfg model.Config) *flight.Library {
	dir := ""
	if workspaceDir != "" {
		dir = programsDir(workspaceDir, cfg)
	}
	lib, err := flight.LoadLibrary(workspaceDir, dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load programs: %v\n", err)
		os.Exit(1)
	}
	return lib
}

func newDrone(workspaceDir string, cfg model.Config) *tello.Driver {
	if workspaceDir == "" {
		return tello.NewDriver(cfg.Vehicle, cfg.Logging.Level)
	}
	drone, err := tello.NewDriverWithLogFile(workspaceDir, cfg.Vehicle, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open driver log: %v\n", err)
		os.Exit(1)
	}
	return drone
}

func connectDrone(ctx context.Context, workspaceDir string, cfg model.Config) *tello.Driver {
	drone := newDrone(workspaceDir, cfg)
	fmt.Printf("Connecting to Tello at %s...\n", cfg.Vehicle.Address)
	if err := drone.Connect(ctx); err != nil {
		drone.Close()
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Connected.")
	return drone
}

func printCatalog(lib *flight.Library) {
	fmt.Println("\nAvailable Flight Programs")
	fmt.Println(strings.Repeat("-", 80))
	header := fmt.Sprintf("%-15s | %-20s | %-9s | %-9s | %-6s",
		"Slug", "Title", "Space(m)", "Battery%", "ETA(s)")
	fmt.Println(header)
	fmt.Println(strings.Repeat("-", len(header)))

	for _, summary := range lib.Summaries() {
		title := summary.Title
		if len(title) > 20 {
			title = title[:20]
		}
		fmt.Printf("%-15s | %-20s | %9.1f | %9d | %6.0f\n",
			summary.Identifier, title, summary.RecommendedSpaceM,
			summary.MinBatteryPercent, summary.EstimatedDurationSec)
	}

	fmt.Println("\nUse 'telloctl programs info <id>' for step-by-step details.")
}

func printProgram(lib *flight.Library, id string) {
	program, err := lib.Get(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "programs info: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n%s (%s)\n", program.Title, program.Identifier)
	fmt.Println(strings.Repeat("-", 80))
	fmt.Println(program.Objective)
	fmt.Printf("- Recommended space: %.1f m clear bubble\n", program.RecommendedSpaceM)
	fmt.Printf("- Minimum battery: %d%%\n", program.MinBatteryPercent)
	fmt.Printf("- Estimated duration: %.0fs\n", program.EstimatedDurationSec)

	fmt.Println("\nSteps:")
	for i, step := range program.Steps {
		detail := step.Description
		if detail == "" {
			detail = string(step.Command)
		}
		if step.Command == flight.CommandPause {
			fmt.Printf("  %02d. Hover %.1fs - %s\n", i+1, step.WaitSeconds, detail)
			continue
		}
		waitSuffix := ""
		if step.WaitSeconds > 0 {
			waitSuffix = fmt.Sprintf(" + hold %.1fs", step.WaitSeconds)
		}
		fmt.Printf("  %02d. %s %v - %s%s\n", i+1, step.Command, step.Args, detail, waitSuffix)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func valueFlag(args []string, i *int, name string) string {
	if *i+1 >= len(args) {
		fmt.Fprintf(os.Stderr, "%s requires a value\n", name)
		os.Exit(1)
	}
	*i++
	return args[*i]
}

func secondsFlag(args []string, i *int, name string) float64 {
	raw := valueFlag(args, i, name)
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f <= 0 {
		fmt.Fprintf(os.Stderr, "invalid %s value: %s\n", name, raw)
		os.Exit(1)
	}
	return f
}

func durationFlag(args []string, i *int, name string) time.Duration {
	return time.Duration(secondsFlag(args, i, name) * float64(time.Second))
}

func intFlag(args []string, i *int, name string) int {
	raw := valueFlag(args, i, name)
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		fmt.Fprintf(os.Stderr, "invalid %s value: %s\n", name, raw)
		os.Exit(1)
	}
	return n
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `telloctl %s - Tello quadcopter operator toolkit

Usage: telloctl <command> [options]

Workspace:
  init <dir>          Initialize .telloctl/ workspace
  status [--json]     Show feed daemon status
  feed                Run the headless feed daemon

Flight:
  shell               Interactive operator console
  programs            List curated flight programs
  programs info <id>  Show routine steps
  programs run <id>   Upload + fly selected routine
  programs export <id> [-o file]  Write a program as YAML

Telemetry:
  monitor [--interval <sec>] [--duration <sec>]   Live dashboard
  record [--output <file>] [--duration <sec>] [--rate <sec>] [--max-samples <n>]
                      Log telemetry to CSV

Utilities:
  version             Show version
  help                Show this help

`, version)
}
