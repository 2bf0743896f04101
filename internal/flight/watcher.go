package flight

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the program library whenever files under the programs
// directory change. Bursts of filesystem events collapse into a single
// reload per debounce window.
type Watcher struct {
	workspaceDir string
	programsDir  string
	debounce     time.Duration
	onReload     func(*Library)
	fsw          *fsnotify.Watcher
	logf         func(format string, args ...any)
}

// NewWatcher watches programsDir and calls onReload with a freshly loaded
// Library after each settled burst of changes.
func NewWatcher(workspaceDir, programsDir string, debounce time.Duration, onReload func(*Library)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(programsDir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", programsDir, err)
	}
	return &Watcher{
		workspaceDir: workspaceDir,
		programsDir:  programsDir,
		debounce:     debounce,
		onReload:     onReload,
		fsw:          fsw,
		logf:         log.Printf,
	}, nil
}

// SetLogf redirects the watcher's log lines, for callers with their own
// leveled logger.
func (w *Watcher) SetLogf(logf func(format string, args ...any)) {
	w.logf = logf
}

// Run blocks until the context is cancelled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !relevantEvent(ev) {
				continue
			}
			if pending && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
			pending = true

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logf("programs watcher error: %v", err)

		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			lib, err := LoadLibrary(w.workspaceDir, w.programsDir)
			if err != nil {
				w.logf("programs reload failed: %v", err)
				continue
			}
			w.onReload(lib)
		}
	}
}

func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func relevantEvent(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	base := filepath.Base(ev.Name)
	return strings.HasSuffix(base, ".yaml") && !strings.HasPrefix(base, ".")
}
