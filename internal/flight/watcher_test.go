package flight

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	workspace := t.TempDir()
	programsDir := filepath.Join(workspace, "programs")
	os.MkdirAll(programsDir, 0755)

	reloads := make(chan *Library, 4)
	w, err := NewWatcher(workspace, programsDir, 50*time.Millisecond, func(lib *Library) {
		reloads <- lib
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	writeFile(t, filepath.Join(programsDir, "rooftop.yaml"), validProgramYAML("rooftop-scan"))

	select {
	case lib := <-reloads:
		if lib.Len() != 5 {
			t.Errorf("expected 5 programs after reload, got %d", lib.Len())
		}
		if _, err := lib.Get("rooftop-scan"); err != nil {
			t.Errorf("new program missing after reload: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no reload observed after file creation")
	}

	if err := os.Remove(filepath.Join(programsDir, "rooftop.yaml")); err != nil {
		t.Fatalf("remove: %v", err)
	}

	select {
	case lib := <-reloads:
		if lib.Len() != 4 {
			t.Errorf("expected 4 programs after removal, got %d", lib.Len())
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no reload observed after file removal")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcher_MissingDir(t *testing.T) {
	_, err := NewWatcher(t.TempDir(), filepath.Join(t.TempDir(), "nope"), time.Second, func(*Library) {})
	if err == nil {
		t.Fatal("expected error for missing programs dir")
	}
}
