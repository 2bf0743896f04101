// Package notify posts desktop notifications for flight outcomes. Only the
// macOS osascript backend exists; other platforms get a silent no-op error.
package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// runScript is swapped out in tests to avoid spawning osascript.
var runScript = func(script string) ([]byte, error) {
	return exec.Command("osascript", "-e", script).CombinedOutput()
}

// Send posts one notification with the default sound.
func Send(title, message string) error {
	if runtime.GOOS != "darwin" {
		return fmt.Errorf("desktop notifications not supported on %s", runtime.GOOS)
	}

	script := fmt.Sprintf(
		`display notification %q with title %q sound name "default"`,
		escape(message), escape(title),
	)
	if out, err := runScript(script); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// escape keeps user text from breaking out of the AppleScript string.
func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
