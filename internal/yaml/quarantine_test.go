package yaml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	yamlv3 "gopkg.in/yaml.v3"
)

func TestQuarantine(t *testing.T) {
	workspaceDir := t.TempDir()
	filePath := filepath.Join(workspaceDir, "broken-program.yaml")

	os.WriteFile(filePath, []byte("steps: [\n"), 0644)

	if err := Quarantine(workspaceDir, filePath); err != nil {
		t.Fatalf("Quarantine failed: %v", err)
	}

	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		t.Error("original file should be removed after quarantine")
	}

	entries, err := os.ReadDir(filepath.Join(workspaceDir, "quarantine"))
	if err != nil {
		t.Fatalf("read quarantine dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 quarantined file, got %d", len(entries))
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "broken-program.yaml.") || !strings.HasSuffix(name, ".corrupt") {
		t.Errorf("unexpected quarantine filename: %s", name)
	}
}

func TestRestoreFromBackup(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "config.yaml")

	valid := []byte("schema_version: 1\nfile_type: config\n")
	os.WriteFile(filePath+".bak", valid, 0644)

	if err := RestoreFromBackup(filePath); err != nil {
		t.Fatalf("RestoreFromBackup failed: %v", err)
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	var header SchemaHeader
	if err := yamlv3.Unmarshal(content, &header); err != nil {
		t.Fatalf("restored content not YAML: %v", err)
	}
	if header.FileType != "config" {
		t.Errorf("file_type: got %q", header.FileType)
	}
}

func TestRestoreFromBackup_NoBackup(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "config.yaml")
	if err := RestoreFromBackup(filePath); err == nil {
		t.Error("expected error when no backup exists")
	}
}

func TestRestoreFromBackup_CorruptBackup(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(filePath+".bak", []byte(":\n  broken: [\n"), 0644)

	if err := RestoreFromBackup(filePath); err == nil {
		t.Error("expected error when backup is also corrupted")
	}
}
