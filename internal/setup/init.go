// Package setup handles telloctl workspace initialization.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/airdeck/telloctl/internal/model"
	atomicyaml "github.com/airdeck/telloctl/internal/yaml"
	"github.com/airdeck/telloctl/templates"
)

// WorkspaceDir is the directory name telloctl scaffolds and searches for.
const WorkspaceDir = ".telloctl"

// Run initializes the .telloctl/ directory structure in the given base
// directory. workspaceName overrides the auto-detected name (defaults to the
// directory basename if empty).
func Run(baseDir, workspaceName string) error {
	absDir, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("resolve base dir: %w", err)
	}

	base := filepath.Join(absDir, WorkspaceDir)

	if _, err := os.Stat(base); err == nil {
		return fmt.Errorf("%s already exists", base)
	}

	// Create directory structure
	dirs := []string{
		"programs",
		"logs",
		"flights",
		"quarantine",
		"locks",
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	// Generate and write config.yaml with auto-filled fields
	cfg, err := generateConfig(absDir, workspaceName)
	if err != nil {
		return fmt.Errorf("generate config: %w", err)
	}
	if err := atomicyaml.AtomicWrite(filepath.Join(base, "config.yaml"), cfg); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}

	// Seed programs/ with a commented example routine
	if err := copyTemplateFile("example_program.yaml", filepath.Join(base, "programs", "example_program.yaml")); err != nil {
		return err
	}

	// Create feed.lock (empty)
	if err := os.WriteFile(filepath.Join(base, "locks", "feed.lock"), nil, 0600); err != nil {
		return fmt.Errorf("create feed.lock: %w", err)
	}

	return nil
}

func copyTemplateFile(name, dst string) error {
	data, err := fs.ReadFile(templates.FS, name)
	if err != nil {
		return fmt.Errorf("read template %s: %w", name, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

func generateConfig(baseDir, workspaceName string) (*model.Config, error) {
	// Read template config as base
	data, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}

	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}

	// Auto-fill fields
	if workspaceName != "" {
		cfg.Workspace.Name = workspaceName
	} else {
		cfg.Workspace.Name = filepath.Base(baseDir)
	}
	cfg.Workspace.Created = time.Now().Format(time.RFC3339)

	return &cfg, nil
}
