package flight

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	yamlv3 "gopkg.in/yaml.v3"

	yamlutil "github.com/airdeck/telloctl/internal/yaml"
)

const programFileType = "flight_program"

// programFile is the on-disk layout of a program: schema header fields and
// program fields at the top level of one YAML document.
type programFile struct {
	yamlutil.SchemaHeader `yaml:",inline"`
	Program               `yaml:",inline"`
}

// ParseProgram decodes and validates a single program document. A semantic
// failure comes back as *ValidationErrors; anything else means the document
// itself is malformed.
func ParseProgram(content []byte) (Program, error) {
	if err := yamlutil.ValidateSchemaHeaderFromBytes(content, programFileType); err != nil {
		return Program{}, fmt.Errorf("schema header: %w", err)
	}

	var doc programFile
	if err := yamlv3.Unmarshal(content, &doc); err != nil {
		return Program{}, fmt.Errorf("parse program: %w", err)
	}

	if errs := ValidateProgram(doc.Program); errs.HasErrors() {
		return Program{}, errs
	}
	return doc.Program, nil
}

// LoadLibrary builds a Library from the curated catalog plus every .yaml
// program under programsDir. Malformed files are quarantined under
// workspaceDir; invalid or duplicate programs are skipped with a log line.
// A missing programs directory yields the curated catalog alone.
func LoadLibrary(workspaceDir, programsDir string) (*Library, error) {
	lib := NewLibrary()
	if programsDir == "" {
		return lib, nil
	}

	entries, err := os.ReadDir(programsDir)
	if errors.Is(err, os.ErrNotExist) {
		return lib, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read programs dir: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".yaml") || strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(programsDir, name)

		content, err := os.ReadFile(path)
		if err != nil {
			log.Printf("skipping unreadable program %s: %v", name, err)
			continue
		}

		prog, err := ParseProgram(content)
		if err != nil {
			// Structurally broken files are moved aside; semantically
			// invalid ones stay put for the author to fix.
			var verrs *ValidationErrors
			if errors.As(err, &verrs) {
				log.Printf("skipping invalid program %s: %v", name, err)
				continue
			}
			log.Printf("quarantining malformed program %s: %v", name, err)
			if workspaceDir != "" {
				if qerr := yamlutil.Quarantine(workspaceDir, path); qerr != nil {
					log.Printf("quarantine failed for %s: %v", name, qerr)
				}
			}
			continue
		}

		if err := lib.Add(prog); err != nil {
			log.Printf("skipping program %s: %v", name, err)
		}
	}

	return lib, nil
}
