package flight

import (
	yamlv3 "gopkg.in/yaml.v3"

	yamlutil "github.com/airdeck/telloctl/internal/yaml"
)

// MarshalProgram renders a program in the on-disk file format, schema header
// included.
func MarshalProgram(p Program) ([]byte, error) {
	doc := programFile{
		SchemaHeader: yamlutil.SchemaHeader{
			SchemaVersion: yamlutil.CurrentSchemaVersion,
			FileType:      programFileType,
		},
		Program: p,
	}
	return yamlv3.Marshal(doc)
}

// ExportProgram writes the identified program to path atomically. The
// exported file round-trips through ParseProgram, so it doubles as a
// starting point for custom routines.
func ExportProgram(lib *Library, identifier, path string) error {
	p, err := lib.Get(identifier)
	if err != nil {
		return err
	}
	content, err := MarshalProgram(p)
	if err != nil {
		return err
	}
	return yamlutil.AtomicWriteRaw(path, content)
}
