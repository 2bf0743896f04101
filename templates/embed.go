// Package templates embeds the default workspace files written by init.
package templates

import "embed"

//go:embed config.yaml example_program.yaml
var FS embed.FS
