// Package prompts provides the iteration prompt templates with override support.
package prompts

import "embed"

//go:embed iteration/*.md
var embeddedFS embed.FS
