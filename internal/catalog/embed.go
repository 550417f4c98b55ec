// Package catalog resolves rubric prompts by category and name.
package catalog

import "embed"

//go:embed prompts
var embeddedFS embed.FS
