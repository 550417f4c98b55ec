package dispatch

import (
	"strings"

	"github.com/hochfrequenz/porkchop/internal/domain"
)

// ComposePrompt appends every file, in order, to the rubric text
func ComposePrompt(rubric string, files []domain.File) string {
	var sb strings.Builder
	sb.WriteString(rubric)
	sb.WriteString("\n\n")
	for _, f := range files {
		sb.WriteString("\n\n---\nFile Name: ")
		sb.WriteString(f.Name)
		sb.WriteString("\nFile Content:\n")
		sb.WriteString(f.Content)
	}
	return sb.String()
}
