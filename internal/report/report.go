// Package report renders a batch as a Markdown document.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hochfrequenz/porkchop/internal/domain"
)

// Markdown writes the report for b to w
func Markdown(w io.Writer, b *domain.Batch) error {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Validation report: %s\n\n", escape(b.Name))
	fmt.Fprintf(&sb, "- **Batch:** `%s`\n", b.ID)
	fmt.Fprintf(&sb, "- **Status:** %s\n", b.Status)
	fmt.Fprintf(&sb, "- **Created:** %s\n", b.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "- **Prompts:** %d/%d finished, %d failed\n\n", b.CompletedTasks, b.TotalTasks(), b.FailedTasks())

	if len(b.Files) > 0 {
		sb.WriteString("## Files\n\n")
		for _, f := range b.Files {
			fmt.Fprintf(&sb, "- `%s` (%s, %d bytes)\n", f.Name, f.FileType, f.Size)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Prompt | Status | High | Medium | Low |\n")
	sb.WriteString("|---|---|---:|---:|---:|\n")
	totals := map[domain.Severity]int{}
	for _, t := range b.Tasks {
		counts := make([]string, len(domain.Severities))
		for i, sev := range domain.Severities {
			n := t.IssueCount(sev)
			totals[sev] += n
			counts[i] = fmt.Sprint(n)
		}
		fmt.Fprintf(&sb, "| `%s` | %s | %s |\n", t.Prompt.Key(), t.Status, strings.Join(counts, " | "))
	}
	fmt.Fprintf(&sb, "| **Total** | | %d | %d | %d |\n\n",
		totals[domain.SeverityHigh], totals[domain.SeverityMedium], totals[domain.SeverityLow])

	for _, t := range b.Tasks {
		writeTask(&sb, t)
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func writeTask(sb *strings.Builder, t domain.PromptTask) {
	fmt.Fprintf(sb, "## %s\n\n", t.Prompt.Key())
	if t.Prompt.Description != "" {
		fmt.Fprintf(sb, "_%s_\n\n", escape(t.Prompt.Description))
	}

	switch t.Status {
	case domain.StatusFailed:
		fmt.Fprintf(sb, "**Failed** (%s): %s\n\n", t.ErrorKind, escape(t.ErrorMessage))
		return
	case domain.StatusProcessing:
		sb.WriteString("Still running.\n\n")
		return
	}

	if len(t.Result) == 0 {
		sb.WriteString("No issues found.\n\n")
	} else {
		sb.WriteString("| Severity | Type | Lines | Description |\n")
		sb.WriteString("|---|---|---|---|\n")
		for _, is := range t.Result {
			fmt.Fprintf(sb, "| %s | %s | %s | %s |\n", is.Severity, cell(is.Type), lines(is.Lines), cell(is.Description))
		}
		sb.WriteString("\n")
	}

	if t.Metrics != nil && t.Metrics.TotalDurationNs > 0 {
		fmt.Fprintf(sb, "Took %s.\n\n", time.Duration(t.Metrics.TotalDurationNs).Round(time.Millisecond))
	}
}

func lines(ls []int) string {
	if len(ls) == 0 {
		return "-"
	}
	parts := make([]string, len(ls))
	for i, l := range ls {
		parts[i] = fmt.Sprint(l)
	}
	return strings.Join(parts, ", ")
}

// cell makes free text safe inside a table cell
func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(escape(s), "|", `\|`)
}

func escape(s string) string {
	return strings.NewReplacer("*", `\*`, "_", `\_`, "`", "\\`").Replace(s)
}
