package domain

import (
	"fmt"
	"strings"
	"time"
)

// PromptCategory groups rubric prompts. The set is closed.
type PromptCategory string

const (
	CategoryPipelineValidity         PromptCategory = "pipeline_validity"
	CategoryPipelineUsability        PromptCategory = "pipeline_usability"
	CategoryPipelinePortability      PromptCategory = "pipeline_portability"
	CategoryArtifactsReproducibility PromptCategory = "artifacts_reproducibility"
	CategoryArtifactsAnonymity       PromptCategory = "artifacts_anonymity"
	CategoryArtifactsValidity        PromptCategory = "artifacts_validity"
)

// Categories lists every known prompt category in display order
var Categories = []PromptCategory{
	CategoryPipelineValidity,
	CategoryPipelineUsability,
	CategoryPipelinePortability,
	CategoryArtifactsReproducibility,
	CategoryArtifactsAnonymity,
	CategoryArtifactsValidity,
}

// ParseCategory validates a category name
func ParseCategory(s string) (PromptCategory, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown prompt category %q", s)
}

// keySeparator joins category and name in the wire form of a PromptKey
const keySeparator = "::"

// PromptKey identifies a rubric prompt as category::name
type PromptKey struct {
	Category PromptCategory `json:"category"`
	Name     string         `json:"name"`
}

// ParsePromptKey parses a string like "pipeline_validity::all" into a PromptKey.
// Unknown categories are rejected as input errors.
func ParsePromptKey(s string) (PromptKey, error) {
	cat, name, ok := strings.Cut(s, keySeparator)
	if !ok || cat == "" || name == "" || strings.Contains(name, ":") || strings.Contains(cat, ":") {
		return PromptKey{}, &InputError{Field: "prompts", Reason: fmt.Sprintf("invalid prompt key %q (expected category::name)", s)}
	}
	category, err := ParseCategory(cat)
	if err != nil {
		return PromptKey{}, &InputError{Field: "prompts", Reason: err.Error()}
	}
	return PromptKey{Category: category, Name: name}, nil
}

// String returns the canonical category::name form
func (k PromptKey) String() string {
	return string(k.Category) + keySeparator + k.Name
}

// PromptInfo describes a catalog entry
type PromptInfo struct {
	Name        string         `json:"name"`
	Category    PromptCategory `json:"category"`
	Description string         `json:"description,omitempty"`
	SHA256      string         `json:"sha256,omitempty"`
}

// Key returns the prompt's identity
func (p PromptInfo) Key() PromptKey {
	return PromptKey{Category: p.Category, Name: p.Name}
}

// HasAll is true for the catch-all prompt of a category
func (p PromptInfo) HasAll() bool {
	return p.Name == "all"
}

// Issue is one finding reported for a prompt
type Issue struct {
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Lines       []int    `json:"lines"`
	Type        string   `json:"type"`
}

// Metrics holds the generation service's timing report, in nanoseconds
type Metrics struct {
	TotalDurationNs      int64 `json:"total_duration_ns"`
	EvalDurationNs       int64 `json:"eval_duration_ns"`
	LoadDurationNs       int64 `json:"load_duration_ns"`
	PromptEvalDurationNs int64 `json:"prompt_eval_duration_ns"`
}

// PromptTask is the unit of work and result for one (batch, prompt) pair
type PromptTask struct {
	Prompt       PromptInfo `json:"prompt"`
	Status       Status     `json:"status"`
	ErrorKind    ErrorKind  `json:"error_kind,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Result       []Issue    `json:"result"`
	Metrics      *Metrics   `json:"metrics,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// NewPromptTask returns a task slot in its initial processing state
func NewPromptTask(info PromptInfo) PromptTask {
	return PromptTask{Prompt: info, Status: StatusProcessing}
}

// Complete records a successful result
func (t *PromptTask) Complete(issues []Issue, m Metrics) {
	now := time.Now().UTC()
	t.Status = StatusCompleted
	t.Result = issues
	if t.Result == nil {
		t.Result = []Issue{}
	}
	t.Metrics = &m
	t.ErrorKind = ErrorKindNone
	t.ErrorMessage = ""
	t.FinishedAt = &now
}

// Fail records a terminal failure
func (t *PromptTask) Fail(kind ErrorKind, msg string) {
	now := time.Now().UTC()
	t.Status = StatusFailed
	t.ErrorKind = kind
	t.ErrorMessage = msg
	t.Result = nil
	t.FinishedAt = &now
}

// IsTerminal reports whether the task has finished
func (t PromptTask) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// IssueCount returns the number of issues of the given severity
func (t PromptTask) IssueCount(s Severity) int {
	n := 0
	for _, is := range t.Result {
		if is.Severity == s {
			n++
		}
	}
	return n
}
