package domain

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Errors returned by the batch state machine
var (
	ErrInvalidTransition = errors.New("invalid batch status transition")
	ErrTaskIndex         = errors.New("task index out of range")
	ErrTaskAlreadyDone   = errors.New("task already in a terminal state")
	ErrTaskNotTerminal   = errors.New("task result is not terminal")
)

// File is an uploaded artifact. Immutable after creation.
type File struct {
	ID        int64     `json:"id"`
	Name      string    `json:"file_name"`
	Content   string    `json:"content,omitempty"`
	FileType  string    `json:"file_type"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Ref strips the content for listings
func (f File) Ref() File {
	f.Content = ""
	return f
}

// NewFile builds a file record, deriving its type tag from the name
func NewFile(name, content string) File {
	return File{
		Name:      name,
		Content:   content,
		FileType:  DetectFileType(name),
		Size:      int64(len(content)),
		CreatedAt: time.Now().UTC(),
	}
}

var fileTypes = map[string]string{
	"yaml": "yaml",
	"yml":  "yaml",
	"cwl":  "cwl",
	"sh":   "shell",
	"c":    "c",
	"h":    "c",
	"py":   "python",
	"js":   "javascript",
	"ts":   "typescript",
	"json": "json",
	"toml": "toml",
	"md":   "markdown",
}

// DetectFileType maps a file name's extension to a content type tag
func DetectFileType(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if t, ok := fileTypes[ext]; ok {
		return t
	}
	return "text"
}

// Batch is a group of files evaluated against a fixed list of prompts.
// Tasks is positionally addressed: slot order is fixed at creation.
type Batch struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Status         Status       `json:"status"`
	CompletedTasks int          `json:"completed_prompts"`
	Tasks          []PromptTask `json:"prompt_results"`
	Files          []File       `json:"file_ids"`
	Version        int64        `json:"-"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// NewBatch creates a batch in the waiting state with one processing slot per prompt
func NewBatch(name string, files []File, prompts []PromptInfo) *Batch {
	now := time.Now().UTC()
	tasks := make([]PromptTask, len(prompts))
	for i, p := range prompts {
		tasks[i] = NewPromptTask(p)
	}
	return &Batch{
		Name:      name,
		Status:    StatusWaiting,
		Tasks:     tasks,
		Files:     files,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TotalTasks returns the number of task slots
func (b *Batch) TotalTasks() int {
	return len(b.Tasks)
}

// FailedTasks counts slots that ended in failure
func (b *Batch) FailedTasks() int {
	n := 0
	for _, t := range b.Tasks {
		if t.Status == StatusFailed {
			n++
		}
	}
	return n
}

// TerminalTasks counts slots in a terminal state
func (b *Batch) TerminalTasks() int {
	n := 0
	for _, t := range b.Tasks {
		if t.IsTerminal() {
			n++
		}
	}
	return n
}

// Begin moves a waiting batch to processing
func (b *Batch) Begin() error {
	if b.Status != StatusWaiting {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, StatusProcessing)
	}
	b.setStatus(StatusProcessing)
	return nil
}

// Fail marks a batch whose tasks could not be scheduled. Only valid
// before any task has committed.
func (b *Batch) Fail() error {
	if b.Status.IsTerminal() || b.CompletedTasks > 0 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, StatusFailed)
	}
	b.setStatus(StatusFailed)
	return nil
}

// SetStatus applies an arbitrary transition, validating it against the state machine
func (b *Batch) SetStatus(to Status) error {
	switch to {
	case StatusProcessing:
		return b.Begin()
	case StatusFailed:
		return b.Fail()
	default:
		// completed is reached only through ApplyTaskResult
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, to)
	}
}

// ApplyTaskResult stores a terminal task in slot index, increments the
// completed counter and flips the batch to completed when every slot is done.
func (b *Batch) ApplyTaskResult(index int, task PromptTask) error {
	if b.Status != StatusProcessing {
		return fmt.Errorf("%w: commit into %s batch", ErrInvalidTransition, b.Status)
	}
	if index < 0 || index >= len(b.Tasks) {
		return fmt.Errorf("%w: %d (have %d)", ErrTaskIndex, index, len(b.Tasks))
	}
	if !task.IsTerminal() {
		return fmt.Errorf("%w: slot %d status %s", ErrTaskNotTerminal, index, task.Status)
	}
	if b.Tasks[index].IsTerminal() {
		return fmt.Errorf("%w: slot %d", ErrTaskAlreadyDone, index)
	}

	b.Tasks[index] = task
	b.CompletedTasks++
	if b.CompletedTasks >= len(b.Tasks) {
		b.setStatus(StatusCompleted)
	} else {
		b.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// PendingIndexes returns the slots that have not reached a terminal state
func (b *Batch) PendingIndexes() []int {
	var idx []int
	for i, t := range b.Tasks {
		if !t.IsTerminal() {
			idx = append(idx, i)
		}
	}
	return idx
}

func (b *Batch) setStatus(s Status) {
	b.Status = s
	b.UpdatedAt = time.Now().UTC()
}
