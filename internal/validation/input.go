package validation

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/hochfrequenz/porkchop/internal/domain"
)

// Default input limits
const (
	DefaultMaxFiles    = 10
	DefaultMaxFileSize = 10 * 1024 * 1024
	MaxBatchNameLength = 255
)

// Limits bound a submission
type Limits struct {
	MaxFiles    int
	MaxFileSize int64
}

// DefaultLimits returns the stock limits
func DefaultLimits() Limits {
	return Limits{MaxFiles: DefaultMaxFiles, MaxFileSize: DefaultMaxFileSize}
}

// FileInput is an uploaded file before it becomes a domain.File
type FileInput struct {
	Name    string
	Content []byte
}

// Submission is a request to validate files against prompts
type Submission struct {
	Name    string
	Files   []FileInput
	Prompts []domain.PromptKey
}

// ParsePrompts decodes category::name strings. This is the only place the
// string form is read.
func ParsePrompts(raw []string) ([]domain.PromptKey, error) {
	keys := make([]domain.PromptKey, 0, len(raw))
	for _, s := range raw {
		key, err := domain.ParsePromptKey(s)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// validate checks sub against limits and returns the batch name to use
func (l Limits) validate(sub Submission, now time.Time) (string, []domain.File, error) {
	if len(sub.Files) == 0 {
		return "", nil, domain.NewInputError("files", "at least one file is required")
	}
	if l.MaxFiles > 0 && len(sub.Files) > l.MaxFiles {
		return "", nil, domain.NewInputError("files", "too many files: %d (max %d)", len(sub.Files), l.MaxFiles)
	}
	if len(sub.Prompts) == 0 {
		return "", nil, domain.NewInputError("prompts", "at least one prompt is required")
	}

	seen := make(map[domain.PromptKey]bool, len(sub.Prompts))
	for _, key := range sub.Prompts {
		if _, err := domain.ParseCategory(string(key.Category)); err != nil {
			return "", nil, domain.NewInputError("prompts", "%v", err)
		}
		if key.Name == "" {
			return "", nil, domain.NewInputError("prompts", "prompt name is required")
		}
		if seen[key] {
			return "", nil, domain.NewInputError("prompts", "duplicate prompt %s", key)
		}
		seen[key] = true
	}

	files := make([]domain.File, 0, len(sub.Files))
	for _, in := range sub.Files {
		if in.Name == "" {
			return "", nil, domain.NewInputError("files", "file name is required")
		}
		if l.MaxFileSize > 0 && int64(len(in.Content)) > l.MaxFileSize {
			return "", nil, domain.NewInputError("files", "file %s is too large: %d bytes (max %d)", in.Name, len(in.Content), l.MaxFileSize)
		}
		if !utf8.Valid(in.Content) {
			return "", nil, domain.NewInputError("files", "file %s is not valid UTF-8 text", in.Name)
		}
		files = append(files, domain.NewFile(in.Name, string(in.Content)))
	}

	name := sub.Name
	if utf8.RuneCountInString(name) > MaxBatchNameLength {
		return "", nil, domain.NewInputError("name", "batch name exceeds %d characters", MaxBatchNameLength)
	}
	if name == "" {
		name = fmt.Sprintf("batch-%s", now.UTC().Format("20060102-150405"))
	}
	return name, files, nil
}
