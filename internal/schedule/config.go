package schedule

import (
	"fmt"
	"os"

	"github.com/hochfrequenz/porkchop/internal/validation"
	"github.com/pelletier/go-toml/v2"
)

// Entry is one recurring submission
type Entry struct {
	Name string `toml:"name"`
	Cron string `toml:"cron"`
	// Paths are glob patterns; every match is uploaded
	Paths []string `toml:"paths"`
	// Prompts are category::name keys
	Prompts []string `toml:"prompts"`
}

// File is a standalone schedule file holding [[schedule]] tables
type File struct {
	Schedules []Entry `toml:"schedule"`
}

// Validate checks if the entry is usable
func (e *Entry) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if e.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(e.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if len(e.Paths) == 0 {
		return fmt.Errorf("at least one path is required")
	}
	if _, err := validation.ParsePrompts(e.Prompts); err != nil {
		return err
	}
	if len(e.Prompts) == 0 {
		return fmt.Errorf("at least one prompt is required")
	}
	return nil
}

// LoadFile loads schedule entries from a TOML file. A missing file yields no entries.
func LoadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	for i := range f.Schedules {
		if err := f.Schedules[i].Validate(); err != nil {
			return nil, fmt.Errorf("schedule %d: %w", i, err)
		}
	}
	return f.Schedules, nil
}
