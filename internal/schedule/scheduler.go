// Package schedule submits batches on cron schedules.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hochfrequenz/porkchop/internal/domain"
	"github.com/hochfrequenz/porkchop/internal/validation"
	"github.com/robfig/cron/v3"
)

// Submitter accepts batches; *validation.Service implements it
type Submitter interface {
	Submit(ctx context.Context, sub validation.Submission) (*domain.Batch, error)
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron parses a five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler submits each entry whenever its cron schedule fires
type Scheduler struct {
	entries   map[string]Entry
	schedules map[string]cron.Schedule
	submitter Submitter
	logger    *slog.Logger
	tick      time.Duration
	now       func() time.Time

	mu      sync.RWMutex
	lastRun map[string]time.Time
	running map[string]bool
	wg      sync.WaitGroup
}

// New creates a scheduler. Entries are validated; names must be unique.
func New(entries []Entry, submitter Submitter, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		entries:   make(map[string]Entry),
		schedules: make(map[string]cron.Schedule),
		submitter: submitter,
		logger:    logger,
		tick:      time.Minute,
		now:       time.Now,
		lastRun:   make(map[string]time.Time),
		running:   make(map[string]bool),
	}

	started := s.now()
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("schedule %q: %w", e.Name, err)
		}
		if _, dup := s.entries[e.Name]; dup {
			return nil, fmt.Errorf("duplicate schedule name %q", e.Name)
		}
		sched, _ := ParseCron(e.Cron)
		s.entries[e.Name] = e
		s.schedules[e.Name] = sched
		s.lastRun[e.Name] = started
	}
	return s, nil
}

// Names returns all schedule names, sorted
func (s *Scheduler) Names() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NextRun returns the next time an entry fires, zero for unknown names
func (s *Scheduler) NextRun(name string) time.Time {
	sched, ok := s.schedules[name]
	if !ok {
		return time.Time{}
	}
	return sched.Next(s.now())
}

// Due reports whether an entry has a fire time between its last run and now
// and is not already running
func (s *Scheduler) Due(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[name]
	if !ok || s.running[name] {
		return false
	}
	return !sched.Next(s.lastRun[name]).After(s.now())
}

// Start runs the tick loop until ctx is done
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}

// RunDue submits every due entry in the background
func (s *Scheduler) RunDue(ctx context.Context) {
	for _, name := range s.Names() {
		if !s.Due(name) {
			continue
		}
		s.mu.Lock()
		s.running[name] = true
		s.mu.Unlock()

		s.wg.Add(1)
		go func(e Entry) {
			defer s.wg.Done()
			if _, err := s.RunNow(ctx, e); err != nil {
				s.logger.Error("scheduled submission failed", "schedule", e.Name, "error", err)
			}
			s.mu.Lock()
			s.running[e.Name] = false
			s.lastRun[e.Name] = s.now()
			s.mu.Unlock()
		}(s.entries[name])
	}
}

// Wait blocks until background submissions finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// RunNow collects the entry's files and submits them immediately
func (s *Scheduler) RunNow(ctx context.Context, e Entry) (*domain.Batch, error) {
	files, err := Collect(e.Paths)
	if err != nil {
		return nil, err
	}
	prompts, err := validation.ParsePrompts(e.Prompts)
	if err != nil {
		return nil, err
	}

	b, err := s.submitter.Submit(ctx, validation.Submission{
		Name:    fmt.Sprintf("%s-%s", e.Name, s.now().UTC().Format("20060102-1504")),
		Files:   files,
		Prompts: prompts,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("scheduled batch submitted", "schedule", e.Name, "batch_id", b.ID, "files", len(files))
	return b, nil
}

// Collect reads every regular file matched by the glob patterns, once each, in match order
func Collect(patterns []string) ([]validation.FileInput, error) {
	seen := make(map[string]bool)
	var files []validation.FileInput
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			info, err := os.Stat(m)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			data, err := os.ReadFile(m)
			if err != nil {
				return nil, err
			}
			seen[m] = true
			files = append(files, validation.FileInput{Name: filepath.Base(m), Content: data})
		}
	}
	return files, nil
}
