package schedule

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hochfrequenz/porkchop/internal/domain"
	"github.com/hochfrequenz/porkchop/internal/validation"
)

type fakeSubmitter struct {
	mu   sync.Mutex
	subs []validation.Submission
}

func (f *fakeSubmitter) Submit(_ context.Context, sub validation.Submission) (*domain.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, sub)
	return &domain.Batch{ID: "b", Name: sub.Name}, nil
}

func entry(dir string) Entry {
	return Entry{
		Name:    "nightly",
		Cron:    "0 22 * * *",
		Paths:   []string{filepath.Join(dir, "*.cwl")},
		Prompts: []string{"pipeline_validity::all"},
	}
}

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 22 * * *", false},   // 10 PM daily
		{"0 12 * * 1-5", false}, // noon weekdays
		{"*/5 * * * *", false},  // every 5 minutes
		{"invalid", true},
	}

	for _, tt := range tests {
		_, err := ParseCron(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCron(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestEntry_Validate(t *testing.T) {
	e := entry(t.TempDir())
	if err := e.Validate(); err != nil {
		t.Errorf("Valid entry should not error: %v", err)
	}

	bad := []func(*Entry){
		func(e *Entry) { e.Name = "" },
		func(e *Entry) { e.Cron = "whenever" },
		func(e *Entry) { e.Paths = nil },
		func(e *Entry) { e.Prompts = nil },
		func(e *Entry) { e.Prompts = []string{"nope"} },
	}
	for i, mutate := range bad {
		e := entry(t.TempDir())
		mutate(&e)
		if err := e.Validate(); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schedules.toml")
	content := `
[[schedule]]
name = "nightly"
cron = "0 2 * * *"
paths = ["/srv/pipelines/*.cwl"]
prompts = ["pipeline_validity::all", "artifacts_validity::secrets"]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	entries, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || len(entries[0].Prompts) != 2 {
		t.Errorf("entries = %+v", entries)
	}

	missing, err := LoadFile(filepath.Join(dir, "missing.toml"))
	if err != nil || missing != nil {
		t.Errorf("missing file: %v %v", missing, err)
	}
}

func TestScheduler_NextRunAndDue(t *testing.T) {
	sched, err := New([]Entry{entry(t.TempDir())}, &fakeSubmitter{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	next := sched.NextRun("nightly")
	if !next.After(time.Now()) {
		t.Errorf("NextRun = %v, want future", next)
	}
	if !sched.NextRun("unknown").IsZero() {
		t.Error("unknown schedule should have no next run")
	}
	if sched.Due("nightly") {
		t.Error("should not be due right after start")
	}

	sched.lastRun["nightly"] = time.Now().Add(-25 * time.Hour)
	if !sched.Due("nightly") {
		t.Error("should be due after a fire time passed")
	}
}

func TestScheduler_RunDue(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.cwl", "b.cwl", "ignored.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("cwlVersion: v1.2"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	sub := &fakeSubmitter{}
	sched, err := New([]Entry{entry(dir)}, sub, nil)
	if err != nil {
		t.Fatal(err)
	}
	sched.lastRun["nightly"] = time.Now().Add(-25 * time.Hour)

	sched.RunDue(t.Context())
	sched.Wait()

	if len(sub.subs) != 1 {
		t.Fatalf("submissions = %d, want 1", len(sub.subs))
	}
	got := sub.subs[0]
	if len(got.Files) != 2 {
		t.Errorf("files = %d, want 2", len(got.Files))
	}
	if len(got.Prompts) != 1 || got.Prompts[0].Name != "all" {
		t.Errorf("prompts = %+v", got.Prompts)
	}
	if sched.Due("nightly") {
		t.Error("last run must advance after a submission")
	}
}

func TestScheduler_DuplicateNames(t *testing.T) {
	e := entry(t.TempDir())
	if _, err := New([]Entry{e, e}, &fakeSubmitter{}, nil); err == nil {
		t.Error("expected duplicate name error")
	}
}

func TestCollect_Dedupes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.yaml")
	if err := os.WriteFile(path, []byte("a: 1"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.yaml"), 0755); err != nil {
		t.Fatal(err)
	}

	files, err := Collect([]string{path, filepath.Join(dir, "*.yaml")})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Name != "x.yaml" {
		t.Errorf("files = %+v", files)
	}
}
