// Package dispatch runs one generation unit per prompt task under a shared
// concurrency cap and commits each result into its batch slot.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hochfrequenz/porkchop/internal/catalog"
	"github.com/hochfrequenz/porkchop/internal/domain"
	"github.com/hochfrequenz/porkchop/internal/extract"
	"github.com/hochfrequenz/porkchop/internal/generate"
	"golang.org/x/sync/errgroup"
)

// Errors returned by Dispatch before any unit starts
var (
	ErrNoPool     = errors.New("dispatch requires a pool")
	ErrEmptyJob   = errors.New("dispatch job has no tasks")
	ErrInvalidJob = errors.New("invalid dispatch job")
	ErrClosed     = errors.New("dispatcher is closed")
)

// Catalog resolves prompt content
type Catalog interface {
	Load(key domain.PromptKey) (*catalog.Prompt, error)
}

// Committer persists a terminal task into its batch slot
type Committer interface {
	CommitTask(batchID string, index int, task domain.PromptTask) (*domain.Batch, error)
}

// IndexedTask is a task with its fixed position in the batch
type IndexedTask struct {
	Index int
	Task  domain.PromptTask
}

// Job is one batch's worth of units
type Job struct {
	BatchID string
	Tasks   []IndexedTask
	Files   []domain.File
}

func (j Job) validate() error {
	if j.BatchID == "" {
		return fmt.Errorf("%w: missing batch id", ErrInvalidJob)
	}
	if len(j.Tasks) == 0 {
		return ErrEmptyJob
	}
	seen := make(map[int]bool, len(j.Tasks))
	for _, it := range j.Tasks {
		if it.Index < 0 {
			return fmt.Errorf("%w: negative index %d", ErrInvalidJob, it.Index)
		}
		if seen[it.Index] {
			return fmt.Errorf("%w: duplicate index %d", ErrInvalidJob, it.Index)
		}
		seen[it.Index] = true
		if it.Task.Prompt.Name == "" {
			return fmt.Errorf("%w: slot %d has no prompt", ErrInvalidJob, it.Index)
		}
	}
	return nil
}

// Config holds Dispatcher dependencies
type Config struct {
	Catalog Catalog
	Client  generate.Client
	Store   Committer
	Options generate.Options
	Logger  *slog.Logger
	// OnCommit runs after each successful commit with the updated batch
	OnCommit func(b *domain.Batch, index int)
}

// Dispatcher schedules units. It holds no concurrency cap of its own; the
// pool is passed to every Dispatch call.
type Dispatcher struct {
	catalog  Catalog
	client   generate.Client
	store    Committer
	opts     generate.Options
	logger   *slog.Logger
	onCommit func(*domain.Batch, int)

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a dispatcher
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		catalog:  cfg.Catalog,
		client:   cfg.Client,
		store:    cfg.Store,
		opts:     cfg.Options,
		logger:   logger,
		onCommit: cfg.OnCommit,
	}
}

// Handle tracks the units of one Dispatch call
type Handle struct {
	BatchID string

	done chan struct{}
	err  error
}

// Done is closed once every unit has committed or failed to commit
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until every unit finishes and returns the first persistence error
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Dispatch validates job and starts one unit per task. Units run to completion
// even if ctx is cancelled; only the returned error path means nothing was started.
func (d *Dispatcher) Dispatch(ctx context.Context, pool *Pool, job Job) (*Handle, error) {
	if pool == nil {
		return nil, ErrNoPool
	}
	if err := job.validate(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	h := &Handle{BatchID: job.BatchID, done: make(chan struct{})}

	var g errgroup.Group
	for _, it := range job.Tasks {
		g.Go(func() error {
			return d.run(ctx, pool, job, it)
		})
	}

	go func() {
		defer d.wg.Done()
		if h.err = g.Wait(); h.err != nil {
			d.logger.Error("batch units failed to persist", "batch_id", job.BatchID, "error", h.err)
		}
		close(h.done)
	}()

	d.logger.Debug("batch dispatched", "batch_id", job.BatchID, "tasks", len(job.Tasks))
	return h, nil
}

// Wait blocks until every dispatched unit has finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close rejects new jobs and waits for running units
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, pool *Pool, job Job, it IndexedTask) error {
	start := time.Now()
	task := it.Task
	log := d.logger.With("batch_id", job.BatchID, "index", it.Index, "prompt", task.Prompt.Key().String())
	log.Debug("unit started")

	d.execute(ctx, pool, job.Files, &task)
	if task.Status == domain.StatusFailed {
		log.Warn("prompt task failed", "error_kind", task.ErrorKind, "error", task.ErrorMessage)
	}

	b, err := d.store.CommitTask(job.BatchID, it.Index, task)
	if err != nil {
		log.Error("commit failed", "error", err)
		return fmt.Errorf("commit %s[%d]: %w", job.BatchID, it.Index, err)
	}

	log.Info("task committed",
		"status", task.Status,
		"duration_ms", time.Since(start).Milliseconds(),
		"completed", b.CompletedTasks,
		"total", b.TotalTasks(),
	)
	if d.onCommit != nil {
		d.onCommit(b, it.Index)
	}
	return nil
}

// execute drives task to a terminal state
func (d *Dispatcher) execute(ctx context.Context, pool *Pool, files []domain.File, task *domain.PromptTask) {
	prompt, err := d.catalog.Load(task.Prompt.Key())
	if err != nil {
		task.Fail(domain.ErrorKindCatalog, err.Error())
		return
	}
	task.Prompt.SHA256 = prompt.Info.SHA256
	if task.Prompt.Description == "" {
		task.Prompt.Description = prompt.Info.Description
	}

	text := ComposePrompt(prompt.Content, files)

	if err := pool.Acquire(ctx); err != nil {
		task.Fail(domain.ErrorKindTransport, err.Error())
		return
	}
	res, err := d.client.Generate(ctx, text, d.opts)
	pool.Release()
	if err != nil {
		kind := domain.ErrorKindTransport
		if errors.Is(err, generate.ErrTimeout) {
			kind = domain.ErrorKindTimeout
		}
		task.Fail(kind, err.Error())
		return
	}

	issues, err := extract.Extract(res.Text)
	if err != nil {
		task.Fail(domain.ErrorKindFormat, err.Error())
		return
	}
	task.Complete(issues, res.Metrics)
}
