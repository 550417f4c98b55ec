// Package validation is the submission and query surface of porkchop. It turns
// uploads into batches, hands their prompt tasks to the dispatcher and answers
// status, log and file queries.
package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hochfrequenz/porkchop/internal/catalog"
	"github.com/hochfrequenz/porkchop/internal/dispatch"
	"github.com/hochfrequenz/porkchop/internal/domain"
	"github.com/hochfrequenz/porkchop/internal/generate"
	"github.com/hochfrequenz/porkchop/internal/notify"
	"github.com/hochfrequenz/porkchop/internal/store"
)

// ErrDispatch wraps a scheduling failure; the batch has been marked failed
var ErrDispatch = errors.New("could not dispatch batch")

// Store is the persistence the service needs
type Store interface {
	dispatch.Committer
	CreateBatch(name string, files []domain.File, prompts []domain.PromptInfo) (*domain.Batch, error)
	GetBatch(id string) (*domain.Batch, error)
	SetBatchStatus(id string, status domain.Status) (*domain.Batch, error)
	ListBatches(opts store.ListOptions) ([]*domain.Batch, int, error)
	BatchesByStatus(statuses ...domain.Status) ([]*domain.Batch, error)
	ActiveBatches() ([]*domain.Batch, error)
	GetFile(id int64) (*domain.File, error)
}

// Config holds Service dependencies
type Config struct {
	Store    Store
	Catalog  *catalog.Catalog
	Client   generate.Client
	Options  generate.Options
	Pool     *dispatch.Pool
	Limits   Limits
	Notifier notify.Notifier
	Logger   *slog.Logger
}

// Service orchestrates batch submission and queries
type Service struct {
	store      Store
	catalog    *catalog.Catalog
	client     generate.Client
	pool       *dispatch.Pool
	dispatcher *dispatch.Dispatcher
	limits     Limits
	notifier   notify.Notifier
	events     *Broker
	logger     *slog.Logger

	now func() time.Time
}

// New creates a service and its dispatcher
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	limits := cfg.Limits
	if limits == (Limits{}) {
		limits = DefaultLimits()
	}
	pool := cfg.Pool
	if pool == nil {
		pool = dispatch.NewPool(3)
	}

	s := &Service{
		store:    cfg.Store,
		catalog:  cfg.Catalog,
		client:   cfg.Client,
		pool:     pool,
		limits:   limits,
		notifier: notifier,
		events:   NewBroker(),
		logger:   logger,
		now:      time.Now,
	}
	s.dispatcher = dispatch.New(dispatch.Config{
		Catalog:  cfg.Catalog,
		Client:   cfg.Client,
		Store:    cfg.Store,
		Options:  cfg.Options,
		Logger:   logger.With("component", "dispatch"),
		OnCommit: s.onCommit,
	})
	return s
}

// Events returns the batch event broker
func (s *Service) Events() *Broker {
	return s.events
}

// Pool returns the shared generation pool
func (s *Service) Pool() *dispatch.Pool {
	return s.pool
}

// Client returns the generation client
func (s *Service) Client() generate.Client {
	return s.client
}

// Submit validates sub, persists a new batch, moves it to processing and
// dispatches one unit per prompt. Input errors leave no state behind. If
// dispatch itself fails the batch is marked failed and returned along with
// an error wrapping ErrDispatch.
func (s *Service) Submit(ctx context.Context, sub Submission) (*domain.Batch, error) {
	name, files, err := s.limits.validate(sub, s.now())
	if err != nil {
		return nil, err
	}

	infos := make([]domain.PromptInfo, len(sub.Prompts))
	for i, key := range sub.Prompts {
		info, err := s.catalog.Info(key)
		if err != nil {
			// unknown prompts fail their own task at dispatch time
			info = domain.PromptInfo{Category: key.Category, Name: key.Name}
		}
		infos[i] = info
	}

	b, err := s.store.CreateBatch(name, files, infos)
	if err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	log := s.logger.With("batch_id", b.ID, "name", b.Name)

	created := b
	if b, err = s.store.SetBatchStatus(b.ID, domain.StatusProcessing); err != nil {
		return nil, fmt.Errorf("start batch: %w", err)
	}
	b.Files = created.Files
	s.events.Publish(newEvent(b, nil))

	job := dispatch.Job{BatchID: b.ID, Files: b.Files}
	for i, task := range b.Tasks {
		job.Tasks = append(job.Tasks, dispatch.IndexedTask{Index: i, Task: task})
	}

	if _, err := s.dispatcher.Dispatch(ctx, s.pool, job); err != nil {
		log.Error("dispatch failed", "error", err)
		failed, ferr := s.store.SetBatchStatus(b.ID, domain.StatusFailed)
		if ferr != nil {
			return nil, fmt.Errorf("%w: %v (marking failed: %v)", ErrDispatch, err, ferr)
		}
		failed.Files = b.Files
		s.finished(failed)
		return failed, fmt.Errorf("%w: %v", ErrDispatch, err)
	}

	log.Info("batch submitted", "files", len(files), "prompts", len(infos))
	return b, nil
}

func (s *Service) onCommit(b *domain.Batch, index int) {
	s.events.Publish(newEvent(b, &index))
	if b.Status == domain.StatusCompleted {
		s.finished(b)
	}
}

func (s *Service) finished(b *domain.Batch) {
	if b.Status == domain.StatusFailed {
		s.events.Publish(newEvent(b, nil))
	}
	s.logger.Info("batch finished",
		"batch_id", b.ID,
		"status", b.Status,
		"completed", b.CompletedTasks,
		"failed", b.FailedTasks(),
	)
	if err := s.notifier.Send(notify.ForBatch(b)); err != nil {
		s.logger.Warn("notification failed", "batch_id", b.ID, "error", err)
	}
}

// Batch returns a batch with file content
func (s *Service) Batch(id string) (*domain.Batch, error) {
	return s.store.GetBatch(id)
}

// Active returns batches that are waiting or processing
func (s *Service) Active() ([]*domain.Batch, error) {
	return s.store.ActiveBatches()
}

// File returns one uploaded file with content
func (s *Service) File(id int64) (*domain.File, error) {
	return s.store.GetFile(id)
}

// Prompts returns the catalog grouped by category
func (s *Service) Prompts() ([]catalog.Group, error) {
	return s.catalog.Groups()
}

// Prompt returns one prompt's content and digest
func (s *Service) Prompt(key domain.PromptKey) (*catalog.Prompt, error) {
	return s.catalog.Load(key)
}

// Wait blocks until every dispatched unit has committed
func (s *Service) Wait() {
	s.dispatcher.Wait()
}

// Close stops accepting batches, waits for running units and ends event subscriptions
func (s *Service) Close() {
	s.dispatcher.Close()
	s.events.Close()
}
