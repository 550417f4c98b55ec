// Package store persists batches, their files and their positional task lists in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/porkchop/internal/domain"
	_ "modernc.org/sqlite"
)

// Errors returned by the store
var (
	ErrBatchNotFound  = errors.New("batch not found")
	ErrFileNotFound   = errors.New("file not found")
	ErrCommitConflict = errors.New("concurrent batch update conflict")
)

// maxCommitAttempts bounds the optimistic retry loop of read-modify-write updates
const maxCommitAttempts = 10

// Store provides SQLite-backed batch persistence
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection: ":memory:" databases are per connection, and SQLite
	// allows a single writer anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateBatch atomically stores a new waiting batch with its files and one
// processing slot per prompt. Assigned ids are set on the returned batch.
func (s *Store) CreateBatch(name string, files []domain.File, prompts []domain.PromptInfo) (*domain.Batch, error) {
	b := domain.NewBatch(name, append([]domain.File(nil), files...), prompts)
	b.ID = uuid.NewString()
	b.Version = 1

	tasksJSON, err := json.Marshal(b.Tasks)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO batches (id, name, status, completed_tasks, total_tasks, tasks, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.Name, string(b.Status), b.CompletedTasks, b.TotalTasks(), string(tasksJSON), b.Version, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}

	for i := range b.Files {
		f := &b.Files[i]
		if f.CreatedAt.IsZero() {
			f.CreatedAt = b.CreatedAt
		}
		res, err := tx.Exec(`
			INSERT INTO files (batch_id, position, name, content, file_type, size, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, b.ID, i, f.Name, f.Content, f.FileType, f.Size, f.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert file %q: %w", f.Name, err)
		}
		if f.ID, err = res.LastInsertId(); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return b, nil
}

// GetBatch retrieves a batch with its files, including content
func (s *Store) GetBatch(id string) (*domain.Batch, error) {
	b, err := scanBatch(s.db.QueryRow(`SELECT `+batchColumns+` FROM batches WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if b.Files, err = s.batchFiles(id, true); err != nil {
		return nil, err
	}
	return b, nil
}

// CommitTask stores a terminal task in slot index, increments the completed
// counter and flips the batch to completed when it was the last slot. The
// read-modify-write runs in a transaction guarded by the row version; a
// concurrent writer forces a retry, never a lost update.
// The returned batch does not carry its files.
func (s *Store) CommitTask(batchID string, index int, task domain.PromptTask) (*domain.Batch, error) {
	return s.update(batchID, func(b *domain.Batch) error {
		return b.ApplyTaskResult(index, task)
	})
}

// SetBatchStatus applies a status transition validated by the batch state machine
func (s *Store) SetBatchStatus(id string, status domain.Status) (*domain.Batch, error) {
	return s.update(id, func(b *domain.Batch) error {
		return b.SetStatus(status)
	})
}

func (s *Store) update(id string, mutate func(*domain.Batch) error) (*domain.Batch, error) {
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		b, ok, err := s.tryUpdate(id, mutate)
		if err != nil {
			return nil, err
		}
		if ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: batch %s", ErrCommitConflict, id)
}

// tryUpdate returns ok=false when the row version moved underneath it
func (s *Store) tryUpdate(id string, mutate func(*domain.Batch) error) (*domain.Batch, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	b, err := scanBatch(tx.QueryRow(`SELECT `+batchColumns+` FROM batches WHERE id = ?`, id))
	if err != nil {
		return nil, false, err
	}

	if err := mutate(b); err != nil {
		return nil, false, err
	}

	tasksJSON, err := json.Marshal(b.Tasks)
	if err != nil {
		return nil, false, err
	}

	res, err := tx.Exec(`
		UPDATE batches
		SET status = ?, completed_tasks = ?, tasks = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, string(b.Status), b.CompletedTasks, string(tasksJSON), b.UpdatedAt, id, b.Version)
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		return nil, false, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	b.Version++
	return b, true, nil
}

// ListOptions specifies filters for listing batches
type ListOptions struct {
	// Search matches a substring of any file name in the batch
	Search string
	Limit  int
	Offset int
}

// ListBatches returns batches newest first, with file references but no
// content, plus the total number of matching batches.
func (s *Store) ListBatches(opts ListOptions) ([]*domain.Batch, int, error) {
	where := ""
	var args []interface{}
	if opts.Search != "" {
		where = ` WHERE EXISTS (SELECT 1 FROM files f WHERE f.batch_id = batches.id AND f.name LIKE ? ESCAPE '\')`
		args = append(args, "%"+escapeLike(opts.Search)+"%")
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM batches`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + batchColumns + ` FROM batches` + where + ` ORDER BY created_at DESC, rowid DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}

	batches, err := s.queryBatches(query, args...)
	if err != nil {
		return nil, 0, err
	}
	return batches, total, nil
}

// BatchesByStatus returns batches in any of the given states, oldest first
func (s *Store) BatchesByStatus(statuses ...domain.Status) ([]*domain.Batch, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	return s.queryBatches(`SELECT `+batchColumns+` FROM batches WHERE status IN (`+
		strings.Join(placeholders, ", ")+`) ORDER BY created_at, rowid`, args...)
}

// ActiveBatches returns batches that are waiting or processing
func (s *Store) ActiveBatches() ([]*domain.Batch, error) {
	return s.BatchesByStatus(domain.StatusWaiting, domain.StatusProcessing)
}

// GetFile retrieves a file with its content
func (s *Store) GetFile(id int64) (*domain.File, error) {
	var f domain.File
	err := s.db.QueryRow(`
		SELECT id, name, content, file_type, size, created_at FROM files WHERE id = ?
	`, id).Scan(&f.ID, &f.Name, &f.Content, &f.FileType, &f.Size, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrFileNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Store) queryBatches(query string, args ...interface{}) ([]*domain.Batch, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}

	var batches []*domain.Batch
	for rows.Next() {
		b, err := scanBatchRows(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		batches = append(batches, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Files are loaded after the cursor is closed; the pool has one connection.
	for _, b := range batches {
		if b.Files, err = s.batchFiles(b.ID, false); err != nil {
			return nil, err
		}
	}
	return batches, nil
}

func (s *Store) batchFiles(batchID string, withContent bool) ([]domain.File, error) {
	content := "''"
	if withContent {
		content = "content"
	}
	rows, err := s.db.Query(`
		SELECT id, name, `+content+`, file_type, size, created_at
		FROM files WHERE batch_id = ? ORDER BY position
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []domain.File
	for rows.Next() {
		var f domain.File
		if err := rows.Scan(&f.ID, &f.Name, &f.Content, &f.FileType, &f.Size, &f.CreatedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

const batchColumns = `id, name, status, completed_tasks, tasks, version, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBatch(row *sql.Row) (*domain.Batch, error) {
	b, err := scanBatchFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBatchNotFound
	}
	return b, err
}

func scanBatchRows(rows *sql.Rows) (*domain.Batch, error) {
	return scanBatchFrom(rows)
}

func scanBatchFrom(sc scanner) (*domain.Batch, error) {
	var b domain.Batch
	var status, tasksJSON string
	var createdAt, updatedAt time.Time

	err := sc.Scan(&b.ID, &b.Name, &status, &b.CompletedTasks, &tasksJSON, &b.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	b.Status = domain.Status(status)
	b.CreatedAt = createdAt.UTC()
	b.UpdatedAt = updatedAt.UTC()
	if err := json.Unmarshal([]byte(tasksJSON), &b.Tasks); err != nil {
		return nil, fmt.Errorf("decode tasks of batch %s: %w", b.ID, err)
	}
	return &b, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
