package validation

import (
	"fmt"

	"github.com/hochfrequenz/porkchop/internal/domain"
)

// interruptedMessage is recorded on task slots orphaned by a restart
const interruptedMessage = "interrupted: the server stopped before this prompt finished"

// RecoverInterrupted resolves batches left behind by a previous process.
// Processing batches get their unfinished slots committed as failed so they
// reach completed; batches still waiting were never dispatched and are marked
// failed. Nothing is re-run. Returns the number of batches touched.
func (s *Service) RecoverInterrupted() (int, error) {
	batches, err := s.store.BatchesByStatus(domain.StatusWaiting, domain.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("list unfinished batches: %w", err)
	}

	for _, b := range batches {
		log := s.logger.With("batch_id", b.ID)

		if b.Status == domain.StatusWaiting {
			failed, err := s.store.SetBatchStatus(b.ID, domain.StatusFailed)
			if err != nil {
				return 0, fmt.Errorf("fail waiting batch %s: %w", b.ID, err)
			}
			log.Warn("batch never dispatched, marked failed")
			s.finished(failed)
			continue
		}

		pending := b.PendingIndexes()
		for _, i := range pending {
			task := b.Tasks[i]
			task.Fail(domain.ErrorKindInterrupted, interruptedMessage)
			updated, err := s.store.CommitTask(b.ID, i, task)
			if err != nil {
				return 0, fmt.Errorf("recover %s[%d]: %w", b.ID, i, err)
			}
			s.onCommit(updated, i)
		}
		log.Warn("recovered interrupted batch", "interrupted_tasks", len(pending))
	}
	return len(batches), nil
}
