package validation

import (
	"github.com/hochfrequenz/porkchop/internal/domain"
	"github.com/hochfrequenz/porkchop/internal/store"
)

// Paging bounds for Logs
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// LogQuery selects a page of past batches
type LogQuery struct {
	Page   int
	Limit  int
	Search string
}

// LogPage is one page of batches, newest first
type LogPage struct {
	Logs       []*domain.Batch `json:"logs"`
	CurrPage   int             `json:"curr_page"`
	TotalPages int             `json:"total_pages"`
	PerPage    int             `json:"per_page"`
	Total      int             `json:"total"`
	HasNext    bool            `json:"has_next"`
	HasPrev    bool            `json:"has_prev"`
}

// Logs returns a page of batches. Page starts at 1; limit is 1..MaxPageSize,
// zero meaning DefaultPageSize.
func (s *Service) Logs(q LogQuery) (*LogPage, error) {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = DefaultPageSize
	}
	if q.Page < 1 {
		return nil, domain.NewInputError("page", "must be at least 1")
	}
	if q.Limit < 1 || q.Limit > MaxPageSize {
		return nil, domain.NewInputError("limit", "must be between 1 and %d", MaxPageSize)
	}

	batches, total, err := s.store.ListBatches(store.ListOptions{
		Search: q.Search,
		Limit:  q.Limit,
		Offset: (q.Page - 1) * q.Limit,
	})
	if err != nil {
		return nil, err
	}
	if batches == nil {
		batches = []*domain.Batch{}
	}

	pages := (total + q.Limit - 1) / q.Limit
	return &LogPage{
		Logs:       batches,
		CurrPage:   q.Page,
		TotalPages: pages,
		PerPage:    q.Limit,
		Total:      total,
		HasNext:    q.Page < pages,
		HasPrev:    q.Page > 1,
	}, nil
}
