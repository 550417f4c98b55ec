package dispatch

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool caps the number of outstanding generation calls across all batches.
// Waiters are admitted in FIFO order.
type Pool struct {
	size int
	sem  *semaphore.Weighted

	mu             sync.Mutex
	inFlight       int
	peak           int
	onSlotsChanged func(available int)
}

// NewPool creates a pool with the given capacity (minimum 1)
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: size, sem: semaphore.NewWeighted(int64(size))}
}

// SetOnSlotsChanged sets a callback invoked whenever slot availability changes
func (p *Pool) SetOnSlotsChanged(callback func(available int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSlotsChanged = callback
}

// Acquire blocks until a slot is free or ctx is done
func (p *Pool) Acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.peak {
		p.peak = p.inFlight
	}
	callback := p.onSlotsChanged
	available := p.size - p.inFlight
	p.mu.Unlock()

	// Notify outside of lock to avoid deadlock
	if callback != nil {
		callback(available)
	}
	return nil
}

// Release returns a slot to the pool
func (p *Pool) Release() {
	p.mu.Lock()
	if p.inFlight > 0 {
		p.inFlight--
	}
	callback := p.onSlotsChanged
	available := p.size - p.inFlight
	p.mu.Unlock()

	p.sem.Release(1)
	if callback != nil {
		callback(available)
	}
}

// Available returns the number of free slots
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size - p.inFlight
}

// InFlight returns the number of held slots
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// Peak returns the highest number of slots ever held at once
func (p *Pool) Peak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

// Size returns the pool capacity
func (p *Pool) Size() int {
	return p.size
}
