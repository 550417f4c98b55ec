package validation

import (
	"sync"
	"time"

	"github.com/hochfrequenz/porkchop/internal/domain"
)

// EventBatchUpdate is the only event type
const EventBatchUpdate = "batch_update"

// Event reports a batch change: a committed task or a status transition
type Event struct {
	Type           string        `json:"type"`
	BatchID        string        `json:"batch_id"`
	Name           string        `json:"name"`
	Status         domain.Status `json:"status"`
	CompletedTasks int           `json:"completed_prompts"`
	TotalTasks     int           `json:"total_prompts"`
	FailedTasks    int           `json:"failed_prompts"`
	// TaskIndex is set when the event was caused by a task commit
	TaskIndex *int      `json:"task_index,omitempty"`
	Time      time.Time `json:"time"`
}

func newEvent(b *domain.Batch, index *int) Event {
	return Event{
		Type:           EventBatchUpdate,
		BatchID:        b.ID,
		Name:           b.Name,
		Status:         b.Status,
		CompletedTasks: b.CompletedTasks,
		TotalTasks:     b.TotalTasks(),
		FailedTasks:    b.FailedTasks(),
		TaskIndex:      index,
		Time:           time.Now().UTC(),
	}
}

// subscriberBuffer is the per-subscriber queue; slow subscribers drop events
const subscriberBuffer = 64

// Broker fans events out to subscribers
type Broker struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{subs: make(map[chan Event]struct{})}
}

// Subscribe returns a channel of events and a function that ends the subscription
func (b *Broker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
}

// Publish delivers ev to every subscriber without blocking
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
}
