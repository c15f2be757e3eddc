package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"orionserver/internal/model"
)

// ErrQueueFull is returned by Push when the queue limit is reached.
var ErrQueueFull = errors.New("ingest queue full")

// Queue snapshot events.
const (
	// StatusEnqueued marks a frame waiting for the worker.
	StatusEnqueued = "enqueued"
	// StatusDequeued is published after the worker finished one item.
	StatusDequeued = "dequeued"
)

// Item is one pending frame together with the producer that sent it.
type Item struct {
	ClientID   string
	Frame      model.Frame
	EnqueuedAt time.Time
}

// Queue is an ordered FIFO of frames, unbounded unless a limit is set.
type Queue struct {
	mu     sync.Mutex
	items  []Item
	limit  int
	notify chan struct{}
}

// NewQueue creates a queue. A limit <= 0 means unbounded.
func NewQueue(limit int) *Queue {
	return &Queue{
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

// Push appends an item at the tail.
func (q *Queue) Push(item Item) error {
	q.mu.Lock()
	if q.limit > 0 && len(q.items) >= q.limit {
		q.mu.Unlock()
		return ErrQueueFull
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes and returns the head item.
func (q *Queue) Pop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	item := q.items[0]
	q.items[0] = Item{}
	q.items = q.items[1:]
	return item, true
}

// Wait blocks until the queue is non-empty or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	for {
		if q.Size() > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.notify:
		}
	}
}

// Size returns the current queue depth.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// PeekAll returns a summary of every pending item in queue order.
func (q *Queue) PeekAll() []model.QueueItemSummary {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]model.QueueItemSummary, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, model.QueueItemSummary{
			FrameID:   item.Frame.FrameID,
			Timestamp: item.Frame.Timestamp,
			DeviceID:  item.Frame.DeviceID,
			ClientID:  item.ClientID,
			Status:    StatusEnqueued,
		})
	}
	return out
}

// Drain empties the queue and returns the dropped items.
func (q *Queue) Drain() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}
