package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/haasonsaas/conductor/pkg/events"
)

// DefaultQueueBuffer is the per-consumer channel depth.
const DefaultQueueBuffer = 256

// Queue fans events out to subscribed consumers, each behind its own
// bounded channel and delivery goroutine. Emit never blocks: a consumer
// whose buffer is full, or whose handler returns an error, is detached and
// the session carries on without it.
type Queue struct {
	mu        sync.Mutex
	consumers map[int64]*consumer
	nextID    int64
	buffer    int
	logger    *slog.Logger
	detached  atomic.Int64
	wg        sync.WaitGroup
	closed    bool
}

type consumer struct {
	id string
	ch chan events.Event
}

// NewQueue creates a queue. buffer <= 0 selects DefaultQueueBuffer.
func NewQueue(buffer int, logger *slog.Logger) *Queue {
	if buffer <= 0 {
		buffer = DefaultQueueBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		consumers: map[int64]*consumer{},
		buffer:    buffer,
		logger:    logger,
	}
}

// Subscribe attaches a consumer. Events are delivered in emit order on a
// dedicated goroutine; a non-nil error from deliver detaches the consumer.
// The returned cancel detaches it manually.
func (q *Queue) Subscribe(name string, deliver func(events.Event) error) (cancel func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return func() {}
	}

	id := q.nextID
	q.nextID++
	c := &consumer{id: name, ch: make(chan events.Event, q.buffer)}
	q.consumers[id] = c

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for ev := range c.ch {
			if err := deliver(ev); err != nil {
				q.logger.Warn("detaching event consumer",
					"consumer", c.id, "error", err)
				q.detach(id, true)
				// Drain whatever the producer buffered before detach.
				for range c.ch {
				}
				return
			}
		}
	}()

	return func() { q.detach(id, false) }
}

// Emit offers the event to every consumer without blocking. A full buffer
// detaches the consumer.
func (q *Queue) Emit(_ context.Context, e events.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, c := range q.consumers {
		select {
		case c.ch <- e:
		default:
			q.logger.Warn("event consumer too slow, detaching",
				"consumer", c.id, "event_id", e.Header().ID)
			q.detachLocked(id, true)
		}
	}
}

// Detached reports how many consumers were dropped for being slow or
// failing.
func (q *Queue) Detached() int64 { return q.detached.Load() }

// Close detaches every consumer and waits for their goroutines to drain.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for id := range q.consumers {
		q.detachLocked(id, false)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) detach(id int64, failed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.detachLocked(id, failed)
}

func (q *Queue) detachLocked(id int64, failed bool) {
	c, ok := q.consumers[id]
	if !ok {
		return
	}
	delete(q.consumers, id)
	close(c.ch)
	if failed {
		q.detached.Add(1)
	}
}
