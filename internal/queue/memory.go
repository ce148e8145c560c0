package queue

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process queue. Items survive only as long as the process.
type Memory struct {
	mu       sync.Mutex
	ready    []WorkItem
	inflight map[uint64]WorkItem
	timers   map[*time.Timer]struct{}
	nextTag  uint64
	wake     chan struct{}
	closed   bool
	done     chan struct{}
}

func NewMemory() *Memory {
	return &Memory{
		inflight: make(map[uint64]WorkItem),
		timers:   make(map[*time.Timer]struct{}),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (q *Memory) Enqueue(ctx context.Context, item WorkItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrUnavailable
	}
	q.push(item)
	return nil
}

func (q *Memory) Dequeue(ctx context.Context) (Delivery, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Delivery{}, ErrClosed
		}
		if len(q.ready) > 0 {
			item := q.ready[0]
			q.ready = q.ready[1:]
			q.nextTag++
			tag := q.nextTag
			q.inflight[tag] = item
			if len(q.ready) > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return Delivery{Item: item, token: tag}, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		case <-q.done:
			return Delivery{}, ErrClosed
		case <-q.wake:
		}
	}
}

func (q *Memory) Ack(ctx context.Context, d Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	tag, ok := d.token.(uint64)
	if !ok {
		return ErrUnknownDelivery
	}
	if _, ok := q.inflight[tag]; !ok {
		return ErrUnknownDelivery
	}
	delete(q.inflight, tag)
	return nil
}

func (q *Memory) Requeue(ctx context.Context, d Delivery, delay time.Duration) error {
	return q.release(d, delay, true)
}

func (q *Memory) Postpone(ctx context.Context, d Delivery, delay time.Duration) error {
	return q.release(d, delay, false)
}

func (q *Memory) release(d Delivery, delay time.Duration, countAttempt bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	tag, ok := d.token.(uint64)
	if !ok {
		return ErrUnknownDelivery
	}
	item, ok := q.inflight[tag]
	if !ok {
		return ErrUnknownDelivery
	}
	if q.closed {
		return ErrUnavailable
	}
	delete(q.inflight, tag)

	if countAttempt {
		item.Attempt++
	}
	if delay <= 0 {
		q.push(item)
		return nil
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, t)
		if !q.closed {
			q.push(item)
		}
	})
	q.timers[t] = struct{}{}
	return nil
}

// Redeliver returns every unacknowledged item to the ready list, the way a
// broker does when a consumer connection drops.
func (q *Memory) Redeliver() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.inflight)
	for tag, item := range q.inflight {
		delete(q.inflight, tag)
		q.push(item)
	}
	return n
}

// Len reports ready plus delayed items.
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.timers)
}

func (q *Memory) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	close(q.done)
	return nil
}

// push must be called with mu held.
func (q *Memory) push(item WorkItem) {
	q.ready = append(q.ready, item)
	q.signal()
}

func (q *Memory) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
