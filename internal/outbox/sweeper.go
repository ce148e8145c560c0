// Package outbox re-enqueues orders that were persisted while the work
// queue was unavailable.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"brewstore/internal/order"
	"brewstore/internal/queue"
)

const claimLease = 30 * time.Second

type Sweeper struct {
	store     order.Store
	queue     queue.Queue
	interval  time.Duration
	grace     time.Duration
	batchSize int
	logger    *slog.Logger
	now       func() time.Time
}

// NewSweeper only considers orders older than grace, which leaves the API
// request that created an order time to enqueue it itself.
func NewSweeper(store order.Store, q queue.Queue, interval, grace time.Duration, batch int, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		queue:     q,
		interval:  interval,
		grace:     grace,
		batchSize: batch,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	go s.loop(ctx)
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("outbox sweep failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep enqueues one batch and returns how many orders were queued.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	entries, err := s.store.ClaimUnqueued(ctx, s.batchSize, s.now().Add(-s.grace), claimLease)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, e := range entries {
		if err := s.enqueueOne(ctx, e); err != nil {
			s.logger.Warn("enqueue unqueued order failed", "order_id", e.OrderID, "attempts", e.Attempts, "err", err)
			continue
		}
		queued++
	}
	if queued > 0 {
		s.logger.Info("outbox sweep queued orders", "count", queued)
	}
	return queued, nil
}

func (s *Sweeper) enqueueOne(ctx context.Context, e order.OutboxEntry) error {
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.queue.Enqueue(pubCtx, queue.NewWorkItem(e.OrderID)); err != nil {
		return s.markFailure(ctx, e, err)
	}
	return s.store.MarkQueued(ctx, e.OrderID)
}

func (s *Sweeper) markFailure(ctx context.Context, e order.OutboxEntry, enqueueErr error) error {
	next := s.now().Add(retryDelay(e.Attempts + 1))
	if err := s.store.DeferOutbox(ctx, e.OrderID, next); err != nil {
		s.logger.Error("defer outbox entry", "order_id", e.OrderID, "err", err)
	}
	return enqueueErr
}

func retryDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 5 {
		attempts = 5
	}
	delay := time.Duration(1<<attempts) * time.Second
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}
