// Package worker consumes work items and drives orders from pending to a
// terminal status. It is the only place that retries fulfillment.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"brewstore/internal/fulfillment"
	"brewstore/internal/order"
	"brewstore/internal/queue"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var ErrRetriesExhausted = errors.New("retries exhausted")

type Outcome string

const (
	OutcomeFulfilled Outcome = "fulfilled"
	OutcomeRetried   Outcome = "retried"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeMissing   Outcome = "missing"
	// OutcomePostponed puts the item back while another worker holds the order.
	OutcomePostponed Outcome = "postponed"
	// OutcomeAbandoned leaves the delivery unacknowledged for redelivery.
	OutcomeAbandoned Outcome = "abandoned"
)

type Fulfiller interface {
	Fulfill(ctx context.Context, o *order.Order) error
}

type Config struct {
	Concurrency    int
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCeiling time.Duration
	// ClaimLease bounds how long one delivery may hold an order in
	// processing. Fulfillment is cancelled when it runs out.
	ClaimLease time.Duration
	// DequeueRetry is the pause after the queue backend fails.
	DequeueRetry time.Duration
}

type Worker struct {
	cfg       Config
	queue     queue.Queue
	orders    order.Store
	fulfiller Fulfiller
	events    Events
	metrics   *Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
}

func New(cfg Config, q queue.Queue, orders order.Store, f Fulfiller, events Events, metrics *Metrics, logger *slog.Logger) *Worker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 2 * time.Minute
	}
	if cfg.DequeueRetry <= 0 {
		cfg.DequeueRetry = time.Second
	}
	return &Worker{
		cfg:       cfg,
		queue:     q,
		orders:    orders,
		fulfiller: f,
		events:    events,
		metrics:   metrics,
		logger:    logger,
		tracer:    otel.Tracer("brewstore/worker"),
	}
}

// Run blocks until ctx is done or the queue is closed.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("order worker started", "concurrency", w.cfg.Concurrency, "max_attempts", w.cfg.MaxAttempts)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			return w.consume(ctx)
		})
	}
	return g.Wait()
}

func (w *Worker) consume(ctx context.Context) error {
	for {
		d, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return nil
			}
			w.logger.Warn("dequeue failed", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.cfg.DequeueRetry):
			}
			continue
		}
		w.Handle(ctx, d)
	}
}

// Handle processes one delivery. It never returns an error: every outcome
// ends in an ack, a requeue, a postpone while another worker holds the
// order, or an abandoned delivery on shutdown.
func (w *Worker) Handle(ctx context.Context, d queue.Delivery) Outcome {
	start := time.Now()
	ctx, span := w.tracer.Start(ctx, "order.fulfill", trace.WithAttributes(
		attribute.String("order.id", d.Item.OrderID),
		attribute.Int("attempt", d.Item.Attempt),
	))
	defer span.End()

	outcome := w.handle(ctx, d)
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	w.metrics.observe(outcome, time.Since(start))
	return outcome
}

func (w *Worker) handle(ctx context.Context, d queue.Delivery) Outcome {
	item := d.Item
	log := w.logger.With("order_id", item.OrderID, "attempt", item.Attempt)

	o, err := w.orders.Get(ctx, item.OrderID)
	if errors.Is(err, order.ErrOrderNotFound) {
		log.Warn("work item for unknown order")
		w.ack(ctx, d, log)
		return OutcomeMissing
	}
	if err != nil {
		log.Error("load order", "err", err)
		return w.requeue(ctx, d, log)
	}

	if o.Status.Terminal() {
		log.Info("order already terminal, skipping", "status", o.Status)
		w.ack(ctx, d, log)
		return OutcomeSkipped
	}

	owner := uuid.NewString()
	claimed, err := w.orders.Claim(ctx, o.ID, owner, w.cfg.ClaimLease)
	switch {
	case errors.Is(err, order.ErrClaimHeld):
		log.Info("order held by another worker, postponing")
		return w.postpone(ctx, d, log)
	case errors.Is(err, order.ErrStatusConflict):
		log.Info("order finished elsewhere, skipping")
		w.ack(ctx, d, log)
		return OutcomeSkipped
	case err != nil:
		log.Error("claim order", "err", err)
		return w.requeue(ctx, d, log)
	}
	if o.Status == order.StatusProcessing {
		log.Warn("taking over expired claim", "previous_owner", o.ClaimedBy)
	}
	o = claimed
	w.emit(ctx, o, item.Attempt, "", log)

	fctx, cancel := context.WithTimeout(ctx, w.cfg.ClaimLease)
	err = w.fulfiller.Fulfill(fctx, o)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			log.Warn("fulfillment interrupted", "err", err)
			w.abandon(ctx, o, owner, item.Attempt, log)
			return OutcomeAbandoned
		}
		return w.fail(ctx, d, o, owner, err, log)
	}

	done, err := w.orders.Release(ctx, o.ID, owner, order.StatusFulfilled)
	if errors.Is(err, order.ErrClaimLost) {
		log.Warn("claim lost during fulfillment", "err", err)
		w.ack(ctx, d, log)
		return OutcomeSkipped
	}
	if err != nil {
		// Side effects are idempotent, so the next delivery can finish the job
		// once the claim expires.
		log.Error("mark order fulfilled", "err", err)
		return w.requeue(ctx, d, log)
	}

	w.emit(ctx, done, item.Attempt, "", log)
	w.ack(ctx, d, log)
	log.Info("order fulfilled")
	return OutcomeFulfilled
}

func (w *Worker) fail(ctx context.Context, d queue.Delivery, o *order.Order, owner string, cause error, log *slog.Logger) Outcome {
	attempt := d.Item.Attempt + 1

	if attempt < w.cfg.MaxAttempts && !fulfillment.IsPermanent(cause) {
		delay := Backoff(attempt, w.cfg.BackoffBase, w.cfg.BackoffCeiling)
		back, err := w.orders.Release(ctx, o.ID, owner, order.StatusPending)
		if errors.Is(err, order.ErrClaimLost) {
			log.Warn("claim lost during fulfillment", "err", err)
			w.ack(ctx, d, log)
			return OutcomeSkipped
		}
		if err != nil {
			log.Error("release order", "err", err)
		} else {
			w.emit(ctx, back, attempt, cause.Error(), log)
		}
		if err := w.queue.Requeue(ctx, d, delay); err != nil {
			log.Error("requeue work item", "err", err)
		}
		log.Warn("fulfillment failed, retrying", "delay", delay, "err", cause)
		return OutcomeRetried
	}

	exhausted := fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, cause)
	failed, err := w.orders.Release(ctx, o.ID, owner, order.StatusFailed)
	if errors.Is(err, order.ErrClaimLost) {
		log.Warn("claim lost during fulfillment", "err", err)
		w.ack(ctx, d, log)
		return OutcomeSkipped
	}
	if err != nil {
		log.Error("mark order failed", "err", err)
		return w.requeue(ctx, d, log)
	}

	w.emit(ctx, failed, attempt, cause.Error(), log)
	w.ack(ctx, d, log)
	log.Error("order failed, manual follow-up required", "permanent", fulfillment.IsPermanent(cause), "err", exhausted)
	return OutcomeFailed
}

// abandon hands the order back to pending so the redelivered item can claim
// it without waiting for the lease. The delivery itself stays unacked.
func (w *Worker) abandon(ctx context.Context, o *order.Order, owner string, attempt int, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	back, err := w.orders.Release(ctx, o.ID, owner, order.StatusPending)
	if err != nil {
		log.Warn("release abandoned order", "err", err)
		return
	}
	w.emit(ctx, back, attempt, "interrupted", log)
}

// requeue retries a delivery that failed for infrastructure reasons. The
// order itself is left as it is.
func (w *Worker) requeue(ctx context.Context, d queue.Delivery, log *slog.Logger) Outcome {
	delay := Backoff(d.Item.Attempt+1, w.cfg.BackoffBase, w.cfg.BackoffCeiling)
	if err := w.queue.Requeue(ctx, d, delay); err != nil {
		log.Error("requeue work item", "err", err)
		return OutcomeAbandoned
	}
	return OutcomeRetried
}

// postpone puts the item back unchanged. The holder either finishes the order
// or its claim expires before the item comes round again.
func (w *Worker) postpone(ctx context.Context, d queue.Delivery, log *slog.Logger) Outcome {
	if err := w.queue.Postpone(ctx, d, w.cfg.BackoffCeiling); err != nil {
		log.Error("postpone work item", "err", err)
		return OutcomeAbandoned
	}
	return OutcomePostponed
}

func (w *Worker) ack(ctx context.Context, d queue.Delivery, log *slog.Logger) {
	if err := w.queue.Ack(ctx, d); err != nil {
		log.Error("ack work item", "err", err)
	}
}

func (w *Worker) emit(ctx context.Context, o *order.Order, attempt int, reason string, log *slog.Logger) {
	if w.events == nil {
		return
	}
	if err := w.events.StatusChanged(ctx, statusEvent(o, attempt, reason)); err != nil {
		log.Warn("publish status event", "status", o.Status, "err", err)
	}
}
