package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"brewstore/internal/catalog"
	"brewstore/internal/queue"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type LineRequest struct {
	ProductID string
	Quantity  int
}

type PlaceRequest struct {
	Lines          []LineRequest
	CustomerEmail  string
	IdempotencyKey string
}

// Placer is the order-creation path of the API process. It persists the
// order, hands a WorkItem to the queue and returns without waiting for
// fulfillment.
type Placer struct {
	store   Store
	catalog catalog.Catalog
	queue   queue.Queue
	logger  *slog.Logger
	now     func() time.Time
}

func NewPlacer(store Store, products catalog.Catalog, q queue.Queue, logger *slog.Logger) *Placer {
	return &Placer{
		store:   store,
		catalog: products,
		queue:   q,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Place returns the stored order and whether it is a replay of an earlier
// request with the same idempotency key. When the queue is unavailable the
// order is still returned, pending with Queued=false; the outbox sweeper
// enqueues it later.
func (p *Placer) Place(ctx context.Context, req PlaceRequest) (*Order, bool, error) {
	ctx, span := otel.Tracer("brewstore/order").Start(ctx, "order.place")
	defer span.End()

	lines, err := p.resolve(ctx, req.Lines)
	if err != nil {
		return nil, false, err
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		existing, err := p.store.FindByIdempotencyKey(ctx, key)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return nil, false, fmt.Errorf("lookup idempotency key: %w", err)
		}
	}

	now := p.now()
	o := &Order{
		ID:             uuid.New().String(),
		Lines:          lines,
		Total:          Total(lines),
		Status:         StatusPending,
		CustomerEmail:  strings.TrimSpace(req.CustomerEmail),
		IdempotencyKey: key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := p.store.Create(ctx, o); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			existing, lookupErr := p.store.FindByIdempotencyKey(ctx, key)
			if lookupErr != nil {
				return nil, false, fmt.Errorf("lookup idempotency key: %w", lookupErr)
			}
			return existing, true, nil
		}
		return nil, false, fmt.Errorf("persist order: %w", err)
	}
	span.SetAttributes(attribute.String("order.id", o.ID))

	if err := p.queue.Enqueue(ctx, queue.WorkItem{OrderID: o.ID, EnqueuedAt: now}); err != nil {
		p.logger.Warn("order left unqueued", "order_id", o.ID, "err", err)
		return o, false, nil
	}
	if err := p.store.MarkQueued(ctx, o.ID); err != nil {
		// The sweeper may enqueue this order a second time; the worker's
		// claim keeps the duplicate from running side effects.
		p.logger.Error("mark order queued", "order_id", o.ID, "err", err)
	}
	o.Queued = true
	return o, false, nil
}

func (p *Placer) resolve(ctx context.Context, reqs []LineRequest) ([]Line, error) {
	if len(reqs) == 0 {
		return nil, &ValidationError{Field: "items", Reason: "must not be empty"}
	}

	lines := make([]Line, 0, len(reqs))
	for i, r := range reqs {
		if strings.TrimSpace(r.ProductID) == "" {
			return nil, &ValidationError{Field: fmt.Sprintf("items[%d].product_id", i), Reason: "is required"}
		}
		if r.Quantity <= 0 {
			return nil, &ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: "must be positive"}
		}
		if r.Quantity > MaxLineQuantity {
			return nil, &ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: fmt.Sprintf("must not exceed %d", MaxLineQuantity)}
		}

		product, err := p.catalog.Get(ctx, r.ProductID)
		if err != nil {
			if errors.Is(err, catalog.ErrProductNotFound) {
				return nil, &ValidationError{Field: fmt.Sprintf("items[%d].product_id", i), Reason: "unknown product " + r.ProductID}
			}
			return nil, fmt.Errorf("lookup product %s: %w", r.ProductID, err)
		}

		lines = append(lines, Line{
			ProductID: product.ID,
			Name:      product.Name,
			Quantity:  r.Quantity,
			UnitPrice: product.Price,
		})
	}
	return lines, nil
}
