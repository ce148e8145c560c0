package worker

import (
	"context"
	"time"

	"brewstore/internal/order"
	"brewstore/pkg/contracts"
	"brewstore/pkg/messaging"

	"github.com/google/uuid"
)

// Events receives every status change the worker makes, including the
// operator-facing failure of an order that ran out of retries.
type Events interface {
	StatusChanged(ctx context.Context, evt contracts.OrderStatusChanged) error
}

type BusEvents struct {
	publisher messaging.Publisher
}

func NewBusEvents(p messaging.Publisher) *BusEvents {
	return &BusEvents{publisher: p}
}

func (b *BusEvents) StatusChanged(ctx context.Context, evt contracts.OrderStatusChanged) error {
	return messaging.PublishJSON(ctx, b.publisher, contracts.EventOrderStatusChanged, evt)
}

func statusEvent(o *order.Order, attempt int, reason string) contracts.OrderStatusChanged {
	return contracts.OrderStatusChanged{
		EventID:   uuid.New().String(),
		OrderID:   o.ID,
		Status:    string(o.Status),
		Attempt:   attempt,
		Reason:    reason,
		ChangedAt: time.Now().UTC(),
	}
}
