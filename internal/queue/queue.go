// Package queue carries "new order" work items from the API process to the
// order worker. Backends deliver each item to exactly one consumer at a time
// and may redeliver after a consumer crash.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable means the backend could not accept the item.
	ErrUnavailable     = errors.New("work queue unavailable")
	ErrClosed          = errors.New("work queue closed")
	ErrUnknownDelivery = errors.New("unknown delivery")
)

type WorkItem struct {
	OrderID    string    `json:"order_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Delivery is a dequeued item that has to be acked or requeued.
type Delivery struct {
	Item  WorkItem
	token any
}

type Queue interface {
	Enqueue(ctx context.Context, item WorkItem) error
	// Dequeue blocks until an item is available or ctx is done.
	Dequeue(ctx context.Context) (Delivery, error)
	Ack(ctx context.Context, d Delivery) error
	// Requeue makes the item visible again after delay with Attempt+1.
	Requeue(ctx context.Context, d Delivery, delay time.Duration) error
	// Postpone makes the item visible again after delay without counting an
	// attempt.
	Postpone(ctx context.Context, d Delivery, delay time.Duration) error
	Close() error
}

func NewWorkItem(orderID string) WorkItem {
	return WorkItem{OrderID: orderID, EnqueuedAt: time.Now().UTC()}
}
