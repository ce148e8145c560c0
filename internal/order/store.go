package order

import (
	"context"
	"time"
)

// Store is the access contract shared by the API process and the worker.
// Transition is a compare-and-set on the current status.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	Transition(ctx context.Context, id string, from, to Status) (*Order, error)

	// Claim moves a pending order, or a processing order whose claim has
	// expired, to processing under owner for lease. A live claim held by
	// anyone returns ErrClaimHeld; a terminal order ErrStatusConflict.
	Claim(ctx context.Context, id, owner string, lease time.Duration) (*Order, error)
	// Release moves a processing order claimed by owner to status to and
	// drops the claim. It returns ErrClaimLost if owner no longer holds it.
	Release(ctx context.Context, id, owner string, to Status) (*Order, error)

	MarkQueued(ctx context.Context, id string) error
	ClaimUnqueued(ctx context.Context, limit int, olderThan time.Time, lease time.Duration) ([]OutboxEntry, error)
	DeferOutbox(ctx context.Context, id string, nextRetry time.Time) error
}
