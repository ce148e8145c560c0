package order

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type outboxRow struct {
	entry     OutboxEntry
	nextRetry time.Time
	sent      bool
}

// MemoryStore keeps orders in process memory. It backs tests and
// single-process runs.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*Order
	keys   map[string]string
	outbox map[string]*outboxRow
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*Order),
		keys:   make(map[string]string),
		outbox: make(map[string]*outboxRow),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.ID]; exists {
		return fmt.Errorf("insert order %s: already exists", o.ID)
	}
	if o.IdempotencyKey != "" {
		if _, used := s.keys[o.IdempotencyKey]; used {
			return ErrDuplicateKey
		}
		s.keys[o.IdempotencyKey] = o.ID
	}

	s.orders[o.ID] = clone(o)
	s.outbox[o.ID] = &outboxRow{
		entry:     OutboxEntry{OrderID: o.ID, CreatedAt: o.CreatedAt},
		nextRetry: o.CreatedAt,
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return clone(o), nil
}

func (s *MemoryStore) FindByIdempotencyKey(ctx context.Context, key string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.keys[key]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return clone(s.orders[id]), nil
}

func (s *MemoryStore) Transition(ctx context.Context, id string, from, to Status) (*Order, error) {
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.Status != from {
		return nil, fmt.Errorf("%w: expected %s, found %s", ErrStatusConflict, from, o.Status)
	}
	o.Status = to
	o.UpdatedAt = s.now()
	o.ClaimedBy, o.ClaimExpiresAt = "", time.Time{}
	return clone(o), nil
}

func (s *MemoryStore) Claim(ctx context.Context, id, owner string, lease time.Duration) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	now := s.now()
	switch o.Status {
	case StatusPending:
	case StatusProcessing:
		if o.ClaimExpiresAt.After(now) {
			return nil, fmt.Errorf("%w: %s until %s", ErrClaimHeld, o.ClaimedBy, o.ClaimExpiresAt.Format(time.RFC3339))
		}
	default:
		return nil, fmt.Errorf("%w: expected pending, found %s", ErrStatusConflict, o.Status)
	}

	o.Status = StatusProcessing
	o.ClaimedBy = owner
	o.ClaimExpiresAt = now.Add(lease)
	o.UpdatedAt = now
	return clone(o), nil
}

func (s *MemoryStore) Release(ctx context.Context, id, owner string, to Status) (*Order, error) {
	if !CanTransition(StatusProcessing, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, StatusProcessing, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.Status != StatusProcessing || o.ClaimedBy != owner {
		return nil, fmt.Errorf("%w: status %s, claimed by %q", ErrClaimLost, o.Status, o.ClaimedBy)
	}
	o.Status = to
	o.UpdatedAt = s.now()
	o.ClaimedBy, o.ClaimExpiresAt = "", time.Time{}
	return clone(o), nil
}

func (s *MemoryStore) MarkQueued(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.outbox[id]
	if !ok {
		return ErrOutboxNotFound
	}
	row.sent = true
	if o, ok := s.orders[id]; ok {
		o.Queued = true
	}
	return nil
}

func (s *MemoryStore) ClaimUnqueued(ctx context.Context, limit int, olderThan time.Time, lease time.Duration) ([]OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var claimed []*outboxRow
	for _, row := range s.outbox {
		if row.sent || row.entry.CreatedAt.After(olderThan) || row.nextRetry.After(now) {
			continue
		}
		claimed = append(claimed, row)
	}
	sort.Slice(claimed, func(i, j int) bool {
		return claimed[i].entry.CreatedAt.Before(claimed[j].entry.CreatedAt)
	})
	if limit > 0 && len(claimed) > limit {
		claimed = claimed[:limit]
	}

	out := make([]OutboxEntry, 0, len(claimed))
	for _, row := range claimed {
		row.nextRetry = now.Add(lease)
		out = append(out, row.entry)
	}
	return out, nil
}

func (s *MemoryStore) DeferOutbox(ctx context.Context, id string, nextRetry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.outbox[id]
	if !ok {
		return ErrOutboxNotFound
	}
	row.entry.Attempts++
	row.nextRetry = nextRetry
	return nil
}

func clone(o *Order) *Order {
	c := *o
	c.Lines = append([]Line(nil), o.Lines...)
	return &c
}
