package order

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoredOrder(t *testing.T, s *MemoryStore, id string) *Order {
	t.Helper()
	now := time.Now().UTC()
	o := &Order{
		ID:        id,
		Lines:     []Line{{ProductID: "espresso-blend", Quantity: 1, UnitPrice: 29000}},
		Total:     29000,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.Create(context.Background(), o))
	return o
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusProcessing))
	assert.True(t, CanTransition(StatusProcessing, StatusFulfilled))
	assert.True(t, CanTransition(StatusProcessing, StatusFailed))
	assert.True(t, CanTransition(StatusProcessing, StatusPending))

	assert.False(t, CanTransition(StatusPending, StatusFulfilled))
	assert.False(t, CanTransition(StatusFulfilled, StatusPending))
	assert.False(t, CanTransition(StatusFailed, StatusProcessing))
}

func TestMemoryStoreTransitionIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	o := newStoredOrder(t, s, "o-1")

	got, err := s.Transition(ctx, o.ID, StatusPending, StatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)

	_, err = s.Transition(ctx, o.ID, StatusPending, StatusProcessing)
	assert.ErrorIs(t, err, ErrStatusConflict)

	_, err = s.Transition(ctx, o.ID, StatusFulfilled, StatusPending)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = s.Transition(ctx, "missing", StatusPending, StatusProcessing)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	o := newStoredOrder(t, s, "o-1")

	got, err := s.Get(ctx, o.ID)
	require.NoError(t, err)
	got.Status = StatusFailed
	got.Lines[0].Quantity = 99

	again, err := s.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, again.Status)
	assert.Equal(t, 1, again.Lines[0].Quantity)
}

func TestMemoryStoreDuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a := &Order{ID: "a", Status: StatusPending, IdempotencyKey: "k"}
	b := &Order{ID: "b", Status: StatusPending, IdempotencyKey: "k"}
	require.NoError(t, s.Create(ctx, a))
	assert.ErrorIs(t, s.Create(ctx, b), ErrDuplicateKey)

	found, err := s.FindByIdempotencyKey(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "a", found.ID)
}

func TestMemoryStoreOutbox(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	o := newStoredOrder(t, s, "o-1")
	now := time.Now().UTC()

	entries, err := s.ClaimUnqueued(ctx, 10, now, time.Minute)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// Leased rows are invisible until the lease runs out.
	entries, err = s.ClaimUnqueued(ctx, 10, now, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, s.DeferOutbox(ctx, o.ID, now.Add(-time.Second)))
	entries, err = s.ClaimUnqueued(ctx, 10, now, time.Minute)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Attempts)

	require.NoError(t, s.MarkQueued(ctx, o.ID))
	got, err := s.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, got.Queued)

	require.NoError(t, s.DeferOutbox(ctx, o.ID, now.Add(-time.Second)))
	entries, err = s.ClaimUnqueued(ctx, 10, now, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, entries, "queued orders are never claimed again")

	assert.ErrorIs(t, s.MarkQueued(ctx, "missing"), ErrOutboxNotFound)
}

func TestMemoryStoreClaim(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()
	s.now = func() time.Time { return now }
	o := newStoredOrder(t, s, "o-1")

	got, err := s.Claim(ctx, o.ID, "worker-a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.Equal(t, "worker-a", got.ClaimedBy)
	assert.Equal(t, now.Add(time.Minute), got.ClaimExpiresAt)

	_, err = s.Claim(ctx, o.ID, "worker-b", time.Minute)
	assert.ErrorIs(t, err, ErrClaimHeld)

	// worker-a stops renewing; once the lease runs out worker-b takes over.
	now = now.Add(2 * time.Minute)
	got, err = s.Claim(ctx, o.ID, "worker-b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "worker-b", got.ClaimedBy)

	_, err = s.Release(ctx, o.ID, "worker-a", StatusFulfilled)
	assert.ErrorIs(t, err, ErrClaimLost)

	done, err := s.Release(ctx, o.ID, "worker-b", StatusFulfilled)
	require.NoError(t, err)
	assert.Equal(t, StatusFulfilled, done.Status)
	assert.Empty(t, done.ClaimedBy)

	_, err = s.Claim(ctx, o.ID, "worker-c", time.Minute)
	assert.ErrorIs(t, err, ErrStatusConflict)
	_, err = s.Claim(ctx, "missing", "worker-c", time.Minute)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestMemoryStoreRelease(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	o := newStoredOrder(t, s, "o-1")

	_, err := s.Release(ctx, o.ID, "worker-a", StatusFulfilled)
	assert.ErrorIs(t, err, ErrClaimLost, "a pending order has no claim to release")

	_, err = s.Claim(ctx, o.ID, "worker-a", time.Minute)
	require.NoError(t, err)

	_, err = s.Release(ctx, o.ID, "worker-a", StatusProcessing)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	back, err := s.Release(ctx, o.ID, "worker-a", StatusPending)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, back.Status)

	// Released orders are claimable again straight away.
	_, err = s.Claim(ctx, o.ID, "worker-b", time.Minute)
	assert.NoError(t, err)
}
