package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"brewstore/internal/order"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Orders implements order.Store.
type Orders struct {
	pool *pgxpool.Pool
}

var _ order.Store = (*Orders)(nil)

func (s *Orders) Create(ctx context.Context, o *order.Order) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, total, status, queued, customer_email, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, FALSE, $4, NULLIF($5, ''), $6, $7)`,
		o.ID, o.Total, o.Status, o.CustomerEmail, o.IdempotencyKey, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "orders_idempotency_key_key" {
			return order.ErrDuplicateKey
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, l := range o.Lines {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_lines (order_id, line_no, product_id, name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			o.ID, i, l.ProductID, l.Name, l.Quantity, l.UnitPrice,
		)
		if err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_outbox (order_id, next_retry, created_at, updated_at)
		VALUES ($1, $2, $2, $2)`,
		o.ID, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Orders) Get(ctx context.Context, id string) (*order.Order, error) {
	return s.getWhere(ctx, `o.id = $1`, id)
}

func (s *Orders) FindByIdempotencyKey(ctx context.Context, key string) (*order.Order, error) {
	return s.getWhere(ctx, `o.idempotency_key = $1`, key)
}

func (s *Orders) getWhere(ctx context.Context, cond string, arg string) (*order.Order, error) {
	var o order.Order
	var claimExpires *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT o.id::text, o.total, o.status, o.queued, o.customer_email,
		       COALESCE(o.idempotency_key, ''), o.created_at, o.updated_at,
		       COALESCE(o.claimed_by, ''), o.claim_expires_at
		FROM orders o
		WHERE `+cond, arg,
	).Scan(&o.ID, &o.Total, &o.Status, &o.Queued, &o.CustomerEmail, &o.IdempotencyKey, &o.CreatedAt, &o.UpdatedAt,
		&o.ClaimedBy, &claimExpires)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if claimExpires != nil {
		o.ClaimExpiresAt = *claimExpires
	}

	rows, err := s.pool.Query(ctx, `
		SELECT product_id, name, quantity, unit_price
		FROM order_lines
		WHERE order_id = $1
		ORDER BY line_no`, o.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l order.Line
		if err := rows.Scan(&l.ProductID, &l.Name, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, err
		}
		o.Lines = append(o.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Orders) Transition(ctx context.Context, id string, from, to order.Status) (*order.Order, error) {
	if !order.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", order.ErrInvalidTransition, from, to)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET status = $3, updated_at = NOW(), claimed_by = NULL, claim_expires_at = NULL
		WHERE id = $1 AND status = $2`,
		id, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current order.Status
		err := s.pool.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("select order status: %w", err)
		}
		return nil, fmt.Errorf("%w: expected %s, found %s", order.ErrStatusConflict, from, current)
	}

	return s.Get(ctx, id)
}

// Claim relies on the row lock taken by UPDATE, so two workers racing for
// the same order serialize and only one sees its row affected.
func (s *Orders) Claim(ctx context.Context, id, owner string, lease time.Duration) (*order.Order, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET status = 'processing',
		    claimed_by = $2,
		    claim_expires_at = NOW() + make_interval(secs => $3),
		    updated_at = NOW()
		WHERE id = $1
		  AND (status = 'pending'
		       OR (status = 'processing' AND (claim_expires_at IS NULL OR claim_expires_at <= NOW())))`,
		id, owner, lease.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("claim order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current order.Status
		var holder string
		err := s.pool.QueryRow(ctx, `
			SELECT status, COALESCE(claimed_by, '')
			FROM orders
			WHERE id = $1`, id,
		).Scan(&current, &holder)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("select order claim: %w", err)
		}
		if current == order.StatusProcessing {
			return nil, fmt.Errorf("%w: %s", order.ErrClaimHeld, holder)
		}
		return nil, fmt.Errorf("%w: expected pending, found %s", order.ErrStatusConflict, current)
	}

	return s.Get(ctx, id)
}

func (s *Orders) Release(ctx context.Context, id, owner string, to order.Status) (*order.Order, error) {
	if !order.CanTransition(order.StatusProcessing, to) {
		return nil, fmt.Errorf("%w: %s -> %s", order.ErrInvalidTransition, order.StatusProcessing, to)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET status = $3, updated_at = NOW(), claimed_by = NULL, claim_expires_at = NULL
		WHERE id = $1 AND status = 'processing' AND claimed_by = $2`,
		id, owner, to,
	)
	if err != nil {
		return nil, fmt.Errorf("release order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, fmt.Errorf("select order: %w", err)
		}
		if !exists {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("%w: %s", order.ErrClaimLost, id)
	}

	return s.Get(ctx, id)
}

func (s *Orders) MarkQueued(ctx context.Context, id string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE order_outbox
		SET status = 'sent', updated_at = NOW()
		WHERE order_id = $1`, id)
	if err != nil {
		return fmt.Errorf("update outbox: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrOutboxNotFound
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET queued = TRUE WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark order queued: %w", err)
	}
	return tx.Commit(ctx)
}

// ClaimUnqueued leases a batch of pending outbox rows so concurrent API
// instances do not enqueue the same order at once.
func (s *Orders) ClaimUnqueued(ctx context.Context, limit int, olderThan time.Time, lease time.Duration) ([]order.OutboxEntry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT order_id::text, attempts, created_at
		FROM order_outbox
		WHERE status = 'pending' AND next_retry <= NOW() AND created_at <= $2
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit, olderThan)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}

	var items []order.OutboxEntry
	for rows.Next() {
		var e order.OutboxEntry
		if err := rows.Scan(&e.OrderID, &e.Attempts, &e.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		items = append(items, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	releaseAt := time.Now().Add(lease)
	for _, e := range items {
		if _, err := tx.Exec(ctx, `
			UPDATE order_outbox
			SET next_retry = $2, updated_at = NOW()
			WHERE order_id = $1`, e.OrderID, releaseAt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Orders) DeferOutbox(ctx context.Context, id string, nextRetry time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE order_outbox
		SET attempts = attempts + 1,
		    next_retry = $2,
		    updated_at = NOW()
		WHERE order_id = $1`, id, nextRetry)
	if err != nil {
		return fmt.Errorf("update retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrOutboxNotFound
	}
	return nil
}
