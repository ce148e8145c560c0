package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Payments is the ledger of confirmed payments, one row per order.
type Payments struct {
	pool *pgxpool.Pool
}

func (p *Payments) Confirmed(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM payments WHERE order_id = $1)`,
		orderID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("select payment: %w", err)
	}
	return exists, nil
}

func (p *Payments) Record(ctx context.Context, orderID string, amount int64, reference string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO payments (order_id, amount, reference, confirmed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (order_id) DO NOTHING`,
		orderID, amount, reference,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}
