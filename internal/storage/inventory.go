package storage

import (
	"context"
	"errors"
	"fmt"

	"brewstore/internal/catalog"
	"brewstore/internal/order"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Inventory struct {
	pool *pgxpool.Pool
}

// Reserve decrements stock for the order in one transaction. The
// reservation row gates the decrement, so a second call for the same order
// changes nothing.
func (inv *Inventory) Reserve(ctx context.Context, orderID string, lines []order.Line) error {
	qty := make(map[string]int, len(lines))
	var products []string
	for _, l := range lines {
		if _, seen := qty[l.ProductID]; !seen {
			products = append(products, l.ProductID)
		}
		qty[l.ProductID] += l.Quantity
	}

	tx, err := inv.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, productID := range products {
		tag, err := tx.Exec(ctx, `
			INSERT INTO inventory_reservations (order_id, product_id, quantity)
			VALUES ($1, $2, $3)
			ON CONFLICT (order_id, product_id) DO NOTHING`,
			orderID, productID, qty[productID],
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23503" {
				return fmt.Errorf("%w: %s", catalog.ErrProductNotFound, productID)
			}
			return fmt.Errorf("insert reservation: %w", err)
		}
		if tag.RowsAffected() == 0 {
			continue
		}

		tag, err = tx.Exec(ctx, `
			UPDATE products
			SET stock = stock - $2, updated_at = NOW()
			WHERE id = $1 AND stock >= $2`,
			productID, qty[productID],
		)
		if err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", catalog.ErrOutOfStock, productID)
		}
	}

	return tx.Commit(ctx)
}
