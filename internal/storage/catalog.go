package storage

import (
	"context"
	"errors"
	"fmt"

	"brewstore/internal/catalog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Products struct {
	pool *pgxpool.Pool
}

var _ catalog.Catalog = (*Products)(nil)

func (p *Products) Get(ctx context.Context, id string) (catalog.Product, error) {
	var prod catalog.Product
	err := p.pool.QueryRow(ctx, `
		SELECT id, name, price, image, stock
		FROM products
		WHERE id = $1`, id,
	).Scan(&prod.ID, &prod.Name, &prod.Price, &prod.Image, &prod.Stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Product{}, catalog.ErrProductNotFound
		}
		return catalog.Product{}, fmt.Errorf("get product: %w", err)
	}
	return prod, nil
}

func (p *Products) List(ctx context.Context) ([]catalog.Product, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name, price, image, stock
		FROM products
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var result []catalog.Product
	for rows.Next() {
		var prod catalog.Product
		if err := rows.Scan(&prod.ID, &prod.Name, &prod.Price, &prod.Image, &prod.Stock); err != nil {
			return nil, err
		}
		result = append(result, prod)
	}
	return result, rows.Err()
}
