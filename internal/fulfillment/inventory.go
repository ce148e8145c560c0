package fulfillment

import (
	"context"
	"errors"

	"brewstore/internal/catalog"
	"brewstore/internal/order"
)

// Inventory decrements stock for every line of an order at most once.
type Inventory interface {
	Reserve(ctx context.Context, orderID string, lines []order.Line) error
}

type InventoryStep struct {
	inventory Inventory
}

func NewInventoryStep(inv Inventory) *InventoryStep {
	return &InventoryStep{inventory: inv}
}

func (s *InventoryStep) Name() string { return "inventory" }

func (s *InventoryStep) Run(ctx context.Context, o *order.Order) error {
	err := s.inventory.Reserve(ctx, o.ID, o.Lines)
	if errors.Is(err, catalog.ErrOutOfStock) || errors.Is(err, catalog.ErrProductNotFound) {
		return Permanent(err)
	}
	return err
}
