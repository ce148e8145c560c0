// Package cart models the shopper's cart. Quantities never drop below one;
// an item that would is removed instead.
package cart

import (
	"errors"
	"fmt"

	"brewstore/internal/order"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrQuantityLimit   = fmt.Errorf("quantity must not exceed %d", order.MaxLineQuantity)
)

type Item struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Image     string `json:"image,omitempty"`
	Quantity  int    `json:"quantity"`
}

// Cart keeps items in the order they were first added.
type Cart struct {
	items []Item
}

func (c *Cart) Add(item Item) error {
	if item.Quantity < 1 {
		return ErrInvalidQuantity
	}
	if item.Quantity > order.MaxLineQuantity {
		return ErrQuantityLimit
	}
	if i := c.index(item.ProductID); i >= 0 {
		if c.items[i].Quantity > order.MaxLineQuantity-item.Quantity {
			return ErrQuantityLimit
		}
		c.items[i].Quantity += item.Quantity
		return nil
	}
	c.items = append(c.items, item)
	return nil
}

func (c *Cart) SetQuantity(productID string, qty int) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	if qty > order.MaxLineQuantity {
		return ErrQuantityLimit
	}
	if i := c.index(productID); i >= 0 {
		c.items[i].Quantity = qty
	}
	return nil
}

// Decrement lowers the quantity by one and reports whether the item is
// still in the cart.
func (c *Cart) Decrement(productID string) bool {
	i := c.index(productID)
	if i < 0 {
		return false
	}
	if c.items[i].Quantity <= 1 {
		c.items = append(c.items[:i], c.items[i+1:]...)
		return false
	}
	c.items[i].Quantity--
	return true
}

func (c *Cart) Remove(productID string) {
	if i := c.index(productID); i >= 0 {
		c.items = append(c.items[:i], c.items[i+1:]...)
	}
}

func (c *Cart) Items() []Item {
	return append([]Item(nil), c.items...)
}

func (c *Cart) Len() int { return len(c.items) }

func (c *Cart) Total() int64 {
	var total int64
	for _, it := range c.items {
		total += it.Price * int64(it.Quantity)
	}
	return total
}

// Lines converts the cart into an order request. Prices are resolved again
// from the catalog when the order is placed.
func (c *Cart) Lines() []order.LineRequest {
	out := make([]order.LineRequest, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, order.LineRequest{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return out
}

func (c *Cart) index(productID string) int {
	for i, it := range c.items {
		if it.ProductID == productID {
			return i
		}
	}
	return -1
}
