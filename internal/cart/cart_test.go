package cart

import (
	"testing"

	"brewstore/internal/order"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddMergesByProduct(t *testing.T) {
	var c Cart
	require.NoError(t, c.Add(Item{ProductID: "espresso-blend", Price: 29000, Quantity: 1}))
	require.NoError(t, c.Add(Item{ProductID: "arabica-cau-dat", Price: 55000, Quantity: 1}))
	require.NoError(t, c.Add(Item{ProductID: "espresso-blend", Price: 29000, Quantity: 1}))

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(113000), c.Total())
	assert.Equal(t, []order.LineRequest{
		{ProductID: "espresso-blend", Quantity: 2},
		{ProductID: "arabica-cau-dat", Quantity: 1},
	}, c.Lines())
}

func TestAddRejectsNonPositiveQuantity(t *testing.T) {
	var c Cart
	assert.ErrorIs(t, c.Add(Item{ProductID: "espresso-blend", Quantity: 0}), ErrInvalidQuantity)
	assert.ErrorIs(t, c.Add(Item{ProductID: "espresso-blend", Quantity: -2}), ErrInvalidQuantity)
	assert.Equal(t, 0, c.Len())
}

func TestDecrementRemovesAtOne(t *testing.T) {
	var c Cart
	require.NoError(t, c.Add(Item{ProductID: "phin-filter", Price: 45000, Quantity: 2}))

	assert.True(t, c.Decrement("phin-filter"))
	assert.Equal(t, 1, c.Items()[0].Quantity)

	assert.False(t, c.Decrement("phin-filter"))
	assert.Equal(t, 0, c.Len())

	assert.False(t, c.Decrement("phin-filter"))
}

func TestSetQuantityAndRemove(t *testing.T) {
	var c Cart
	require.NoError(t, c.Add(Item{ProductID: "cold-brew-kit", Price: 89000, Quantity: 1}))

	require.NoError(t, c.SetQuantity("cold-brew-kit", 3))
	assert.Equal(t, int64(267000), c.Total())
	assert.ErrorIs(t, c.SetQuantity("cold-brew-kit", 0), ErrInvalidQuantity)
	assert.Equal(t, 3, c.Items()[0].Quantity)

	c.Remove("cold-brew-kit")
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.Total())
}

func TestItemsReturnsCopy(t *testing.T) {
	var c Cart
	require.NoError(t, c.Add(Item{ProductID: "robusta-honey", Quantity: 1}))

	items := c.Items()
	items[0].Quantity = 10
	assert.Equal(t, 1, c.Items()[0].Quantity)
}

func TestQuantityLimit(t *testing.T) {
	var c Cart
	assert.ErrorIs(t, c.Add(Item{ProductID: "espresso-blend", Quantity: order.MaxLineQuantity + 1}), ErrQuantityLimit)

	require.NoError(t, c.Add(Item{ProductID: "espresso-blend", Price: 29000, Quantity: order.MaxLineQuantity - 1}))
	assert.ErrorIs(t, c.Add(Item{ProductID: "espresso-blend", Quantity: 2}), ErrQuantityLimit)
	require.NoError(t, c.Add(Item{ProductID: "espresso-blend", Quantity: 1}))
	assert.Equal(t, order.MaxLineQuantity, c.Items()[0].Quantity)

	assert.ErrorIs(t, c.SetQuantity("espresso-blend", order.MaxLineQuantity+1), ErrQuantityLimit)
	assert.Equal(t, order.MaxLineQuantity, c.Items()[0].Quantity)
}
