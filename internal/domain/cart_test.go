package domain

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSizes  = []string{"M", "L"}
	testColors = []string{"Red", "Blue"}
)

func testProduct(id int64, price float64) *Product {
	return &Product{ID: id, Name: "product", Price: price}
}

// applyOp decodes n into one cart mutation over a small key space so that
// collisions between keys are frequent.
func applyOp(c *Cart, n int) {
	productID := int64((n/3)%3 + 1)
	size := testSizes[(n/9)%2]
	color := testColors[(n/18)%2]
	key := LineKey{ProductID: productID, Size: size, Color: color}

	switch n % 3 {
	case 0:
		c.AddLine(NewLine(testProduct(productID, float64(productID)*100), size, color, time.Now()))
	case 1:
		c.RemoveLine(key)
	case 2:
		_ = c.UpdateQuantity(key, n/36-5)
	}
}

func TestCart_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	ops := gen.SliceOf(gen.IntRange(0, 999))

	properties.Property("no two lines share a key", prop.ForAll(
		func(seq []int) bool {
			c := &Cart{}
			for _, n := range seq {
				applyOp(c, n)
			}
			seen := make(map[LineKey]bool)
			for _, l := range c.Lines {
				if seen[l.Key()] {
					return false
				}
				seen[l.Key()] = true
			}
			return true
		},
		ops,
	))

	properties.Property("quantity never drops below one", prop.ForAll(
		func(seq []int) bool {
			c := &Cart{}
			for _, n := range seq {
				applyOp(c, n)
				for _, l := range c.Lines {
					if l.Quantity < 1 || l.Quantity > MaxLineQuantity {
						return false
					}
				}
			}
			return true
		},
		ops,
	))

	properties.Property("total equals sum of price times quantity", prop.ForAll(
		func(seq []int) bool {
			c := &Cart{}
			for _, n := range seq {
				applyOp(c, n)
				want := decimal.Zero
				for i := len(c.Lines) - 1; i >= 0; i-- {
					l := c.Lines[i]
					want = want.Add(decimal.NewFromFloat(l.UnitPrice).Mul(decimal.NewFromInt(int64(l.Quantity))))
				}
				if c.TotalAmount() != want.InexactFloat64() {
					return false
				}
			}
			return true
		},
		ops,
	))

	properties.TestingRun(t)
}

func TestAddLine_IdempotentByKey(t *testing.T) {
	c := &Cart{}
	p := testProduct(1, 500)

	assert.True(t, c.AddLine(NewLine(p, "M", "Red", time.Now())))
	assert.False(t, c.AddLine(NewLine(p, "M", "Red", time.Now())))
	require.Len(t, c.Lines, 1)
	assert.Equal(t, 1, c.Lines[0].Quantity)

	// a variant of the same product is a separate line
	assert.True(t, c.AddLine(NewLine(p, "L", "Red", time.Now())))
	assert.Len(t, c.Lines, 2)
}

func TestAddLine_DoesNotBumpExistingQuantity(t *testing.T) {
	c := &Cart{}
	p := testProduct(1, 500)
	c.AddLine(NewLine(p, "M", "Red", time.Now()))
	require.NoError(t, c.UpdateQuantity(LineKey{ProductID: 1, Size: "M", Color: "Red"}, 3))

	c.AddLine(NewLine(p, "M", "Red", time.Now()))
	assert.Equal(t, 3, c.Lines[0].Quantity)
}

func TestUpdateQuantity(t *testing.T) {
	c := &Cart{}
	c.AddLine(NewLine(testProduct(1, 10), "", "", time.Now()))
	key := LineKey{ProductID: 1}

	assert.ErrorIs(t, c.UpdateQuantity(key, 0), ErrInvalidQuantity)
	assert.ErrorIs(t, c.UpdateQuantity(key, -1), ErrInvalidQuantity)
	assert.ErrorIs(t, c.UpdateQuantity(key, 100), ErrInvalidQuantity)
	assert.ErrorIs(t, c.UpdateQuantity(LineKey{ProductID: 2}, 2), ErrLineNotFound)
	assert.Equal(t, 1, c.Lines[0].Quantity)

	require.NoError(t, c.UpdateQuantity(key, 4))
	assert.Equal(t, 4, c.Lines[0].Quantity)
	assert.Equal(t, 40.0, c.TotalAmount())
}

func TestRemoveLine_AbsentIsNoop(t *testing.T) {
	c := &Cart{}
	c.AddLine(NewLine(testProduct(1, 10), "S", "Red", time.Now()))

	c.RemoveLine(LineKey{ProductID: 9})
	assert.Len(t, c.Lines, 1)

	c.RemoveLine(LineKey{ProductID: 1, Size: "S", Color: "Red"})
	assert.Empty(t, c.Lines)
}

func TestTotalAmount_Scenario(t *testing.T) {
	c := &Cart{}
	c.AddLine(NewLine(testProduct(1, 500), "", "", time.Now()))
	c.AddLine(NewLine(testProduct(2, 300), "", "", time.Now()))
	require.NoError(t, c.UpdateQuantity(LineKey{ProductID: 1}, 2))

	assert.Equal(t, 1300.0, c.TotalAmount())
	assert.Equal(t, 3, c.ItemCount())

	c.Clear()
	assert.Equal(t, 0.0, c.TotalAmount())
}

func TestTotalAmount_NoFloatDrift(t *testing.T) {
	c := &Cart{}
	c.AddLine(NewLine(testProduct(1, 0.1), "", "", time.Now()))
	c.AddLine(NewLine(testProduct(2, 0.2), "", "", time.Now()))
	require.NoError(t, c.UpdateQuantity(LineKey{ProductID: 1}, 3))

	assert.Equal(t, 0.5, c.TotalAmount())
}

func TestCheckoutLines(t *testing.T) {
	c := &Cart{}
	c.AddLine(NewLine(testProduct(7, 250), "M", "Blue", time.Now()))

	lines := c.CheckoutLines()
	require.Len(t, lines, 1)
	assert.Equal(t, CheckoutLine{ProductID: 7, Size: "M", Color: "Blue", Quantity: 1, ClaimedPrice: 250}, lines[0])
}
