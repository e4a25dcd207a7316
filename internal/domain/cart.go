package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const MaxLineQuantity = 99

var (
	ErrInvalidQuantity = errors.New("quantity must be between 1 and 99")
	ErrLineNotFound    = errors.New("line not found in cart")
)

// LineKey identifies a cart line. Two lines never share a key.
type LineKey struct {
	ProductID int64  `bson:"product_id" json:"product_id"`
	Size      string `bson:"size" json:"size"`
	Color     string `bson:"color" json:"color"`
}

func (k LineKey) String() string {
	return fmt.Sprintf("%d|%s|%s", k.ProductID, k.Size, k.Color)
}

type CartLine struct {
	ProductID   int64     `bson:"product_id" json:"product_id"`
	ProductName string    `bson:"product_name" json:"product_name"`
	UnitPrice   float64   `bson:"unit_price" json:"unit_price"`
	Size        string    `bson:"size" json:"size"`
	Color       string    `bson:"color" json:"color"`
	Quantity    int       `bson:"quantity" json:"quantity"`
	AddedAt     time.Time `bson:"added_at" json:"added_at"`
}

func (l CartLine) Key() LineKey {
	return LineKey{ProductID: l.ProductID, Size: l.Size, Color: l.Color}
}

type Cart struct {
	OwnerID   string     `bson:"owner_id" json:"owner_id"`
	Lines     []CartLine `bson:"lines" json:"lines"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updated_at"`
}

// NewLine builds a quantity-1 line priced from the catalog product.
func NewLine(p *Product, size, color string, now time.Time) CartLine {
	return CartLine{
		ProductID:   p.ID,
		ProductName: p.Name,
		UnitPrice:   p.Price,
		Size:        size,
		Color:       color,
		Quantity:    1,
		AddedAt:     now,
	}
}

func (c *Cart) indexOf(key LineKey) int {
	for i := range c.Lines {
		if c.Lines[i].Key() == key {
			return i
		}
	}
	return -1
}

// AddLine appends line unless a line with the same key is already present.
// It reports whether the cart changed.
func (c *Cart) AddLine(line CartLine) bool {
	if c.indexOf(line.Key()) >= 0 {
		return false
	}
	line.Quantity = 1
	c.Lines = append(c.Lines, line)
	c.UpdatedAt = line.AddedAt
	return true
}

func (c *Cart) UpdateQuantity(key LineKey, quantity int) error {
	if err := ValidateQuantity(quantity); err != nil {
		return err
	}
	i := c.indexOf(key)
	if i < 0 {
		return ErrLineNotFound
	}
	c.Lines[i].Quantity = quantity
	c.UpdatedAt = time.Now()
	return nil
}

// RemoveLine deletes the line with key. Absent keys are ignored.
func (c *Cart) RemoveLine(key LineKey) {
	i := c.indexOf(key)
	if i < 0 {
		return
	}
	c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
	c.UpdatedAt = time.Now()
}

// TotalAmount is recomputed from the current lines on every call. It sums in
// decimal so it agrees with the checkout total for the same lines.
func (c *Cart) TotalAmount() float64 {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(decimal.NewFromFloat(l.UnitPrice).Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total.InexactFloat64()
}

func (c *Cart) Clear() {
	c.Lines = nil
	c.UpdatedAt = time.Now()
}

func (c *Cart) ItemCount() int {
	n := 0
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}

// CheckoutLines converts the cart into the unpriced form sent to checkout.
func (c *Cart) CheckoutLines() []CheckoutLine {
	lines := make([]CheckoutLine, 0, len(c.Lines))
	for _, l := range c.Lines {
		lines = append(lines, CheckoutLine{
			ProductID:    l.ProductID,
			Size:         l.Size,
			Color:        l.Color,
			Quantity:     l.Quantity,
			ClaimedPrice: l.UnitPrice,
		})
	}
	return lines
}

func ValidateQuantity(quantity int) error {
	if quantity < 1 || quantity > MaxLineQuantity {
		return ErrInvalidQuantity
	}
	return nil
}
