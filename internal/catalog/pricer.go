package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/boutique/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrEmptyCart   = errors.New("cart is empty, nothing to checkout")
	ErrInvalidLine = errors.New("invalid cart line")
)

// ProductSource is the part of the catalog the pricer needs.
type ProductSource interface {
	GetProducts(ctx context.Context, ids []int64) (map[int64]*domain.Product, error)
}

// Pricer recomputes cart totals from catalog prices. Prices claimed by the
// client are ignored.
type Pricer struct {
	products ProductSource
	currency string
	now      func() time.Time
}

func NewPricer(products ProductSource, currency string) *Pricer {
	return &Pricer{
		products: products,
		currency: currency,
		now:      time.Now,
	}
}

func (p *Pricer) Currency() string {
	return p.currency
}

// Price builds a snapshot of lines with authoritative unit prices.
// Unknown products yield ErrProductNotFound.
func (p *Pricer) Price(ctx context.Context, lines []domain.CheckoutLine) (*domain.CartSnapshot, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	ids := make([]int64, 0, len(lines))
	seen := make(map[int64]bool, len(lines))
	for _, l := range lines {
		if l.ProductID <= 0 {
			return nil, fmt.Errorf("%w: product id %d", ErrInvalidLine, l.ProductID)
		}
		if err := domain.ValidateQuantity(l.Quantity); err != nil {
			return nil, fmt.Errorf("%w: product %d: %v", ErrInvalidLine, l.ProductID, err)
		}
		if !seen[l.ProductID] {
			seen[l.ProductID] = true
			ids = append(ids, l.ProductID)
		}
	}

	products, err := p.products.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	snapshot := &domain.CartSnapshot{
		Items:      make([]domain.CartSnapshotItem, 0, len(lines)),
		Currency:   p.currency,
		CapturedAt: p.now(),
	}

	total := decimal.Zero
	for _, l := range lines {
		product, ok := products[l.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrProductNotFound, l.ProductID)
		}

		price := decimal.NewFromFloat(product.Price)
		subtotal := price.Mul(decimal.NewFromInt(int64(l.Quantity)))
		total = total.Add(subtotal)

		snapshot.Items = append(snapshot.Items, domain.CartSnapshotItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Size:        l.Size,
			Color:       l.Color,
			Quantity:    l.Quantity,
			UnitPrice:   product.Price,
			Subtotal:    subtotal.Round(2).InexactFloat64(),
		})
	}
	snapshot.TotalAmount = total.Round(2).InexactFloat64()

	return snapshot, nil
}

// ToMinorUnits converts an amount to the smallest currency unit (paise, cents).
func ToMinorUnits(amount float64) int64 {
	return decimal.NewFromFloat(amount).Shift(2).Round(0).IntPart()
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(amount int64) float64 {
	return decimal.New(amount, -2).InexactFloat64()
}
