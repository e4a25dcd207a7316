package cart

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/boutique/internal/domain"
)

var ErrCartNotFound = errors.New("cart not found")

// Repository is the durable cart store. Implementations must make AddLine
// atomic per key: two concurrent adds of the same key leave one line.
type Repository interface {
	GetCart(ctx context.Context, ownerID string) (*domain.Cart, error)
	// AddLine reports whether a new line was inserted.
	AddLine(ctx context.Context, ownerID string, line domain.CartLine) (bool, error)
	UpdateQuantity(ctx context.Context, ownerID string, key domain.LineKey, quantity int) error
	RemoveLine(ctx context.Context, ownerID string, key domain.LineKey) error
	DeleteCart(ctx context.Context, ownerID string) error
	// DeleteCartIfUnchangedSince deletes the cart only if it was last updated
	// at or before cutoff, and reports whether it did.
	DeleteCartIfUnchangedSince(ctx context.Context, ownerID string, cutoff time.Time) (bool, error)
}
