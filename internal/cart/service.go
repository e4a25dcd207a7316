package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/fjod/boutique/internal/domain"
	"golang.org/x/sync/singleflight"
)

var ErrInvalidOption = errors.New("product does not offer this option")

// ProductLookup is the part of the catalog the cart needs for pricing lines.
type ProductLookup interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
}

type Service struct {
	repo     Repository
	cache    Cache
	products ProductLookup
	log      *slog.Logger
	sfg      singleflight.Group // coalesces concurrent cache misses per owner
}

func NewService(repo Repository, cache Cache, products ProductLookup, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		cache:    cache,
		products: products,
		log:      log,
	}
}

// GetCart returns the owner's cart, or an empty one if none is stored.
func (s *Service) GetCart(ctx context.Context, ownerID string) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(ownerID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, ownerID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			s.log.WarnContext(ctx, "cart cache get failed", "owner_id", ownerID, "error", err)
		}

		// read before the store so a write landing in between bumps it
		version, verErr := s.cache.Version(ctx, ownerID)
		if verErr != nil {
			s.log.WarnContext(ctx, "cart cache version failed", "owner_id", ownerID, "error", verErr)
		}

		cart, err = s.repo.GetCart(ctx, ownerID)
		if errors.Is(err, ErrCartNotFound) {
			now := time.Now().UTC()
			return &domain.Cart{OwnerID: ownerID, CreatedAt: now, UpdatedAt: now}, nil
		}
		if err != nil {
			return nil, err
		}
		if verErr != nil {
			return cart, nil
		}

		setCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		stored, err := s.cache.SetIfVersion(setCtx, ownerID, version, cart)
		if err != nil {
			s.log.WarnContext(ctx, "cart cache set failed", "owner_id", ownerID, "error", err)
		} else if !stored {
			s.log.DebugContext(ctx, "cart changed during load, not cached", "owner_id", ownerID)
		}

		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	// callers sharing a singleflight result must not alias each other's lines
	shared := v.(*domain.Cart)
	cart := *shared
	cart.Lines = slices.Clone(shared.Lines)
	return &cart, nil
}

// AddLine adds product with the chosen options at quantity 1. The unit price
// comes from the catalog. Re-adding an existing key changes nothing.
func (s *Service) AddLine(ctx context.Context, ownerID string, productID int64, size, color string) (*domain.Cart, error) {
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if err := checkOption(product.Sizes, size); err != nil {
		return nil, fmt.Errorf("size %q: %w", size, err)
	}
	if err := checkOption(product.Colors, color); err != nil {
		return nil, fmt.Errorf("color %q: %w", color, err)
	}

	added, err := s.repo.AddLine(ctx, ownerID, domain.NewLine(product, size, color, time.Now().UTC()))
	if err != nil {
		s.log.ErrorContext(ctx, "cart add line failed", "owner_id", ownerID, "product_id", productID, "error", err)
		return nil, err
	}
	if added {
		s.invalidate(ownerID)
	}
	return s.GetCart(ctx, ownerID)
}

func (s *Service) UpdateQuantity(ctx context.Context, ownerID string, key domain.LineKey, quantity int) (*domain.Cart, error) {
	if err := domain.ValidateQuantity(quantity); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateQuantity(ctx, ownerID, key, quantity); err != nil {
		if !errors.Is(err, domain.ErrLineNotFound) {
			s.log.ErrorContext(ctx, "cart update quantity failed", "owner_id", ownerID, "line", key.String(), "error", err)
		}
		return nil, err
	}
	s.invalidate(ownerID)
	return s.GetCart(ctx, ownerID)
}

func (s *Service) RemoveLine(ctx context.Context, ownerID string, key domain.LineKey) (*domain.Cart, error) {
	if err := s.repo.RemoveLine(ctx, ownerID, key); err != nil {
		s.log.ErrorContext(ctx, "cart remove line failed", "owner_id", ownerID, "line", key.String(), "error", err)
		return nil, err
	}
	s.invalidate(ownerID)
	return s.GetCart(ctx, ownerID)
}

// TotalAmount sums the current lines; it never reads a stored total.
func (s *Service) TotalAmount(ctx context.Context, ownerID string) (float64, error) {
	cart, err := s.GetCart(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	return cart.TotalAmount(), nil
}

// Clear empties the owner's cart, either after its order is committed or when
// the shopper asks for it. Clearing an absent cart is not an error.
func (s *Service) Clear(ctx context.Context, ownerID string) error {
	err := s.repo.DeleteCart(ctx, ownerID)
	if err != nil && !errors.Is(err, ErrCartNotFound) {
		s.log.ErrorContext(ctx, "cart clear failed", "owner_id", ownerID, "error", err)
		return err
	}
	s.invalidate(ownerID)
	return nil
}

// ClearPaid empties the cart for an order paid at paidAt. A cart changed after
// paidAt belongs to a new shopping session and is kept.
func (s *Service) ClearPaid(ctx context.Context, ownerID string, paidAt time.Time) error {
	deleted, err := s.repo.DeleteCartIfUnchangedSince(ctx, ownerID, paidAt)
	if err != nil {
		s.log.ErrorContext(ctx, "cart clear failed", "owner_id", ownerID, "error", err)
		return err
	}
	if !deleted {
		s.log.DebugContext(ctx, "cart absent or changed after payment, kept", "owner_id", ownerID, "paid_at", paidAt)
		return nil
	}
	s.invalidate(ownerID)
	return nil
}

func (s *Service) invalidate(ownerID string) {
	s.sfg.Forget(ownerID)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, ownerID); err != nil {
		s.log.Warn("cart cache invalidate failed", "owner_id", ownerID, "error", err)
	}
}

// checkOption allows an empty choice only for products without options of that kind.
func checkOption(offered []string, chosen string) error {
	if len(offered) == 0 {
		if chosen == "" {
			return nil
		}
		return ErrInvalidOption
	}
	if !slices.Contains(offered, chosen) {
		return ErrInvalidOption
	}
	return nil
}
