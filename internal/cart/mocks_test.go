package cart

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/boutique/internal/catalog"
	"github.com/fjod/boutique/internal/domain"
)

// memoryRepository mirrors MongoRepository semantics in memory.
type memoryRepository struct {
	mu       sync.Mutex
	carts    map[string]*domain.Cart
	getCalls int
	err      error
	afterGet func() // runs after GetCart has read, outside the lock
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{carts: make(map[string]*domain.Cart)}
}

func (m *memoryRepository) GetCart(_ context.Context, ownerID string) (*domain.Cart, error) {
	cart, hook, err := m.read(ownerID)
	if hook != nil {
		hook()
	}
	return cart, err
}

func (m *memoryRepository) read(ownerID string) (*domain.Cart, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.err != nil {
		return nil, m.afterGet, m.err
	}
	c, ok := m.carts[ownerID]
	if !ok {
		return nil, m.afterGet, ErrCartNotFound
	}
	cp := *c
	cp.Lines = append([]domain.CartLine(nil), c.Lines...)
	return &cp, m.afterGet, nil
}

func (m *memoryRepository) AddLine(_ context.Context, ownerID string, line domain.CartLine) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	c, ok := m.carts[ownerID]
	if !ok {
		c = &domain.Cart{OwnerID: ownerID, CreatedAt: time.Now()}
		m.carts[ownerID] = c
	}
	return c.AddLine(line), nil
}

func (m *memoryRepository) UpdateQuantity(_ context.Context, ownerID string, key domain.LineKey, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[ownerID]
	if !ok {
		return domain.ErrLineNotFound
	}
	return c.UpdateQuantity(key, quantity)
}

func (m *memoryRepository) RemoveLine(_ context.Context, ownerID string, key domain.LineKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.carts[ownerID]; ok {
		c.RemoveLine(key)
	}
	return nil
}

func (m *memoryRepository) DeleteCart(_ context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.carts[ownerID]; !ok {
		return ErrCartNotFound
	}
	delete(m.carts, ownerID)
	return nil
}

func (m *memoryRepository) DeleteCartIfUnchangedSince(_ context.Context, ownerID string, cutoff time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	c, ok := m.carts[ownerID]
	if !ok || c.UpdatedAt.After(cutoff) {
		return false, nil
	}
	delete(m.carts, ownerID)
	return true, nil
}

type stubProducts map[int64]*domain.Product

func (s stubProducts) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	p, ok := s[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return p, nil
}

func testProducts() stubProducts {
	return stubProducts{
		1: {ID: 1, Name: "Linen Kurta", Price: 500, Sizes: []string{"S", "M", "L"}, Colors: []string{"White", "Indigo"}},
		2: {ID: 2, Name: "Block Print Dupatta", Price: 300, Colors: []string{"Red", "Mustard"}},
		3: {ID: 3, Name: "Gift Card", Price: 1000},
	}
}
