package http

import (
	"context"
	"net/http"

	"github.com/fjod/boutique/internal/checkout"
	"github.com/fjod/boutique/internal/domain"
	"github.com/fjod/boutique/internal/orders"
	"github.com/fjod/boutique/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

var shopper = session.Identity{ID: "42", Email: "asha@example.com", Role: "customer"}

func withUser(r *http.Request) *http.Request {
	return r.WithContext(session.WithIdentity(r.Context(), shopper))
}

func withOrderID(r *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("order_id", id)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

type CheckoutMock struct {
	intent *domain.PaymentIntent
	result *checkout.CallbackResult
	err    error

	lastIntent   checkout.IntentRequest
	lastCallback domain.PaymentCallback
	lastUser     session.Identity
}

func (m *CheckoutMock) CreateIntent(_ context.Context, req checkout.IntentRequest) (*domain.PaymentIntent, error) {
	m.lastIntent = req
	if m.err != nil {
		return nil, m.err
	}
	return m.intent, nil
}

func (m *CheckoutMock) HandlePaymentCallback(_ context.Context, user session.Identity, cb domain.PaymentCallback) (*checkout.CallbackResult, error) {
	m.lastUser = user
	m.lastCallback = cb
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

type CartMock struct {
	cart *domain.Cart
	err  error

	cleared []string
	lastKey domain.LineKey
	lastQty int
}

func (m *CartMock) GetCart(_ context.Context, ownerID string) (*domain.Cart, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.cart, nil
}

func (m *CartMock) AddLine(_ context.Context, ownerID string, productID int64, size, color string) (*domain.Cart, error) {
	m.lastKey = domain.LineKey{ProductID: productID, Size: size, Color: color}
	if m.err != nil {
		return nil, m.err
	}
	return m.cart, nil
}

func (m *CartMock) UpdateQuantity(_ context.Context, ownerID string, key domain.LineKey, quantity int) (*domain.Cart, error) {
	m.lastKey = key
	m.lastQty = quantity
	if m.err != nil {
		return nil, m.err
	}
	return m.cart, nil
}

func (m *CartMock) RemoveLine(_ context.Context, ownerID string, key domain.LineKey) (*domain.Cart, error) {
	m.lastKey = key
	if m.err != nil {
		return nil, m.err
	}
	return m.cart, nil
}

func (m *CartMock) Clear(_ context.Context, ownerID string) error {
	if m.err != nil {
		return m.err
	}
	m.cleared = append(m.cleared, ownerID)
	return nil
}

type OrdersMock struct {
	order  *domain.Order
	orders []*domain.Order
	err    error

	lastEmail string
}

func (m *OrdersMock) GetOrderByID(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.order == nil || m.order.ID != id {
		return nil, orders.ErrOrderNotFound
	}
	return m.order, nil
}

func (m *OrdersMock) ListOrdersByUserEmail(_ context.Context, email string) ([]*domain.Order, error) {
	m.lastEmail = email
	if m.err != nil {
		return nil, m.err
	}
	return m.orders, nil
}
