package checkout

import (
	"context"
	"sync"

	"github.com/fjod/boutique/internal/catalog"
	"github.com/fjod/boutique/internal/domain"
	"github.com/fjod/boutique/internal/gateway"
	"github.com/fjod/boutique/internal/metrics"
	"github.com/fjod/boutique/internal/orders"
	"github.com/fjod/boutique/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
)

const testSecret = "rzp_test_secret"

// MockGateway implements Gateway for testing. GetOrder reports PaidAmount as
// the order amount, and as captured unless Uncaptured is set.
type MockGateway struct {
	mu         sync.Mutex
	Requests   []gateway.OrderRequest
	Err        error
	PaidAmount int64
	Currency   string
	Uncaptured bool
	LookupErr  error
	Lookups    int
}

func (m *MockGateway) CreateOrder(_ context.Context, req gateway.OrderRequest) (*gateway.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, m.Err
	}
	return &gateway.OrderResponse{ID: "order_test123", Amount: req.Amount, Currency: req.Currency, Receipt: req.Receipt, Status: "created"}, nil
}

func (m *MockGateway) GetOrder(_ context.Context, id string) (*gateway.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Lookups++
	if m.LookupErr != nil {
		return nil, m.LookupErr
	}
	resp := &gateway.OrderResponse{ID: id, Amount: m.PaidAmount, AmountPaid: m.PaidAmount, Currency: m.Currency, Status: "paid"}
	if m.Uncaptured {
		resp.AmountPaid = 0
		resp.Status = "attempted"
	}
	return resp, nil
}

// MockOrderStore enforces the same one-order-per-payment rule as the
// postgres repository.
type MockOrderStore struct {
	mu        sync.Mutex
	Orders    map[string]*domain.Order
	CommitErr error
	LookupErr error
	Commits   int
}

func NewMockOrderStore() *MockOrderStore {
	return &MockOrderStore{Orders: make(map[string]*domain.Order)}
}

func (m *MockOrderStore) CommitOrder(_ context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Commits++
	if m.CommitErr != nil {
		return m.CommitErr
	}
	if existing, ok := m.Orders[order.GatewayPaymentID]; ok {
		return &orders.DuplicatePaymentError{PaymentID: order.GatewayPaymentID, OrderID: existing.ID}
	}
	m.Orders[order.GatewayPaymentID] = order
	return nil
}

func (m *MockOrderStore) GetOrderByPaymentID(_ context.Context, paymentID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LookupErr != nil {
		return nil, m.LookupErr
	}
	o, ok := m.Orders[paymentID]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return o, nil
}

func (m *MockOrderStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Orders)
}

type MockCarts struct {
	mu      sync.Mutex
	Cleared []string
	Err     error
}

func (m *MockCarts) Clear(_ context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Cleared = append(m.Cleared, ownerID)
	return nil
}

type MockQueue struct {
	mu       sync.Mutex
	Requests []ReconciliationRequest
	Err      error
}

func (m *MockQueue) Enqueue(_ context.Context, req ReconciliationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Requests = append(m.Requests, req)
	return nil
}

type stubCatalog map[int64]*domain.Product

func (s stubCatalog) GetProducts(_ context.Context, ids []int64) (map[int64]*domain.Product, error) {
	out := make(map[int64]*domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type testEnv struct {
	svc     *Service
	gateway *MockGateway
	orders  *MockOrderStore
	carts   *MockCarts
	queue   *MockQueue
	metrics *metrics.Metrics
}

func newTestEnv() *testEnv {
	products := stubCatalog{
		1: {ID: 1, Name: "Linen Kurta", Price: 500},
		2: {ID: 2, Name: "Block Print Dupatta", Price: 300},
	}
	env := &testEnv{
		// 2 x 500 + 300 INR in paise
		gateway: &MockGateway{PaidAmount: 130000, Currency: "INR"},
		orders:  NewMockOrderStore(),
		carts:   &MockCarts{},
		queue:   &MockQueue{},
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	env.svc = NewService(Deps{
		Pricer:        catalog.NewPricer(products, "INR"),
		Gateway:       env.gateway,
		Orders:        env.orders,
		Carts:         env.carts,
		Queue:         env.queue,
		GatewaySecret: testSecret,
		Metrics:       env.metrics,
		Log:           logger.Discard(),
	})
	return env
}
