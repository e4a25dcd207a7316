package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/boutique/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrDuplicatePayment = errors.New("order for this payment already exists")
)

// DuplicatePaymentError is returned by CommitOrder when an order already
// exists for the payment id. It matches ErrDuplicatePayment.
type DuplicatePaymentError struct {
	PaymentID string
	OrderID   uuid.UUID
}

func (e *DuplicatePaymentError) Error() string {
	return fmt.Sprintf("payment %s already committed as order %s", e.PaymentID, e.OrderID)
}

func (e *DuplicatePaymentError) Unwrap() error {
	return ErrDuplicatePayment
}

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

const EventTypeOrderPaid = "OrderPaid"

// OrderPaidEvent is the outbox payload published for every committed order.
type OrderPaidEvent struct {
	OrderID          string             `json:"order_id"`
	UserEmail        string             `json:"user_email"`
	CartOwnerID      string             `json:"cart_owner_id"`
	TotalAmount      float64            `json:"total_amount"`
	Currency         string             `json:"currency"`
	Items            []domain.OrderItem `json:"items"`
	GatewayPaymentID string             `json:"gateway_payment_id"`
	GatewayOrderID   string             `json:"gateway_order_id"`
	PaidAt           time.Time          `json:"paid_at"`
}

type OrderRepository interface {
	CommitOrder(ctx context.Context, order *domain.Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByPaymentID(ctx context.Context, paymentID string) (*domain.Order, error)
	ListOrdersByUserEmail(ctx context.Context, email string) ([]*domain.Order, error)
	RunMigrations(*Credentials) error
	Close() error
}
