package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fjod/boutique/internal/catalog"
	"github.com/fjod/boutique/internal/domain"
	"github.com/fjod/boutique/internal/gateway"
	"github.com/fjod/boutique/internal/metrics"
	"github.com/fjod/boutique/internal/orders"
	"github.com/fjod/boutique/internal/session"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

type Pricer interface {
	Price(ctx context.Context, lines []domain.CheckoutLine) (*domain.CartSnapshot, error)
	Currency() string
}

// Gateway creates orders and reads back what was paid against them.
type Gateway interface {
	gateway.OrderCreator
	gateway.OrderFetcher
}

type OrderStore interface {
	CommitOrder(ctx context.Context, order *domain.Order) error
	GetOrderByPaymentID(ctx context.Context, paymentID string) (*domain.Order, error)
}

type CartClearer interface {
	Clear(ctx context.Context, ownerID string) error
}

type IntentRequest struct {
	// ClientAmount is what the storefront believes the total is, in minor
	// units. It is only compared against the recomputed amount.
	ClientAmount int64
	Currency     string
	Lines        []domain.CheckoutLine
}

type CallbackResult struct {
	OrderID   uuid.UUID
	Duplicate bool
}

type Service struct {
	pricer        Pricer
	gateway       Gateway
	orders        OrderStore
	carts         CartClearer
	queue         ReconciliationQueue
	gatewaySecret string
	metrics       *metrics.Metrics
	log           *slog.Logger
	now           func() time.Time

	callbacks singleflight.Group // keyed by gateway payment id
}

type Deps struct {
	Pricer        Pricer
	Gateway       Gateway
	Orders        OrderStore
	Carts         CartClearer
	Queue         ReconciliationQueue
	GatewaySecret string
	Metrics       *metrics.Metrics
	Log           *slog.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		pricer:        d.Pricer,
		gateway:       d.Gateway,
		orders:        d.Orders,
		carts:         d.Carts,
		queue:         d.Queue,
		gatewaySecret: d.GatewaySecret,
		metrics:       d.Metrics,
		log:           d.Log,
		now:           time.Now,
	}
}

// CreateIntent prices the lines from the catalog and reserves that amount with
// the gateway. Nothing is stored locally.
func (s *Service) CreateIntent(ctx context.Context, req IntentRequest) (*domain.PaymentIntent, error) {
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = s.pricer.Currency()
	}
	if currency != s.pricer.Currency() {
		s.metrics.IntentFailures.WithLabelValues("malformed").Inc()
		return nil, malformed("unsupported currency %q", req.Currency)
	}

	snapshot, err := s.pricer.Price(ctx, req.Lines)
	if err != nil {
		if isInvalidCart(err) {
			s.metrics.IntentFailures.WithLabelValues("malformed").Inc()
			return nil, &Error{Kind: KindMalformed, Err: err}
		}
		s.metrics.IntentFailures.WithLabelValues("catalog").Inc()
		return nil, &Error{Kind: KindIntentCreation, Err: err}
	}

	amount := catalog.ToMinorUnits(snapshot.TotalAmount)
	if amount <= 0 {
		s.metrics.IntentFailures.WithLabelValues("malformed").Inc()
		return nil, malformed("cart total must be positive")
	}
	if req.ClientAmount != 0 && req.ClientAmount != amount {
		s.log.WarnContext(ctx, "client amount differs from catalog total, using catalog total",
			"client_amount", req.ClientAmount, "amount", amount, "currency", currency)
	}

	now := s.now().UTC()
	receipt := fmt.Sprintf("receipt_%d", now.UnixMilli())

	resp, err := s.gateway.CreateOrder(ctx, gateway.OrderRequest{
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
	})
	if err != nil {
		s.metrics.IntentFailures.WithLabelValues("gateway").Inc()
		s.log.ErrorContext(ctx, "gateway order creation failed", "receipt", receipt, "amount", amount, "error", err)
		return nil, &Error{Kind: KindIntentCreation, Err: err}
	}

	s.metrics.IntentsCreated.Inc()
	s.log.InfoContext(ctx, "payment intent created", "gateway_order_id", resp.ID, "amount", amount, "receipt", receipt)

	return &domain.PaymentIntent{
		GatewayOrderID: resp.ID,
		Amount:         snapshot.TotalAmount,
		Currency:       currency,
		Receipt:        receipt,
		CreatedAt:      now,
	}, nil
}

// HandlePaymentCallback verifies the gateway signature and commits exactly one
// order per payment id. A repeated callback returns the existing order with
// Duplicate set and no error.
func (s *Service) HandlePaymentCallback(ctx context.Context, user session.Identity, cb domain.PaymentCallback) (*CallbackResult, error) {
	return s.handleCallback(ctx, user, cb, 0)
}

func (s *Service) handleCallback(ctx context.Context, user session.Identity, cb domain.PaymentCallback, attempt int) (*CallbackResult, error) {
	if err := validateCallback(user, cb); err != nil {
		s.metrics.Callbacks.WithLabelValues(metrics.ResultMalformed).Inc()
		return nil, err
	}

	if !gateway.VerifySignature(s.gatewaySecret, cb.GatewayOrderID, cb.GatewayPaymentID, cb.GatewaySignature) {
		s.metrics.Callbacks.WithLabelValues(metrics.ResultSignatureInvalid).Inc()
		s.log.WarnContext(ctx, "security event: payment signature mismatch",
			"event", "signature_invalid",
			"gateway_order_id", cb.GatewayOrderID,
			"gateway_payment_id", cb.GatewayPaymentID,
			"user_id", user.ID)
		return nil, &Error{Kind: KindSignatureInvalid, GatewayOrderID: cb.GatewayOrderID, GatewayPaymentID: cb.GatewayPaymentID}
	}

	// concurrent callbacks for one payment share a single commit
	v, err, _ := s.callbacks.Do(cb.GatewayPaymentID, func() (interface{}, error) {
		return s.commit(context.WithoutCancel(ctx), user, cb, attempt)
	})
	if err != nil {
		return nil, err
	}

	res := *v.(*CallbackResult)
	if res.Duplicate {
		s.metrics.Callbacks.WithLabelValues(metrics.ResultDuplicate).Inc()
	}
	return &res, nil
}

func (s *Service) commit(ctx context.Context, user session.Identity, cb domain.PaymentCallback, attempt int) (*CallbackResult, error) {
	existing, err := s.orders.GetOrderByPaymentID(ctx, cb.GatewayPaymentID)
	switch {
	case err == nil:
		s.log.InfoContext(ctx, "duplicate payment callback", "gateway_payment_id", cb.GatewayPaymentID, "order_id", existing.ID)
		return &CallbackResult{OrderID: existing.ID, Duplicate: true}, nil
	case !errors.Is(err, orders.ErrOrderNotFound):
		// the unique constraint still arbitrates
		s.log.WarnContext(ctx, "existing order lookup failed", "gateway_payment_id", cb.GatewayPaymentID, "error", err)
	}

	start := s.now()
	order, err := s.buildOrder(ctx, user, cb)
	if err == nil {
		err = s.checkPaidAmount(ctx, cb, order)
		if KindOf(err) == KindAmountMismatch {
			return nil, err
		}
	}
	if err == nil {
		err = s.orders.CommitOrder(ctx, order)
	}
	s.metrics.CommitDuration.Observe(s.now().Sub(start).Seconds())

	var dup *orders.DuplicatePaymentError
	if errors.As(err, &dup) {
		s.log.InfoContext(ctx, "payment already committed", "gateway_payment_id", cb.GatewayPaymentID, "order_id", dup.OrderID)
		return &CallbackResult{OrderID: dup.OrderID, Duplicate: true}, nil
	}
	if err != nil {
		return nil, s.persistenceFailure(ctx, user, cb, attempt, err)
	}

	s.metrics.Callbacks.WithLabelValues(metrics.ResultCommitted).Inc()
	s.log.InfoContext(ctx, "order committed",
		"order_id", order.ID,
		"gateway_payment_id", cb.GatewayPaymentID,
		"gateway_order_id", cb.GatewayOrderID,
		"total_amount", order.TotalAmount)

	if err := s.carts.Clear(ctx, user.ID); err != nil {
		// the OrderPaid consumer clears it again
		s.log.WarnContext(ctx, "cart clear after commit failed", "order_id", order.ID, "owner_id", user.ID, "error", err)
	}

	return &CallbackResult{OrderID: order.ID}, nil
}

// buildOrder reprices the lines from the catalog. Client prices never reach the order.
func (s *Service) buildOrder(ctx context.Context, user session.Identity, cb domain.PaymentCallback) (*domain.Order, error) {
	snapshot, err := s.pricer.Price(ctx, cb.Lines)
	if err != nil {
		return nil, fmt.Errorf("reprice cart: %w", err)
	}

	items := make([]domain.OrderItem, 0, len(snapshot.Items))
	for _, it := range snapshot.Items {
		items = append(items, domain.OrderItem{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Size:        it.Size,
			Color:       it.Color,
			Quantity:    it.Quantity,
			Price:       it.UnitPrice,
		})
	}

	return &domain.Order{
		ID:               uuid.New(),
		UserEmail:        user.Email,
		TotalAmount:      snapshot.TotalAmount,
		Currency:         snapshot.Currency,
		Status:           domain.OrderStatusPaid,
		Delivery:         cb.Delivery,
		GatewayPaymentID: cb.GatewayPaymentID,
		GatewayOrderID:   cb.GatewayOrderID,
		GatewaySignature: cb.GatewaySignature,
		Items:            items,
		CreatedAt:        s.now().UTC(),
		CartOwnerID:      user.ID,
	}, nil
}

// checkPaidAmount compares the repriced order against the gateway's record of
// the order the payment was made for. The signature only binds the payment to
// the gateway order id, so the client-supplied lines must add up to what was paid.
// Lookup failures are returned unclassified and end up in reconciliation.
func (s *Service) checkPaidAmount(ctx context.Context, cb domain.PaymentCallback, order *domain.Order) error {
	gw, err := s.gateway.GetOrder(ctx, cb.GatewayOrderID)
	if err != nil {
		return fmt.Errorf("fetch gateway order: %w", err)
	}

	// amount_paid stays 0 until capture; an authorized payment covers the order amount
	paid := gw.AmountPaid
	if paid == 0 {
		paid = gw.Amount
	}
	expected := catalog.ToMinorUnits(order.TotalAmount)
	if paid == expected && strings.EqualFold(gw.Currency, order.Currency) {
		return nil
	}

	s.metrics.Callbacks.WithLabelValues(metrics.ResultAmountMismatch).Inc()
	s.log.ErrorContext(ctx, "security event: paid amount does not match cart total, manual refund review required",
		"event", "amount_mismatch",
		"gateway_order_id", cb.GatewayOrderID,
		"gateway_payment_id", cb.GatewayPaymentID,
		"paid", paid,
		"paid_currency", gw.Currency,
		"cart_total", expected,
		"currency", order.Currency)
	return &Error{
		Kind:             KindAmountMismatch,
		GatewayOrderID:   cb.GatewayOrderID,
		GatewayPaymentID: cb.GatewayPaymentID,
		Err:              fmt.Errorf("paid %d %s, cart totals %d %s", paid, gw.Currency, expected, order.Currency),
	}
}

func (s *Service) persistenceFailure(ctx context.Context, user session.Identity, cb domain.PaymentCallback, attempt int, cause error) error {
	s.metrics.Callbacks.WithLabelValues(metrics.ResultPersistenceError).Inc()
	s.log.ErrorContext(ctx, "PAYMENT CAPTURED BUT ORDER NOT PERSISTED",
		"gateway_payment_id", cb.GatewayPaymentID,
		"gateway_order_id", cb.GatewayOrderID,
		"user_id", user.ID,
		"user_email", user.Email,
		"attempt", attempt,
		"error", cause)

	s.enqueueReconciliation(ctx, newReconciliationRequest(user, cb, attempt+1, cause, s.now().UTC()))

	return &Error{
		Kind:             KindOrderPersistence,
		GatewayOrderID:   cb.GatewayOrderID,
		GatewayPaymentID: cb.GatewayPaymentID,
		Err:              cause,
	}
}

func (s *Service) enqueueReconciliation(ctx context.Context, req ReconciliationRequest) {
	if req.Attempt > MaxReplayAttempts {
		s.metrics.ReconciliationQueue.WithLabelValues("exhausted").Inc()
		s.log.ErrorContext(ctx, "reconciliation attempts exhausted, manual action required",
			"gateway_payment_id", req.GatewayPaymentID,
			"gateway_order_id", req.GatewayOrderID,
			"attempts", req.Attempt-1)
		return
	}
	if err := s.queue.Enqueue(ctx, req); err != nil {
		s.metrics.ReconciliationQueue.WithLabelValues("enqueue_failed").Inc()
		s.log.ErrorContext(ctx, "reconciliation enqueue failed, manual action required",
			"gateway_payment_id", req.GatewayPaymentID,
			"gateway_order_id", req.GatewayOrderID,
			"error", err)
		return
	}
	s.metrics.ReconciliationQueue.WithLabelValues("enqueued").Inc()
}

func validateCallback(user session.Identity, cb domain.PaymentCallback) error {
	var missing []string
	if cb.GatewayPaymentID == "" {
		missing = append(missing, "payment id")
	}
	if cb.GatewayOrderID == "" {
		missing = append(missing, "order id")
	}
	if cb.GatewaySignature == "" {
		missing = append(missing, "signature")
	}
	if strings.TrimSpace(cb.Delivery.Address) == "" {
		missing = append(missing, "delivery address")
	}
	if len(cb.Lines) == 0 {
		missing = append(missing, "cart items")
	}
	if user.ID == "" || user.Email == "" {
		missing = append(missing, "user")
	}
	if len(missing) > 0 {
		return &Error{
			Kind:             KindMalformed,
			GatewayOrderID:   cb.GatewayOrderID,
			GatewayPaymentID: cb.GatewayPaymentID,
			Err:              fmt.Errorf("missing %s", strings.Join(missing, ", ")),
		}
	}
	for _, l := range cb.Lines {
		if l.ProductID <= 0 {
			return malformed("invalid product id %d", l.ProductID)
		}
		if err := domain.ValidateQuantity(l.Quantity); err != nil {
			return malformed("product %d: %v", l.ProductID, err)
		}
	}
	return nil
}

func isInvalidCart(err error) bool {
	return errors.Is(err, catalog.ErrEmptyCart) ||
		errors.Is(err, catalog.ErrInvalidLine) ||
		errors.Is(err, catalog.ErrProductNotFound)
}
