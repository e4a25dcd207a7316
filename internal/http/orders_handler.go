package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/boutique/internal/domain"
	"github.com/fjod/boutique/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type OrderReader interface {
	GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListOrdersByUserEmail(ctx context.Context, email string) ([]*domain.Order, error)
}

type OrdersHandler struct {
	orders  OrderReader
	timeout time.Duration
}

func NewOrdersHandler(orders OrderReader, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{
		orders:  orders,
		timeout: timeout,
	}
}

type OrderItemDTO struct {
	ProductID   int64   `json:"product_id"`
	ProductName string  `json:"product_name"`
	Size        string  `json:"size,omitempty"`
	Color       string  `json:"color,omitempty"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
}

type OrderResponseDTO struct {
	ID               string                 `json:"id"`
	TotalAmount      float64                `json:"total_amount"`
	Currency         string                 `json:"currency"`
	Status           string                 `json:"status"`
	Delivery         domain.DeliveryDetails `json:"delivery"`
	GatewayPaymentID string                 `json:"razorpay_payment_id"`
	GatewayOrderID   string                 `json:"razorpay_order_id"`
	Items            []OrderItemDTO         `json:"items"`
	CreatedAt        string                 `json:"created_at"`
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	list, err := h.orders.ListOrdersByUserEmail(ctx, user.Email)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	dtos := make([]OrderResponseDTO, 0, len(list))
	for _, o := range list {
		dtos = append(dtos, convertOrder(o))
	}
	respondJSON(w, http.StatusOK, dtos)
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "order_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id must be a UUID")
		return
	}

	o, err := h.orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, orders.ErrOrderNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "order not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	// other users' orders look absent
	if !strings.EqualFold(o.UserEmail, user.Email) {
		respondError(w, http.StatusNotFound, "not_found", "order not found")
		return
	}

	respondJSON(w, http.StatusOK, convertOrder(o))
}

func convertOrder(o *domain.Order) OrderResponseDTO {
	items := make([]OrderItemDTO, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemDTO{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Size:        it.Size,
			Color:       it.Color,
			Quantity:    it.Quantity,
			Price:       it.Price,
		})
	}

	return OrderResponseDTO{
		ID:               o.ID.String(),
		TotalAmount:      o.TotalAmount,
		Currency:         o.Currency,
		Status:           o.Status.String(),
		Delivery:         o.Delivery,
		GatewayPaymentID: o.GatewayPaymentID,
		GatewayOrderID:   o.GatewayOrderID,
		Items:            items,
		CreatedAt:        o.CreatedAt.Format(time.RFC3339),
	}
}
