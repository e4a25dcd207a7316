package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/boutique/internal/catalog"
	"github.com/fjod/boutique/internal/checkout"
	"github.com/fjod/boutique/internal/domain"
	"github.com/fjod/boutique/internal/session"
)

type CheckoutService interface {
	CreateIntent(ctx context.Context, req checkout.IntentRequest) (*domain.PaymentIntent, error)
	HandlePaymentCallback(ctx context.Context, user session.Identity, cb domain.PaymentCallback) (*checkout.CallbackResult, error)
}

type CheckoutHandler struct {
	checkout CheckoutService
	timeout  time.Duration
	log      *slog.Logger
}

func NewCheckoutHandler(svc CheckoutService, timeout time.Duration, log *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: svc,
		timeout:  timeout,
		log:      log,
	}
}

// CartItemDTO is a line as the storefront sends it. Price is the client's
// belief and is never charged.
type CartItemDTO struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name,omitempty"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
	Size     string  `json:"size,omitempty"`
	Color    string  `json:"color,omitempty"`
}

type UserDetailsDTO struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	AlternatePhone string `json:"alternatePhone,omitempty"`
	Address        string `json:"address"`
	City           string `json:"city"`
	Country        string `json:"country"`
	Pincode        string `json:"pincode"`
	Landmark       string `json:"landmark,omitempty"`
}

type CreateOrderRequestDTO struct {
	Amount      int64           `json:"amount"`
	Currency    string          `json:"currency,omitempty"`
	CartItems   []CartItemDTO   `json:"cartItems"`
	UserDetails *UserDetailsDTO `json:"userDetails"`
}

type CreateOrderResponseDTO struct {
	Success         bool   `json:"success"`
	RazorpayOrderID string `json:"razorpayOrderId,omitempty"`
	Amount          int64  `json:"amount,omitempty"`
	Currency        string `json:"currency,omitempty"`
	Message         string `json:"message,omitempty"`
}

type PaymentSuccessRequestDTO struct {
	RazorpayPaymentID string          `json:"razorpay_payment_id"`
	RazorpayOrderID   string          `json:"razorpay_order_id"`
	RazorpaySignature string          `json:"razorpay_signature"`
	UserDetails       *UserDetailsDTO `json:"userDetails"`
	CartItems         []CartItemDTO   `json:"cartItems"`
}

type PaymentSuccessResponseDTO struct {
	Success   bool   `json:"success"`
	OrderID   string `json:"orderId,omitempty"`
	PaymentID string `json:"paymentId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// POST /create-order
func (h *CheckoutHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if _, ok := requireIdentity(w, r); !ok {
		return
	}

	var req CreateOrderRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, CreateOrderResponseDTO{Message: "Invalid JSON in request body"})
		return
	}

	intent, err := h.checkout.CreateIntent(ctx, checkout.IntentRequest{
		ClientAmount: req.Amount,
		Currency:     req.Currency,
		Lines:        toCheckoutLines(req.CartItems),
	})
	if err != nil {
		status, msg := h.checkoutErrorStatus(ctx, err)
		respondJSON(w, status, CreateOrderResponseDTO{Message: msg})
		return
	}

	respondJSON(w, http.StatusOK, CreateOrderResponseDTO{
		Success:         true,
		RazorpayOrderID: intent.GatewayOrderID,
		Amount:          catalog.ToMinorUnits(intent.Amount),
		Currency:        intent.Currency,
	})
}

// POST /payment-success
func (h *CheckoutHandler) PaymentSuccess(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req PaymentSuccessRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, PaymentSuccessResponseDTO{Message: "Invalid JSON in request body"})
		return
	}
	if req.UserDetails == nil {
		respondJSON(w, http.StatusBadRequest, PaymentSuccessResponseDTO{Message: "Missing required fields in request body"})
		return
	}

	res, err := h.checkout.HandlePaymentCallback(ctx, user, domain.PaymentCallback{
		GatewayPaymentID: req.RazorpayPaymentID,
		GatewayOrderID:   req.RazorpayOrderID,
		GatewaySignature: req.RazorpaySignature,
		Delivery:         req.UserDetails.toDelivery(),
		Lines:            toCheckoutLines(req.CartItems),
	})
	if err != nil {
		status, msg := h.checkoutErrorStatus(ctx, err)
		resp := PaymentSuccessResponseDTO{Message: msg}
		switch checkout.KindOf(err) {
		case checkout.KindOrderPersistence, checkout.KindAmountMismatch:
			// the shopper quotes this to support
			resp.PaymentID = req.RazorpayPaymentID
		}
		respondJSON(w, status, resp)
		return
	}

	resp := PaymentSuccessResponseDTO{Success: true, OrderID: res.OrderID.String()}
	if res.Duplicate {
		resp.Message = checkout.ErrDuplicateCallback.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *CheckoutHandler) checkoutErrorStatus(ctx context.Context, err error) (int, string) {
	switch checkout.KindOf(err) {
	case checkout.KindMalformed:
		return http.StatusBadRequest, err.Error()
	case checkout.KindSignatureInvalid:
		return http.StatusBadRequest, "Signature mismatch"
	case checkout.KindAmountMismatch:
		return http.StatusBadRequest, checkout.ErrAmountMismatch.Error()
	case checkout.KindIntentCreation:
		return http.StatusInternalServerError, "Order creation failed"
	case checkout.KindOrderPersistence:
		return http.StatusInternalServerError, checkout.ErrOrderPersistence.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "request timed out"
	}
	h.log.ErrorContext(ctx, "unclassified checkout error", "error", err)
	return http.StatusInternalServerError, "internal server error"
}

func toCheckoutLines(items []CartItemDTO) []domain.CheckoutLine {
	lines := make([]domain.CheckoutLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, domain.CheckoutLine{
			ProductID:    it.ID,
			Size:         it.Size,
			Color:        it.Color,
			Quantity:     it.Quantity,
			ClaimedPrice: it.Price,
		})
	}
	return lines
}

func (u *UserDetailsDTO) toDelivery() domain.DeliveryDetails {
	return domain.DeliveryDetails{
		Name:           u.Name,
		Email:          u.Email,
		Phone:          u.Phone,
		AlternatePhone: u.AlternatePhone,
		Address:        u.Address,
		City:           u.City,
		Country:        u.Country,
		Pincode:        u.Pincode,
		Landmark:       u.Landmark,
	}
}
