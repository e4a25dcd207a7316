package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/boutique/internal/cart"
	"github.com/fjod/boutique/internal/catalog"
	"github.com/fjod/boutique/internal/domain"
)

type CartService interface {
	GetCart(ctx context.Context, ownerID string) (*domain.Cart, error)
	AddLine(ctx context.Context, ownerID string, productID int64, size, color string) (*domain.Cart, error)
	UpdateQuantity(ctx context.Context, ownerID string, key domain.LineKey, quantity int) (*domain.Cart, error)
	RemoveLine(ctx context.Context, ownerID string, key domain.LineKey) (*domain.Cart, error)
	Clear(ctx context.Context, ownerID string) error
}

type CartHandler struct {
	carts   CartService
	timeout time.Duration
}

func NewCartHandler(carts CartService, timeout time.Duration) *CartHandler {
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
	}
}

type AddLineRequestDTO struct {
	ProductID int64  `json:"product_id"`
	Size      string `json:"size"`
	Color     string `json:"color"`
}

type UpdateQuantityRequestDTO struct {
	ProductID int64  `json:"product_id"`
	Size      string `json:"size"`
	Color     string `json:"color"`
	Quantity  int    `json:"quantity"`
}

type CartResponseDTO struct {
	OwnerID     string            `json:"owner_id"`
	Lines       []domain.CartLine `json:"lines"`
	ItemCount   int               `json:"item_count"`
	TotalAmount float64           `json:"total_amount"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	c, err := h.carts.GetCart(ctx, user.ID)
	if err != nil {
		handleCartError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(c))
}

// POST /api/v1/cart/lines
func (h *CartHandler) AddLine(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req AddLineRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}

	c, err := h.carts.AddLine(ctx, user.ID, req.ProductID, req.Size, req.Color)
	if err != nil {
		handleCartError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toCartResponse(c))
}

// PUT /api/v1/cart/lines
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}

	key := domain.LineKey{ProductID: req.ProductID, Size: req.Size, Color: req.Color}
	c, err := h.carts.UpdateQuantity(ctx, user.ID, key, req.Quantity)
	if err != nil {
		handleCartError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(c))
}

// DELETE /api/v1/cart/lines?product_id=1&size=M&color=Red
func (h *CartHandler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	productID, err := strconv.ParseInt(q.Get("product_id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return
	}

	key := domain.LineKey{ProductID: productID, Size: q.Get("size"), Color: q.Get("color")}
	c, err := h.carts.RemoveLine(ctx, user.ID, key)
	if err != nil {
		handleCartError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(c))
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	if err := h.carts.Clear(ctx, user.ID); err != nil {
		handleCartError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toCartResponse(c *domain.Cart) CartResponseDTO {
	lines := c.Lines
	if lines == nil {
		lines = []domain.CartLine{}
	}
	return CartResponseDTO{
		OwnerID:     c.OwnerID,
		Lines:       lines,
		ItemCount:   c.ItemCount(),
		TotalAmount: c.TotalAmount(),
		UpdatedAt:   c.UpdatedAt,
	}
}

func handleCartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.Is(err, cart.ErrInvalidOption):
		respondError(w, http.StatusBadRequest, "invalid_option", err.Error())
	case errors.Is(err, catalog.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "product_not_found", err.Error())
	case errors.Is(err, domain.ErrLineNotFound):
		respondError(w, http.StatusNotFound, "line_not_found", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
