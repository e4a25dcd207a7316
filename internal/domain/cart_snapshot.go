package domain

import "time"

// CheckoutLine is a cart line as asserted by the client. ClaimedPrice is never
// charged or persisted.
type CheckoutLine struct {
	ProductID    int64
	Size         string
	Color        string
	Quantity     int
	ClaimedPrice float64
}

type CartSnapshotItem struct {
	ProductID   int64   `json:"product_id"`
	ProductName string  `json:"product_name"`
	Size        string  `json:"size,omitempty"`
	Color       string  `json:"color,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Subtotal    float64 `json:"subtotal"`
}

// CartSnapshot represents the cart priced from the catalog at checkout time
type CartSnapshot struct {
	Items       []CartSnapshotItem `json:"items"`
	TotalAmount float64            `json:"total_amount"`
	Currency    string             `json:"currency"`
	CapturedAt  time.Time          `json:"captured_at"`
}
