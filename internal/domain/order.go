package domain

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderStatusPending OrderStatus = "Pending"
	OrderStatusPaid    OrderStatus = "Paid"
	OrderStatusFailed  OrderStatus = "Failed"
)

func (s OrderStatus) String() string {
	return string(s)
}

type DeliveryDetails struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	AlternatePhone string `json:"alternate_phone,omitempty"`
	Address        string `json:"address"`
	City           string `json:"city"`
	Country        string `json:"country"`
	Pincode        string `json:"pincode"`
	Landmark       string `json:"landmark,omitempty"`
}

type OrderItem struct {
	ProductID   int64   `json:"product_id"`
	ProductName string  `json:"product_name"`
	Size        string  `json:"size,omitempty"`
	Color       string  `json:"color,omitempty"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
}

type Order struct {
	ID               uuid.UUID
	UserID           int64
	UserEmail        string
	TotalAmount      float64
	Currency         string
	Status           OrderStatus
	Delivery         DeliveryDetails
	GatewayPaymentID string
	GatewayOrderID   string
	GatewaySignature string
	Items            []OrderItem
	CreatedAt        time.Time
	// CartOwnerID is the session owner whose cart is cleared once the order
	// is paid. It travels in the OrderPaid event and is not stored.
	CartOwnerID string
}
