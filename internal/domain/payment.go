package domain

import "time"

// PaymentIntent is the amount reserved with the gateway for one checkout attempt.
// It is not stored locally.
type PaymentIntent struct {
	GatewayOrderID string
	Amount         float64
	Currency       string
	Receipt        string
	CreatedAt      time.Time
}

type PaymentCallback struct {
	GatewayPaymentID string
	GatewayOrderID   string
	GatewaySignature string
	Delivery         DeliveryDetails
	Lines            []CheckoutLine
}
