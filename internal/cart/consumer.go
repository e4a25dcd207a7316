package cart

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/fjod/boutique/internal/orders"
	"github.com/segmentio/kafka-go"
)

const (
	OrdersPaidTopic = "orders-paid"
	consumerGroup   = "storefront-cart-cleaner"
)

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Clearer is satisfied by *Service.
type Clearer interface {
	ClearPaid(ctx context.Context, ownerID string, paidAt time.Time) error
}

// PaidOrderConsumer clears carts for OrderPaid events. Checkout already clears
// the cart after commit; this catches the cases where that call failed. Events
// can arrive late, so a cart updated after the payment is left alone.
type PaidOrderConsumer struct {
	reader MessageReader
	carts  Clearer
	log    *slog.Logger
}

func NewPaidOrderConsumer(carts Clearer, log *slog.Logger, brokers ...string) *PaidOrderConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    OrdersPaidTopic,
		GroupID:  consumerGroup,
		MaxBytes: 10e6,
	})
	return NewPaidOrderConsumerWithReader(reader, carts, log)
}

func NewPaidOrderConsumerWithReader(reader MessageReader, carts Clearer, log *slog.Logger) *PaidOrderConsumer {
	return &PaidOrderConsumer{reader: reader, carts: carts, log: log}
}

func (p *PaidOrderConsumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.consumeOne(ctx)
	}
}

func (p *PaidOrderConsumer) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.Error("error closing reader", "error", err)
	}
}

func (p *PaidOrderConsumer) consumeOne(ctx context.Context) {
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.log.Error("error reading message", "error", err)
		}
		return
	}

	var event orders.OrderPaidEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		p.log.Error("error parsing message", "offset", m.Offset, "error", err)
		return
	}
	if event.CartOwnerID == "" {
		p.log.Warn("order paid event without cart owner", "order_id", event.OrderID)
		return
	}

	if err := p.carts.ClearPaid(ctx, event.CartOwnerID, event.PaidAt); err != nil {
		p.log.Error("failed to clear cart", "order_id", event.OrderID, "owner_id", event.CartOwnerID, "error", err)
		return
	}
	p.log.Debug("cart cleared for paid order", "order_id", event.OrderID, "owner_id", event.CartOwnerID)
}
