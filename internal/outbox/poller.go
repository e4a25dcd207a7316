package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/fjod/boutique/internal/metrics"
	"github.com/fjod/boutique/internal/orders"
	"github.com/segmentio/kafka-go"
)

const (
	OrdersPaidTopic = "orders-paid"
	batchSize       = 100
)

// EventStore is implemented by *orders.Repository.
type EventStore interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*orders.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Poller publishes committed order events. An event is marked processed only
// after Kafka accepted it, so delivery is at-least-once.
type Poller struct {
	timeout   time.Duration
	eventTick time.Duration
	repo      EventStore
	writer    MessageWriter
	metrics   *metrics.Metrics
	log       *slog.Logger
}

func NewPoller(repo EventStore, m *metrics.Metrics, log *slog.Logger, brokers ...string) *Poller {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  OrdersPaidTopic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return NewPollerWithWriter(repo, w, time.Second, m, log)
}

func NewPollerWithWriter(repo EventStore, w MessageWriter, tick time.Duration, m *metrics.Metrics, log *slog.Logger) *Poller {
	return &Poller{
		timeout:   5 * time.Second,
		eventTick: tick,
		repo:      repo,
		writer:    w,
		metrics:   m,
		log:       log,
	}
}

func (p *Poller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	defer eventTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) Close() error {
	return p.writer.Close()
}

func (p *Poller) processUnpublishedEvents(ctx context.Context) {
	events, err := p.repo.GetUnprocessedEvents(ctx, batchSize)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to fetch outbox events", "error", err)
		return
	}

	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			p.metrics.OutboxFailures.Inc()
			p.log.ErrorContext(ctx, "failed to publish outbox event", "event_id", event.ID, "aggregate_id", event.AggregateID, "error", err)
			// keep per-aggregate order: later events wait for the next tick
			return
		}
		p.metrics.OutboxPublished.Inc()

		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.log.ErrorContext(ctx, "failed to mark outbox event as processed", "event_id", event.ID, "error", err)
			continue
		}
	}
}

func (p *Poller) publish(ctx context.Context, event *orders.OutboxEvent) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	})
}
