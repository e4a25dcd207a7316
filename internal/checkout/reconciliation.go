package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/boutique/internal/domain"
	"github.com/fjod/boutique/internal/session"
	"github.com/segmentio/kafka-go"
)

const (
	ReconciliationTopic = "payment-reconciliation"
	reconcilerGroup     = "payment-reconciler"

	// MaxReplayAttempts bounds automatic replays of one payment.
	MaxReplayAttempts = 5
)

// ReconciliationRequest is everything needed to replay a verified payment
// whose order failed to commit.
type ReconciliationRequest struct {
	GatewayPaymentID string                 `json:"gateway_payment_id"`
	GatewayOrderID   string                 `json:"gateway_order_id"`
	GatewaySignature string                 `json:"gateway_signature"`
	UserID           string                 `json:"user_id"`
	UserEmail        string                 `json:"user_email"`
	UserRole         string                 `json:"user_role,omitempty"`
	Delivery         domain.DeliveryDetails `json:"delivery"`
	Lines            []domain.CheckoutLine  `json:"lines"`
	Attempt          int                    `json:"attempt"`
	Reason           string                 `json:"reason"`
	FailedAt         time.Time              `json:"failed_at"`
}

func newReconciliationRequest(user session.Identity, cb domain.PaymentCallback, attempt int, cause error, now time.Time) ReconciliationRequest {
	return ReconciliationRequest{
		GatewayPaymentID: cb.GatewayPaymentID,
		GatewayOrderID:   cb.GatewayOrderID,
		GatewaySignature: cb.GatewaySignature,
		UserID:           user.ID,
		UserEmail:        user.Email,
		UserRole:         user.Role,
		Delivery:         cb.Delivery,
		Lines:            cb.Lines,
		Attempt:          attempt,
		Reason:           cause.Error(),
		FailedAt:         now,
	}
}

func (r ReconciliationRequest) identity() session.Identity {
	return session.Identity{ID: r.UserID, Email: r.UserEmail, Role: r.UserRole}
}

func (r ReconciliationRequest) callback() domain.PaymentCallback {
	return domain.PaymentCallback{
		GatewayPaymentID: r.GatewayPaymentID,
		GatewayOrderID:   r.GatewayOrderID,
		GatewaySignature: r.GatewaySignature,
		Delivery:         r.Delivery,
		Lines:            r.Lines,
	}
}

type ReconciliationQueue interface {
	Enqueue(ctx context.Context, req ReconciliationRequest) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaQueue publishes reconciliation requests keyed by payment id, so all
// attempts for one payment land on one partition.
type KafkaQueue struct {
	writer MessageWriter
}

func NewKafkaQueue(brokers ...string) *KafkaQueue {
	return NewKafkaQueueWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  ReconciliationTopic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	})
}

func NewKafkaQueueWithWriter(w MessageWriter) *KafkaQueue {
	return &KafkaQueue{writer: w}
}

func (q *KafkaQueue) Enqueue(ctx context.Context, req ReconciliationRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal reconciliation request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	err = q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(req.GatewayPaymentID),
		Value: payload,
		Time:  req.FailedAt,
		Headers: []kafka.Header{
			{Key: "attempt", Value: []byte(fmt.Sprint(req.Attempt))},
		},
	})
	if err != nil {
		return fmt.Errorf("write reconciliation request: %w", err)
	}
	return nil
}

func (q *KafkaQueue) Close() error {
	return q.writer.Close()
}

// Replay re-runs a recorded payment through verification and commit. Replaying
// a payment that already has an order returns that order.
func (s *Service) Replay(ctx context.Context, req ReconciliationRequest) (*CallbackResult, error) {
	return s.handleCallback(ctx, req.identity(), req.callback(), req.Attempt)
}

type Replayer interface {
	Replay(ctx context.Context, req ReconciliationRequest) (*CallbackResult, error)
}

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Reconciler consumes the reconciliation topic and replays each request after
// a delay that grows with the attempt number.
type Reconciler struct {
	reader  MessageReader
	service Replayer
	delay   time.Duration
	log     *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewReconciler(service Replayer, delay time.Duration, log *slog.Logger, brokers ...string) *Reconciler {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    ReconciliationTopic,
		GroupID:  reconcilerGroup,
		MaxBytes: 10e6,
	})
	return NewReconcilerWithReader(reader, service, delay, log)
}

func NewReconcilerWithReader(reader MessageReader, service Replayer, delay time.Duration, log *slog.Logger) *Reconciler {
	return &Reconciler{
		reader:  reader,
		service: service,
		delay:   delay,
		log:     log,
		sleep:   sleepCtx,
	}
}

func (r *Reconciler) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		r.processOne(ctx)
	}
}

func (r *Reconciler) Close() {
	if err := r.reader.Close(); err != nil {
		r.log.Error("error closing reader", "error", err)
	}
}

func (r *Reconciler) processOne(ctx context.Context) {
	m, err := r.reader.ReadMessage(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.log.Error("error reading reconciliation message", "error", err)
		}
		return
	}

	var req ReconciliationRequest
	if err := json.Unmarshal(m.Value, &req); err != nil {
		r.log.Error("error parsing reconciliation message", "offset", m.Offset, "error", err)
		return
	}

	wait := time.Until(req.FailedAt.Add(time.Duration(req.Attempt) * r.delay))
	if wait > 0 {
		if err := r.sleep(ctx, wait); err != nil {
			return
		}
	}

	res, err := r.service.Replay(ctx, req)
	if err != nil {
		// persistence failures re-enqueue themselves inside Replay
		r.log.Error("reconciliation replay failed",
			"gateway_payment_id", req.GatewayPaymentID,
			"attempt", req.Attempt,
			"error", err)
		return
	}
	r.log.Info("reconciliation replay succeeded",
		"gateway_payment_id", req.GatewayPaymentID,
		"order_id", res.OrderID,
		"duplicate", res.Duplicate,
		"attempt", req.Attempt)
}

// ErrPaymentNotQueued is returned by FindAndReplay when the topic holds no
// request for the payment.
var ErrPaymentNotQueued = errors.New("no reconciliation request for payment")

// FindAndReplay reads until ctx expires and replays the last request seen for
// paymentID once.
func FindAndReplay(ctx context.Context, reader MessageReader, service Replayer, paymentID string) (*CallbackResult, error) {
	var found *ReconciliationRequest
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return nil, fmt.Errorf("read reconciliation topic: %w", err)
		}
		if string(m.Key) != paymentID {
			continue
		}
		var req ReconciliationRequest
		if err := json.Unmarshal(m.Value, &req); err != nil {
			return nil, fmt.Errorf("parse reconciliation request at offset %d: %w", m.Offset, err)
		}
		found = &req
	}

	if found == nil {
		return nil, fmt.Errorf("%w %s", ErrPaymentNotQueued, paymentID)
	}
	return service.Replay(context.WithoutCancel(ctx), *found)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
