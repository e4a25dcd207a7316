package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "boutique"

// Callback results.
const (
	ResultCommitted        = "committed"
	ResultDuplicate        = "duplicate"
	ResultMalformed        = "malformed"
	ResultSignatureInvalid = "signature_invalid"
	ResultPersistenceError = "persistence_failed"
	ResultAmountMismatch   = "amount_mismatch"
)

type Metrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec

	IntentsCreated      prometheus.Counter
	IntentFailures      *prometheus.CounterVec
	Callbacks           *prometheus.CounterVec
	CommitDuration      prometheus.Histogram
	ReconciliationQueue *prometheus.CounterVec
	OutboxPublished     prometheus.Counter
	OutboxFailures      prometheus.Counter
}

// New registers all collectors on reg. Tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
		IntentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "intents_created_total",
			Help:      "Payment intents created with the gateway.",
		}),
		IntentFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "intent_failures_total",
			Help:      "Payment intents that could not be created.",
		}, []string{"reason"}),
		Callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "payment_callbacks_total",
			Help:      "Payment callbacks by outcome.",
		}, []string{"result"}),
		CommitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "order_commit_duration_seconds",
			Help:      "Time spent committing an order after verification.",
			Buckets:   prometheus.DefBuckets,
		}),
		ReconciliationQueue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "reconciliation_requests_total",
			Help:      "Verified payments handed to reconciliation, by outcome.",
		}, []string{"outcome"}),
		OutboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "events_published_total",
			Help:      "Outbox events published to Kafka.",
		}),
		OutboxFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "publish_failures_total",
			Help:      "Outbox events that failed to publish.",
		}),
	}

	reg.MustRegister(
		m.Requests,
		m.LatencyMS,
		m.IntentsCreated,
		m.IntentFailures,
		m.Callbacks,
		m.CommitDuration,
		m.ReconciliationQueue,
		m.OutboxPublished,
		m.OutboxFailures,
	)
	return m
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
