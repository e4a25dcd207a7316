package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/boutique/internal/metrics"
	"github.com/fjod/boutique/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	Checkout CheckoutService
	Carts    CartService
	Orders   OrderReader
	Sessions *session.Validator
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	// Ready reports whether the backing stores are reachable.
	Ready func(r *http.Request) error

	RequestTimeout     time.Duration
	MaxRequestBodySize int64
	PaymentRateLimit   float64
	PaymentRateBurst   int
	Log                *slog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	checkoutHandler := NewCheckoutHandler(cfg.Checkout, cfg.RequestTimeout, cfg.Log)
	cartHandler := NewCartHandler(cfg.Carts, cfg.RequestTimeout)
	ordersHandler := NewOrdersHandler(cfg.Orders, cfg.RequestTimeout)
	limiter := NewIPRateLimiter(cfg.PaymentRateLimit, cfg.PaymentRateBurst)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(MetricsMiddleware(cfg.Metrics))
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			if err := cfg.Ready(r); err != nil {
				respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler(cfg.Gatherer))

	r.Group(func(r chi.Router) {
		r.Use(LimitBody(cfg.MaxRequestBodySize))
		r.Use(session.Middleware(cfg.Sessions, cfg.Log))

		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware)
			for _, prefix := range []string{"", "/api"} {
				r.Post(prefix+"/create-order", checkoutHandler.CreateOrder)
				r.Post(prefix+"/payment-success", checkoutHandler.PaymentSuccess)
			}
		})

		r.Route("/api/v1", func(r chi.Router) {
			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartHandler.GetCart)
				r.Delete("/", cartHandler.ClearCart)
				r.Post("/lines", cartHandler.AddLine)
				r.Put("/lines", cartHandler.UpdateQuantity)
				r.Delete("/lines", cartHandler.RemoveLine)
			})
			r.Get("/orders", ordersHandler.ListOrders)
			r.Get("/orders/{order_id}", ordersHandler.GetOrder)
		})
	})

	return otelhttp.NewHandler(r, "storefront")
}
