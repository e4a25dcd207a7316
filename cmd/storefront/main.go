package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fjod/boutique/internal/app"
	"github.com/fjod/boutique/internal/cart"
	"github.com/fjod/boutique/internal/config"
	h "github.com/fjod/boutique/internal/http"
	"github.com/fjod/boutique/internal/outbox"
	"github.com/fjod/boutique/internal/session"
	"github.com/fjod/boutique/pkg/logger"
)

func main() {
	log := logger.New("storefront", os.Getenv("LOG_LEVEL"))

	cfg, err := config.Load()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	a, err := app.New(startCtx, cfg, log)
	cancel()
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}

	poller := outbox.NewPoller(a.Orders, a.Metrics, log, cfg.KafkaBrokers...)
	consumer := cart.NewPaidOrderConsumer(a.Carts, log, cfg.KafkaBrokers...)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		poller.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		consumer.Run(ctx)
	}()

	router := h.NewRouter(h.RouterConfig{
		Checkout: a.Checkout,
		Carts:    a.Carts,
		Orders:   a.Orders,
		Sessions: session.NewValidator(cfg.SessionSecret, cfg.SessionIssuer),
		Metrics:  a.Metrics,
		Gatherer: a.Registry,
		Ready: func(r *http.Request) error {
			return a.Ready(r.Context())
		},
		RequestTimeout:     cfg.RequestTimeout,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		PaymentRateLimit:   cfg.PaymentRateLimit,
		PaymentRateBurst:   cfg.PaymentRateBurst,
		Log:                log,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("storefront starting", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	wg.Wait()
	consumer.Close()
	if err := poller.Close(); err != nil {
		log.Error("error closing outbox writer", "error", err)
	}
	a.Close(shutdownCtx)

	log.Info("server exited")
}
