// Package app wires the storefront's stores, clients and services from config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fjod/boutique/internal/cart"
	"github.com/fjod/boutique/internal/catalog"
	"github.com/fjod/boutique/internal/checkout"
	"github.com/fjod/boutique/internal/config"
	"github.com/fjod/boutique/internal/gateway"
	"github.com/fjod/boutique/internal/metrics"
	"github.com/fjod/boutique/internal/orders"
	"github.com/fjod/boutique/pkg/circuitbreaker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type App struct {
	Config   *config.Config
	Log      *slog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Catalog  *catalog.Repository
	Orders   *orders.Repository
	Mongo    *mongo.Database
	Redis    *redis.Client
	Carts    *cart.Service
	Queue    *checkout.KafkaQueue
	Checkout *checkout.Service

	closers []func(context.Context) error
}

// New connects every backing store and runs migrations. On error everything
// opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *App, err error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &App{
		Config:   cfg,
		Log:      log,
		Registry: reg,
		Metrics:  metrics.New(reg),
	}
	defer func() {
		if err != nil {
			a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.Catalog, err = catalog.NewRepository(cfg.CatalogDBPath)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return a.Catalog.Close() })
	if err = a.Catalog.RunMigrations(cfg.CatalogMigrationsPath); err != nil {
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}

	cred := &orders.Credentials{
		Host:              cfg.DBHost,
		Port:              cfg.DBPort,
		User:              cfg.DBUser,
		Password:          cfg.DBPassword,
		DBName:            cfg.DBName,
		MigrationsDirPath: cfg.OrdersMigrationsPath,
	}
	a.Orders, err = orders.NewRepository(cred)
	if err != nil {
		return nil, fmt.Errorf("open orders database: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return a.Orders.Close() })
	if err = a.Orders.RunMigrations(cred); err != nil {
		return nil, fmt.Errorf("migrate orders database: %w", err)
	}

	a.Mongo, err = cart.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(ctx context.Context) error { return a.Mongo.Client().Disconnect(ctx) })
	cartRepo := cart.NewMongoRepository(a.Mongo)
	if err = cartRepo.CreateIndexes(ctx); err != nil {
		return nil, fmt.Errorf("create cart indexes: %w", err)
	}

	a.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	a.closers = append(a.closers, func(context.Context) error { return a.Redis.Close() })
	if err = a.Redis.Ping(ctx).Err(); err != nil {
		// the cart cache degrades to Mongo reads
		log.WarnContext(ctx, "redis unreachable at startup", "addr", cfg.RedisAddr, "error", err)
		err = nil
	}

	a.Carts = cart.NewService(cartRepo, cart.NewRedisCache(a.Redis), a.Catalog, log)

	a.Queue = checkout.NewKafkaQueue(cfg.KafkaBrokers...)
	a.closers = append(a.closers, func(context.Context) error { return a.Queue.Close() })

	gw := gateway.NewClient(gateway.Config{
		BaseURL: cfg.GatewayBaseURL,
		KeyID:   cfg.GatewayKeyID,
		Secret:  cfg.GatewaySecret,
		Timeout: cfg.GatewayTimeout,
	}, circuitbreaker.DefaultSettings("razorpay"), log)

	a.Checkout = checkout.NewService(checkout.Deps{
		Pricer:        catalog.NewPricer(a.Catalog, cfg.Currency),
		Gateway:       gw,
		Orders:        a.Orders,
		Carts:         a.Carts,
		Queue:         a.Queue,
		GatewaySecret: cfg.GatewaySecret,
		Metrics:       a.Metrics,
		Log:           log,
	})

	return a, nil
}

// Ready pings the stores an order commit depends on.
func (a *App) Ready(ctx context.Context) error {
	if err := a.Orders.Ping(ctx); err != nil {
		return fmt.Errorf("orders database: %w", err)
	}
	if err := a.Mongo.Client().Ping(ctx, nil); err != nil {
		return fmt.Errorf("cart store: %w", err)
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.Log.Error("error releasing resources", "error", err)
		return err
	}
	return nil
}
