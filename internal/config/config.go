package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPPort           string
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
	MaxRequestBodySize int64
	LogLevel           string

	// PaymentRateLimit is requests per second per client IP on the payment
	// endpoints; PaymentRateBurst is the bucket size.
	PaymentRateLimit float64
	PaymentRateBurst int

	SessionSecret string
	SessionIssuer string

	CatalogDBPath         string
	CatalogMigrationsPath string

	DBHost               string
	DBPort               int
	DBUser               string
	DBPassword           string
	DBName               string
	OrdersMigrationsPath string

	MongoURI      string
	MongoDatabase string
	RedisAddr     string

	KafkaBrokers []string

	GatewayBaseURL string
	GatewayKeyID   string
	GatewaySecret  string
	GatewayTimeout time.Duration
	Currency       string

	ReconcileDelay time.Duration
}

// Load reads configuration from the environment. Secrets have no defaults.
func Load() (*Config, error) {
	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	rate, err := strconv.ParseFloat(getEnv("PAYMENT_RATE_LIMIT", "5"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid PAYMENT_RATE_LIMIT: %w", err)
	}
	burst, err := strconv.Atoi(getEnv("PAYMENT_RATE_BURST", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid PAYMENT_RATE_BURST: %w", err)
	}
	gatewayTimeout, err := time.ParseDuration(getEnv("GATEWAY_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid GATEWAY_TIMEOUT: %w", err)
	}
	reconcileDelay, err := time.ParseDuration(getEnv("RECONCILE_DELAY", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RECONCILE_DELAY: %w", err)
	}

	cfg := &Config{
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		RequestTimeout:     30 * time.Second,
		ShutdownTimeout:    10 * time.Second,
		MaxRequestBodySize: 1 << 20, // 1MB
		LogLevel:           getEnv("LOG_LEVEL", "info"),

		PaymentRateLimit: rate,
		PaymentRateBurst: burst,

		SessionSecret: os.Getenv("SESSION_SECRET"),
		SessionIssuer: getEnv("SESSION_ISSUER", ""),

		CatalogDBPath:         getEnv("CATALOG_DB_PATH", "./catalog.db"),
		CatalogMigrationsPath: getEnv("CATALOG_MIGRATIONS_PATH", "./internal/catalog/migrations"),

		DBHost:               getEnv("DB_HOST", "localhost"),
		DBPort:               dbPort,
		DBUser:               getEnv("DB_USER", "postgres"),
		DBPassword:           getEnv("DB_PASSWORD", "postgres"),
		DBName:               getEnv("DB_NAME", "boutique"),
		OrdersMigrationsPath: getEnv("ORDERS_MIGRATIONS_PATH", "./internal/orders/migrations"),

		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "boutique"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),

		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),

		GatewayBaseURL: strings.TrimRight(getEnv("RAZORPAY_BASE_URL", "https://api.razorpay.com"), "/"),
		GatewayKeyID:   os.Getenv("RAZORPAY_KEY_ID"),
		GatewaySecret:  os.Getenv("RAZORPAY_KEY_SECRET"),
		GatewayTimeout: gatewayTimeout,
		Currency:       strings.ToUpper(getEnv("CURRENCY", "INR")),

		ReconcileDelay: reconcileDelay,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.SessionSecret == "" {
		errs = append(errs, errors.New("SESSION_SECRET is required"))
	}
	if c.GatewayKeyID == "" {
		errs = append(errs, errors.New("RAZORPAY_KEY_ID is required"))
	}
	if c.GatewaySecret == "" {
		errs = append(errs, errors.New("RAZORPAY_KEY_SECRET is required"))
	}
	if len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS must list at least one broker"))
	}
	if c.PaymentRateLimit <= 0 || c.PaymentRateBurst <= 0 {
		errs = append(errs, errors.New("payment rate limit and burst must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(csv string) []string {
	var out []string
	for _, s := range strings.Split(csv, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
