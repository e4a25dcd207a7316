package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/boutique/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type Repository struct {
	db *sql.DB
}

func NewRepository(cred *Credentials) (*Repository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &Repository{db: db}, nil
}

// NewRepositoryWithDB wraps an existing handle.
func NewRepositoryWithDB(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "orders_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

// CommitOrder writes the order, its items and an OrderPaid outbox event in one
// transaction. Nothing is written unless everything is.
func (r *Repository) CommitOrder(ctx context.Context, order *domain.Order) (err error) {
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(OrderPaidEvent{
		OrderID:          order.ID.String(),
		UserEmail:        order.UserEmail,
		CartOwnerID:      order.CartOwnerID,
		TotalAmount:      order.TotalAmount,
		Currency:         order.Currency,
		Items:            order.Items,
		GatewayPaymentID: order.GatewayPaymentID,
		GatewayOrderID:   order.GatewayOrderID,
		PaidAt:           order.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// session emails are lowercased; stored ones may not be
	var userID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM users WHERE lower(email) = lower($1)`, order.UserEmail).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrUserNotFound, order.UserEmail)
	}
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}

	d := order.Delivery
	_, err = tx.ExecContext(ctx, `INSERT INTO orders (id, user_id, user_email, total_amount, currency, status,
	          delivery_name, delivery_email, delivery_phone, delivery_alternate_phone, delivery_address,
	          delivery_city, delivery_country, delivery_pincode, delivery_landmark,
	          gateway_payment_id, gateway_order_id, gateway_signature, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		order.ID,
		userID,
		order.UserEmail,
		order.TotalAmount,
		order.Currency,
		order.Status,
		d.Name, d.Email, d.Phone, d.AlternatePhone, d.Address,
		d.City, d.Country, d.Pincode, d.Landmark,
		order.GatewayPaymentID,
		order.GatewayOrderID,
		order.GatewaySignature,
		order.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			_ = tx.Rollback()
			return r.duplicateOf(ctx, order.GatewayPaymentID)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, `INSERT INTO order_items (order_id, product_id, product_name, size, color, quantity, price)
		          VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			order.ID,
			item.ProductID,
			item.ProductName,
			item.Size,
			item.Color,
			item.Quantity,
			item.Price)
		if err != nil {
			return fmt.Errorf("insert order item %d: %w", item.ProductID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO outbox (aggregate_id, event_type, payload) VALUES ($1, $2, $3)`,
		order.ID.String(), EventTypeOrderPaid, payload)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit order: %w", err)
	}

	order.UserID = userID
	return nil
}

func (r *Repository) duplicateOf(ctx context.Context, paymentID string) error {
	var id uuid.UUID
	err := r.db.QueryRowContext(ctx, `SELECT id FROM orders WHERE gateway_payment_id = $1`, paymentID).Scan(&id)
	if err != nil {
		return fmt.Errorf("lookup order for duplicate payment %s: %w", paymentID, err)
	}
	return &DuplicatePaymentError{PaymentID: paymentID, OrderID: id}
}

const orderColumns = `id, user_id, user_email, total_amount, currency, status,
	delivery_name, delivery_email, delivery_phone, delivery_alternate_phone, delivery_address,
	delivery_city, delivery_country, delivery_pincode, delivery_landmark,
	gateway_payment_id, gateway_order_id, gateway_signature, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(s rowScanner) (*domain.Order, error) {
	var o domain.Order
	d := &o.Delivery
	err := s.Scan(
		&o.ID,
		&o.UserID,
		&o.UserEmail,
		&o.TotalAmount,
		&o.Currency,
		&o.Status,
		&d.Name, &d.Email, &d.Phone, &d.AlternatePhone, &d.Address,
		&d.City, &d.Country, &d.Pincode, &d.Landmark,
		&o.GatewayPaymentID,
		&o.GatewayOrderID,
		&o.GatewaySignature,
		&o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repository) getOrder(ctx context.Context, where string, arg any) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + where

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	if err := r.loadItems(ctx, []*domain.Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *Repository) GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.getOrder(ctx, `id = $1`, id)
}

func (r *Repository) GetOrderByPaymentID(ctx context.Context, paymentID string) (*domain.Order, error) {
	return r.getOrder(ctx, `gateway_payment_id = $1`, paymentID)
}

func (r *Repository) ListOrdersByUserEmail(ctx context.Context, email string) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_email = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, email)
	if err != nil {
		return nil, fmt.Errorf("query orders by user email: %w", err)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *Repository) loadItems(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[uuid.UUID]*domain.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		o.Items = make([]domain.OrderItem, 0)
		byID[o.ID] = o
		ids = append(ids, o.ID.String())
	}

	rows, err := r.db.QueryContext(ctx, `SELECT order_id, product_id, product_name, size, color, quantity, price
	          FROM order_items WHERE order_id = ANY($1::uuid[]) ORDER BY id`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orderID uuid.UUID
		var item domain.OrderItem
		if err := rows.Scan(
			&orderID,
			&item.ProductID,
			&item.ProductName,
			&item.Size,
			&item.Color,
			&item.Quantity,
			&item.Price,
		); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, item)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("row iteration error: %w", err)
	}
	return nil
}

// GetUnprocessedEvents returns up to limit outbox events in insertion order.
func (r *Repository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, aggregate_id, event_type, payload, created_at
	          FROM outbox WHERE processed_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *Repository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox SET processed_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox event %d: %w", id, err)
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}
