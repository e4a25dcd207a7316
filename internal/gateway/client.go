package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/fjod/boutique/pkg/circuitbreaker"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayRejected    = errors.New("payment gateway rejected the request")
)

// OrderRequest is the body of POST /v1/orders. Amount is in minor units.
type OrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type OrderResponse struct {
	ID         string `json:"id"`
	Entity     string `json:"entity"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	AmountDue  int64  `json:"amount_due"`
	Currency   string `json:"currency"`
	Receipt    string `json:"receipt"`
	Status     string `json:"status"`
	CreatedAt  int64  `json:"created_at"`
}

type errorBody struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// OrderCreator reserves a payment amount with the gateway.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)
}

// OrderFetcher reads back an order, including the amount paid against it.
type OrderFetcher interface {
	GetOrder(ctx context.Context, id string) (*OrderResponse, error)
}

type Config struct {
	BaseURL string
	KeyID   string
	Secret  string
	Timeout time.Duration
}

type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*OrderResponse]
	log     *slog.Logger
}

func NewClient(cfg Config, breaker circuitbreaker.Settings, log *slog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: circuitbreaker.New[*OrderResponse](breaker, log),
		log:     log,
	}
}

// CreateOrder calls the gateway through the circuit breaker. Rejections (4xx)
// do not count as breaker failures.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal order request: %w", err)
	}
	resp, err := c.execute(ctx, http.MethodPost, "/v1/orders", body)
	if err != nil {
		return nil, err
	}
	c.log.DebugContext(ctx, "gateway order created", "gateway_order_id", resp.ID, "receipt", resp.Receipt)
	return resp, nil
}

// GetOrder fetches the gateway's record of an order, including what was paid against it.
func (c *Client) GetOrder(ctx context.Context, id string) (*OrderResponse, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty order id", ErrGatewayRejected)
	}
	return c.execute(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(id), nil)
}

func (c *Client) execute(ctx context.Context, method, path string, body []byte) (*OrderResponse, error) {
	var rejected error
	resp, err := c.breaker.Execute(func() (*OrderResponse, error) {
		r, err := c.do(ctx, method, path, body)
		if errors.Is(err, ErrGatewayRejected) {
			rejected = err
			return nil, nil
		}
		return r, err
	})
	if rejected != nil {
		return nil, rejected
	}
	if circuitbreaker.IsOpen(err) {
		return nil, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*OrderResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	httpReq.SetBasicAuth(c.cfg.KeyID, c.cfg.Secret)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrGatewayUnavailable, err)
	}

	switch {
	case httpResp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, httpResp.StatusCode)
	case httpResp.StatusCode >= 400:
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		return nil, fmt.Errorf("%w: status %d: %s %s", ErrGatewayRejected, httpResp.StatusCode, eb.Error.Code, eb.Error.Description)
	}

	var out OrderResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrGatewayUnavailable, err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: response without order id", ErrGatewayUnavailable)
	}
	return &out, nil
}
