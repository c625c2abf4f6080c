package http

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
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/gateway"
)

const maxErrorBody = 256

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Config configures the REST client.
type Config struct {
	BaseURL         string // including the /api prefix
	Timeout         time.Duration
	MaxRetries      uint // extra attempts for GET requests
	RetryInterval   time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// Client implements gateway.Gateway over the backend REST API.
type Client struct {
	baseURL    string
	timeout    time.Duration
	maxRetries uint
	retryEvery time.Duration
	http       *http.Client
	tokens     TokenSource
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

var _ gateway.Gateway = (*Client)(nil)

// NewClient creates a REST gateway client.
func NewClient(cfg Config, tokens TokenSource) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 200 * time.Millisecond
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "gateway")

	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ordersync-gateway",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isTemporary(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		retryEvery: cfg.RetryInterval,
		http:       cfg.HTTPClient,
		tokens:     tokens,
		breaker:    breaker,
		logger:     logger,
	}
}

func (c *Client) GetUser(ctx context.Context) (entity.User, error) {
	var resp struct {
		User entity.User `json:"user"`
	}
	if err := c.do(ctx, "auth.get-user", http.MethodGet, "/auth/get-user", nil, &resp); err != nil {
		return entity.User{}, err
	}
	return resp.User, nil
}

func (c *Client) GetCart(ctx context.Context) ([]entity.CartLine, error) {
	var lines []entity.CartLine
	if err := c.do(ctx, "retailer.get-cart", http.MethodGet, "/retailer/get-cart", nil, &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

type addToCartRequest struct {
	ProductID    entity.ID   `json:"product_id"`
	Quantity     int         `json:"quantity"`
	Name         string      `json:"name"`
	WholesalerID entity.ID   `json:"wholesaler_id"`
	Price        json.Number `json:"price"`
	AddedAt      int64       `json:"addedAt"`
}

type cartLineRequest struct {
	ProductID    entity.ID   `json:"product_id"`
	Name         string      `json:"name"`
	Price        json.Number `json:"price"`
	Quantity     int         `json:"quantity"`
	WholesalerID entity.ID   `json:"wholesaler_id"`
}

func (c *Client) AddToCart(ctx context.Context, product entity.Product, quantity int) error {
	body := addToCartRequest{
		ProductID:    product.ProductID,
		Quantity:     quantity,
		Name:         product.Name,
		WholesalerID: product.WholesalerID,
		Price:        json.Number(product.Price.String()),
		AddedAt:      time.Now().UnixMilli(),
	}
	return c.do(ctx, "retailer.add-to-cart", http.MethodPost, "/retailer/add-to-cart", body, nil)
}

func (c *Client) UpdateCart(ctx context.Context, productID entity.ID, quantity int) error {
	body := map[string]any{"product_id": productID, "quantity": quantity}
	return c.do(ctx, "retailer.update-cart", http.MethodPost, "/retailer/update-cart", body, nil)
}

func (c *Client) DeleteFromCart(ctx context.Context, productID entity.ID) error {
	path := "/retailer/delete-from-cart/" + url.PathEscape(productID.String())
	return c.do(ctx, "retailer.delete-from-cart", http.MethodDelete, path, nil, nil)
}

func (c *Client) PlaceOrder(ctx context.Context, cart []entity.CartLine, address entity.Address) (entity.ID, error) {
	lines := make([]cartLineRequest, 0, len(cart))
	for _, l := range cart {
		lines = append(lines, cartLineRequest{
			ProductID:    l.ProductID,
			Name:         l.Name,
			Price:        json.Number(l.Price.String()),
			Quantity:     l.Quantity,
			WholesalerID: l.WholesalerID,
		})
	}
	body := map[string]any{"cart": lines, "address": address}
	var resp struct {
		OrderID entity.ID `json:"order_id"`
	}
	if err := c.do(ctx, "retailer.place-order", http.MethodPost, "/retailer/place-order", body, &resp); err != nil {
		return "", err
	}
	// A 200 means the order exists, with or without an id in the body.
	if resp.OrderID == "" {
		c.logger.Warn("Order placed but response carried no order_id", "op", "retailer.place-order")
	}
	return resp.OrderID, nil
}

func (c *Client) GetOrders(ctx context.Context, role entity.Role) ([]entity.Order, error) {
	if !role.Valid() {
		return nil, entity.NewValidationError("role", fmt.Sprintf("unknown role %q", role), nil)
	}
	var orders []entity.Order
	op := string(role) + ".get-orders"
	if err := c.do(ctx, op, http.MethodGet, "/"+string(role)+"/get-orders", nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID entity.ID) error {
	path := "/retailer/cancel-order/" + url.PathEscape(orderID.String())
	return c.do(ctx, "retailer.cancel-order", http.MethodPut, path, struct{}{}, nil)
}

func (c *Client) UpdateOrderStatus(ctx context.Context, orderID entity.ID, status entity.Status) error {
	path := "/wholesaler/update-order-status/" + url.PathEscape(orderID.String())
	body := map[string]any{"status": status}
	return c.do(ctx, "wholesaler.update-order-status", http.MethodPut, path, body, nil)
}

// do runs one request through the breaker. GETs are retried with exponential
// backoff on temporary failures; mutations are sent exactly once.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	attempt := func() (struct{}, error) {
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.roundTrip(ctx, op, method, path, body, out)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				err = &entity.NetworkError{Op: op, Err: err}
				return struct{}{}, backoff.Permanent(err)
			}
			if !isTemporary(err) {
				return struct{}{}, backoff.Permanent(err)
			}
		}
		return struct{}{}, err
	}

	var err error
	if method == http.MethodGet && c.maxRetries > 0 {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = c.retryEvery
		_, err = backoff.Retry(ctx, attempt,
			backoff.WithBackOff(b),
			backoff.WithMaxTries(c.maxRetries+1),
		)
	} else {
		_, err = attempt()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
	}
	if err != nil {
		c.logger.Warn("Gateway request failed", "op", op, "err", err)
		return entity.AsNetworkError(op, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", entity.ErrNoSession, err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &entity.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return &entity.NetworkError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return &entity.NetworkError{Op: op, StatusCode: resp.StatusCode, Body: msg}
	}
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return &entity.NetworkError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
		}
	}
	return nil
}

func isTemporary(err error) bool {
	var ne *entity.NetworkError
	if errors.As(err, &ne) {
		return ne.Temporary()
	}
	return false
}
