// Package client talks to the order service over its REST API and translates
// its responses into domain values and domain errors.
package client

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dannyCSStudent/mojara/internal/domain"
	"github.com/dannyCSStudent/mojara/internal/pkg/circuitbreaker"
	"github.com/dannyCSStudent/mojara/internal/pkg/logger"
)

const (
	defaultTimeout  = 10 * time.Second
	maxErrorBody    = 64 << 10
	idempotencyHdr  = "Idempotency-Key"
	vendorHdr       = "X-Vendor-ID"
	vendorScopeName = "vendor"
)

var ErrUnauthorized = errors.New("unauthorized")

// TokenSource supplies the bearer token for each request. Session and token
// management live outside this package.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	vendor  string
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithVendorID makes the client act for a vendor. Vendor listings and order
// mutations require it.
func WithVendorID(id string) Option {
	return func(c *Client) { c.vendor = id }
}

func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		logger:  logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		c.http = &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if c.breaker == nil {
		settings := circuitbreaker.DefaultSettings("order-service")
		settings.IsFailure = domain.IsTransient
		c.breaker = circuitbreaker.New(settings, c.logger)
	}

	return c
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var o domain.Order
	found, err := c.do(ctx, http.MethodGet, orderPath(orderID), orderID, nil, nil, &o)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("get order %s: empty response", orderID)
	}
	return ingest(&o)
}

func (c *Client) ListMyOrders(ctx context.Context) ([]domain.Order, error) {
	return c.list(ctx, "/orders/me")
}

func (c *Client) ListVendorOrders(ctx context.Context) ([]domain.Order, error) {
	return c.list(ctx, "/orders?scope="+vendorScopeName)
}

func (c *Client) ConfirmOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return c.mutate(ctx, orderID, "confirm", nil, nil)
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return c.mutate(ctx, orderID, "cancel", nil, nil)
}

// IssueRefund submits a refund. The returned order is nil when the service
// accepted the refund without returning the updated snapshot; callers must
// re-fetch in that case.
func (c *Client) IssueRefund(ctx context.Context, orderID string, req domain.RefundRequest) (*domain.Order, error) {
	var headers http.Header
	if req.IdempotencyKey != "" {
		headers = http.Header{idempotencyHdr: []string{req.IdempotencyKey}}
	}
	return c.mutate(ctx, orderID, "refund", req, headers)
}

func (c *Client) list(ctx context.Context, path string) ([]domain.Order, error) {
	var orders []domain.Order
	if _, err := c.do(ctx, http.MethodGet, path, "", nil, nil, &orders); err != nil {
		return nil, err
	}

	for i := range orders {
		if _, err := ingest(&orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (c *Client) mutate(ctx context.Context, orderID, action string, body any, headers http.Header) (*domain.Order, error) {
	var o domain.Order
	found, err := c.do(ctx, http.MethodPost, orderPath(orderID)+"/"+action, orderID, body, headers, &o)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return ingest(&o)
}

// do performs one request. It reports found=false when the response carried
// no body to decode.
func (c *Client) do(ctx context.Context, method, path, orderID string, body any, headers http.Header, out any) (bool, error) {
	op := method + " " + path

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return false, fmt.Errorf("%s: encode body: %w", op, err)
		}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return false, fmt.Errorf("%s: %w: %v", op, ErrUnauthorized, err)
	}

	var found bool
	err = c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("%s: build request: %w", op, err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if c.vendor != "" {
			req.Header.Set(vendorHdr, c.vendor)
		}
		for k, v := range headers {
			req.Header[k] = v
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return &domain.TransientError{Op: op, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return statusError(resp, op, orderID)
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &domain.TransientError{Op: op, Err: fmt.Errorf("read body: %w", err)}
		}
		if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusAccepted || len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
		found = true
		return nil
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false, &domain.TransientError{Op: op, Err: err}
	}
	if err != nil {
		c.logger.DebugContext(ctx, "order service request failed", "op", op, "error", err)
		return false, err
	}

	return found, nil
}

type errorBody struct {
	Error  string          `json:"error"`
	Code   string          `json:"code"`
	Detail json.RawMessage `json:"detail"`
}

// message extracts a human readable message from the error envelopes the
// order service is known to use.
func (b errorBody) message() string {
	if b.Error != "" {
		return b.Error
	}
	if len(b.Detail) > 0 {
		var s string
		if err := json.Unmarshal(b.Detail, &s); err == nil {
			return s
		}
		return string(b.Detail)
	}
	return ""
}

func statusError(resp *http.Response, op, orderID string) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body errorBody
	msg := ""
	if err := json.Unmarshal(data, &body); err == nil {
		msg = body.message()
	}
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch code := resp.StatusCode; {
	case code == http.StatusNotFound:
		return &domain.NotFoundError{OrderID: orderID}
	case code == http.StatusConflict:
		return &domain.ConflictError{OrderID: orderID, Message: msg}
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return &domain.ValidationError{OrderID: orderID, Message: msg}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%s: %w: %s", op, ErrUnauthorized, msg)
	case code == http.StatusTooManyRequests || code >= 500:
		return &domain.TransientError{Op: op, Err: fmt.Errorf("status %d: %s", code, msg)}
	default:
		return fmt.Errorf("%s: unexpected status %d: %s", op, code, msg)
	}
}

func ingest(o *domain.Order) (*domain.Order, error) {
	o.Normalize()
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

func orderPath(orderID string) string {
	return "/orders/" + url.PathEscape(orderID)
}
