package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dannyCSStudent/mojara/internal/domain"
	"github.com/dannyCSStudent/mojara/internal/ledger"
	"github.com/dannyCSStudent/mojara/internal/pkg/logger"
	"github.com/dannyCSStudent/mojara/internal/repository"
)

const maxRequestBodySize = 1 << 20 // 1MB

type OrdersHandler struct {
	repo    repository.OrderRepository
	timeout time.Duration
	logger  *slog.Logger
}

func NewOrdersHandler(repo repository.OrderRepository, timeout time.Duration, log *slog.Logger) *OrdersHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &OrdersHandler{repo: repo, timeout: timeout, logger: log}
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// OrderResponse is the order as stored plus the ledger figures clients show.
type OrderResponse struct {
	domain.Order
	RefundedTotal    domain.Money `json:"refunded_total"`
	RemainingBalance domain.Money `json:"remaining_balance"`
}

type CreateOrderItemDTO struct {
	ProductID string       `json:"product_id"`
	Name      string       `json:"name"`
	Quantity  int          `json:"quantity"`
	UnitPrice domain.Money `json:"unit_price"`
}

type CreateOrderRequestDTO struct {
	UserID     string               `json:"user_id"`
	CheckoutID string               `json:"checkout_id"`
	Currency   string               `json:"currency"`
	Items      []CreateOrderItemDTO `json:"items"`
}

type RefundRequestDTO struct {
	Amount domain.Money `json:"amount"`
	Reason string       `json:"reason"`
}

// Routes mounts the order endpoints. Everything except /health requires
// authentication.
func (h *OrdersHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Timeout(h.timeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(MockAuthMiddleware)

		r.Get("/orders", h.ListOrders)
		r.Get("/orders/me", h.ListMyOrders)
		r.Route("/orders/{order_id}", func(r chi.Router) {
			r.Get("/", h.GetOrder)
			r.Post("/confirm", h.ConfirmOrder)
			r.Post("/cancel", h.CancelOrder)
			r.Post("/refund", h.RefundOrder)
		})
		r.Post("/markets/{market_id}/vendors/{vendor_id}/orders", h.CreateOrder)
	})

	return otelhttp.NewHandler(r, "orders-service")
}

// GET /orders?scope=user|vendor
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var (
		orders []domain.Order
		err    error
	)
	switch scope := r.URL.Query().Get("scope"); scope {
	case "", "user":
		orders, err = h.repo.ListOrdersByUser(ctx, getUserIDFromContext(ctx))
	case "vendor":
		vendorID := getVendorIDFromContext(ctx)
		if vendorID == "" {
			respondError(w, http.StatusForbidden, "forbidden", "vendor scope requires a vendor identity")
			return
		}
		orders, err = h.repo.ListOrdersByVendor(ctx, vendorID)
	default:
		respondError(w, http.StatusBadRequest, "invalid_scope", "scope must be user or vendor")
		return
	}
	if err != nil {
		h.handleError(w, r, "", err)
		return
	}

	respondJSON(w, http.StatusOK, toResponses(orders))
}

// GET /orders/me
func (h *OrdersHandler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orders, err := h.repo.ListOrdersByUser(ctx, getUserIDFromContext(ctx))
	if err != nil {
		h.handleError(w, r, "", err)
		return
	}

	respondJSON(w, http.StatusOK, toResponses(orders))
}

// GET /orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID := chi.URLParam(r, "order_id")
	o, err := h.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		h.handleError(w, r, orderID, err)
		return
	}

	// Orders outside the caller's reach are reported as missing.
	if !canRead(ctx, o) {
		h.handleError(w, r, orderID, repository.ErrOrderNotFound)
		return
	}

	respondJSON(w, http.StatusOK, toResponse(*o))
}

// POST /orders/{order_id}/confirm
func (h *OrdersHandler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	h.vendorAction(w, r, h.repo.ConfirmOrder)
}

// POST /orders/{order_id}/cancel
func (h *OrdersHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	h.vendorAction(w, r, h.repo.CancelOrder)
}

// POST /orders/{order_id}/refund
func (h *OrdersHandler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	var req RefundRequestDTO
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	h.vendorAction(w, r, func(ctx context.Context, orderID string) (*domain.Order, error) {
		return h.repo.RefundOrder(ctx, orderID, domain.RefundRequest{
			Amount:         req.Amount,
			Reason:         req.Reason,
			IdempotencyKey: r.Header.Get("Idempotency-Key"),
		})
	})
}

// POST /markets/{market_id}/vendors/{vendor_id}/orders
func (h *OrdersHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CreateOrderRequestDTO
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = getUserIDFromContext(ctx)
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		if item.ProductID == "" {
			respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
			return
		}
		if item.Quantity <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be at least 1")
			return
		}
		if item.UnitPrice < 0 {
			respondError(w, http.StatusBadRequest, "invalid_unit_price", "unit_price must not be negative")
			return
		}
		items = append(items, domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	o, err := h.repo.CreateOrder(ctx, repository.NewOrder{
		CheckoutID: req.CheckoutID,
		MarketID:   chi.URLParam(r, "market_id"),
		VendorID:   chi.URLParam(r, "vendor_id"),
		UserID:     userID,
		Currency:   req.Currency,
		Items:      items,
	})
	if err != nil {
		h.handleError(w, r, "", err)
		return
	}

	respondJSON(w, http.StatusCreated, toResponse(*o))
}

// vendorAction runs a mutation on behalf of the vendor that owns the order.
func (h *OrdersHandler) vendorAction(w http.ResponseWriter, r *http.Request, action func(context.Context, string) (*domain.Order, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID := chi.URLParam(r, "order_id")
	vendorID := getVendorIDFromContext(ctx)
	if vendorID == "" {
		respondError(w, http.StatusForbidden, "forbidden", "only the vendor can change this order")
		return
	}

	current, err := h.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		h.handleError(w, r, orderID, err)
		return
	}
	if current.VendorID != vendorID {
		respondError(w, http.StatusForbidden, "forbidden", "only the vendor can change this order")
		return
	}

	o, err := action(ctx, orderID)
	if err != nil {
		h.handleError(w, r, orderID, err)
		return
	}

	respondJSON(w, http.StatusOK, toResponse(*o))
}

func (h *OrdersHandler) handleError(w http.ResponseWriter, r *http.Request, orderID string, err error) {
	var (
		ve *domain.ValidationError
		ce *domain.ConflictError
	)

	switch {
	case errors.Is(err, repository.ErrOrderNotFound), domain.IsNotFound(err):
		respondError(w, http.StatusNotFound, "not_found", "order not found")
	case errors.Is(err, repository.ErrDuplicateCheckout):
		respondError(w, http.StatusConflict, "duplicate_checkout", err.Error())
	case errors.Is(err, repository.ErrEmptyOrder):
		respondError(w, http.StatusUnprocessableEntity, "empty_order", err.Error())
	case errors.As(err, &ve):
		respondError(w, http.StatusUnprocessableEntity, "validation_error", ve.Message)
	case errors.As(err, &ce):
		respondError(w, http.StatusConflict, "conflict", ce.Message)
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusServiceUnavailable, "unavailable", "order store did not answer in time")
	default:
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("request_id", getRequestID(r.Context())),
			slog.String("order_id", orderID),
			slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func canRead(ctx context.Context, o *domain.Order) bool {
	if o.UserID == getUserIDFromContext(ctx) {
		return true
	}
	vendorID := getVendorIDFromContext(ctx)
	return vendorID != "" && o.VendorID == vendorID
}

func toResponse(o domain.Order) OrderResponse {
	b := ledger.Compute(o)
	return OrderResponse{Order: o, RefundedTotal: b.RefundsTotal, RemainingBalance: b.RemainingBalance}
}

func toResponses(orders []domain.Order) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toResponse(o))
	}
	return out
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Error("failed to encode response", slog.Any("error", err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
