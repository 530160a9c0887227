package http

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dannyCSStudent/mojara/internal/domain"
	"github.com/dannyCSStudent/mojara/internal/lifecycle"
	"github.com/dannyCSStudent/mojara/internal/repository"
)

// memoryRepo is an in-memory OrderRepository that applies the same
// transition table as the Postgres one.
type memoryRepo struct {
	mu        sync.Mutex
	orders    map[string]*domain.Order
	keys      map[string]bool
	checkouts map[string]bool
	err       error
}

func newMemoryRepo(orders ...domain.Order) *memoryRepo {
	m := &memoryRepo{
		orders:    map[string]*domain.Order{},
		keys:      map[string]bool{},
		checkouts: map[string]bool{},
	}
	for _, o := range orders {
		c := o.Clone()
		m.orders[o.ID] = &c
	}
	return m
}

func (m *memoryRepo) CreateOrder(_ context.Context, in repository.NewOrder) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if len(in.Items) == 0 {
		return nil, repository.ErrEmptyOrder
	}
	if in.CheckoutID != "" {
		if m.checkouts[in.CheckoutID] {
			return nil, repository.ErrDuplicateCheckout
		}
		m.checkouts[in.CheckoutID] = true
	}

	now := time.Now().UTC()
	o := domain.Order{
		ID:        uuid.NewString(),
		MarketID:  in.MarketID,
		VendorID:  in.VendorID,
		UserID:    in.UserID,
		Status:    domain.StatusPending,
		Currency:  in.Currency,
		Items:     append([]domain.OrderItem(nil), in.Items...),
		Refunds:   []domain.Refund{},
		Events:    []domain.OrderEvent{{ID: "1", Type: domain.EventCreated, CreatedAt: now}},
		CreatedAt: now,
	}
	o.Normalize()
	m.orders[o.ID] = &o
	c := o.Clone()
	return &c, nil
}

func (m *memoryRepo) GetOrderByID(_ context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	c := o.Clone()
	return &c, nil
}

func (m *memoryRepo) ListOrdersByUser(_ context.Context, userID string) ([]domain.Order, error) {
	return m.list(func(o *domain.Order) bool { return o.UserID == userID })
}

func (m *memoryRepo) ListOrdersByVendor(_ context.Context, vendorID string) ([]domain.Order, error) {
	return m.list(func(o *domain.Order) bool { return o.VendorID == vendorID })
}

func (m *memoryRepo) list(keep func(*domain.Order) bool) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Order
	for _, o := range m.orders {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

func (m *memoryRepo) ConfirmOrder(_ context.Context, id string) (*domain.Order, error) {
	return m.apply(id, lifecycle.ActionConfirm, domain.RefundRequest{})
}

func (m *memoryRepo) CancelOrder(_ context.Context, id string) (*domain.Order, error) {
	return m.apply(id, lifecycle.ActionCancel, domain.RefundRequest{})
}

func (m *memoryRepo) RefundOrder(_ context.Context, id string, req domain.RefundRequest) (*domain.Order, error) {
	if req.Amount <= 0 {
		return nil, &domain.ValidationError{OrderID: id, Message: "refund amount must be greater than $0.00"}
	}
	return m.apply(id, lifecycle.ActionRefund, req)
}

func (m *memoryRepo) apply(id string, action lifecycle.Action, req domain.RefundRequest) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}

	if req.IdempotencyKey != "" && m.keys[id+"/"+req.IdempotencyKey] {
		c := o.Clone()
		return &c, nil
	}

	tr, err := lifecycle.Apply(*o, action, req.Amount)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			return nil, &domain.ConflictError{OrderID: id, Message: ve.Message}
		}
		return nil, err
	}

	now := time.Now().UTC()
	event := domain.OrderEvent{ID: fmt.Sprint(len(o.Events) + 1), Type: tr.Event, CreatedAt: now}
	if action == lifecycle.ActionRefund {
		if req.IdempotencyKey != "" {
			m.keys[id+"/"+req.IdempotencyKey] = true
		}
		o.Refunds = append(o.Refunds, domain.Refund{ID: uuid.NewString(), Amount: req.Amount, Reason: req.Reason, CreatedAt: now})
		amount := req.Amount
		event.Amount = &amount
		event.Reason = req.Reason
	}
	o.Events = append(o.Events, event)
	o.Status = tr.Status
	o.UpdatedAt = now

	c := o.Clone()
	return &c, nil
}
