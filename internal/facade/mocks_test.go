package facade

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dannyCSStudent/mojara/internal/domain"
)

type mockAPI struct {
	mu       sync.Mutex
	order    *domain.Order
	orders   []domain.Order
	err      error
	mutation *domain.Order
	gate     chan struct{}
	// holdFirst delays the response to the first GetOrder, which reads the
	// order before blocking.
	holdFirst chan struct{}

	gets      atomic.Int32
	refunds   []domain.RefundRequest
	confirmed int
	canceled  int
}

func (m *mockAPI) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	m.mu.Lock()
	var o domain.Order
	if m.order != nil {
		o = m.order.Clone()
	}
	err := m.err
	m.mu.Unlock()

	if m.gets.Add(1) == 1 && m.holdFirst != nil {
		<-m.holdFirst
	}
	if m.gate != nil {
		<-m.gate
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (m *mockAPI) setStatus(status domain.OrderStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order.Status = status
}

func (m *mockAPI) ListMyOrders(context.Context) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders, m.err
}

func (m *mockAPI) ListVendorOrders(context.Context) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders, m.err
}

func (m *mockAPI) ConfirmOrder(context.Context, string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmed++
	return m.mutation, m.err
}

func (m *mockAPI) CancelOrder(context.Context, string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canceled++
	return m.mutation, m.err
}

func (m *mockAPI) IssueRefund(_ context.Context, _ string, req domain.RefundRequest) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds = append(m.refunds, req)
	return m.mutation, m.err
}
