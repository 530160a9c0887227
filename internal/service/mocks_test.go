package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dannyCSStudent/mojara/internal/cache"
	"github.com/dannyCSStudent/mojara/internal/domain"
	"github.com/dannyCSStudent/mojara/internal/lifecycle"
)

// fakeAPI behaves like the order service: it applies the same transition
// table to its own copy of the order.
type fakeAPI struct {
	mu    sync.Mutex
	order domain.Order

	getErr     error
	mutateErr  error
	noSnapshot bool

	entered chan struct{}
	gate    chan struct{}

	// holdGet, when set, delays the response to the next GetOrder after the
	// order has been read. getHeld is closed once that read happened.
	holdGet chan struct{}
	getHeld chan struct{}

	gets     int
	confirms int
	cancels  int
	refunds  int
	keys     []string
}

func newFakeAPI(o domain.Order) *fakeAPI {
	return &fakeAPI{order: o}
}

func (f *fakeAPI) snapshot() *domain.Order {
	o := f.order.Clone()
	return &o
}

func (f *fakeAPI) GetOrder(context.Context, string) (*domain.Order, error) {
	f.mu.Lock()
	f.gets++
	o, err := f.snapshot(), f.getErr
	hold, held := f.holdGet, f.getHeld
	f.holdGet, f.getHeld = nil, nil
	f.mu.Unlock()

	if hold != nil {
		close(held)
		<-hold
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// memoryCache is an in-process cache.OrderCache.
type memoryCache struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

func newMemoryCache(orders ...domain.Order) *memoryCache {
	c := &memoryCache{orders: make(map[string]domain.Order)}
	for _, o := range orders {
		c.orders[o.ID] = o.Clone()
	}
	return c
}

func (c *memoryCache) Get(_ context.Context, orderID string) (*domain.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[orderID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	o = o.Clone()
	return &o, nil
}

func (c *memoryCache) Set(_ context.Context, o *domain.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders[o.ID] = o.Clone()
	return nil
}

func (c *memoryCache) Delete(_ context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.orders, orderID)
	return nil
}

// holdNextGet makes the next GetOrder answer with the current state only once
// the returned release func is called.
func (f *fakeAPI) holdNextGet() (held <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hold, h := make(chan struct{}), make(chan struct{})
	f.holdGet, f.getHeld = hold, h
	return h, func() { close(hold) }
}

func (f *fakeAPI) ListMyOrders(context.Context) ([]domain.Order, error) {
	return []domain.Order{f.order.Clone()}, nil
}

func (f *fakeAPI) ListVendorOrders(context.Context) ([]domain.Order, error) {
	return []domain.Order{f.order.Clone()}, nil
}

func (f *fakeAPI) ConfirmOrder(context.Context, string) (*domain.Order, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms++
	return f.apply(lifecycle.ActionConfirm, 0, "")
}

func (f *fakeAPI) CancelOrder(context.Context, string) (*domain.Order, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return f.apply(lifecycle.ActionCancel, 0, "")
}

func (f *fakeAPI) IssueRefund(_ context.Context, _ string, req domain.RefundRequest) (*domain.Order, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds++
	f.keys = append(f.keys, req.IdempotencyKey)
	o, err := f.apply(lifecycle.ActionRefund, req.Amount, req.Reason)
	if err != nil || f.noSnapshot {
		return nil, err
	}
	return o, nil
}

func (f *fakeAPI) wait() {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
}

// apply must be called with mu held.
func (f *fakeAPI) apply(action lifecycle.Action, amount domain.Money, reason string) (*domain.Order, error) {
	if err := f.mutateErr; err != nil {
		f.mutateErr = nil
		return nil, err
	}

	tr, err := lifecycle.Apply(f.order, action, amount)
	if err != nil {
		return nil, &domain.ConflictError{OrderID: f.order.ID, Message: err.Error()}
	}

	now := time.Now()
	event := domain.OrderEvent{Type: tr.Event, CreatedAt: now}
	if action == lifecycle.ActionRefund {
		f.order.Refunds = append(f.order.Refunds, domain.Refund{
			ID:        fmt.Sprintf("r%d", len(f.order.Refunds)+1),
			Amount:    amount,
			Reason:    reason,
			CreatedAt: now,
		})
		event.Amount = &amount
		event.Reason = reason
	}
	f.order.Status = tr.Status
	f.order.Events = append(f.order.Events, event)

	return f.snapshot(), nil
}

// setStatus changes the server copy as if another session had acted.
func (f *fakeAPI) setStatus(status domain.OrderStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order.Status = status
}

func (f *fakeAPI) addRefund(amount domain.Money) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order.Refunds = append(f.order.Refunds, domain.Refund{ID: "external", Amount: amount})
}

func (f *fakeAPI) counts() (gets, mutations int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets, f.confirms + f.cancels + f.refunds
}
