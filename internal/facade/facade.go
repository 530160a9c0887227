// Package facade is the single entry point the rest of the client uses to
// read and mutate orders. It stamps every request with a fetch sequence so
// callers can discard responses that arrive out of order.
package facade

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dannyCSStudent/mojara/internal/cache"
	"github.com/dannyCSStudent/mojara/internal/domain"
	"github.com/dannyCSStudent/mojara/internal/pkg/logger"
	"github.com/dannyCSStudent/mojara/internal/realtime"
)

// OrdersAPI is the remote order service. *client.Client implements it.
type OrdersAPI interface {
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListMyOrders(ctx context.Context) ([]domain.Order, error)
	ListVendorOrders(ctx context.Context) ([]domain.Order, error)
	ConfirmOrder(ctx context.Context, orderID string) (*domain.Order, error)
	CancelOrder(ctx context.Context, orderID string) (*domain.Order, error)
	IssueRefund(ctx context.Context, orderID string, req domain.RefundRequest) (*domain.Order, error)
}

// Subscriber opens scoped push subscriptions. *realtime.Source implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, scope realtime.Scope) (*realtime.Subscription, error)
}

var ErrNoSubscriber = errors.New("realtime updates are not configured")

const cacheWriteTimeout = time.Second

// Snapshot is an authoritative order together with the sequence number of the
// request that produced it. A higher Seq was issued later.
type Snapshot struct {
	Order     domain.Order
	Seq       uint64
	FetchedAt time.Time
}

type Facade struct {
	api        OrdersAPI
	cache      cache.OrderCache
	subscriber Subscriber
	logger     *slog.Logger

	seq atomic.Uint64
	sfg singleflight.Group
	now func() time.Time
}

type Option func(*Facade)

func WithCache(c cache.OrderCache) Option {
	return func(f *Facade) { f.cache = c }
}

func WithSubscriber(s Subscriber) Option {
	return func(f *Facade) { f.subscriber = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(f *Facade) { f.logger = l }
}

func New(api OrdersAPI, opts ...Option) *Facade {
	f := &Facade{
		api:    api,
		cache:  cache.Nop{},
		logger: logger.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.cache == nil {
		f.cache = cache.Nop{}
	}
	return f
}

// NextSeq reserves a sequence number. Sequence numbers are handed out in the
// order requests are issued.
func (f *Facade) NextSeq() uint64 {
	return f.seq.Add(1)
}

// GetOrder fetches the authoritative snapshot. Concurrent calls for the same
// id share one request and one sequence number.
func (f *Facade) GetOrder(ctx context.Context, orderID string) (Snapshot, error) {
	v, err, _ := f.sfg.Do(orderID, func() (any, error) {
		seq := f.NextSeq()

		o, err := f.api.GetOrder(ctx, orderID)
		if err != nil {
			if domain.IsNotFound(err) {
				f.forget(ctx, orderID)
			}
			return nil, err
		}

		f.remember(ctx, o)
		return Snapshot{Order: *o, Seq: seq, FetchedAt: f.now()}, nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	snap := v.(Snapshot)
	snap.Order = snap.Order.Clone()
	return snap, nil
}

// Refresh fetches the authoritative snapshot with a request issued now. Unlike
// GetOrder it never joins a fetch that was already in flight, so the result
// reflects every change made before the call.
func (f *Facade) Refresh(ctx context.Context, orderID string) (Snapshot, error) {
	f.sfg.Forget(orderID)
	return f.GetOrder(ctx, orderID)
}

// CachedOrder returns the last snapshot stored for orderID, if any. It never
// touches the network.
func (f *Facade) CachedOrder(ctx context.Context, orderID string) (*domain.Order, bool) {
	o, err := f.cache.Get(ctx, orderID)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			f.logger.WarnContext(ctx, "order cache read failed", "order_id", orderID, "error", err)
		}
		return nil, false
	}
	return o, true
}

func (f *Facade) ListMyOrders(ctx context.Context) ([]domain.Order, error) {
	return f.list(ctx, f.api.ListMyOrders)
}

func (f *Facade) ListVendorOrders(ctx context.Context) ([]domain.Order, error) {
	return f.list(ctx, f.api.ListVendorOrders)
}

func (f *Facade) ConfirmOrder(ctx context.Context, orderID string) (Snapshot, error) {
	return f.mutate(ctx, orderID, func(ctx context.Context) (*domain.Order, error) {
		return f.api.ConfirmOrder(ctx, orderID)
	})
}

func (f *Facade) CancelOrder(ctx context.Context, orderID string) (Snapshot, error) {
	return f.mutate(ctx, orderID, func(ctx context.Context) (*domain.Order, error) {
		return f.api.CancelOrder(ctx, orderID)
	})
}

// IssueRefund submits the refund and returns the authoritative order
// afterwards, re-fetching it when the service did not send it back.
func (f *Facade) IssueRefund(ctx context.Context, orderID string, req domain.RefundRequest) (Snapshot, error) {
	return f.mutate(ctx, orderID, func(ctx context.Context) (*domain.Order, error) {
		return f.api.IssueRefund(ctx, orderID, req)
	})
}

func (f *Facade) Subscribe(ctx context.Context, scope realtime.Scope) (*realtime.Subscription, error) {
	if f.subscriber == nil {
		return nil, ErrNoSubscriber
	}
	return f.subscriber.Subscribe(ctx, scope)
}

func (f *Facade) mutate(ctx context.Context, orderID string, call func(context.Context) (*domain.Order, error)) (Snapshot, error) {
	seq := f.NextSeq()

	o, err := call(ctx)
	if err != nil {
		switch {
		case domain.IsNotFound(err):
			f.forget(ctx, orderID)
		case domain.IsConflict(err):
			// the cached copy is what the service just disagreed with
			f.forget(ctx, orderID)
		}
		return Snapshot{}, err
	}

	if o == nil {
		return f.Refresh(ctx, orderID)
	}

	f.remember(ctx, o)
	return Snapshot{Order: *o, Seq: seq, FetchedAt: f.now()}, nil
}

func (f *Facade) list(ctx context.Context, fetch func(context.Context) ([]domain.Order, error)) ([]domain.Order, error) {
	orders, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	for i := range orders {
		f.remember(ctx, &orders[i])
	}
	return orders, nil
}

func (f *Facade) remember(ctx context.Context, o *domain.Order) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheWriteTimeout)
	defer cancel()

	if err := f.cache.Set(ctx, o); err != nil {
		f.logger.WarnContext(ctx, "order cache write failed", "order_id", o.ID, "error", err)
	}
}

func (f *Facade) forget(ctx context.Context, orderID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheWriteTimeout)
	defer cancel()

	if err := f.cache.Delete(ctx, orderID); err != nil {
		f.logger.WarnContext(ctx, "order cache invalidate failed", "order_id", orderID, "error", err)
	}
}
