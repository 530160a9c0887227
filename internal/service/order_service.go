// Package service implements the order actions available to a user: loading an
// order, confirming or canceling it, issuing refunds and keeping it up to date
// while it is on screen.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dannyCSStudent/mojara/internal/domain"
	"github.com/dannyCSStudent/mojara/internal/facade"
	"github.com/dannyCSStudent/mojara/internal/lifecycle"
	"github.com/dannyCSStudent/mojara/internal/pkg/logger"
	"github.com/dannyCSStudent/mojara/internal/poller"
	"github.com/dannyCSStudent/mojara/internal/realtime"
	"github.com/dannyCSStudent/mojara/internal/session"
)

// Orders is the slice of *facade.Facade the service depends on.
type Orders interface {
	GetOrder(ctx context.Context, orderID string) (facade.Snapshot, error)
	Refresh(ctx context.Context, orderID string) (facade.Snapshot, error)
	CachedOrder(ctx context.Context, orderID string) (*domain.Order, bool)
	ConfirmOrder(ctx context.Context, orderID string) (facade.Snapshot, error)
	CancelOrder(ctx context.Context, orderID string) (facade.Snapshot, error)
	IssueRefund(ctx context.Context, orderID string, req domain.RefundRequest) (facade.Snapshot, error)
	Subscribe(ctx context.Context, scope realtime.Scope) (*realtime.Subscription, error)
}

type OrderService struct {
	orders       Orders
	logger       *slog.Logger
	newKey       func() string
	pollInterval time.Duration
}

type Option func(*OrderService)

func WithLogger(l *slog.Logger) Option {
	return func(s *OrderService) { s.logger = l }
}

func WithPollInterval(d time.Duration) Option {
	return func(s *OrderService) { s.pollInterval = d }
}

func NewOrderService(orders Orders, opts ...Option) *OrderService {
	s := &OrderService{
		orders:       orders,
		logger:       logger.Discard(),
		newKey:       uuid.NewString,
		pollInterval: poller.DefaultInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open starts a session for orderID and loads it. A cached snapshot, when
// there is one, is shown first under sequence zero so any network result
// replaces it.
func (s *OrderService) Open(ctx context.Context, orderID string) (*session.Session, error) {
	sess := session.New(orderID)
	if cached, ok := s.orders.CachedOrder(ctx, orderID); ok {
		sess.Apply(0, *cached)
	}
	if err := s.Load(ctx, sess); err != nil {
		return sess, err
	}
	return sess, nil
}

// Load fetches the authoritative order into sess. A result that lost the race
// against a newer fetch is dropped by the session.
func (s *OrderService) Load(ctx context.Context, sess *session.Session) error {
	return s.load(ctx, sess, s.orders.GetOrder)
}

// Reload is Load with a request issued now, never one shared with a fetch
// already in flight.
func (s *OrderService) Reload(ctx context.Context, sess *session.Session) error {
	return s.load(ctx, sess, s.orders.Refresh)
}

func (s *OrderService) load(ctx context.Context, sess *session.Session, get func(context.Context, string) (facade.Snapshot, error)) error {
	snap, err := get(ctx, sess.OrderID())
	if err != nil {
		if domain.IsNotFound(err) {
			sess.MarkGone()
		}
		return err
	}

	if !sess.Apply(snap.Seq, snap.Order) {
		s.logger.DebugContext(ctx, "stale order snapshot discarded", "order_id", sess.OrderID(), "seq", snap.Seq)
	}
	return nil
}

func (s *OrderService) Confirm(ctx context.Context, sess *session.Session) (lifecycle.View, error) {
	return s.mutate(ctx, sess, lifecycle.ActionConfirm, 0,
		func(o *domain.Order) { o.Status = domain.StatusConfirmed },
		func(ctx context.Context) (facade.Snapshot, error) {
			return s.orders.ConfirmOrder(ctx, sess.OrderID())
		})
}

func (s *OrderService) Cancel(ctx context.Context, sess *session.Session) (lifecycle.View, error) {
	return s.mutate(ctx, sess, lifecycle.ActionCancel, 0,
		func(o *domain.Order) { o.Status = domain.StatusCanceled },
		func(ctx context.Context) (facade.Snapshot, error) {
			return s.orders.CancelOrder(ctx, sess.OrderID())
		})
}

// RequestRefund validates amountInput against the loaded order and submits a
// refund. Every call is a new refund request; use SubmitRefund to retry the
// same request.
func (s *OrderService) RequestRefund(ctx context.Context, sess *session.Session, amountInput, reason string) (lifecycle.View, error) {
	return s.refund(ctx, sess, amountInput, reason, s.newKey())
}

// OpenRefundForm prepares form for a new refund on sess.
func (s *OrderService) OpenRefundForm(form *RefundForm) {
	form.Reset()
	form.Open = true
	form.IdempotencyKey = s.newKey()
}

// SubmitRefund submits the refund described by form. On success the form is
// closed and cleared. On failure it stays open with Error set so the user can
// correct the input or retry.
func (s *OrderService) SubmitRefund(ctx context.Context, sess *session.Session, form *RefundForm) (lifecycle.View, error) {
	if !form.Open {
		return lifecycle.View{}, ErrFormClosed
	}
	if form.IdempotencyKey == "" {
		form.IdempotencyKey = s.newKey()
	}

	view, err := s.refund(ctx, sess, form.AmountInput, form.Reason, form.IdempotencyKey)
	if err != nil {
		form.Error = err.Error()
		if domain.IsConflict(err) {
			// the rejected request is settled; a retry is a new request
			form.IdempotencyKey = s.newKey()
		}
		return view, err
	}

	form.Reset()
	return view, nil
}

func (s *OrderService) refund(ctx context.Context, sess *session.Session, amountInput, reason, key string) (lifecycle.View, error) {
	amount, err := domain.ParseMoney(amountInput)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			ve.OrderID = sess.OrderID()
		}
		return lifecycle.View{}, err
	}

	req := domain.RefundRequest{Amount: amount, Reason: reason, IdempotencyKey: key}

	return s.mutate(ctx, sess, lifecycle.ActionRefund, amount, nil,
		func(ctx context.Context) (facade.Snapshot, error) {
			return s.orders.IssueRefund(ctx, sess.OrderID(), req)
		})
}

// mutate runs the guard, takes the action slot, shows the optional tentative
// patch and replaces it with the authoritative result. Guard failures never
// reach the network.
func (s *OrderService) mutate(
	ctx context.Context,
	sess *session.Session,
	action lifecycle.Action,
	amount domain.Money,
	tentative func(o *domain.Order),
	call func(ctx context.Context) (facade.Snapshot, error),
) (lifecycle.View, error) {
	log := s.logger.With("order_id", sess.OrderID(), "action", action.String())

	if sess.Gone() {
		return lifecycle.View{}, &domain.NotFoundError{OrderID: sess.OrderID()}
	}
	current, ok := sess.Authoritative()
	if !ok {
		return lifecycle.View{}, ErrNotLoaded
	}
	if err := lifecycle.Check(current, action, amount); err != nil {
		log.DebugContext(ctx, "action rejected locally", "error", err)
		return lifecycle.View{}, err
	}

	release, err := sess.Begin(action)
	if err != nil {
		return lifecycle.View{}, err
	}
	defer release()

	if tentative != nil {
		sess.ApplyTentative(tentative)
	}

	snap, err := call(ctx)
	if err != nil {
		sess.DiscardTentative()
		return s.recover(ctx, sess, log, err)
	}

	if !sess.Apply(snap.Seq, snap.Order) {
		log.DebugContext(ctx, "action result superseded by a newer snapshot", "seq", snap.Seq)
	}
	log.InfoContext(ctx, "order action completed", "amount", amount.String())

	view, _ := sess.View()
	return view, nil
}

func (s *OrderService) recover(ctx context.Context, sess *session.Session, log *slog.Logger, err error) (lifecycle.View, error) {
	switch {
	case domain.IsNotFound(err):
		sess.MarkGone()
		log.InfoContext(ctx, "order no longer exists", "error", err)
	case domain.IsConflict(err):
		log.InfoContext(ctx, "action conflicted, reloading order", "error", err)
		if reloadErr := s.Reload(ctx, sess); reloadErr != nil {
			log.WarnContext(ctx, "reload after conflict failed", "error", reloadErr)
		}
	case domain.IsTransient(err):
		log.WarnContext(ctx, "action failed, retry possible", "error", err)
	default:
		log.ErrorContext(ctx, "action failed", "error", err)
	}

	view, _ := sess.View()
	return view, err
}
