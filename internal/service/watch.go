package service

import (
	"context"
	"errors"

	"github.com/dannyCSStudent/mojara/internal/domain"
	"github.com/dannyCSStudent/mojara/internal/facade"
	"github.com/dannyCSStudent/mojara/internal/poller"
	"github.com/dannyCSStudent/mojara/internal/realtime"
	"github.com/dannyCSStudent/mojara/internal/session"
)

// Watch keeps sess current until ctx is done: it polls while the order is
// pending, skipping ticks for which focused reports false, and re-fetches
// whenever a push notification for the order arrives on scope. Polling ends
// once the order leaves pending or the session is detached. It returns the
// NotFoundError when the order disappears.
func (s *OrderService) Watch(ctx context.Context, sess *session.Session, scope realtime.Scope, focused func() bool) error {
	ctx, cancel := context.WithCancel(ctx)

	var notes <-chan domain.OrderChange
	sub, err := s.orders.Subscribe(ctx, scope)
	switch {
	case err == nil:
		defer sub.Close()
		notes = sub.C()
	case errors.Is(err, facade.ErrNoSubscriber):
	default:
		s.logger.WarnContext(ctx, "push updates unavailable, polling only", "order_id", sess.OrderID(), "error", err)
	}

	p := poller.New(
		func(ctx context.Context) error { return s.Load(ctx, sess) },
		func() bool { return needsPolling(sess) },
		poller.WithPause(func() bool { return !focused() }),
		poller.WithInterval(s.pollInterval),
		poller.WithLogger(s.logger.With("order_id", sess.OrderID())),
	)

	pollDone := make(chan error, 1)
	go func() { pollDone <- p.Run(ctx) }()
	defer func() {
		cancel()
		if pollDone != nil {
			<-pollDone
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-pollDone:
			pollDone = nil
			if domain.IsNotFound(err) {
				return err
			}
			if notes == nil {
				return nil
			}

		case c, ok := <-notes:
			if !ok {
				notes = nil
				if pollDone == nil {
					return nil
				}
				continue
			}
			if c.OrderID != sess.OrderID() {
				continue
			}
			if c.Type == domain.ChangeDelete {
				sess.MarkGone()
				return &domain.NotFoundError{OrderID: c.OrderID}
			}
			if err := s.Reload(ctx, sess); err != nil {
				if domain.IsNotFound(err) {
					return err
				}
				s.logger.WarnContext(ctx, "refresh after notification failed", "order_id", sess.OrderID(), "error", err)
			}
		}
	}
}

// needsPolling holds while the order may still change on its own.
func needsPolling(sess *session.Session) bool {
	if sess.Detached() || sess.Gone() {
		return false
	}
	o, ok := sess.Authoritative()
	return !ok || o.Status == domain.StatusPending
}
