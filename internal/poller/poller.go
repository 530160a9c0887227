// Package poller re-fetches an order periodically while a condition holds.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/dannyCSStudent/mojara/internal/domain"
	"github.com/dannyCSStudent/mojara/internal/pkg/logger"
)

const DefaultInterval = 3 * time.Second

// FetchFunc performs one refresh. Its result is delivered elsewhere.
type FetchFunc func(ctx context.Context) error

type Poller struct {
	interval time.Duration
	fetch    FetchFunc
	enabled  func() bool
	paused   func() bool
	logger   *slog.Logger
}

type Option func(*Poller)

func WithInterval(d time.Duration) Option {
	return func(p *Poller) { p.interval = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// WithPause skips the fetch on every tick for which paused reports true. The
// loop keeps running, so fetching resumes on the first tick after it turns
// false again.
func WithPause(paused func() bool) Option {
	return func(p *Poller) { p.paused = paused }
}

// New builds a poller that calls fetch while enabled reports true, e.g. while
// the order is pending.
func New(fetch FetchFunc, enabled func() bool, opts ...Option) *Poller {
	p := &Poller{
		interval: DefaultInterval,
		fetch:    fetch,
		enabled:  enabled,
		paused:   func() bool { return false },
		logger:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.paused == nil {
		p.paused = func() bool { return false }
	}
	return p
}

// Run fetches once immediately and then on every tick that is not paused. It
// returns nil as soon as enabled reports false or ctx is done, without issuing
// another request. Failed fetches are logged and the loop carries on, except when the order is
// gone, in which case the NotFoundError is returned.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil || !p.enabled() {
			return nil
		}

		if p.paused() {
			if err := p.wait(ctx, ticker); err != nil {
				return nil
			}
			continue
		}

		if err := p.fetch(ctx); err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case domain.IsNotFound(err):
				p.logger.InfoContext(ctx, "order gone, polling stopped", "error", err)
				return err
			case domain.IsTransient(err):
				p.logger.WarnContext(ctx, "poll failed, will retry", "error", err)
			default:
				p.logger.ErrorContext(ctx, "poll failed", "error", err)
			}
		}

		if err := p.wait(ctx, ticker); err != nil {
			return nil
		}
	}
}

func (p *Poller) wait(ctx context.Context, ticker *time.Ticker) error {
	select {
	case <-ticker.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
