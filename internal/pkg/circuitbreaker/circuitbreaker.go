// Package circuitbreaker wraps gobreaker for outbound calls to the order
// service.
package circuitbreaker

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrOpen is returned instead of calling through while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

type Settings struct {
	Name string

	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of probes let through while half-open.
	HalfOpenRequests uint32

	// IsFailure decides which errors count against the breaker. Defaults to
	// every non-nil error.
	IsFailure func(err error) bool
}

func DefaultSettings(name string) Settings {
	return Settings{
		Name:                name,
		ConsecutiveFailures: 5,
		OpenTimeout:         10 * time.Second,
		HalfOpenRequests:    1,
	}
}

type Breaker struct {
	cb *gobreaker.CircuitBreaker[struct{}]
}

func New(s Settings, logger *slog.Logger) *Breaker {
	isFailure := s.IsFailure
	if isFailure == nil {
		isFailure = func(err error) bool { return err != nil }
	}
	threshold := s.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}

	return &Breaker{
		cb: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        s.Name,
			MaxRequests: s.HalfOpenRequests,
			Timeout:     s.OpenTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				return !isFailure(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				if logger != nil {
					logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
				}
			},
		}),
	}
}

// Execute runs fn unless the breaker is open. fn's own error is returned
// unchanged.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

func (b *Breaker) State() string {
	return b.cb.State().String()
}
