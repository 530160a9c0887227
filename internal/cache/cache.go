package cache

import (
	"context"
	"errors"

	"github.com/dannyCSStudent/mojara/internal/domain"
)

// OrderCache holds the last authoritative snapshot seen per order id.
type OrderCache interface {
	Get(ctx context.Context, orderID string) (*domain.Order, error)
	Set(ctx context.Context, order *domain.Order) error
	Delete(ctx context.Context, orderID string) error
}

var ErrCacheMiss = errors.New("cache miss")

// Nop is an OrderCache that stores nothing.
type Nop struct{}

func (Nop) Get(context.Context, string) (*domain.Order, error) { return nil, ErrCacheMiss }
func (Nop) Set(context.Context, *domain.Order) error           { return nil }
func (Nop) Delete(context.Context, string) error               { return nil }
