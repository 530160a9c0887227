package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dannyCSStudent/mojara/internal/domain"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrDuplicateCheckout = errors.New("order for this checkout already exists")
	ErrEmptyOrder        = errors.New("order has no items")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// NewOrder is what a checkout hands to the store. Line totals are computed
// here and become authoritative.
type NewOrder struct {
	CheckoutID string
	MarketID   string
	VendorID   string
	UserID     string
	Currency   string
	Items      []domain.OrderItem
}

// OutboxChange is an order change waiting to be published.
type OutboxChange struct {
	ID        string
	OrderID   string
	Type      domain.ChangeType
	Payload   []byte
	CreatedAt time.Time
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order NewOrder) (*domain.Order, error)
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error)
	ListOrdersByVendor(ctx context.Context, vendorID string) ([]domain.Order, error)
	ConfirmOrder(ctx context.Context, id string) (*domain.Order, error)
	CancelOrder(ctx context.Context, id string) (*domain.Order, error)
	RefundOrder(ctx context.Context, id string, req domain.RefundRequest) (*domain.Order, error)
}

// ChangeStore is the outbox side of the repository.
type ChangeStore interface {
	GetUnpublishedChanges(ctx context.Context, limit int) ([]OutboxChange, error)
	MarkChangePublished(ctx context.Context, id string) error
}
