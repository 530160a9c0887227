// Package consumer turns completed checkouts into pending orders.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/dannyCSStudent/mojara/internal/domain"
	"github.com/dannyCSStudent/mojara/internal/pkg/logger"
	"github.com/dannyCSStudent/mojara/internal/repository"
)

const (
	DefaultTopic   = "checkout-outbox"
	DefaultGroupID = "orders-service"

	retryDelay = time.Second
)

// eventItem mirrors the item shape the checkout side publishes. Prices are
// decimal amounts, accepted as JSON numbers or strings.
type eventItem struct {
	ProductID   string       `json:"product_id"`
	ProductName string       `json:"product_name"`
	Quantity    int          `json:"quantity"`
	Price       domain.Money `json:"unit_price"`
}

type CheckoutCompletedEvent struct {
	CheckoutID string      `json:"checkout_id"`
	MarketID   string      `json:"market_id"`
	VendorID   string      `json:"vendor_id"`
	UserID     string      `json:"user_id"`
	Items      []eventItem `json:"items"`
	Currency   string      `json:"currency"`
}

// OrderCreator is the part of the repository the consumer writes to.
type OrderCreator interface {
	CreateOrder(ctx context.Context, order repository.NewOrder) (*domain.Order, error)
}

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Consumer struct {
	repo   OrderCreator
	reader MessageReader
	logger *slog.Logger
}

func NewConsumer(repo OrderCreator, reader MessageReader, log *slog.Logger) *Consumer {
	if log == nil {
		log = logger.Discard()
	}
	return &Consumer{repo: repo, reader: reader, logger: log.With(slog.String("component", "checkout_consumer"))}
}

func NewKafkaConsumer(repo OrderCreator, log *slog.Logger, brokers ...string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    DefaultTopic,
		GroupID:  DefaultGroupID,
		MaxBytes: 10e6, // 10MB
	})
	return NewConsumer(repo, reader, log)
}

// Run consumes until ctx is done or the reader is exhausted.
func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.processMessage(ctx); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
		}
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.logger.Error("error closing kafka reader", slog.Any("error", err))
	}
}

// processMessage returns an error only when reading failed. Bad payloads and
// duplicate checkouts are logged and skipped.
func (c *Consumer) processMessage(ctx context.Context) error {
	m, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
			return err
		}
		c.logger.ErrorContext(ctx, "error reading message", slog.Any("error", err))
		return err
	}

	var event CheckoutCompletedEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		c.logger.WarnContext(ctx, "error parsing message",
			slog.Int64("offset", m.Offset), slog.Any("error", err))
		return nil
	}

	if _, err := uuid.Parse(event.CheckoutID); err != nil {
		c.logger.WarnContext(ctx, "invalid checkout_id", slog.String("checkout_id", event.CheckoutID))
		return nil
	}

	items := make([]domain.OrderItem, len(event.Items))
	for i, item := range event.Items {
		items[i] = domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.ProductName,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		}
	}

	order, err := c.repo.CreateOrder(ctx, repository.NewOrder{
		CheckoutID: event.CheckoutID,
		MarketID:   event.MarketID,
		VendorID:   event.VendorID,
		UserID:     event.UserID,
		Currency:   event.Currency,
		Items:      items,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateCheckout) {
			c.logger.InfoContext(ctx, "order for checkout already exists, skipping",
				slog.String("checkout_id", event.CheckoutID))
			return nil
		}
		c.logger.ErrorContext(ctx, "failed to create order",
			slog.String("checkout_id", event.CheckoutID), slog.Any("error", err))
		return nil
	}

	c.logger.InfoContext(ctx, "order created",
		slog.String("order_id", order.ID), slog.String("checkout_id", event.CheckoutID))
	return nil
}
