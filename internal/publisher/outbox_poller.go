// Package publisher relays the order outbox to the order-change topic.
package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/dannyCSStudent/mojara/internal/pkg/logger"
	"github.com/dannyCSStudent/mojara/internal/realtime"
	"github.com/dannyCSStudent/mojara/internal/repository"
)

const (
	defaultTick  = time.Second
	defaultBatch = 100
)

// MessageWriter is the part of *kafka.Writer the poller uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type OutboxPoller struct {
	tick   time.Duration
	batch  int
	store  repository.ChangeStore
	writer MessageWriter
	logger *slog.Logger
}

type Option func(*OutboxPoller)

func WithTick(d time.Duration) Option {
	return func(p *OutboxPoller) { p.tick = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *OutboxPoller) { p.logger = l }
}

func NewOutboxPoller(store repository.ChangeStore, writer MessageWriter, opts ...Option) *OutboxPoller {
	p := &OutboxPoller{
		tick:   defaultTick,
		batch:  defaultBatch,
		store:  store,
		writer: writer,
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("component", "outbox_poller"))
	return p
}

// NewKafkaWriter returns a writer for the order-change topic. An empty topic
// means realtime.DefaultTopic.
func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	if topic == "" {
		topic = realtime.DefaultTopic
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.publishPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) Close() error {
	return p.writer.Close()
}

// publishPending publishes one batch in outbox order and stops at the first
// failure so later changes of the same order are not published ahead of it.
func (p *OutboxPoller) publishPending(ctx context.Context) int {
	changes, err := p.store.GetUnpublishedChanges(ctx, p.batch)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to fetch outbox changes", slog.Any("error", err))
		return 0
	}

	published := 0
	for _, change := range changes {
		msg := kafka.Message{
			Key:   []byte(change.OrderID),
			Value: change.Payload,
			Headers: []kafka.Header{
				{Key: "change_type", Value: []byte(change.Type)},
			},
		}
		if err := p.writer.WriteMessages(ctx, msg); err != nil {
			p.logger.ErrorContext(ctx, "failed to publish change",
				slog.String("change_id", change.ID), slog.Any("error", err))
			return published
		}

		if err := p.store.MarkChangePublished(ctx, change.ID); err != nil {
			p.logger.ErrorContext(ctx, "failed to mark change as published",
				slog.String("change_id", change.ID), slog.Any("error", err))
			continue
		}
		published++
	}

	return published
}
