// Package realtime delivers order-change notifications for one user or vendor
// scope. A subscription is a scoped resource: it is opened when a screen
// becomes active and must be closed when it goes away.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/dannyCSStudent/mojara/internal/dedup"
	"github.com/dannyCSStudent/mojara/internal/domain"
	"github.com/dannyCSStudent/mojara/internal/pkg/logger"
)

const (
	DefaultTopic = "order-changes"

	bufferSize = 16
	retryDelay = time.Second
)

// Scope selects the notifications a subscription receives. An empty scope
// receives everything.
type Scope struct {
	UserID   string
	VendorID string
}

func (s Scope) Matches(c domain.OrderChange) bool {
	if s.UserID != "" && c.UserID != s.UserID {
		return false
	}
	if s.VendorID != "" && c.VendorID != s.VendorID {
		return false
	}
	return true
}

func (s Scope) String() string {
	switch {
	case s.UserID != "" && s.VendorID != "":
		return fmt.Sprintf("user:%s,vendor:%s", s.UserID, s.VendorID)
	case s.UserID != "":
		return "user:" + s.UserID
	case s.VendorID != "":
		return "vendor:" + s.VendorID
	default:
		return "all"
	}
}

// MessageReader is the part of *kafka.Reader a subscription needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	// GroupPrefix names the consumer groups. Every subscription gets its own
	// group so each one sees every message.
	GroupPrefix string
}

// Source opens subscriptions.
type Source struct {
	newReader func() MessageReader
	dedupTTL  time.Duration
	dedupMax  int
	logger    *slog.Logger
}

type Option func(*Source)

func WithLogger(l *slog.Logger) Option {
	return func(s *Source) { s.logger = l }
}

// WithDedup sets the window used to drop repeated notification ids.
func WithDedup(ttl time.Duration, maxSize int) Option {
	return func(s *Source) {
		s.dedupTTL = ttl
		s.dedupMax = maxSize
	}
}

func NewSource(newReader func() MessageReader, opts ...Option) *Source {
	s := &Source{
		newReader: newReader,
		dedupTTL:  dedup.DefaultTTL,
		dedupMax:  dedup.DefaultMaxSize,
		logger:    logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewKafkaSource reads the order-change topic. Subscriptions start at the
// latest offset: only changes made after the screen opened are of interest.
func NewKafkaSource(cfg KafkaConfig, opts ...Option) *Source {
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	prefix := cfg.GroupPrefix
	if prefix == "" {
		prefix = "orders-client"
	}

	return NewSource(func() MessageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			GroupID:     prefix + "-" + uuid.NewString(),
			StartOffset: kafka.LastOffset,
			MaxBytes:    10e6, // 10MB
		})
	}, opts...)
}

// Subscribe starts delivering notifications for scope until ctx is done or
// the subscription is closed.
func (s *Source) Subscribe(ctx context.Context, scope Scope) (*Subscription, error) {
	reader := s.newReader()
	if reader == nil {
		return nil, errors.New("realtime: no reader")
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		scope:  scope,
		ch:     make(chan domain.OrderChange, bufferSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	log := s.logger.With("scope", scope.String())
	log.DebugContext(ctx, "subscription opened")

	go sub.run(ctx, reader, dedup.NewWindow(s.dedupTTL, s.dedupMax), log)

	return sub, nil
}

type Subscription struct {
	scope  Scope
	ch     chan domain.OrderChange
	cancel context.CancelFunc
	done   chan struct{}
}

// C delivers matching, de-duplicated notifications. It is closed when the
// subscription ends.
func (s *Subscription) C() <-chan domain.OrderChange {
	return s.ch
}

func (s *Subscription) Scope() Scope {
	return s.scope
}

// Close stops the subscription and waits for its reader to be released. It is
// safe to call more than once.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

func (s *Subscription) run(ctx context.Context, reader MessageReader, window *dedup.Window, log *slog.Logger) {
	defer close(s.done)
	defer close(s.ch)
	defer func() {
		if err := reader.Close(); err != nil {
			log.Warn("error closing reader", "error", err)
		}
		log.Debug("subscription closed")
	}()

	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			log.WarnContext(ctx, "error reading message", "error", err)
			select {
			case <-time.After(retryDelay):
				continue
			case <-ctx.Done():
				return
			}
		}

		var change domain.OrderChange
		if err := json.Unmarshal(m.Value, &change); err != nil {
			log.WarnContext(ctx, "error parsing message", "offset", m.Offset, "error", err)
			continue
		}
		if !s.scope.Matches(change) {
			continue
		}

		id := change.EventID
		if id == "" {
			id = fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset)
		}
		if !window.Add(id) {
			log.DebugContext(ctx, "duplicate notification dropped", "event_id", id)
			continue
		}

		select {
		case s.ch <- change:
		case <-ctx.Done():
			return
		}
	}
}
