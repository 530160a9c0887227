package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dannyCSStudent/mojara/internal/domain"
	"github.com/dannyCSStudent/mojara/internal/repository"
)

type mockStore struct {
	mu        sync.Mutex
	changes   []repository.OutboxChange
	published []string
	fetchErr  error
	markErr   error
}

func (m *mockStore) GetUnpublishedChanges(_ context.Context, limit int) ([]repository.OutboxChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	var out []repository.OutboxChange
	for _, c := range m.changes {
		if !m.isPublished(c.ID) && len(out) < limit {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockStore) MarkChangePublished(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	m.published = append(m.published, id)
	return nil
}

func (m *mockStore) isPublished(id string) bool {
	for _, p := range m.published {
		if p == id {
			return true
		}
	}
	return false
}

func (m *mockStore) publishedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.published...)
}

type mockWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	failOn   string
	closed   bool
}

func (w *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range msgs {
		if string(m.Value) == w.failOn {
			return errors.New("broker unavailable")
		}
		w.messages = append(w.messages, m)
	}
	return nil
}

func (w *mockWriter) Close() error {
	w.closed = true
	return nil
}

func changes() []repository.OutboxChange {
	return []repository.OutboxChange{
		{ID: "c1", OrderID: "o1", Type: domain.ChangeInsert, Payload: []byte(`{"n":1}`)},
		{ID: "c2", OrderID: "o1", Type: domain.ChangeUpdate, Payload: []byte(`{"n":2}`)},
		{ID: "c3", OrderID: "o2", Type: domain.ChangeInsert, Payload: []byte(`{"n":3}`)},
	}
}

func TestPublishPending_PublishesInOrder(t *testing.T) {
	store := &mockStore{changes: changes()}
	writer := &mockWriter{}
	p := NewOutboxPoller(store, writer)

	n := p.publishPending(context.Background())

	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"c1", "c2", "c3"}, store.publishedIDs())
	require.Len(t, writer.messages, 3)
	assert.Equal(t, "o1", string(writer.messages[0].Key))
	assert.Equal(t, "UPDATE", string(writer.messages[1].Headers[0].Value))
}

func TestPublishPending_StopsAtFirstWriteFailure(t *testing.T) {
	store := &mockStore{changes: changes()}
	writer := &mockWriter{failOn: `{"n":2}`}
	p := NewOutboxPoller(store, writer)

	n := p.publishPending(context.Background())

	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"c1"}, store.publishedIDs())
}

func TestPublishPending_FetchError(t *testing.T) {
	store := &mockStore{fetchErr: errors.New("db down")}
	writer := &mockWriter{}
	p := NewOutboxPoller(store, writer)

	assert.Zero(t, p.publishPending(context.Background()))
	assert.Empty(t, writer.messages)
}

func TestPublishPending_MarkErrorLeavesChangePending(t *testing.T) {
	store := &mockStore{changes: changes()[:1], markErr: errors.New("db down")}
	writer := &mockWriter{}
	p := NewOutboxPoller(store, writer)

	assert.Zero(t, p.publishPending(context.Background()))
	assert.Len(t, writer.messages, 1)
	assert.Empty(t, store.publishedIDs())
}

func TestRun_PublishesUntilCanceled(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &mockStore{changes: changes()}
	writer := &mockWriter{}
	p := NewOutboxPoller(store, writer, WithTick(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(store.publishedIDs()) == 3
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done

	require.NoError(t, p.Close())
	assert.True(t, writer.closed)
}
