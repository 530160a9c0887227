package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/dannyCSStudent/mojara/internal/domain"
)

func setupKafka(t *testing.T) string {
	ctx := context.Background()

	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	conn, err := kafka.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafka.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func TestKafkaSource_DeliversScopedChanges(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping kafka integration test in short mode")
	}

	broker := setupKafka(t)
	createTopic(t, broker, DefaultTopic)

	src := NewKafkaSource(KafkaConfig{Brokers: []string{broker}})
	sub, err := src.Subscribe(context.Background(), Scope{VendorID: "v1"})
	require.NoError(t, err)
	defer sub.Close()

	w := &kafka.Writer{Addr: kafka.TCP(broker), Topic: DefaultTopic, Balancer: &kafka.Hash{}}
	defer w.Close()

	// the consumer group starts at the latest offset, so keep publishing
	// until the subscription has joined and picks one up
	require.Eventually(t, func() bool {
		change := domain.OrderChange{
			EventID:  fmt.Sprintf("e-%d", time.Now().UnixNano()),
			Type:     domain.ChangeUpdate,
			OrderID:  "o1",
			VendorID: "v1",
		}
		data, _ := json.Marshal(change)
		if err := w.WriteMessages(context.Background(), kafka.Message{Key: []byte(change.OrderID), Value: data}); err != nil {
			return false
		}

		select {
		case got := <-sub.C():
			assert.Equal(t, "o1", got.OrderID)
			return true
		case <-time.After(time.Second):
			return false
		}
	}, 60*time.Second, 100*time.Millisecond)
}
