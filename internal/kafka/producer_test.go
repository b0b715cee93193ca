package kafka

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agnikulu/EditWarCatcher/internal/config"
	"github.com/Agnikulu/EditWarCatcher/internal/models"
)

// mockKafkaWriter is a test double for kafka.Writer
type mockKafkaWriter struct {
	mu             sync.Mutex
	messages       []kafka.Message
	writeCallCount int
	shouldError    bool
	closed         bool
}

func (m *mockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeCallCount++
	if m.shouldError {
		return fmt.Errorf("mock write error")
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *mockKafkaWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleReverts() []models.RevertEvent {
	return []models.RevertEvent{
		{Article: "Page", User: "Alice", RevID: 10, OldRevID: 9, Timestamp: t0, Comment: "rv"},
		{Article: "Other", User: "Bob", RevID: 11, OldRevID: 8, Timestamp: t0.Add(time.Minute), IsVandalism: true},
	}
}

func TestProducer_PublishReverts(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newProducer(w, DefaultTopic, zerolog.Nop())

	n, err := p.PublishReverts(context.Background(), sampleReverts())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, w.writeCallCount, "one batch per call")

	require.Len(t, w.messages, 2)
	msg := w.messages[0]
	assert.Equal(t, "Page", string(msg.Key))
	assert.Equal(t, t0, msg.Time)

	var decoded models.RevertEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, sampleReverts()[0], decoded)

	headers := map[string]string{}
	for _, h := range w.messages[1].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "Bob", headers["user"])
	assert.Equal(t, "11", headers["revid"])
	assert.Equal(t, "true", headers["vandalism"])
}

func TestProducer_EmptyBatchSkipsWrite(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newProducer(w, DefaultTopic, zerolog.Nop())

	n, err := p.PublishReverts(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, w.writeCallCount)
}

func TestProducer_WriteError(t *testing.T) {
	w := &mockKafkaWriter{shouldError: true}
	p := newProducer(w, DefaultTopic, zerolog.Nop())

	n, err := p.PublishReverts(context.Background(), sampleReverts())
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Contains(t, err.Error(), "mock write error")
}

func TestProducer_Close(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newProducer(w, DefaultTopic, zerolog.Nop())

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNewProducer_RequiresBrokers(t *testing.T) {
	_, err := NewProducer(&config.Kafka{Topic: "x"}, zerolog.Nop())
	assert.Error(t, err)

	p, err := NewProducer(&config.Kafka{Brokers: []string{"localhost:9092"}}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, DefaultTopic, p.topic)
	assert.Equal(t, "kafka", p.Name())
}

func TestKafkaLogFunc_EachCallIsOwnLine(t *testing.T) {
	var buf bytes.Buffer
	logf := kafkaLogFunc(zerolog.New(&buf), zerolog.ErrorLevel)

	logf("first %d", 1)
	logf("second %d", 2)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var entries []map[string]interface{}
	for _, line := range lines {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		entries = append(entries, entry)
	}
	assert.Equal(t, "error", entries[0]["level"])
	assert.Equal(t, "first 1", entries[0]["message"])
	assert.Equal(t, "second 2", entries[1]["message"])
}
