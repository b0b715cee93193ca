package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"github.com/Agnikulu/EditWarCatcher/internal/config"
	"github.com/Agnikulu/EditWarCatcher/internal/models"
)

const (
	DefaultTopic     = "wikipedia.reverts"
	DefaultBatchSize = 100
)

// messageWriter is the part of kafka.Writer the producer needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes newly stored revert events so other consumers can
// follow the revert history without reading the store. Messages are keyed by
// article, so one article's reverts stay ordered within a partition.
type Producer struct {
	writer messageWriter
	topic  string
	logger zerolog.Logger
}

// NewProducer creates a synchronous producer for cfg.Topic.
func NewProducer(cfg *config.Kafka, logger zerolog.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no Kafka brokers provided")
	}

	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}

	kafkaLogger := logger.With().Str("component", "kafka-writer").Logger()
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Compression:  compress.Snappy,
		BatchSize:    DefaultBatchSize,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		Logger:       kafkaLogFunc(kafkaLogger, zerolog.DebugLevel),
		ErrorLogger:  kafkaLogFunc(kafkaLogger, zerolog.ErrorLevel),
	}

	p := newProducer(writer, topic, logger)
	p.logger.Info().Strs("brokers", cfg.Brokers).Msg("Kafka producer created")
	return p, nil
}

// kafkaLogFunc adapts a zerolog logger to kafka-go. Each call starts a new
// event; a zerolog event must not be reused after Msg.
func kafkaLogFunc(logger zerolog.Logger, level zerolog.Level) kafka.LoggerFunc {
	return func(msg string, args ...interface{}) {
		logger.WithLevel(level).Msgf(msg, args...)
	}
}

func newProducer(w messageWriter, topic string, logger zerolog.Logger) *Producer {
	return &Producer{
		writer: w,
		topic:  topic,
		logger: logger.With().Str("component", "kafka-producer").Str("topic", topic).Logger(),
	}
}

// Name identifies the sink in logs and metrics.
func (p *Producer) Name() string { return "kafka" }

// PublishReverts writes one message per event in a single batch.
func (p *Producer) PublishReverts(ctx context.Context, events []models.RevertEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for i := range events {
		msg, err := revertToMessage(&events[i])
		if err != nil {
			return 0, err
		}
		msgs = append(msgs, msg)
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, fmt.Errorf("failed to write batch to Kafka: %w", err)
	}

	p.logger.Debug().Int("batch_size", len(msgs)).Msg("Revert batch written")
	return len(msgs), nil
}

// revertToMessage converts a revert event to a Kafka message
func revertToMessage(e *models.RevertEvent) (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal revert %d: %w", e.RevID, err)
	}

	return kafka.Message{
		Key:   []byte(e.Article),
		Value: value,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "user", Value: []byte(e.User)},
			{Key: "revid", Value: []byte(strconv.FormatInt(e.RevID, 10))},
			{Key: "vandalism", Value: []byte(strconv.FormatBool(e.IsVandalism))},
		},
	}, nil
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka writer: %w", err)
	}
	p.logger.Info().Msg("Kafka producer closed")
	return nil
}
