package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaOptions configures the alert topic producer.
type KafkaOptions struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// KafkaNotifier publishes alerts as JSON, keyed by signal key so one key
// always lands on the same partition.
type KafkaNotifier struct {
	writer messageWriter
	topic  string
	logger zerolog.Logger
}

type alertMessage struct {
	Key        string    `json:"key"`
	Symbol     string    `json:"symbol"`
	Indicator  string    `json:"indicator"`
	Level      string    `json:"level"`
	Regime     string    `json:"regime"`
	Message    string    `json:"message"`
	Price      string    `json:"price"`
	Value      string    `json:"value"`
	Source     string    `json:"source,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}

// NewKafkaNotifier builds a producer for the alert topic.
func NewKafkaNotifier(opts KafkaOptions, logger zerolog.Logger) (*KafkaNotifier, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if opts.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: opts.WriteTimeout,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaNotifier{
		writer: writer,
		topic:  opts.Topic,
		logger: logger.With().Str("component", "alert_kafka").Logger(),
	}, nil
}

// Notify writes one message and waits for the broker acknowledgement.
func (n *KafkaNotifier) Notify(ctx context.Context, note Notification) error {
	value, err := json.Marshal(alertMessage{
		Key:        note.Key.String(),
		Symbol:     note.Key.Symbol,
		Indicator:  note.Key.Indicator,
		Level:      string(note.Level),
		Regime:     string(note.Regime),
		Message:    note.Message,
		Price:      note.Price.String(),
		Value:      note.Value.String(),
		Source:     note.Source,
		DetectedAt: note.DetectedAt.UTC(),
	})
	if err != nil {
		return &NotificationError{Channel: "kafka", Err: fmt.Errorf("marshal alert: %w", err)}
	}

	msg := kafka.Message{
		Key:   []byte(note.Key.String()),
		Value: value,
		Time:  note.DetectedAt,
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return &NotificationError{Channel: "kafka", Err: fmt.Errorf("write %s: %w", n.topic, err)}
	}
	n.logger.Debug().Str("key", note.Key.String()).Str("topic", n.topic).Msg("alert published")
	return nil
}

// Close flushes pending writes.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

var _ Notifier = (*KafkaNotifier)(nil)
