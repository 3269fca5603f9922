// Package kafka carries vault change notifications and link analytics over
// segmentio/kafka-go. Values are JSON; consumers hand raw messages to a
// MessageHandler and commit only after the handler succeeds.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/config"
	"github.com/segmentio/kafka-go"
)

// ErrSkipMessage tells the consumer to commit a message the handler could not
// use, so a poison message does not block the partition.
var ErrSkipMessage = errors.New("kafka: skip message")

// MessageHandler is invoked for each fetched message.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// ConsumerOption adjusts a Consumer.
type ConsumerOption func(*Consumer)

// WithGroup overrides the consumer group from the config.
func WithGroup(group string) ConsumerOption {
	return func(c *Consumer) { c.group = group }
}

// WithFirstOffset starts a new group at the oldest retained message instead
// of the newest.
func WithFirstOffset() ConsumerOption {
	return func(c *Consumer) { c.startOffset = kafka.FirstOffset }
}

// Consumer reads one topic and dispatches messages to a MessageHandler.
type Consumer struct {
	reader      *kafka.Reader
	logger      *slog.Logger
	handler     MessageHandler
	group       string
	startOffset int64
}

// NewConsumer creates a Consumer for topic.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		handler:     handler,
		group:       cfg.ConsumerGroup,
		startOffset: kafka.LastOffset,
		logger:      slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
	for _, o := range opts {
		o(c)
	}
	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     c.group,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: c.startOffset,
	})
	return c
}

// Start consumes until ctx is cancelled. Handler errors leave the message
// uncommitted unless they wrap ErrSkipMessage.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started", "group", c.group)
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		c.logger.Debug("message received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"value_size", len(msg.Value),
		)
		if err := c.handler(ctx, msg.Key, msg.Value); err != nil {
			if !errors.Is(err, ErrSkipMessage) {
				c.logger.Error("failed to process message",
					"partition", msg.Partition,
					"offset", msg.Offset,
					"error", err,
				)
				continue
			}
			c.logger.Warn("skipping message", "offset", msg.Offset, "error", err)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// DecodeJSON unmarshals a message value into T. Decode failures wrap
// ErrSkipMessage.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("%w: decoding message: %v", ErrSkipMessage, err)
	}
	return result, nil
}
