// Package kafka implements bus.Bus on Apache Kafka using segmentio/kafka-go.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/jensholdgaard/sealedbid/internal/bus"
)

// Bus publishes through one shared writer and opens a reader per
// subscription.
type Bus struct {
	brokers    []string
	writer     *kafkago.Writer
	logger     *slog.Logger
	livePrefix string
}

// Option configures a Bus.
type Option func(*Bus)

// WithLiveGroups makes consumer groups named with prefix start at the
// newest offset when they have nothing committed. Every other group starts
// at the oldest retained message.
func WithLiveGroups(prefix string) Option {
	return func(b *Bus) { b.livePrefix = prefix }
}

// New returns a Bus for the given broker addresses.
func New(brokers []string, logger *slog.Logger, opts ...Option) *Bus {
	b := &Bus{
		brokers: brokers,
		logger:  logger,
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(brokers...),
			Balancer:               &kafkago.Hash{},
			RequiredAcks:           kafkago.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// startOffset is where group begins when it has no committed offset.
func (b *Bus) startOffset(group string) int64 {
	if b.livePrefix != "" && strings.HasPrefix(group, b.livePrefix) {
		return kafkago.LastOffset
	}
	return kafkago.FirstOffset
}

// Publish writes msgs synchronously; it returns once the brokers acked.
func (b *Bus) Publish(ctx context.Context, msgs ...bus.Message) error {
	out := make([]kafkago.Message, len(msgs))
	for i, m := range msgs {
		out[i] = kafkago.Message{Topic: m.Topic, Key: []byte(m.Key), Value: m.Value}
	}
	if err := b.writer.WriteMessages(ctx, out...); err != nil {
		return fmt.Errorf("writing %d kafka messages: %w", len(msgs), err)
	}
	return nil
}

// Subscribe consumes topic as a member of group. Offsets are committed
// after the handler returns, whether or not it failed. A group without a
// committed offset starts as described by WithLiveGroups.
func (b *Bus) Subscribe(ctx context.Context, topic, group string, h bus.Handler) error {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     b.brokers,
		GroupID:     group,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: b.startOffset(group),
	})
	defer func() {
		if err := r.Close(); err != nil {
			b.logger.Error("closing kafka reader", slog.String("topic", topic), slog.Any("error", err))
		}
	}()

	logger := b.logger.With(slog.String("topic", topic), slog.String("group", group))
	logger.InfoContext(ctx, "kafka subscription started")

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetching from %s: %w", topic, err)
		}

		msg := bus.Message{Topic: m.Topic, Key: string(m.Key), Value: m.Value}
		if err := h(ctx, msg); err != nil {
			logger.ErrorContext(ctx, "handling message",
				slog.Int("partition", m.Partition),
				slog.Int64("offset", m.Offset),
				slog.Any("error", err),
			)
		}

		if err := r.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("committing offset %d on %s: %w", m.Offset, topic, err)
		}
	}
}

// Ping dials the first reachable broker.
func (b *Bus) Ping(ctx context.Context) error {
	var errs []error
	for _, addr := range b.brokers {
		conn, err := kafkago.DialContext(ctx, "tcp", addr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return conn.Close()
	}
	return fmt.Errorf("no kafka broker reachable: %w", errors.Join(errs...))
}

// Close flushes and closes the writer.
func (b *Bus) Close() error {
	return b.writer.Close()
}
