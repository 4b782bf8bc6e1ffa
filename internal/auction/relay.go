package auction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/sealedbid/internal/bus"
	"github.com/jensholdgaard/sealedbid/internal/clock"
	"github.com/jensholdgaard/sealedbid/internal/store"
	"github.com/jensholdgaard/sealedbid/internal/telemetry"
)

// Relay republishes committed outbox messages whose publish after commit
// failed or never happened (e.g. the settler crashed).
type Relay struct {
	outbox   store.OutboxRepository
	pub      bus.Publisher
	interval time.Duration
	grace    time.Duration
	batch    int
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *telemetry.Instruments
	clock    clock.Clock
}

// NewRelay creates a Relay that every interval publishes up to batch
// messages that have been pending for longer than grace.
func NewRelay(d Deps, interval, grace time.Duration, batch int) *Relay {
	return &Relay{
		outbox:   d.Store.Outbox,
		pub:      d.Bus,
		interval: interval,
		grace:    grace,
		batch:    batch,
		logger:   d.Logger,
		tracer:   d.TracerProvider.Tracer(tracerName),
		metrics:  d.Metrics,
		clock:    d.Clock,
	}
}

// Run flushes on every tick until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if _, err := r.Flush(ctx); err != nil {
				r.logger.ErrorContext(ctx, "outbox relay flush failed", slog.Any("error", err))
			}
		}
	}
}

// Flush publishes one batch of pending messages and returns how many were
// published. It stops at the first publish failure.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "Relay.Flush")
	defer span.End()

	pending, err := r.outbox.ListPending(ctx, r.clock.Now().Add(-r.grace), r.batch)
	if err != nil {
		return 0, fmt.Errorf("listing pending outbox messages: %w", err)
	}

	n := 0
	for _, m := range pending {
		if err := r.pub.Publish(ctx, bus.Message{Topic: m.Topic, Key: m.Key, Value: m.Payload}); err != nil {
			r.metrics.PublishFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", m.Topic)))
			return n, fmt.Errorf("republishing outbox message %d: %w", m.ID, err)
		}
		if err := r.outbox.MarkPublished(ctx, m.ID); err != nil {
			return n, err
		}
		n++
	}

	span.SetAttributes(attribute.Int("published", n))
	if n > 0 {
		r.logger.InfoContext(ctx, "outbox relay republished messages", slog.Int("count", n))
	}
	return n, nil
}
