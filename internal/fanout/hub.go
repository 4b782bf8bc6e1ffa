// Package fanout delivers settled round results to the participants whose
// event streams are connected to this process.
package fanout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/sealedbid/internal/bus"
	"github.com/jensholdgaard/sealedbid/internal/clock"
	"github.com/jensholdgaard/sealedbid/internal/event"
	"github.com/jensholdgaard/sealedbid/internal/telemetry"
)

const tracerName = "github.com/jensholdgaard/sealedbid/internal/fanout"

// Stream is one participant's connection. Delivery never blocks: a stream
// whose buffer is full is closed and its client must reconnect.
type Stream struct {
	PlayerID string

	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

// Done is closed when the stream is replaced or deregistered.
func (s *Stream) Done() <-chan struct{} { return s.done }

func (s *Stream) offer(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.frames <- frame:
		return true
	default:
		return false
	}
}

func (s *Stream) close() { s.once.Do(func() { close(s.done) }) }

// Options configures a Hub.
type Options struct {
	BufferSize int
	KeepAlive  time.Duration
}

// Hub is the table of connected streams, keyed by player id.
type Hub struct {
	opts    Options
	clock   clock.Clock
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *telemetry.Instruments

	mu      sync.Mutex
	streams map[string]*Stream
}

// NewHub creates a Hub.
func NewHub(opts Options, clk clock.Clock, logger *slog.Logger, tp trace.TracerProvider, metrics *telemetry.Instruments) *Hub {
	if opts.BufferSize < 1 {
		opts.BufferSize = 1
	}
	return &Hub{
		opts:    opts,
		clock:   clk,
		logger:  logger,
		tracer:  tp.Tracer(tracerName),
		metrics: metrics,
		streams: make(map[string]*Stream),
	}
}

// Register opens a stream for playerID. An existing stream for the same
// player is closed and replaced.
func (h *Hub) Register(ctx context.Context, playerID string) *Stream {
	s := &Stream{
		PlayerID: playerID,
		frames:   make(chan []byte, h.opts.BufferSize),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	old := h.streams[playerID]
	h.streams[playerID] = s
	h.mu.Unlock()

	if old != nil {
		old.close()
		h.logger.InfoContext(ctx, "stream replaced", slog.String("player_id", playerID))
	} else {
		h.metrics.FanoutOpenStreams.Add(ctx, 1)
	}
	return s
}

// Deregister removes s if it is still the player's current stream.
func (h *Hub) Deregister(ctx context.Context, s *Stream) {
	h.mu.Lock()
	current := h.streams[s.PlayerID] == s
	if current {
		delete(h.streams, s.PlayerID)
	}
	h.mu.Unlock()

	s.close()
	if current {
		h.metrics.FanoutOpenStreams.Add(ctx, -1)
	}
}

// Len returns the number of registered streams.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}

// HandleMessage is the round results topic handler.
func (h *Hub) HandleMessage(ctx context.Context, msg bus.Message) error {
	e, err := event.DecodeRoundSettled(msg.Value)
	if err != nil {
		h.logger.WarnContext(ctx, "skipping malformed round result",
			slog.String("key", msg.Key),
			slog.Any("error", err),
		)
		return nil
	}
	h.Deliver(ctx, e, msg.Value)
	return nil
}

// Deliver enqueues payload for every bidder of e connected here and
// returns how many streams received it. Absent players are skipped.
func (h *Hub) Deliver(ctx context.Context, e event.RoundSettled, payload []byte) int {
	ctx, span := h.tracer.Start(ctx, "Hub.Deliver",
		trace.WithAttributes(
			attribute.String("session_id", e.SessionID),
			attribute.Int("round", e.Round),
		),
	)
	defer span.End()

	delivered := 0
	for _, b := range e.Bids {
		h.mu.Lock()
		s := h.streams[b.PlayerID]
		h.mu.Unlock()

		if s == nil {
			h.metrics.FanoutSkipped.Add(ctx, 1)
			h.logger.DebugContext(ctx, "player not connected here", slog.String("player_id", b.PlayerID))
			continue
		}
		if !s.offer(payload) {
			h.Deregister(ctx, s)
			h.logger.WarnContext(ctx, "stream too slow, closed for reconnect",
				slog.String("player_id", b.PlayerID),
				slog.Int("round", e.Round),
			)
			continue
		}
		delivered++
	}

	h.metrics.FanoutDelivered.Add(ctx, int64(delivered))
	span.SetAttributes(attribute.Int("delivered", delivered))
	return delivered
}

// FlushWriter is an io.Writer that can push buffered bytes to the client.
type FlushWriter interface {
	io.Writer
	Flush()
}

// Serve registers playerID and writes server-sent events to w until ctx is
// done or the stream is replaced. The keep-alive ticker and the
// registration are released before Serve returns.
func (h *Hub) Serve(ctx context.Context, playerID string, w FlushWriter) error {
	ticker := h.clock.NewTicker(h.opts.KeepAlive)
	defer ticker.Stop()

	s := h.Register(ctx, playerID)
	defer h.Deregister(context.WithoutCancel(ctx), s)

	h.logger.InfoContext(ctx, "stream opened", slog.String("player_id", playerID))
	defer h.logger.InfoContext(ctx, "stream closed", slog.String("player_id", playerID))

	if err := writeFrame(w, ": connected\n\n"); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.Done():
			return nil
		case payload := <-s.frames:
			if err := writeFrame(w, "data: "+string(payload)+"\n\n"); err != nil {
				return err
			}
		case <-ticker.C():
			if err := writeFrame(w, ": keep-alive\n\n"); err != nil {
				return err
			}
		}
	}
}

func writeFrame(w FlushWriter, frame string) error {
	if _, err := io.WriteString(w, frame); err != nil {
		return fmt.Errorf("writing event stream: %w", err)
	}
	w.Flush()
	return nil
}
