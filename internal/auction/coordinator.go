package auction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/sealedbid/internal/bus"
	"github.com/jensholdgaard/sealedbid/internal/event"
	"github.com/jensholdgaard/sealedbid/internal/store"
	"github.com/jensholdgaard/sealedbid/internal/telemetry"
)

// Status is the outcome of a settlement attempt. Only StatusSettled wrote
// anything.
type Status int

const (
	StatusIncomplete Status = iota + 1
	StatusAlreadySettled
	StatusSettled
	StatusStale
)

func (s Status) String() string {
	switch s {
	case StatusIncomplete:
		return "incomplete"
	case StatusAlreadySettled:
		return "already_settled"
	case StatusSettled:
		return "settled"
	case StatusStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Result describes a settlement attempt. Outcome is set only when Status
// is StatusSettled.
type Result struct {
	Status  Status
	Outcome *event.RoundSettled
}

// errLostRace rolls back a transaction that found the round settled by a
// concurrent attempt.
var errLostRace = errors.New("round settled concurrently")

// Coordinator settles complete rounds exactly once.
type Coordinator struct {
	tx        store.Transactor
	outbox    store.OutboxRepository
	pub       bus.Publisher
	rules     Rules
	topic     string
	txTimeout time.Duration
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *telemetry.Instruments
}

// NewCoordinator creates a Coordinator. Each settlement transaction is
// bounded by txTimeout.
func NewCoordinator(d Deps, txTimeout time.Duration) *Coordinator {
	return &Coordinator{
		tx:        d.Store.Tx,
		outbox:    d.Store.Outbox,
		pub:       d.Bus,
		rules:     d.Rules,
		topic:     d.Topics.Results,
		txTimeout: txTimeout,
		logger:    d.Logger,
		tracer:    d.TracerProvider.Tracer(tracerName),
		metrics:   d.Metrics,
	}
}

// HandleMessage is the bid topic handler. Undecodable payloads are logged
// and skipped.
func (c *Coordinator) HandleMessage(ctx context.Context, msg bus.Message) error {
	e, err := event.DecodeBidSubmitted(msg.Value)
	if err != nil {
		c.logger.WarnContext(ctx, "skipping malformed bid event",
			slog.String("key", msg.Key),
			slog.Any("error", err),
		)
		return nil
	}
	_, err = c.Settle(ctx, e.SessionID, e.Round)
	return err
}

// Settle settles round of sessionID if every participant has bid. It is
// safe to call any number of times, concurrently, for the same round.
func (c *Coordinator) Settle(ctx context.Context, sessionID string, round int) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator.Settle",
		trace.WithAttributes(
			attribute.String("session_id", sessionID),
			attribute.Int("round", round),
		),
	)
	defer span.End()

	res, err := c.settle(ctx, sessionID, round)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.metrics.SettleAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
		if IsIntegrity(err) {
			c.metrics.IntegrityFaults.Add(ctx, 1)
			telemetry.LogWithTrace(ctx, c.logger).ErrorContext(ctx, "settlement integrity fault",
				slog.String("session_id", sessionID),
				slog.Int("round", round),
				slog.Any("error", err),
				slog.Bool("alert", true),
			)
		} else {
			c.logger.ErrorContext(ctx, "settlement failed",
				slog.String("session_id", sessionID),
				slog.Int("round", round),
				slog.Any("error", err),
			)
		}
		return Result{}, err
	}

	span.SetAttributes(attribute.String("status", res.Status.String()))
	c.metrics.SettleAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", res.Status.String())))
	return res, nil
}

func (c *Coordinator) settle(ctx context.Context, sessionID string, round int) (Result, error) {
	if round < 1 || round > c.rules.TotalRounds {
		return Result{Status: StatusStale}, nil
	}

	txCtx, cancel := context.WithTimeout(ctx, c.txTimeout)
	defer cancel()

	var (
		res      Result
		outboxID int64
		payload  []byte
	)
	err := c.tx.WithinTx(txCtx, func(ctx context.Context, tx store.Repos) error {
		var err error
		res, outboxID, payload, err = c.settleTx(ctx, tx, sessionID, round)
		return err
	})
	if errors.Is(err, errLostRace) {
		c.logger.InfoContext(ctx, "round settled concurrently",
			slog.String("session_id", sessionID),
			slog.Int("round", round),
		)
		return Result{Status: StatusAlreadySettled}, nil
	}
	if err != nil {
		return Result{}, err
	}

	if res.Status == StatusSettled {
		c.logger.InfoContext(ctx, "round settled",
			slog.String("session_id", sessionID),
			slog.Int("round", round),
			slog.String("winner_id", res.Outcome.WinnerID),
			slog.Int("amount", res.Outcome.Amount),
		)
		c.publish(ctx, outboxID, sessionID, payload)
	}
	return res, nil
}

func (c *Coordinator) settleTx(ctx context.Context, tx store.Repos, sessionID string, round int) (Result, int64, []byte, error) {
	sess, err := tx.Sessions.GetForUpdate(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, 0, nil, integrity(sessionID, round, "bid for unknown session", err)
	}
	if err != nil {
		return Result{}, 0, nil, fmt.Errorf("locking session: %w", err)
	}

	switch {
	case sess.CurrentRound > round:
		if _, err := tx.Outcomes.Get(ctx, sessionID, round); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return Result{}, 0, nil, integrity(sessionID, round, "round passed without outcome", err)
			}
			return Result{}, 0, nil, fmt.Errorf("loading outcome: %w", err)
		}
		return Result{Status: StatusAlreadySettled}, 0, nil, nil
	case sess.CurrentRound < round:
		return Result{Status: StatusStale}, 0, nil, nil
	}

	bids, err := tx.Bids.ListByRound(ctx, sessionID, round)
	if err != nil {
		return Result{}, 0, nil, fmt.Errorf("loading bids: %w", err)
	}
	players, err := tx.Players.ListBySession(ctx, sessionID)
	if err != nil {
		return Result{}, 0, nil, fmt.Errorf("loading players: %w", err)
	}
	if len(bids) < len(players) || len(bids) == 0 {
		return Result{Status: StatusIncomplete}, 0, nil, nil
	}
	if len(bids) > len(players) {
		return Result{}, 0, nil, integrity(sessionID, round,
			fmt.Sprintf("%d bids for %d players", len(bids), len(players)), nil)
	}
	roster := make(map[string]bool, len(players))
	for _, p := range players {
		roster[p.PlayerID] = true
	}
	for _, b := range bids {
		if !roster[b.PlayerID] {
			return Result{}, 0, nil, integrity(sessionID, round,
				fmt.Sprintf("bid %s by non-participant %s", b.ID, b.PlayerID), nil)
		}
	}

	if _, err := tx.Outcomes.Get(ctx, sessionID, round); err == nil {
		return Result{Status: StatusAlreadySettled}, 0, nil, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return Result{}, 0, nil, fmt.Errorf("loading outcome: %w", err)
	}

	win := Winner(bids)

	if err := tx.Players.Debit(ctx, sessionID, win.PlayerID, win.Amount); err != nil {
		if errors.Is(err, store.ErrNegativeBalance) || errors.Is(err, store.ErrNotFound) {
			return Result{}, 0, nil, integrity(sessionID, round, "debiting winner", err)
		}
		return Result{}, 0, nil, fmt.Errorf("debiting winner: %w", err)
	}

	o := &store.Outcome{SessionID: sessionID, Round: round, WinnerID: win.PlayerID, Amount: win.Amount}
	if err := tx.Outcomes.Create(ctx, o); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return Result{}, 0, nil, errLostRace
		}
		return Result{}, 0, nil, fmt.Errorf("recording outcome: %w", err)
	}

	next := round + 1
	if err := tx.Sessions.AdvanceRound(ctx, sessionID, round, next <= c.rules.TotalRounds); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return Result{}, 0, nil, errLostRace
		}
		return Result{}, 0, nil, fmt.Errorf("advancing round: %w", err)
	}

	settled := &event.RoundSettled{
		SessionID: sessionID,
		Round:     round,
		Bids:      make([]event.BidEntry, 0, len(bids)),
		WinnerID:  win.PlayerID,
		Amount:    win.Amount,
		Subject:   c.rules.Subject(round),
	}
	for _, b := range bids {
		settled.Bids = append(settled.Bids, event.BidEntry{PlayerID: b.PlayerID, Amount: b.Amount})
	}
	payload, err := json.Marshal(settled)
	if err != nil {
		return Result{}, 0, nil, fmt.Errorf("marshalling round settled: %w", err)
	}

	msg := &store.OutboxMessage{Topic: c.topic, Key: sessionID, Payload: payload}
	if err := tx.Outbox.Append(ctx, msg); err != nil {
		return Result{}, 0, nil, fmt.Errorf("queueing round settled: %w", err)
	}

	return Result{Status: StatusSettled, Outcome: settled}, msg.ID, payload, nil
}

// publish sends a committed outbox message. On failure the message stays
// pending for the Relay.
func (c *Coordinator) publish(ctx context.Context, id int64, key string, payload []byte) {
	if err := c.pub.Publish(ctx, bus.Message{Topic: c.topic, Key: key, Value: payload}); err != nil {
		c.metrics.PublishFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", c.topic)))
		c.logger.ErrorContext(ctx, "publishing round settled failed, left for relay",
			slog.String("session_id", key),
			slog.Int64("outbox_id", id),
			slog.Any("error", err),
		)
		return
	}
	if err := c.outbox.MarkPublished(ctx, id); err != nil {
		c.logger.WarnContext(ctx, "marking outbox message published",
			slog.Int64("outbox_id", id),
			slog.Any("error", err),
		)
	}
}

// Winner returns the bid with the strictly greatest amount. Ties go to the
// earliest bid in bids, which storage orders by (created_at, id). bids
// must not be empty.
func Winner(bids []store.Bid) store.Bid {
	win := bids[0]
	for _, b := range bids[1:] {
		if b.Amount > win.Amount {
			win = b
		}
	}
	return win
}
