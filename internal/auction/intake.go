package auction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/sealedbid/internal/bus"
	"github.com/jensholdgaard/sealedbid/internal/event"
	"github.com/jensholdgaard/sealedbid/internal/store"
	"github.com/jensholdgaard/sealedbid/internal/telemetry"
)

// Receipt acknowledges a recorded bid.
type Receipt struct {
	BidID         string
	AcceptedRound int
}

// Intake validates and records bids, then announces them on the bid topic
// through the outbox. It never mutates sessions or balances.
type Intake struct {
	repos   store.Repos
	tx      store.Transactor
	pub     bus.Publisher
	rules   Rules
	topic   string
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *telemetry.Instruments
}

// NewIntake creates an Intake.
func NewIntake(d Deps) *Intake {
	return &Intake{
		repos:   d.Store.Repos,
		tx:      d.Store.Tx,
		pub:     d.Bus,
		rules:   d.Rules,
		topic:   d.Topics.Bids,
		logger:  d.Logger,
		tracer:  d.TracerProvider.Tracer(tracerName),
		metrics: d.Metrics,
	}
}

// SubmitBid records amount as playerID's bid for the current round of the
// player's session.
func (in *Intake) SubmitBid(ctx context.Context, playerID string, amount int) (Receipt, error) {
	ctx, span := in.tracer.Start(ctx, "Intake.SubmitBid",
		trace.WithAttributes(
			attribute.String("player_id", playerID),
			attribute.Int("amount", amount),
		),
	)
	defer span.End()

	rcpt, err := in.submit(ctx, playerID, amount)
	if err != nil {
		kind := Kind(err)
		if kind == "" {
			span.SetStatus(codes.Error, err.Error())
			in.logger.ErrorContext(ctx, "recording bid failed",
				slog.String("player_id", playerID),
				slog.Any("error", err),
				slog.Bool("alert", IsIntegrity(err)),
			)
			return Receipt{}, err
		}
		span.SetAttributes(attribute.String("rejected", kind))
		in.metrics.BidsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
		in.logger.InfoContext(ctx, "bid rejected",
			slog.String("player_id", playerID),
			slog.String("kind", kind),
		)
		return Receipt{}, err
	}

	in.metrics.BidsAccepted.Add(ctx, 1)
	return rcpt, nil
}

func (in *Intake) submit(ctx context.Context, playerID string, amount int) (Receipt, error) {
	if _, err := uuid.Parse(playerID); err != nil {
		return Receipt{}, fmt.Errorf("%w: playerId %q is not a UUID", ErrInvalidBid, playerID)
	}
	if amount < 0 {
		return Receipt{}, fmt.Errorf("%w: amount %d is negative", ErrInvalidBid, amount)
	}

	rows, err := in.repos.Players.ListByPlayerID(ctx, playerID)
	if err != nil {
		return Receipt{}, fmt.Errorf("resolving player: %w", err)
	}
	switch len(rows) {
	case 0:
		return Receipt{}, fmt.Errorf("player %s: %w", playerID, ErrUnknownPlayer)
	case 1:
	default:
		return Receipt{}, integrity(rows[0].SessionID, 0,
			fmt.Sprintf("player %s belongs to %d sessions", playerID, len(rows)), nil)
	}
	sessionID := rows[0].SessionID

	sess, err := in.repos.Sessions.Get(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return Receipt{}, integrity(sessionID, 0, "participant without session", err)
	}
	if err != nil {
		return Receipt{}, fmt.Errorf("loading session: %w", err)
	}
	if in.rules.Closed(sess) {
		return Receipt{}, fmt.Errorf("session %s: %w", sessionID, ErrAuctionClosed)
	}
	round := sess.CurrentRound

	// Read money after the session so a settlement committed in between
	// is reflected in both.
	player, err := in.repos.Players.Get(ctx, sessionID, playerID)
	if err != nil {
		return Receipt{}, fmt.Errorf("loading player: %w", err)
	}
	if amount > player.Money {
		return Receipt{}, fmt.Errorf("bid %d exceeds money %d: %w", amount, player.Money, ErrInsufficientFunds)
	}

	_, err = in.repos.Bids.Get(ctx, sessionID, round, playerID)
	switch {
	case err == nil:
		return Receipt{}, fmt.Errorf("round %d: %w", round, ErrDuplicateBid)
	case !errors.Is(err, store.ErrNotFound):
		return Receipt{}, fmt.Errorf("checking existing bid: %w", err)
	}

	bid := &store.Bid{
		ID:        uuid.NewString(),
		PlayerID:  playerID,
		SessionID: sessionID,
		Round:     round,
		Amount:    amount,
	}
	payload, err := json.Marshal(event.BidSubmitted{
		BidID:     bid.ID,
		PlayerID:  bid.PlayerID,
		SessionID: bid.SessionID,
		Round:     bid.Round,
		Amount:    bid.Amount,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("marshalling bid submitted: %w", err)
	}
	msg := &store.OutboxMessage{Topic: in.topic, Key: sessionID, Payload: payload}

	err = in.tx.WithinTx(ctx, func(ctx context.Context, tx store.Repos) error {
		if err := tx.Bids.Create(ctx, bid); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return fmt.Errorf("round %d: %w", round, ErrDuplicateBid)
			}
			return fmt.Errorf("recording bid: %w", err)
		}
		if err := tx.Outbox.Append(ctx, msg); err != nil {
			return fmt.Errorf("queueing bid submitted: %w", err)
		}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}

	in.logger.InfoContext(ctx, "bid recorded",
		slog.String("session_id", sessionID),
		slog.String("player_id", playerID),
		slog.Int("round", round),
	)
	in.announce(ctx, msg)

	return Receipt{BidID: bid.ID, AcceptedRound: round}, nil
}

// announce publishes the committed bid event and marks it sent. On failure
// the bid stands and the outbox row is left for the Relay.
func (in *Intake) announce(ctx context.Context, m *store.OutboxMessage) {
	if err := in.pub.Publish(ctx, bus.Message{Topic: m.Topic, Key: m.Key, Value: m.Payload}); err != nil {
		in.metrics.PublishFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", m.Topic)))
		in.logger.ErrorContext(ctx, "publishing bid failed, left for relay",
			slog.String("session_id", m.Key),
			slog.Int64("outbox_id", m.ID),
			slog.Any("error", err),
		)
		return
	}
	if err := in.repos.Outbox.MarkPublished(ctx, m.ID); err != nil {
		in.logger.WarnContext(ctx, "marking outbox message published",
			slog.Int64("outbox_id", m.ID),
			slog.Any("error", err),
		)
	}
}
