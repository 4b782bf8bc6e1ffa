package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/sealedbid/internal/store"
)

// maxNameLen bounds participant display names.
const maxNameLen = 64

// Lobby creates sessions and admits participants before the first bid.
type Lobby struct {
	store  *store.Repositories
	rules  Rules
	logger *slog.Logger
	tracer trace.Tracer
}

// NewLobby creates a Lobby.
func NewLobby(d Deps) *Lobby {
	return &Lobby{
		store:  d.Store,
		rules:  d.Rules,
		logger: d.Logger,
		tracer: d.TracerProvider.Tracer(tracerName),
	}
}

// CreateSession opens a new session at round 1.
func (l *Lobby) CreateSession(ctx context.Context) (*store.Session, error) {
	ctx, span := l.tracer.Start(ctx, "Lobby.CreateSession")
	defer span.End()

	s := &store.Session{ID: uuid.NewString(), CurrentRound: 1, IsOpen: true}
	if err := l.store.Sessions.Create(ctx, s); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("session_id", s.ID))
	l.logger.InfoContext(ctx, "session created", slog.String("session_id", s.ID))
	return s, nil
}

// Connect admits name to sessionID. A name already in the session gets its
// existing identity back, even after bidding has started or the last round
// has settled.
func (l *Lobby) Connect(ctx context.Context, sessionID, name string) (*store.Player, error) {
	name = strings.TrimSpace(name)
	ctx, span := l.tracer.Start(ctx, "Lobby.Connect",
		trace.WithAttributes(
			attribute.String("session_id", sessionID),
			attribute.String("name", name),
		),
	)
	defer span.End()

	if name == "" || len(name) > maxNameLen {
		return nil, fmt.Errorf("%w: must be 1 to %d characters", ErrInvalidName, maxNameLen)
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, fmt.Errorf("session %q: %w", sessionID, ErrSessionNotFound)
	}

	var (
		player *store.Player
		joined bool
	)
	err := l.store.Tx.WithinTx(ctx, func(ctx context.Context, tx store.Repos) error {
		sess, err := tx.Sessions.GetForUpdate(ctx, sessionID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
		}
		if err != nil {
			return fmt.Errorf("locking session: %w", err)
		}

		players, err := tx.Players.ListBySession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("listing players: %w", err)
		}
		for i := range players {
			if players[i].Name == name {
				player = &players[i]
				return nil
			}
		}

		if l.rules.Closed(sess) {
			return fmt.Errorf("session %s: %w", sessionID, ErrSessionClosed)
		}
		if len(players) >= l.rules.MaxPlayers {
			return fmt.Errorf("session %s has %d players: %w", sessionID, len(players), ErrSessionFull)
		}
		n, err := tx.Bids.CountBySession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("counting bids: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("session %s: %w", sessionID, ErrAuctionStarted)
		}

		player = &store.Player{
			PlayerID:  uuid.NewString(),
			SessionID: sessionID,
			Name:      name,
			Money:     l.rules.StartingMoney,
		}
		if err := tx.Players.Create(ctx, player); err != nil {
			return fmt.Errorf("adding player: %w", err)
		}
		joined = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if joined {
		l.logger.InfoContext(ctx, "player joined",
			slog.String("session_id", sessionID),
			slog.String("player_id", player.PlayerID),
			slog.String("name", name),
		)
	} else {
		l.logger.InfoContext(ctx, "player rejoined",
			slog.String("session_id", sessionID),
			slog.String("player_id", player.PlayerID),
		)
	}
	return player, nil
}

// Player resolves a participant by id.
func (l *Lobby) Player(ctx context.Context, playerID string) (*store.Player, error) {
	if _, err := uuid.Parse(playerID); err != nil {
		return nil, fmt.Errorf("player %q: %w", playerID, ErrUnknownPlayer)
	}
	rows, err := l.store.Players.ListByPlayerID(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("resolving player: %w", err)
	}
	switch len(rows) {
	case 0:
		return nil, fmt.Errorf("player %s: %w", playerID, ErrUnknownPlayer)
	case 1:
		return &rows[0], nil
	default:
		return nil, integrity(rows[0].SessionID, 0,
			fmt.Sprintf("player %s belongs to %d sessions", playerID, len(rows)), nil)
	}
}
