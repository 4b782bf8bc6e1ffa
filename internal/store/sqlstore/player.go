package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/sealedbid/internal/clock"
	"github.com/jensholdgaard/sealedbid/internal/store"
)

const playerColumns = `player_id, session_id, name, money, created_at`

// PlayerRepo implements store.PlayerRepository.
type PlayerRepo struct {
	q     sqlx.ExtContext
	d     Dialect
	clock clock.Clock
}

func (r *PlayerRepo) Create(ctx context.Context, p *store.Player) error {
	p.CreatedAt = r.clock.Now().UTC()
	_, err := r.q.ExecContext(ctx, r.d.rebind(
		`INSERT INTO session_players (player_id, session_id, name, money, created_at)
		 VALUES (?, ?, ?, ?, ?)`),
		p.PlayerID, p.SessionID, p.Name, p.Money, r.d.ts(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("creating player %q: %w", p.Name, r.d.translate(err))
	}
	return nil
}

func (r *PlayerRepo) Get(ctx context.Context, sessionID, playerID string) (*store.Player, error) {
	var p store.Player
	err := sqlx.GetContext(ctx, r.q, &p, r.d.rebind(
		`SELECT `+playerColumns+` FROM session_players WHERE session_id = ? AND player_id = ?`),
		sessionID, playerID,
	)
	if err != nil {
		return nil, fmt.Errorf("getting player %s: %w", playerID, r.d.translate(err))
	}
	return &p, nil
}

func (r *PlayerRepo) ListByPlayerID(ctx context.Context, playerID string) ([]store.Player, error) {
	var players []store.Player
	err := sqlx.SelectContext(ctx, r.q, &players, r.d.rebind(
		`SELECT `+playerColumns+` FROM session_players WHERE player_id = ?`), playerID)
	if err != nil {
		return nil, fmt.Errorf("listing player %s: %w", playerID, r.d.translate(err))
	}
	return players, nil
}

func (r *PlayerRepo) ListBySession(ctx context.Context, sessionID string) ([]store.Player, error) {
	var players []store.Player
	err := sqlx.SelectContext(ctx, r.q, &players, r.d.rebind(
		`SELECT `+playerColumns+` FROM session_players WHERE session_id = ?
		 ORDER BY created_at ASC, player_id ASC`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing players of session %s: %w", sessionID, r.d.translate(err))
	}
	return players, nil
}

func (r *PlayerRepo) Debit(ctx context.Context, sessionID, playerID string, amount int) error {
	res, err := r.q.ExecContext(ctx, r.d.rebind(
		`UPDATE session_players SET money = money - ?
		 WHERE session_id = ? AND player_id = ? AND money >= ?`),
		amount, sessionID, playerID, amount,
	)
	if err != nil {
		return fmt.Errorf("debiting player %s: %w", playerID, r.d.translate(err))
	}
	if rowsAffected(res) == 1 {
		return nil
	}

	p, err := r.Get(ctx, sessionID, playerID)
	if err != nil {
		return fmt.Errorf("debiting player %s: %w", playerID, err)
	}
	return fmt.Errorf("debiting player %s by %d with money %d: %w",
		playerID, amount, p.Money, store.ErrNegativeBalance)
}
