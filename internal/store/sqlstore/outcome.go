package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/sealedbid/internal/clock"
	"github.com/jensholdgaard/sealedbid/internal/store"
)

const outcomeColumns = `session_id, round, winner_id, amount, created_at`

// OutcomeRepo implements store.OutcomeRepository.
type OutcomeRepo struct {
	q     sqlx.ExtContext
	d     Dialect
	clock clock.Clock
}

func (r *OutcomeRepo) Create(ctx context.Context, o *store.Outcome) error {
	o.CreatedAt = r.clock.Now().UTC()
	_, err := r.q.ExecContext(ctx, r.d.rebind(
		`INSERT INTO outcomes (session_id, round, winner_id, amount, created_at)
		 VALUES (?, ?, ?, ?, ?)`),
		o.SessionID, o.Round, o.WinnerID, o.Amount, r.d.ts(o.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("recording outcome of round %d: %w", o.Round, r.d.translate(err))
	}
	return nil
}

func (r *OutcomeRepo) Get(ctx context.Context, sessionID string, round int) (*store.Outcome, error) {
	var o store.Outcome
	err := sqlx.GetContext(ctx, r.q, &o, r.d.rebind(
		`SELECT `+outcomeColumns+` FROM outcomes WHERE session_id = ? AND round = ?`),
		sessionID, round,
	)
	if err != nil {
		return nil, fmt.Errorf("getting outcome of round %d: %w", round, r.d.translate(err))
	}
	return &o, nil
}

func (r *OutcomeRepo) ListBySession(ctx context.Context, sessionID string) ([]store.Outcome, error) {
	var outcomes []store.Outcome
	err := sqlx.SelectContext(ctx, r.q, &outcomes, r.d.rebind(
		`SELECT `+outcomeColumns+` FROM outcomes WHERE session_id = ? ORDER BY round ASC`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing outcomes: %w", r.d.translate(err))
	}
	return outcomes, nil
}
