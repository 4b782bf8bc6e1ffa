package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/sealedbid/internal/clock"
	"github.com/jensholdgaard/sealedbid/internal/store"
)

const sessionColumns = `id, current_round, is_open, created_at`

// SessionRepo implements store.SessionRepository.
type SessionRepo struct {
	q     sqlx.ExtContext
	d     Dialect
	clock clock.Clock
}

func (r *SessionRepo) Create(ctx context.Context, s *store.Session) error {
	s.CreatedAt = r.clock.Now().UTC()
	_, err := r.q.ExecContext(ctx, r.d.rebind(
		`INSERT INTO sessions (id, current_round, is_open, created_at) VALUES (?, ?, ?, ?)`),
		s.ID, s.CurrentRound, s.IsOpen, r.d.ts(s.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", r.d.translate(err))
	}
	return nil
}

func (r *SessionRepo) Get(ctx context.Context, id string) (*store.Session, error) {
	return r.get(ctx, id, "")
}

func (r *SessionRepo) GetForUpdate(ctx context.Context, id string) (*store.Session, error) {
	return r.get(ctx, id, r.d.ForUpdate)
}

func (r *SessionRepo) get(ctx context.Context, id, suffix string) (*store.Session, error) {
	var s store.Session
	err := sqlx.GetContext(ctx, r.q, &s, r.d.rebind(
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`+suffix), id)
	if err != nil {
		return nil, fmt.Errorf("getting session %s: %w", id, r.d.translate(err))
	}
	return &s, nil
}

func (r *SessionRepo) AdvanceRound(ctx context.Context, id string, from int, open bool) error {
	res, err := r.q.ExecContext(ctx, r.d.rebind(
		`UPDATE sessions SET current_round = current_round + 1, is_open = ?
		 WHERE id = ? AND current_round = ?`),
		open, id, from,
	)
	if err != nil {
		return fmt.Errorf("advancing session %s: %w", id, r.d.translate(err))
	}
	if rowsAffected(res) == 0 {
		return fmt.Errorf("session %s is not at round %d: %w", id, from, store.ErrConflict)
	}
	return nil
}
