package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/sealedbid/internal/clock"
	"github.com/jensholdgaard/sealedbid/internal/store"
)

const bidColumns = `id, player_id, session_id, round, amount, created_at`

// BidRepo implements store.BidRepository.
type BidRepo struct {
	q     sqlx.ExtContext
	d     Dialect
	clock clock.Clock
}

func (r *BidRepo) Create(ctx context.Context, b *store.Bid) error {
	b.CreatedAt = r.clock.Now().UTC()
	_, err := r.q.ExecContext(ctx, r.d.rebind(
		`INSERT INTO bids (id, player_id, session_id, round, amount, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		b.ID, b.PlayerID, b.SessionID, b.Round, b.Amount, r.d.ts(b.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("creating bid: %w", r.d.translate(err))
	}
	return nil
}

func (r *BidRepo) Get(ctx context.Context, sessionID string, round int, playerID string) (*store.Bid, error) {
	var b store.Bid
	err := sqlx.GetContext(ctx, r.q, &b, r.d.rebind(
		`SELECT `+bidColumns+` FROM bids WHERE session_id = ? AND round = ? AND player_id = ?`),
		sessionID, round, playerID,
	)
	if err != nil {
		return nil, fmt.Errorf("getting bid: %w", r.d.translate(err))
	}
	return &b, nil
}

func (r *BidRepo) ListByRound(ctx context.Context, sessionID string, round int) ([]store.Bid, error) {
	var bids []store.Bid
	err := sqlx.SelectContext(ctx, r.q, &bids, r.d.rebind(
		`SELECT `+bidColumns+` FROM bids WHERE session_id = ? AND round = ?
		 ORDER BY created_at ASC, id ASC`),
		sessionID, round,
	)
	if err != nil {
		return nil, fmt.Errorf("listing bids of round %d: %w", round, r.d.translate(err))
	}
	return bids, nil
}

func (r *BidRepo) CountBySession(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.q, &n, r.d.rebind(
		`SELECT COUNT(*) FROM bids WHERE session_id = ?`), sessionID)
	if err != nil {
		return 0, fmt.Errorf("counting bids: %w", r.d.translate(err))
	}
	return n, nil
}
