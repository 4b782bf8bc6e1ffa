package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/sealedbid/internal/clock"
	"github.com/jensholdgaard/sealedbid/internal/store"
)

// OutboxRepo implements store.OutboxRepository.
type OutboxRepo struct {
	q     sqlx.ExtContext
	d     Dialect
	clock clock.Clock
}

func (r *OutboxRepo) Append(ctx context.Context, m *store.OutboxMessage) error {
	m.CreatedAt = r.clock.Now().UTC()
	err := r.q.QueryRowxContext(ctx, r.d.rebind(
		`INSERT INTO outbox (topic, msg_key, payload, created_at) VALUES (?, ?, ?, ?) RETURNING id`),
		m.Topic, m.Key, m.Payload, r.d.ts(m.CreatedAt),
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("appending outbox message: %w", r.d.translate(err))
	}
	return nil
}

func (r *OutboxRepo) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]store.OutboxMessage, error) {
	var msgs []store.OutboxMessage
	err := sqlx.SelectContext(ctx, r.q, &msgs, r.d.rebind(
		`SELECT id, topic, msg_key, payload, created_at, published_at FROM outbox
		 WHERE published_at IS NULL AND created_at < ?
		 ORDER BY id ASC LIMIT ?`),
		r.d.ts(olderThan.UTC()), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing pending outbox messages: %w", r.d.translate(err))
	}
	return msgs, nil
}

// MarkPublished is idempotent: marking an already published message is a no-op.
func (r *OutboxRepo) MarkPublished(ctx context.Context, id int64) error {
	_, err := r.q.ExecContext(ctx, r.d.rebind(
		`UPDATE outbox SET published_at = ? WHERE id = ? AND published_at IS NULL`),
		r.d.ts(r.clock.Now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("marking outbox message %d published: %w", id, r.d.translate(err))
	}
	return nil
}
