// Package sqlstore implements the store repositories on sqlx. The SQL is
// written once with '?' placeholders and rebound per Dialect, so the
// postgres and sqlite drivers share every query.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/sealedbid/internal/clock"
	"github.com/jensholdgaard/sealedbid/internal/store"
)

// Dialect captures what differs between SQL backends.
type Dialect struct {
	Name string
	// BindType is one of sqlx.DOLLAR, sqlx.QUESTION, ...
	BindType int
	// ForUpdate is appended to row-locking selects ("" if unsupported).
	ForUpdate string
	// Translate maps driver errors onto store sentinels. It must return
	// err unchanged when nothing matches.
	Translate func(err error) error
	// Time converts a timestamp argument; nil passes time.Time through.
	Time func(t time.Time) any
}

func (d Dialect) ts(t time.Time) any {
	if d.Time != nil {
		return d.Time(t)
	}
	return t
}

func (d Dialect) rebind(query string) string {
	return sqlx.Rebind(d.BindType, query)
}

func (d Dialect) translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", store.ErrNotFound, err)
	}
	if d.Translate != nil {
		return d.Translate(err)
	}
	return err
}

// DB binds a *sqlx.DB to a Dialect and clock.
type DB struct {
	db      *sqlx.DB
	dialect Dialect
	clock   clock.Clock
}

// New returns a DB.
func New(db *sqlx.DB, d Dialect, clk clock.Clock) *DB {
	return &DB{db: db, dialect: d, clock: clk}
}

// Repos returns repositories that run each statement on its own.
func (s *DB) Repos() store.Repos {
	return reposFor(s.db, s.dialect, s.clock)
}

// WithinTx implements store.Transactor.
func (s *DB) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Repos) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, reposFor(tx, s.dialect, s.clock)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", s.dialect.translate(err))
	}
	return nil
}

// Repositories assembles a store.Repositories for a driver.
func (s *DB) Repositories() *store.Repositories {
	return &store.Repositories{
		Repos:  s.Repos(),
		Tx:     s,
		Closer: s.db,
		Ping:   s.db.PingContext,
	}
}

func reposFor(q sqlx.ExtContext, d Dialect, clk clock.Clock) store.Repos {
	return store.Repos{
		Sessions: &SessionRepo{q: q, d: d, clock: clk},
		Players:  &PlayerRepo{q: q, d: d, clock: clk},
		Bids:     &BidRepo{q: q, d: d, clock: clk},
		Outcomes: &OutcomeRepo{q: q, d: d, clock: clk},
		Outbox:   &OutboxRepo{q: q, d: d, clock: clk},
	}
}

func rowsAffected(res sql.Result) int64 {
	n, _ := res.RowsAffected()
	return n
}
