package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors translated by every driver.
var (
	// ErrNotFound is returned when a point lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an insert or compare-and-set update
	// violates a uniqueness constraint or lost a race.
	ErrConflict = errors.New("conflict")
	// ErrNegativeBalance is returned when a debit would drive a balance
	// below zero.
	ErrNegativeBalance = errors.New("balance would become negative")
)

// Session is one multi-round auction.
type Session struct {
	ID           string    `db:"id"`
	CurrentRound int       `db:"current_round"`
	IsOpen       bool      `db:"is_open"`
	CreatedAt    time.Time `db:"created_at"`
}

// Player is a participant of exactly one session.
type Player struct {
	PlayerID  string    `db:"player_id"`
	SessionID string    `db:"session_id"`
	Name      string    `db:"name"`
	Money     int       `db:"money"`
	CreatedAt time.Time `db:"created_at"`
}

// Bid is an immutable sealed bid for one round.
type Bid struct {
	ID        string    `db:"id"`
	PlayerID  string    `db:"player_id"`
	SessionID string    `db:"session_id"`
	Round     int       `db:"round"`
	Amount    int       `db:"amount"`
	CreatedAt time.Time `db:"created_at"`
}

// Outcome records the single winner of a round.
type Outcome struct {
	SessionID string    `db:"session_id"`
	Round     int       `db:"round"`
	WinnerID  string    `db:"winner_id"`
	Amount    int       `db:"amount"`
	CreatedAt time.Time `db:"created_at"`
}

// OutboxMessage is an event committed with the state change it describes
// and published afterwards.
type OutboxMessage struct {
	ID          int64      `db:"id"`
	Topic       string     `db:"topic"`
	Key         string     `db:"msg_key"`
	Payload     []byte     `db:"payload"`
	CreatedAt   time.Time  `db:"created_at"`
	PublishedAt *time.Time `db:"published_at"`
}

// SessionRepository defines session persistence operations.
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	// GetForUpdate loads the session and, where the driver supports it,
	// locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id string) (*Session, error)
	// AdvanceRound moves the session from round from to from+1 and sets
	// is_open. It returns ErrConflict if the session is not at round from.
	AdvanceRound(ctx context.Context, id string, from int, open bool) error
}

// PlayerRepository defines participant persistence operations.
type PlayerRepository interface {
	// Create inserts p; a duplicate name within the session is ErrConflict.
	Create(ctx context.Context, p *Player) error
	Get(ctx context.Context, sessionID, playerID string) (*Player, error)
	// ListByPlayerID returns every row for playerID across sessions.
	ListByPlayerID(ctx context.Context, playerID string) ([]Player, error)
	ListBySession(ctx context.Context, sessionID string) ([]Player, error)
	// Debit subtracts amount from the player's money. It never clamps:
	// insufficient money is ErrNegativeBalance and nothing is written.
	Debit(ctx context.Context, sessionID, playerID string, amount int) error
}

// BidRepository defines bid persistence operations.
type BidRepository interface {
	// Create inserts b; a second bid for the same (session, round, player)
	// is ErrConflict.
	Create(ctx context.Context, b *Bid) error
	Get(ctx context.Context, sessionID string, round int, playerID string) (*Bid, error)
	// ListByRound returns the round's bids ordered by (created_at, id).
	ListByRound(ctx context.Context, sessionID string, round int) ([]Bid, error)
	CountBySession(ctx context.Context, sessionID string) (int, error)
}

// OutcomeRepository defines outcome persistence operations. The
// (session_id, round) primary key is the settlement idempotency fence.
type OutcomeRepository interface {
	// Create inserts o; an existing outcome for the round is ErrConflict.
	Create(ctx context.Context, o *Outcome) error
	Get(ctx context.Context, sessionID string, round int) (*Outcome, error)
	ListBySession(ctx context.Context, sessionID string) ([]Outcome, error)
}

// OutboxRepository defines outbox persistence operations.
type OutboxRepository interface {
	Append(ctx context.Context, m *OutboxMessage) error
	// ListPending returns unpublished messages created before olderThan,
	// oldest first.
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]OutboxMessage, error)
	MarkPublished(ctx context.Context, id int64) error
}

// Repos groups repositories bound to one connection or transaction.
type Repos struct {
	Sessions SessionRepository
	Players  PlayerRepository
	Bids     BidRepository
	Outcomes OutcomeRepository
	Outbox   OutboxRepository
}

// Transactor runs fn inside a single atomic transaction. If fn returns an
// error everything it wrote is rolled back and the error is returned.
// fn must only use the Repos it is given.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repos) error) error
}
