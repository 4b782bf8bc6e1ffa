// Package storetest is a conformance suite run against every store driver.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jensholdgaard/sealedbid/internal/store"
)

// Run executes the suite. newStore must return an empty, migrated store.
func Run(t *testing.T, newStore func(*testing.T) *store.Repositories) {
	tests := []struct {
		name string
		fn   func(*testing.T, func(*testing.T) *store.Repositories)
	}{
		{"SessionRepo_AdvanceRound", testSessionRepo_AdvanceRound},
		{"PlayerRepo_Debit", testPlayerRepo_Debit},
		{"PlayerRepo_DuplicateName", testPlayerRepo_DuplicateName},
		{"BidRepo_UniquePerRoundAndOrder", testBidRepo_UniquePerRoundAndOrder},
		{"OutcomeRepo_Fence", testOutcomeRepo_Fence},
		{"Outbox_PendingAndPublished", testOutbox_PendingAndPublished},
		{"WithinTx_RollsBack", testWithinTx_RollsBack},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) { tt.fn(t, newStore) })
	}
}

func seed(t *testing.T, r *store.Repositories, id string, players map[string]int) {
	t.Helper()
	ctx := context.Background()
	if err := r.Sessions.Create(ctx, &store.Session{ID: id, CurrentRound: 1, IsOpen: true}); err != nil {
		t.Fatalf("Sessions.Create: %v", err)
	}
	for pid, money := range players {
		p := &store.Player{PlayerID: pid, SessionID: id, Name: "name-" + pid, Money: money}
		if err := r.Players.Create(ctx, p); err != nil {
			t.Fatalf("Players.Create(%s): %v", pid, err)
		}
	}
}

func testSessionRepo_AdvanceRound(t *testing.T, newStore func(*testing.T) *store.Repositories) {
	r := newStore(t)
	ctx := context.Background()
	seed(t, r, "s1", nil)

	if err := r.Sessions.AdvanceRound(ctx, "s1", 1, true); err != nil {
		t.Fatalf("AdvanceRound(1): %v", err)
	}
	// Stale compare-and-set.
	if err := r.Sessions.AdvanceRound(ctx, "s1", 1, true); !errors.Is(err, store.ErrConflict) {
		t.Errorf("AdvanceRound(stale) error = %v, want ErrConflict", err)
	}
	if err := r.Sessions.AdvanceRound(ctx, "s1", 2, false); err != nil {
		t.Fatalf("AdvanceRound(2): %v", err)
	}

	got, err := r.Sessions.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CurrentRound != 3 {
		t.Errorf("CurrentRound = %d, want 3", got.CurrentRound)
	}
	if got.IsOpen {
		t.Error("IsOpen = true, want false")
	}

	if _, err := r.Sessions.Get(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func testPlayerRepo_Debit(t *testing.T, newStore func(*testing.T) *store.Repositories) {
	r := newStore(t)
	ctx := context.Background()
	seed(t, r, "s1", map[string]int{"a": 100})

	if err := r.Players.Debit(ctx, "s1", "a", 60); err != nil {
		t.Fatalf("Debit(60): %v", err)
	}
	if err := r.Players.Debit(ctx, "s1", "a", 41); !errors.Is(err, store.ErrNegativeBalance) {
		t.Fatalf("Debit(41) error = %v, want ErrNegativeBalance", err)
	}
	if err := r.Players.Debit(ctx, "s1", "ghost", 1); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Debit(ghost) error = %v, want ErrNotFound", err)
	}

	got, err := r.Players.Get(ctx, "s1", "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Money != 40 {
		t.Errorf("Money = %d, want 40", got.Money)
	}
}

func testPlayerRepo_DuplicateName(t *testing.T, newStore func(*testing.T) *store.Repositories) {
	r := newStore(t)
	ctx := context.Background()
	seed(t, r, "s1", nil)

	if err := r.Players.Create(ctx, &store.Player{PlayerID: "a", SessionID: "s1", Name: "Ann", Money: 1}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := r.Players.Create(ctx, &store.Player{PlayerID: "b", SessionID: "s1", Name: "Ann", Money: 1})
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("Create(duplicate name) error = %v, want ErrConflict", err)
	}
}

func testBidRepo_UniquePerRoundAndOrder(t *testing.T, newStore func(*testing.T) *store.Repositories) {
	r := newStore(t)
	ctx := context.Background()
	seed(t, r, "s1", map[string]int{"a": 100, "b": 100})

	for _, b := range []*store.Bid{
		{ID: "bid-2", PlayerID: "b", SessionID: "s1", Round: 1, Amount: 50},
		{ID: "bid-1", PlayerID: "a", SessionID: "s1", Round: 1, Amount: 50},
	} {
		if err := r.Bids.Create(ctx, b); err != nil {
			t.Fatalf("Create(%s): %v", b.ID, err)
		}
	}

	dup := &store.Bid{ID: "bid-3", PlayerID: "a", SessionID: "s1", Round: 1, Amount: 10}
	if err := r.Bids.Create(ctx, dup); !errors.Is(err, store.ErrConflict) {
		t.Errorf("Create(duplicate) error = %v, want ErrConflict", err)
	}

	bids, err := r.Bids.ListByRound(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("ListByRound: %v", err)
	}
	if len(bids) != 2 {
		t.Fatalf("ListByRound returned %d bids, want 2", len(bids))
	}
	// Insertion order, not id order.
	if bids[0].ID != "bid-2" {
		t.Errorf("first bid = %q, want %q", bids[0].ID, "bid-2")
	}

	n, err := r.Bids.CountBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("CountBySession: %v", err)
	}
	if n != 2 {
		t.Errorf("CountBySession = %d, want 2", n)
	}
}

func testOutcomeRepo_Fence(t *testing.T, newStore func(*testing.T) *store.Repositories) {
	r := newStore(t)
	ctx := context.Background()
	seed(t, r, "s1", nil)

	if err := r.Outcomes.Create(ctx, &store.Outcome{SessionID: "s1", Round: 1, WinnerID: "a", Amount: 5}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := r.Outcomes.Create(ctx, &store.Outcome{SessionID: "s1", Round: 1, WinnerID: "b", Amount: 9})
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("Create(second) error = %v, want ErrConflict", err)
	}
}

func testOutbox_PendingAndPublished(t *testing.T, newStore func(*testing.T) *store.Repositories) {
	r := newStore(t)
	ctx := context.Background()

	m := &store.OutboxMessage{Topic: "round.results", Key: "s1", Payload: []byte(`{"round":1}`)}
	if err := r.Outbox.Append(ctx, m); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if m.ID == 0 {
		t.Fatal("expected ID to be set after Append")
	}

	pending, err := r.Outbox.ListPending(ctx, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || string(pending[0].Payload) != `{"round":1}` {
		t.Fatalf("ListPending = %+v, want the appended message", pending)
	}

	if err := r.Outbox.MarkPublished(ctx, m.ID); err != nil {
		t.Fatalf("MarkPublished: %v", err)
	}
	if err := r.Outbox.MarkPublished(ctx, m.ID); err != nil {
		t.Fatalf("MarkPublished(again): %v", err)
	}
	pending, err = r.Outbox.ListPending(ctx, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("ListPending after publish returned %d messages, want 0", len(pending))
	}
}

func testWithinTx_RollsBack(t *testing.T, newStore func(*testing.T) *store.Repositories) {
	r := newStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := r.Tx.WithinTx(ctx, func(ctx context.Context, tx store.Repos) error {
		if err := tx.Sessions.Create(ctx, &store.Session{ID: "s1", CurrentRound: 1, IsOpen: true}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx error = %v, want boom", err)
	}
	if _, err := r.Sessions.Get(ctx, "s1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get after rollback error = %v, want ErrNotFound", err)
	}
}
