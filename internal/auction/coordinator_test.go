package auction_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jensholdgaard/sealedbid/internal/auction"
	"github.com/jensholdgaard/sealedbid/internal/bus"
	"github.com/jensholdgaard/sealedbid/internal/event"
	"github.com/jensholdgaard/sealedbid/internal/store"
)

func TestCoordinator_TwoPlayerRound(t *testing.T) {
	f := newFixture(t)
	sessionID, players := f.session(t, "A", "B")
	a, b := players[0], players[1]

	f.bid(t, a.PlayerID, 100)
	if res := f.settle(t, sessionID, 1); res.Status != auction.StatusIncomplete {
		t.Fatalf("Settle after one bid status = %v, want incomplete", res.Status)
	}
	f.bid(t, b.PlayerID, 50)

	res := f.settle(t, sessionID, 1)
	if res.Status != auction.StatusSettled {
		t.Fatalf("Settle status = %v, want settled", res.Status)
	}
	if res.Outcome.WinnerID != a.PlayerID || res.Outcome.Amount != 100 {
		t.Errorf("winner = %s/%d, want %s/100", res.Outcome.WinnerID, res.Outcome.Amount, a.PlayerID)
	}
	if res.Outcome.Subject != "Property 1" {
		t.Errorf("Subject = %q, want %q", res.Outcome.Subject, "Property 1")
	}

	if got := f.money(t, a); got != 900 {
		t.Errorf("A money = %d, want 900", got)
	}
	if got := f.money(t, b); got != 1000 {
		t.Errorf("B money = %d, want 1000", got)
	}
	if got := f.round(t, sessionID); got != 2 {
		t.Errorf("CurrentRound = %d, want 2", got)
	}

	results := f.pub.results(t)
	if len(results) != 1 {
		t.Fatalf("published %d results, want 1", len(results))
	}
	if len(results[0].Bids) != 2 || results[0].WinningAmount() != 100 {
		t.Errorf("published result = %+v", results[0])
	}
}

func TestCoordinator_TieGoesToEarliestBid(t *testing.T) {
	f := newFixture(t)
	sessionID, players := f.session(t, "A", "B")

	f.bid(t, players[0].PlayerID, 50)
	f.bid(t, players[1].PlayerID, 50)

	res := f.settle(t, sessionID, 1)
	if res.Outcome.WinnerID != players[0].PlayerID {
		t.Errorf("winner = %s, want first bidder %s", res.Outcome.WinnerID, players[0].PlayerID)
	}
}

func TestCoordinator_ReplayIsNoop(t *testing.T) {
	f := newFixture(t)
	sessionID, players := f.session(t, "A", "B")
	f.bid(t, players[0].PlayerID, 10)
	f.bid(t, players[1].PlayerID, 20)

	if res := f.settle(t, sessionID, 1); res.Status != auction.StatusSettled {
		t.Fatalf("first Settle status = %v, want settled", res.Status)
	}
	for i := range 2 {
		if res := f.settle(t, sessionID, 1); res.Status != auction.StatusAlreadySettled {
			t.Errorf("replay %d status = %v, want already settled", i, res.Status)
		}
	}

	if got := len(f.pub.results(t)); got != 1 {
		t.Errorf("published %d results, want 1", got)
	}
	if got := f.money(t, players[1]); got != 980 {
		t.Errorf("winner money = %d, want 980", got)
	}
	if got := f.round(t, sessionID); got != 2 {
		t.Errorf("CurrentRound = %d, want 2", got)
	}
}

func TestCoordinator_ConcurrentAttempts(t *testing.T) {
	f := newFixture(t)
	sessionID, players := f.session(t, "A", "B", "C")
	for i, p := range players {
		f.bid(t, p.PlayerID, 10*(i+1))
	}

	const attempts = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[auction.Status]int{}
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.coord.Settle(context.Background(), sessionID, 1)
			if err != nil {
				t.Errorf("Settle: %v", err)
				return
			}
			mu.Lock()
			statuses[res.Status]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if statuses[auction.StatusSettled] != 1 {
		t.Errorf("settled %d times, want 1 (statuses %v)", statuses[auction.StatusSettled], statuses)
	}
	if statuses[auction.StatusAlreadySettled] != attempts-1 {
		t.Errorf("already settled %d times, want %d", statuses[auction.StatusAlreadySettled], attempts-1)
	}
	if got := f.money(t, players[2]); got != 970 {
		t.Errorf("winner money = %d, want 970", got)
	}
}

func TestCoordinator_ArrivalOrderIndependence(t *testing.T) {
	f := newFixture(t)
	sessionID, players := f.session(t, "A", "B", "C")

	for i, p := range players {
		f.bid(t, p.PlayerID, 100+i)
	}
	bidEvents := f.pub.topic(event.BidReceivedTopic)

	// Deliver every event twice, newest first.
	ctx := context.Background()
	for pass := 0; pass < 2; pass++ {
		for i := len(bidEvents) - 1; i >= 0; i-- {
			if err := f.coord.HandleMessage(ctx, bidEvents[i]); err != nil {
				t.Fatalf("HandleMessage: %v", err)
			}
		}
	}

	results := f.pub.results(t)
	if len(results) != 1 {
		t.Fatalf("published %d results, want 1", len(results))
	}
	if results[0].WinnerID != players[2].PlayerID {
		t.Errorf("winner = %s, want %s", results[0].WinnerID, players[2].PlayerID)
	}
	if got := f.round(t, sessionID); got != 2 {
		t.Errorf("CurrentRound = %d, want 2", got)
	}
}

func TestCoordinator_MalformedMessageSkipped(t *testing.T) {
	f := newFixture(t)
	for _, v := range []string{`not json`, `{"sessionId":"","round":1}`} {
		if err := f.coord.HandleMessage(context.Background(), bus.Message{Value: []byte(v)}); err != nil {
			t.Errorf("HandleMessage(%q) error = %v, want nil", v, err)
		}
	}
}

func TestCoordinator_StaleRounds(t *testing.T) {
	f := newFixture(t)
	sessionID, _ := f.session(t, "A")

	for _, round := range []int{0, 2, testRules.TotalRounds + 1} {
		if res := f.settle(t, sessionID, round); res.Status != auction.StatusStale {
			t.Errorf("Settle(%d) status = %v, want stale", round, res.Status)
		}
	}
}

func TestCoordinator_LastRoundClosesSession(t *testing.T) {
	f := newFixture(t)
	sessionID, players := f.session(t, "solo")
	for round := 1; round <= testRules.TotalRounds; round++ {
		f.bid(t, players[0].PlayerID, round)
		f.settle(t, sessionID, round)
	}

	s, err := f.deps.Store.Sessions.Get(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Sessions.Get: %v", err)
	}
	if s.IsOpen {
		t.Error("IsOpen = true after last round, want false")
	}
	if s.CurrentRound != testRules.TotalRounds+1 {
		t.Errorf("CurrentRound = %d, want %d", s.CurrentRound, testRules.TotalRounds+1)
	}
	if got := f.money(t, players[0]); got != 1000-1-2-3 {
		t.Errorf("money = %d, want %d", got, 1000-1-2-3)
	}

	outcomes, err := f.deps.Store.Outcomes.ListBySession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Outcomes.ListBySession: %v", err)
	}
	if len(outcomes) != testRules.TotalRounds {
		t.Errorf("recorded %d outcomes, want %d", len(outcomes), testRules.TotalRounds)
	}
}

func TestCoordinator_OverdrawnWinnerIsIntegrityFault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sessionID, players := f.session(t, "A")

	// Bypass intake to store a bid the player cannot pay for.
	bad := &store.Bid{ID: "bad", PlayerID: players[0].PlayerID, SessionID: sessionID, Round: 1, Amount: 5000}
	if err := f.deps.Store.Bids.Create(ctx, bad); err != nil {
		t.Fatalf("Bids.Create: %v", err)
	}

	_, err := f.coord.Settle(ctx, sessionID, 1)
	var ie *auction.IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("Settle() error = %v, want *IntegrityError", err)
	}
	if !errors.Is(err, store.ErrNegativeBalance) {
		t.Errorf("Settle() error = %v, want wrapped ErrNegativeBalance", err)
	}

	// Nothing was written.
	if got := f.money(t, players[0]); got != testRules.StartingMoney {
		t.Errorf("money = %d, want %d", got, testRules.StartingMoney)
	}
	if _, err := f.deps.Store.Outcomes.Get(ctx, sessionID, 1); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Outcomes.Get error = %v, want ErrNotFound", err)
	}
	if got := f.round(t, sessionID); got != 1 {
		t.Errorf("CurrentRound = %d, want 1", got)
	}
}

func TestWinner(t *testing.T) {
	tests := []struct {
		name string
		bids []store.Bid
		want string
	}{
		{name: "single", bids: []store.Bid{{PlayerID: "A", Amount: 0}}, want: "A"},
		{name: "highest", bids: []store.Bid{{PlayerID: "A", Amount: 10}, {PlayerID: "B", Amount: 30}, {PlayerID: "C", Amount: 20}}, want: "B"},
		{name: "tie first wins", bids: []store.Bid{{PlayerID: "A", Amount: 50}, {PlayerID: "B", Amount: 50}}, want: "A"},
		{name: "all zero", bids: []store.Bid{{PlayerID: "A"}, {PlayerID: "B"}}, want: "A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := auction.Winner(tt.bids).PlayerID; got != tt.want {
				t.Errorf("Winner() = %s, want %s", got, tt.want)
			}
		})
	}
}
