package auction_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/sealedbid/internal/auction"
	"github.com/jensholdgaard/sealedbid/internal/bus"
	"github.com/jensholdgaard/sealedbid/internal/clock"
	"github.com/jensholdgaard/sealedbid/internal/event"
	"github.com/jensholdgaard/sealedbid/internal/store"
	"github.com/jensholdgaard/sealedbid/internal/store/sqlite"
	"github.com/jensholdgaard/sealedbid/internal/store/sqlstore"
	"github.com/jensholdgaard/sealedbid/internal/telemetry"
)

// recordingBus is a bus.Publisher that keeps every message.
type recordingBus struct {
	mu   sync.Mutex
	msgs []bus.Message
	err  error
}

func (b *recordingBus) Publish(_ context.Context, msgs ...bus.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.msgs = append(b.msgs, msgs...)
	return nil
}

func (b *recordingBus) setErr(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

func (b *recordingBus) topic(name string) []bus.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []bus.Message
	for _, m := range b.msgs {
		if m.Topic == name {
			out = append(out, m)
		}
	}
	return out
}

func (b *recordingBus) results(t *testing.T) []event.RoundSettled {
	t.Helper()
	var out []event.RoundSettled
	for _, m := range b.topic(event.RoundResultsTopic) {
		e, err := event.DecodeRoundSettled(m.Value)
		if err != nil {
			t.Fatalf("DecodeRoundSettled: %v", err)
		}
		out = append(out, e)
	}
	return out
}

type fixture struct {
	deps   auction.Deps
	pub    *recordingBus
	lobby  *auction.Lobby
	intake *auction.Intake
	coord  *auction.Coordinator
}

var testRules = auction.Rules{TotalRounds: 3, StartingMoney: 1000, MaxPlayers: 4}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := sqlite.Connect(context.Background(), filepath.Join(t.TempDir(), "auction.db"))
	if err != nil {
		t.Fatalf("sqlite.Connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	metrics, err := telemetry.NewInstruments(metricnoop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewInstruments: %v", err)
	}

	pub := &recordingBus{}
	d := auction.Deps{
		Store:          sqlstore.New(db, sqlite.Dialect, clock.Real{}).Repositories(),
		Bus:            pub,
		Rules:          testRules,
		Topics:         auction.Topics{Bids: event.BidReceivedTopic, Results: event.RoundResultsTopic},
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		TracerProvider: noop.NewTracerProvider(),
		Metrics:        metrics,
		Clock:          clock.Real{},
	}
	return &fixture{
		deps:   d,
		pub:    pub,
		lobby:  auction.NewLobby(d),
		intake: auction.NewIntake(d),
		coord:  auction.NewCoordinator(d, 5*time.Second),
	}
}

// session creates a session and connects one player per name.
func (f *fixture) session(t *testing.T, names ...string) (string, []*store.Player) {
	t.Helper()
	ctx := context.Background()
	s, err := f.lobby.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	players := make([]*store.Player, 0, len(names))
	for _, n := range names {
		p, err := f.lobby.Connect(ctx, s.ID, n)
		if err != nil {
			t.Fatalf("Connect(%s): %v", n, err)
		}
		players = append(players, p)
	}
	return s.ID, players
}

func (f *fixture) bid(t *testing.T, playerID string, amount int) auction.Receipt {
	t.Helper()
	r, err := f.intake.SubmitBid(context.Background(), playerID, amount)
	if err != nil {
		t.Fatalf("SubmitBid(%s, %d): %v", playerID, amount, err)
	}
	return r
}

func (f *fixture) settle(t *testing.T, sessionID string, round int) auction.Result {
	t.Helper()
	res, err := f.coord.Settle(context.Background(), sessionID, round)
	if err != nil {
		t.Fatalf("Settle(%d): %v", round, err)
	}
	return res
}

func (f *fixture) money(t *testing.T, p *store.Player) int {
	t.Helper()
	got, err := f.deps.Store.Players.Get(context.Background(), p.SessionID, p.PlayerID)
	if err != nil {
		t.Fatalf("Players.Get: %v", err)
	}
	return got.Money
}

func (f *fixture) round(t *testing.T, sessionID string) int {
	t.Helper()
	s, err := f.deps.Store.Sessions.Get(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Sessions.Get: %v", err)
	}
	return s.CurrentRound
}
