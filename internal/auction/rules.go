package auction

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/sealedbid/internal/bus"
	"github.com/jensholdgaard/sealedbid/internal/clock"
	"github.com/jensholdgaard/sealedbid/internal/config"
	"github.com/jensholdgaard/sealedbid/internal/store"
	"github.com/jensholdgaard/sealedbid/internal/telemetry"
)

const tracerName = "github.com/jensholdgaard/sealedbid/internal/auction"

// Rules are the fixed parameters of every session.
type Rules struct {
	TotalRounds   int
	StartingMoney int
	MaxPlayers    int
}

// RulesFromConfig converts the auction config section.
func RulesFromConfig(c config.AuctionConfig) Rules {
	return Rules{TotalRounds: c.TotalRounds, StartingMoney: c.StartingMoney, MaxPlayers: c.MaxPlayers}
}

// Subject names the item auctioned in round (1-based).
func (r Rules) Subject(round int) string {
	return fmt.Sprintf("Property %d", round)
}

// Closed reports whether a session in currentRound accepts no more bids.
func (r Rules) Closed(s *store.Session) bool {
	return !s.IsOpen || s.CurrentRound > r.TotalRounds
}

// Topics names the event channel topics.
type Topics struct {
	Bids    string
	Results string
}

// Deps are the collaborators shared by the auction components.
type Deps struct {
	Store          *store.Repositories
	Bus            bus.Publisher
	Rules          Rules
	Topics         Topics
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
	Metrics        *telemetry.Instruments
	Clock          clock.Clock
}
