package botclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jensholdgaard/sealedbid/internal/strategy"
)

// Bot is one automated participant: it bids, waits for the round result,
// and bids again until the auction closes.
type Bot struct {
	client   *Client
	player   Player
	strategy strategy.Strategy
	history  strategy.History
	logger   *slog.Logger
}

// NewBot wraps a connected player.
func NewBot(c *Client, p Player, s strategy.Strategy, logger *slog.Logger) *Bot {
	return &Bot{
		client:   c,
		player:   p,
		strategy: s,
		history:  strategy.History{Money: p.Money},
		logger:   logger.With(slog.String("bot", p.Name)),
	}
}

// Name is the player name the bot joined with.
func (b *Bot) Name() string { return b.player.Name }

// History returns what the bot has observed.
func (b *Bot) History() strategy.History { return b.history }

// Run plays until the auction closes, the stream ends or ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	stream, err := b.client.Events(ctx, b.player.ID)
	if err != nil {
		return err
	}
	defer stream.Close()

	if done, err := b.bid(ctx); done || err != nil {
		return err
	}
	for {
		res, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading result: %w", err)
		}

		won := res.WinningAmount()
		b.history.WinningBids = append(b.history.WinningBids, won)
		if res.WinnerID == b.player.ID {
			b.history.Money -= won
			b.logger.InfoContext(ctx, "won round",
				slog.Int("round", res.Round),
				slog.String("subject", res.Subject),
				slog.Int("amount", won),
				slog.Int("money", b.history.Money),
			)
		}
		if b.history.Money < 0 {
			return fmt.Errorf("bot %s has negative money %d", b.player.Name, b.history.Money)
		}

		if done, err := b.bid(ctx); done || err != nil {
			return err
		}
	}
}

// bid submits the next bid and reports whether the auction is over.
func (b *Bot) bid(ctx context.Context) (bool, error) {
	amount := b.strategy.NextBid(b.history)
	round, err := b.client.Bid(ctx, b.player.ID, amount)
	switch {
	case IsKind(err, "AuctionClosed"):
		b.logger.InfoContext(ctx, "auction closed", slog.Int("money", b.history.Money))
		return true, nil
	case err != nil:
		return false, err
	}
	b.logger.DebugContext(ctx, "bid placed", slog.Int("round", round), slog.Int("amount", amount))
	return false, nil
}
