// Command sealedbot plays a session against a running sealedbid server with
// one or more scripted bidders.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/jensholdgaard/sealedbid/internal/botclient"
	"github.com/jensholdgaard/sealedbid/internal/strategy"
)

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "sealedbid server base URL")
	sessionID := flag.String("session", "", "session to join; empty creates a new one")
	bots := flag.String("bots", "random,fixed,escalating", "comma-separated strategies, one bot each")
	prefix := flag.String("name", "bot", "player name prefix")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(*baseURL, *sessionID, *bots, *prefix, logger); err != nil {
		logger.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(baseURL, sessionID, names, prefix string, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := botclient.New(baseURL, http.DefaultClient)

	if sessionID == "" {
		id, err := c.CreateSession(ctx)
		if err != nil {
			return fmt.Errorf("creating session: %w", err)
		}
		sessionID = id
		logger.InfoContext(ctx, "created session", slog.String("session_id", sessionID))
	}

	var players []*botclient.Bot
	for i, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		s, err := strategy.ByName(name)
		if err != nil {
			return err
		}
		p, err := c.Connect(ctx, sessionID, fmt.Sprintf("%s-%d-%s", prefix, i+1, name))
		if err != nil {
			return fmt.Errorf("connecting %s: %w", name, err)
		}
		players = append(players, botclient.NewBot(c, p, s, logger))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, b := range players {
		g.Go(func() error { return b.Run(gctx) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, b := range players {
		h := b.History()
		logger.Info("final standing",
			slog.String("player", b.Name()),
			slog.Int("money", h.Money),
			slog.Int("rounds_settled", len(h.WinningBids)),
		)
	}
	return nil
}
