package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jensholdgaard/sealedbid/internal/api"
	"github.com/jensholdgaard/sealedbid/internal/auction"
	"github.com/jensholdgaard/sealedbid/internal/bus"
	"github.com/jensholdgaard/sealedbid/internal/bus/kafka"
	"github.com/jensholdgaard/sealedbid/internal/bus/memory"
	"github.com/jensholdgaard/sealedbid/internal/clock"
	"github.com/jensholdgaard/sealedbid/internal/config"
	"github.com/jensholdgaard/sealedbid/internal/fanout"
	"github.com/jensholdgaard/sealedbid/internal/health"
	"github.com/jensholdgaard/sealedbid/internal/store"
	"github.com/jensholdgaard/sealedbid/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/sealedbid/internal/store/postgres"
	_ "github.com/jensholdgaard/sealedbid/internal/store/sqlite"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	metrics, err := telemetry.NewInstruments(tp.MeterProvider)
	if err != nil {
		return fmt.Errorf("creating instruments: %w", err)
	}

	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()
	logger.InfoContext(ctx, "connected to database", slog.String("driver", cfg.Database.Driver))

	fanoutGroup := cfg.Fanout.GroupPrefix + "-" + instanceID(cfg.Fanout)

	b, err := openBus(cfg, fanoutGroup, logger)
	if err != nil {
		return err
	}
	defer b.Close()
	logger.InfoContext(ctx, "event channel ready", slog.String("driver", cfg.Broker.Driver))

	deps := auction.Deps{
		Store:          repos,
		Bus:            b,
		Rules:          auction.RulesFromConfig(cfg.Auction),
		Topics:         auction.Topics{Bids: cfg.Broker.BidTopic, Results: cfg.Broker.ResultTopic},
		Logger:         logger,
		TracerProvider: tp.TracerProvider,
		Metrics:        metrics,
		Clock:          clk,
	}

	healthHandler := health.NewHandler(clk,
		health.Checker{Name: "database", Check: repos.Ping},
		health.Checker{Name: "broker", Check: b.Ping},
	)

	handlers := api.Handlers{
		Lobby:  auction.NewLobby(deps),
		Health: healthHandler,
		Logger: logger,
	}
	if cfg.Roles.API {
		handlers.Bidder = auction.NewIntake(deps)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Roles.Settler {
		coord := auction.NewCoordinator(deps, cfg.Settler.TxTimeout)
		relay := auction.NewRelay(deps, cfg.Settler.RelayInterval, cfg.Settler.RelayGrace, cfg.Settler.RelayBatch)
		g.Go(func() error {
			logger.InfoContext(gctx, "settler consuming",
				slog.String("topic", cfg.Broker.BidTopic), slog.String("group", cfg.Broker.SettlerGroup))
			return b.Subscribe(gctx, cfg.Broker.BidTopic, cfg.Broker.SettlerGroup, coord.HandleMessage)
		})
		g.Go(func() error { return relay.Run(gctx) })
	}

	if cfg.Roles.Fanout {
		hub := fanout.NewHub(fanout.Options{
			BufferSize: cfg.Fanout.BufferSize,
			KeepAlive:  cfg.Fanout.KeepAlive,
		}, clk, logger, tp.TracerProvider, metrics)
		handlers.Streamer = hub
		g.Go(func() error {
			logger.InfoContext(gctx, "fan-out consuming",
				slog.String("topic", cfg.Broker.ResultTopic), slog.String("group", fanoutGroup))
			return b.Subscribe(gctx, cfg.Broker.ResultTopic, fanoutGroup, hub.HandleMessage)
		})
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(handlers, tp.TracerProvider),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.InfoContext(gctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", listenErr)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		healthHandler.SetReady(false)
		logger.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error("http server shutdown error", slog.Any("error", shutdownErr))
		}
		return nil
	})

	healthHandler.SetReady(true)
	logger.InfoContext(ctx, "sealedbid is running",
		slog.String("version", version),
		slog.Bool("api", cfg.Roles.API),
		slog.Bool("settler", cfg.Roles.Settler),
		slog.Bool("fanout", cfg.Roles.Fanout),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}

// openBus connects the configured event channel. The in-process bus needs
// its consumer groups declared up front so early messages are retained.
func openBus(cfg *config.Config, fanoutGroup string, logger *slog.Logger) (bus.Bus, error) {
	switch cfg.Broker.Driver {
	case "kafka":
		return kafka.New(cfg.Broker.Brokers, logger, kafka.WithLiveGroups(cfg.Fanout.GroupPrefix)), nil
	case "memory":
		m := memory.New(cfg.Broker.Partitions, logger)
		if cfg.Roles.Settler {
			if err := m.Declare(cfg.Broker.BidTopic, cfg.Broker.SettlerGroup); err != nil {
				return nil, fmt.Errorf("declaring settler group: %w", err)
			}
		}
		if cfg.Roles.Fanout {
			if err := m.Declare(cfg.Broker.ResultTopic, fanoutGroup); err != nil {
				return nil, fmt.Errorf("declaring fan-out group: %w", err)
			}
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.Broker.Driver)
	}
}

func instanceID(cfg config.FanoutConfig) string {
	if cfg.InstanceID != "" {
		return cfg.InstanceID
	}
	if pod := os.Getenv("POD_NAME"); pod != "" {
		return pod
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
