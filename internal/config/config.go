package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g.
// SEALEDBID_DATABASE_HOST.
const EnvPrefix = "SEALEDBID_"

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Database  DatabaseConfig  `yaml:"database" envPrefix:"DATABASE_"`
	Broker    BrokerConfig    `yaml:"broker" envPrefix:"BROKER_"`
	Auction   AuctionConfig   `yaml:"auction" envPrefix:"AUCTION_"`
	Settler   SettlerConfig   `yaml:"settler" envPrefix:"SETTLER_"`
	Fanout    FanoutConfig    `yaml:"fanout" envPrefix:"FANOUT_"`
	Roles     RolesConfig     `yaml:"roles" envPrefix:"ROLES_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"TELEMETRY_"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver       string `yaml:"driver" env:"DRIVER"` // "postgres" or "sqlite"
	Host         string `yaml:"host" env:"HOST"`
	Port         int    `yaml:"port" env:"PORT"`
	User         string `yaml:"user" env:"USER"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DBName       string `yaml:"dbname" env:"DBNAME"`
	SSLMode      string `yaml:"sslmode" env:"SSLMODE"`
	Path         string `yaml:"path" env:"PATH"` // sqlite only
	MaxOpenConns int    `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// BrokerConfig selects and configures the event channel.
type BrokerConfig struct {
	Driver       string   `yaml:"driver" env:"DRIVER"` // "kafka" or "memory"
	Brokers      []string `yaml:"brokers" env:"BROKERS" envSeparator:","`
	BidTopic     string   `yaml:"bid_topic" env:"BID_TOPIC"`
	ResultTopic  string   `yaml:"result_topic" env:"RESULT_TOPIC"`
	SettlerGroup string   `yaml:"settler_group" env:"SETTLER_GROUP"`
	Partitions   int      `yaml:"partitions" env:"PARTITIONS"` // memory only
}

// AuctionConfig holds the game rules.
type AuctionConfig struct {
	TotalRounds   int `yaml:"total_rounds" env:"TOTAL_ROUNDS"`
	StartingMoney int `yaml:"starting_money" env:"STARTING_MONEY"`
	MaxPlayers    int `yaml:"max_players" env:"MAX_PLAYERS"`
}

// SettlerConfig tunes the settlement coordinator and outbox relay.
type SettlerConfig struct {
	TxTimeout     time.Duration `yaml:"tx_timeout" env:"TX_TIMEOUT"`
	RelayInterval time.Duration `yaml:"relay_interval" env:"RELAY_INTERVAL"`
	RelayGrace    time.Duration `yaml:"relay_grace" env:"RELAY_GRACE"`
	RelayBatch    int           `yaml:"relay_batch" env:"RELAY_BATCH"`
}

// FanoutConfig tunes participant streams.
type FanoutConfig struct {
	KeepAlive   time.Duration `yaml:"keepalive" env:"KEEPALIVE"`
	GroupPrefix string        `yaml:"group_prefix" env:"GROUP_PREFIX"`
	// InstanceID makes the fan-out consumer group unique per process.
	// Empty means POD_NAME or the hostname.
	InstanceID string `yaml:"instance_id" env:"INSTANCE_ID"`
	BufferSize int    `yaml:"buffer_size" env:"BUFFER_SIZE"`
}

// RolesConfig selects which components this process runs.
type RolesConfig struct {
	API     bool `yaml:"api" env:"API"`
	Settler bool `yaml:"settler" env:"SETTLER"`
	Fanout  bool `yaml:"fanout" env:"FANOUT"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" env:"SERVICE_NAME"`
	ServiceVersion string `yaml:"service_version" env:"SERVICE_VERSION"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	Insecure       bool   `yaml:"insecure" env:"INSECURE"`
}

// Defaults returns the configuration used when a key is absent.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3000,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:       "postgres",
			Host:         "localhost",
			Port:         5432,
			SSLMode:      "disable",
			Path:         "data/sealedbid.db",
			MaxOpenConns: 10,
		},
		Broker: BrokerConfig{
			Driver:       "kafka",
			Brokers:      []string{"localhost:9092"},
			BidTopic:     "bid.received",
			ResultTopic:  "round.results",
			SettlerGroup: "auction-worker",
			Partitions:   4,
		},
		Auction: AuctionConfig{
			TotalRounds:   10,
			StartingMoney: 1000,
			MaxPlayers:    4,
		},
		Settler: SettlerConfig{
			TxTimeout:     10 * time.Second,
			RelayInterval: 5 * time.Second,
			RelayGrace:    10 * time.Second,
			RelayBatch:    100,
		},
		Fanout: FanoutConfig{
			KeepAlive:   15 * time.Second,
			GroupPrefix: "sse-listeners",
			BufferSize:  16,
		},
		Roles: RolesConfig{API: true, Settler: true, Fanout: true},
		Telemetry: TelemetryConfig{
			ServiceName:    "sealedbid",
			ServiceVersion: "0.1.0",
		},
	}
}

// Load reads a YAML configuration file from the given path and applies
// SEALEDBID_* environment overrides on top of it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	var errs []error

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q: must be \"postgres\" or \"sqlite\"", c.Database.Driver))
	}

	switch c.Broker.Driver {
	case "kafka":
		if len(c.Broker.Brokers) == 0 {
			errs = append(errs, errors.New("kafka broker requires at least one address"))
		}
	case "memory":
		// An in-process channel only reaches components in this process.
		if c.Roles.API && !(c.Roles.Settler && c.Roles.Fanout) {
			errs = append(errs, errors.New("memory broker requires api, settler and fanout roles in one process"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported broker driver %q: must be \"kafka\" or \"memory\"", c.Broker.Driver))
	}

	if c.Auction.TotalRounds < 1 {
		errs = append(errs, fmt.Errorf("auction.total_rounds must be >= 1, got %d", c.Auction.TotalRounds))
	}
	if c.Auction.StartingMoney < 0 {
		errs = append(errs, fmt.Errorf("auction.starting_money must be >= 0, got %d", c.Auction.StartingMoney))
	}
	if c.Auction.MaxPlayers < 1 {
		errs = append(errs, fmt.Errorf("auction.max_players must be >= 1, got %d", c.Auction.MaxPlayers))
	}
	if c.Fanout.KeepAlive <= 0 {
		errs = append(errs, errors.New("fanout.keepalive must be positive"))
	}
	if !c.Roles.API && !c.Roles.Settler && !c.Roles.Fanout {
		errs = append(errs, errors.New("at least one role must be enabled"))
	}
	return errors.Join(errs...)
}
