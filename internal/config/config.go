package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	App      App      `yaml:"app"`
	HTTP     HTTP     `yaml:"http"`
	Log      Log      `yaml:"log"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
	Feed     Feed     `yaml:"feed"`
	Cursor   Cursor   `yaml:"cursor"`
	Indexer  Indexer  `yaml:"indexer"`
	Metrics  Metrics  `yaml:"metrics"`
	Dev      Dev      `yaml:"dev"`
}

type App struct {
	Name    string `yaml:"name" env:"APP_NAME" env-default:"lm-indexer"`
	Version string `yaml:"version" env:"APP_VERSION" env-default:"1.0.0"`
}

type HTTP struct {
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type Postgres struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"POSTGRES_USER" env-default:"user"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-default:"password"`
	DBName   string `yaml:"dbname" env:"POSTGRES_DB" env-default:"labor_markets"`
	MaxConns int32  `yaml:"max_conns" env:"POSTGRES_MAX_CONNS" env-default:"4"`
}

type Redis struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	CacheTTL time.Duration `yaml:"cache_ttl" env:"REDIS_CACHE_TTL" env-default:"5s"`
}

type Kafka struct {
	Brokers   []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	Topic     string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"labor-markets-events"`
	Partition int      `yaml:"partition" env:"KAFKA_PARTITION" env-default:"0"`
}

// Feed identifies the subscription the indexer consumes.
type Feed struct {
	Name      string `yaml:"name" env:"FEED_SUBSCRIPTION" env-default:"labor-markets-indexer"`
	Namespace string `yaml:"namespace" env:"FEED_NAMESPACE" env-default:"mdao-dev"`
	Version   string `yaml:"version" env:"FEED_VERSION" env-default:"0.0.1"`
	Limit     int    `yaml:"limit" env:"FEED_LIMIT" env-default:"10"`
}

type Cursor struct {
	Backend    string `yaml:"backend" env:"CURSOR_BACKEND" env-default:"postgres"`
	SQLitePath string `yaml:"sqlite_path" env:"CURSOR_SQLITE_PATH" env-default:"cursor.db"`
}

type Indexer struct {
	MaxRetries      int           `yaml:"max_retries" env:"INDEXER_MAX_RETRIES" env-default:"5"`
	RetryBase       time.Duration `yaml:"retry_base" env:"INDEXER_RETRY_BASE" env-default:"1s"`
	RetryMax        time.Duration `yaml:"retry_max" env:"INDEXER_RETRY_MAX" env-default:"30s"`
	DrainTimeout    time.Duration `yaml:"drain_timeout" env:"INDEXER_DRAIN_TIMEOUT" env-default:"30s"`
	CheckpointEvery int           `yaml:"checkpoint_every" env:"INDEXER_CHECKPOINT_EVERY" env-default:"1"`
}

type Metrics struct {
	Addr       string        `yaml:"addr" env:"METRICS_ADDR" env-default:":9091"`
	CursorPoll time.Duration `yaml:"cursor_poll" env:"METRICS_CURSOR_POLL" env-default:"15s"`
}

type Dev struct {
	AutoIndex string `yaml:"auto_index" env:"DEV_AUTO_INDEX" env-default:"disabled"`
}

// AutoIndexEnabled reports whether the dev-only indexing endpoint is open.
func (d Dev) AutoIndexEnabled() bool {
	return d.AutoIndex == "enabled"
}

func New() (*Config, error) {
	return Load("config.yaml")
}

// Load reads path if it exists and lets env vars override it. A missing file
// falls back to env vars and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("config env override: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Cursor.Backend {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config error: unknown cursor backend %q", c.Cursor.Backend)
	}
	if strings.TrimSpace(c.Feed.Name) == "" || strings.TrimSpace(c.Feed.Namespace) == "" || strings.TrimSpace(c.Feed.Version) == "" {
		return fmt.Errorf("config error: feed name, namespace and version are required")
	}
	if c.Indexer.CheckpointEvery < 1 {
		c.Indexer.CheckpointEvery = 1
	}
	return nil
}

// SlogLevel maps Log.Level onto a slog level, defaulting to info.
func (l Log) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
