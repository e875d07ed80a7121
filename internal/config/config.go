package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"

	"sleipnir/internal/book"
	"sleipnir/internal/common"
)

// Config is the server configuration, read from SLEIPNIR_* environment
// variables.
type Config struct {
	Address string `env:"ADDRESS" envDefault:"0.0.0.0"`
	Port    int    `env:"PORT" envDefault:"9001"`
	Workers uint   `env:"WORKERS" envDefault:"10"`

	// How often idle books are swept of stale index records, 0 disables.
	CompactInterval time.Duration `env:"COMPACT_INTERVAL" envDefault:"30s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`

	StaleThreshold uint64   `env:"STALE_THRESHOLD" envDefault:"10"`
	QueueCapacity  int      `env:"QUEUE_CAPACITY" envDefault:"500"`
	Pairs          []string `env:"PAIRS" envDefault:"BTC/USDT,ETH/USDT" envSeparator:","`
}

const envPrefix = "SLEIPNIR_"

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{Prefix: envPrefix})
}

func parse(opts env.Options) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.Workers == 0 {
		return fmt.Errorf("at least one worker is required")
	}
	if cfg.CompactInterval < 0 {
		return fmt.Errorf("invalid compact interval %v", cfg.CompactInterval)
	}
	if cfg.QueueCapacity < 0 {
		return fmt.Errorf("invalid queue capacity %d", cfg.QueueCapacity)
	}
	if _, err := cfg.Level(); err != nil {
		return err
	}
	if _, err := cfg.BookPairs(); err != nil {
		return err
	}
	return nil
}

// BookConfig returns the per-side queue tuning for every order book.
func (cfg Config) BookConfig() book.Config {
	return book.Config{
		StaleThreshold: cfg.StaleThreshold,
		QueueCapacity:  cfg.QueueCapacity,
	}
}

// BookPairs returns the instrument pairs to open books for.
func (cfg Config) BookPairs() ([]common.Pair, error) {
	pairs := make([]common.Pair, 0, len(cfg.Pairs))
	for _, s := range cfg.Pairs {
		pair, err := common.ParsePair(s)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: no pairs configured", common.ErrInvalidPair)
	}
	return pairs, nil
}

func (cfg Config) Level() (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	return level, nil
}
