package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sleipnir/internal/config"
	"sleipnir/internal/engine"
	"sleipnir/internal/net"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load config")
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	// Pairs were validated while loading.
	pairs, _ := cfg.BookPairs()

	// Setup the TCP server and the matching engine.
	eng := engine.New(cfg.BookConfig(), pairs...)
	srv := net.New(cfg.Address, cfg.Port, eng,
		net.WithWorkers(cfg.Workers),
		net.WithCompactInterval(cfg.CompactInterval),
	)
	eng.SetReporter(srv)

	log.Info().
		Interface("pairs", pairs).
		Uint64("stale threshold", cfg.StaleThreshold).
		Int("queue capacity", cfg.QueueCapacity).
		Msg("starting engine")

	// Block on running the server.
	if err := srv.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func setupLogging(cfg config.Config) {
	// Level was validated while loading.
	level, _ := cfg.Level()
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
