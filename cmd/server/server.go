package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"matchcore/internal/config"
	"matchcore/internal/engine"
	"matchcore/internal/journal"
	"matchcore/internal/net"
	"matchcore/internal/service"
	"matchcore/internal/utils"
)

func main() {
	envPath := flag.String("env", "", "Path to a .env file (default ./.env if present)")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*envPath)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load config")
	}
	if err := utils.SetupLogger(cfg.Log.Level, cfg.Log.Pretty); err != nil {
		log.Fatal().Err(err).Msg("unable to setup logger")
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	market := engine.NewMarket(cfg.Symbols...)

	// Rebuild from the journal, if there is one.
	var store service.Journal = service.NopJournal{}
	if cfg.Journal.Dir != "" {
		j, err := journal.Open(cfg.Journal.Dir)
		if err != nil {
			return err
		}
		defer func() {
			if err := j.Close(); err != nil {
				log.Error().Err(err).Msg("unable to close journal")
			}
		}()
		if _, err := journal.Replay(market, j); err != nil {
			return err
		}
		store = j
	} else {
		log.Warn().Msg("journal disabled, state is lost on exit")
	}

	// Setup the TCP server in front of the matching engine.
	srv := net.New(cfg.Server, service.New(market, store))
	// Block on running the server.
	return srv.Run(ctx)
}
