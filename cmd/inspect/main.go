package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"matchcore/internal/engine"
	"matchcore/internal/journal"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	dir := flag.String("journal", "data/journal", "Journal directory to inspect")
	symbol := flag.String("symbol", "", "Only show this symbol")
	trades := flag.Int("trades", 10, "Number of recent trades to show per symbol")
	flag.Parse()

	if err := run(os.Stdout, *dir, *symbol, *trades); err != nil {
		log.Error().Err(err).Msg("inspect failed")
		os.Exit(1)
	}
}

func run(out io.Writer, dir, symbol string, trades int) (err error) {
	store, err := journal.Open(dir)
	if err != nil {
		return fmt.Errorf("unable to open journal: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("unable to close journal: %w", cerr))
		}
	}()

	// Rebuild a throwaway market from the journal.
	market := engine.NewMarket()
	if _, err := journal.Replay(market, store); err != nil {
		return fmt.Errorf("unable to replay journal: %w", err)
	}
	history, err := store.Trades()
	if err != nil {
		return fmt.Errorf("unable to load trades: %w", err)
	}

	symbols := market.Symbols()
	if symbol != "" {
		symbols = []string{symbol}
	}
	for _, s := range symbols {
		book, err := market.OrderBook(s)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", s, err)
			continue
		}
		fmt.Fprintln(out, renderBook(book, recentTrades(history, s, trades)))
	}
	fmt.Fprintln(out, renderPositions(market.AllPositions()))
	return nil
}
