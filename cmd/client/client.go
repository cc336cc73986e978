package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"matchcore/internal/common"
	matchNet "matchcore/internal/net"
)

type serializer interface {
	Serialize() ([]byte, error)
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// 1. CLI Parameter Parsing
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the exchange server")
	owner := flag.String("owner", "", "Owner username (compulsory for place)")
	action := flag.String("action", "place", "Action to perform: ['place', 'cancel', 'book']")
	wait := flag.Duration("wait", 2*time.Second, "How long to listen for reports, 0 for ever")

	// Order Parameters
	symbol := flag.String("symbol", "AAPL", "Symbol to trade or inspect")
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	price := flag.Float64("price", 100.0, "Limit price")
	qtyStr := flag.String("qty", "10", "Quantity or comma-separated list (e.g. 10,20,50)")

	// Cancel Parameters
	id := flag.String("id", "", "Id of the order to cancel")

	flag.Parse()

	var messages []serializer
	switch strings.ToLower(*action) {
	case "place":
		if *owner == "" {
			fmt.Println("Error: -owner is compulsory.")
			flag.Usage()
			os.Exit(1)
		}
		side := common.Buy
		if strings.ToLower(*sideStr) == "sell" {
			side = common.Sell
		}
		for _, q := range parseQuantities(*qtyStr) {
			messages = append(messages, matchNet.NewOrderMessageFor(side, *symbol, *owner, *price, q))
		}
	case "cancel":
		if *id == "" {
			log.Fatal().Msg("-id is required for cancellation")
		}
		messages = append(messages, matchNet.CancelOrderMessageFor(*id))
	case "book":
		messages = append(messages, matchNet.BookRequestMessageFor(*symbol))
	default:
		log.Fatal().Str("action", *action).Msg("unknown action")
	}

	// Connect to Server
	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatal().Err(err).Str("server", *serverAddr).Msg("failed to connect to server")
	}
	defer conn.Close()
	fmt.Printf("Connected to %s as '%s'\n", *serverAddr, *owner)

	// Start Listening for Reports (Async)
	go readReports(conn)

	for _, msg := range messages {
		if err := send(conn, msg); err != nil {
			log.Error().Err(err).Msg("failed to send message")
		}
	}

	if *wait == 0 {
		fmt.Println("\nListening for reports... (Press Ctrl+C to exit)")
		select {}
	}
	time.Sleep(*wait)
}

// parseQuantities splits a comma-separated string into quantities.
func parseQuantities(input string) []float64 {
	var result []float64
	for _, p := range strings.Split(input, ",") {
		p = strings.TrimSpace(p)
		if val, err := strconv.ParseFloat(p, 64); err == nil {
			result = append(result, val)
		} else {
			log.Warn().Str("qty", p).Msg("invalid quantity, skipping")
		}
	}
	return result
}

func send(conn net.Conn, msg serializer) error {
	payload, err := msg.Serialize()
	if err != nil {
		return err
	}
	frame, err := matchNet.Frame(payload)
	if err != nil {
		return err
	}
	_, err = conn.Write(frame)
	return err
}

// readReports continuously reads and prints reports from the server.
func readReports(conn net.Conn) {
	header := make([]byte, matchNet.FrameHeaderLen)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Error().Err(err).Msg("connection lost")
			}
			os.Exit(0)
		}
		payload := make([]byte, binary.BigEndian.Uint16(header))
		if _, err := io.ReadFull(conn, payload); err != nil {
			log.Error().Err(err).Msg("error reading report body")
			os.Exit(1)
		}

		r, err := matchNet.ParseReport(payload)
		if err != nil {
			log.Error().Err(err).Msg("malformed report")
			continue
		}

		switch r.MessageType {
		case matchNet.ErrorReport:
			fmt.Printf("[SERVER ERROR] %s %s\n", r.OrderID, r.Err)
		case matchNet.ExecutionReport:
			fmt.Printf("[EXECUTION] %s %s | Qty: %g | Price: %g | vs: %s | Id: %s\n",
				r.Side, r.Symbol, r.Quantity, r.Price, r.Counterparty, r.OrderID)
		case matchNet.LevelReport:
			fmt.Printf("[LEVEL] %s %s %g @ %g\n", r.Symbol, r.Side, r.Quantity, r.Price)
		default:
			fmt.Printf("[%v] %s %s | Qty: %g | Price: %g | Id: %s\n",
				r.MessageType, r.Side, r.Symbol, r.Quantity, r.Price, r.OrderID)
		}
	}
}
