package main

import (
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

	"sleipnir/internal/common"
	sleipnirNet "sleipnir/internal/net"
)

type serializer interface {
	Serialize() ([]byte, error)
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	// 1. CLI Parameter Parsing
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the exchange server")
	owner := flag.String("owner", "", "Owner username (compulsory)")
	action := flag.String("action", "place", "Action to perform: ['place', 'amend', 'cancel', 'log', 'heartbeat']")

	// Order Parameters
	pairStr := flag.String("pair", "BTC/USDT", "Instrument pair as ORDER/PRICE (assets max 4 chars)")
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	price := flag.Float64("price", 100.0, "Limit price")
	qtyStr := flag.String("qty", "10", "Quantity or comma-separated list (e.g. 10,20,0.5)")

	// Amend / Cancel Parameters
	id := flag.Uint64("id", 0, "Id of the order to amend or cancel")

	flag.Parse()

	// Validation
	if *owner == "" {
		fmt.Println("Error: -owner is compulsory.")
		flag.Usage()
		os.Exit(1)
	}
	pair, err := common.ParsePair(*pairStr)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -pair")
	}
	side := common.Buy
	if strings.ToLower(*sideStr) == "sell" {
		side = common.Sell
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

	// Execute Action
	switch strings.ToLower(*action) {
	case "place":
		for _, q := range parseQuantities(*qtyStr) {
			err := send(conn, &sleipnirNet.NewOrderMessage{
				Pair:       pair,
				Side:       side,
				LimitPrice: *price,
				Quantity:   q,
				Username:   *owner,
			})
			if err != nil {
				log.Error().Err(err).Float64("qty", q).Msg("failed to place order")
				continue
			}
			fmt.Printf("-> Sent %v Order: %s %g @ %.2f\n", side, pair, q, *price)
		}

	case "amend":
		requireID(*id)
		quantities := parseQuantities(*qtyStr)
		if len(quantities) != 1 {
			log.Fatal().Msg("-qty must be a single quantity for amend")
		}
		err := send(conn, &sleipnirNet.AmendOrderMessage{
			Pair:       pair,
			Side:       side,
			OrderID:    *id,
			LimitPrice: *price,
			Quantity:   quantities[0],
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to send amend request")
		} else {
			fmt.Printf("-> Sent Amend Request for %d: %g @ %.2f\n", *id, quantities[0], *price)
		}

	case "cancel":
		requireID(*id)
		err := send(conn, &sleipnirNet.CancelOrderMessage{Pair: pair, Side: side, OrderID: *id})
		if err != nil {
			log.Error().Err(err).Msg("failed to send cancel request")
		} else {
			fmt.Printf("-> Sent Cancel Request for %d\n", *id)
		}

	case "log":
		if err := send(conn, &sleipnirNet.LogBookMessage{Pair: pair}); err != nil {
			log.Error().Err(err).Msg("failed to send log request")
		} else {
			fmt.Println("-> Sent Log Request")
		}

	case "heartbeat":
		if _, err := conn.Write(sleipnirNet.SerializeHeartbeat()); err != nil {
			log.Error().Err(err).Msg("failed to send heartbeat")
		}

	default:
		log.Fatal().Str("action", *action).Msg("unknown action")
	}

	// Keep the client alive to receive execution reports
	fmt.Println("\nListening for reports... (Press Ctrl+C to exit)")
	select {}
}

func requireID(id uint64) {
	if id == 0 {
		log.Fatal().Msg("-id is required for this action")
	}
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

func send(conn net.Conn, m serializer) error {
	buf, err := m.Serialize()
	if err != nil {
		return err
	}
	_, err = conn.Write(buf)
	return err
}

// readReports continuously reads and prints reports from the server.
func readReports(conn net.Conn) {
	for {
		report, err := sleipnirNet.ReadReport(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Error().Err(err).Msg("connection lost")
			}
			os.Exit(0)
		}

		switch report.MessageType {
		case sleipnirNet.ErrorReport:
			fmt.Printf("\n[SERVER ERROR] %s\n", report.Err)
		case sleipnirNet.AckReport:
			fmt.Printf("\n[ACK] %v %s | Id: %d | Qty: %g | Price: %.2f\n",
				report.Side, report.Pair, report.OrderID, report.Quantity, report.Price)
		case sleipnirNet.CancelReport:
			fmt.Printf("\n[CANCELLED] %v %s | Id: %d\n", report.Side, report.Pair, report.OrderID)
		default:
			fmt.Printf("\n[EXECUTION] Match: %v %s | Qty: %g | Price: %.2f | vs: %s | Id: %d\n",
				report.Side, report.Pair, report.Quantity, report.Price, report.Counterparty, report.OrderID)
		}
	}
}
