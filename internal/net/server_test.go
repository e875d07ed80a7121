package net

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleipnir/internal/book"
	. "sleipnir/internal/common"
	"sleipnir/internal/engine"
)

// --- Setup & Helpers --------------------------------------------------------

func startTestServer(t *testing.T) *Server {
	t.Helper()

	eng := engine.New(book.DefaultConfig(), testPair)
	srv := New("127.0.0.1", 0, eng, WithWorkers(4), WithCompactInterval(10*time.Millisecond))
	eng.SetReporter(srv)

	done := make(chan error, 1)
	go func() { done <- srv.Run(context.Background()) }()

	select {
	case <-srv.Ready():
	case err := <-done:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	t.Cleanup(func() {
		srv.Shutdown()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv
}

func dialTestServer(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendTestMessage(t *testing.T, conn net.Conn, m interface{ Serialize() ([]byte, error) }) {
	t.Helper()
	b, err := m.Serialize()
	require.NoError(t, err)
	_, err = conn.Write(b)
	require.NoError(t, err)
}

func readTestReport(t *testing.T, conn net.Conn) Report {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	report, err := ReadReport(conn)
	require.NoError(t, err)
	return report
}

// --- Tests ------------------------------------------------------------------

func TestServer_PlaceAndMatch(t *testing.T) {
	srv := startTestServer(t)
	maker := dialTestServer(t, srv)
	taker := dialTestServer(t, srv)

	// 1. The maker rests a sell and gets its id back.
	sendTestMessage(t, maker, &NewOrderMessage{
		Pair: testPair, Side: Sell, LimitPrice: 100, Quantity: 2, Username: "maker",
	})
	ack := readTestReport(t, maker)
	require.Equal(t, AckReport, ack.MessageType)
	assert.Equal(t, testPair, ack.Pair)
	assert.Equal(t, 2.0, ack.Quantity)
	makerID := ack.OrderID

	// 2. The taker crosses it partially.
	sendTestMessage(t, taker, &NewOrderMessage{
		Pair: testPair, Side: Buy, LimitPrice: 101, Quantity: 0.5, Username: "taker",
	})
	ack = readTestReport(t, taker)
	require.Equal(t, AckReport, ack.MessageType)

	execution := readTestReport(t, taker)
	assert.Equal(t, ExecutionReport, execution.MessageType)
	assert.Equal(t, Buy, execution.Side)
	assert.Equal(t, 100.0, execution.Price)
	assert.Equal(t, 0.5, execution.Quantity)
	assert.Equal(t, "maker", execution.Counterparty)

	execution = readTestReport(t, maker)
	assert.Equal(t, ExecutionReport, execution.MessageType)
	assert.Equal(t, makerID, execution.OrderID)
	assert.Equal(t, "taker", execution.Counterparty)

	// 3. The maker amends the remainder, then cancels it.
	sendTestMessage(t, maker, &AmendOrderMessage{
		Pair: testPair, Side: Sell, OrderID: makerID, LimitPrice: 105, Quantity: 1,
	})
	ack = readTestReport(t, maker)
	assert.Equal(t, AckReport, ack.MessageType)
	assert.Equal(t, 105.0, ack.Price)

	sendTestMessage(t, maker, &CancelOrderMessage{Pair: testPair, Side: Sell, OrderID: makerID})
	cancelled := readTestReport(t, maker)
	assert.Equal(t, CancelReport, cancelled.MessageType)
	assert.Equal(t, makerID, cancelled.OrderID)

	// 4. A second cancel is an error.
	sendTestMessage(t, maker, &CancelOrderMessage{Pair: testPair, Side: Sell, OrderID: makerID})
	failed := readTestReport(t, maker)
	assert.Equal(t, ErrorReport, failed.MessageType)
	assert.Contains(t, failed.Err, engine.ErrOrderNotFound.Error())
}

func TestServer_RejectsBadRequests(t *testing.T) {
	srv := startTestServer(t)
	conn := dialTestServer(t, srv)

	// 1. Unknown pair is reported, the session survives.
	sendTestMessage(t, conn, &NewOrderMessage{
		Pair: NewPair("DOGE", "USDT"), Side: Buy, LimitPrice: 1, Quantity: 1, Username: "x",
	})
	report := readTestReport(t, conn)
	assert.Equal(t, ErrorReport, report.MessageType)
	assert.Contains(t, report.Err, engine.ErrUnknownPair.Error())

	_, err := conn.Write(SerializeHeartbeat())
	require.NoError(t, err)
	sendTestMessage(t, conn, &LogBookMessage{Pair: testPair})

	// 2. Garbage loses framing: error report, then the connection closes.
	_, err = conn.Write([]byte{0xff, 0xff})
	require.NoError(t, err)
	report = readTestReport(t, conn)
	assert.Equal(t, ErrorReport, report.MessageType)
	assert.Contains(t, report.Err, ErrInvalidMessageType.Error())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = ReadReport(conn)
	assert.Error(t, err)
}

func TestServer_ReportToUnknownClient(t *testing.T) {
	srv := New("127.0.0.1", 0, engine.New(book.DefaultConfig(), testPair))

	err := srv.ReportAck(Order{Session: "10.0.0.1:1"})
	assert.ErrorIs(t, err, ErrClientDoesNotExist)
}
