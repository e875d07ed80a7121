package net

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	. "sleipnir/internal/common"
	"sleipnir/internal/engine"
	"sleipnir/internal/utils"
)

const (
	defaultNWorkers        = 10
	defaultWriteTimeout    = time.Second
	defaultCompactInterval = 30 * time.Second
	logBookDepth           = 10
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
)

// ClientSession contains relevant information pertaining to an individual
// connected TCP session.
type ClientSession struct {
	address   string
	conn      net.Conn
	reader    *bufio.Reader
	writeLock sync.Mutex
}

// ClientMessage links a message to the client sending it.
type ClientMessage struct {
	clientAddress string
	message       Message
}

type Option func(*Server)

// WithWorkers bounds the number of connections served at once. Further
// connections wait in the pool's task queue.
func WithWorkers(n uint) Option {
	return func(s *Server) { s.pool = utils.NewWorkerPool(n) }
}

// WithCompactInterval sets how often idle books are swept of stale index
// records. Zero disables it.
func WithCompactInterval(d time.Duration) Option {
	return func(s *Server) { s.compactInterval = d }
}

type Server struct {
	address         string
	port            int
	engine          *engine.Engine
	pool            *utils.WorkerPool
	compactInterval time.Duration

	clientSessions     map[string]*ClientSession
	clientSessionsLock sync.Mutex
	clientMessages     chan ClientMessage

	ready        chan struct{} // Closed once the listener is bound
	listenAddr   net.Addr
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

func New(address string, port int, eng *engine.Engine, opts ...Option) *Server {
	s := &Server{
		address:         address,
		port:            port,
		engine:          eng,
		pool:            utils.NewWorkerPool(defaultNWorkers),
		compactInterval: defaultCompactInterval,
		clientSessions:  make(map[string]*ClientSession),
		clientMessages:  make(chan ClientMessage, 1),
		ready:           make(chan struct{}),
		shutdown:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Shutdown signals the running server to stop and clean up.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		log.Info().Msg("server shutting down")
		close(s.shutdown)
	})
}

// Ready is closed once the server listens; Addr is valid from then on.
func (s *Server) Ready() <-chan struct{} { return s.ready }

func (s *Server) Addr() net.Addr { return s.listenAddr }

// Run serves until ctx is done or Shutdown is called. Every goroutine it
// starts has exited by the time it returns.
func (s *Server) Run(ctx context.Context) error {
	var t tomb.Tomb

	// Tie the tomb to the context and to Shutdown.
	t.Go(func() error {
		select {
		case <-ctx.Done():
		case <-s.shutdown:
		case <-t.Dying():
		}
		t.Kill(nil)
		return nil
	})

	// Start a tcp listener.
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		t.Kill(err)
		_ = t.Wait()
		return fmt.Errorf("unable to start listener: %w", err)
	}
	s.listenAddr = listener.Addr()
	close(s.ready)

	// Unblock Accept and every session read once dying.
	t.Go(func() error {
		<-t.Dying()
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
		s.closeClientSessions()
		return nil
	})

	// Start the worker pool.
	s.pool.Setup(&t, s.handleConnection)

	// Start the session handler.
	t.Go(func() error {
		return s.sessionHandler(&t)
	})

	// Start the book maintenance.
	t.Go(func() error {
		return s.compactBooks(&t)
	})

	log.Info().Str("address", listener.Addr().String()).Msg("server running")

	// Start accepting connections.
	t.Go(func() error {
		return s.acceptConnections(&t, listener)
	})

	return t.Wait()
}

func (s *Server) acceptConnections(t *tomb.Tomb, listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if !t.Alive() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Error().Err(err).Msg("error accepting client")
			continue
		}

		log.Info().
			Str("address", conn.RemoteAddr().String()).
			Msg("new client added")
		// Add the client to client sessions we are tracking.
		// We expect to potentially maintain a long TCP session.
		session := s.addClientSession(conn)

		// Pass over the session to be read from.
		if !s.pool.AddTask(t, session) {
			s.deleteClientSession(session)
			return nil
		}
	}
}

// ---- Engine Reporter Implementation ----

func (s *Server) ReportAck(order Order) error {
	payload, err := generateWireOrderReport(AckReport, order)
	if err != nil {
		return err
	}
	return s.send(order.Session, payload)
}

func (s *Server) ReportTrade(trade Trade) error {
	partyReport, counterPartyReport, err := generateWireTradeReports(trade)
	if err != nil {
		return err
	}
	return errors.Join(
		s.send(trade.Party.Session, partyReport),
		s.send(trade.CounterParty.Session, counterPartyReport),
	)
}

func (s *Server) ReportError(clientAddress string, err error) error {
	payload, serr := generateWireErrorReport(err)
	if serr != nil {
		return serr
	}
	return s.send(clientAddress, payload)
}

// send writes one report to a client. A client that cannot be written to is
// dropped.
func (s *Server) send(clientAddress string, payload []byte) error {
	s.clientSessionsLock.Lock()
	client, ok := s.clientSessions[clientAddress]
	s.clientSessionsLock.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrClientDoesNotExist, clientAddress)
	}

	client.writeLock.Lock()
	defer client.writeLock.Unlock()

	if err := client.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return fmt.Errorf("unable to send report: %w", err)
	}
	if _, err := client.conn.Write(payload); err != nil {
		s.deleteClientSession(client)
		return fmt.Errorf("unable to send report: %w", err)
	}
	return nil
}

// ---- Session Handling ----

// sessionHandler reads off incoming messages from clients and drives the
// engine. Messages are received from the pool of workers and handled one at
// a time.
func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case message := <-s.clientMessages:
			s.handleMessage(message)
		}
	}
}

func (s *Server) handleMessage(cm ClientMessage) {
	var err error
	switch msg := cm.message.(type) {
	case *NewOrderMessage:
		_, err = s.engine.PlaceOrder(msg.Order(cm.clientAddress))
	case *AmendOrderMessage:
		_, err = s.engine.AmendOrder(msg.Pair, msg.Side, msg.OrderID, msg.LimitPrice, msg.Quantity)
	case *CancelOrderMessage:
		err = s.engine.CancelOrder(msg.Pair, msg.Side, msg.OrderID)
		if err == nil {
			err = s.reportCancel(cm.clientAddress, msg)
		}
	case *LogBookMessage:
		err = s.logBook(msg.Pair)
	case BaseMessage:
		log.Debug().
			Str("address", cm.clientAddress).
			Int("message type", int(msg.GetType())).
			Msg("heartbeat")
		return
	default:
		err = fmt.Errorf("%w: %T", ErrInvalidMessageType, cm.message)
	}

	if err == nil {
		return
	}
	log.Warn().
		Err(err).
		Str("address", cm.clientAddress).
		Int("message type", int(cm.message.GetType())).
		Msg("request failed")
	if rerr := s.ReportError(cm.clientAddress, err); rerr != nil {
		log.Error().Err(rerr).Str("address", cm.clientAddress).Msg("unable to report error")
	}
}

func (s *Server) reportCancel(clientAddress string, msg *CancelOrderMessage) error {
	payload, err := generateWireOrderReport(CancelReport, Order{
		ID:        msg.OrderID,
		Pair:      msg.Pair,
		Side:      msg.Side,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}
	if err := s.send(clientAddress, payload); err != nil {
		log.Error().Err(err).Str("address", clientAddress).Msg("unable to report cancel")
	}
	return nil
}

func (s *Server) logBook(pair Pair) error {
	depth, err := s.engine.Depth(pair, logBookDepth)
	if err != nil {
		return err
	}
	log.Info().
		Str("pair", depth.Pair.String()).
		Interface("bids", depth.Bids).
		Interface("asks", depth.Asks).
		Msg("order book")
	return nil
}

// handleConnection is a long-lived worker method which reads messages off the
// connection, parses and passes them forward to sessionHandler. If the
// connection dies or sends something unparsable the client session is cleaned
// up and the worker is freed for the next connection.
// Note, any error returned from here is fatal.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	session, ok := task.(*ClientSession)
	if !ok {
		return ErrImproperConversion
	}
	defer s.deleteClientSession(session)

	for {
		message, err := ReadMessage(session.reader)
		if err != nil {
			if !t.Alive() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				log.Info().Str("address", session.address).Msg("client disconnected")
				return nil
			}
			log.Error().
				Err(err).
				Str("address", session.address).
				Msg("error reading from connection")

			// Framing is lost once a message fails to parse, so the client is
			// told and dropped.
			if rerr := s.ReportError(session.address, err); rerr != nil {
				log.Error().Err(rerr).Str("address", session.address).Msg("unable to report error")
			}
			return nil
		}

		// Pass over to the message handling buffer.
		select {
		case <-t.Dying():
			return nil
		case s.clientMessages <- ClientMessage{
			message:       message,
			clientAddress: session.address,
		}:
		}
	}
}

func (s *Server) compactBooks(t *tomb.Tomb) error {
	if s.compactInterval <= 0 {
		return nil
	}
	ticker := time.NewTicker(s.compactInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.Dying():
			return nil
		case <-ticker.C:
			s.engine.Compact()
		}
	}
}

// addClientSession is an atomic map add
func (s *Server) addClientSession(conn net.Conn) *ClientSession {
	session := &ClientSession{
		address: conn.RemoteAddr().String(),
		conn:    conn,
		reader:  bufio.NewReader(conn),
	}

	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	s.clientSessions[session.address] = session
	return session
}

// deleteClientSession is an atomic map remove. The connection is closed.
func (s *Server) deleteClientSession(session *ClientSession) {
	s.clientSessionsLock.Lock()
	if current, ok := s.clientSessions[session.address]; ok && current == session {
		delete(s.clientSessions, session.address)
	}
	s.clientSessionsLock.Unlock()

	if err := session.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Error().Err(err).Str("address", session.address).Msg("unable to close connection")
	}
}

func (s *Server) closeClientSessions() {
	s.clientSessionsLock.Lock()
	sessions := make([]*ClientSession, 0, len(s.clientSessions))
	for _, session := range s.clientSessions {
		sessions = append(sessions, session)
	}
	s.clientSessionsLock.Unlock()

	for _, session := range sessions {
		s.deleteClientSession(session)
	}
}
