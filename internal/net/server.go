package net

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"matchcore/internal/common"
	"matchcore/internal/config"
	"matchcore/internal/engine"
	"matchcore/internal/utils"
)

const (
	MAX_RECV_SIZE       = 4 * 1024
	defaultNWorkers     = 10
	defaultConnTimeout  = 250 * time.Millisecond
	defaultWriteTimeout = time.Second
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
)

// OrderHandler is what the server drives on behalf of its clients.
type OrderHandler interface {
	Place(order common.Order) ([]common.Trade, error)
	Cancel(id string) (common.Order, error)
	Book(symbol string) (bids, asks []engine.FlatPriceLevel, err error)
}

// ClientSession contains relevant information pertaining to an individual
// connected TCP session. Only the worker currently holding the session reads
// from it; writes may come from any worker.
type ClientSession struct {
	conn      net.Conn
	address   string
	scratch   []byte
	pending   bytes.Buffer // bytes read but not yet framed
	writeLock sync.Mutex
}

type Server struct {
	address     string
	port        int
	connTimeout time.Duration
	handler     OrderHandler
	pool        *utils.WorkerPool
	now         func() time.Time

	cancel   context.CancelFunc
	listener net.Listener
	ready    chan struct{}
	lock     sync.Mutex

	clientSessions     map[*ClientSession]struct{}
	owners             map[string]*ClientSession // owner to the session that last spoke for it
	clientSessionsLock sync.Mutex
}

func New(cfg config.Server, handler OrderHandler) *Server {
	workers := cfg.Workers
	if workers == 0 {
		workers = defaultNWorkers
	}
	timeout := cfg.ConnTimeout
	if timeout <= 0 {
		timeout = defaultConnTimeout
	}
	return &Server{
		address:        cfg.Address,
		port:           cfg.Port,
		connTimeout:    timeout,
		handler:        handler,
		pool:           utils.NewWorkerPool(workers),
		now:            time.Now,
		ready:          make(chan struct{}),
		clientSessions: make(map[*ClientSession]struct{}),
		owners:         make(map[string]*ClientSession),
	}
}

// Ready is closed once the server is listening.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr is the listening address, nil before Ready.
func (s *Server) Addr() net.Addr {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Shutdown() {
	log.Info().Msg("server shutting down")
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Run serves clients until ctx is done or Shutdown is called.
func (s *Server) Run(ctx context.Context) error {
	// Setup a cancel on the context for future shutdown.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.lock.Lock()
	s.cancel = cancel
	s.lock.Unlock()
	t, ctx := tomb.WithContext(ctx)

	// Start a tcp listener.
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", net.JoinHostPort(s.address, strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("unable to start listener: %w", err)
	}
	s.lock.Lock()
	s.listener = listener
	s.lock.Unlock()
	close(s.ready)

	// Start the worker pool.
	s.pool.Setup(t, s.handleConnection)

	// Unblock Accept once we are dying.
	t.Go(func() error {
		<-t.Dying()
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Error().Err(err).Msg("unable to close listener")
		}
		return nil
	})

	// Start accepting connections.
	t.Go(func() error {
		return s.acceptConnections(t, listener)
	})

	log.Info().
		Str("address", listener.Addr().String()).
		Int("workers", s.pool.Size()).
		Msg("server running")

	err = t.Wait()
	s.closeClientSessions()
	log.Info().Msg("server stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) acceptConnections(t *tomb.Tomb, listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			select {
			case <-t.Dying():
				return nil
			default:
			}
			log.Error().Err(err).Msg("error accepting client")
			continue
		}

		// We expect to potentially maintain a long TCP session.
		session := s.addClientSession(conn)
		log.Info().
			Str("address", session.address).
			Msg("new client added")

		// Pass over the connection to be read from.
		if !s.pool.AddTask(t, session) {
			s.deleteClientSession(session)
			return nil
		}
	}
}

// Report sends a report to the session of owner.
func (s *Server) Report(owner string, report Report) error {
	s.clientSessionsLock.Lock()
	session, ok := s.owners[owner]
	s.clientSessionsLock.Unlock()
	if !ok {
		return ErrClientDoesNotExist
	}
	return s.send(session, report)
}

// handleConnection is a short-lived worker method which reads what the
// connection has to offer, handles every complete message and passes the
// session back to the pool. If the connection dies, the client session is
// cleaned up.
// Note, any error returned from here is fatal.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	session, ok := task.(*ClientSession)
	if !ok {
		return ErrImproperConversion
	}

	select {
	case <-t.Dying():
		return nil
	default:
	}

	readErr := session.fill(s.connTimeout)
	for {
		payload, ok := session.next()
		if !ok {
			break
		}
		message, err := parseMessage(payload)
		if err != nil {
			log.Error().
				Err(err).
				Str("address", session.address).
				Msg("error parsing message")
			s.reply(session, generateErrorReport("", err, s.now()))
			continue
		}
		s.handleMessage(session, message)
	}

	if readErr != nil {
		if errors.Is(readErr, io.EOF) {
			log.Info().Str("address", session.address).Msg("client disconnected")
		} else {
			log.Error().
				Err(readErr).
				Str("address", session.address).
				Msg("error reading from connection")
		}
		s.deleteClientSession(session)
		return nil
	}

	// Push the client connection back to handle the next message.
	s.pool.Resubmit(t, session)
	return nil
}

func (s *Server) handleMessage(session *ClientSession, message Message) {
	switch m := message.(type) {
	case NewOrderMessage:
		s.handleNewOrder(session, m)
	case CancelOrderMessage:
		s.handleCancelOrder(session, m)
	case BookRequestMessage:
		s.handleBookRequest(session, m)
	default:
		// Heartbeat.
	}
}

func (s *Server) handleNewOrder(session *ClientSession, m NewOrderMessage) {
	order, err := m.Order()
	if err != nil {
		s.reply(session, generateErrorReport("", err, s.now()))
		return
	}
	if order.Owner() != "" {
		s.bindOwner(order.Owner(), session)
	}

	trades, err := s.handler.Place(order)
	if err != nil && len(trades) == 0 {
		s.reply(session, generateErrorReport(order.ID(), err, s.now()))
		return
	}
	s.reply(session, orderReport(AckReport, order, s.now()))

	// A pass may also cross orders that were already resting, so each side
	// is routed by order id rather than by which side took.
	for _, trade := range trades {
		buyer, seller := generateTradeReports(trade)
		s.execution(session, order.ID(), trade.BuyOrderID(), trade.BuyOwner(), buyer)
		s.execution(session, order.ID(), trade.SellOrderID(), trade.SellOwner(), seller)
	}
	if err != nil {
		s.reply(session, generateErrorReport(order.ID(), err, s.now()))
	}
}

// execution sends the report for one side of a trade: back to session when
// that side is the order it just placed, otherwise to the side's owner.
func (s *Server) execution(session *ClientSession, placedID, orderID, owner string, report Report) {
	if orderID == placedID {
		s.reply(session, report)
		return
	}
	if owner == "" {
		return
	}
	if err := s.Report(owner, report); err != nil {
		log.Debug().Err(err).Str("owner", owner).Msg("execution report not delivered")
	}
}

func (s *Server) handleCancelOrder(session *ClientSession, m CancelOrderMessage) {
	cancelled, err := s.handler.Cancel(m.OrderID)
	if cancelled.ID() != "" {
		s.reply(session, orderReport(CancelledReport, cancelled, s.now()))
	}
	if err != nil {
		s.reply(session, generateErrorReport(m.OrderID, err, s.now()))
	}
}

// handleBookRequest answers with one level report per price, bids then
// asks, closed by an ack for the symbol.
func (s *Server) handleBookRequest(session *ClientSession, m BookRequestMessage) {
	bids, asks, err := s.handler.Book(m.Symbol)
	if err != nil {
		s.reply(session, generateErrorReport("", err, s.now()))
		return
	}
	now := s.now()
	for _, report := range generateLevelReports(m.Symbol, common.Buy, bids, now) {
		s.reply(session, report)
	}
	for _, report := range generateLevelReports(m.Symbol, common.Sell, asks, now) {
		s.reply(session, report)
	}
	s.reply(session, Report{MessageType: AckReport, Timestamp: uint64(now.UnixNano()), Symbol: m.Symbol})
}

func (s *Server) reply(session *ClientSession, report Report) {
	if err := s.send(session, report); err != nil {
		log.Error().
			Err(err).
			Str("address", session.address).
			Msg("unable to send report")
	}
}

func (s *Server) send(session *ClientSession, report Report) error {
	payload, err := report.Serialize()
	if err != nil {
		return err
	}
	frame, err := Frame(payload)
	if err != nil {
		return err
	}

	session.writeLock.Lock()
	defer session.writeLock.Unlock()
	if err := session.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return fmt.Errorf("unable to send report: %w", err)
	}
	if _, err := session.conn.Write(frame); err != nil {
		return fmt.Errorf("unable to send report: %w", err)
	}
	return nil
}

// fill reads whatever arrives within timeout. A timeout is not an error.
func (c *ClientSession) fill(timeout time.Duration) error {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	n, err := c.conn.Read(c.scratch)
	c.pending.Write(c.scratch[:n])
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}
		return err
	}
	return nil
}

// next takes the next complete frame off the pending bytes. The payload is
// valid until the next fill.
func (c *ClientSession) next() ([]byte, bool) {
	payload, _, ok := SplitFrame(c.pending.Bytes())
	if !ok {
		return nil, false
	}
	c.pending.Next(FrameHeaderLen + len(payload))
	return payload, true
}

// addClientSession is an atomic map add
func (s *Server) addClientSession(conn net.Conn) *ClientSession {
	session := &ClientSession{
		conn:    conn,
		address: conn.RemoteAddr().String(),
		scratch: make([]byte, MAX_RECV_SIZE),
	}

	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	s.clientSessions[session] = struct{}{}
	return session
}

func (s *Server) bindOwner(owner string, session *ClientSession) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	s.owners[owner] = session
}

// deleteClientSession is an atomic map remove
func (s *Server) deleteClientSession(session *ClientSession) {
	s.clientSessionsLock.Lock()
	delete(s.clientSessions, session)
	for owner, bound := range s.owners {
		if bound == session {
			delete(s.owners, owner)
		}
	}
	s.clientSessionsLock.Unlock()

	if err := session.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Error().Str("address", session.address).Err(err).Msg("unable to close connection")
	}
}

func (s *Server) closeClientSessions() {
	s.clientSessionsLock.Lock()
	sessions := make([]*ClientSession, 0, len(s.clientSessions))
	for session := range s.clientSessions {
		sessions = append(sessions, session)
	}
	s.clientSessionsLock.Unlock()

	for _, session := range sessions {
		s.deleteClientSession(session)
	}
}
