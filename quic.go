// Package quic binds the dependency-free transport.Conn state machine to a
// net.PacketConn, giving it the socket, CID demultiplexing, and structured
// logging the bare connection core has no opinion about (spec §6).
package quic

import (
	"encoding/hex"
	"io"
	"net"
	"sync"

	"github.com/draftquic/quic/transport"
)

// Event types layered on top of transport.EventType: a handler sees both a
// connection's stream-level events and its lifecycle transitions through
// the same slice, exactly as the teacher's cmd/quince handler switches on
// a single e.Type across both.
const (
	EventConnAccept transport.EventType = 100 + iota
	EventConnClose
)

// Conn is the socket-bound view of a connection a Handler is given.
type Conn interface {
	RemoteAddr() net.Addr
	Stream(id uint64) *transport.Stream
	CreateStream(unidirectional bool) (*transport.Stream, error)
	Close(code uint64, reason string) error
	IsClient() bool
}

// Handler reacts to the events a connection produced since it was last
// drained, grounded on the teacher's cmd/quince clientHandler.Serve.
type Handler interface {
	Serve(c Conn, events []transport.Event)
}

// remoteConn pairs a transport.Conn with the socket identity needed to
// address it: the peer's UDP address and the local CID packets for it
// arrive addressed to.
type remoteConn struct {
	addr net.Addr
	scid []byte
	conn *transport.Conn

	endpoint *endpoint
}

func (c *remoteConn) RemoteAddr() net.Addr { return c.addr }

func (c *remoteConn) Stream(id uint64) *transport.Stream { return c.conn.Stream(id) }

func (c *remoteConn) CreateStream(unidirectional bool) (*transport.Stream, error) {
	return c.conn.CreateStream(unidirectional)
}

func (c *remoteConn) Close(code uint64, reason string) error {
	return c.conn.Close(false, code, reason)
}

func (c *remoteConn) IsClient() bool { return c.conn.IsClient() }

func (c *remoteConn) sink(b []byte) error {
	_, err := c.endpoint.pconn.WriteTo(b, c.addr)
	return err
}

type errConn string

func (e errConn) Error() string { return string(e) }

var errTooManyConnections = errConn("too many connections")

// endpoint is the shared machinery between Client and Server: one UDP
// socket multiplexed to many connections by local source CID.
type endpoint struct {
	pconn  net.PacketConn
	config *Config
	logger *logger

	mu      sync.Mutex
	conns   map[string]*remoteConn
	handler Handler

	closeOnce sync.Once
	closeCh   chan struct{}
}

func newEndpoint(config *Config) *endpoint {
	if config == nil {
		config = newConfig()
	}
	return &endpoint{
		config:  config,
		conns:   make(map[string]*remoteConn),
		logger:  newLogger(levelOff, nil),
		closeCh: make(chan struct{}),
	}
}

// SetLogger configures verbosity and sink the way the teacher's
// cmd/quince wires -v and os.Stdout through to every connection.
func (e *endpoint) SetLogger(level int, w io.Writer) {
	e.logger = newLogger(logLevel(level), w)
}

// SetHandler installs the callback invoked after each datagram is
// processed and after each locally-initiated action queues events.
func (e *endpoint) SetHandler(h Handler) { e.handler = h }

func (e *endpoint) lookup(scid []byte) *remoteConn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conns[hex.EncodeToString(scid)]
}

func (e *endpoint) register(c *remoteConn) {
	e.mu.Lock()
	e.conns[hex.EncodeToString(c.scid)] = c
	e.mu.Unlock()
}

func (e *endpoint) unregister(scid []byte) {
	e.mu.Lock()
	delete(e.conns, hex.EncodeToString(scid))
	e.mu.Unlock()
}

func (e *endpoint) connCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns)
}

// serve runs the read loop until Close, dispatching each datagram to its
// remoteConn (or, for a Server, minting one for an unseen CID).
func (e *endpoint) serve(accept bool) error {
	buf := make([]byte, 65535)
	for {
		n, addr, err := e.pconn.ReadFrom(buf)
		if err != nil {
			select {
			case <-e.closeCh:
				return nil
			default:
				return err
			}
		}
		datagram := append([]byte(nil), buf[:n]...)
		e.handleDatagram(datagram, addr, accept)
	}
}

func (e *endpoint) handleDatagram(datagram []byte, addr net.Addr, accept bool) {
	dcid, scid, isLong, err := transport.PeekConnectionIDs(datagram, transport.DefaultCIDLength)
	if err != nil {
		return
	}
	c := e.lookup(dcid)
	justAccepted := false
	if c == nil {
		if !accept || !isLong {
			return
		}
		c, err = e.acceptConn(dcid, scid, addr)
		if err != nil {
			return
		}
		justAccepted = true
	}
	if err := c.conn.DatagramReceived(datagram); err != nil {
		return
	}
	e.deliver(c, justAccepted)
}

func (e *endpoint) acceptConn(odcid, peerSCID []byte, addr net.Addr) (*remoteConn, error) {
	if e.connCount() >= e.config.MaxConnections {
		return nil, errTooManyConnections
	}
	localSCID, err := transport.NewRandomCID()
	if err != nil {
		return nil, err
	}
	tconn, err := transport.Accept(localSCID, odcid, e.config.transportConfig())
	if err != nil {
		return nil, err
	}
	c := &remoteConn{addr: addr, scid: localSCID, conn: tconn, endpoint: e}
	tconn.SetTransportSink(c.sink)
	e.logger.attachLogger(c)
	e.register(c)
	return c, nil
}

// deliver drains events queued by the most recent action on c and hands
// them to the Handler, injecting the socket-level accept/close markers
// around whatever transport-level events the connection itself produced.
func (e *endpoint) deliver(c *remoteConn, justAccepted bool) {
	events := c.conn.Events()
	if justAccepted {
		events = append([]transport.Event{{Type: EventConnAccept}}, events...)
	}
	closed := false
	for _, ev := range events {
		if ev.Type == transport.EventConnectionClose {
			closed = true
		}
	}
	if closed {
		events = append(events, transport.Event{Type: EventConnClose})
		e.unregister(c.scid)
		e.logger.detachLogger(c)
	}
	if len(events) > 0 && e.handler != nil {
		e.handler.Serve(c, events)
	}
}

func (e *endpoint) Close() error {
	e.closeOnce.Do(func() { close(e.closeCh) })
	if e.pconn != nil {
		return e.pconn.Close()
	}
	return nil
}

// Client dials a single outbound connection per Connect call.
type Client struct {
	endpoint
}

// NewClient constructs a Client around config, defaulting it when nil.
func NewClient(config *Config) *Client {
	c := &Client{}
	c.endpoint = *newEndpoint(config)
	return c
}

// ListenAndServe opens the local UDP socket a Client sends and receives
// from; it must be called before Connect.
func (c *Client) ListenAndServe(addr string) error {
	pconn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return err
	}
	c.pconn = pconn
	go c.serve(false)
	return nil
}

// Connect starts a handshake toward addr and sends the first Initial
// flight; watch Handler for EventConnAccept/EventConnClose and the
// transport-level events as the handshake and any streams progress.
func (c *Client) Connect(addr string) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	scid, err := transport.NewRandomCID()
	if err != nil {
		return err
	}
	tconn, err := transport.Connect(scid, c.config.transportConfig())
	if err != nil {
		return err
	}
	rc := &remoteConn{addr: raddr, scid: scid, conn: tconn, endpoint: &c.endpoint}
	tconn.SetTransportSink(rc.sink)
	c.logger.attachLogger(rc)
	c.register(rc)
	if err := tconn.ConnectionMade(); err != nil {
		return err
	}
	c.deliver(rc, true)
	return nil
}

// Server accepts inbound connections on a listening UDP socket.
type Server struct {
	endpoint
}

// NewServer constructs a Server around config, defaulting it when nil.
func NewServer(config *Config) *Server {
	s := &Server{}
	s.endpoint = *newEndpoint(config)
	return s
}

// ListenAndServe opens addr and runs the accept loop until Close.
func (s *Server) ListenAndServe(addr string) error {
	pconn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return err
	}
	s.pconn = pconn
	return s.serve(true)
}
