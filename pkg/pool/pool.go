// Package pool implements the broker's optional alternate transport: a
// bounded pool of reusable SOCK_STREAM Unix connections, framed with
// pkg/wire's length-prefixed encoding. The primary transport (pkg/transport)
// is connectionless SOCK_DGRAM; this package exists for callers that would
// rather pay a one-time connection setup cost than redial per request.
package pool

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/corvidlabs/janusbroker/internal/logging"
	"github.com/corvidlabs/janusbroker/pkg/wire"
)

// Config configures a Pool.
type Config struct {
	SocketPath        string
	MaxConnections    int
	ConnectionTimeout time.Duration
	Logger            logging.Logger
}

// DefaultConfig mirrors the sizes the rest of the broker's defaults use.
func DefaultConfig() Config {
	return Config{
		MaxConnections:    100,
		ConnectionTimeout: 30 * time.Second,
	}
}

// Pool manages a bounded set of reusable SOCK_STREAM connections to a
// single server socket path, borrowed for the duration of one request and
// returned afterward.
type Pool struct {
	socketPath string
	maxConns   int
	timeout    time.Duration
	logger     logging.Logger

	mu        sync.Mutex
	conns     []net.Conn
	available []bool
}

// New builds a Pool targeting cfg.SocketPath. It does not eagerly dial;
// connections are created lazily by Borrow.
func New(cfg Config) (*Pool, error) {
	def := DefaultConfig()
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = def.MaxConnections
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = def.ConnectionTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNoop()
	}
	if cfg.SocketPath == "" {
		return nil, errors.New("pool: socket path is required")
	}
	return &Pool{
		socketPath: cfg.SocketPath,
		maxConns:   cfg.MaxConnections,
		timeout:    cfg.ConnectionTimeout,
		logger:     cfg.Logger.WithField("component", "pool"),
		conns:      make([]net.Conn, 0, cfg.MaxConnections),
		available:  make([]bool, 0, cfg.MaxConnections),
	}, nil
}

// Borrow returns an index and a ready-to-use connection. Callers must call
// Return(index) when finished, whether or not the request succeeded.
func (p *Pool) Borrow() (net.Conn, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, free := range p.available {
		if free {
			p.available[i] = false
			return p.conns[i], i, nil
		}
	}

	if len(p.conns) >= p.maxConns {
		return nil, -1, errors.Newf("pool: exhausted, maximum %d connections reached", p.maxConns)
	}

	conn, err := net.DialTimeout("unix", p.socketPath, p.timeout)
	if err != nil {
		return nil, -1, errors.Wrap(err, "pool: dial server socket")
	}

	index := len(p.conns)
	p.conns = append(p.conns, conn)
	p.available = append(p.available, false)
	return conn, index, nil
}

// Return marks the connection at index available for reuse.
func (p *Pool) Return(index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.conns) {
		return errors.Newf("pool: invalid connection index %d", index)
	}
	p.available[index] = true
	return nil
}

// evict closes and replaces the connection at index after a send error,
// leaving the slot occupied so later Borrows don't need to grow the pool.
func (p *Pool) evict(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.conns) {
		return
	}
	p.conns[index].Close()
	conn, err := net.DialTimeout("unix", p.socketPath, p.timeout)
	if err != nil {
		p.logger.Warn("failed to replace evicted pool connection", "error", err)
		return
	}
	p.conns[index] = conn
}

// Send borrows a connection, writes a length-prefixed payload, reads the
// length-prefixed response, and returns the connection to the pool.
func (p *Pool) Send(payload []byte) ([]byte, error) {
	conn, index, err := p.Borrow()
	if err != nil {
		return nil, errors.Wrap(err, "pool: borrow connection")
	}
	defer p.Return(index)

	if err := p.writeFrame(conn, payload); err != nil {
		p.evict(index)
		return nil, errors.Wrap(err, "pool: send framed payload")
	}

	resp, err := p.readFrame(conn)
	if err != nil {
		p.evict(index)
		return nil, errors.Wrap(err, "pool: read framed response")
	}
	return resp, nil
}

// SendNoResponse borrows a connection, writes a length-prefixed payload,
// and returns without waiting for a reply.
func (p *Pool) SendNoResponse(payload []byte) error {
	conn, index, err := p.Borrow()
	if err != nil {
		return errors.Wrap(err, "pool: borrow connection")
	}
	defer p.Return(index)

	if err := p.writeFrame(conn, payload); err != nil {
		p.evict(index)
		return errors.Wrap(err, "pool: send framed payload")
	}
	return nil
}

func (p *Pool) writeFrame(conn net.Conn, payload []byte) error {
	framed, err := wire.EncodeFrame(payload)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(p.timeout))
	_, err = conn.Write(framed)
	return err
}

func (p *Pool) readFrame(conn net.Conn) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(p.timeout))
	header := make([]byte, wire.LengthPrefixSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, err
	}
	n, err := wire.DecodeFrameLength(header)
	if err != nil {
		return nil, err
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, err
	}
	return body, nil
}

// Stats summarizes the pool's current connection usage.
type Stats struct {
	Total     int
	Available int
	InUse     int
}

// Stats returns the pool's current connection usage.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	available := 0
	for _, free := range p.available {
		if free {
			available++
		}
	}
	return Stats{Total: len(p.conns), Available: available, InUse: len(p.conns) - available}
}

// Close closes every pooled connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var lastErr error
	for _, c := range p.conns {
		if err := c.Close(); err != nil {
			lastErr = err
		}
	}
	p.conns = p.conns[:0]
	p.available = p.available[:0]
	return lastErr
}
