package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/corvidlabs/janusbroker/internal/fsm"
	"github.com/corvidlabs/janusbroker/internal/logging"
	"github.com/corvidlabs/janusbroker/pkg/manifest"
	"github.com/corvidlabs/janusbroker/pkg/security"
	"github.com/corvidlabs/janusbroker/pkg/wire"
)

// Lifecycle states and transition events, per the fixed
// Stopped -> Starting -> Running -> Stopping -> Stopped cycle. Re-entering
// Starting from Stopped is how a dispatcher is restarted.
const (
	Stopped  fsm.State = "stopped"
	Starting fsm.State = "starting"
	Running  fsm.State = "running"
	Stopping fsm.State = "stopping"
)

const (
	eventStart fsm.Event = "start"
	eventReady fsm.Event = "ready"
	eventStop  fsm.Event = "stop"
	eventDown  fsm.Event = "down"
)

// replySendAttempts and replySendBackoff ground the reply-to retry policy:
// a client's reply-to socket can still be mid-bind when the response is
// ready, so a few quick retries absorb the race rather than dropping the
// response.
const (
	replySendAttempts = 5
	replySendBackoff  = time.Millisecond
)

// Config configures a Dispatcher.
type Config struct {
	SocketPath         string
	MaxMessageSize     int
	ReceiveBackoff     time.Duration
	MaxRequestHandlers int
	CleanupOnStart     bool
	CleanupOnShutdown  bool
	Implementation     string
	Version            string
	Manifest           *manifest.Manifest
	Validator          *security.Validator
	Logger             logging.Logger
}

// Dispatcher owns a server's listening datagram socket, its built-in and
// custom request handlers, and its lifecycle state machine.
type Dispatcher struct {
	cfg       Config
	handlers  *HandlerRegistry
	validator *security.Validator
	logger    logging.Logger
	fsm       *fsm.FSM

	mu       sync.RWMutex
	manifest *manifest.Manifest
	conn     *net.UnixConn
	stopCh   chan struct{}
}

// New builds a Dispatcher bound to cfg.SocketPath. It does not bind the
// socket; call Start to do that.
func New(cfg Config) *Dispatcher {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 * 1024
	}
	if cfg.ReceiveBackoff <= 0 {
		cfg.ReceiveBackoff = 10 * time.Millisecond
	}
	if cfg.Implementation == "" {
		cfg.Implementation = "go"
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	if cfg.Validator == nil {
		cfg.Validator = security.New(security.DefaultConfig())
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNoop()
	}

	d := &Dispatcher{
		cfg:       cfg,
		handlers:  NewHandlerRegistry(cfg.MaxRequestHandlers),
		validator: cfg.Validator,
		logger:    cfg.Logger.WithField("component", "dispatcher"),
		manifest:  cfg.Manifest,
	}
	d.fsm = fsm.New(Stopped, d.logger, []fsm.Transition{
		{From: []fsm.State{Stopped}, To: Starting, Event: eventStart},
		{From: []fsm.State{Starting}, To: Running, Event: eventReady},
		{From: []fsm.State{Running}, To: Stopping, Event: eventStop},
		{From: []fsm.State{Stopping}, To: Stopped, Event: eventDown},
	})
	return d
}

// State returns the dispatcher's current lifecycle state.
func (d *Dispatcher) State() fsm.State {
	return d.fsm.Current()
}

// RegisterHandler adds a custom handler under name.
func (d *Dispatcher) RegisterHandler(name string, handler RequestHandler) error {
	return d.handlers.Register(name, handler)
}

// SetManifest replaces the document returned by the built-in "manifest"
// request.
func (d *Dispatcher) SetManifest(m *manifest.Manifest) {
	d.mu.Lock()
	d.manifest = m
	d.mu.Unlock()
}

// Start binds the listening socket and runs the receive loop until Stop is
// called or ctx is cancelled. It blocks for the lifetime of the server.
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := d.fsm.Fire(ctx, eventStart); err != nil {
		return err
	}

	if d.cfg.CleanupOnStart {
		os.Remove(d.cfg.SocketPath)
	}
	addr, err := net.ResolveUnixAddr("unixgram", d.cfg.SocketPath)
	if err != nil {
		return errors.Wrap(err, "dispatcher: resolve socket address")
	}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return errors.Wrap(err, "dispatcher: bind socket")
	}

	d.mu.Lock()
	d.conn = conn
	d.stopCh = make(chan struct{})
	d.mu.Unlock()

	defer func() {
		conn.Close()
		if d.cfg.CleanupOnShutdown {
			os.Remove(d.cfg.SocketPath)
		}
	}()

	if err := d.fsm.Fire(ctx, eventReady); err != nil {
		return err
	}
	d.logger.Info("dispatcher listening", "socket_path", d.cfg.SocketPath)

	d.receiveLoop(ctx, conn)

	if err := d.fsm.Fire(ctx, eventDown); err != nil {
		return err
	}
	return nil
}

// Stop asks the receive loop to exit and moves the lifecycle to Stopping.
// It does not block for the loop to actually exit.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if err := d.fsm.Fire(ctx, eventStop); err != nil {
		return err
	}
	d.mu.RLock()
	stopCh := d.stopCh
	d.mu.RUnlock()
	if stopCh != nil {
		close(stopCh)
	}
	return nil
}

func (d *Dispatcher) receiveLoop(ctx context.Context, conn *net.UnixConn) {
	buf := make([]byte, d.cfg.MaxMessageSize)
	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(d.cfg.ReceiveBackoff))
		n, _, err := conn.ReadFromUnix(buf)
		if err != nil {
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		go d.handleDatagram(payload)
	}
}

func (d *Dispatcher) handleDatagram(data []byte) {
	var req wire.Request
	if err := json.Unmarshal(data, &req); err != nil {
		d.logger.Warn("dropping unparseable datagram", "error", err)
		return
	}

	resp := d.process(&req)
	if req.ReplyTo == "" {
		return
	}
	if resp == nil {
		return
	}
	d.sendResponse(resp, req.ReplyTo)
}

func (d *Dispatcher) process(req *wire.Request) *wire.Response {
	if handled, resp := d.handleBuiltin(req); handled {
		return resp
	}

	result, werr := d.handlers.Execute(req.Request, req)
	if werr != nil {
		return wire.NewErrorResponse(req.ID, werr)
	}
	return wire.NewSuccessResponse(req.ID, result)
}

func (d *Dispatcher) handleBuiltin(req *wire.Request) (bool, *wire.Response) {
	switch req.Request {
	case "ping":
		return true, wire.NewSuccessResponse(req.ID, map[string]any{
			"pong": true, "timestamp": nowRFC3339(),
		})
	case "echo":
		message := req.Args["message"]
		if message == nil {
			message = fmt.Sprintf("Hello from %s SOCK_DGRAM server!", d.cfg.Implementation)
		}
		return true, wire.NewSuccessResponse(req.ID, map[string]any{"echo": message})
	case "get_info":
		return true, wire.NewSuccessResponse(req.ID, map[string]any{
			"implementation": d.cfg.Implementation,
			"version":        d.cfg.Version,
			"protocol":       "SOCK_DGRAM",
		})
	case "validate":
		return true, d.handleValidate(req)
	case "slow_process":
		time.Sleep(2000 * time.Millisecond)
		result := map[string]any{"processed": true, "delay": "2000ms"}
		if msg, ok := req.Args["message"]; ok {
			result["message"] = msg
		}
		return true, wire.NewSuccessResponse(req.ID, result)
	case "manifest":
		return true, d.handleManifest(req)
	default:
		return false, nil
	}
}

func (d *Dispatcher) handleValidate(req *wire.Request) *wire.Response {
	raw, _ := req.Args["message"].(string)
	var data any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return wire.NewSuccessResponse(req.ID, map[string]any{
			"valid":  false,
			"error":  "invalid JSON",
			"reason": err.Error(),
		})
	}
	return wire.NewSuccessResponse(req.ID, map[string]any{"valid": true, "data": data})
}

func (d *Dispatcher) handleManifest(req *wire.Request) *wire.Response {
	d.mu.RLock()
	m := d.manifest
	d.mu.RUnlock()
	if m == nil {
		return wire.NewErrorResponse(req.ID, wire.NewError(wire.ResourceNotFound, "no manifest configured on this server"))
	}
	doc := map[string]any{"version": m.Version}
	if m.Name != "" {
		doc["name"] = m.Name
	}
	if m.Description != "" {
		doc["description"] = m.Description
	}
	if len(m.Models) > 0 {
		doc["models"] = m.Models
	}
	return wire.NewSuccessResponse(req.ID, doc)
}

// sendResponse serializes resp and sends it to replyTo, retrying a few
// times with a short back-off when the reply-to socket does not exist yet
// — the client may still be mid-bind on some kernels.
func (d *Dispatcher) sendResponse(resp *wire.Response, replyTo string) {
	payload, err := json.Marshal(resp)
	if err != nil {
		d.logger.Error("failed to marshal response", "error", err)
		return
	}

	addr, err := net.ResolveUnixAddr("unixgram", replyTo)
	if err != nil {
		d.logger.Error("failed to resolve reply-to address", "reply_to", replyTo, "error", err)
		return
	}

	for attempt := 1; attempt <= replySendAttempts; attempt++ {
		conn, err := net.DialUnix("unixgram", nil, addr)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && attempt < replySendAttempts {
				time.Sleep(replySendBackoff)
				continue
			}
			d.logger.Warn("giving up sending response", "reply_to", replyTo, "attempt", attempt, "error", err)
			return
		}
		_, werr := conn.Write(payload)
		conn.Close()
		if werr == nil {
			return
		}
		if errors.Is(werr, os.ErrNotExist) && attempt < replySendAttempts {
			time.Sleep(replySendBackoff)
			continue
		}
		d.logger.Warn("giving up sending response", "reply_to", replyTo, "attempt", attempt, "error", werr)
		return
	}
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
