// Package transport implements the broker's SOCK_DGRAM datagram transport:
// ephemeral reply-to socket lifecycle, single-datagram send/receive with
// timeout, and a best-effort liveness probe.
package transport

import (
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/corvidlabs/janusbroker/internal/logging"
	"github.com/corvidlabs/janusbroker/pkg/security"
)

// replyCounter is the process-wide monotonic counter mixed into generated
// reply-to paths so two requests issued within the same nanosecond never
// collide.
var replyCounter uint64

// GenerateReplyToPath builds a reply-to socket path of the form
// "{dir}/{prefix}_{pid}_{nanos}__{counter}.sock".
func GenerateReplyToPath(dir, prefix string) string {
	n := atomic.AddUint64(&replyCounter, 1)
	return fmt.Sprintf("%s/%s_%d_%d__%d.sock", dir, prefix, os.Getpid(), time.Now().UnixNano(), n)
}

// SizeError reports a send that failed because the payload exceeds the
// transport's size ceiling (typically EMSGSIZE against a SOCK_DGRAM
// socket, whose kernel buffer is roughly 64KB on Linux).
type SizeError struct {
	PayloadSize int
	Err         error
}

func (e *SizeError) Error() string {
	return errors.Wrapf(e.Err, "payload too large for SOCK_DGRAM (~64KB kernel limit): %d bytes", e.PayloadSize).Error()
}

func (e *SizeError) Unwrap() error { return e.Err }

// Transport sends and receives single datagrams against a fixed server
// socket path.
type Transport struct {
	serverPath string
	timeout    time.Duration
	maxSize    int
	validator  *security.Validator
	logger     logging.Logger
}

// Config configures a Transport.
type Config struct {
	ServerPath string
	Timeout    time.Duration
	MaxSize    int
	Validator  *security.Validator
	Logger     logging.Logger
}

// New builds a Transport targeting cfg.ServerPath.
func New(cfg Config) (*Transport, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 64 * 1024
	}
	if cfg.Validator == nil {
		cfg.Validator = security.New(security.DefaultConfig())
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNoop()
	}
	if verr := cfg.Validator.SocketPath(cfg.ServerPath); verr != nil {
		return nil, errors.Wrap(verr, "transport: invalid server socket path")
	}
	return &Transport{
		serverPath: cfg.ServerPath,
		timeout:    cfg.Timeout,
		maxSize:    cfg.MaxSize,
		validator:  cfg.Validator,
		logger:     cfg.Logger.WithField("component", "transport"),
	}, nil
}

// SendRequestAwaitResponse binds a datagram socket at replyToPath, sends
// payload to the server, waits up to timeout for a single reply datagram,
// and unlinks the reply socket on every exit path.
func (t *Transport) SendRequestAwaitResponse(payload []byte, replyToPath string, timeout time.Duration) ([]byte, error) {
	if verr := t.validator.SocketPath(replyToPath); verr != nil {
		return nil, errors.Wrap(verr, "transport: invalid reply-to path")
	}
	if timeout <= 0 {
		timeout = t.timeout
	}

	replyAddr, err := net.ResolveUnixAddr("unixgram", replyToPath)
	if err != nil {
		return nil, errors.Wrap(err, "transport: resolve reply-to address")
	}
	replyConn, err := net.ListenUnixgram("unixgram", replyAddr)
	if err != nil {
		return nil, errors.Wrap(err, "transport: bind reply-to socket")
	}
	defer func() {
		replyConn.Close()
		os.Remove(replyToPath)
	}()

	// Send from the bound reply socket so the datagram carries replyToPath
	// as its source address.
	serverAddr, err := net.ResolveUnixAddr("unixgram", t.serverPath)
	if err != nil {
		return nil, errors.Wrap(err, "transport: resolve server address")
	}
	if err := replyConn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		return nil, errors.Wrap(err, "transport: set write deadline")
	}
	if _, err := replyConn.WriteToUnix(payload, serverAddr); err != nil {
		if errors.Is(err, syscall.EMSGSIZE) {
			return nil, &SizeError{PayloadSize: len(payload), Err: err}
		}
		return nil, errors.Wrap(err, "transport: send datagram")
	}

	if err := replyConn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, errors.Wrap(err, "transport: set read deadline")
	}
	buf := make([]byte, t.maxSize)
	n, err := replyConn.Read(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, errors.Wrap(err, "transport: timed out awaiting response")
		}
		return nil, errors.Wrap(err, "transport: read response datagram")
	}
	return buf[:n], nil
}

// SendFireAndForget sends payload with no reply socket.
func (t *Transport) SendFireAndForget(payload []byte) error {
	return t.send(payload)
}

func (t *Transport) send(payload []byte) error {
	serverAddr, err := net.ResolveUnixAddr("unixgram", t.serverPath)
	if err != nil {
		return errors.Wrap(err, "transport: resolve server address")
	}
	conn, err := net.DialUnix("unixgram", nil, serverAddr)
	if err != nil {
		return errors.Wrap(err, "transport: dial server socket")
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		return errors.Wrap(err, "transport: set write deadline")
	}
	if _, err := conn.Write(payload); err != nil {
		if errors.Is(err, syscall.EMSGSIZE) {
			return &SizeError{PayloadSize: len(payload), Err: err}
		}
		return errors.Wrap(err, "transport: send datagram")
	}
	return nil
}

// Probe is a best-effort liveness check against targetPath: it dials the
// socket and sends a minimal payload, surfacing errors by kind.
func (t *Transport) Probe(targetPath string) error {
	addr, err := net.ResolveUnixAddr("unixgram", targetPath)
	if err != nil {
		return errors.Wrap(err, "transport: resolve probe target")
	}
	conn, err := net.DialUnix("unixgram", nil, addr)
	if err != nil {
		return errors.Wrap(err, "transport: probe target unreachable")
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(`{"request":"ping"}`)); err != nil {
		return errors.Wrap(err, "transport: probe send failed")
	}
	return nil
}
