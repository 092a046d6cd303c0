package pool

import (
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/janusbroker/pkg/wire"
)

// echoStreamServer accepts SOCK_STREAM connections and echoes each framed
// payload it receives back to the same connection.
func echoStreamServer(t *testing.T) (path string, stop func()) {
	t.Helper()
	dir := t.TempDir()
	path = dir + "/pool_test.sock"
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				for {
					header := make([]byte, wire.LengthPrefixSize)
					if _, err := io.ReadFull(conn, header); err != nil {
						return
					}
					n, err := wire.DecodeFrameLength(header)
					if err != nil {
						return
					}
					body := make([]byte, n)
					if _, err := io.ReadFull(conn, body); err != nil {
						return
					}
					framed, err := wire.EncodeFrame(body)
					if err != nil {
						return
					}
					if _, err := conn.Write(framed); err != nil {
						return
					}
				}
			}()
		}
	}()

	return path, func() {
		close(done)
		ln.Close()
		os.Remove(path)
	}
}

func TestPoolSendRoundTrip(t *testing.T) {
	path, stop := echoStreamServer(t)
	defer stop()

	p, err := New(Config{SocketPath: path, ConnectionTimeout: time.Second})
	require.NoError(t, err)
	defer p.Close()

	resp, err := p.Send([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(resp))
}

func TestPoolReusesConnectionAfterReturn(t *testing.T) {
	path, stop := echoStreamServer(t)
	defer stop()

	p, err := New(Config{SocketPath: path, MaxConnections: 1, ConnectionTimeout: time.Second})
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Send([]byte("first"))
	require.NoError(t, err)
	_, err = p.Send([]byte("second"))
	require.NoError(t, err)

	require.Equal(t, 1, p.Stats().Total)
}

func TestPoolExhaustion(t *testing.T) {
	path, stop := echoStreamServer(t)
	defer stop()

	p, err := New(Config{SocketPath: path, MaxConnections: 1, ConnectionTimeout: time.Second})
	require.NoError(t, err)
	defer p.Close()

	_, idx, err := p.Borrow()
	require.NoError(t, err)

	_, _, err = p.Borrow()
	require.Error(t, err)

	require.NoError(t, p.Return(idx))
}

func TestPoolSendNoResponse(t *testing.T) {
	path, stop := echoStreamServer(t)
	defer stop()

	p, err := New(Config{SocketPath: path, ConnectionTimeout: time.Second})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.SendNoResponse([]byte("fire and forget")))
}

func TestPoolRequiresSocketPath(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
