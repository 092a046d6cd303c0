package client

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/janusbroker/pkg/transport"
	"github.com/corvidlabs/janusbroker/pkg/wire"
)

// fakeServer binds a SOCK_DGRAM socket and answers every request with
// respond, echoing request_id/id so the client's correlation check passes.
func fakeServer(t *testing.T, respond func(req *wire.Request) *wire.Response) (path string, stop func()) {
	t.Helper()
	path = transport.GenerateReplyToPath("/tmp", "janus_fake_server")
	addr, err := net.ResolveUnixAddr("unixgram", path)
	require.NoError(t, err)
	conn, err := net.ListenUnixgram("unixgram", addr)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 64*1024)
		for {
			conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
			n, from, err := conn.ReadFromUnix(buf)
			select {
			case <-done:
				return
			default:
			}
			if err != nil {
				continue
			}
			var req wire.Request
			if json.Unmarshal(buf[:n], &req) != nil || from == nil || from.Name == "" {
				continue
			}
			resp := respond(&req)
			resp.RequestID = req.ID
			payload, _ := json.Marshal(resp)
			replyConn, err := net.DialUnix("unixgram", nil, from)
			if err == nil {
				replyConn.Write(payload)
				replyConn.Close()
			}
		}
	}()

	return path, func() {
		close(done)
		conn.Close()
		os.Remove(path)
	}
}

func TestClientSendRoundTrip(t *testing.T) {
	path, stop := fakeServer(t, func(req *wire.Request) *wire.Response {
		return wire.NewSuccessResponse(req.ID, map[string]any{"echo": req.Args["message"]})
	})
	defer stop()

	c, err := New(Config{ServerPath: path, DefaultTimeout: time.Second})
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Send(context.Background(), "echo", map[string]any{"message": "hi"}, 0)
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, 0, c.registry.Stats().PendingCount)
}

func TestClientSendTimesOutWhenServerSilent(t *testing.T) {
	path := transport.GenerateReplyToPath("/tmp", "janus_silent_server")
	addr, err := net.ResolveUnixAddr("unixgram", path)
	require.NoError(t, err)
	conn, err := net.ListenUnixgram("unixgram", addr)
	require.NoError(t, err)
	defer func() {
		conn.Close()
		os.Remove(path)
	}()

	c, err := New(Config{ServerPath: path, DefaultTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Send(context.Background(), "ping", nil, 0)
	require.Error(t, err)
	werr, ok := err.(*wire.Error)
	require.True(t, ok)
	require.Equal(t, wire.HandlerTimeout, werr.Code)
}

func TestClientSendFireAndForget(t *testing.T) {
	path, stop := fakeServer(t, func(req *wire.Request) *wire.Response {
		return wire.NewSuccessResponse(req.ID, nil)
	})
	defer stop()

	c, err := New(Config{ServerPath: path, DefaultTimeout: time.Second})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SendFireAndForget("ping", nil))
}

func TestClientExecuteParallelPreservesOrder(t *testing.T) {
	path, stop := fakeServer(t, func(req *wire.Request) *wire.Response {
		return wire.NewSuccessResponse(req.ID, map[string]any{"n": req.Args["n"]})
	})
	defer stop()

	c, err := New(Config{ServerPath: path, DefaultTimeout: time.Second})
	require.NoError(t, err)
	defer c.Close()

	requests := []ParallelRequest{
		{Name: "echo", Args: map[string]any{"n": float64(1)}},
		{Name: "echo", Args: map[string]any{"n": float64(2)}},
		{Name: "echo", Args: map[string]any{"n": float64(3)}},
	}
	results := c.ExecuteParallel(context.Background(), requests, time.Second)
	require.Len(t, results, 3)
	for i, r := range results {
		require.NoError(t, r.Err)
		require.Equal(t, float64(i+1), r.Response.Result.(map[string]any)["n"])
	}
}

func TestClientSendAsyncCancel(t *testing.T) {
	path := transport.GenerateReplyToPath("/tmp", "janus_cancel_server")
	addr, err := net.ResolveUnixAddr("unixgram", path)
	require.NoError(t, err)
	conn, err := net.ListenUnixgram("unixgram", addr)
	require.NoError(t, err)
	defer func() {
		conn.Close()
		os.Remove(path)
	}()

	c, err := New(Config{ServerPath: path, DefaultTimeout: time.Second})
	require.NoError(t, err)
	defer c.Close()

	handle, _, errCh := c.SendAsync(context.Background(), "ping", nil, time.Second)
	require.NotEmpty(t, handle.id)
	require.True(t, handle.Cancel())

	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("expected send to eventually fail after timeout")
	}
}
