package transport

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateReplyToPathIsUnique(t *testing.T) {
	a := GenerateReplyToPath("/tmp", "janus")
	b := GenerateReplyToPath("/tmp", "janus")
	require.NotEqual(t, a, b)
}

func TestSendRequestAwaitResponseRoundTrip(t *testing.T) {
	serverPath := GenerateReplyToPath("/tmp", "janus_test_server")
	serverAddr, err := net.ResolveUnixAddr("unixgram", serverPath)
	require.NoError(t, err)
	serverConn, err := net.ListenUnixgram("unixgram", serverAddr)
	require.NoError(t, err)
	defer func() {
		serverConn.Close()
		os.Remove(serverPath)
	}()

	go func() {
		buf := make([]byte, 4096)
		serverConn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, from, err := serverConn.ReadFromUnix(buf)
		if err != nil {
			return
		}
		if from != nil && from.Name != "" {
			replyConn, err := net.DialUnix("unixgram", nil, from)
			if err == nil {
				replyConn.Write(buf[:n])
				replyConn.Close()
			}
		}
	}()

	tr, err := New(Config{ServerPath: serverPath, Timeout: time.Second})
	require.NoError(t, err)

	replyTo := GenerateReplyToPath("/tmp", "janus_test_client")
	resp, err := tr.SendRequestAwaitResponse([]byte("hello"), replyTo, time.Second)
	require.NoError(t, err)
	require.Equal(t, "hello", string(resp))
	_, statErr := os.Stat(replyTo)
	require.True(t, os.IsNotExist(statErr))
}

func TestSendRequestAwaitResponseTimesOut(t *testing.T) {
	serverPath := GenerateReplyToPath("/tmp", "janus_test_server_silent")
	serverAddr, err := net.ResolveUnixAddr("unixgram", serverPath)
	require.NoError(t, err)
	serverConn, err := net.ListenUnixgram("unixgram", serverAddr)
	require.NoError(t, err)
	defer func() {
		serverConn.Close()
		os.Remove(serverPath)
	}()

	tr, err := New(Config{ServerPath: serverPath, Timeout: 100 * time.Millisecond})
	require.NoError(t, err)

	replyTo := GenerateReplyToPath("/tmp", "janus_test_client_silent")
	_, err = tr.SendRequestAwaitResponse([]byte("hello"), replyTo, 100*time.Millisecond)
	require.Error(t, err)
	_, statErr := os.Stat(replyTo)
	require.True(t, os.IsNotExist(statErr))
}

func TestSendFireAndForget(t *testing.T) {
	serverPath := GenerateReplyToPath("/tmp", "janus_test_fnf")
	serverAddr, err := net.ResolveUnixAddr("unixgram", serverPath)
	require.NoError(t, err)
	serverConn, err := net.ListenUnixgram("unixgram", serverAddr)
	require.NoError(t, err)
	defer func() {
		serverConn.Close()
		os.Remove(serverPath)
	}()

	tr, err := New(Config{ServerPath: serverPath, Timeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, tr.SendFireAndForget([]byte("ping")))
}

func TestNewRejectsDisallowedServerPath(t *testing.T) {
	_, err := New(Config{ServerPath: "/etc/janus.sock"})
	require.Error(t, err)
}
