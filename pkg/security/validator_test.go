package security

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSocketPathRules(t *testing.T) {
	v := New(DefaultConfig())

	require.Nil(t, v.SocketPath("/tmp/janus_1234_5678.sock"))
	require.NotNil(t, v.SocketPath(""))
	require.NotNil(t, v.SocketPath("relative/path.sock"))
	require.NotNil(t, v.SocketPath("/tmp/../etc/passwd"))
	require.NotNil(t, v.SocketPath("/home/user/x.sock"))
	require.NotNil(t, v.SocketPath("/tmp/"+string(make([]byte, 200))))
}

func TestIdentifierRules(t *testing.T) {
	v := New(DefaultConfig())
	require.Nil(t, v.Identifier("get_info"))
	require.Nil(t, v.Identifier("my-request_1"))
	require.NotNil(t, v.Identifier(""))
	require.NotNil(t, v.Identifier("bad name"))
	require.NotNil(t, v.Identifier("bad/name"))
}

func TestReservedRequestName(t *testing.T) {
	v := New(DefaultConfig())
	for _, name := range ReservedNames {
		require.NotNil(t, v.ReservedRequestName(name))
	}
	require.Nil(t, v.ReservedRequestName("custom_request"))
}

func TestUUIDAndTimestamp(t *testing.T) {
	v := New(DefaultConfig())
	require.Nil(t, v.UUID("123e4567-e89b-12d3-a456-426614174000"))
	require.NotNil(t, v.UUID("not-a-uuid"))

	require.Nil(t, v.Timestamp("2024-01-15T10:30:00Z"))
	require.NotNil(t, v.Timestamp("not-a-timestamp"))
}

func TestJSONObjectShape(t *testing.T) {
	v := New(DefaultConfig())
	require.Nil(t, v.JSONObjectShape([]byte(`{"k":1}`)))
	require.NotNil(t, v.JSONObjectShape([]byte(`[1,2,3]`)))
	require.NotNil(t, v.JSONObjectShape([]byte(`not json`)))
}

func TestDangerousPatternHeuristics(t *testing.T) {
	v := New(DefaultConfig())
	require.NotNil(t, v.DangerousPattern("SELECT * FROM users"))
	require.NotNil(t, v.DangerousPattern("<script>alert(1)</script>"))
	require.Nil(t, v.DangerousPattern("a perfectly normal string"))
}

func TestMessageAndArgsSize(t *testing.T) {
	v := New(Config{MaxMessageSize: 10, MaxArgsDataSize: 5})
	require.Nil(t, v.MessageSize(10))
	require.NotNil(t, v.MessageSize(11))
	require.Nil(t, v.ArgsSize(5))
	require.NotNil(t, v.ArgsSize(6))
}
