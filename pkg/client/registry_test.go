package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/janusbroker/pkg/wire"
)

func TestRegistryTrackAndDeliver(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	ch, err := r.Track("req-1", time.Second)
	require.Nil(t, err)

	delivered := r.Deliver(wire.NewSuccessResponse("req-1", "ok"))
	require.True(t, delivered)

	resp := <-ch
	require.Equal(t, "req-1", resp.RequestID)
	require.False(t, r.IsTracking("req-1"))
}

func TestRegistryDeliverUnknownIDReturnsFalse(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	require.False(t, r.Deliver(wire.NewSuccessResponse("nope", nil)))
}

func TestRegistryRejectsDuplicateID(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	_, err := r.Track("dup", time.Second)
	require.Nil(t, err)

	_, err2 := r.Track("dup", time.Second)
	require.NotNil(t, err2)
	require.Equal(t, wire.InvalidRequest, err2.Code)
}

func TestRegistryEnforcesCap(t *testing.T) {
	r := NewRegistry(RegistryConfig{MaxPendingRequests: 1})
	_, err := r.Track("a", time.Second)
	require.Nil(t, err)

	_, err2 := r.Track("b", time.Second)
	require.NotNil(t, err2)
	require.Equal(t, wire.ResourceLimitExceeded, err2.Code)
}

func TestRegistryCancelClosesChannel(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	ch, _ := r.Track("c", time.Second)
	require.True(t, r.Cancel("c"))

	_, ok := <-ch
	require.False(t, ok)
	require.False(t, r.Cancel("c"))
}

func TestRegistryCancelAll(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	r.Track("a", time.Second)
	r.Track("b", time.Second)
	require.Equal(t, 2, r.CancelAll())
	require.Equal(t, 0, r.Stats().PendingCount)
}

func TestRegistryCleanupSweepsExpired(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	r.Track("old", time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	require.Equal(t, 1, r.Cleanup())
	require.False(t, r.IsTracking("old"))
}

func TestRegistryStats(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	r.Track("a", time.Second)
	r.Track("b", time.Second)
	stats := r.Stats()
	require.Equal(t, 2, stats.PendingCount)
	require.GreaterOrEqual(t, stats.AverageAge, time.Duration(0))
}
