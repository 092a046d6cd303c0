package client

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimeoutManagerArmFires(t *testing.T) {
	tm := NewTimeoutManager()
	var fired int32
	tm.Arm("a", 5*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

	require.Eventually(t, func() bool { return atomic.LoadInt32(&fired) == 1 }, time.Second, time.Millisecond)
	require.Equal(t, int64(1), tm.Stats().TotalExpired)
}

func TestTimeoutManagerDisarmPreventsFiring(t *testing.T) {
	tm := NewTimeoutManager()
	var fired int32
	tm.Arm("a", 10*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	require.True(t, tm.Disarm("a"))

	time.Sleep(25 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestTimeoutManagerExtendDelaysFiring(t *testing.T) {
	tm := NewTimeoutManager()
	var fired int32
	start := time.Now()
	tm.Arm("a", 10*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	require.True(t, tm.Extend("a", 40*time.Millisecond))

	require.Eventually(t, func() bool { return atomic.LoadInt32(&fired) == 1 }, time.Second, time.Millisecond)
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestTimeoutManagerBilateralOnlyOneFires(t *testing.T) {
	tm := NewTimeoutManager()
	var phases []Phase
	var mu sync.Mutex

	tm.ArmBilateral("base", 10*time.Millisecond, func(p Phase) {
		mu.Lock()
		phases = append(phases, p)
		mu.Unlock()
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(phases) == 1
	}, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, phases, 1)
}

func TestTimeoutManagerDisarmBilateral(t *testing.T) {
	tm := NewTimeoutManager()
	tm.ArmBilateral("base", time.Second, func(Phase) {})
	require.Equal(t, 2, tm.DisarmBilateral("base"))
}

func TestTimeoutManagerStats(t *testing.T) {
	tm := NewTimeoutManager()
	tm.Arm("a", time.Second, func() {})
	tm.Arm("b", 2*time.Second, func() {})
	stats := tm.Stats()
	require.Equal(t, 2, stats.Active)
	require.Equal(t, int64(2), stats.TotalRegistered)
}
