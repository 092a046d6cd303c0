package client

import (
	"sync"
	"time"
)

// Phase distinguishes the two timer entries of a bilateral pair — the
// request leg (covers delivery of the datagram itself) and the response
// leg (covers waiting for the reply). Exactly one fires; the other is
// cancelled alongside it.
type Phase string

const (
	PhaseRequest  Phase = "request"
	PhaseResponse Phase = "response"
)

// timeoutEntry is one armed timer, independent of anything the correlation
// Registry tracks.
type timeoutEntry struct {
	timer        *time.Timer
	onTimeout    func()
	duration     time.Duration
	registeredAt time.Time
	sibling      string // the other half of a bilateral pair, if any
}

// timeoutStats accumulates lifetime counters plus a ring buffer of recent
// firing timestamps for a rolling rate estimate.
type timeoutStats struct {
	totalRegistered int64
	totalCancelled  int64
	totalExpired    int64
	totalDuration   time.Duration
	maxDuration     time.Duration
	minDuration     time.Duration

	recentFirings [recentWindowSize]time.Time
	recentCursor  int
	recentFilled  bool
}

const recentWindowSize = 64

// TimeoutManager arms and disarms per-request deadlines. It knows nothing
// about response correlation — it only calls back when a duration elapses
// without having been disarmed first. The client facade is the component
// that wires a timeout's callback to the Registry's Cancel.
type TimeoutManager struct {
	mu      sync.Mutex
	entries map[string]*timeoutEntry
	stats   timeoutStats
}

// NewTimeoutManager builds an empty TimeoutManager.
func NewTimeoutManager() *TimeoutManager {
	return &TimeoutManager{
		entries: make(map[string]*timeoutEntry),
		stats:   timeoutStats{minDuration: time.Hour},
	}
}

// Arm schedules onTimeout to run after duration unless Disarm(id) or
// Extend(id, ...) runs first. Re-arming an id replaces its existing timer.
func (tm *TimeoutManager) Arm(id string, duration time.Duration, onTimeout func()) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.armLocked(id, duration, onTimeout, "")
}

func (tm *TimeoutManager) armLocked(id string, duration time.Duration, onTimeout func(), sibling string) {
	if existing, ok := tm.entries[id]; ok {
		existing.timer.Stop()
		tm.stats.totalCancelled++
	}

	tm.stats.totalRegistered++
	tm.stats.totalDuration += duration
	if duration > tm.stats.maxDuration {
		tm.stats.maxDuration = duration
	}
	if duration < tm.stats.minDuration {
		tm.stats.minDuration = duration
	}

	timer := time.AfterFunc(duration, func() { tm.fire(id) })
	tm.entries[id] = &timeoutEntry{
		timer:        timer,
		onTimeout:    onTimeout,
		duration:     duration,
		registeredAt: time.Now(),
		sibling:      sibling,
	}
}

func (tm *TimeoutManager) fire(id string) {
	tm.mu.Lock()
	entry, ok := tm.entries[id]
	if !ok {
		tm.mu.Unlock()
		return
	}
	delete(tm.entries, id)
	tm.stats.totalExpired++
	tm.recordFiring()

	var sibling *timeoutEntry
	if entry.sibling != "" {
		if s, ok := tm.entries[entry.sibling]; ok {
			sibling = s
			delete(tm.entries, entry.sibling)
			tm.stats.totalCancelled++
		}
	}
	tm.mu.Unlock()

	if sibling != nil {
		sibling.timer.Stop()
	}
	if entry.onTimeout != nil {
		entry.onTimeout()
	}
}

func (tm *TimeoutManager) recordFiring() {
	tm.stats.recentFirings[tm.stats.recentCursor] = time.Now()
	tm.stats.recentCursor = (tm.stats.recentCursor + 1) % recentWindowSize
	if tm.stats.recentCursor == 0 {
		tm.stats.recentFilled = true
	}
}

// Disarm cancels id's timer, if any, without running its callback. Returns
// false if id was not armed.
func (tm *TimeoutManager) Disarm(id string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	entry, ok := tm.entries[id]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(tm.entries, id)
	tm.stats.totalCancelled++
	return true
}

// Extend cancels id's current timer and starts a fresh one of length extra;
// the entry's recorded duration becomes its previous duration plus extra.
// Returns false if id was not armed.
func (tm *TimeoutManager) Extend(id string, extra time.Duration) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	entry, ok := tm.entries[id]
	if !ok {
		return false
	}
	entry.timer.Stop()
	newDuration := entry.duration + extra
	entry.duration = newDuration
	entry.timer = time.AfterFunc(extra, func() { tm.fire(id) })
	return true
}

// ArmBilateral registers a paired {base}-request/{base}-response timeout:
// whichever fires first cancels the other, and only the firing leg's
// onTimeout runs.
func (tm *TimeoutManager) ArmBilateral(base string, duration time.Duration, onTimeout func(phase Phase)) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	requestID := base + "-request"
	responseID := base + "-response"
	tm.armLocked(requestID, duration, func() { onTimeout(PhaseRequest) }, responseID)
	tm.armLocked(responseID, duration, func() { onTimeout(PhaseResponse) }, requestID)
}

// DisarmBilateral cancels both legs of a bilateral pair registered under
// base, returning how many were actually armed.
func (tm *TimeoutManager) DisarmBilateral(base string) int {
	count := 0
	if tm.Disarm(base + "-request") {
		count++
	}
	if tm.Disarm(base + "-response") {
		count++
	}
	return count
}

// TimeoutStats summarizes the manager's lifetime and current activity.
type TimeoutStats struct {
	Active          int
	TotalRegistered int64
	TotalCancelled  int64
	TotalExpired    int64
	AverageDuration time.Duration
	LongestDuration time.Duration
	ShortestDuration time.Duration
	RecentPerMinute float64
}

// Stats reports the manager's counters, including a rolling expirations-
// per-minute rate computed from the last recentWindowSize firings.
func (tm *TimeoutManager) Stats() TimeoutStats {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	var avg time.Duration
	if tm.stats.totalRegistered > 0 {
		avg = tm.stats.totalDuration / time.Duration(tm.stats.totalRegistered)
	}
	shortest := tm.stats.minDuration
	if tm.stats.totalRegistered == 0 {
		shortest = 0
	}

	return TimeoutStats{
		Active:           len(tm.entries),
		TotalRegistered:  tm.stats.totalRegistered,
		TotalCancelled:   tm.stats.totalCancelled,
		TotalExpired:     tm.stats.totalExpired,
		AverageDuration:  avg,
		LongestDuration:  tm.stats.maxDuration,
		ShortestDuration: shortest,
		RecentPerMinute:  tm.recentRateLocked(),
	}
}

// recentRateLocked estimates expirations/minute from the ring buffer of
// recent firing timestamps. Callers must hold tm.mu.
func (tm *TimeoutManager) recentRateLocked() float64 {
	n := tm.stats.recentCursor
	if tm.stats.recentFilled {
		n = recentWindowSize
	}
	if n < 2 {
		return 0
	}

	oldest := time.Time{}
	newest := time.Time{}
	count := 0
	for i := 0; i < recentWindowSize; i++ {
		t := tm.stats.recentFirings[i]
		if t.IsZero() {
			continue
		}
		if oldest.IsZero() || t.Before(oldest) {
			oldest = t
		}
		if newest.IsZero() || t.After(newest) {
			newest = t
		}
		count++
	}
	span := newest.Sub(oldest)
	if span <= 0 {
		return 0
	}
	return float64(count) / span.Minutes()
}

// Close cancels every armed timer.
func (tm *TimeoutManager) Close() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	for id, entry := range tm.entries {
		entry.timer.Stop()
		delete(tm.entries, id)
		tm.stats.totalCancelled++
	}
}
