// Package client implements the broker's client-side machinery: the
// response correlation registry, the timeout manager, the manifest
// provider, and the client facade that ties them together with the
// datagram transport.
package client

import (
	"sync"
	"time"

	"github.com/corvidlabs/janusbroker/pkg/wire"
)

// pendingWaiter is the correlation registry's internal bookkeeping for one
// in-flight request. Nothing outside the registry holds a reference to it.
type pendingWaiter struct {
	deliver   chan *wire.Response
	createdAt time.Time
	timeout   time.Duration
}

// Registry maps request id to a pending waiter, guarded by a single lock.
// Delivery, cancellation, and cleanup are all serialized through that lock
// so a response is handed to its waiter exactly once.
type Registry struct {
	mu      sync.Mutex
	waiters map[string]*pendingWaiter
	maxSize int
}

// RegistryConfig bounds a Registry.
type RegistryConfig struct {
	MaxPendingRequests int
}

// NewRegistry builds a Registry. A zero MaxPendingRequests means 1000.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.MaxPendingRequests <= 0 {
		cfg.MaxPendingRequests = 1000
	}
	return &Registry{
		waiters: make(map[string]*pendingWaiter),
		maxSize: cfg.MaxPendingRequests,
	}
}

// Track registers id as awaiting a response within timeout, returning a
// receive-only channel that yields exactly one *wire.Response (delivery)
// or is closed without a value (cancellation/expiry — the channel itself
// does not say which; the timeout manager's own callback is what marks an
// expiry).
func (r *Registry) Track(id string, timeout time.Duration) (<-chan *wire.Response, *wire.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.waiters) >= r.maxSize {
		return nil, wire.NewError(wire.ResourceLimitExceeded, "pending request cap reached")
	}
	if _, exists := r.waiters[id]; exists {
		return nil, wire.NewError(wire.InvalidRequest, "duplicate request id: "+id)
	}

	w := &pendingWaiter{
		deliver:   make(chan *wire.Response, 1),
		createdAt: time.Now(),
		timeout:   timeout,
	}
	r.waiters[id] = w
	return w.deliver, nil
}

// Deliver hands resp to its waiter if one is registered for
// resp.RequestID, removing the waiter first so no second delivery is
// possible even under a race with expiry. Returns false if no waiter was
// found — an expected outcome for a late arrival after timeout, not an
// error.
func (r *Registry) Deliver(resp *wire.Response) bool {
	r.mu.Lock()
	w, exists := r.waiters[resp.RequestID]
	if exists {
		delete(r.waiters, resp.RequestID)
	}
	r.mu.Unlock()

	if !exists {
		return false
	}
	w.deliver <- resp
	close(w.deliver)
	return true
}

// Cancel removes id's waiter, closing its channel so the awaiting call
// observes cancellation. Returns false if id was not tracked.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	w, exists := r.waiters[id]
	if exists {
		delete(r.waiters, id)
	}
	r.mu.Unlock()

	if !exists {
		return false
	}
	close(w.deliver)
	return true
}

// CancelAll removes every tracked waiter, closing their channels, and
// reports how many were cancelled.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	waiters := r.waiters
	r.waiters = make(map[string]*pendingWaiter)
	r.mu.Unlock()

	for _, w := range waiters {
		close(w.deliver)
	}
	return len(waiters)
}

// Cleanup removes entries whose age exceeds their stored timeout,
// returning how many were swept. Safe to call opportunistically or on a
// background cadence.
func (r *Registry) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, w := range r.waiters {
		if w.timeout > 0 && now.Sub(w.createdAt) >= w.timeout {
			delete(r.waiters, id)
			close(w.deliver)
			removed++
		}
	}
	return removed
}

// Stats describes the registry's current pending population.
type Stats struct {
	PendingCount int
	AverageAge   time.Duration
	OldestAge    time.Duration
	NewestAge    time.Duration
}

// Stats reports pending count and age distribution.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{PendingCount: len(r.waiters)}
	if len(r.waiters) == 0 {
		return s
	}
	now := time.Now()
	var total time.Duration
	first := true
	for _, w := range r.waiters {
		age := now.Sub(w.createdAt)
		total += age
		if first {
			s.OldestAge, s.NewestAge = age, age
			first = false
			continue
		}
		if age > s.OldestAge {
			s.OldestAge = age
		}
		if age < s.NewestAge {
			s.NewestAge = age
		}
	}
	s.AverageAge = total / time.Duration(len(r.waiters))
	return s
}

// IsTracking reports whether id currently has a registered waiter.
func (r *Registry) IsTracking(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.waiters[id]
	return ok
}
