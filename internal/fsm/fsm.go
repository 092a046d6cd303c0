// Package fsm wraps github.com/looplab/fsm behind a small builder suited to
// the broker's server lifecycle: a handful of states and events, rather than
// looplab/fsm's general event/callback machinery.
package fsm

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	lfsm "github.com/looplab/fsm"

	"github.com/corvidlabs/janusbroker/internal/logging"
)

// State names a node in the lifecycle graph.
type State string

// Event names a transition trigger.
type Event string

// Transition declares that Event moves the machine from any of From into To,
// running Action (if set) after the move completes.
type Transition struct {
	From   []State
	To     State
	Event  Event
	Action func(ctx context.Context) error
}

// FSM drives a lifecycle built from a fixed set of Transitions.
type FSM struct {
	logger logging.Logger
	mu     sync.RWMutex
	fsm    *lfsm.FSM
	byName map[string]Transition
}

// New builds and finalizes an FSM in initial, wired with transitions.
func New(initial State, logger logging.Logger, transitions []Transition) *FSM {
	if logger == nil {
		logger = logging.NewNoop()
	}
	events := make([]lfsm.EventDesc, 0, len(transitions))
	byName := make(map[string]Transition, len(transitions))
	for _, t := range transitions {
		src := make([]string, len(t.From))
		for i, s := range t.From {
			src[i] = string(s)
		}
		events = append(events, lfsm.EventDesc{Name: string(t.Event), Src: src, Dst: string(t.To)})
		byName[string(t.Event)] = t
	}

	f := &FSM{logger: logger.WithField("component", "fsm"), byName: byName}
	callbacks := lfsm.Callbacks{
		"enter_state": func(ctx context.Context, e *lfsm.Event) {
			t, ok := f.byName[e.Event]
			if !ok || t.Action == nil {
				return
			}
			if err := t.Action(ctx); err != nil {
				f.logger.Error("transition action failed", "event", e.Event, "error", err)
			}
		},
	}
	f.fsm = lfsm.NewFSM(string(initial), events, callbacks)
	return f
}

// Current returns the machine's current state.
func (f *FSM) Current() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return State(f.fsm.Current())
}

// Fire attempts the named event from the current state.
func (f *FSM) Fire(ctx context.Context, event Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fsm.Event(ctx, string(event)); err != nil {
		return errors.Wrapf(err, "fsm: event %q from state %q", event, f.fsm.Current())
	}
	return nil
}

// Can reports whether event is legal from the current state.
func (f *FSM) Can(event Event) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.fsm.Can(string(event))
}
