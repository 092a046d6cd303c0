package server

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/corvidlabs/janusbroker/pkg/security"
	"github.com/corvidlabs/janusbroker/pkg/wire"
)

// HandlerResult is the result of a handler execution: exactly one of Value
// or Error is set.
type HandlerResult struct {
	Value any
	Error *wire.Error
}

// RequestHandler executes a custom request against its arguments.
type RequestHandler interface {
	Handle(req *wire.Request) HandlerResult
}

// SyncHandler adapts a plain function into a RequestHandler.
type SyncHandler func(req *wire.Request) HandlerResult

func (h SyncHandler) Handle(req *wire.Request) HandlerResult { return h(req) }

// AsyncHandler adapts a function that delivers its result on a channel,
// run on its own goroutine, into a RequestHandler.
type AsyncHandler func(req *wire.Request, result chan<- HandlerResult)

func (h AsyncHandler) Handle(req *wire.Request) HandlerResult {
	result := make(chan HandlerResult, 1)
	go h(req, result)
	return <-result
}

// Typed convenience function shapes. A handler author returns a Go value
// and an error; wrapResult turns that into a HandlerResult, preserving an
// already-typed *wire.Error and wrapping anything else as InternalError.
type (
	BoolHandler   func(req *wire.Request) (bool, error)
	StringHandler func(req *wire.Request) (string, error)
	IntHandler    func(req *wire.Request) (int, error)
	FloatHandler  func(req *wire.Request) (float64, error)
	ArrayHandler  func(req *wire.Request) ([]any, error)
	ObjectHandler func(req *wire.Request) (map[string]any, error)
)

// CustomHandler handles a request and returns any JSON-serializable value.
type CustomHandler[T any] func(req *wire.Request) (T, error)

func wrapResult(value any, err error) HandlerResult {
	if err != nil {
		var werr *wire.Error
		if errors.As(err, &werr) {
			return HandlerResult{Error: werr}
		}
		return HandlerResult{Error: wire.NewError(wire.InternalError, err.Error())}
	}
	return HandlerResult{Value: value}
}

func NewBoolHandler(fn BoolHandler) RequestHandler {
	return SyncHandler(func(req *wire.Request) HandlerResult { return wrapResult(fn(req)) })
}

func NewStringHandler(fn StringHandler) RequestHandler {
	return SyncHandler(func(req *wire.Request) HandlerResult { return wrapResult(fn(req)) })
}

func NewIntHandler(fn IntHandler) RequestHandler {
	return SyncHandler(func(req *wire.Request) HandlerResult { return wrapResult(fn(req)) })
}

func NewFloatHandler(fn FloatHandler) RequestHandler {
	return SyncHandler(func(req *wire.Request) HandlerResult { return wrapResult(fn(req)) })
}

func NewArrayHandler(fn ArrayHandler) RequestHandler {
	return SyncHandler(func(req *wire.Request) HandlerResult { return wrapResult(fn(req)) })
}

func NewObjectHandler(fn ObjectHandler) RequestHandler {
	return SyncHandler(func(req *wire.Request) HandlerResult { return wrapResult(fn(req)) })
}

// NewCustomHandler builds a RequestHandler for any JSON-serializable type.
func NewCustomHandler[T any](fn CustomHandler[T]) RequestHandler {
	return SyncHandler(func(req *wire.Request) HandlerResult {
		value, err := fn(req)
		return wrapResult(value, err)
	})
}

// NewAsyncBoolHandler runs fn on its own goroutine per call.
func NewAsyncBoolHandler(fn func(req *wire.Request) (bool, error)) RequestHandler {
	return AsyncHandler(func(req *wire.Request, result chan<- HandlerResult) {
		value, err := fn(req)
		result <- wrapResult(value, err)
	})
}

// NewAsyncStringHandler runs fn on its own goroutine per call.
func NewAsyncStringHandler(fn func(req *wire.Request) (string, error)) RequestHandler {
	return AsyncHandler(func(req *wire.Request, result chan<- HandlerResult) {
		value, err := fn(req)
		result <- wrapResult(value, err)
	})
}

// NewAsyncCustomHandler runs fn on its own goroutine per call.
func NewAsyncCustomHandler[T any](fn func(req *wire.Request) (T, error)) RequestHandler {
	return AsyncHandler(func(req *wire.Request, result chan<- HandlerResult) {
		value, err := fn(req)
		result <- wrapResult(value, err)
	})
}

// HandlerRegistry maps request names to custom handlers, bounded, rejecting
// the six reserved built-in names.
type HandlerRegistry struct {
	mu          sync.RWMutex
	handlers    map[string]RequestHandler
	maxHandlers int
}

// NewHandlerRegistry builds an empty registry. maxHandlers <= 0 means
// unbounded.
func NewHandlerRegistry(maxHandlers int) *HandlerRegistry {
	return &HandlerRegistry{
		handlers:    make(map[string]RequestHandler),
		maxHandlers: maxHandlers,
	}
}

// Register adds handler under name, rejecting reserved built-in names and
// registration past the registry's configured capacity.
func (r *HandlerRegistry) Register(name string, handler RequestHandler) error {
	for _, reserved := range security.ReservedNames {
		if name == reserved {
			return errors.Newf("server: cannot override built-in request %q", name)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; !exists && r.maxHandlers > 0 && len(r.handlers) >= r.maxHandlers {
		return errors.Newf("server: handler registry at capacity (%d)", r.maxHandlers)
	}
	r.handlers[name] = handler
	return nil
}

// Unregister removes name's handler, if any.
func (r *HandlerRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, name)
}

// Get returns name's handler, if registered.
func (r *HandlerRegistry) Get(name string) (RequestHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Has reports whether name has a registered handler.
func (r *HandlerRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Clear removes every registered handler.
func (r *HandlerRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[string]RequestHandler)
}

// Len reports the number of registered handlers.
func (r *HandlerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Execute runs name's handler against req, returning a MethodNotFound
// error if no handler is registered. The handler itself runs outside the
// registry's lock so a slow or async handler never blocks concurrent
// lookups.
func (r *HandlerRegistry) Execute(name string, req *wire.Request) (any, *wire.Error) {
	handler, ok := r.Get(name)
	if !ok {
		return nil, wire.NewErrorWithContext(wire.MethodNotFound, "request not found: "+name, map[string]any{"method": name})
	}
	result := handler.Handle(req)
	if result.Error != nil {
		return nil, result.Error
	}
	return result.Value, nil
}
