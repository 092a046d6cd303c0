package client

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/corvidlabs/janusbroker/internal/logging"
	"github.com/corvidlabs/janusbroker/pkg/manifest"
	"github.com/corvidlabs/janusbroker/pkg/security"
	"github.com/corvidlabs/janusbroker/pkg/transport"
	"github.com/corvidlabs/janusbroker/pkg/wire"
)

// builtinRequests are the six reserved names the client never validates
// against a manifest and never waits on a cached manifest for.
var builtinRequests = map[string]bool{
	"ping": true, "echo": true, "get_info": true,
	"validate": true, "slow_process": true, "manifest": true,
}

// Config configures a Client.
type Config struct {
	ServerPath       string
	ReplyDir         string
	ImplPrefix       string
	DefaultTimeout   time.Duration
	MaxPending       int
	EnableValidation bool
	Validator        *security.Validator
	Logger           logging.Logger
}

// Client is the request-facing facade: it builds requests, registers
// waiters, arms timeouts, sends datagrams, and validates responses against
// the server's manifest when enabled.
type Client struct {
	serverPath       string
	replyDir         string
	implPrefix       string
	defaultTimeout   time.Duration
	enableValidation bool

	transport *transport.Transport
	validator *security.Validator
	registry  *Registry
	timeouts  *TimeoutManager
	provider  *Provider
	logger    logging.Logger
}

// New builds a Client targeting cfg.ServerPath.
func New(cfg Config) (*Client, error) {
	if cfg.ReplyDir == "" {
		cfg.ReplyDir = "/tmp"
	}
	if cfg.ImplPrefix == "" {
		cfg.ImplPrefix = "janus-go"
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.Validator == nil {
		cfg.Validator = security.New(security.DefaultConfig())
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNoop()
	}

	tr, err := transport.New(transport.Config{
		ServerPath: cfg.ServerPath,
		Timeout:    cfg.DefaultTimeout,
		Validator:  cfg.Validator,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "client: build transport")
	}

	c := &Client{
		serverPath:       cfg.ServerPath,
		replyDir:         cfg.ReplyDir,
		implPrefix:       cfg.ImplPrefix,
		defaultTimeout:   cfg.DefaultTimeout,
		enableValidation: cfg.EnableValidation,
		transport:        tr,
		validator:        cfg.Validator,
		registry:         NewRegistry(RegistryConfig{MaxPendingRequests: cfg.MaxPending}),
		timeouts:         NewTimeoutManager(),
		logger:           cfg.Logger.WithField("component", "client"),
	}
	c.provider = NewProvider(c.fetchManifest)
	return c, nil
}

// fetchManifest issues the internal "manifest" built-in request, bypassing
// validation itself to avoid a circular dependency on the manifest it is
// fetching.
func (c *Client) fetchManifest() (*wire.Response, error) {
	return c.roundTrip(wire.NewRequest("manifest", nil), c.defaultTimeout)
}

// Handle is a caller-visible reference to an in-flight request, supporting
// cooperative cancellation.
type Handle struct {
	id       string
	registry *Registry
}

// Cancel deregisters the request's waiter and reports whether one was
// registered. It does not interrupt the send itself: the awaiting call
// still returns the server's reply, or a timeout error, when the
// transport's read completes.
func (h *Handle) Cancel() bool {
	return h.registry.Cancel(h.id)
}

// Send implements the client facade's nine-step send protocol: validate,
// ensure the manifest is cached for non-built-ins, register a waiter, arm
// a timeout, send the datagram, await the response or timeout, validate
// correlation and result, and always clean up the reply-to socket.
func (c *Client) Send(ctx context.Context, requestName string, args map[string]any, timeout time.Duration) (*wire.Response, error) {
	_, resp, err := c.sendWithHandle(ctx, requestName, args, timeout, nil)
	return resp, err
}

// sendWithHandle runs the full send protocol. If onHandle is non-nil, it is
// invoked exactly once: with the request's Handle as soon as an id has been
// allocated — before the blocking round trip begins — so an async caller
// can cancel a request that has not yet received its response, or with nil
// if validation fails before an id is allocated.
func (c *Client) sendWithHandle(ctx context.Context, requestName string, args map[string]any, timeout time.Duration, onHandle func(*Handle)) (*Handle, *wire.Response, error) {
	if verr := c.validator.Identifier(requestName); verr != nil {
		if onHandle != nil {
			onHandle(nil)
		}
		return nil, nil, verr
	}
	if verr := c.checkArgsSize(args); verr != nil {
		if onHandle != nil {
			onHandle(nil)
		}
		return nil, nil, verr
	}

	if c.enableValidation && !builtinRequests[requestName] {
		if verr := c.validateArgsAgainstManifest(requestName, args); verr != nil {
			if onHandle != nil {
				onHandle(nil)
			}
			return nil, nil, verr
		}
	}

	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	req := wire.NewRequest(requestName, args)
	handle := &Handle{id: req.ID, registry: c.registry}
	if onHandle != nil {
		onHandle(handle)
	}

	resp, err := c.roundTrip(req, timeout)
	if err != nil {
		return handle, nil, err
	}

	if c.enableValidation && !builtinRequests[requestName] && resp.Error == nil {
		if verr := c.validateResultAgainstManifest(requestName, resp.Result); verr != nil {
			return handle, nil, verr
		}
	}
	return handle, resp, nil
}

// roundTrip performs steps 3 through 9 of Send: id/reply-to allocation,
// waiter registration, timeout arming, datagram send, and response
// correlation. It is also used directly by fetchManifest, which skips the
// surrounding validation steps.
func (c *Client) roundTrip(req *wire.Request, timeout time.Duration) (*wire.Response, error) {
	replyPath := transport.GenerateReplyToPath(c.replyDir, c.implPrefix)
	req.WithReplyTo(replyPath).WithTimeout(timeout.Seconds())

	// The registry and timeout manager are independent components kept
	// for bookkeeping, cancellation, and statistics even though a single
	// reply-to socket per request lets the transport's own blocking read
	// perform the actual wait: Track detects a colliding id and guards
	// the pending cap, and Arm's callback keeps the registry consistent
	// if something external cancels the request out from under us.
	if _, rerr := c.registry.Track(req.ID, timeout); rerr != nil {
		return nil, rerr
	}
	c.timeouts.Arm(req.ID, timeout, func() { c.registry.Cancel(req.ID) })
	defer c.timeouts.Disarm(req.ID)
	defer c.registry.Cancel(req.ID)

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "client: marshal request")
	}

	rawResp, err := c.transport.SendRequestAwaitResponse(payload, replyPath, timeout)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, wire.NewError(wire.HandlerTimeout, "request timed out awaiting response")
		}
		return nil, errors.Wrap(err, "client: send request")
	}

	var resp wire.Response
	if err := json.Unmarshal(rawResp, &resp); err != nil {
		return nil, errors.Wrap(err, "client: unmarshal response")
	}
	if resp.RequestID != req.ID {
		return nil, wire.NewError(wire.InvalidRequest, "response correlation mismatch")
	}
	return &resp, nil
}

// SendFireAndForget sends a request with no reply-to path and does not
// wait for, or expect, a response.
func (c *Client) SendFireAndForget(requestName string, args map[string]any) error {
	if verr := c.validator.Identifier(requestName); verr != nil {
		return verr
	}
	req := wire.NewRequest(requestName, args)
	payload, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "client: marshal request")
	}
	return c.transport.SendFireAndForget(payload)
}

// SendAsync returns a Handle immediately and delivers the result on a
// channel, supporting cooperative cancellation via Handle.Cancel. The
// handle is valid for cancellation as soon as it is returned, before the
// underlying send necessarily completes.
func (c *Client) SendAsync(ctx context.Context, requestName string, args map[string]any, timeout time.Duration) (*Handle, <-chan *wire.Response, <-chan error) {
	respCh := make(chan *wire.Response, 1)
	errCh := make(chan error, 1)
	started := make(chan *Handle, 1)

	go func() {
		_, resp, err := c.sendWithHandle(ctx, requestName, args, timeout, func(h *Handle) { started <- h })
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	handle := <-started
	if handle == nil {
		// Validation failed before a request id was ever allocated; hand
		// back an inert handle so callers can still call Cancel safely.
		handle = &Handle{registry: c.registry}
	}
	return handle, respCh, errCh
}

// ParallelRequest is one member of a batch submitted to ExecuteParallel.
type ParallelRequest struct {
	Name string
	Args map[string]any
}

// ParallelResult pairs a ParallelRequest's outcome with its input index.
type ParallelResult struct {
	Response *wire.Response
	Err      error
}

// ExecuteParallel spawns one goroutine per request and collects results in
// input order.
func (c *Client) ExecuteParallel(ctx context.Context, requests []ParallelRequest, timeout time.Duration) []ParallelResult {
	results := make([]ParallelResult, len(requests))
	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(index int, r ParallelRequest) {
			defer wg.Done()
			resp, err := c.Send(ctx, r.Name, r.Args, timeout)
			results[index] = ParallelResult{Response: resp, Err: err}
		}(i, req)
	}
	wg.Wait()
	return results
}

// Manifest returns the client's cached manifest, fetching it if absent.
func (c *Client) Manifest() (*manifest.Manifest, error) {
	return c.provider.Get()
}

// Close releases the client's timeout timers and pending waiters.
func (c *Client) Close() {
	c.timeouts.Close()
	c.registry.CancelAll()
}

func (c *Client) checkArgsSize(args map[string]any) *wire.Error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return wire.NewError(wire.InvalidParams, "arguments are not serializable")
	}
	return c.validator.ArgsSize(len(data))
}

func (c *Client) validateArgsAgainstManifest(requestName string, args map[string]any) *wire.Error {
	m, err := c.provider.Get()
	if err != nil {
		return wire.NewError(wire.ServiceUnavailable, "failed to load manifest for validation: "+err.Error())
	}
	model, ok := m.Models[requestName]
	if !ok {
		return nil
	}
	result := manifest.NewEngine(m).ValidateArgs(args, model)
	if !result.Valid {
		return wire.NewValidationError(requestName, args, "argument validation failed", map[string]any{"errors": result.Errors})
	}
	return nil
}

func (c *Client) validateResultAgainstManifest(requestName string, result any) *wire.Error {
	m := c.provider.Cached()
	if m == nil {
		return nil
	}
	model, ok := m.Models[requestName]
	if !ok {
		return nil
	}
	obj, ok := result.(map[string]any)
	if !ok {
		return nil
	}
	outcome := manifest.NewEngine(m).ValidateArgs(obj, model)
	if !outcome.Valid {
		return wire.NewValidationError(requestName, result, "response validation failed", map[string]any{"errors": outcome.Errors})
	}
	return nil
}

// reencode round-trips v through JSON, used to turn a decoded
// map[string]any manifest payload back into bytes the manifest parser can
// consume.
func reencode(v any) ([]byte, error) {
	return json.Marshal(v)
}
