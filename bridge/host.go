package bridge

import (
	"context"
	"log/slog"
	"sync"

	framelink "github.com/machinefabric/framelink-go"
	"github.com/machinefabric/framelink-go/wire"
)

// MethodFunc is a host-exposed method callable from guest hook handlers.
type MethodFunc func(ctx context.Context, targetID string, args []interface{}) (interface{}, error)

// HostOption configures a host bridge.
type HostOption func(*HostBridge)

// WithHostLogger sets the host's logger.
func WithHostLogger(logger *slog.Logger) HostOption {
	return func(h *HostBridge) { h.logger = logger }
}

// WithHostLimits overrides the limits the host brings to negotiation.
func WithHostLimits(limits wire.Limits) HostOption {
	return func(h *HostBridge) { h.limits = limits }
}

// WithArgValidation makes InvokeHook validate arguments against the hook
// descriptor's argument shape before sending.
func WithArgValidation() HostOption {
	return func(h *HostBridge) { h.validateArgs = true }
}

// InvokeOptions tune a single hook invocation.
type InvokeOptions struct {
	// TargetID is the logical target of the invocation (field ID, panel
	// ID). Empty for untargeted hooks.
	TargetID string
	// InitialHeight seeds the frame session for rendering hooks.
	InitialHeight int
}

// HostBridge is the host-application side of the bridge: one per plugin
// frame. It owns the host-side call registry (guest method calls), the
// frame sessions for rendering hooks, and the exposed-method table.
type HostBridge struct {
	transport    Transport
	registry     *CallRegistry
	lifecycle    *FrameLifecycle
	logger       *slog.Logger
	limits       wire.Limits
	validateArgs bool

	rootCtx context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	methods   map[string]MethodFunc
	supported map[string]bool
	announced bool
	closed    bool
	readyCh   chan struct{}
}

// NewHost creates the host endpoint and starts receiving. Hooks cannot be
// invoked until the guest's ready announcement arrives; use WaitReady.
func NewHost(transport Transport, opts ...HostOption) *HostBridge {
	h := &HostBridge{
		transport: transport,
		logger:    slog.Default(),
		limits:    wire.DefaultLimits(),
		methods:   make(map[string]MethodFunc),
		supported: make(map[string]bool),
		readyCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.rootCtx, h.cancel = context.WithCancel(context.Background())
	h.registry = NewCallRegistry(h.logger)
	// Host side applies guest resize reports; it never emits them.
	h.lifecycle = NewFrameLifecycle(nil, nil, h.logger)

	transport.SetHandler(h.onEnvelope)
	return h
}

// ExposeMethod registers a method guests may call from hook contexts.
// Registration after construction but before invoking any hook is the
// expected pattern.
func (h *HostBridge) ExposeMethod(name string, fn MethodFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.methods[name] = fn
}

// WaitReady blocks until the guest's ready announcement, or ctx expiry.
func (h *HostBridge) WaitReady(ctx context.Context) error {
	select {
	case <-h.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Supports reports whether the guest announced a handler for the hook.
// Before the announcement arrives every hook counts as supported, since
// nothing is known yet.
func (h *HostBridge) Supports(hook framelink.HookName) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.announced {
		return true
	}
	return h.supported[string(hook)]
}

// InvokeHook delivers one typed hook invocation to the guest and waits for
// its settlement. For sessional hooks (modals) that settlement happens when
// the guest resolves the session, which may be well after the handler
// returned. There is no timeout: the call settles on reply or on teardown.
func (h *HostBridge) InvokeHook(ctx context.Context, hook framelink.HookName, args []interface{}, snapshot *framelink.ContextSnapshot, opts InvokeOptions) (interface{}, error) {
	desc, known := framelink.LookupHook(hook)
	if !known {
		return nil, &ProtocolViolationError{Detail: "unknown hook " + string(hook)}
	}

	// Skip the round trip entirely when the guest declared its hooks and
	// this one is absent; a missing handler is terminal, not retried.
	if !h.Supports(hook) {
		return nil, &NoHandlerError{Hook: string(hook)}
	}

	if h.validateArgs {
		if err := desc.ValidateArgs(args); err != nil {
			return nil, &ProtocolViolationError{Detail: err.Error()}
		}
	}

	correlationID := wire.NewCorrelationID()
	pending, err := h.registry.Register(correlationID)
	if err != nil {
		return nil, err
	}

	if desc.Rendering {
		h.lifecycle.OpenSession(correlationID, desc.SizeMode, opts.InitialHeight)
	}

	env := wire.NewInvoke(correlationID, string(hook), opts.TargetID, args, snapshot)
	env.Height = opts.InitialHeight
	if err := h.transport.Send(env); err != nil {
		h.registry.Reject(correlationID, err)
	}

	result, err := pending.Await(ctx)
	if desc.Rendering {
		h.lifecycle.CloseSession(correlationID)
	}
	return result, err
}

// OpenModal invokes the renderModal hook and waits for the guest to
// resolve the modal session.
func (h *HostBridge) OpenModal(ctx context.Context, args []interface{}, snapshot *framelink.ContextSnapshot, opts InvokeOptions) (interface{}, error) {
	return h.InvokeHook(ctx, framelink.HookRenderModal, args, snapshot, opts)
}

// SessionHeight returns the current height of a rendering invocation's
// frame session.
func (h *HostBridge) SessionHeight(correlationID string) (int, bool) {
	session, ok := h.lifecycle.Session(correlationID)
	if !ok {
		return 0, false
	}
	return session.CurrentHeight(), true
}

// Lifecycle exposes the host-side frame lifecycle.
func (h *HostBridge) Lifecycle() *FrameLifecycle { return h.lifecycle }

// onEnvelope routes one inbound envelope from the guest.
func (h *HostBridge) onEnvelope(env *wire.Envelope) {
	switch env.Type {
	case wire.TypeReady:
		h.onReady(env)

	case wire.TypeInvoke:
		if !env.IsMethodCall() {
			h.logger.Warn("hook invocation arrived at host, dropped", "hook", env.HookName)
			return
		}
		// Method calls run as independent tasks: a slow host method must
		// not stall resize reports or other calls behind it.
		go h.runMethod(env)

	case wire.TypeReply:
		if env.Error != nil {
			h.registry.Reject(env.CorrelationID, ErrorFromShape(env.Error))
			return
		}
		h.registry.Resolve(env.CorrelationID, env.Result)

	case wire.TypeResize:
		h.lifecycle.ApplyResize(env.CorrelationID, env.Height)
	}
}

func (h *HostBridge) onReady(env *wire.Envelope) {
	h.mu.Lock()
	if h.announced {
		h.mu.Unlock()
		h.logger.Warn("duplicate ready announcement dropped")
		return
	}
	h.announced = true
	for _, name := range env.SupportedHooks {
		h.supported[name] = true
	}
	h.mu.Unlock()

	if env.Limits != nil {
		negotiated := wire.NegotiateLimits(h.limits, *env.Limits)
		if st, ok := h.transport.(*StreamTransport); ok {
			st.SetLimits(negotiated)
		}
		h.mu.Lock()
		h.limits = negotiated
		h.mu.Unlock()
	}

	close(h.readyCh)
}

// runMethod executes one guest method call and replies.
func (h *HostBridge) runMethod(env *wire.Envelope) {
	h.mu.Lock()
	fn, ok := h.methods[env.Method]
	h.mu.Unlock()

	if !ok {
		h.transport.Send(wire.NewError(env.CorrelationID, KindNoHandler,
			(&NoHandlerError{Method: env.Method}).Error()))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("host method panicked", "method", env.Method, "panic", r)
			h.transport.Send(wire.NewError(env.CorrelationID, KindRemoteThrown,
				"method panic"))
		}
	}()

	result, err := fn(h.rootCtx, env.TargetID, env.Args)
	if err != nil {
		shape := ShapeFromError(err)
		h.transport.Send(wire.NewError(env.CorrelationID, shape.Kind, shape.Message))
		return
	}
	h.transport.Send(wire.NewResult(env.CorrelationID, result))
}

// Teardown destroys the frame from the host side: all pending calls reject
// with CancelledError, every frame session closes, and the channel shuts.
// This is the only cancellation trigger the bridge defines.
func (h *HostBridge) Teardown() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	h.transport.Close()
	h.registry.CancelAll("frame torn down")
	h.lifecycle.TeardownAll()
	return nil
}
