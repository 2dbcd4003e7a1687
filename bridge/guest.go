package bridge

import (
	"context"
	"log/slog"
	"sync"

	framelink "github.com/machinefabric/framelink-go"
	"github.com/machinefabric/framelink-go/wire"
)

// lookupDescriptor resolves a wire hook name against the descriptor table.
func lookupDescriptor(name string) (*framelink.HookDescriptor, bool) {
	return framelink.LookupHook(framelink.HookName(name))
}

// GuestOption configures a guest bridge.
type GuestOption func(*GuestBridge)

// WithGuestLogger sets the guest's logger.
func WithGuestLogger(logger *slog.Logger) GuestOption {
	return func(g *GuestBridge) { g.logger = logger }
}

// WithResizeObserver supplies the content-size observer backing
// StartAutoResizer. Without one, self-resizing hooks can still render but
// StartAutoResizer fails.
func WithResizeObserver(observer ResizeObserver) GuestOption {
	return func(g *GuestBridge) { g.observer = observer }
}

// WithGuestLimits overrides the limits the guest proposes in its ready
// announcement.
func WithGuestLimits(limits wire.Limits) GuestOption {
	return func(g *GuestBridge) { g.limits = limits }
}

// GuestBridge is the plugin-frame side of the bridge: one per frame
// instance, constructed at frame load and torn down explicitly. All its
// registries are scoped to the instance, so multiple plugin frames in one
// process cannot leak state into each other.
type GuestBridge struct {
	transport  Transport
	registry   *CallRegistry
	lifecycle  *FrameLifecycle
	sessions   *SessionManager
	dispatcher *Dispatcher
	logger     *slog.Logger
	observer   ResizeObserver
	limits     wire.Limits

	rootCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// ConnectGuest is the single entry point a plugin author calls: it wires
// the handler table onto the transport, announces ready with the supported
// hook list, and starts processing invocations.
func ConnectGuest(transport Transport, handlers Handlers, opts ...GuestOption) (*GuestBridge, error) {
	g := &GuestBridge{
		transport: transport,
		logger:    slog.Default(),
		limits:    wire.DefaultLimits(),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.rootCtx, g.cancel = context.WithCancel(context.Background())
	g.registry = NewCallRegistry(g.logger)
	g.sessions = NewSessionManager(g.logger)
	g.lifecycle = NewFrameLifecycle(g.observer, func(correlationID string, height int) {
		// Resize reports are fire-and-forget; a gone peer makes this a no-op.
		if err := transport.Send(wire.NewResize(correlationID, height)); err != nil {
			g.logger.Warn("resize report failed", "correlationId", correlationID, "err", err)
		}
	}, g.logger)

	builder := NewContextBuilder(g.registry, transport, g.lifecycle)
	g.dispatcher = NewDispatcher(handlers, builder, g.sessions, func(env *wire.Envelope) {
		if err := transport.Send(env); err != nil {
			g.logger.Warn("reply send failed", "correlationId", env.CorrelationID, "err", err)
		}
		// A reply terminates the invocation; close its frame session so any
		// late sizing call lands on the dropped-with-warning path.
		if _, ok := g.lifecycle.Session(env.CorrelationID); ok {
			g.lifecycle.CloseSession(env.CorrelationID)
		}
	}, g.logger)

	transport.SetHandler(g.onEnvelope)

	// The ready announcement must precede any dispatch: the host consults
	// supportedHooks before invoking anything.
	if err := transport.Send(wire.NewReady(g.dispatcher.SupportedHooks(), g.limits)); err != nil {
		return nil, err
	}

	return g, nil
}

// onEnvelope routes one inbound envelope. Errors here are logged and the
// message dropped; a single bad message never unwinds the loop.
func (g *GuestBridge) onEnvelope(env *wire.Envelope) {
	switch env.Type {
	case wire.TypeInvoke:
		if env.IsMethodCall() {
			g.logger.Warn("method-call envelope arrived at guest, dropped",
				"method", env.Method)
			return
		}
		g.openFrameSession(env)
		g.dispatcher.OnInvocation(g.rootCtx, env)

	case wire.TypeReply:
		if env.Error != nil {
			g.registry.Reject(env.CorrelationID, ErrorFromShape(env.Error))
			return
		}
		g.registry.Resolve(env.CorrelationID, env.Result)

	case wire.TypeResize:
		g.logger.Warn("resize envelope arrived at guest, dropped",
			"correlationId", env.CorrelationID)

	case wire.TypeReady:
		g.logger.Warn("ready envelope arrived at guest, dropped")
	}
}

// openFrameSession creates the guest-side frame session for rendering
// hooks so sizing calls have somewhere to land.
func (g *GuestBridge) openFrameSession(env *wire.Envelope) {
	desc, ok := lookupDescriptor(env.HookName)
	if !ok || !desc.Rendering {
		return
	}
	if _, exists := g.lifecycle.Session(env.CorrelationID); exists {
		return
	}
	g.lifecycle.OpenSession(env.CorrelationID, desc.SizeMode, env.Height)
}

// Lifecycle exposes the guest-side frame lifecycle, mainly for embedders
// that drive resize observation themselves.
func (g *GuestBridge) Lifecycle() *FrameLifecycle { return g.lifecycle }

// Close tears the guest frame down: every pending call rejects with a
// CancelledError, open sessions are cancelled, observers released. Safe to
// call more than once.
func (g *GuestBridge) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	g.cancel()
	g.transport.Close()
	g.registry.CancelAll("frame torn down")
	g.sessions.TeardownAll()
	g.lifecycle.TeardownAll()
	return nil
}
