package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	framelink "github.com/machinefabric/framelink-go"
	"github.com/machinefabric/framelink-go/wire"
)

// HandlerFunc is a plugin's hook handler. Returning (result, nil) replies
// with the result; returning an error replies with the serialized error.
// For sessional hooks the return value is ignored on success: the handler
// only mounts UI and the reply is driven by ctx.Resolve later.
type HandlerFunc func(ctx context.Context, c *Context) (interface{}, error)

// Handlers maps hook names to handler functions. Registered once, at
// plugin load. Unknown hook names are accepted but never invoked by a
// compliant host.
type Handlers map[framelink.HookName]HandlerFunc

// invocationKey is the concurrency-guard key: one outstanding invocation
// per (hook, logical target).
type invocationKey struct {
	hook   framelink.HookName
	target string
}

// Dispatcher is the guest-side hook dispatcher: it receives invocation
// envelopes, builds contexts, runs handlers, and replies. Distinct hooks
// run concurrently; a second invocation of the same (hook, target) while
// the first is pending is rejected immediately, never queued.
type Dispatcher struct {
	handlers Handlers
	builder  *ContextBuilder
	sessions *SessionManager
	reply    func(env *wire.Envelope)
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[invocationKey]bool
}

// NewDispatcher creates a dispatcher over a registered handler table.
func NewDispatcher(handlers Handlers, builder *ContextBuilder, sessions *SessionManager, reply func(env *wire.Envelope), logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: handlers,
		builder:  builder,
		sessions: sessions,
		reply:    reply,
		logger:   logger,
		inflight: make(map[invocationKey]bool),
	}
}

// SupportedHooks returns the registered hook names that a compliant host
// may invoke, sorted, for the ready announcement. Names outside the known
// hook table are accepted at registration but not announced.
func (d *Dispatcher) SupportedHooks() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		if _, known := framelink.LookupHook(name); known {
			names = append(names, string(name))
		}
	}
	sort.Strings(names)
	return names
}

// OnInvocation handles one hook-invocation envelope from the host. It
// never blocks the caller's loop: the handler runs on its own goroutine so
// a handler awaiting a long user interaction cannot stall other hooks.
func (d *Dispatcher) OnInvocation(ctx context.Context, env *wire.Envelope) {
	hook := framelink.HookName(env.HookName)

	desc, known := framelink.LookupHook(hook)
	if !known {
		d.logger.Warn("invocation for unknown hook dropped", "hook", env.HookName)
		d.reply(wire.NewError(env.CorrelationID, KindProtocolViolation,
			fmt.Sprintf("unknown hook %q", env.HookName)))
		return
	}

	handler, ok := d.handlers[hook]
	if !ok {
		// Not a protocol violation: hosts probe optional hooks.
		d.reply(wire.NewError(env.CorrelationID, KindNoHandler,
			(&NoHandlerError{Hook: env.HookName}).Error()))
		return
	}

	key := invocationKey{hook: hook, target: env.TargetID}
	d.mu.Lock()
	if d.inflight[key] {
		d.mu.Unlock()
		d.reply(wire.NewError(env.CorrelationID, KindConcurrentInvocation,
			(&ConcurrentInvocationError{Hook: env.HookName, TargetID: env.TargetID}).Error()))
		return
	}
	d.inflight[key] = true
	d.mu.Unlock()

	release := func() {
		d.mu.Lock()
		delete(d.inflight, key)
		d.mu.Unlock()
	}

	var session *OpenSession
	if desc.Sessional {
		session = d.sessions.Open(env.CorrelationID, func(result interface{}, err error) {
			defer release()
			if err != nil {
				d.reply(replyForError(env.CorrelationID, err))
				return
			}
			d.reply(wire.NewResult(env.CorrelationID, result))
		})
	}

	built, err := d.builder.Build(desc, env, session)
	if err != nil {
		if session != nil {
			session.Reject(err)
		} else {
			defer release()
			d.reply(replyForError(env.CorrelationID, err))
		}
		return
	}

	go d.run(ctx, env, desc, handler, built, session, release)
}

// run executes one handler invocation as an independent logical task.
func (d *Dispatcher) run(ctx context.Context, env *wire.Envelope, desc *framelink.HookDescriptor, handler HandlerFunc, built *Context, session *OpenSession, release func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("hook handler panicked", "hook", desc.Name, "panic", r)
			err := &RemoteThrownError{Kind: KindRemoteThrown, Message: fmt.Sprintf("handler panic: %v", r)}
			if session != nil {
				session.Reject(err)
			} else {
				release()
				d.reply(replyForError(env.CorrelationID, err))
			}
		}
	}()

	result, err := handler(ctx, built)

	if session != nil {
		// Sessional: the handler's job was to mount UI. Only a failure
		// settles the invocation here; success waits for ctx.Resolve.
		if err != nil {
			session.Reject(err)
		}
		return
	}

	release()
	if err != nil {
		d.reply(replyForError(env.CorrelationID, err))
		return
	}
	d.reply(wire.NewResult(env.CorrelationID, result))
}

// replyForError serializes a handler error into a reply envelope,
// preserving bridge error kinds.
func replyForError(correlationID string, err error) *wire.Envelope {
	shape := ShapeFromError(err)
	return wire.NewError(correlationID, shape.Kind, shape.Message)
}
