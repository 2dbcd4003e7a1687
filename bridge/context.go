package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	framelink "github.com/machinefabric/framelink-go"
	"github.com/machinefabric/framelink-go/wire"
)

// Context is the per-invocation object handed to a hook handler: snapshot
// data fields materialized locally, host methods as remote-call stubs, and
// sizing/session methods wired per the hook's descriptor. Building a
// Context performs no I/O; the first traffic happens when handler code
// actually calls a method.
type Context struct {
	hook     *framelink.HookDescriptor
	targetID string
	args     []interface{}
	snapshot *framelink.ContextSnapshot

	call func(ctx context.Context, method string, args []interface{}) (interface{}, error)

	updateHeight func(height int)
	startAuto    func() error
	stopAuto     func()

	session *OpenSession
}

// Hook returns the invoked hook's descriptor.
func (c *Context) Hook() *framelink.HookDescriptor { return c.hook }

// TargetID returns the logical target of the invocation (field ID, panel
// ID, ...), empty for untargeted hooks.
func (c *Context) TargetID() string { return c.targetID }

// Args returns the invocation arguments. The slice and its contents are
// the guest's private copy.
func (c *Context) Args() []interface{} { return c.args }

// Snapshot returns the host-state snapshot taken at invocation time. It is
// the guest's private copy; mutating it never reaches host state.
func (c *Context) Snapshot() *framelink.ContextSnapshot { return c.snapshot }

// CallMethod invokes a host-exposed method and waits for its reply. The
// method must be declared in the hook's context shape; the returned error
// is the remote error re-raised locally, or a CancelledError after frame
// teardown.
func (c *Context) CallMethod(ctx context.Context, method string, args ...interface{}) (interface{}, error) {
	if !c.hook.HasMethod(method) {
		return nil, &NoHandlerError{Method: method}
	}
	return c.call(ctx, method, args)
}

// UpdateHeight reports an explicit frame height. Fire-and-forget: it
// routes through the frame lifecycle, not the call registry. Only
// available under the adjustable and self-resizing modes.
func (c *Context) UpdateHeight(height int) error {
	if c.updateHeight == nil {
		return &ProtocolViolationError{Detail: fmt.Sprintf("hook %q has no sizing methods", c.hook.Name)}
	}
	c.updateHeight(height)
	return nil
}

// StartAutoResizer begins continuous content-size reporting. Only
// available under the self-resizing mode.
func (c *Context) StartAutoResizer() error {
	if c.startAuto == nil {
		return &ProtocolViolationError{Detail: fmt.Sprintf("hook %q does not self-resize", c.hook.Name)}
	}
	return c.startAuto()
}

// StopAutoResizer stops continuous reporting. No-op if never started.
func (c *Context) StopAutoResizer() error {
	if c.stopAuto == nil {
		return &ProtocolViolationError{Detail: fmt.Sprintf("hook %q does not self-resize", c.hook.Name)}
	}
	c.stopAuto()
	return nil
}

// Resolve settles a sessional invocation (modal) with a value. Idempotent
// after the first settlement.
func (c *Context) Resolve(result interface{}) error {
	if c.session == nil {
		return &ProtocolViolationError{Detail: fmt.Sprintf("hook %q is not sessional", c.hook.Name)}
	}
	c.session.Resolve(result)
	return nil
}

// Reject settles a sessional invocation with an error.
func (c *Context) Reject(err error) error {
	if c.session == nil {
		return &ProtocolViolationError{Detail: fmt.Sprintf("hook %q is not sessional", c.hook.Name)}
	}
	c.session.Reject(err)
	return nil
}

// CloseModal settles a sessional invocation with no value.
func (c *Context) CloseModal() error {
	return c.Resolve(nil)
}

// ContextBuilder constructs the ctx object for each incoming invocation,
// wiring method stubs through the call registry and sizing through the
// frame lifecycle.
type ContextBuilder struct {
	registry  *CallRegistry
	transport Transport
	lifecycle *FrameLifecycle
}

// NewContextBuilder creates a builder over the guest side's registry,
// transport, and lifecycle manager.
func NewContextBuilder(registry *CallRegistry, transport Transport, lifecycle *FrameLifecycle) *ContextBuilder {
	return &ContextBuilder{
		registry:  registry,
		transport: transport,
		lifecycle: lifecycle,
	}
}

// Build materializes a Context from an invocation envelope. Data fields
// are defensively copied; method fields become stubs that register a fresh
// correlation ID, send a method-call envelope, and hand back the pending
// promise. session is non-nil only for sessional hooks.
func (b *ContextBuilder) Build(desc *framelink.HookDescriptor, env *wire.Envelope, session *OpenSession) (*Context, error) {
	args, err := wire.CloneValue(env.Args)
	if err != nil {
		return nil, err
	}
	argSlice, _ := args.([]interface{})

	snapshot, err := decodeSnapshot(env.BaseContext)
	if err != nil {
		return nil, err
	}

	c := &Context{
		hook:     desc,
		targetID: env.TargetID,
		args:     argSlice,
		snapshot: snapshot,
		session:  session,
	}

	c.call = func(ctx context.Context, method string, callArgs []interface{}) (interface{}, error) {
		correlationID := wire.NewCorrelationID()
		pending, err := b.registry.Register(correlationID)
		if err != nil {
			return nil, err
		}
		if err := b.transport.Send(wire.NewMethodCall(correlationID, method, env.TargetID, callArgs)); err != nil {
			// Serialization failures settle the call locally; nothing was sent.
			b.registry.Reject(correlationID, err)
		}
		return pending.Await(ctx)
	}

	// Sizing methods bypass the call registry entirely: they are
	// fire-and-forget reports routed through the lifecycle manager.
	switch desc.SizeMode {
	case framelink.SizeModeAdjustable:
		c.updateHeight = func(h int) { b.lifecycle.UpdateHeight(env.CorrelationID, h) }
	case framelink.SizeModeSelfResizing:
		c.updateHeight = func(h int) { b.lifecycle.UpdateHeight(env.CorrelationID, h) }
		c.startAuto = func() error { return b.lifecycle.StartAutoResizer(env.CorrelationID) }
		c.stopAuto = func() { b.lifecycle.StopAutoResizer(env.CorrelationID) }
	}

	return c, nil
}

// decodeSnapshot converts the envelope's baseContext (a JSON-shaped map
// after transport) back into a typed snapshot. A nil baseContext yields an
// empty snapshot rather than a nil pointer so handlers never nil-check it.
func decodeSnapshot(raw interface{}) (*framelink.ContextSnapshot, error) {
	if raw == nil {
		return &framelink.ContextSnapshot{}, nil
	}
	if typed, ok := raw.(*framelink.ContextSnapshot); ok {
		return typed.Clone(), nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, &ProtocolViolationError{Detail: "baseContext is not a snapshot: " + err.Error()}
	}
	var snapshot framelink.ContextSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, &ProtocolViolationError{Detail: "baseContext is not a snapshot: " + err.Error()}
	}
	return &snapshot, nil
}
