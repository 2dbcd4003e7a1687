package bridge

import (
	"fmt"

	"github.com/machinefabric/framelink-go/wire"
)

// Stable error kind discriminants carried in reply envelopes. These are
// the protocol vocabulary; never rename an existing kind.
const (
	KindNoHandler            = "NO_HANDLER"
	KindConcurrentInvocation = "CONCURRENT_INVOCATION"
	KindRemoteThrown         = "REMOTE_THROWN"
	KindCancelled            = "CANCELLED"
	KindProtocolViolation    = "PROTOCOL_VIOLATION"
)

// NoHandlerError signals that the guest has no handler registered for a
// hook (or the host no method under a name). Informational: hosts probe
// optional hooks speculatively and a missing handler is a normal "plugin
// doesn't implement this", distinct from a thrown error.
type NoHandlerError struct {
	Hook   string
	Method string
}

func (e *NoHandlerError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("no method exposed under %q", e.Method)
	}
	return fmt.Sprintf("no handler registered for hook %q", e.Hook)
}

// ConcurrentInvocationError signals a second invocation of the same
// (hook, target) pair while the first is still pending. Surfaced to the
// host, which decides whether to retry later or drop.
type ConcurrentInvocationError struct {
	Hook     string
	TargetID string
}

func (e *ConcurrentInvocationError) Error() string {
	return fmt.Sprintf("hook %q already has a pending invocation for target %q", e.Hook, e.TargetID)
}

// RemoteThrownError re-raises an error thrown by handler (or host method)
// code on the other side of the boundary. Kind preserves the original
// discriminant when the remote error was itself a bridge error.
type RemoteThrownError struct {
	Kind    string
	Message string
}

func (e *RemoteThrownError) Error() string {
	return fmt.Sprintf("remote error [%s]: %s", e.Kind, e.Message)
}

// CancelledError rejects every call left pending when the owning frame is
// torn down. It is the only cancellation the bridge ever produces, so
// callers can reliably distinguish teardown from a genuine failure.
type CancelledError struct {
	Reason string
}

func (e *CancelledError) Error() string {
	if e.Reason == "" {
		return "call cancelled: frame torn down"
	}
	return fmt.Sprintf("call cancelled: %s", e.Reason)
}

// ProtocolViolationError reports a malformed envelope, a reply for an
// unknown correlation ID, or a wrong discriminant. Violations are logged
// and the offending message dropped; they never crash the dispatcher.
type ProtocolViolationError struct {
	Detail string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("protocol violation: %s", e.Detail)
}

// ShapeFromError converts a local error into its wire form. Bridge errors
// keep their kind discriminant; anything else becomes REMOTE_THROWN.
func ShapeFromError(err error) *wire.ErrorShape {
	switch e := err.(type) {
	case *NoHandlerError:
		return &wire.ErrorShape{Kind: KindNoHandler, Message: e.Error()}
	case *ConcurrentInvocationError:
		return &wire.ErrorShape{Kind: KindConcurrentInvocation, Message: e.Error()}
	case *CancelledError:
		return &wire.ErrorShape{Kind: KindCancelled, Message: e.Error()}
	case *ProtocolViolationError:
		return &wire.ErrorShape{Kind: KindProtocolViolation, Message: e.Error()}
	case *RemoteThrownError:
		return &wire.ErrorShape{Kind: e.Kind, Message: e.Message}
	default:
		return &wire.ErrorShape{Kind: KindRemoteThrown, Message: err.Error()}
	}
}

// ErrorFromShape converts a wire error back into the matching local error
// type, so callers can type-switch on replies the same way on both sides.
func ErrorFromShape(shape *wire.ErrorShape) error {
	if shape == nil {
		return nil
	}
	switch shape.Kind {
	case KindNoHandler:
		return &NoHandlerError{Hook: shape.Message}
	case KindConcurrentInvocation:
		return &ConcurrentInvocationError{Hook: shape.Message}
	case KindCancelled:
		return &CancelledError{Reason: shape.Message}
	case KindProtocolViolation:
		return &ProtocolViolationError{Detail: shape.Message}
	default:
		return &RemoteThrownError{Kind: shape.Kind, Message: shape.Message}
	}
}
