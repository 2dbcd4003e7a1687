package wire

import (
	"fmt"

	"github.com/google/uuid"
)

// Type is the envelope discriminant. Every envelope crossing the frame
// boundary carries exactly one of these.
type Type string

const (
	// TypeInvoke carries a hook invocation (host → guest) or a method call
	// (guest → host, hook name MethodCallHook).
	TypeInvoke Type = "invoke"
	// TypeReply settles an earlier invoke, carrying a result or an error.
	TypeReply Type = "reply"
	// TypeResize reports a new frame height. Fire-and-forget, no reply.
	TypeResize Type = "resize"
	// TypeReady is the guest's handshake announcement: supported hooks plus
	// its proposed protocol limits. Sent once, before any dispatch.
	TypeReady Type = "ready"
)

// MethodCallHook is the reserved hook name marking an invoke envelope as a
// remote method call rather than a hook invocation.
const MethodCallHook = "$methodCall"

// ErrorShape is the serialized form of a remote error: a stable kind
// discriminant plus a human-readable message. It is the only error
// representation that crosses the frame boundary.
type ErrorShape struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *ErrorShape) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Envelope is the one message type of the bridge protocol. Which fields
// are meaningful depends on Type; Validate enforces the per-type shape.
type Envelope struct {
	Type          Type   `json:"type"`
	CorrelationID string `json:"correlationId,omitempty"`

	// invoke fields
	HookName    string        `json:"hookName,omitempty"`
	Method      string        `json:"method,omitempty"`   // set when HookName == MethodCallHook
	TargetID    string        `json:"targetId,omitempty"` // logical target (field ID, panel ID, ...)
	Args        []interface{} `json:"args,omitempty"`
	BaseContext interface{}   `json:"baseContext,omitempty"`

	// reply fields (exactly one of Result / Error)
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorShape `json:"error,omitempty"`

	// resize fields
	Height int `json:"height,omitempty"`

	// ready fields
	SupportedHooks []string `json:"supportedHooks,omitempty"`
	Limits         *Limits  `json:"limits,omitempty"`

	// Origin identifies the sending frame for the allow-list check.
	// Stamped by the transport, never set by callers.
	Origin string `json:"origin,omitempty"`
}

// NewInvoke creates an invoke envelope for a hook invocation.
func NewInvoke(correlationID, hookName, targetID string, args []interface{}, baseContext interface{}) *Envelope {
	return &Envelope{
		Type:          TypeInvoke,
		CorrelationID: correlationID,
		HookName:      hookName,
		TargetID:      targetID,
		Args:          args,
		BaseContext:   baseContext,
	}
}

// NewMethodCall creates an invoke envelope for a remote method call.
func NewMethodCall(correlationID, method, targetID string, args []interface{}) *Envelope {
	return &Envelope{
		Type:          TypeInvoke,
		CorrelationID: correlationID,
		HookName:      MethodCallHook,
		Method:        method,
		TargetID:      targetID,
		Args:          args,
	}
}

// NewResult creates a reply envelope carrying a successful result.
func NewResult(correlationID string, result interface{}) *Envelope {
	return &Envelope{
		Type:          TypeReply,
		CorrelationID: correlationID,
		Result:        result,
	}
}

// NewError creates a reply envelope carrying a serialized error.
func NewError(correlationID, kind, message string) *Envelope {
	return &Envelope{
		Type:          TypeReply,
		CorrelationID: correlationID,
		Error:         &ErrorShape{Kind: kind, Message: message},
	}
}

// NewResize creates a fire-and-forget resize envelope.
func NewResize(correlationID string, height int) *Envelope {
	return &Envelope{
		Type:          TypeResize,
		CorrelationID: correlationID,
		Height:        height,
	}
}

// NewReady creates the guest's handshake announcement.
func NewReady(supportedHooks []string, limits Limits) *Envelope {
	return &Envelope{
		Type:           TypeReady,
		SupportedHooks: supportedHooks,
		Limits:         &limits,
	}
}

// IsMethodCall reports whether an invoke envelope is a remote method call.
func (e *Envelope) IsMethodCall() bool {
	return e.Type == TypeInvoke && e.HookName == MethodCallHook
}

// Validate checks the per-type envelope shape. A failing envelope must be
// dropped and logged by the receiver, never dispatched.
func (e *Envelope) Validate() error {
	switch e.Type {
	case TypeInvoke:
		if e.CorrelationID == "" {
			return fmt.Errorf("invoke envelope missing correlationId")
		}
		if e.HookName == "" {
			return fmt.Errorf("invoke envelope missing hookName")
		}
		if e.HookName == MethodCallHook && e.Method == "" {
			return fmt.Errorf("method-call envelope missing method")
		}
	case TypeReply:
		if e.CorrelationID == "" {
			return fmt.Errorf("reply envelope missing correlationId")
		}
		if e.Result != nil && e.Error != nil {
			return fmt.Errorf("reply envelope carries both result and error")
		}
	case TypeResize:
		if e.CorrelationID == "" {
			return fmt.Errorf("resize envelope missing correlationId")
		}
		if e.Height <= 0 {
			return fmt.Errorf("resize envelope height must be positive, got %d", e.Height)
		}
	case TypeReady:
		// SupportedHooks may legitimately be empty.
	default:
		return fmt.Errorf("unknown envelope type %q", e.Type)
	}
	return nil
}

// NewCorrelationID returns a fresh correlation ID. Correlation IDs are the
// sole cross-frame join key between an invoke and its reply.
func NewCorrelationID() string {
	return uuid.NewString()
}
