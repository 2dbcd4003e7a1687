package bridge

import (
	"context"
	"log/slog"
	"sync"
)

// PendingCall is the receiving half of an outstanding remote call. Exactly
// one of resolve/reject/cancel settles it; later settlements are ignored.
type PendingCall struct {
	id     string
	done   chan struct{}
	result interface{}
	err    error
}

// Await blocks until the call settles or ctx expires. After settlement it
// returns the same outcome on every invocation.
func (p *PendingCall) Await(ctx context.Context) (interface{}, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done exposes the settlement signal for select loops.
func (p *PendingCall) Done() <-chan struct{} { return p.done }

// CorrelationID returns the call's correlation ID.
func (p *PendingCall) CorrelationID() string { return p.id }

// CallRegistry tracks in-flight request/response pairs by correlation ID on
// one side of the bridge. Each frame side owns exactly one registry; they
// are joined only by correlation IDs on the wire.
type CallRegistry struct {
	mu        sync.Mutex
	pending   map[string]*PendingCall
	cancelled bool
	reason    string
	logger    *slog.Logger
}

// NewCallRegistry creates an empty registry.
func NewCallRegistry(logger *slog.Logger) *CallRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &CallRegistry{
		pending: make(map[string]*PendingCall),
		logger:  logger,
	}
}

// Register creates a pending call for a correlation ID. A duplicate ID is
// an invariant breach on the caller's side; after CancelAll the registry is
// poisoned and every Register fails with the cancellation.
func (r *CallRegistry) Register(correlationID string) (*PendingCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancelled {
		return nil, &CancelledError{Reason: r.reason}
	}
	if _, exists := r.pending[correlationID]; exists {
		return nil, &ProtocolViolationError{
			Detail: "correlation ID " + correlationID + " already has an outstanding call",
		}
	}

	call := &PendingCall{id: correlationID, done: make(chan struct{})}
	r.pending[correlationID] = call
	return call, nil
}

// Resolve settles the matching call with a result. Unknown or already
// settled correlation IDs are logged as protocol warnings, never a crash;
// this shields the loop from duplicate and stale replies.
func (r *CallRegistry) Resolve(correlationID string, result interface{}) {
	r.settle(correlationID, result, nil)
}

// Reject settles the matching call with an error. Same idempotency rules
// as Resolve.
func (r *CallRegistry) Reject(correlationID string, err error) {
	r.settle(correlationID, nil, err)
}

func (r *CallRegistry) settle(correlationID string, result interface{}, err error) {
	r.mu.Lock()
	call, ok := r.pending[correlationID]
	if ok {
		delete(r.pending, correlationID)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Warn("reply for unknown or settled correlation ID dropped",
			"correlationId", correlationID)
		return
	}

	call.result = result
	call.err = err
	close(call.done)
}

// CancelAll rejects every still-pending call with a uniform CancelledError
// and poisons the registry. Invoked exactly once, on frame teardown.
func (r *CallRegistry) CancelAll(reason string) {
	r.mu.Lock()
	if r.cancelled {
		r.mu.Unlock()
		return
	}
	r.cancelled = true
	r.reason = reason
	cancelled := r.pending
	r.pending = make(map[string]*PendingCall)
	r.mu.Unlock()

	for _, call := range cancelled {
		call.err = &CancelledError{Reason: reason}
		close(call.done)
	}
}

// Len returns the number of outstanding calls.
func (r *CallRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
