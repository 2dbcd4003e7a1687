package bridge

import (
	"log/slog"
	"sync"

	framelink "github.com/machinefabric/framelink-go"
)

// ResizeObserver watches a frame's content size. Observe starts reporting
// heights to fn and returns a stop function releasing the subscription;
// the lifecycle manager calls stop on StopAutoResizer and on teardown so
// repeated open/close cycles never leak observers.
type ResizeObserver interface {
	Observe(fn func(height int)) (stop func())
}

// FrameSession is the per-invocation frame state for a rendering hook.
type FrameSession struct {
	CorrelationID string
	SizeMode      framelink.SizeMode

	mu            sync.Mutex
	currentHeight int
	autoResize    bool
	closed        bool
	stopObserver  func()
}

// CurrentHeight returns the last applied height.
func (s *FrameSession) CurrentHeight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentHeight
}

// AutoResizeActive reports whether the auto-resizer is running.
func (s *FrameSession) AutoResizeActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoResize
}

// Closed reports whether the session has closed.
func (s *FrameSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// FrameLifecycle owns per-invocation frame sessions on one bridge side:
// declared size mode, auto-resize observation, and teardown cleanup. On
// the guest side reportResize sends resize envelopes; on the host side it
// is nil and heights are applied directly via ApplyResize.
type FrameLifecycle struct {
	mu           sync.Mutex
	sessions     map[string]*FrameSession
	observer     ResizeObserver
	reportResize func(correlationID string, height int)
	logger       *slog.Logger
}

// NewFrameLifecycle creates a lifecycle manager. observer may be nil when
// no self-resizing hook will run (StartAutoResizer then fails).
func NewFrameLifecycle(observer ResizeObserver, reportResize func(string, int), logger *slog.Logger) *FrameLifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameLifecycle{
		sessions:     make(map[string]*FrameSession),
		observer:     observer,
		reportResize: reportResize,
		logger:       logger,
	}
}

// OpenSession creates the frame session for a rendering invocation.
func (l *FrameLifecycle) OpenSession(correlationID string, mode framelink.SizeMode, initialHeight int) *FrameSession {
	session := &FrameSession{
		CorrelationID: correlationID,
		SizeMode:      mode,
		currentHeight: initialHeight,
	}
	l.mu.Lock()
	l.sessions[correlationID] = session
	l.mu.Unlock()
	return session
}

// Sessions returns every tracked session, closed ones included.
func (l *FrameLifecycle) Sessions() []*FrameSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*FrameSession, 0, len(l.sessions))
	for _, s := range l.sessions {
		out = append(out, s)
	}
	return out
}

// Session looks up an open session.
func (l *FrameLifecycle) Session(correlationID string) (*FrameSession, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[correlationID]
	return s, ok
}

// UpdateHeight is the guest-side explicit height report. Dropped with a
// warning after close (a last report may race the close event) and under
// the imposed mode, where the guest has no say.
func (l *FrameLifecycle) UpdateHeight(correlationID string, height int) {
	session, ok := l.Session(correlationID)
	if !ok {
		l.logger.Warn("height update for unknown session dropped", "correlationId", correlationID)
		return
	}

	session.mu.Lock()
	if session.closed {
		session.mu.Unlock()
		l.logger.Warn("height update after close dropped", "correlationId", correlationID)
		return
	}
	if session.SizeMode == framelink.SizeModeImposed {
		session.mu.Unlock()
		l.logger.Warn("height update under imposed size mode dropped", "correlationId", correlationID)
		return
	}
	session.currentHeight = height
	session.mu.Unlock()

	if l.reportResize != nil {
		l.reportResize(correlationID, height)
	}
}

// ApplyResize is the host-side application of a guest resize report.
// Post-close reports are dropped with a warning, not an error.
func (l *FrameLifecycle) ApplyResize(correlationID string, height int) {
	session, ok := l.Session(correlationID)
	if !ok {
		l.logger.Warn("resize for unknown session dropped", "correlationId", correlationID)
		return
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if session.closed {
		l.logger.Warn("resize after close dropped", "correlationId", correlationID)
		return
	}
	session.currentHeight = height
}

// StartAutoResizer subscribes the session to the resize observer. Only
// valid under the self-resizing mode; starting twice is a no-op.
func (l *FrameLifecycle) StartAutoResizer(correlationID string) error {
	session, ok := l.Session(correlationID)
	if !ok {
		return &ProtocolViolationError{Detail: "auto-resizer start for unknown session " + correlationID}
	}
	if session.SizeMode != framelink.SizeModeSelfResizing {
		return &ProtocolViolationError{Detail: "auto-resizer requires the self-resizing size mode"}
	}
	if l.observer == nil {
		return &ProtocolViolationError{Detail: "no resize observer available"}
	}

	session.mu.Lock()
	if session.closed {
		session.mu.Unlock()
		l.logger.Warn("auto-resizer start after close dropped", "correlationId", correlationID)
		return nil
	}
	if session.autoResize {
		session.mu.Unlock()
		return nil
	}
	session.autoResize = true
	session.mu.Unlock()

	stop := l.observer.Observe(func(height int) {
		l.UpdateHeight(correlationID, height)
	})

	session.mu.Lock()
	if session.closed {
		// Closed while subscribing; release immediately.
		session.autoResize = false
		session.mu.Unlock()
		stop()
		return nil
	}
	session.stopObserver = stop
	session.mu.Unlock()
	return nil
}

// StopAutoResizer releases the session's observer subscription.
func (l *FrameLifecycle) StopAutoResizer(correlationID string) {
	session, ok := l.Session(correlationID)
	if !ok {
		return
	}
	session.mu.Lock()
	stop := session.stopObserver
	session.stopObserver = nil
	session.autoResize = false
	session.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// CloseSession marks the session closed and releases its observer. Sizing
// calls arriving afterwards are dropped with warnings.
func (l *FrameLifecycle) CloseSession(correlationID string) {
	session, ok := l.Session(correlationID)
	if !ok {
		return
	}

	// The session stays addressable after close so a late resize hits the
	// dropped-with-warning path instead of looking like an unknown session.
	session.mu.Lock()
	if session.closed {
		session.mu.Unlock()
		return
	}
	session.closed = true
	stop := session.stopObserver
	session.stopObserver = nil
	session.autoResize = false
	session.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// TeardownAll closes every session. Called once when the owning frame is
// destroyed.
func (l *FrameLifecycle) TeardownAll() {
	l.mu.Lock()
	ids := make([]string, 0, len(l.sessions))
	for id := range l.sessions {
		ids = append(ids, id)
	}
	l.mu.Unlock()

	for _, id := range ids {
		l.CloseSession(id)
	}
}
