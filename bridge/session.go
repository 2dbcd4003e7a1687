package bridge

import (
	"log/slog"
	"sync"
)

// OpenSession is a hook invocation held open past the handler's return:
// the guest settles it later through Resolve/Reject/Close, which map onto
// the original invocation's reply. Settling twice is a no-op.
type OpenSession struct {
	correlationID string
	once          sync.Once
	settle        func(result interface{}, err error)
}

// CorrelationID returns the invocation this session keeps open.
func (s *OpenSession) CorrelationID() string { return s.correlationID }

// Resolve settles the session with a value.
func (s *OpenSession) Resolve(result interface{}) {
	s.once.Do(func() { s.settle(result, nil) })
}

// Reject settles the session with an error.
func (s *OpenSession) Reject(err error) {
	s.once.Do(func() { s.settle(nil, err) })
}

// Close settles the session with no value, the "user dismissed it" path.
func (s *OpenSession) Close() {
	s.Resolve(nil)
}

// SessionManager bridges the event-driven modal/panel lifecycle onto the
// request/response model: it keeps sessional invocations open until the
// guest settles them, and drives a CancelledError through every session
// left open at teardown so the host-side caller never hangs.
type SessionManager struct {
	mu     sync.Mutex
	open   map[string]*OpenSession
	torn   bool
	logger *slog.Logger
}

// NewSessionManager creates an empty session manager.
func NewSessionManager(logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		open:   make(map[string]*OpenSession),
		logger: logger,
	}
}

// Open registers a sessional invocation. settle runs exactly once, on the
// first Resolve/Reject/Close or on teardown.
func (m *SessionManager) Open(correlationID string, settle func(result interface{}, err error)) *OpenSession {
	session := &OpenSession{correlationID: correlationID}
	session.settle = func(result interface{}, err error) {
		m.mu.Lock()
		delete(m.open, correlationID)
		m.mu.Unlock()
		settle(result, err)
	}

	m.mu.Lock()
	if m.torn {
		m.mu.Unlock()
		// The frame is already gone; settle immediately as cancelled.
		session.once.Do(func() {})
		settle(nil, &CancelledError{Reason: "frame torn down"})
		return session
	}
	m.open[correlationID] = session
	m.mu.Unlock()
	return session
}

// TeardownAll rejects every still-open session with a CancelledError.
// Called once when the owning frame is destroyed.
func (m *SessionManager) TeardownAll() {
	m.mu.Lock()
	if m.torn {
		m.mu.Unlock()
		return
	}
	m.torn = true
	sessions := make([]*OpenSession, 0, len(m.open))
	for _, s := range m.open {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Reject(&CancelledError{Reason: "frame torn down"})
	}
}

// OpenCount returns the number of sessions awaiting settlement.
func (m *SessionManager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}
