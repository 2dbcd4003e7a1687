package bridge

import (
	"io"
	"log/slog"
	"sync"

	"github.com/machinefabric/framelink-go/wire"
)

// Transport wraps the one physical channel between two frames into a typed
// send/receive primitive. Implementations must preserve FIFO order for
// envelopes sent on the same channel and must make Send a silent no-op once
// the peer frame is gone; the lifecycle teardown cancels whatever was in
// flight.
type Transport interface {
	// Send serializes and delivers one envelope. Serialization failures
	// return a *wire.SerializationError synchronously; a closed or departed
	// peer returns nil.
	Send(env *wire.Envelope) error
	// SetHandler installs the receive callback and starts delivery.
	// Envelopes are delivered one at a time, in send order.
	SetHandler(fn func(env *wire.Envelope))
	// Close tears the channel down. Idempotent.
	Close() error
}

// PipeTransport is an in-process channel pair joining two bridge endpoints.
// Every envelope is encoded and re-decoded through the codec on its way
// across, so no live reference ever survives the crossing even in-process.
type PipeTransport struct {
	name   string
	origin string
	codec  wire.Codec
	logger *slog.Logger

	out chan []byte
	in  chan []byte

	allowed map[string]bool

	mu      sync.Mutex
	handler func(env *wire.Envelope)
	started bool
	closed  bool
	done    chan struct{}
	peer    *PipeTransport
}

const pipeBuffer = 256

// NewPipe creates a connected transport pair. The first end is
// conventionally the host side, the second the guest side. hostOrigin and
// guestOrigin stamp outgoing envelopes; each end only accepts envelopes
// from its peer's origin.
func NewPipe(hostOrigin, guestOrigin string, logger *slog.Logger) (*PipeTransport, *PipeTransport) {
	if logger == nil {
		logger = slog.Default()
	}
	codec := wire.JSONCodec{}
	hostToGuest := make(chan []byte, pipeBuffer)
	guestToHost := make(chan []byte, pipeBuffer)

	host := &PipeTransport{
		name:    "host",
		origin:  hostOrigin,
		codec:   codec,
		logger:  logger,
		out:     hostToGuest,
		in:      guestToHost,
		allowed: map[string]bool{guestOrigin: true},
		done:    make(chan struct{}),
	}
	guest := &PipeTransport{
		name:    "guest",
		origin:  guestOrigin,
		codec:   codec,
		logger:  logger,
		out:     guestToHost,
		in:      hostToGuest,
		allowed: map[string]bool{hostOrigin: true},
		done:    make(chan struct{}),
	}
	host.peer = guest
	guest.peer = host
	return host, guest
}

// AllowOrigin adds an origin to the accept list.
func (t *PipeTransport) AllowOrigin(origin string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowed[origin] = true
}

// Send encodes the envelope and hands it to the peer. Returns a
// *wire.SerializationError synchronously for untransportable payloads; a
// closed pipe (either end) is a silent no-op.
func (t *PipeTransport) Send(env *wire.Envelope) error {
	stamped := *env
	stamped.Origin = t.origin

	data, err := t.codec.Encode(&stamped)
	if err != nil {
		return err
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed || t.peerGone() {
		return nil
	}

	select {
	case t.out <- data:
	case <-t.done:
	case <-t.peer.done:
	}
	return nil
}

func (t *PipeTransport) peerGone() bool {
	t.peer.mu.Lock()
	defer t.peer.mu.Unlock()
	return t.peer.closed
}

// SetHandler installs the receive callback and starts the delivery loop.
// Delivery is single-goroutine, preserving send order.
func (t *PipeTransport) SetHandler(fn func(env *wire.Envelope)) {
	t.mu.Lock()
	t.handler = fn
	if t.started || t.closed {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	go t.receiveLoop()
}

func (t *PipeTransport) receiveLoop() {
	for {
		select {
		case data := <-t.in:
			env, err := t.codec.Decode(data)
			if err != nil {
				t.logger.Warn("dropping malformed envelope", "transport", t.name, "err", err)
				continue
			}
			if !t.originAllowed(env.Origin) {
				t.logger.Warn("dropping envelope from unexpected origin",
					"transport", t.name, "origin", env.Origin)
				continue
			}
			if err := env.Validate(); err != nil {
				t.logger.Warn("dropping invalid envelope", "transport", t.name, "err", err)
				continue
			}
			t.mu.Lock()
			handler := t.handler
			t.mu.Unlock()
			if handler != nil {
				handler(env)
			}
		case <-t.done:
			return
		}
	}
}

func (t *PipeTransport) originAllowed(origin string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.allowed) == 0 {
		return true
	}
	return t.allowed[origin]
}

// Close tears down this end of the pipe. Idempotent; pending sends from
// the peer become no-ops.
func (t *PipeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	return nil
}

// StreamTransport runs the bridge protocol over a byte stream pair using
// the wire framing, for embedders whose frame boundary is a socket or a
// process pipe rather than an in-memory channel.
type StreamTransport struct {
	name   string
	origin string
	logger *slog.Logger

	reader *wire.EnvelopeReader
	writer *wire.EnvelopeWriter

	allowed map[string]bool

	mu      sync.Mutex
	handler func(env *wire.Envelope)
	started bool
	closed  bool
	closers []io.Closer
}

// NewStreamTransport creates a transport over a read/write stream pair.
// peerOrigins lists the origins accepted from the far side; empty accepts
// all. If r or w implement io.Closer they are closed on Close.
func NewStreamTransport(r io.Reader, w io.Writer, codec wire.Codec, origin string, peerOrigins []string, logger *slog.Logger) *StreamTransport {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(peerOrigins))
	for _, o := range peerOrigins {
		allowed[o] = true
	}
	t := &StreamTransport{
		name:    "stream",
		origin:  origin,
		logger:  logger,
		reader:  wire.NewEnvelopeReader(r, codec),
		writer:  wire.NewEnvelopeWriter(w, codec),
		allowed: allowed,
	}
	if c, ok := r.(io.Closer); ok {
		t.closers = append(t.closers, c)
	}
	if c, ok := w.(io.Closer); ok {
		t.closers = append(t.closers, c)
	}
	return t
}

// SetLimits applies negotiated limits to both directions.
func (t *StreamTransport) SetLimits(limits wire.Limits) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reader.SetLimits(limits)
	t.writer.SetLimits(limits)
}

// Send writes one framed envelope. Serialization failures surface
// synchronously; stream write failures after the peer has gone are logged
// and swallowed, matching the no-op contract.
func (t *StreamTransport) Send(env *wire.Envelope) error {
	stamped := *env
	stamped.Origin = t.origin

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	err := t.writer.WriteEnvelope(&stamped)
	if err == nil {
		return nil
	}
	if _, ok := err.(*wire.SerializationError); ok {
		return err
	}
	t.logger.Warn("envelope write failed, peer likely gone", "err", err)
	return nil
}

// SetHandler installs the receive callback and starts the read loop.
func (t *StreamTransport) SetHandler(fn func(env *wire.Envelope)) {
	t.mu.Lock()
	t.handler = fn
	if t.started || t.closed {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	go t.readLoop()
}

func (t *StreamTransport) readLoop() {
	for {
		env, err := t.reader.ReadEnvelope()
		if err != nil {
			if err != io.EOF {
				t.logger.Warn("envelope read failed", "err", err)
			}
			return
		}
		if !t.originAllowed(env.Origin) {
			t.logger.Warn("dropping envelope from unexpected origin", "origin", env.Origin)
			continue
		}
		if err := env.Validate(); err != nil {
			t.logger.Warn("dropping invalid envelope", "err", err)
			continue
		}
		t.mu.Lock()
		handler := t.handler
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return
		}
		if handler != nil {
			handler(env)
		}
	}
}

func (t *StreamTransport) originAllowed(origin string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.allowed) == 0 {
		return true
	}
	return t.allowed[origin]
}

// Close marks the transport closed and closes the underlying streams.
func (t *StreamTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, c := range t.closers {
		c.Close()
	}
	return nil
}
