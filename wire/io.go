package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// EnvelopeReader reads length-prefixed encoded envelopes from a byte
// stream. The 4-byte big-endian length prefix matches the writer; limits
// are enforced before any payload byte is buffered.
type EnvelopeReader struct {
	reader io.Reader
	codec  Codec
	limits Limits
}

// NewEnvelopeReader creates an EnvelopeReader with default limits.
func NewEnvelopeReader(r io.Reader, codec Codec) *EnvelopeReader {
	return &EnvelopeReader{
		reader: r,
		codec:  codec,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the reader's limits after negotiation.
func (er *EnvelopeReader) SetLimits(limits Limits) {
	er.limits = limits
}

// ReadEnvelope reads a single envelope from the stream.
func (er *EnvelopeReader) ReadEnvelope() (*Envelope, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(er.reader, lengthBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])

	if int(length) > er.limits.MaxEnvelope {
		return nil, fmt.Errorf("envelope size %d exceeds negotiated limit %d", length, er.limits.MaxEnvelope)
	}
	if int(length) > MaxEnvelopeHardLimit {
		return nil, fmt.Errorf("envelope size %d exceeds hard limit %d", length, MaxEnvelopeHardLimit)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(er.reader, buf); err != nil {
		return nil, err
	}

	return er.codec.Decode(buf)
}

// EnvelopeWriter writes length-prefixed encoded envelopes to a byte
// stream. Writes are not internally synchronized; callers that share a
// writer must serialize access.
type EnvelopeWriter struct {
	writer io.Writer
	codec  Codec
	limits Limits
}

// NewEnvelopeWriter creates an EnvelopeWriter with default limits.
func NewEnvelopeWriter(w io.Writer, codec Codec) *EnvelopeWriter {
	return &EnvelopeWriter{
		writer: w,
		codec:  codec,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the writer's limits after negotiation.
func (ew *EnvelopeWriter) SetLimits(limits Limits) {
	ew.limits = limits
}

// WriteEnvelope writes a single envelope to the stream.
func (ew *EnvelopeWriter) WriteEnvelope(env *Envelope) error {
	buf, err := ew.codec.Encode(env)
	if err != nil {
		return err
	}

	if len(buf) > ew.limits.MaxEnvelope {
		return fmt.Errorf("encoded envelope size %d exceeds negotiated limit %d", len(buf), ew.limits.MaxEnvelope)
	}
	if len(buf) > MaxEnvelopeHardLimit {
		return fmt.Errorf("encoded envelope size %d exceeds hard limit %d", len(buf), MaxEnvelopeHardLimit)
	}

	var lengthBuf [4]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(buf)))
	if _, err := ew.writer.Write(lengthBuf[:]); err != nil {
		return err
	}
	if _, err := ew.writer.Write(buf); err != nil {
		return err
	}
	return nil
}
