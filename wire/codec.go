package wire

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Codec turns envelopes into transport-safe bytes and back. Both ends of a
// channel must agree on the codec; JSON is the canonical wire form, CBOR is
// the denser binary option for byte-stream transports.
type Codec interface {
	Name() string
	Encode(env *Envelope) ([]byte, error)
	Decode(data []byte) (*Envelope, error)
}

// JSONCodec is the canonical envelope codec. Encode guards every dynamic
// payload field with CheckSerializable so non-transportable values fail
// with a descriptive SerializationError instead of being silently dropped
// or mangled by the JSON encoder.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(env *Envelope) ([]byte, error) {
	if err := guardPayloads(env); err != nil {
		return nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, &SerializationError{Reason: err.Error()}
	}
	return data, nil
}

func (JSONCodec) Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	return &env, nil
}

// CBORCodec encodes envelopes as CBOR. Field names follow the JSON wire
// form so a CBOR envelope is the same document in a different encoding.
type CBORCodec struct{}

func (CBORCodec) Name() string { return "cbor" }

func (CBORCodec) Encode(env *Envelope) ([]byte, error) {
	if err := guardPayloads(env); err != nil {
		return nil, err
	}
	data, err := cbor.Marshal(env)
	if err != nil {
		return nil, &SerializationError{Reason: err.Error()}
	}
	return data, nil
}

func (CBORCodec) Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	return &env, nil
}

// guardPayloads runs the serialization check over the dynamic fields of an
// envelope. Static fields (strings, ints) are transportable by construction.
func guardPayloads(env *Envelope) error {
	if err := CheckSerializable(env.Args); err != nil {
		return err
	}
	if err := CheckSerializable(env.BaseContext); err != nil {
		return err
	}
	return CheckSerializable(env.Result)
}
