package wire

// DefaultMaxEnvelope is the default maximum encoded envelope size (1 MB).
// Bridge envelopes are small JSON documents; anything near this size is
// almost certainly a payload that should not be crossing the boundary.
const DefaultMaxEnvelope int = 1_048_576

// MaxEnvelopeHardLimit is the absolute cap on envelope size (16 MB),
// enforced regardless of negotiation.
const MaxEnvelopeHardLimit int = 16_777_216

// Limits are the protocol limits each side proposes during the ready
// handshake; both sides adopt the negotiated minimum.
type Limits struct {
	MaxEnvelope int `json:"maxEnvelope"`
}

// DefaultLimits returns the default protocol limits.
func DefaultLimits() Limits {
	return Limits{MaxEnvelope: DefaultMaxEnvelope}
}

// NegotiateLimits returns the minimum of two limit sets. A zero value on
// either side counts as "no proposal" and yields the other side's limit.
func NegotiateLimits(a, b Limits) Limits {
	out := Limits{MaxEnvelope: minPositive(a.MaxEnvelope, b.MaxEnvelope)}
	if out.MaxEnvelope == 0 || out.MaxEnvelope > MaxEnvelopeHardLimit {
		out.MaxEnvelope = DefaultMaxEnvelope
	}
	return out
}

func minPositive(a, b int) int {
	if a <= 0 {
		return b
	}
	if b <= 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}
