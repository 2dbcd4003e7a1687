// Package framelink defines the hook vocabulary shared by both sides of
// the cross-frame plugin bridge: the closed hook descriptor table, frame
// size modes, JSON-Schema payload shapes, and the immutable host-state
// snapshot delivered with every invocation.
//
// The runtime lives in the bridge subpackage; the envelope model and
// codecs live in wire.
package framelink
