// Package obsid derives the deduplication key for observables.
//
// An obs-id is a pure function of an observable's name and its canonical
// JSON payload. Payloads that are structurally equal but differ in key order
// or whitespace produce the same id, so independent callers asking for the
// same data share one server-side subscription.
//
// The id is 24 bits wide because it travels in the 3-byte id field of every
// subscription frame.
package obsid

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/gowebpki/jcs"
)

// Bits is the width of an obs-id.
const Bits = 24

// Mask keeps the low Bits bits of a hash.
const Mask = 1<<Bits - 1

// emptyPayload stands in for the payload hash when no payload is given.
const emptyPayload uint64 = 0x9E3779B97F4A7C15

// ErrEncoding indicates a payload that is not valid JSON.
var ErrEncoding = errors.New("payload is not valid JSON")

// ID returns the obs-id for name and payload.
func ID(name, payload string) (uint32, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return 0, err
	}
	return FromCanonical(name, canonical), nil
}

// FromCanonical returns the obs-id for a payload already produced by
// Canonicalize. A nil or empty payload uses the empty-payload marker.
func FromCanonical(name string, canonical []byte) uint32 {
	p := emptyPayload
	if len(canonical) > 0 {
		p = xxhash.Sum64(canonical)
	}
	return fold((p * 33) ^ xxhash.Sum64String(name))
}

// Canonicalize re-serializes payload in the JSON Canonicalization Scheme
// (RFC 8785): object keys sorted, insignificant whitespace removed and
// numbers in their shortest ECMAScript form, so 1, 1.0 and 1e0 are the same
// value. Duplicate object keys are rejected. An empty payload returns nil.
func Canonicalize(payload string) ([]byte, error) {
	if payload == "" {
		return nil, nil
	}
	// jcs accepts number spellings that JSON does not, such as 0x10 or +1.
	if !json.Valid([]byte(payload)) {
		return nil, fmt.Errorf("%w: %q", ErrEncoding, truncate(payload))
	}
	out, err := jcs.Transform([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return out, nil
}

func truncate(s string) string {
	if len(s) > 32 {
		return s[:32] + "..."
	}
	return s
}

// fold mixes all 64 bits of h into the low Bits bits.
func fold(h uint64) uint32 {
	h ^= h >> 24
	h ^= h >> 48
	return uint32(h & Mask)
}
