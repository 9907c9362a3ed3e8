// Package checksum fingerprints observable values.
//
// The client compares the checksum it computes over a diffed value with the
// checksum the server declared for it. Both sides must agree on the
// function, so it is selected through client configuration.
package checksum

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/blake3"
)

// Func computes the checksum of a value. It must be deterministic and
// must never return 0, which on the wire means "no cached value".
type Func func(value []byte) uint64

// Default is the checksum used when none is configured.
var Default Func = Blake3

// Blake3 returns the first 8 bytes of the BLAKE3-256 digest, little-endian.
func Blake3(value []byte) uint64 {
	sum := blake3.Sum256(value)
	return nonZero(binary.LittleEndian.Uint64(sum[:8]))
}

// XXHash returns the xxHash64 of value.
func XXHash(value []byte) uint64 {
	return nonZero(xxhash.Sum64(value))
}

// ByName resolves a checksum function by its configuration name.
// It reports false for unknown names.
func ByName(name string) (Func, bool) {
	switch name {
	case "", "blake3":
		return Blake3, true
	case "xxhash":
		return XXHash, true
	}
	return nil, false
}

func nonZero(c uint64) uint64 {
	if c == 0 {
		return 1
	}
	return c
}
