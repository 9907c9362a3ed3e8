// Package diff applies incremental updates to cached observable values.
//
// The client does not define a diff algorithm. It calls an Applier with the
// last known value and the patch received from the server, and verifies the
// result against the server's checksum. Any Applier error is treated as a
// failed verification and triggers a full resync.
package diff

import (
	"bytes"
	"errors"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// ErrDiff indicates a malformed patch or one that does not apply to the
// given base value.
var ErrDiff = errors.New("diff cannot be applied")

// Applier produces a candidate value from a previous value and a patch.
// Implementations must be pure and safe for concurrent use.
type Applier interface {
	Apply(prev, patch []byte) ([]byte, error)
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(prev, patch []byte) ([]byte, error)

// Apply calls f(prev, patch).
func (f ApplierFunc) Apply(prev, patch []byte) ([]byte, error) {
	return f(prev, patch)
}

// MergePatch applies JSON merge patches (RFC 7386). It is the default
// Applier. Members of prev keep their order and new members are appended,
// the way a JavaScript server serializes the merged object.
type MergePatch struct{}

var _ Applier = MergePatch{}

// Apply merges patch into prev.
func (MergePatch) Apply(prev, patch []byte) ([]byte, error) {
	// jsonpatch rejects a null base; any non-object base merges like {}.
	if bytes.Equal(bytes.TrimSpace(prev), []byte("null")) {
		prev = []byte("{}")
	}
	out, err := jsonpatch.MergePatch(prev, patch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiff, err)
	}
	return unescapeHTML(out), nil
}

// htmlEscapes are the escapes Go's encoder writes and JSON.stringify does not.
var htmlEscapes = map[string]string{
	`u003c`: "<",
	`u003e`: ">",
	`u0026`: "&",
	`u2028`: "\u2028",
	`u2029`: "\u2029",
}

// unescapeHTML undoes the HTML-safe escaping of the encoder so a merged value
// has the bytes the server checksummed.
func unescapeHTML(b []byte) []byte {
	if !bytes.Contains(b, []byte(`\u`)) {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 >= len(b) {
			out = append(out, b[i])
			continue
		}
		if i+6 <= len(b) {
			if r, ok := htmlEscapes[string(b[i+1:i+6])]; ok {
				out = append(out, r...)
				i += 5
				continue
			}
		}
		out = append(out, b[i], b[i+1])
		i++
	}
	return out
}
