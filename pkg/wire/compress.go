package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// MaxInflatedSize bounds the output of Inflate so a hostile frame cannot
// expand without limit. It matches the largest frame length.
const MaxInflatedSize = MaxLength

// Deflate compresses data as raw DEFLATE (no zlib or gzip wrapper).
func Deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("failed to create deflate writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("failed to deflate: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to deflate: %w", err)
	}
	return buf.Bytes(), nil
}

// Inflate decompresses raw DEFLATE data.
func Inflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, MaxInflatedSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: inflate: %v", ErrProtocol, err)
	}
	if len(out) > MaxInflatedSize {
		return nil, fmt.Errorf("%w: inflated payload exceeds %d bytes", ErrFrameTooLarge, MaxInflatedSize)
	}
	return out, nil
}
