package log

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger appends events to a capture file. Write errors never reach
// the caller; they are counted and reported by Dropped.
type FileLogger struct {
	mu      sync.Mutex
	out     io.WriteCloser // nil once closed
	enc     *cbor.Encoder
	dropped int
}

// NewFileLogger appends to the capture at path, creating it if needed.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open capture file: %w", err)
	}
	return NewWriterLogger(f), nil
}

// NewWriterLogger captures to w, which Close closes.
func NewWriterLogger(w io.WriteCloser) *FileLogger {
	return &FileLogger{out: w, enc: NewEncoder(w)}
}

// Log implements Logger. It does nothing after Close.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out != nil && l.enc.Encode(event) != nil {
		l.dropped++
	}
}

// Dropped returns how many events failed to encode or write.
func (l *FileLogger) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Close closes the underlying writer. Only the first call does anything.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.out
	if out == nil {
		return nil
	}
	l.out = nil
	return out.Close()
}

var _ Logger = (*FileLogger)(nil)
