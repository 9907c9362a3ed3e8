package log

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/based-protocol/based-go/pkg/wire"
)

// Filter selects events from a capture. A nil or empty field accepts every
// value. FrameType and ID only match events with a decoded Message.
type Filter struct {
	ConnectionID string
	Direction    *Direction
	Layer        *Layer
	Category     *Category
	FrameType    *wire.FrameType
	ID           *uint32

	// TimeStart is inclusive, TimeEnd exclusive.
	TimeStart *time.Time
	TimeEnd   *time.Time
}

func accepts[T comparable](want *T, got T) bool {
	return want == nil || *want == got
}

// Matches reports whether event passes every criterion of f.
func (f *Filter) Matches(event Event) bool {
	if f.ConnectionID != "" && f.ConnectionID != event.ConnectionID {
		return false
	}
	if !accepts(f.Direction, event.Direction) || !accepts(f.Layer, event.Layer) || !accepts(f.Category, event.Category) {
		return false
	}
	if f.FrameType != nil || f.ID != nil {
		m := event.Message
		if m == nil || !accepts(f.FrameType, m.Type) || !accepts(f.ID, m.ID) {
			return false
		}
	}
	ts := event.Timestamp
	return (f.TimeStart == nil || !ts.Before(*f.TimeStart)) && (f.TimeEnd == nil || ts.Before(*f.TimeEnd))
}

// Reader streams events out of a CBOR capture, one at a time.
type Reader struct {
	src    io.ReadCloser
	dec    *cbor.Decoder
	filter Filter
}

// NewReader opens the capture at path.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens the capture at path and skips events rejected by
// filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture file: %w", err)
	}
	return &Reader{src: f, dec: NewDecoder(f), filter: filter}, nil
}

// Next returns the next accepted event, or io.EOF at the end of the capture.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		err := r.dec.Decode(&event)
		switch {
		case errors.Is(err, io.EOF):
			return Event{}, io.EOF
		case err != nil:
			return Event{}, fmt.Errorf("decode event: %w", err)
		case r.filter.Matches(event):
			return event, nil
		}
	}
}

// All iterates over the remaining accepted events. A decode error is
// yielded once with a zero Event and ends the iteration.
func (r *Reader) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			event, err := r.Next()
			if errors.Is(err, io.EOF) || !yield(event, err) || err != nil {
				return
			}
		}
	}
}

// Close releases the capture file.
func (r *Reader) Close() error {
	return r.src.Close()
}
