package log

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Writers emit canonical, definite-length items with RFC 3339 timestamps.
// Readers may be older or newer than the writer of a capture, so they
// accept duplicate keys and indefinite-length items.
var (
	encMode = mustMode(cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode())

	decMode = mustMode(cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}.DecMode())
)

func mustMode[M any](mode M, err error) M {
	if err != nil {
		panic("log: invalid cbor options: " + err.Error())
	}
	return mode
}

// EncodeEvent marshals a single event.
func EncodeEvent(event Event) ([]byte, error) {
	b, err := encMode.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return b, nil
}

// DecodeEvent unmarshals a single event.
func DecodeEvent(b []byte) (Event, error) {
	var e Event
	if err := decMode.Unmarshal(b, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}

// NewEncoder streams events to w.
func NewEncoder(w io.Writer) *cbor.Encoder { return encMode.NewEncoder(w) }

// NewDecoder streams events from r.
func NewDecoder(r io.Reader) *cbor.Decoder { return decMode.NewDecoder(r) }
