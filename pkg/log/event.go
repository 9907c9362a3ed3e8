package log

import (
	"time"

	"github.com/based-protocol/based-go/pkg/wire"
)

// MaxFrameDataSize caps the raw bytes kept in a FrameEvent.
const MaxFrameDataSize = 1024

// Event is one capture record. Exactly one of the payload pointers is set,
// matching Category. Fields use small integer CBOR keys; never renumber
// them, old capture files depend on the numbering.
type Event struct {
	Timestamp    time.Time `cbor:"1,keyasint"`
	ConnectionID string    `cbor:"2,keyasint"`
	Direction    Direction `cbor:"3,keyasint"`
	Layer        Layer     `cbor:"4,keyasint"`
	Category     Category  `cbor:"5,keyasint"`

	// RemoteAddr is the hub URL.
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// enumName maps a small enum value to its table entry.
func enumName[T ~uint8](names []string, v T) string {
	if int(v) < len(names) && names[v] != "" {
		return names[v]
	}
	return "UNKNOWN"
}

// Direction is the flow of a captured frame relative to the client.
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut
)

var directionNames = []string{DirectionIn: "IN", DirectionOut: "OUT"}

func (d Direction) String() string { return enumName(directionNames, d) }

// Layer is where an event was captured: the WebSocket carrier sees raw
// bytes, the wire layer sees decoded headers, the engine sees lifecycle.
type Layer uint8

const (
	LayerTransport Layer = iota
	LayerWire
	LayerEngine
)

var layerNames = []string{LayerTransport: "TRANSPORT", LayerWire: "WIRE", LayerEngine: "ENGINE"}

func (l Layer) String() string { return enumName(layerNames, l) }

// Category selects which payload field of an Event is set.
type Category uint8

const (
	CategoryMessage Category = iota // Frame or Message
	CategoryControl                 // ControlMsg
	CategoryState                   // StateChange
	CategoryError                   // Error
)

var categoryNames = []string{
	CategoryMessage: "MESSAGE",
	CategoryControl: "CONTROL",
	CategoryState:   "STATE",
	CategoryError:   "ERROR",
}

func (c Category) String() string { return enumName(categoryNames, c) }

// FrameEvent holds the raw bytes of a frame as the transport saw them.
type FrameEvent struct {
	Size      int    `cbor:"1,keyasint"`
	Data      []byte `cbor:"2,keyasint,omitempty"`
	Truncated bool   `cbor:"3,keyasint,omitempty"`
}

// NewFrameEvent builds a FrameEvent, keeping at most MaxFrameDataSize bytes.
func NewFrameEvent(data []byte) *FrameEvent {
	fe := &FrameEvent{Size: len(data), Data: data}
	if len(data) > MaxFrameDataSize {
		fe.Data = data[:MaxFrameDataSize]
		fe.Truncated = true
	}
	return fe
}

// MessageEvent is a decoded frame header plus the request fields the
// engine knows about.
type MessageEvent struct {
	Type    wire.FrameType `cbor:"1,keyasint"`
	ID      uint32         `cbor:"2,keyasint"` // request id or obs-id
	Deflate bool           `cbor:"3,keyasint,omitempty"`

	// Name is set for outbound function, subscribe and get requests.
	Name     string  `cbor:"4,keyasint,omitempty"`
	Checksum *uint64 `cbor:"5,keyasint,omitempty"`
	BodySize int     `cbor:"6,keyasint"`

	// Unsubscribe marks an outbound type-2 frame.
	Unsubscribe bool `cbor:"7,keyasint,omitempty"`
}

// TypeName returns the frame type name, accounting for the outbound reuse
// of type 2 as unsubscribe.
func (m *MessageEvent) TypeName() string {
	if m.Unsubscribe {
		return "UNSUBSCRIBE"
	}
	return m.Type.String()
}

// StateChangeEvent records a lifecycle step of a connection, an observable
// or the auth exchange. States are free-form upper-case names.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
	ObsID    uint32      `cbor:"5,keyasint,omitempty"`
}

// StateEntity is the subject of a StateChangeEvent.
type StateEntity uint8

const (
	StateEntityConnection StateEntity = iota
	StateEntityObservable
	StateEntityAuth
)

var stateEntityNames = []string{
	StateEntityConnection: "CONNECTION",
	StateEntityObservable: "OBSERVABLE",
	StateEntityAuth:       "AUTH",
}

func (s StateEntity) String() string { return enumName(stateEntityNames, s) }

// ControlMsgEvent records a WebSocket ping, pong or close.
type ControlMsgEvent struct {
	Type      ControlMsgType `cbor:"1,keyasint"`
	CloseCode *int           `cbor:"2,keyasint,omitempty"`
}

// ControlMsgType is the kind of WebSocket control message.
type ControlMsgType uint8

const (
	ControlMsgPing ControlMsgType = iota
	ControlMsgPong
	ControlMsgClose
)

var controlMsgNames = []string{ControlMsgPing: "PING", ControlMsgPong: "PONG", ControlMsgClose: "CLOSE"}

func (c ControlMsgType) String() string { return enumName(controlMsgNames, c) }

// ErrorEventData records a failure. Context names the operation that
// failed; Code carries a server error code when there is one.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`
	Code    *int   `cbor:"3,keyasint,omitempty"`
	Context string `cbor:"4,keyasint,omitempty"`
}
