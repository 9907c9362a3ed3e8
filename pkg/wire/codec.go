package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Framing constants.
const (
	// HeaderSize is the size of the packed header in bytes.
	HeaderSize = 4

	// IDSize is the size of the frame id in bytes.
	IDSize = 3

	// ChecksumSize is the size of a value checksum in bytes.
	ChecksumSize = 8

	// MinFrameSize is the smallest valid frame: header plus id.
	MinFrameSize = HeaderSize + IDSize

	// MaxLength is the largest length the 28-bit header field can carry.
	MaxLength = 1<<28 - 1

	// MaxID is the largest id that fits the 24-bit id field.
	MaxID = 1<<24 - 1

	// MaxNameLength is the longest function or observable name (1-byte prefix).
	MaxNameLength = 255
)

// Codec errors. All of them match ErrProtocol with errors.Is.
var (
	// ErrProtocol indicates a malformed, truncated or unencodable frame.
	ErrProtocol = errors.New("protocol error")

	// ErrFrameTooLarge indicates the body does not fit the 28-bit length.
	ErrFrameTooLarge = fmt.Errorf("%w: frame too large", ErrProtocol)

	// ErrNameTooLong indicates a name longer than MaxNameLength bytes.
	ErrNameTooLong = fmt.Errorf("%w: name too long", ErrProtocol)

	// ErrIDOutOfRange indicates an id that does not fit 24 bits.
	ErrIDOutOfRange = fmt.Errorf("%w: id out of range", ErrProtocol)

	// ErrFrameTruncated indicates fewer than MinFrameSize bytes, or a body
	// shorter than its type requires.
	ErrFrameTruncated = fmt.Errorf("%w: frame truncated", ErrProtocol)

	// ErrLengthMismatch indicates the header length disagrees with the
	// number of bytes that follow it.
	ErrLengthMismatch = fmt.Errorf("%w: length mismatch", ErrProtocol)

	// ErrInvalidType indicates a frame type outside the defined set.
	ErrInvalidType = fmt.Errorf("%w: invalid frame type", ErrProtocol)
)

// Header is the decoded form of the 4-byte frame header.
type Header struct {
	Type    FrameType
	Deflate bool

	// Length is the number of bytes following the header.
	Length uint32
}

// Pack returns the 32-bit header value.
func (h Header) Pack() uint32 {
	v := h.Length<<4 | uint32(h.Type)<<1
	if h.Deflate {
		v |= 1
	}
	return v
}

// UnpackHeader splits a 32-bit header value into its fields.
func UnpackHeader(v uint32) Header {
	return Header{
		Type:    FrameType((v >> 1) & 0x7),
		Deflate: v&1 == 1,
		Length:  v >> 4,
	}
}

// Frame is a single decoded protocol frame.
type Frame struct {
	Type    FrameType
	Deflate bool

	// ID is a request id or an obs-id depending on Type.
	ID uint32

	// Body is everything after the id. It aliases the decoded buffer.
	Body []byte
}

// Size returns the encoded size of the frame in bytes.
func (f *Frame) Size() int {
	return MinFrameSize + len(f.Body)
}

// Encode serializes the frame.
func (f *Frame) Encode() ([]byte, error) {
	if f.Type > maxFrameType {
		return nil, fmt.Errorf("%w: %d", ErrInvalidType, f.Type)
	}
	if f.ID > MaxID {
		return nil, fmt.Errorf("%w: %d", ErrIDOutOfRange, f.ID)
	}
	length := IDSize + len(f.Body)
	if length > MaxLength {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, MaxLength)
	}

	buf := make([]byte, HeaderSize+length)
	h := Header{Type: f.Type, Deflate: f.Deflate, Length: uint32(length)}
	binary.LittleEndian.PutUint32(buf[0:HeaderSize], h.Pack())
	putID(buf[HeaderSize:], f.ID)
	copy(buf[MinFrameSize:], f.Body)
	return buf, nil
}

// Decode parses a complete frame. The returned Body aliases data.
func Decode(data []byte) (*Frame, error) {
	if len(data) < MinFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTruncated, len(data))
	}

	h := UnpackHeader(binary.LittleEndian.Uint32(data[0:HeaderSize]))
	if int(h.Length) != len(data)-HeaderSize {
		return nil, fmt.Errorf("%w: header says %d, have %d", ErrLengthMismatch, h.Length, len(data)-HeaderSize)
	}
	if !h.Type.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidType, h.Type)
	}

	return &Frame{
		Type:    h.Type,
		Deflate: h.Deflate,
		ID:      readID(data[HeaderSize:]),
		Body:    data[MinFrameSize:],
	}, nil
}

// PeekType returns the frame type without validating the rest of the frame.
func PeekType(data []byte) (FrameType, error) {
	if len(data) < HeaderSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrFrameTruncated, len(data))
	}
	return UnpackHeader(binary.LittleEndian.Uint32(data[0:HeaderSize])).Type, nil
}

func putID(b []byte, id uint32) {
	b[0] = byte(id)
	b[1] = byte(id >> 8)
	b[2] = byte(id >> 16)
}

func readID(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}
