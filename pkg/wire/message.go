package wire

import (
	"encoding/binary"
	"fmt"
)

// FunctionRequest calls a remote function.
//
//	| 1 name length | * name | * payload |
type FunctionRequest struct {
	RequestID uint32
	Name      string

	// Payload is canonical JSON, possibly deflated. Empty means no payload.
	Payload []byte
	Deflate bool
}

// Encode serializes the request into a TypeFunction frame.
func (r *FunctionRequest) Encode() ([]byte, error) {
	body, err := appendName(nil, r.Name)
	if err != nil {
		return nil, err
	}
	body = append(body, r.Payload...)
	f := &Frame{Type: TypeFunction, Deflate: r.Deflate, ID: r.RequestID, Body: body}
	return f.Encode()
}

// DecodeFunctionRequest parses the body of an outbound function frame.
func DecodeFunctionRequest(f *Frame) (*FunctionRequest, error) {
	name, rest, err := readName(f.Body)
	if err != nil {
		return nil, err
	}
	return &FunctionRequest{
		RequestID: f.ID,
		Name:      name,
		Payload:   rest,
		Deflate:   f.Deflate,
	}, nil
}

// ObserveRequest subscribes to (TypeSubscriptionFull) or fetches once
// (TypeGet) an observable.
//
//	| 8 checksum | 1 name length | * name | * payload |
type ObserveRequest struct {
	Type  FrameType
	ObsID uint32

	// Checksum of the value the client already holds; 0 requests full data.
	Checksum uint64

	Name    string
	Payload []byte
	Deflate bool
}

// Encode serializes the request.
func (r *ObserveRequest) Encode() ([]byte, error) {
	if r.Type != TypeSubscriptionFull && r.Type != TypeGet {
		return nil, fmt.Errorf("%w: %s is not an observe request", ErrInvalidType, r.Type)
	}
	body := binary.LittleEndian.AppendUint64(make([]byte, 0, ChecksumSize+1+len(r.Name)+len(r.Payload)), r.Checksum)
	body, err := appendName(body, r.Name)
	if err != nil {
		return nil, err
	}
	body = append(body, r.Payload...)
	f := &Frame{Type: r.Type, Deflate: r.Deflate, ID: r.ObsID, Body: body}
	return f.Encode()
}

// DecodeObserveRequest parses the body of an outbound subscription or get frame.
func DecodeObserveRequest(f *Frame) (*ObserveRequest, error) {
	if len(f.Body) < ChecksumSize {
		return nil, fmt.Errorf("%w: observe request without checksum", ErrFrameTruncated)
	}
	name, rest, err := readName(f.Body[ChecksumSize:])
	if err != nil {
		return nil, err
	}
	return &ObserveRequest{
		Type:     f.Type,
		ObsID:    f.ID,
		Checksum: binary.LittleEndian.Uint64(f.Body[:ChecksumSize]),
		Name:     name,
		Payload:  rest,
		Deflate:  f.Deflate,
	}, nil
}

// EncodeUnsubscribe builds the frame that ends the subscription to obsID.
func EncodeUnsubscribe(obsID uint32) ([]byte, error) {
	f := &Frame{Type: TypeUnsubscribe, ID: obsID}
	return f.Encode()
}

// EncodeAuth builds an auth request carrying an opaque state.
func EncodeAuth(requestID uint32, state []byte) ([]byte, error) {
	f := &Frame{Type: TypeAuth, ID: requestID, Body: state}
	return f.Encode()
}

// Data is the body of SUBSCRIPTION_FULL, SUBSCRIPTION_DIFF and GET responses.
//
//	| 8 checksum | * value or diff |
type Data struct {
	Checksum uint64

	// Value is the full value or the diff, still deflated if the frame
	// carried the deflate flag.
	Value []byte
}

// DecodeData parses a data response body.
func DecodeData(f *Frame) (*Data, error) {
	if len(f.Body) < ChecksumSize {
		return nil, fmt.Errorf("%w: %s body without checksum", ErrFrameTruncated, f.Type)
	}
	return &Data{
		Checksum: binary.LittleEndian.Uint64(f.Body[:ChecksumSize]),
		Value:    f.Body[ChecksumSize:],
	}, nil
}

// EncodeData builds a data response. Servers and test peers use it.
func EncodeData(t FrameType, obsID uint32, checksum uint64, value []byte, deflate bool) ([]byte, error) {
	body := binary.LittleEndian.AppendUint64(make([]byte, 0, ChecksumSize+len(value)), checksum)
	body = append(body, value...)
	f := &Frame{Type: t, Deflate: deflate, ID: obsID, Body: body}
	return f.Encode()
}

// EncodeResponse builds a response frame whose body is carried verbatim:
// FUNCTION results, AUTH states, ERROR payloads and empty GET bodies.
func EncodeResponse(t FrameType, id uint32, body []byte) ([]byte, error) {
	f := &Frame{Type: t, ID: id, Body: body}
	return f.Encode()
}

func appendName(b []byte, name string) ([]byte, error) {
	if len(name) > MaxNameLength {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrNameTooLong, len(name), MaxNameLength)
	}
	b = append(b, byte(len(name)))
	return append(b, name...), nil
}

func readName(b []byte) (string, []byte, error) {
	if len(b) < 1 {
		return "", nil, fmt.Errorf("%w: missing name length", ErrFrameTruncated)
	}
	n := int(b[0])
	if len(b) < 1+n {
		return "", nil, fmt.Errorf("%w: name needs %d bytes, have %d", ErrFrameTruncated, n, len(b)-1)
	}
	return string(b[1 : 1+n]), b[1+n:], nil
}
