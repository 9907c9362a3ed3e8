package wire

import "fmt"

// FrameType identifies the kind of frame carried in the header.
type FrameType uint8

const (
	// TypeFunction is a function call (request) or its result (response).
	TypeFunction FrameType = 0

	// TypeSubscriptionFull subscribes to an observable (request) or carries
	// its complete value (response).
	TypeSubscriptionFull FrameType = 1

	// TypeSubscriptionDiff carries an incremental diff against the previous
	// value of an observable (response only).
	TypeSubscriptionDiff FrameType = 2

	// TypeGet fetches an observable value once.
	TypeGet FrameType = 3

	// TypeAuth sets the auth state of the connection.
	TypeAuth FrameType = 4

	// TypeError reports a failed request (response only).
	TypeError FrameType = 5
)

// TypeUnsubscribe is the client-to-server code for ending a subscription.
// The server reads code 2 as unsubscribe; the client reads it as a diff.
const TypeUnsubscribe FrameType = 2

// maxFrameType is the largest code representable in the 3 type bits.
const maxFrameType FrameType = 7

// String returns the frame type name as seen on inbound frames.
func (t FrameType) String() string {
	switch t {
	case TypeFunction:
		return "FUNCTION"
	case TypeSubscriptionFull:
		return "SUBSCRIPTION_FULL"
	case TypeSubscriptionDiff:
		return "SUBSCRIPTION_DIFF"
	case TypeGet:
		return "GET"
	case TypeAuth:
		return "AUTH"
	case TypeError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// IsValid reports whether t is one of the defined frame types.
func (t FrameType) IsValid() bool {
	return t <= TypeError
}
