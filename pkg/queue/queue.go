// Package queue buffers encoded frames while the connection is not open.
//
// There are four FIFO queues, drained in a fixed order: observe, get,
// function, unobserve. Subscriptions and reads are restored before pending
// side-effecting calls and before teardown requests.
package queue

import (
	"errors"
	"fmt"
	"slices"
)

// ErrQueueFull indicates a push rejected by a bounded queue.
var ErrQueueFull = errors.New("outbound queue full")

// Kind selects one of the four queues.
type Kind uint8

const (
	Observe Kind = iota
	Get
	Function
	Unobserve

	numKinds
)

// Kinds lists the queues in drain order.
var Kinds = [numKinds]Kind{Observe, Get, Function, Unobserve}

// String returns the queue name.
func (k Kind) String() string {
	switch k {
	case Observe:
		return "observe"
	case Get:
		return "get"
	case Function:
		return "function"
	case Unobserve:
		return "unobserve"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Policy decides what happens when a bounded queue is full.
type Policy uint8

const (
	// Reject refuses the new frame with ErrQueueFull.
	Reject Policy = iota

	// DropOldest evicts the oldest frame of the same queue.
	DropOldest
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case Reject:
		return "reject"
	case DropOldest:
		return "drop-oldest"
	default:
		return fmt.Sprintf("Policy(%d)", p)
	}
}

// ParsePolicy parses a policy name as accepted in configuration files.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "reject":
		return Reject, nil
	case "drop-oldest":
		return DropOldest, nil
	}
	return 0, fmt.Errorf("unknown queue policy %q", s)
}

// Item is one buffered frame.
type Item struct {
	Kind Kind

	// Key is the obs-id for observe, get and unobserve frames and the
	// request id for function frames.
	Key   uint32
	Frame []byte
}

// Manager holds the four queues. It is not safe for concurrent use.
type Manager struct {
	queues [numKinds][]Item
	limit  int
	policy Policy
}

// NewManager creates queues holding at most limit frames each. A limit of
// 0 means unbounded.
func NewManager(limit int, policy Policy) *Manager {
	return &Manager{limit: limit, policy: policy}
}

// Push appends a frame to the queue for item.Kind. A frame with the same
// key already in that queue is replaced in place. When the queue is full,
// DropOldest returns the evicted item and Reject returns ErrQueueFull.
func (m *Manager) Push(item Item) (*Item, error) {
	q := m.queues[item.Kind]
	if i := indexOf(q, item.Key); i >= 0 {
		q[i] = item
		return nil, nil
	}

	var dropped *Item
	if m.limit > 0 && len(q) >= m.limit {
		if m.policy == Reject {
			return nil, fmt.Errorf("%w: %s queue holds %d frames", ErrQueueFull, item.Kind, len(q))
		}
		d := q[0]
		dropped = &d
		q = slices.Delete(q, 0, 1)
	}
	m.queues[item.Kind] = append(q, item)
	return dropped, nil
}

// Remove deletes the frame with key from the queue for kind.
func (m *Manager) Remove(kind Kind, key uint32) bool {
	q := m.queues[kind]
	i := indexOf(q, key)
	if i < 0 {
		return false
	}
	m.queues[kind] = slices.Delete(q, i, i+1)
	return true
}

// Has reports whether the queue for kind holds a frame with key.
func (m *Manager) Has(kind Kind, key uint32) bool {
	return indexOf(m.queues[kind], key) >= 0
}

// Len returns the number of frames in the queue for kind.
func (m *Manager) Len(kind Kind) int {
	return len(m.queues[kind])
}

// Total returns the number of frames across all queues.
func (m *Manager) Total() int {
	n := 0
	for _, q := range m.queues {
		n += len(q)
	}
	return n
}

// Drain empties all queues and returns their frames in drain order.
func (m *Manager) Drain() []Item {
	out := make([]Item, 0, m.Total())
	for _, k := range Kinds {
		out = append(out, m.queues[k]...)
		m.queues[k] = nil
	}
	return out
}

func indexOf(q []Item, key uint32) int {
	return slices.IndexFunc(q, func(it Item) bool { return it.Key == key })
}
