package client

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/based-protocol/based-go/pkg/obsid"
	"github.com/based-protocol/based-go/pkg/persistence"
	"github.com/based-protocol/based-go/pkg/wire"
)

var errSendFailed = errors.New("send failed")

// fakeTransport records every frame written to it.
type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
	sent   chan []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(chan []byte, 64)}
}

func (f *fakeTransport) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errSendFailed
	}
	b := append([]byte(nil), frame...)
	f.frames = append(f.frames, b)
	select {
	case f.sent <- b:
	default:
	}
	return nil
}

func (f *fakeTransport) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

// take returns the decoded frames written since the last call.
func (f *fakeTransport) take(t *testing.T) []*wire.Frame {
	t.Helper()
	f.mu.Lock()
	raw := f.frames
	f.frames = nil
	f.mu.Unlock()

	out := make([]*wire.Frame, 0, len(raw))
	for _, b := range raw {
		fr, err := wire.Decode(b)
		require.NoError(t, err)
		out = append(out, fr)
	}
	return out
}

// memStore is an in-memory persistence.CacheStore.
type memStore struct {
	mu   sync.Mutex
	snap *persistence.CacheSnapshot
}

func (m *memStore) Save(s *persistence.CacheSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = s
	return nil
}

func (m *memStore) Load() (*persistence.CacheSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, nil
}

// fixedSums is a checksum function over a fixed table of values.
func fixedSums(sums map[string]uint64) func([]byte) uint64 {
	return func(v []byte) uint64 { return sums[string(v)] }
}

// newOpenClient returns a client attached to a fake transport that has
// already reported open.
func newOpenClient(t *testing.T, mutate func(*Config)) (*Client, *fakeTransport) {
	t.Helper()
	c, ft := newClosedClient(t, mutate)
	c.HandleOpen()
	ft.take(t)
	return c, ft
}

// newClosedClient returns a client attached to a fake transport that has
// not opened yet.
func newClosedClient(t *testing.T, mutate func(*Config)) (*Client, *fakeTransport) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	ft := newFakeTransport()
	c.SetTransport(ft)
	return c, ft
}

func mustObsID(t *testing.T, name, payload string) uint32 {
	t.Helper()
	id, err := obsid.ID(name, payload)
	require.NoError(t, err)
	return id
}

func dataFrame(t *testing.T, typ wire.FrameType, obsID uint32, sum uint64, value string) []byte {
	t.Helper()
	b, err := wire.EncodeData(typ, obsID, sum, []byte(value), false)
	require.NoError(t, err)
	return b
}

func responseFrame(t *testing.T, typ wire.FrameType, id uint32, body string) []byte {
	t.Helper()
	b, err := wire.EncodeResponse(typ, id, []byte(body))
	require.NoError(t, err)
	return b
}

// observeUpdate is one ObserveFunc invocation.
type observeUpdate struct {
	value string
	sum   uint64
	err   error
}

// observeRecorder collects ObserveFunc invocations.
type observeRecorder struct {
	mu      sync.Mutex
	updates []observeUpdate
}

func (r *observeRecorder) fn(value []byte, sum uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, observeUpdate{string(value), sum, err})
}

func (r *observeRecorder) all() []observeUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]observeUpdate(nil), r.updates...)
}
