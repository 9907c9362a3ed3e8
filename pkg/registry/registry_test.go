package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ObserveDeduplicates(t *testing.T) {
	r := New()

	sub1, o1, created := r.AddObserver(7, "counter", []byte(`{}`), func([]byte, uint64, error) {})
	assert.True(t, created)
	sub2, o2, created := r.AddObserver(7, "counter", []byte(`{}`), func([]byte, uint64, error) {})
	assert.False(t, created)

	assert.NotEqual(t, sub1, sub2)
	assert.Same(t, o1, o2)
	assert.Equal(t, 2, o1.Observers())
	assert.Equal(t, 1, r.Len())
	assert.Len(t, r.ObserverFuncs(7), 2)

	obsID, ok := r.SubscriptionObsID(sub2)
	assert.True(t, ok)
	assert.Equal(t, uint32(7), obsID)
}

func TestRegistry_RemoveObserver(t *testing.T) {
	r := New()
	sub1, _, _ := r.AddObserver(7, "counter", nil, func([]byte, uint64, error) {})
	sub2, _, _ := r.AddObserver(7, "counter", nil, func([]byte, uint64, error) {})

	o, deleted, err := r.RemoveObserver(sub1)
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Equal(t, 1, o.Observers())
	assert.NotNil(t, r.Observable(7))

	_, deleted, err = r.RemoveObserver(sub2)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Nil(t, r.Observable(7))
	assert.Empty(t, r.Observables())

	_, _, err = r.RemoveObserver(sub2)
	if !errors.Is(err, ErrUnknownID) {
		t.Errorf("expected ErrUnknownID, got %v", err)
	}
}

func TestRegistry_RemoveObserverRejectsGetter(t *testing.T) {
	r := New()
	sub, _, _ := r.AddGetter(7, "counter", nil, func([]byte, error) {})

	if _, _, err := r.RemoveObserver(sub); !errors.Is(err, ErrUnknownID) {
		t.Errorf("expected ErrUnknownID, got %v", err)
	}
}

func TestRegistry_TakeGetters(t *testing.T) {
	r := New()
	var order []int
	r.AddGetter(9, "users", nil, func([]byte, error) { order = append(order, 1) })
	r.AddGetter(9, "users", nil, func([]byte, error) { order = append(order, 2) })

	fns, deleted := r.TakeGetters(9)
	require.Len(t, fns, 2)
	assert.True(t, deleted)
	for _, fn := range fns {
		fn(nil, nil)
	}
	assert.Equal(t, []int{1, 2}, order)

	// Already resolved.
	fns, _ = r.TakeGetters(9)
	assert.Empty(t, fns)
}

func TestRegistry_TakeGettersKeepsObserved(t *testing.T) {
	r := New()
	r.AddObserver(9, "users", nil, func([]byte, uint64, error) {})
	r.AddGetter(9, "users", nil, func([]byte, error) {})

	fns, deleted := r.TakeGetters(9)
	assert.Len(t, fns, 1)
	assert.False(t, deleted)
	assert.NotNil(t, r.Observable(9))
}

func TestRegistry_RemoveGetter(t *testing.T) {
	r := New()
	sub, o, _ := r.AddGetter(9, "users", nil, func([]byte, error) {})
	o.GetInFlight = true

	fn, _, deleted, err := r.RemoveGetter(sub)
	require.NoError(t, err)
	assert.NotNil(t, fn)
	assert.True(t, deleted)
	assert.False(t, o.GetInFlight)
}

func TestRegistry_CreationOrder(t *testing.T) {
	r := New()
	for _, id := range []uint32{5, 3, 9} {
		r.AddObserver(id, "x", nil, func([]byte, uint64, error) {})
	}
	sub, _, _ := r.AddObserver(1, "x", nil, func([]byte, uint64, error) {})
	r.RemoveObserver(sub)
	r.AddObserver(1, "x", nil, func([]byte, uint64, error) {})

	var got []uint32
	for _, o := range r.Observables() {
		got = append(got, o.ObsID)
	}
	assert.Equal(t, []uint32{5, 3, 9, 1}, got)
}

func TestRegistry_RequestIDs(t *testing.T) {
	r := New()

	c1 := r.AddCall("a", func([]byte, error) {})
	c2 := r.AddCall("b", func([]byte, error) {})
	assert.NotZero(t, c1.ID)
	assert.NotEqual(t, c1.ID, c2.ID)

	got, ok := r.TakeCall(c1.ID)
	assert.True(t, ok)
	assert.Same(t, c1, got)

	_, ok = r.TakeCall(c1.ID)
	assert.False(t, ok)
	assert.Equal(t, 1, r.PendingCalls())
}

func TestRegistry_RequestIDWrapSkipsBusy(t *testing.T) {
	r := New()
	r.lastRequest = MaxRequestID - 1

	c1 := r.AddCall("a", func([]byte, error) {})
	assert.Equal(t, uint32(MaxRequestID), c1.ID)

	c2 := r.AddCall("b", func([]byte, error) {})
	assert.Equal(t, uint32(1), c2.ID, "id 0 is never used")

	r.lastRequest = MaxRequestID
	c3 := r.AddCall("c", func([]byte, error) {})
	assert.Equal(t, uint32(2), c3.ID, "busy id 1 is skipped")
}

func TestRegistry_TakeSentCalls(t *testing.T) {
	r := New()
	c1 := r.AddCall("a", func([]byte, error) {})
	c2 := r.AddCall("b", func([]byte, error) {})
	c3 := r.AddCall("c", func([]byte, error) {})
	c1.Sent = true
	c3.Sent = true

	sent := r.TakeSentCalls()
	require.Len(t, sent, 2)
	assert.Equal(t, c1.ID, sent[0].ID)
	assert.Equal(t, c3.ID, sent[1].ID)
	assert.NotNil(t, r.Call(c2.ID))
	assert.Equal(t, 1, r.PendingCalls())
}

func TestRegistry_AuthSupersedes(t *testing.T) {
	r := New()

	first := r.SetAuth(`{"token":"a"}`, func(string, error) {})
	second := r.SetAuth(`{"token":"b"}`, func(string, error) {})
	assert.NotEqual(t, first.ID, second.ID)

	_, ok := r.TakeAuth(first.ID)
	assert.False(t, ok, "superseded request must not resolve")

	got, ok := r.TakeAuth(second.ID)
	assert.True(t, ok)
	assert.Same(t, second, got)

	state, set := r.AuthState()
	assert.True(t, set)
	assert.Equal(t, `{"token":"b"}`, state)

	r.ClearAuthState()
	_, set = r.AuthState()
	assert.False(t, set)
}

func TestRegistry_AuthWildcardID(t *testing.T) {
	r := New()
	a := r.SetAuth("s", func(string, error) {})

	got, ok := r.TakeAuth(0)
	assert.True(t, ok)
	assert.Same(t, a, got)
	assert.Nil(t, r.Auth())
}

func TestRegistry_CheckCollision(t *testing.T) {
	r := New()
	require.NoError(t, r.Check(7, "chat", []byte(`{"room":1}`)), "free id")

	r.AddObserver(7, "chat", []byte(`{"room":1}`), func([]byte, uint64, error) {})
	assert.NoError(t, r.Check(7, "chat", []byte(`{"room":1}`)))
	assert.ErrorIs(t, r.Check(7, "chat", []byte(`{"room":2}`)), ErrObsIDCollision)
	assert.ErrorIs(t, r.Check(7, "users", []byte(`{"room":1}`)), ErrObsIDCollision)
	assert.ErrorIs(t, r.Check(7, "chat", nil), ErrObsIDCollision)
	assert.NoError(t, r.Check(8, "users", nil))
}
