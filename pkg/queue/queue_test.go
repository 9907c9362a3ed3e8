package queue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func push(t *testing.T, m *Manager, kind Kind, key uint32, frame string) {
	t.Helper()
	if _, err := m.Push(Item{Kind: kind, Key: key, Frame: []byte(frame)}); err != nil {
		t.Fatalf("Push(%s, %d): %v", kind, key, err)
	}
}

func frames(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = string(it.Frame)
	}
	return out
}

func TestManager_DrainOrder(t *testing.T) {
	m := NewManager(0, Reject)

	push(t, m, Unobserve, 1, "unobs-1")
	push(t, m, Function, 10, "fn-10")
	push(t, m, Get, 2, "get-2")
	push(t, m, Observe, 3, "obs-3")
	push(t, m, Function, 11, "fn-11")
	push(t, m, Observe, 4, "obs-4")

	assert.Equal(t, 6, m.Total())

	got := frames(m.Drain())
	assert.Equal(t, []string{"obs-3", "obs-4", "get-2", "fn-10", "fn-11", "unobs-1"}, got)
	assert.Zero(t, m.Total())
	for _, k := range Kinds {
		assert.Zero(t, m.Len(k), "queue %s not empty", k)
	}
}

func TestManager_ReplaceSameKey(t *testing.T) {
	m := NewManager(0, Reject)
	push(t, m, Observe, 1, "old")
	push(t, m, Observe, 2, "other")
	push(t, m, Observe, 1, "new")

	assert.Equal(t, []string{"new", "other"}, frames(m.Drain()))
}

func TestManager_RemoveAndHas(t *testing.T) {
	m := NewManager(0, Reject)
	push(t, m, Observe, 1, "obs-1")

	assert.True(t, m.Has(Observe, 1))
	assert.False(t, m.Has(Get, 1))

	assert.True(t, m.Remove(Observe, 1))
	assert.False(t, m.Remove(Observe, 1))
	assert.False(t, m.Has(Observe, 1))
}

func TestManager_Reject(t *testing.T) {
	m := NewManager(2, Reject)
	push(t, m, Function, 1, "a")
	push(t, m, Function, 2, "b")

	dropped, err := m.Push(Item{Kind: Function, Key: 3, Frame: []byte("c")})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	assert.Nil(t, dropped)

	// Other queues have their own limit.
	push(t, m, Observe, 1, "obs")
	assert.Equal(t, []string{"obs", "a", "b"}, frames(m.Drain()))
}

func TestManager_DropOldest(t *testing.T) {
	m := NewManager(2, DropOldest)
	push(t, m, Function, 1, "a")
	push(t, m, Function, 2, "b")

	dropped, err := m.Push(Item{Kind: Function, Key: 3, Frame: []byte("c")})
	require.NoError(t, err)
	require.NotNil(t, dropped)
	assert.Equal(t, uint32(1), dropped.Key)
	assert.Equal(t, []string{"b", "c"}, frames(m.Drain()))
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", Reject, false},
		{"reject", Reject, false},
		{"drop-oldest", DropOldest, false},
		{"lifo", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustParse(t, got.String()))
		})
	}
}

func mustParse(t *testing.T, s string) Policy {
	t.Helper()
	p, err := ParsePolicy(s)
	require.NoError(t, err)
	return p
}
