package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCache_SetGetDelete(t *testing.T) {
	c := New()

	if _, ok := c.Get(1); ok {
		t.Fatal("expected empty cache")
	}
	assert.Zero(t, c.Checksum(1))

	c.Set(1, []byte("5"), 100)
	e, ok := c.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "5", string(e.Value))
	assert.Equal(t, uint64(100), e.Checksum)
	assert.Equal(t, uint64(100), c.Checksum(1))

	c.Set(1, []byte("6"), 101)
	e, _ = c.Get(1)
	assert.Equal(t, "6", string(e.Value))
	assert.Equal(t, 1, c.Len())

	c.Delete(1)
	assert.Equal(t, 0, c.Len())
}

func TestCache_RestoreAndAdopt(t *testing.T) {
	c := New()
	c.Restore([]Entry{
		{ObsID: 1, Value: []byte("a"), Checksum: 10},
		{ObsID: 2, Value: []byte("b"), Checksum: 20},
		{ObsID: 3, Value: []byte("c"), Checksum: 0},
	})

	// Hints stay hidden until adopted.
	_, ok := c.Get(1)
	assert.False(t, ok)

	assert.True(t, c.Adopt(1))
	e, ok := c.Get(1)
	assert.True(t, ok)
	assert.Equal(t, uint64(10), e.Checksum)

	// Adopting twice finds nothing.
	assert.False(t, c.Adopt(1))

	// Zero checksums are not restored.
	assert.False(t, c.Adopt(3))

	// A live entry wins over a hint.
	c.Set(2, []byte("live"), 99)
	assert.False(t, c.Adopt(2))
	e, _ = c.Get(2)
	assert.Equal(t, "live", string(e.Value))
}

func TestCache_Snapshot(t *testing.T) {
	c := New()
	c.Set(3, []byte("c"), 3)
	c.Set(1, []byte("a"), 1)
	c.Set(2, []byte("b"), 2)

	snap := c.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len = %d, want 3", len(snap))
	}
	for i, e := range snap {
		assert.Equal(t, uint32(i+1), e.ObsID)
	}
}
