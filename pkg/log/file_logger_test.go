package log

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capturePath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "capture.blog")
}

// connIDs reads back the connection id of every event in path.
func connIDs(t *testing.T, path string) []string {
	t.Helper()
	var ids []string
	for _, e := range readAll(t, path, Filter{}) {
		ids = append(ids, e.ConnectionID)
	}
	return ids
}

func TestFileLoggerRoundTrip(t *testing.T) {
	path := capturePath(t)
	l, err := NewFileLogger(path)
	require.NoError(t, err)

	sum := uint64(99)
	l.Log(Event{
		Timestamp:    time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
		ConnectionID: "conn-1",
		Direction:    DirectionOut,
		Layer:        LayerWire,
		Message:      &MessageEvent{ID: 3, Name: "counter", Checksum: &sum, BodySize: 12},
	})
	require.NoError(t, l.Close())

	events := readAll(t, path, Filter{})
	require.Len(t, events, 1)
	m := events[0].Message
	require.NotNil(t, m)
	assert.Equal(t, "counter", m.Name)
	assert.Equal(t, uint64(99), *m.Checksum)
	assert.Equal(t, DirectionOut, events[0].Direction)
}

func TestFileLoggerAppendsAcrossOpens(t *testing.T) {
	path := capturePath(t)
	for _, id := range []string{"first", "second"} {
		l, err := NewFileLogger(path)
		require.NoError(t, err)
		l.Log(Event{ConnectionID: id})
		require.NoError(t, l.Close())
	}
	assert.Equal(t, []string{"first", "second"}, connIDs(t, path))
}

func TestFileLoggerConcurrentWriters(t *testing.T) {
	path := capturePath(t)
	l, err := NewFileLogger(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 25 {
				l.Log(Event{ConnectionID: "c"})
			}
		})
	}
	wg.Wait()
	require.NoError(t, l.Close())

	assert.Len(t, connIDs(t, path), 200)
}

func TestFileLoggerClose(t *testing.T) {
	path := capturePath(t)
	l, err := NewFileLogger(path)
	require.NoError(t, err)

	require.NoError(t, l.Close())
	assert.NoError(t, l.Close())

	l.Log(Event{ConnectionID: "late"})
	assert.Empty(t, connIDs(t, path))
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }
func (brokenWriter) Close() error              { return nil }

func TestFileLoggerCountsDropped(t *testing.T) {
	l := NewWriterLogger(brokenWriter{})
	l.Log(Event{})
	l.Log(Event{})
	assert.Equal(t, 2, l.Dropped())
}

func TestFileLoggerBadPath(t *testing.T) {
	_, err := NewFileLogger(filepath.Join(t.TempDir(), "missing", "capture.blog"))
	assert.Error(t, err)
}
