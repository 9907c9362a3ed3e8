package log

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/based-protocol/based-go/pkg/wire"
)

// recorder collects logged events.
type recorder []Event

func (r *recorder) Log(e Event) { *r = append(*r, e) }

func TestNoopLogger(t *testing.T) {
	var l Logger = NoopLogger{}
	assert.NotPanics(t, func() {
		l.Log(Event{Frame: NewFrameEvent([]byte{1, 2, 3})})
		l.Log(Event{Message: &MessageEvent{Type: wire.TypeFunction, ID: 1}})
		l.Log(Event{Error: &ErrorEventData{Message: "boom"}})
	})
}

func TestEmitStampsMissingTimestamp(t *testing.T) {
	assert.NotPanics(t, func() { Emit(nil, Event{}) })

	var got recorder
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	Emit(&got, Event{ConnectionID: "a"})
	Emit(&got, Event{ConnectionID: "b", Timestamp: fixed})

	require.Len(t, got, 2)
	assert.False(t, got[0].Timestamp.IsZero())
	assert.True(t, got[1].Timestamp.Equal(fixed))
}

func TestLoggerFunc(t *testing.T) {
	var ids []string
	Emit(LoggerFunc(func(e Event) { ids = append(ids, e.ConnectionID) }), Event{ConnectionID: "x"})
	assert.Equal(t, []string{"x"}, ids)
}

func TestMultiLogger(t *testing.T) {
	var a, b recorder
	m := NewMultiLogger(&a, nil, &b)
	m.Log(Event{ConnectionID: "conn-1", Layer: LayerWire})

	for _, r := range []recorder{a, b} {
		require.Len(t, r, 1)
		assert.Equal(t, "conn-1", r[0].ConnectionID)
	}
	assert.NotPanics(t, func() { NewMultiLogger().Log(Event{}) })
}
