package log

import "time"

// Logger receives capture events from the transport and the engine.
// Log is called from the connection's goroutines, often with the engine
// lock held, so implementations must be safe for concurrent use and must
// not block.
type Logger interface {
	Log(event Event)
}

// NoopLogger drops every event.
type NoopLogger struct{}

func (NoopLogger) Log(Event) {}

// LoggerFunc adapts a function to the Logger interface.
type LoggerFunc func(Event)

// Log calls f(event).
func (f LoggerFunc) Log(event Event) { f(event) }

// Emit stamps event with the current time if unset and passes it to l.
// A nil l discards the event.
func Emit(l Logger, event Event) {
	if l == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	l.Log(event)
}

var (
	_ Logger = NoopLogger{}
	_ Logger = LoggerFunc(nil)
)
