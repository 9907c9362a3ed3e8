package connection

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Start on a closed Manager.
var ErrClosed = errors.New("connection manager closed")

// DialTimeout bounds a single dial.
const DialTimeout = 30 * time.Second

// State is the lifecycle state of a connection.
type State uint8

const (
	// StateDisconnected means no connection and no dial in progress.
	StateDisconnected State = iota

	// StateConnecting means a dial is in progress.
	StateConnecting

	// StateOpen means the connection is established.
	StateOpen

	// StateReconnecting means the last dial failed or the connection was
	// lost, and the manager is waiting out the backoff delay.
	StateReconnecting

	// StateClosed means the manager was shut down.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc dials a connection. It returns nil once the connection is
// usable.
type ConnectFunc func(ctx context.Context) error

// Hooks observe a Manager. They run on the manager's goroutine, so a hook
// must not call Close.
type Hooks struct {
	// OnStateChange is called after every transition.
	OnStateChange func(from, to State)

	// OnRedial is called before each backoff wait with the 1-based number
	// of the wait since the last open and its delay.
	OnRedial func(attempt int, delay time.Duration)
}

// Manager keeps one connection alive. After Start it dials, waits for Lost,
// and redials with backoff until Close.
type Manager struct {
	dial    ConnectFunc
	backoff *Backoff
	hooks   Hooks

	mu      sync.Mutex
	state   State
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	lost chan struct{}
}

// NewManager creates a manager. A nil backoff uses the default policy.
func NewManager(dial ConnectFunc, backoff *Backoff, hooks Hooks) *Manager {
	if backoff == nil {
		backoff = NewBackoff()
	}
	return &Manager{
		dial:    dial,
		backoff: backoff,
		hooks:   hooks,
		state:   StateDisconnected,
		lost:    make(chan struct{}, 1),
	}
}

// Start launches the dial loop. It returns immediately; the loop runs until
// ctx is done or Close is called. Starting twice is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.state == StateClosed:
		return ErrClosed
	case m.started:
		return nil
	}
	m.started = true

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.run(ctx)
	return nil
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the number of failed dials since the last open.
func (m *Manager) Attempts() int {
	return m.backoff.Attempts()
}

// Lost reports that the open connection failed. The loop redials after the
// backoff delay. Reports while not open are ignored.
func (m *Manager) Lost() {
	if m.State() != StateOpen {
		return
	}
	select {
	case m.lost <- struct{}{}:
	default:
	}
}

// Close stops the loop and waits for it to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	m.set(StateClosed)
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	redial := false
	for {
		if !m.dialUntilOpen(ctx, redial) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-m.lost:
			m.set(StateReconnecting)
		}
		redial = true
	}
}

// dialUntilOpen dials until one attempt succeeds, waiting out the backoff
// delay before every attempt but the very first. It reports false when ctx
// ends first.
func (m *Manager) dialUntilOpen(ctx context.Context, wait bool) bool {
	for {
		if wait {
			m.set(StateReconnecting)
			delay := m.backoff.Next()
			if m.hooks.OnRedial != nil {
				m.hooks.OnRedial(m.backoff.Attempts(), delay)
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return false
			case <-timer.C:
			}
		}
		wait = true

		m.set(StateConnecting)
		dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
		err := m.dial(dialCtx)
		cancel()
		if ctx.Err() != nil {
			return false
		}
		if err == nil {
			m.backoff.Reset()
			m.set(StateOpen)
			return true
		}
	}
}

func (m *Manager) set(to State) {
	m.mu.Lock()
	from := m.state
	if from == StateClosed || from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	m.mu.Unlock()

	if m.hooks.OnStateChange != nil {
		m.hooks.OnStateChange(from, to)
	}
}
