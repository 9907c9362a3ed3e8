package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Keep-alive defaults. With these a silent hub is detected within
// DefaultKeepAliveConfig().DetectionDelay().
const (
	DefaultPingInterval   = 30 * time.Second
	DefaultPongTimeout    = 10 * time.Second
	DefaultMaxMissedPongs = 2

	pingPayloadSize = 4 // big-endian sequence number
)

// errBadPong indicates a pong whose payload is not a ping sequence number.
var errBadPong = errors.New("pong payload is not a sequence number")

// KeepAliveConfig tunes WebSocket ping/pong liveness checks. Zero durations
// and counts take the defaults.
type KeepAliveConfig struct {
	// Disabled turns keep-alive off, for hubs that ping on their own.
	Disabled bool `yaml:"disabled"`

	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	MaxMissedPongs int           `yaml:"max_missed_pongs"`
}

// DefaultKeepAliveConfig returns the defaults.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:   DefaultPingInterval,
		PongTimeout:    DefaultPongTimeout,
		MaxMissedPongs: DefaultMaxMissedPongs,
	}
}

// DetectionDelay is the longest time a dead connection goes unnoticed.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	return c.PingInterval*time.Duration(c.MaxMissedPongs) + c.PongTimeout
}

func (c KeepAliveConfig) withDefaults() KeepAliveConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = DefaultPongTimeout
	}
	if c.MaxMissedPongs <= 0 {
		c.MaxMissedPongs = DefaultMaxMissedPongs
	}
	return c
}

// pingPayload encodes seq as the application data of a ping.
func pingPayload(seq uint32) []byte {
	return binary.BigEndian.AppendUint32(make([]byte, 0, pingPayloadSize), seq)
}

// parsePong decodes the sequence number echoed in a pong.
func parsePong(appData string) (uint32, error) {
	if len(appData) != pingPayloadSize {
		return 0, errBadPong
	}
	return binary.BigEndian.Uint32([]byte(appData)), nil
}

// KeepAlive pings a connection on a fixed interval and declares it dead
// after MaxMissedPongs pings in a row go unanswered within PongTimeout.
// Each ping carries a sequence number; only the pong echoing the newest
// ping counts as an answer.
type KeepAlive struct {
	cfg       KeepAliveConfig
	sendPing  func(seq uint32) error
	onTimeout func()
	onPong    atomic.Pointer[func(seq uint32, rtt time.Duration)]

	pongs   chan uint32
	missed  atomic.Int32
	running atomic.Bool

	mu   sync.Mutex
	stop chan struct{}
}

// NewKeepAlive creates a monitor. sendPing writes one ping; onTimeout is
// called once, from the monitor goroutine, when the connection is declared
// dead.
func NewKeepAlive(cfg KeepAliveConfig, sendPing func(seq uint32) error, onTimeout func()) *KeepAlive {
	return &KeepAlive{
		cfg:       cfg.withDefaults(),
		sendPing:  sendPing,
		onTimeout: onTimeout,
		pongs:     make(chan uint32, 1),
	}
}

// OnPong registers a callback for answered pings. It runs on the monitor
// goroutine and must not block.
func (ka *KeepAlive) OnPong(fn func(seq uint32, rtt time.Duration)) {
	ka.onPong.Store(&fn)
}

// Start launches the monitor. Starting a running monitor is a no-op.
func (ka *KeepAlive) Start(ctx context.Context) {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	if !ka.running.CompareAndSwap(false, true) {
		return
	}
	ka.stop = make(chan struct{})
	go ka.run(ctx, ka.stop)
}

// Stop halts the monitor without calling onTimeout.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	if ka.running.CompareAndSwap(true, false) {
		close(ka.stop)
	}
}

// PongReceived hands a pong's sequence number to the monitor.
func (ka *KeepAlive) PongReceived(seq uint32) {
	select {
	case ka.pongs <- seq:
	default:
	}
}

// IsRunning reports whether the monitor is active.
func (ka *KeepAlive) IsRunning() bool {
	return ka.running.Load()
}

// Missed returns the number of consecutive unanswered pings.
func (ka *KeepAlive) Missed() int {
	return int(ka.missed.Load())
}

func (ka *KeepAlive) run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(ka.cfg.PingInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(ka.cfg.PongTimeout)
	deadline.Stop()
	defer deadline.Stop()

	var (
		seq      uint32
		sentAt   time.Time
		awaiting bool
	)
	ping := func() {
		seq++
		sentAt = time.Now()
		awaiting = true
		deadline.Reset(ka.cfg.PongTimeout)
		// A failed write shows up as a missed pong.
		_ = ka.sendPing(seq)
	}
	// miss counts the outstanding ping as lost and reports whether the
	// connection is dead.
	miss := func() bool {
		awaiting = false
		if int(ka.missed.Add(1)) < ka.cfg.MaxMissedPongs {
			return false
		}
		ka.running.Store(false)
		if ka.onTimeout != nil {
			ka.onTimeout()
		}
		return true
	}

	ping()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-deadline.C:
			if awaiting && miss() {
				return
			}
		case <-ticker.C:
			if awaiting && miss() {
				return
			}
			ping()
		case got := <-ka.pongs:
			if !awaiting || got != seq {
				continue
			}
			awaiting = false
			deadline.Stop()
			ka.missed.Store(0)
			if fn := ka.onPong.Load(); fn != nil {
				(*fn)(got, time.Since(sentAt))
			}
		}
	}
}
