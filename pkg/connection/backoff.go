package connection

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Redial policy defaults.
const (
	InitialBackoff    = 500 * time.Millisecond
	MaxBackoff        = 30 * time.Second
	BackoffMultiplier = 2.0

	// JitterFactor is the largest random extension of a delay, as a
	// fraction of the delay.
	JitterFactor = 0.25
)

// BackoffConfig describes an exponential redial policy. Zero fields take
// the package defaults; a negative Jitter disables jitter.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"`
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = InitialBackoff
	}
	if c.Max <= 0 {
		c.Max = MaxBackoff
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Multiplier <= 1 {
		c.Multiplier = BackoffMultiplier
	}
	switch {
	case c.Jitter < 0:
		c.Jitter = 0
	case c.Jitter == 0:
		c.Jitter = JitterFactor
	}
	return c
}

// Delay returns the base delay before redial number attempt (0-based),
// without jitter.
func (c BackoffConfig) Delay(attempt int) time.Duration {
	c = c.withDefaults()
	d := float64(c.Initial)
	for range attempt {
		d *= c.Multiplier
		if d >= float64(c.Max) {
			return c.Max
		}
	}
	return time.Duration(d)
}

// Backoff counts failed redials and hands out the delay before the next one.
// It is safe for concurrent use.
type Backoff struct {
	cfg BackoffConfig

	mu       sync.Mutex
	attempts int
}

// NewBackoff returns a Backoff with the default policy.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(BackoffConfig{})
}

// NewBackoffWithConfig returns a Backoff following cfg.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	return &Backoff{cfg: cfg.withDefaults()}
}

// Next returns the jittered delay for the current attempt and counts it.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	base := b.cfg.Delay(b.attempts)
	b.attempts++
	b.mu.Unlock()

	if b.cfg.Jitter == 0 {
		return base
	}
	return base + time.Duration(float64(base)*b.cfg.Jitter*rand.Float64())
}

// Current returns the base delay Next would use, without counting it.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.Delay(b.attempts)
}

// Attempts returns the number of delays handed out since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Reset starts over from the initial delay. Call it after a successful dial.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempts = 0
	b.mu.Unlock()
}
