package client

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/based-protocol/based-go/pkg/checksum"
	"github.com/based-protocol/based-go/pkg/connection"
	"github.com/based-protocol/based-go/pkg/diff"
	"github.com/based-protocol/based-go/pkg/discovery"
	"github.com/based-protocol/based-go/pkg/log"
	"github.com/based-protocol/based-go/pkg/metrics"
	"github.com/based-protocol/based-go/pkg/persistence"
	"github.com/based-protocol/based-go/pkg/queue"
	"github.com/based-protocol/based-go/pkg/registry"
	"github.com/based-protocol/based-go/pkg/transport"
)

// Defaults used by DefaultConfig.
const (
	DefaultMaxQueueLength   = 1000
	DefaultDeflateThreshold = 1024
)

// Callback and id types shared with the registry.
type (
	SubID        = registry.SubID
	ObserveFunc  = registry.ObserveFunc
	GetFunc      = registry.GetFunc
	FunctionFunc = registry.FunctionFunc
	AuthFunc     = registry.AuthFunc
)

// Lifecycle states reported by State.
const (
	StateDisconnected = connection.StateDisconnected
	StateConnecting   = connection.StateConnecting
	StateOpen         = connection.StateOpen
)

// Transport carries encoded frames to the server.
type Transport interface {
	Send(frame []byte) error
}

// Config configures a Client.
type Config struct {
	// Checksum computes value checksums for diff verification.
	// Default: checksum.Default.
	Checksum checksum.Func

	// Diff applies SUBSCRIPTION_DIFF payloads. Default: diff.MergePatch.
	Diff diff.Applier

	// MaxQueueLength bounds each outbound queue. 0 means unbounded.
	MaxQueueLength int

	// QueuePolicy decides what a full queue does with a new frame.
	QueuePolicy queue.Policy

	// RequestTimeout fails function calls, gets and auth requests that get
	// no answer in time. 0 disables timeouts.
	RequestTimeout time.Duration

	// DeflateThreshold is the payload size above which outbound payloads
	// are compressed. 0 disables compression.
	DeflateThreshold int

	// CacheStore persists the cache across restarts. The snapshot is
	// loaded by New and saved by Disconnect.
	CacheStore persistence.CacheStore

	// Resolver turns a discovery query into a URL for Connect.
	// Default: discovery.HTTPResolver.
	Resolver discovery.Resolver

	// Transport is the template for the WebSocket transport Connect
	// creates. URL and loggers are filled in by Connect.
	Transport transport.Config

	// Logger receives operational logs. Nil disables them.
	Logger *slog.Logger

	// ProtocolLogger receives wire and engine capture events.
	ProtocolLogger log.Logger

	// Metrics records engine counters. Nil disables them.
	Metrics *metrics.Metrics
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		Checksum:         checksum.Default,
		Diff:             diff.MergePatch{},
		MaxQueueLength:   DefaultMaxQueueLength,
		QueuePolicy:      queue.Reject,
		DeflateThreshold: DefaultDeflateThreshold,
		Transport: transport.Config{
			KeepAlive: transport.DefaultKeepAliveConfig(),
		},
	}
}

// Validate checks the config.
func (c *Config) Validate() error {
	switch {
	case c.MaxQueueLength < 0:
		return fmt.Errorf("%w: negative max queue length", ErrInvalidConfig)
	case c.QueuePolicy != queue.Reject && c.QueuePolicy != queue.DropOldest:
		return fmt.Errorf("%w: queue policy %s", ErrInvalidConfig, c.QueuePolicy)
	case c.RequestTimeout < 0:
		return fmt.Errorf("%w: negative request timeout", ErrInvalidConfig)
	case c.DeflateThreshold < 0:
		return fmt.Errorf("%w: negative deflate threshold", ErrInvalidConfig)
	}
	return nil
}

// ConnectOptions selects the server Connect dials.
type ConnectOptions struct {
	// URL is dialed directly when set.
	URL string

	// Query is resolved through Config.Resolver when URL is empty.
	Query *discovery.Query
}
