package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/based-protocol/based-go/pkg/cache"
	"github.com/based-protocol/based-go/pkg/checksum"
	"github.com/based-protocol/based-go/pkg/connection"
	"github.com/based-protocol/based-go/pkg/diff"
	"github.com/based-protocol/based-go/pkg/discovery"
	"github.com/based-protocol/based-go/pkg/log"
	"github.com/based-protocol/based-go/pkg/persistence"
	"github.com/based-protocol/based-go/pkg/queue"
	"github.com/based-protocol/based-go/pkg/registry"
	"github.com/based-protocol/based-go/pkg/transport"
	"github.com/based-protocol/based-go/pkg/wire"
)

// Client is one protocol session. It is safe for concurrent use.
//
// One mutex guards the registry, the cache, the queues and the lifecycle
// state. Callbacks are collected while it is held and run after it is
// released.
type Client struct {
	cfg      Config
	logger   *slog.Logger
	resolver discovery.Resolver

	mu     sync.Mutex
	state  connection.State
	conn   Transport
	closer io.Closer

	reg    *registry.Registry
	cache  *cache.Cache
	queues *queue.Manager
}

var _ transport.Handler = (*Client)(nil)

// New creates a disconnected client. If cfg.CacheStore is set, its snapshot
// is loaded; a snapshot that cannot be read is logged and ignored.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Checksum == nil {
		cfg.Checksum = checksum.Default
	}
	if cfg.Diff == nil {
		cfg.Diff = diff.MergePatch{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = discovery.NewHTTPResolver(nil, logger)
	}

	c := &Client{
		cfg:      cfg,
		logger:   logger,
		resolver: resolver,
		state:    connection.StateDisconnected,
		reg:      registry.New(),
		cache:    cache.New(),
		queues:   queue.NewManager(cfg.MaxQueueLength, cfg.QueuePolicy),
	}

	if cfg.CacheStore != nil {
		snap, err := cfg.CacheStore.Load()
		switch {
		case err != nil:
			logger.Warn("ignoring unreadable cache snapshot", "error", err)
		case snap != nil:
			entries := make([]cache.Entry, 0, len(snap.Entries))
			for _, e := range snap.Entries {
				entries = append(entries, cache.Entry{ObsID: e.ObsID, Value: e.Value, Checksum: e.Checksum})
			}
			c.cache.Restore(entries)
			logger.Debug("restored cache snapshot", "entries", len(entries), "saved_at", snap.SavedAt)
		}
	}
	return c, nil
}

// State returns the lifecycle state.
func (c *Client) State() connection.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetTransport attaches a custom transport. The caller drives the client
// through HandleOpen, HandleMessage and HandleClose. If t also implements
// io.Closer, Disconnect closes it.
func (c *Client) SetTransport(t Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = t
	c.closer, _ = t.(io.Closer)
	c.setState(connection.StateConnecting, "transport attached")
}

// Connect dials the WebSocket transport at opts.URL, or at the URL opts.Query
// resolves to. It returns once dialing has started; HandleOpen marks the
// client open. Connecting a connected client replaces its connection.
func (c *Client) Connect(ctx context.Context, opts ConnectOptions) error {
	url := opts.URL
	if url == "" {
		if opts.Query == nil {
			return ErrNoEndpoint
		}
		resolved, err := c.resolver.Resolve(ctx, *opts.Query)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", opts.Query, err)
		}
		url = resolved
	}

	// Calls sent on the replaced connection will never be answered.
	if c.detach() {
		c.connectionClosed(nil)
	}

	tcfg := c.cfg.Transport
	tcfg.URL = url
	tcfg.Logger = c.cfg.Logger
	tcfg.ProtocolLogger = c.cfg.ProtocolLogger
	tr := transport.New(tcfg, c)

	c.mu.Lock()
	c.conn, c.closer = tr, tr
	c.setState(connection.StateConnecting, url)
	c.mu.Unlock()

	c.logger.Info("connecting", "url", url)
	return tr.Start()
}

// Disconnect closes the connection and saves the cache if a CacheStore is
// configured. Registrations survive and are replayed by the next Connect.
func (c *Client) Disconnect() error {
	if c.detach() {
		c.connectionClosed(nil)
	}
	return c.SaveCache()
}

// detach drops the current transport and closes it outside the lock. It
// reports whether one was attached.
func (c *Client) detach() bool {
	c.mu.Lock()
	conn, closer := c.conn, c.closer
	c.conn, c.closer = nil, nil
	c.mu.Unlock()

	if closer != nil {
		if err := closer.Close(); err != nil {
			c.logger.Debug("closing transport", "error", err)
		}
	}
	return conn != nil
}

// SaveCache writes the cache to the configured CacheStore.
func (c *Client) SaveCache() error {
	if c.cfg.CacheStore == nil {
		return nil
	}

	c.mu.Lock()
	entries := c.cache.Snapshot()
	c.mu.Unlock()

	snap := &persistence.CacheSnapshot{Entries: make([]persistence.CacheEntry, 0, len(entries))}
	for _, e := range entries {
		snap.Entries = append(snap.Entries, persistence.CacheEntry{ObsID: e.ObsID, Checksum: e.Checksum, Value: e.Value})
	}
	if err := c.cfg.CacheStore.Save(snap); err != nil {
		return fmt.Errorf("save cache: %w", err)
	}
	return nil
}

// deferred collects callbacks while the lock is held.
type deferred []func()

func (d *deferred) add(f func()) { *d = append(*d, f) }

func (d deferred) run() {
	for _, f := range d {
		f()
	}
}

// send writes frame if the connection is open and queues it otherwise. A
// failed write falls back to the queue. Must hold c.mu.
func (c *Client) send(kind queue.Kind, key uint32, frame []byte, d *deferred) (bool, error) {
	if c.state == connection.StateOpen && c.conn != nil {
		err := c.conn.Send(frame)
		if err == nil {
			c.traceOut(frame)
			return true, nil
		}
		c.logger.Warn("send failed, queueing frame", "queue", kind, "key", key, "error", err)
	}
	return false, c.enqueue(queue.Item{Kind: kind, Key: key, Frame: frame}, d)
}

// enqueue pushes item and settles whatever a full queue evicted. Must hold c.mu.
func (c *Client) enqueue(item queue.Item, d *deferred) error {
	dropped, err := c.queues.Push(item)
	if err != nil {
		c.cfg.Metrics.Dropped(item.Kind.String())
		c.logger.Warn("queue full", "queue", item.Kind, "key", item.Key)
		return err
	}
	if dropped != nil {
		c.cfg.Metrics.Dropped(dropped.Kind.String())
		c.logger.Warn("queue full, dropped oldest frame", "queue", dropped.Kind, "key", dropped.Key)
		// Evicted observe and get frames are rebuilt from the registry on
		// open. A function request is lost, so its caller is told.
		if dropped.Kind == queue.Function {
			if call, ok := c.reg.TakeCall(dropped.Key); ok {
				cb, name := call.Callback, call.Name
				d.add(func() { cb(nil, fmt.Errorf("function %s: %w", name, ErrQueueFull)) })
				c.cfg.Metrics.SetPendingCalls(c.reg.PendingCalls())
			}
		}
	}
	c.cfg.Metrics.SetQueued(item.Kind.String(), c.queues.Len(item.Kind))
	return nil
}

// unqueue removes a buffered frame. Must hold c.mu.
func (c *Client) unqueue(kind queue.Kind, key uint32) bool {
	if !c.queues.Remove(kind, key) {
		return false
	}
	c.cfg.Metrics.SetQueued(kind.String(), c.queues.Len(kind))
	return true
}

// compress deflates payloads above the configured threshold when that
// actually makes them smaller.
func (c *Client) compress(payload []byte) ([]byte, bool) {
	if c.cfg.DeflateThreshold == 0 || len(payload) <= c.cfg.DeflateThreshold {
		return payload, false
	}
	z, err := wire.Deflate(payload)
	if err != nil || len(z) >= len(payload) {
		return payload, false
	}
	return z, true
}

// setState records a lifecycle transition. Must hold c.mu.
func (c *Client) setState(to connection.State, reason string) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.cfg.Metrics.SetConnected(to == connection.StateOpen)
	c.logger.Info("connection state", "from", from, "to", to, "reason", reason)
	c.emitState(log.StateEntityConnection, from.String(), to.String(), reason, 0)
}

func (c *Client) emitState(entity log.StateEntity, from, to, reason string, obsID uint32) {
	if c.cfg.ProtocolLogger == nil {
		return
	}
	log.Emit(c.cfg.ProtocolLogger, log.Event{
		ConnectionID: c.connectionID(),
		Layer:        log.LayerEngine,
		Category:     log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   entity,
			OldState: from,
			NewState: to,
			Reason:   reason,
			ObsID:    obsID,
		},
	})
}

func (c *Client) emitError(layer log.Layer, op string, err error, code *int) {
	if c.cfg.ProtocolLogger == nil {
		return
	}
	log.Emit(c.cfg.ProtocolLogger, log.Event{
		ConnectionID: c.connectionID(),
		Layer:        layer,
		Category:     log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Code:    code,
			Context: op,
		},
	})
}

func (c *Client) connectionID() string {
	if t, ok := c.conn.(interface{ ConnectionID() string }); ok {
		return t.ConnectionID()
	}
	return ""
}

// traceOut records a frame that was written. Must hold c.mu.
func (c *Client) traceOut(frame []byte) {
	c.trace(log.DirectionOut, frame)
}

func (c *Client) trace(dir log.Direction, frame []byte) {
	f, err := wire.Decode(frame)
	if err != nil {
		return
	}

	msg := &log.MessageEvent{Type: f.Type, ID: f.ID, Deflate: f.Deflate, BodySize: len(f.Body)}
	if dir == log.DirectionOut {
		switch f.Type {
		case wire.TypeFunction:
			if r, err := wire.DecodeFunctionRequest(f); err == nil {
				msg.Name = r.Name
			}
		case wire.TypeSubscriptionFull, wire.TypeGet:
			if r, err := wire.DecodeObserveRequest(f); err == nil {
				msg.Name = r.Name
				msg.Checksum = &r.Checksum
			}
		case wire.TypeUnsubscribe:
			msg.Unsubscribe = true
		}
		c.cfg.Metrics.FrameSent(msg.TypeName(), len(frame))
	} else {
		switch f.Type {
		case wire.TypeSubscriptionFull, wire.TypeSubscriptionDiff, wire.TypeGet:
			if d, err := wire.DecodeData(f); err == nil {
				msg.Checksum = &d.Checksum
			}
		}
		c.cfg.Metrics.FrameReceived(msg.TypeName(), len(frame))
	}

	c.logger.Debug("frame", "dir", dir, "type", msg.TypeName(), "id", msg.ID, "size", len(frame))
	if c.cfg.ProtocolLogger != nil {
		log.Emit(c.cfg.ProtocolLogger, log.Event{
			ConnectionID: c.connectionID(),
			Direction:    dir,
			Layer:        log.LayerWire,
			Category:     log.CategoryMessage,
			Message:      msg,
		})
	}
}
