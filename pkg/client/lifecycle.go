package client

import (
	"fmt"

	"github.com/based-protocol/based-go/pkg/connection"
	"github.com/based-protocol/based-go/pkg/queue"
	"github.com/based-protocol/based-go/pkg/wire"
)

// HandleOpen is called by the transport once the connection is ready.
//
// Every active observable is requested again, in registration order, with
// the checksum of its cached value. The auth state follows, then the queues
// drain in the order observe, get, function, unobserve.
func (c *Client) HandleOpen() {
	var d deferred
	c.mu.Lock()
	defer func() {
		c.mu.Unlock()
		d.run()
	}()

	if c.conn == nil {
		return
	}
	c.setState(connection.StateOpen, "transport open")

	if !c.replay(&d) {
		return
	}

	// With no auth request in flight the state is re-sent on a fresh id that
	// nothing waits on. The server's answer is discarded as unsolicited and
	// the callback that received the original answer does not run again.
	if state, ok := c.reg.AuthState(); ok {
		id := c.reg.NextRequestID()
		if a := c.reg.Auth(); a != nil {
			id = a.ID
		}
		c.sendAuth(id, state)
	}

	c.drain()
}

// replay re-sends one request per observable. Queued observe and get frames
// are superseded by the fresh ones. It reports false if the connection
// failed underneath it. Must hold c.mu.
func (c *Client) replay(d *deferred) bool {
	for _, o := range c.reg.Observables() {
		var t wire.FrameType
		var kind queue.Kind
		switch {
		case o.Subscribed:
			t, kind = wire.TypeSubscriptionFull, queue.Observe
		case o.Getters() > 0:
			t, kind = wire.TypeGet, queue.Get
		default:
			continue
		}
		c.unqueue(kind, o.ObsID)

		frame, err := c.observeFrame(t, o, c.cache.Checksum(o.ObsID))
		if err != nil {
			c.logger.Warn("replay", "obs_id", o.ObsID, "error", err)
			continue
		}
		if err := c.conn.Send(frame); err != nil {
			c.logger.Warn("replay failed", "obs_id", o.ObsID, "error", err)
			_ = c.enqueue(queue.Item{Kind: kind, Key: o.ObsID, Frame: frame}, d)
			return false
		}
		if t == wire.TypeGet {
			o.GetInFlight = true
		}
		c.traceOut(frame)
	}
	return true
}

// drain writes every queued frame. On a write failure the unsent frames go
// back to their queues. Must hold c.mu.
func (c *Client) drain() {
	items := c.queues.Drain()
	for i, it := range items {
		if err := c.conn.Send(it.Frame); err != nil {
			c.logger.Warn("drain failed, requeueing", "remaining", len(items)-i, "error", err)
			for _, rest := range items[i:] {
				_, _ = c.queues.Push(rest)
			}
			break
		}
		c.traceOut(it.Frame)
		if it.Kind == queue.Function {
			if call := c.reg.Call(it.Key); call != nil {
				call.Sent = true
			}
		}
	}
	for _, k := range queue.Kinds {
		c.cfg.Metrics.SetQueued(k.String(), c.queues.Len(k))
	}
}

// HandleClose is called by the transport when the connection is lost.
// Function calls already sent fail with ErrConnectionLost; everything else
// is kept for replay.
func (c *Client) HandleClose(err error) {
	c.connectionClosed(err)
}

func (c *Client) connectionClosed(err error) {
	var d deferred
	c.mu.Lock()

	reason := "closed"
	if err != nil {
		reason = err.Error()
	}
	c.setState(connection.StateDisconnected, reason)

	for _, call := range c.reg.TakeSentCalls() {
		cb, name := call.Callback, call.Name
		d.add(func() { cb(nil, fmt.Errorf("function %s: %w", name, ErrConnectionLost)) })
	}
	for _, o := range c.reg.Observables() {
		o.GetInFlight = false
	}
	c.cfg.Metrics.SetPendingCalls(c.reg.PendingCalls())
	c.mu.Unlock()

	d.run()
}
