package client

import (
	"bytes"
	"fmt"

	"github.com/based-protocol/based-go/pkg/log"
	"github.com/based-protocol/based-go/pkg/queue"
	"github.com/based-protocol/based-go/pkg/registry"
	"github.com/based-protocol/based-go/pkg/wire"
)

// HandleMessage is called by the transport for every inbound frame.
// Undecodable frames and frames for unknown ids are dropped.
func (c *Client) HandleMessage(data []byte) {
	var d deferred
	c.mu.Lock()
	defer func() {
		c.mu.Unlock()
		d.run()
	}()

	f, err := wire.Decode(data)
	if err != nil {
		c.protocolError("decode frame", err)
		return
	}
	c.trace(log.DirectionIn, data)

	switch f.Type {
	case wire.TypeFunction:
		c.handleFunction(f, &d)
	case wire.TypeSubscriptionFull, wire.TypeSubscriptionDiff:
		c.handleData(f, &d)
	case wire.TypeGet:
		c.handleGet(f, &d)
	case wire.TypeAuth:
		c.handleAuth(f, &d)
	case wire.TypeError:
		c.handleError(f, &d)
	}
}

func (c *Client) handleFunction(f *wire.Frame, d *deferred) {
	call, ok := c.reg.TakeCall(f.ID)
	if !ok {
		c.logger.Debug("discarding result for unknown call", "id", f.ID)
		return
	}
	c.cfg.Metrics.SetPendingCalls(c.reg.PendingCalls())

	result, err := c.body(f.Body, f.Deflate)
	if err != nil {
		c.protocolError("inflate function result", err)
		d.add(func() { call.Callback(nil, fmt.Errorf("function %s: %w", call.Name, err)) })
		return
	}
	d.add(func() { call.Callback(result, nil) })
}

// handleData reconciles SUBSCRIPTION_FULL and SUBSCRIPTION_DIFF frames.
func (c *Client) handleData(f *wire.Frame, d *deferred) {
	o := c.reg.Observable(f.ID)
	if o == nil {
		c.logger.Debug("discarding data for unknown observable", "obs_id", f.ID)
		return
	}
	msg, err := wire.DecodeData(f)
	if err != nil {
		c.protocolError("decode data", err)
		return
	}
	value, err := c.body(msg.Value, f.Deflate)
	if err != nil {
		c.protocolError("inflate data", err)
		c.resync(o, "inflate failed", d)
		return
	}

	if f.Type == wire.TypeSubscriptionFull {
		c.deliver(o, value, msg.Checksum, d)
		return
	}

	prev, ok := c.cache.Get(o.ObsID)
	if !ok {
		c.resync(o, "diff without cached value", d)
		return
	}
	next, err := c.cfg.Diff.Apply(prev.Value, value)
	if err != nil {
		c.logger.Warn("diff failed", "obs_id", o.ObsID, "error", err)
		c.resync(o, "diff failed", d)
		return
	}
	if sum := c.cfg.Checksum(next); sum != msg.Checksum {
		c.logger.Warn("checksum mismatch after diff", "obs_id", o.ObsID, "want", msg.Checksum, "got", sum)
		c.resync(o, "checksum mismatch", d)
		return
	}
	c.deliver(o, next, msg.Checksum, d)
}

// handleGet resolves getters. An empty body means the checksum the client
// sent is current.
func (c *Client) handleGet(f *wire.Frame, d *deferred) {
	o := c.reg.Observable(f.ID)
	if o == nil {
		c.logger.Debug("discarding get for unknown observable", "obs_id", f.ID)
		return
	}

	if len(f.Body) == 0 {
		e, ok := c.cache.Get(o.ObsID)
		if !ok {
			// The server thinks we hold a value we do not have.
			c.requestFull(o, wire.TypeGet, queue.Get, d)
			return
		}
		c.resolveGetters(o, e.Value, d)
		return
	}

	msg, err := wire.DecodeData(f)
	if err != nil {
		c.protocolError("decode get", err)
		return
	}
	value, err := c.body(msg.Value, f.Deflate)
	if err != nil {
		c.protocolError("inflate get", err)
		return
	}
	c.cache.Set(o.ObsID, value, msg.Checksum)
	c.resolveGetters(o, value, d)
}

func (c *Client) handleAuth(f *wire.Frame, d *deferred) {
	a, ok := c.reg.TakeAuth(f.ID)
	if !ok {
		c.logger.Debug("discarding unsolicited auth", "id", f.ID)
		return
	}
	c.emitState(log.StateEntityAuth, "PENDING", "DONE", "auth", 0)
	state := string(f.Body)
	d.add(func() { a.Callback(state, nil) })
}

// handleError routes an ERROR frame to a pending call, the pending auth
// request or an observable, in that order.
func (c *Client) handleError(f *wire.Frame, d *deferred) {
	serr := parseServerError(f.Body)
	code := serr.Code
	c.emitError(log.LayerEngine, "server error", serr, &code)
	c.logger.Info("server error", "id", f.ID, "code", serr.Code, "message", serr.Message)

	if call, ok := c.reg.TakeCall(f.ID); ok {
		c.cfg.Metrics.SetPendingCalls(c.reg.PendingCalls())
		d.add(func() { call.Callback(nil, serr) })
		return
	}

	if a := c.reg.Auth(); a != nil && a.ID == f.ID {
		c.reg.TakeAuth(f.ID)
		c.emitState(log.StateEntityAuth, "PENDING", "FAILED", serr.Message, 0)
		d.add(func() { a.Callback("", serr) })
		return
	}

	o := c.reg.Observable(f.ID)
	if o == nil {
		c.logger.Debug("discarding error for unknown id", "id", f.ID)
		return
	}
	for _, cb := range c.reg.ObserverFuncs(o.ObsID) {
		d.add(func() { cb(nil, 0, serr) })
	}
	getters, deleted := c.reg.TakeGetters(o.ObsID)
	for _, cb := range getters {
		d.add(func() { cb(nil, serr) })
	}
	if deleted {
		c.unqueue(queue.Get, o.ObsID)
		c.removed(o.ObsID, "error")
	}
}

// deliver stores a reconciled value and hands it to every observer and
// getter. Must hold c.mu.
func (c *Client) deliver(o *registry.Observable, value []byte, sum uint64, d *deferred) {
	c.cache.Set(o.ObsID, value, sum)
	for _, cb := range c.reg.ObserverFuncs(o.ObsID) {
		d.add(func() { cb(value, sum, nil) })
	}
	c.resolveGetters(o, value, d)
}

// resolveGetters answers and removes every getter of o. Must hold c.mu.
func (c *Client) resolveGetters(o *registry.Observable, value []byte, d *deferred) {
	getters, deleted := c.reg.TakeGetters(o.ObsID)
	for _, cb := range getters {
		d.add(func() { cb(value, nil) })
	}
	if deleted {
		c.unqueue(queue.Get, o.ObsID)
		c.removed(o.ObsID, "getters resolved")
	}
}

// resync asks for the full value after a diff could not be reconciled. The
// cached value stays and nobody is notified. Must hold c.mu.
func (c *Client) resync(o *registry.Observable, reason string, d *deferred) {
	c.cfg.Metrics.Resync()
	c.emitState(log.StateEntityObservable, "", "RESYNC", reason, o.ObsID)
	if o.Subscribed {
		c.requestFull(o, wire.TypeSubscriptionFull, queue.Observe, d)
		return
	}
	if o.Getters() > 0 {
		c.requestFull(o, wire.TypeGet, queue.Get, d)
	}
}

// requestFull sends a request with checksum 0, which the server always
// answers with the full value. Must hold c.mu.
func (c *Client) requestFull(o *registry.Observable, t wire.FrameType, kind queue.Kind, d *deferred) {
	frame, err := c.observeFrame(t, o, 0)
	if err != nil {
		c.logger.Warn("encode full request", "obs_id", o.ObsID, "error", err)
		return
	}
	if t == wire.TypeGet {
		o.GetInFlight = true
	}
	_, _ = c.send(kind, o.ObsID, frame, d)
}

// body returns an owned copy of an inbound payload, inflating it if needed.
func (c *Client) body(b []byte, deflated bool) ([]byte, error) {
	if deflated {
		return wire.Inflate(b)
	}
	return bytes.Clone(b), nil
}

func (c *Client) protocolError(op string, err error) {
	c.cfg.Metrics.ProtocolError()
	c.logger.Warn("protocol error", "op", op, "error", err)
	c.emitError(log.LayerWire, op, err, nil)
}
