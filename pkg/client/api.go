package client

import (
	"context"
	"fmt"
	"time"

	"github.com/based-protocol/based-go/pkg/log"
	"github.com/based-protocol/based-go/pkg/obsid"
	"github.com/based-protocol/based-go/pkg/queue"
	"github.com/based-protocol/based-go/pkg/registry"
	"github.com/based-protocol/based-go/pkg/wire"
)

// Observe subscribes cb to the observable (name, payload). payload is JSON
// text or empty. Identical (name, payload) pairs share one server-side
// subscription. If a value is already cached, cb receives it before
// Observe returns; afterwards cb runs for every update until Unobserve.
func (c *Client) Observe(name, payload string, cb ObserveFunc) (SubID, error) {
	canonical, obsID, err := target(name, payload)
	if err != nil {
		return 0, err
	}
	if cb == nil {
		cb = func([]byte, uint64, error) {}
	}

	var d deferred
	c.mu.Lock()
	if err := c.reg.Check(obsID, name, canonical); err != nil {
		c.mu.Unlock()
		return 0, err
	}
	id, o, created := c.reg.AddObserver(obsID, name, canonical, cb)
	if created {
		c.created(obsID, "observe")
	}

	// A pending teardown is moot once someone observes again.
	c.unqueue(queue.Unobserve, obsID)

	if !o.Subscribed {
		frame, err := c.observeFrame(wire.TypeSubscriptionFull, o, c.cache.Checksum(obsID))
		if err != nil {
			_, deleted, _ := c.reg.RemoveObserver(id)
			if deleted {
				c.removed(obsID, "encode failed")
			}
			c.mu.Unlock()
			return 0, err
		}
		o.Subscribed = true
		// A rejected frame is rebuilt from the registry on open.
		_, _ = c.send(queue.Observe, obsID, frame, &d)
	}

	if e, ok := c.cache.Get(obsID); ok {
		d.add(func() { cb(e.Value, e.Checksum, nil) })
	}
	c.mu.Unlock()

	d.run()
	return id, nil
}

// Get fetches the value of (name, payload) once. cb runs exactly once, with
// the value or an error. A value cached by an active Observe is returned
// without a round trip.
func (c *Client) Get(name, payload string, cb GetFunc) error {
	_, err := c.get(name, payload, cb)
	return err
}

// get returns the getter's sub-id, or 0 if cb was resolved from cache.
func (c *Client) get(name, payload string, cb GetFunc) (SubID, error) {
	canonical, obsID, err := target(name, payload)
	if err != nil {
		return 0, err
	}
	if cb == nil {
		cb = func([]byte, error) {}
	}

	var d deferred
	c.mu.Lock()
	if err := c.reg.Check(obsID, name, canonical); err != nil {
		c.mu.Unlock()
		return 0, err
	}
	if o := c.reg.Observable(obsID); o != nil && o.Subscribed {
		if e, ok := c.cache.Get(obsID); ok {
			c.mu.Unlock()
			cb(e.Value, nil)
			return 0, nil
		}
	}

	id, o, created := c.reg.AddGetter(obsID, name, canonical, cb)
	if created {
		c.created(obsID, "get")
	}

	// A live subscription answers getters with its next full value.
	if !o.Subscribed && !o.GetInFlight {
		frame, err := c.observeFrame(wire.TypeGet, o, c.cache.Checksum(obsID))
		if err != nil {
			_, _, deleted, _ := c.reg.RemoveGetter(id)
			if deleted {
				c.removed(obsID, "encode failed")
			}
			c.mu.Unlock()
			return 0, err
		}
		o.GetInFlight = true
		_, _ = c.send(queue.Get, obsID, frame, &d)
	}

	if c.cfg.RequestTimeout > 0 {
		c.reg.SetGetterTimer(id, time.AfterFunc(c.cfg.RequestTimeout, func() { c.expireGetter(id) }))
	}
	c.mu.Unlock()

	d.run()
	return id, nil
}

// Unobserve removes an observe subscription. The server-side subscription
// ends when its last observer leaves.
func (c *Client) Unobserve(id SubID) error {
	var d deferred
	c.mu.Lock()
	defer func() {
		c.mu.Unlock()
		d.run()
	}()

	o, deleted, err := c.reg.RemoveObserver(id)
	if err != nil {
		return fmt.Errorf("unobserve %d: %w", id, err)
	}

	if o.Observers() == 0 && o.Subscribed {
		o.Subscribed = false
		// A subscription that never left the queue needs no teardown.
		if !c.unqueue(queue.Observe, o.ObsID) {
			if frame, err := wire.EncodeUnsubscribe(o.ObsID); err == nil {
				_, _ = c.send(queue.Unobserve, o.ObsID, frame, &d)
			}
		}

		// Getters were waiting on the subscription; they need their own request.
		if !deleted && !o.GetInFlight {
			if frame, err := c.observeFrame(wire.TypeGet, o, c.cache.Checksum(o.ObsID)); err == nil {
				o.GetInFlight = true
				_, _ = c.send(queue.Get, o.ObsID, frame, &d)
			}
		}
	}

	if deleted {
		c.removed(o.ObsID, "unobserve")
	}
	return nil
}

// Function calls the remote function name with a JSON payload. cb runs
// exactly once with the result or an error.
func (c *Client) Function(name, payload string, cb FunctionFunc) error {
	_, err := c.function(name, payload, cb)
	return err
}

func (c *Client) function(name, payload string, cb FunctionFunc) (*registry.Call, error) {
	if len(name) > wire.MaxNameLength {
		return nil, fmt.Errorf("function %s: %w", name, wire.ErrNameTooLong)
	}
	canonical, err := obsid.Canonicalize(payload)
	if err != nil {
		return nil, fmt.Errorf("function %s: %w", name, err)
	}
	if cb == nil {
		cb = func([]byte, error) {}
	}
	body, deflate := c.compress(canonical)

	var d deferred
	c.mu.Lock()
	call := c.reg.AddCall(name, cb)
	req := &wire.FunctionRequest{RequestID: call.ID, Name: name, Payload: body, Deflate: deflate}
	frame, err := req.Encode()
	if err == nil {
		call.Sent, err = c.send(queue.Function, call.ID, frame, &d)
	}
	if err != nil {
		c.reg.TakeCall(call.ID)
		c.mu.Unlock()
		d.run()
		return nil, fmt.Errorf("function %s: %w", name, err)
	}

	if c.cfg.RequestTimeout > 0 {
		call.Timer = time.AfterFunc(c.cfg.RequestTimeout, func() { c.expireCall(call) })
	}
	c.cfg.Metrics.SetPendingCalls(c.reg.PendingCalls())
	c.mu.Unlock()

	d.run()
	return call, nil
}

// Auth sets the connection's auth state. The state is kept and sent again
// whenever the connection reopens. A pending Auth is superseded and its
// callback never runs.
func (c *Client) Auth(state string, cb AuthFunc) error {
	_, err := c.auth(state, cb)
	return err
}

func (c *Client) auth(state string, cb AuthFunc) (*registry.AuthRequest, error) {
	if wire.IDSize+len(state) > wire.MaxLength {
		return nil, fmt.Errorf("auth: %w", wire.ErrFrameTooLarge)
	}
	if cb == nil {
		cb = func(string, error) {}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	a := c.reg.SetAuth(state, cb)
	if c.state == StateOpen && c.conn != nil {
		c.sendAuth(a.ID, state)
	}
	if c.cfg.RequestTimeout > 0 {
		a.Timer = time.AfterFunc(c.cfg.RequestTimeout, func() { c.expireAuth(a) })
	}
	c.emitState(log.StateEntityAuth, "", "PENDING", "auth", 0)
	return a, nil
}

// sendAuth writes an auth frame. Auth is never queued; the stored state is
// replayed on open instead. Must hold c.mu.
func (c *Client) sendAuth(id uint32, state string) {
	frame, err := wire.EncodeAuth(id, []byte(state))
	if err != nil {
		c.logger.Warn("encode auth", "error", err)
		return
	}
	if err := c.conn.Send(frame); err != nil {
		c.logger.Warn("send auth", "error", err)
		return
	}
	c.traceOut(frame)
}

// Call is the blocking form of Function.
func (c *Client) Call(ctx context.Context, name, payload string) ([]byte, error) {
	type result struct {
		value []byte
		err   error
	}
	ch := make(chan result, 1)
	call, err := c.function(name, payload, func(v []byte, err error) { ch <- result{v, err} })
	if err != nil {
		return nil, err
	}

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		c.mu.Lock()
		if c.reg.Call(call.ID) == call {
			c.reg.TakeCall(call.ID)
			c.unqueue(queue.Function, call.ID)
			c.cfg.Metrics.SetPendingCalls(c.reg.PendingCalls())
		}
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Fetch is the blocking form of Get.
func (c *Client) Fetch(ctx context.Context, name, payload string) ([]byte, error) {
	type result struct {
		value []byte
		err   error
	}
	ch := make(chan result, 1)
	id, err := c.get(name, payload, func(v []byte, err error) { ch <- result{v, err} })
	if err != nil {
		return nil, err
	}

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		if id != 0 {
			c.mu.Lock()
			c.dropGetter(id)
			c.mu.Unlock()
		}
		return nil, ctx.Err()
	}
}

// Authenticate is the blocking form of Auth. It returns the state the
// server answered with.
func (c *Client) Authenticate(ctx context.Context, state string) (string, error) {
	type result struct {
		state string
		err   error
	}
	ch := make(chan result, 1)
	a, err := c.auth(state, func(s string, err error) { ch <- result{s, err} })
	if err != nil {
		return "", err
	}

	select {
	case r := <-ch:
		return r.state, r.err
	case <-ctx.Done():
		c.mu.Lock()
		if c.reg.Auth() == a {
			c.reg.TakeAuth(a.ID)
		}
		c.mu.Unlock()
		return "", ctx.Err()
	}
}

func (c *Client) expireCall(call *registry.Call) {
	c.mu.Lock()
	if c.reg.Call(call.ID) != call {
		c.mu.Unlock()
		return
	}
	c.reg.TakeCall(call.ID)
	c.unqueue(queue.Function, call.ID)
	c.cfg.Metrics.SetPendingCalls(c.reg.PendingCalls())
	c.mu.Unlock()

	c.logger.Warn("function timed out", "name", call.Name, "id", call.ID)
	call.Callback(nil, fmt.Errorf("function %s: %w", call.Name, ErrRequestTimeout))
}

func (c *Client) expireGetter(id SubID) {
	c.mu.Lock()
	cb := c.dropGetter(id)
	c.mu.Unlock()

	if cb != nil {
		cb(nil, fmt.Errorf("get: %w", ErrRequestTimeout))
	}
}

// dropGetter removes a pending getter without resolving it. Must hold c.mu.
func (c *Client) dropGetter(id SubID) GetFunc {
	cb, o, deleted, err := c.reg.RemoveGetter(id)
	if err != nil {
		return nil
	}
	if deleted {
		c.unqueue(queue.Get, o.ObsID)
		c.removed(o.ObsID, "getter dropped")
	}
	return cb
}

func (c *Client) expireAuth(a *registry.AuthRequest) {
	c.mu.Lock()
	if c.reg.Auth() != a {
		c.mu.Unlock()
		return
	}
	c.reg.TakeAuth(a.ID)
	c.emitState(log.StateEntityAuth, "PENDING", "TIMEOUT", "auth", 0)
	c.mu.Unlock()

	a.Callback("", fmt.Errorf("auth: %w", ErrRequestTimeout))
}

// observeFrame encodes a subscription or get request for o. Must hold c.mu.
func (c *Client) observeFrame(t wire.FrameType, o *registry.Observable, sum uint64) ([]byte, error) {
	body, deflate := c.compress(o.Payload)
	req := &wire.ObserveRequest{
		Type:     t,
		ObsID:    o.ObsID,
		Checksum: sum,
		Name:     o.Name,
		Payload:  body,
		Deflate:  deflate,
	}
	frame, err := req.Encode()
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", t, o.Name, err)
	}
	return frame, nil
}

// created records a new observable and adopts a restored cache entry for
// it. Must hold c.mu.
func (c *Client) created(obsID uint32, reason string) {
	if c.cache.Adopt(obsID) {
		c.logger.Debug("adopted restored cache entry", "obs_id", obsID)
	}
	c.emitState(log.StateEntityObservable, "", "CREATED", reason, obsID)
	c.cfg.Metrics.SetObservables(c.reg.Len())
}

// removed drops the cache entry of a deleted observable. Must hold c.mu.
func (c *Client) removed(obsID uint32, reason string) {
	c.cache.Delete(obsID)
	c.emitState(log.StateEntityObservable, "CREATED", "REMOVED", reason, obsID)
	c.cfg.Metrics.SetObservables(c.reg.Len())
}

// target validates a name and payload and returns the canonical payload
// and obs-id.
func target(name, payload string) ([]byte, uint32, error) {
	if len(name) > wire.MaxNameLength {
		return nil, 0, fmt.Errorf("observable %s: %w", name, wire.ErrNameTooLong)
	}
	canonical, err := obsid.Canonicalize(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("observable %s: %w", name, err)
	}
	return canonical, obsid.FromCanonical(name, canonical), nil
}
