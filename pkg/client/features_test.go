package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/based-protocol/based-go/pkg/diff"
	"github.com/based-protocol/based-go/pkg/log"
	"github.com/based-protocol/based-go/pkg/metrics"
	"github.com/based-protocol/based-go/pkg/persistence"
	"github.com/based-protocol/based-go/pkg/queue"
	"github.com/based-protocol/based-go/pkg/wire"
)

func TestRestoredCache(t *testing.T) {
	obsID := mustObsID(t, "config", "")
	store := &memStore{snap: &persistence.CacheSnapshot{
		Version: persistence.SnapshotVersion,
		Entries: []persistence.CacheEntry{{ObsID: obsID, Checksum: 77, Value: []byte(`"cached"`)}},
	}}

	t.Run("empty get resolves from restored value", func(t *testing.T) {
		c, ft := newOpenClient(t, func(cfg *Config) { cfg.CacheStore = store })
		assert.Zero(t, c.cache.Len(), "restored entries stay dormant")

		var got string
		require.NoError(t, c.Get("config", "", func(v []byte, err error) {
			require.NoError(t, err)
			got = string(v)
		}))

		frames := ft.take(t)
		require.Len(t, frames, 1)
		req, err := wire.DecodeObserveRequest(frames[0])
		require.NoError(t, err)
		assert.Equal(t, wire.TypeGet, req.Type)
		assert.Equal(t, uint64(77), req.Checksum)

		c.HandleMessage(responseFrame(t, wire.TypeGet, obsID, ""))
		assert.Equal(t, `"cached"`, got)
		assert.Zero(t, c.reg.Len())
	})

	t.Run("observe delivers restored value", func(t *testing.T) {
		c, ft := newOpenClient(t, func(cfg *Config) { cfg.CacheStore = store })

		var rec observeRecorder
		_, err := c.Observe("config", "", rec.fn)
		require.NoError(t, err)
		assert.Equal(t, []observeUpdate{{`"cached"`, 77, nil}}, rec.all())

		frames := ft.take(t)
		require.Len(t, frames, 1)
		req, err := wire.DecodeObserveRequest(frames[0])
		require.NoError(t, err)
		assert.Equal(t, uint64(77), req.Checksum)
	})
}

func TestGet_EmptyResponseWithoutCacheRefetches(t *testing.T) {
	c, ft := newOpenClient(t, nil)

	called := false
	require.NoError(t, c.Get("config", "", func([]byte, error) { called = true }))
	ft.take(t)

	c.HandleMessage(responseFrame(t, wire.TypeGet, mustObsID(t, "config", ""), ""))
	assert.False(t, called)

	frames := ft.take(t)
	require.Len(t, frames, 1)
	req, err := wire.DecodeObserveRequest(frames[0])
	require.NoError(t, err)
	assert.Equal(t, wire.TypeGet, req.Type)
	assert.Equal(t, uint64(0), req.Checksum)
}

func TestDisconnect_SavesCache(t *testing.T) {
	store := &memStore{}
	c, _ := newOpenClient(t, func(cfg *Config) { cfg.CacheStore = store })

	_, err := c.Observe("counter", "", nil)
	require.NoError(t, err)
	obsID := mustObsID(t, "counter", "")
	c.HandleMessage(dataFrame(t, wire.TypeSubscriptionFull, obsID, 100, "5"))

	require.NoError(t, c.Disconnect())
	assert.Equal(t, StateDisconnected, c.State())

	snap, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, persistence.CacheEntry{ObsID: obsID, Checksum: 100, Value: []byte("5")}, snap.Entries[0])
}

func TestDeflate(t *testing.T) {
	c, ft := newOpenClient(t, func(cfg *Config) { cfg.DeflateThreshold = 16 })

	payload := `{"data":"` + strings.Repeat("a", 200) + `"}`
	require.NoError(t, c.Function("store", payload, nil))

	frames := ft.take(t)
	require.Len(t, frames, 1)
	assert.True(t, frames[0].Deflate)
	req, err := wire.DecodeFunctionRequest(frames[0])
	require.NoError(t, err)
	plain, err := wire.Inflate(req.Payload)
	require.NoError(t, err)
	assert.JSONEq(t, payload, string(plain))

	// Small payloads go out as they are.
	require.NoError(t, c.Function("store", `{"a":1}`, nil))
	frames = ft.take(t)
	require.Len(t, frames, 1)
	assert.False(t, frames[0].Deflate)

	var rec observeRecorder
	_, err = c.Observe("blob", "", rec.fn)
	require.NoError(t, err)
	obsID := mustObsID(t, "blob", "")
	value := strings.Repeat("b", 500)
	z, err := wire.Deflate([]byte(value))
	require.NoError(t, err)
	frame, err := wire.EncodeData(wire.TypeSubscriptionFull, obsID, 9, z, true)
	require.NoError(t, err)
	c.HandleMessage(frame)
	assert.Equal(t, []observeUpdate{{value, 9, nil}}, rec.all())
}

func TestRequestTimeout(t *testing.T) {
	newClient := func(t *testing.T) *Client {
		c, _ := newOpenClient(t, func(cfg *Config) { cfg.RequestTimeout = 20 * time.Millisecond })
		return c
	}
	wait := func(t *testing.T, ch <-chan error) error {
		t.Helper()
		select {
		case err := <-ch:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("callback did not run")
			return nil
		}
	}

	t.Run("function", func(t *testing.T) {
		c := newClient(t)
		ch := make(chan error, 2)
		require.NoError(t, c.Function("slow", "", func(_ []byte, err error) { ch <- err }))
		assert.ErrorIs(t, wait(t, ch), ErrRequestTimeout)

		c.mu.Lock()
		assert.Zero(t, c.reg.PendingCalls())
		c.mu.Unlock()
	})

	t.Run("get", func(t *testing.T) {
		c := newClient(t)
		ch := make(chan error, 2)
		require.NoError(t, c.Get("slow", "", func(_ []byte, err error) { ch <- err }))
		assert.ErrorIs(t, wait(t, ch), ErrRequestTimeout)

		c.mu.Lock()
		assert.Zero(t, c.reg.Len())
		c.mu.Unlock()
	})

	t.Run("auth", func(t *testing.T) {
		c := newClient(t)
		ch := make(chan error, 2)
		require.NoError(t, c.Auth("token", func(_ string, err error) { ch <- err }))
		assert.ErrorIs(t, wait(t, ch), ErrRequestTimeout)
	})

	t.Run("answered in time", func(t *testing.T) {
		c, ft := newOpenClient(t, func(cfg *Config) { cfg.RequestTimeout = 50 * time.Millisecond })
		ch := make(chan error, 2)
		require.NoError(t, c.Function("fast", "", func(_ []byte, err error) { ch <- err }))
		frames := ft.take(t)
		require.Len(t, frames, 1)
		c.HandleMessage(responseFrame(t, wire.TypeFunction, frames[0].ID, "1"))
		assert.NoError(t, wait(t, ch))

		time.Sleep(100 * time.Millisecond)
		assert.Empty(t, ch, "the timer never fires after a result")
	})
}

// answer waits for the next frame written to ft and feeds reply(frame) back.
func answer(c *Client, ft *fakeTransport, reply func(f *wire.Frame) []byte) {
	go func() {
		raw := <-ft.sent
		f, err := wire.Decode(raw)
		if err != nil {
			return
		}
		c.HandleMessage(reply(f))
	}()
}

func TestBlockingHelpers(t *testing.T) {
	t.Run("call", func(t *testing.T) {
		c, ft := newOpenClient(t, nil)
		answer(c, ft, func(f *wire.Frame) []byte {
			b, _ := wire.EncodeResponse(wire.TypeFunction, f.ID, []byte(`"pong"`))
			return b
		})

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		res, err := c.Call(ctx, "ping", "")
		require.NoError(t, err)
		assert.Equal(t, `"pong"`, string(res))
	})

	t.Run("call server error", func(t *testing.T) {
		c, ft := newOpenClient(t, nil)
		answer(c, ft, func(f *wire.Frame) []byte {
			b, _ := wire.EncodeResponse(wire.TypeError, f.ID, []byte(`{"message":"nope","code":404}`))
			return b
		})

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := c.Call(ctx, "missing", "")
		var serr *ServerError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, 404, serr.Code)
	})

	t.Run("call canceled", func(t *testing.T) {
		c, _ := newOpenClient(t, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.Call(ctx, "ping", "")
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, c.reg.PendingCalls())
	})

	t.Run("fetch", func(t *testing.T) {
		c, ft := newOpenClient(t, nil)
		answer(c, ft, func(f *wire.Frame) []byte {
			b, _ := wire.EncodeData(wire.TypeGet, f.ID, 3, []byte(`{"v":1}`), false)
			return b
		})

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		res, err := c.Fetch(ctx, "config", "")
		require.NoError(t, err)
		assert.Equal(t, `{"v":1}`, string(res))
	})

	t.Run("fetch canceled", func(t *testing.T) {
		c, _ := newOpenClient(t, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.Fetch(ctx, "config", "")
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, c.reg.Len())
	})

	t.Run("authenticate", func(t *testing.T) {
		c, ft := newOpenClient(t, nil)
		answer(c, ft, func(f *wire.Frame) []byte {
			b, _ := wire.EncodeResponse(wire.TypeAuth, f.ID, []byte("accepted"))
			return b
		})

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		state, err := c.Authenticate(ctx, "token")
		require.NoError(t, err)
		assert.Equal(t, "accepted", state)
	})
}

func TestConnectionLoss(t *testing.T) {
	c, ft := newOpenClient(t, nil)

	var sentErr error
	require.NoError(t, c.Function("sent", "", func(_ []byte, err error) { sentErr = err }))
	require.NoError(t, c.Get("config", "", nil))
	ft.take(t)

	c.HandleClose(errors.New("reset by peer"))
	assert.ErrorIs(t, sentErr, ErrConnectionLost)
	assert.Equal(t, StateDisconnected, c.State())

	queuedCalled := false
	require.NoError(t, c.Function("queued", "", func([]byte, error) { queuedCalled = true }))
	assert.Equal(t, 1, c.queues.Len(queue.Function))

	c.HandleOpen()
	assert.False(t, queuedCalled, "queued calls survive the reconnect")

	frames := ft.take(t)
	require.Len(t, frames, 2)
	assert.Equal(t, wire.TypeGet, frames[0].Type, "getters are requested again")
	assert.Equal(t, wire.TypeFunction, frames[1].Type)
	req, err := wire.DecodeFunctionRequest(frames[1])
	require.NoError(t, err)
	assert.Equal(t, "queued", req.Name)
}

func TestSendFailureQueues(t *testing.T) {
	c, ft := newOpenClient(t, nil)

	ft.setFail(true)
	var result string
	require.NoError(t, c.Function("retry", "", func(r []byte, err error) { result = string(r) }))
	assert.Equal(t, 1, c.queues.Len(queue.Function))

	ft.setFail(false)
	c.HandleClose(errSendFailed)
	c.HandleOpen()

	frames := ft.take(t)
	require.Len(t, frames, 1)
	c.HandleMessage(responseFrame(t, wire.TypeFunction, frames[0].ID, "ok"))
	assert.Equal(t, "ok", result, "unsent calls are not failed by the close")
}

func TestServerError(t *testing.T) {
	t.Run("function", func(t *testing.T) {
		c, ft := newOpenClient(t, nil)
		var got error
		require.NoError(t, c.Function("f", "", func(_ []byte, err error) { got = err }))
		frames := ft.take(t)

		c.HandleMessage(responseFrame(t, wire.TypeError, frames[0].ID, `{"message":"boom","code":500}`))
		var serr *ServerError
		require.ErrorAs(t, got, &serr)
		assert.Equal(t, &ServerError{Message: "boom", Code: 500}, serr)
	})

	t.Run("observable", func(t *testing.T) {
		c, _ := newOpenClient(t, nil)
		var rec observeRecorder
		_, err := c.Observe("secret", "", rec.fn)
		require.NoError(t, err)
		var getErr error
		require.NoError(t, c.Get("secret", "", func(_ []byte, err error) { getErr = err }))

		obsID := mustObsID(t, "secret", "")
		c.HandleMessage(responseFrame(t, wire.TypeError, obsID, "forbidden"))

		updates := rec.all()
		require.Len(t, updates, 1)
		assert.EqualError(t, updates[0].err, "server error: forbidden")
		assert.EqualError(t, getErr, "server error: forbidden")

		// The subscription is not torn down.
		c.HandleMessage(dataFrame(t, wire.TypeSubscriptionFull, obsID, 1, "ok"))
		updates = rec.all()
		require.Len(t, updates, 2)
		assert.Equal(t, "ok", updates[1].value)
	})

	t.Run("auth", func(t *testing.T) {
		c, ft := newOpenClient(t, nil)
		var got error
		require.NoError(t, c.Auth("bad", func(_ string, err error) { got = err }))
		frames := ft.take(t)
		require.Len(t, frames, 1)

		c.HandleMessage(responseFrame(t, wire.TypeError, frames[0].ID, `{"message":"invalid token","code":401}`))
		var serr *ServerError
		require.ErrorAs(t, got, &serr)
		assert.Equal(t, 401, serr.Code)
	})
}

func TestParseServerError(t *testing.T) {
	tests := []struct {
		body string
		want ServerError
	}{
		{`{"message":"boom","code":500}`, ServerError{Message: "boom", Code: 500}},
		{`{"code":403}`, ServerError{Code: 403}},
		{`plain text`, ServerError{Message: "plain text"}},
		{`{}`, ServerError{Message: "{}"}},
		{``, ServerError{}},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			assert.Equal(t, tt.want, *parseServerError([]byte(tt.body)))
		})
	}
}

func TestQueuePolicy(t *testing.T) {
	t.Run("reject", func(t *testing.T) {
		c, _ := newClosedClient(t, func(cfg *Config) { cfg.MaxQueueLength = 1 })
		require.NoError(t, c.Function("a", "", nil))

		err := c.Function("b", "", nil)
		assert.ErrorIs(t, err, ErrQueueFull)
		assert.Equal(t, 1, c.reg.PendingCalls())
	})

	t.Run("drop oldest", func(t *testing.T) {
		c, ft := newClosedClient(t, func(cfg *Config) {
			cfg.MaxQueueLength = 1
			cfg.QueuePolicy = queue.DropOldest
		})
		var firstErr error
		require.NoError(t, c.Function("a", "", func(_ []byte, err error) { firstErr = err }))
		require.NoError(t, c.Function("b", "", nil))
		assert.ErrorIs(t, firstErr, ErrQueueFull)

		c.HandleOpen()
		frames := ft.take(t)
		require.Len(t, frames, 1)
		req, err := wire.DecodeFunctionRequest(frames[0])
		require.NoError(t, err)
		assert.Equal(t, "b", req.Name)
	})

	t.Run("observes are rebuilt on open", func(t *testing.T) {
		c, ft := newClosedClient(t, func(cfg *Config) { cfg.MaxQueueLength = 1 })
		_, err := c.Observe("a", "", nil)
		require.NoError(t, err)
		_, err = c.Observe("b", "", nil)
		require.NoError(t, err, "a full observe queue is not the caller's problem")

		c.HandleOpen()
		assert.Len(t, ft.take(t), 2)
	})
}

func TestAuth(t *testing.T) {
	t.Run("superseded callback never runs", func(t *testing.T) {
		c, ft := newOpenClient(t, nil)
		firstCalled := false
		var second string
		require.NoError(t, c.Auth("s1", func(string, error) { firstCalled = true }))
		require.NoError(t, c.Auth("s2", func(s string, err error) { second = s }))

		frames := ft.take(t)
		require.Len(t, frames, 2)
		assert.Equal(t, "s2", string(frames[1].Body))

		c.HandleMessage(responseFrame(t, wire.TypeAuth, frames[0].ID, "stale"))
		c.HandleMessage(responseFrame(t, wire.TypeAuth, frames[1].ID, "ok"))
		assert.False(t, firstCalled)
		assert.Equal(t, "ok", second)
	})

	t.Run("sent on open and replayed", func(t *testing.T) {
		c, ft := newClosedClient(t, nil)
		var got string
		require.NoError(t, c.Auth("token", func(s string, err error) { got = s }))
		assert.Empty(t, ft.take(t))

		c.HandleOpen()
		frames := ft.take(t)
		require.Len(t, frames, 1)
		assert.Equal(t, wire.TypeAuth, frames[0].Type)
		assert.Equal(t, "token", string(frames[0].Body))
		c.HandleMessage(responseFrame(t, wire.TypeAuth, frames[0].ID, "ok"))
		assert.Equal(t, "ok", got)

		c.HandleClose(nil)
		c.HandleOpen()
		frames = ft.take(t)
		require.Len(t, frames, 1)
		assert.Equal(t, "token", string(frames[0].Body))

		// The answer to a replay has no caller.
		got = ""
		c.HandleMessage(responseFrame(t, wire.TypeAuth, frames[0].ID, "again"))
		assert.Empty(t, got)
		assert.Nil(t, c.reg.Auth())
	})
}

func TestProtocolLoggerEvents(t *testing.T) {
	var mu sync.Mutex
	var events []log.Event
	c, _ := newOpenClient(t, func(cfg *Config) {
		cfg.ProtocolLogger = log.LoggerFunc(func(e log.Event) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, e)
		})
	})

	_, err := c.Observe("counter", "", nil)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	var created, message bool
	for _, e := range events {
		if e.StateChange != nil && e.StateChange.Entity == log.StateEntityObservable && e.StateChange.NewState == "CREATED" {
			created = true
		}
		if e.Message != nil && e.Direction == log.DirectionOut {
			message = true
			assert.Equal(t, log.LayerWire, e.Layer)
			assert.Equal(t, "counter", e.Message.Name)
			require.NotNil(t, e.Message.Checksum)
			assert.Equal(t, uint64(0), *e.Message.Checksum)
		}
	}
	assert.True(t, created)
	assert.True(t, message)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	c, _ := newOpenClient(t, func(cfg *Config) {
		cfg.Metrics = m
		cfg.Diff = diff.ApplierFunc(func(prev, patch []byte) ([]byte, error) { return nil, diff.ErrDiff })
	})

	_, err = c.Observe("counter", "", nil)
	require.NoError(t, err)
	obsID := mustObsID(t, "counter", "")
	c.HandleMessage(dataFrame(t, wire.TypeSubscriptionFull, obsID, 1, "1"))
	c.HandleMessage(dataFrame(t, wire.TypeSubscriptionDiff, obsID, 2, "x"))

	assert.Equal(t, 1.0, gathered(t, reg, "based_engine_resyncs_total"))
	assert.Equal(t, 1.0, gathered(t, reg, "based_engine_observables"))
	assert.Equal(t, 1.0, gathered(t, reg, "based_connection_open"))
}

// gathered returns the value of the single series of a metric family.
func gathered(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		require.Len(t, mf.GetMetric(), 1)
		m := mf.GetMetric()[0]
		if m.GetCounter() != nil {
			return m.GetCounter().GetValue()
		}
		return m.GetGauge().GetValue()
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
