// Package client is the based protocol engine.
//
// A Client keeps a registry of observables, a cache of their last
// reconciled values and four outbound queues. It turns API calls into wire
// frames, reconciles inbound full values and diffs against the cache, and
// replays its subscriptions whenever the connection opens again.
//
// # Usage
//
//	c, err := client.New(client.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	if err := c.Connect(ctx, client.ConnectOptions{URL: "wss://hub.example/"}); err != nil {
//		return err
//	}
//	defer c.Disconnect()
//
//	sub, err := c.Observe("counter", `{"room":"lobby"}`, func(value []byte, checksum uint64, err error) {
//		// called for every update until Unobserve
//	})
//
//	result, err := c.Call(ctx, "add", `{"a":1,"b":2}`)
//
// # Callbacks
//
// Callbacks run on the goroutine that delivered the event, either the
// transport reader or the API caller, after the client's lock has been
// released. They may call back into the Client.
//
// # Custom transports
//
// Connect dials the built-in WebSocket transport. Any other carrier can be
// attached with SetTransport and driven through HandleOpen, HandleMessage
// and HandleClose.
package client
