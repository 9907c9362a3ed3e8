// Package transport moves based frames over a WebSocket.
//
// WSTransport dials the hub, sends each encoded frame as one binary
// message and hands every inbound binary message to a Handler. It holds no
// protocol state of its own: when the socket drops it calls
// Handler.HandleClose, asks its connection.Manager to redial, and calls
// Handler.HandleOpen once the new socket is up. Replaying subscriptions
// and auth after that is the engine's job.
//
// A KeepAlive pings the hub every 30 seconds. A ping is missed when no
// pong arrives within 10 seconds, and the socket is dropped after 2 misses
// in a row, so a dead hub is noticed within about 70 seconds.
//
// With a protocol logger configured, the transport records raw frames and
// control messages to it.
package transport
