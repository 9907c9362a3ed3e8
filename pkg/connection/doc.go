// Package connection keeps a client connection alive.
//
// A Manager owns one dial loop. Start dials once; when the transport later
// reports Lost, the manager waits out a backoff delay and dials again,
// repeating until a dial succeeds or Close is called:
//
//	m := connection.NewManager(dial, connection.NewBackoff(), connection.Hooks{
//		OnStateChange: func(from, to connection.State) { ... },
//	})
//	m.Start(ctx)
//	...
//	m.Lost()  // read loop failed
//	...
//	m.Close()
//
// # Backoff
//
// Delays grow from 500ms by a factor of two up to 30s and fall back to
// 500ms after every successful dial. Each delay is stretched by a random
// amount of up to a quarter of its length so that clients dropped by the
// same hub restart do not redial in lockstep. BackoffConfig tunes all of
// these values.
//
// The State values double as the engine's lifecycle states: the client
// reports StateDisconnected, StateConnecting and StateOpen.
package connection
