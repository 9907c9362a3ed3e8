// Package log records what a based client sends and receives.
//
// A protocol capture is not operational logging: slog tells an operator
// what the client is doing, a capture keeps every frame, control message
// and lifecycle step in a form tools can replay and query. The client
// hands each Event to a Logger:
//
//	fl, err := log.NewFileLogger("client.blog")
//	...
//	cfg.ProtocolLogger = log.NewMultiLogger(fl, log.NewSlogAdapter(logger))
//
// Events come from three layers. The transport records raw frame bytes
// (FrameEvent) and WebSocket pings, pongs and closes (ControlMsgEvent). The
// wire layer records decoded headers (MessageEvent). The engine records
// connection, observable and auth state changes (StateChangeEvent). Any
// layer may record an ErrorEventData.
//
// A capture file is a plain sequence of CBOR data items, one per event,
// usually named *.blog. Reader streams it back with an optional Filter, and
// the based-log command prints, filters, exports and summarizes it.
package log
