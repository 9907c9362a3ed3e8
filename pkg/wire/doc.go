// Package wire implements the binary frame format spoken between a based
// client and server.
//
// Every frame starts with a 4-byte little-endian header packing the body
// length, the frame type and a deflate flag, followed by a 3-byte
// little-endian id:
//
//	| 4 header | 3 id | * body |
//
//	header = (length << 4) | (type << 1) | deflate
//
// The length counts every byte after the header (id included) and is limited
// to 28 bits. The meaning of the id depends on the type: a request id for
// FUNCTION and AUTH frames, an obs-id for SUBSCRIPTION and GET frames.
//
// # Request Bodies (client to server)
//
//	FUNCTION:          | 1 name length | * name | * payload |
//	SUBSCRIPTION, GET: | 8 checksum | 1 name length | * name | * payload |
//	UNSUBSCRIBE:       (empty)
//	AUTH:              | * state |
//
// A zero checksum in a SUBSCRIPTION or GET request means the client holds no
// value for the observable and wants the full data.
//
// # Response Bodies (server to client)
//
//	FUNCTION:                  | * payload |
//	SUBSCRIPTION_FULL, _DIFF:  | 8 checksum | * value or diff |
//	GET:                       | 8 checksum | * value |  or empty when current
//	AUTH:                      | * state |
//	ERROR:                     | * error payload |
//
// When the deflate flag is set the trailing payload portion is raw DEFLATE
// data; see [Deflate] and [Inflate].
package wire
