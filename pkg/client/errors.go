package client

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/based-protocol/based-go/pkg/obsid"
	"github.com/based-protocol/based-go/pkg/queue"
	"github.com/based-protocol/based-go/pkg/registry"
	"github.com/based-protocol/based-go/pkg/wire"
)

// Client errors.
var (
	// ErrEncoding indicates a payload that is not valid JSON.
	ErrEncoding = obsid.ErrEncoding

	// ErrProtocol indicates a frame that could not be encoded or decoded.
	ErrProtocol = wire.ErrProtocol

	// ErrUnknownID indicates a sub-id with no registration.
	ErrUnknownID = registry.ErrUnknownID

	// ErrObsIDCollision indicates an observable whose obs-id is held by a
	// different (name, payload) pair.
	ErrObsIDCollision = registry.ErrObsIDCollision

	// ErrQueueFull indicates a frame rejected by a full outbound queue.
	ErrQueueFull = queue.ErrQueueFull

	// ErrConnectionLost is delivered to function calls whose request was
	// sent on a connection that closed before the response arrived.
	ErrConnectionLost = errors.New("connection lost")

	// ErrRequestTimeout is delivered when Config.RequestTimeout expires.
	ErrRequestTimeout = errors.New("request timed out")

	ErrInvalidConfig = errors.New("invalid configuration")
	ErrNoEndpoint    = errors.New("no url or discovery query")
)

// ServerError is an ERROR frame sent by the server, surfaced verbatim.
type ServerError struct {
	Message string
	Code    int
}

// Error implements error.
func (e *ServerError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
	}
	return "server error: " + e.Message
}

// parseServerError reads an ERROR body. Servers send a JSON object with
// message and code; anything else is taken as the message text.
func parseServerError(body []byte) *ServerError {
	var v struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	}
	if err := json.Unmarshal(body, &v); err == nil && (v.Message != "" || v.Code != 0) {
		return &ServerError{Message: v.Message, Code: v.Code}
	}
	return &ServerError{Message: string(body)}
}
