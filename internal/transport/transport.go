package transport

import (
	"context"
	"encoding/json"
)

// Message is a JSON-RPC 2.0 message.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Handler processes one incoming message. A nil response means the message
// was a notification and nothing is written back.
type Handler func(ctx context.Context, msg *Message) (*Message, error)

// Transport carries MCP messages between the registry and its client.
type Transport interface {
	// Start runs the transport until the context is canceled or the
	// peer disconnects.
	Start(ctx context.Context) error

	// WriteMessage pushes a server-initiated message (notification) to
	// the connected client(s).
	WriteMessage(msg *Message) error

	// Close shuts the transport down.
	Close() error
}
