package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/zmcp/odata-registry/internal/transport"
)

// Transport implements line-delimited JSON-RPC over stdin/stdout. Nothing
// except protocol messages may be written to stdout; diagnostics belong on
// stderr.
type Transport struct {
	reader  *bufio.Reader
	writer  io.Writer
	handler transport.Handler
	mu      sync.Mutex // serializes writes
}

// New creates a stdio transport.
func New(handler transport.Handler) *Transport {
	return &Transport{
		reader:  bufio.NewReader(os.Stdin),
		writer:  os.Stdout,
		handler: handler,
	}
}

// Start reads messages until EOF or context cancellation. Unparseable
// lines are skipped silently; a malformed peer must not kill the session.
func (t *Transport) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := t.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		var msg transport.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if msg.Method == "" || t.handler == nil {
			continue
		}

		response, err := t.handler(ctx, &msg)
		if err != nil {
			id := msg.ID
			if id == nil || string(id) == "null" {
				id = json.RawMessage("0")
			}
			response = &transport.Message{
				JSONRPC: "2.0",
				ID:      id,
				Error:   &transport.Error{Code: -32603, Message: err.Error()},
			}
		}
		if response != nil {
			// Write errors are unrecoverable only if stdout is gone;
			// otherwise keep serving.
			_ = t.WriteMessage(response)
		}
	}
}

// WriteMessage writes one newline-terminated JSON message to stdout.
func (t *Transport) WriteMessage(msg *transport.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.writer.Write(data); err != nil {
		return err
	}
	_, err = t.writer.Write([]byte("\n"))
	return err
}

// Close is a no-op for stdio; the process owns the streams.
func (t *Transport) Close() error {
	return nil
}
