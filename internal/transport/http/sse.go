package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/zmcp/odata-registry/internal/transport"
)

// SSETransport serves MCP over HTTP: POST /rpc for request/response and
// GET /sse for server-initiated events.
type SSETransport struct {
	addr    string
	server  *http.Server
	handler transport.Handler

	mu      sync.RWMutex
	clients map[string]chan []byte
}

// NewSSE creates an HTTP/SSE transport listening on addr.
func NewSSE(addr string, handler transport.Handler) *SSETransport {
	return &SSETransport{
		addr:    addr,
		handler: handler,
		clients: make(map[string]chan []byte),
	}
}

// Start runs the HTTP server until the context is canceled.
func (t *SSETransport) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", t.handleRPC)
	mux.HandleFunc("/sse", t.handleSSE)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	t.server = &http.Server{Addr: t.addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := t.server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return t.Close()
	}
}

func (t *SSETransport) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var msg transport.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	response, err := t.handler(r.Context(), &msg)
	if err != nil {
		response = &transport.Message{
			JSONRPC: "2.0",
			ID:      msg.ID,
			Error:   &transport.Error{Code: -32603, Message: err.Error()},
		}
	}
	if response == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (t *SSETransport) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id := fmt.Sprintf("client-%d", time.Now().UnixNano())
	events := make(chan []byte, 16)

	t.mu.Lock()
	t.clients[id] = events
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.clients, id)
		t.mu.Unlock()
	}()

	fmt.Fprintf(w, "event: connected\ndata: {\"clientId\":%q}\n\n", id)
	flusher.Flush()

	for {
		select {
		case data := <-events:
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// WriteMessage broadcasts a server-initiated message to every connected
// SSE client. Clients with full buffers are skipped.
func (t *SSETransport) WriteMessage(msg *transport.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, events := range t.clients {
		select {
		case events <- data:
		default:
		}
	}
	return nil
}

// Close shuts down the HTTP server with a short drain timeout.
func (t *SSETransport) Close() error {
	if t.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.server.Shutdown(ctx)
}
