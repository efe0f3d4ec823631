package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/zmcp/odata-registry/internal/constants"
	"github.com/zmcp/odata-registry/internal/models"
	"github.com/zmcp/odata-registry/internal/transport"
)

// Tool describes one MCP tool.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ToolHandler executes a tool call and returns the textual result.
type ToolHandler func(ctx context.Context, args map[string]interface{}) (string, error)

// Server is a minimal JSON-RPC 2.0 MCP server: initialize, tools/list,
// tools/call, plus the empty resources/prompts surfaces and ping.
type Server struct {
	name            string
	version         string
	protocolVersion string
	tools           map[string]*Tool
	toolOrder       []string // registration order, reported as-is
	handlers        map[string]ToolHandler
	mu              sync.RWMutex
	initialized     bool
}

// NewServer creates an MCP server.
func NewServer(name, version string) *Server {
	// The stdlib logger must never write to stdout; stdout is the
	// protocol channel in stdio mode.
	log.SetOutput(io.Discard)

	return &Server{
		name:            name,
		version:         version,
		protocolVersion: constants.MCPProtocolVersion,
		tools:           make(map[string]*Tool),
		handlers:        make(map[string]ToolHandler),
	}
}

// AddTool registers a tool and its handler.
func (s *Server) AddTool(tool *Tool, handler ToolHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tools[tool.Name]; !exists {
		s.toolOrder = append(s.toolOrder, tool.Name)
	}
	s.tools[tool.Name] = tool
	s.handlers[tool.Name] = handler
}

// Tools returns the registered tools in registration order.
func (s *Server) Tools() []*Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tools := make([]*Tool, 0, len(s.toolOrder))
	for _, name := range s.toolOrder {
		if tool, exists := s.tools[name]; exists {
			tools = append(tools, tool)
		}
	}
	return tools
}

// HandleMessage processes one incoming transport message.
func (s *Server) HandleMessage(ctx context.Context, msg *transport.Message) (*transport.Message, error) {
	if msg.JSONRPC != "2.0" {
		return errorResponse(msg.ID, -32600, "Invalid Request", "JSON-RPC version must be 2.0"), nil
	}

	var params map[string]interface{}
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return errorResponse(msg.ID, -32700, "Parse error", err.Error()), nil
		}
	}

	switch msg.Method {
	case "initialize":
		return s.handleInitialize(msg.ID)
	case "initialized", "notifications/initialized":
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
		return nil, nil
	case "tools/list":
		return s.handleToolsList(msg.ID)
	case "tools/call":
		return s.handleToolsCall(ctx, msg.ID, params)
	case "resources/list":
		return response(msg.ID, map[string]interface{}{"resources": []interface{}{}})
	case "prompts/list":
		return response(msg.ID, map[string]interface{}{"prompts": []interface{}{}})
	case "ping":
		return response(msg.ID, map[string]interface{}{})
	default:
		return errorResponse(msg.ID, -32601, "Method not found", msg.Method), nil
	}
}

func (s *Server) handleInitialize(id json.RawMessage) (*transport.Message, error) {
	result := map[string]interface{}{
		"capabilities": map[string]interface{}{
			"prompts":   map[string]interface{}{"listChanged": false},
			"resources": map[string]interface{}{"listChanged": false, "subscribe": false},
			"tools":     map[string]interface{}{"listChanged": false},
		},
		"protocolVersion": s.protocolVersion,
		"serverInfo": map[string]interface{}{
			"name":    s.name,
			"version": s.version,
		},
	}
	return response(id, result)
}

func (s *Server) handleToolsList(id json.RawMessage) (*transport.Message, error) {
	return response(id, map[string]interface{}{"tools": s.Tools()})
}

func (s *Server) handleToolsCall(ctx context.Context, id json.RawMessage, params map[string]interface{}) (*transport.Message, error) {
	name, _ := params["name"].(string)
	if name == "" {
		return errorResponse(id, -32602, "Invalid params", "missing tool name"), nil
	}
	args, _ := params["arguments"].(map[string]interface{})
	if args == nil {
		args = make(map[string]interface{})
	}

	s.mu.RLock()
	handler, exists := s.handlers[name]
	s.mu.RUnlock()
	if !exists {
		return errorResponse(id, -32602, "Invalid params", fmt.Sprintf("tool not found: %s", name)), nil
	}

	text, err := handler(ctx, args)
	if err != nil {
		code := categorizeError(err)
		return errorResponse(id, code, fmt.Sprintf("tool %q failed: %s", name, err.Error()), ""), nil
	}

	result := map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": text},
		},
	}
	return response(id, result)
}

// categorizeError maps the registry error taxonomy onto JSON-RPC codes:
// caller mistakes are invalid params, everything else is an internal error.
func categorizeError(err error) int {
	var (
		validation *models.ValidationError
		notFound   *models.NotFoundError
		keyErr     *models.KeyError
		capability *models.CapabilityError
	)
	switch {
	case errors.As(err, &validation),
		errors.As(err, &notFound),
		errors.As(err, &keyErr),
		errors.As(err, &capability):
		return -32602
	default:
		return -32603
	}
}

// normalizeID replaces null/absent request ids with 0; some MCP clients
// reject responses with a null id.
func normalizeID(id json.RawMessage) json.RawMessage {
	if id == nil || string(id) == "null" || len(id) == 0 {
		return json.RawMessage("0")
	}
	return id
}

func response(id json.RawMessage, result interface{}) (*transport.Message, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &transport.Message{
		JSONRPC: "2.0",
		ID:      normalizeID(id),
		Result:  data,
	}, nil
}

func errorResponse(id json.RawMessage, code int, message, data string) *transport.Message {
	e := &transport.Error{Code: code, Message: message}
	if data != "" {
		raw, err := json.Marshal(data)
		if err == nil {
			e.Data = raw
		}
	}
	return &transport.Message{
		JSONRPC: "2.0",
		ID:      normalizeID(id),
		Error:   e,
	}
}
