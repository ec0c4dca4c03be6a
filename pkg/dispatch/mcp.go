package dispatch

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	engerr "github.com/sloscope/sloscope/pkg/errors"
)

// MCPServer exposes a dispatcher's registry as MCP tools. Every registered
// operation becomes one tool with a JSON schema derived from its declared
// parameters.
type MCPServer struct {
	mcpServer  *server.MCPServer
	dispatcher *Dispatcher
}

// NewMCPServer builds the tool server. All operations already registered on
// the dispatcher are exposed; later registrations are not picked up.
func NewMCPServer(d *Dispatcher, name, version string) *MCPServer {
	s := &MCPServer{
		mcpServer:  server.NewMCPServer(name, version),
		dispatcher: d,
	}
	for _, op := range d.Operations() {
		s.addTool(op)
	}
	return s
}

func (s *MCPServer) addTool(op *Operation) {
	opts := []mcp.ToolOption{mcp.WithDescription(op.Description)}
	for _, p := range op.Params {
		opts = append(opts, paramOption(p))
	}
	tool := mcp.NewTool(op.Name, opts...)

	name := op.Name
	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		result, err := s.dispatcher.Dispatch(ctx, name, args)
		if err != nil {
			return errorResult(err), nil
		}
		payload, err := json.Marshal(result)
		if err != nil {
			return errorResult(engerr.New(engerr.CodeInternal, "failed to encode result", err)), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	})
}

func paramOption(p Param) mcp.ToolOption {
	var propOpts []mcp.PropertyOption
	if p.Description != "" {
		propOpts = append(propOpts, mcp.Description(p.Description))
	}
	if p.Required {
		propOpts = append(propOpts, mcp.Required())
	}

	switch p.Type {
	case TypeInt, TypeFloat:
		if def, ok := toFloat(p.Default); ok {
			propOpts = append(propOpts, mcp.DefaultNumber(def))
		}
		return mcp.WithNumber(p.Name, propOpts...)
	case TypeStringList:
		propOpts = append(propOpts, mcp.Items(map[string]any{"type": "string"}))
		return mcp.WithArray(p.Name, propOpts...)
	default:
		if def, ok := p.Default.(string); ok {
			propOpts = append(propOpts, mcp.DefaultString(def))
		}
		return mcp.WithString(p.Name, propOpts...)
	}
}

// errorResult encodes a typed engine error as a tool error so callers see
// the code and context, not just a message string.
func errorResult(err error) *mcp.CallToolResult {
	ee := engerr.AsEngineError(err)
	payload, jsonErr := json.Marshal(ee)
	if jsonErr != nil {
		return mcp.NewToolResultError(ee.Error())
	}
	return mcp.NewToolResultError(string(payload))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// ServeStdio serves the tool surface over stdio.
func (s *MCPServer) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeStreamableHTTP serves the tool surface over streamable HTTP on addr.
func (s *MCPServer) ServeStreamableHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(addr)
}
