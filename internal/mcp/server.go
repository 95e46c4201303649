// Package mcp exposes the capability tools over the Model Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/nidhogg/nuka-capabilities/internal/capability"
	"github.com/nidhogg/nuka-capabilities/internal/tools"
	"go.uber.org/zap"
)

// Server wraps an MCP server whose tools are the registry's tools.
type Server struct {
	srv    *server.MCPServer
	logger *zap.Logger
}

// NewServer registers every tool in reg with a new MCP server.
func NewServer(reg *tools.Registry, name, version string, logger *zap.Logger) *Server {
	srv := server.NewMCPServer(name, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s := &Server{srv: srv, logger: logger}
	for _, def := range reg.Definitions() {
		srv.AddTool(mcp.NewToolWithRawSchema(def.Name, def.Description, def.InputSchema), s.handler(reg, def.Name))
	}
	logger.Info("MCP tools registered", zap.Int("count", len(reg.Definitions())))
	return s
}

// handler adapts a registry tool to an MCP tool handler. Malformed arguments
// are returned as an error prefixed with VALIDATION_ERROR so the client
// receives a protocol error rather than a tool result. Failure envelopes are
// results flagged IsError.
func (s *Server) handler(reg *tools.Registry, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := []byte("{}")
		if req.Params.Arguments != nil {
			b, err := json.Marshal(req.Params.Arguments)
			if err != nil {
				return nil, fmt.Errorf("encode arguments: %w", err)
			}
			args = b
		}

		env, err := reg.Execute(ctx, name, args)
		if err != nil {
			s.logger.Debug("MCP tool call rejected", zap.String("tool", name), zap.Error(err))
			if capability.IsValidation(err) {
				// mcp-go reports handler errors as -32603; the code prefix
				// separates bad arguments from server faults.
				return nil, fmt.Errorf("%s: %w", capability.CodeValidation, err)
			}
			return nil, err
		}

		out, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		res := mcp.NewToolResultText(string(out))
		res.IsError = !env.OK()
		return res, nil
	}
}

// ServeStdio serves MCP on stdin/stdout until the input closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.srv)
}

// HTTPHandler returns a streamable HTTP handler for mounting on a router.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.srv)
}
