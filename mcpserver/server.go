// Package mcpserver serves the auditor's tools over MCP stdio so external
// agent hosts can call them directly.
package mcpserver

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/sammcj/auditor/tools"
	"github.com/sammcj/auditor/types"
)

// ToolRunner executes decoded invocations
type ToolRunner interface {
	Run(ctx context.Context, inv tools.Invocation) types.ToolResult
}

type MCPServer struct {
	ctx      context.Context
	server   *server.MCPServer
	registry *tools.Registry
	runner   ToolRunner
	logger   zerolog.Logger
}

// NewMCPServer registers every tool of registry. Tool calls run under ctx.
func NewMCPServer(ctx context.Context, registry *tools.Registry, runner ToolRunner, version string, logger zerolog.Logger) *MCPServer {
	s := &MCPServer{
		ctx: ctx,
		server: server.NewMCPServer(
			"auditor",
			version,
			server.WithToolCapabilities(true),
			server.WithLogging(),
		),
		registry: registry,
		runner:   runner,
		logger:   logger.With().Str("component", "mcpserver").Logger(),
	}

	for _, spec := range registry.Specs() {
		s.server.AddTool(spec, s.handler(spec.Name))
	}
	s.server.AddNotificationHandler(s.handleNotification)

	s.logger.Info().Int("tools", len(registry.Specs())).Msg("MCP server created")
	return s
}

func (s *MCPServer) handler(name string) func(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	return func(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
		return s.callTool(name, arguments)
	}
}

func (s *MCPServer) callTool(name string, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	call := types.NewToolCall("mcp_"+uuid.NewString(), name, arguments)
	inv := s.registry.Decode(call)

	s.logger.Info().Str("tool", name).Str("call_id", call.ID).Msg("executing tool")
	result := s.runner.Run(s.ctx, inv)
	if result.Failed {
		s.logger.Warn().Str("tool", name).Msg("tool failed")
	}

	return &mcp.CallToolResult{
		Content: []interface{}{
			mcp.TextContent{
				Type: "text",
				Text: result.Content,
			},
		},
		IsError: result.Failed,
	}, nil
}

func (s *MCPServer) handleNotification(notification mcp.JSONRPCNotification) {
	s.logger.Debug().Str("method", notification.Method).Msg("received notification")
}

// Serve blocks serving MCP over stdin and stdout
func (s *MCPServer) Serve() error {
	s.logger.Info().Msg("starting MCP server")
	if err := server.ServeStdio(s.server); err != nil {
		s.logger.Error().Err(err).Msg("server error")
		return fmt.Errorf("server error: %w", err)
	}
	s.logger.Info().Msg("MCP server stopped")
	return nil
}
