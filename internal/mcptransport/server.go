// Package mcptransport exposes the Query Facade over MCP. It is the
// external transport collaborator: the core module never imports this
// package, only the other direction holds.
package mcptransport

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"seagoat/internal/facade"
)

const (
	// ServerName is the MCP server name advertised to clients.
	ServerName = "seagoat"
	// ServerVersion is the current server version.
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with a Query Facade behind it.
type Server struct {
	mcp *server.MCPServer
	f   *facade.Facade
}

// NewServer builds an MCP server whose tools all submit through f.
func NewServer(f *facade.Facade) *Server {
	mcpServer := server.NewMCPServer(ServerName, ServerVersion)

	s := &Server{mcp: mcpServer, f: f}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown.
func (s *Server) Serve(_ context.Context) error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(indexRepositoryTool(), s.handleIndexRepository)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
