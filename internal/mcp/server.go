package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/logger"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/qa"
)

const (
	// ServerName is the MCP server name
	ServerName = "copilot-index"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server exposes a vault index as MCP tools
type Server struct {
	mcp     *server.MCPServer
	service *qa.Service
}

// NewServer creates an MCP server over svc. The caller keeps ownership of
// svc and closes it after Serve returns.
func NewServer(svc *qa.Service, version string) *Server {
	if version == "" {
		version = ServerVersion
	}

	// Every client session is a fresh switch into QA mode
	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(func(_ context.Context, session server.ClientSession) {
		logger.Debug("MCP session %s started", session.SessionID())
		svc.ResetQAMode()
	})

	s := &Server{
		mcp:     server.NewMCPServer(ServerName, version, server.WithHooks(hooks)),
		service: svc,
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until the client
// disconnects
func (s *Server) Serve(ctx context.Context) error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server, for alternative transports
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) registerTools() {
	s.mcp.AddTool(indexVaultTool(), s.handleIndexVault)
	s.mcp.AddTool(indexNoteTool(), s.handleIndexNote)
	s.mcp.AddTool(retrieveTool(), s.handleRetrieve)
	s.mcp.AddTool(collectGarbageTool(), s.handleCollectGarbage)
	s.mcp.AddTool(clearIndexTool(), s.handleClearIndex)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
