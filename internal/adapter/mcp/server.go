// Package mcp exposes TabForge jobs to agents over the Model Context Protocol.
package mcp

import (
	"context"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/TabForge/internal/domain/job"
)

// JobService is the subset of the job service the MCP tools need.
type JobService interface {
	Submit(ctx context.Context, req job.CreateRequest) (*job.Job, error)
	Status(ctx context.Context, id string) (*job.Job, error)
	List(ctx context.Context, limit int) ([]job.Job, error)
}

// ServerConfig names the server in the MCP handshake.
type ServerConfig struct {
	Name    string
	Version string
	APIKey  string
}

// ServerDeps holds the services backing tools and resources.
type ServerDeps struct {
	Jobs JobService
}

// Server wraps an mcp-go server and its streamable HTTP transport.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	transport *mcpserver.StreamableHTTPServer
}

// NewServer creates a Server with all tools and resources registered.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	s.transport = mcpserver.NewStreamableHTTPServer(s.mcpServer, mcpserver.WithStateLess(true))
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Handler returns the HTTP handler to mount at /mcp, guarded by the API key
// when one is configured.
func (s *Server) Handler() http.Handler {
	return AuthMiddleware(s.cfg.APIKey, s.transport)
}
