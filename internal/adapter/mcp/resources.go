package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const recentJobsURI = "tabforge://jobs/recent"

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			recentJobsURI,
			"Recent Jobs",
			mcplib.WithResourceDescription("The most recent dataset jobs, newest first"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRecentJobsResource,
	)
}

func (s *Server) handleRecentJobsResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	text := `{"error":"job service not configured"}`
	if s.deps.Jobs != nil {
		jobs, err := s.deps.Jobs.List(ctx, 20)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(jobs)
		if err != nil {
			return nil, err
		}
		text = string(data)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     text,
		},
	}, nil
}
