package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/TabForge/internal/domain/job"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.generateDatasetTool(),
		s.extendDatasetTool(),
		s.getJobStatusTool(),
	)
}

func (s *Server) generateDatasetTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("generate_dataset",
		mcplib.WithDescription("Queue generation of a synthetic table from a natural-language description"),
		mcplib.WithString("prompt",
			mcplib.Required(),
			mcplib.Description(`Description of the table, e.g. "50 rows with columns name, age, salary"`),
		),
		mcplib.WithNumber("rows",
			mcplib.Description("Row count; overrides a count stated in the prompt"),
			mcplib.Min(1),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGenerateDataset}
}

func (s *Server) extendDatasetTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("extend_dataset",
		mcplib.WithDescription("Queue extension of a stored table with generated rows, or fill its missing columns"),
		mcplib.WithString("input",
			mcplib.Required(),
			mcplib.Description("File name of a stored table, as returned by get_job_status"),
		),
		mcplib.WithString("prompt",
			mcplib.Description("Description of the rows or columns to add"),
		),
		mcplib.WithNumber("rows",
			mcplib.Description("Rows to generate"),
			mcplib.Min(1),
		),
		mcplib.WithString("mode",
			mcplib.Description("extend appends generated rows; fill adds missing columns without calling the model"),
			mcplib.Enum(string(job.KindExtend), string(job.KindFill)),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleExtendDataset}
}

func (s *Server) getJobStatusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_job_status",
		mcplib.WithDescription("Get the status and result of a dataset job"),
		mcplib.WithString("job_id",
			mcplib.Required(),
			mcplib.Description("The job ID returned when the job was queued"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetJobStatus}
}

func (s *Server) handleGenerateDataset(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	prompt := req.GetString("prompt", "")
	if prompt == "" {
		return mcplib.NewToolResultError("prompt is required"), nil
	}
	return s.submit(ctx, job.CreateRequest{
		Kind:     job.KindGenerate,
		Prompt:   prompt,
		RowCount: req.GetInt("rows", 0),
	})
}

func (s *Server) handleExtendDataset(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	input := req.GetString("input", "")
	if input == "" {
		return mcplib.NewToolResultError("input is required"), nil
	}
	kind := job.Kind(req.GetString("mode", string(job.KindExtend)))
	return s.submit(ctx, job.CreateRequest{
		Kind:     kind,
		Prompt:   req.GetString("prompt", ""),
		RowCount: req.GetInt("rows", 0),
		InputRef: input,
	})
}

func (s *Server) submit(ctx context.Context, req job.CreateRequest) (*mcplib.CallToolResult, error) {
	if s.deps.Jobs == nil {
		return mcplib.NewToolResultError("job service not configured"), nil
	}
	j, err := s.deps.Jobs.Submit(ctx, req)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to queue job", err), nil
	}
	return resultJSON(map[string]string{"job_id": j.ID, "status": string(j.Status)})
}

func (s *Server) handleGetJobStatus(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Jobs == nil {
		return mcplib.NewToolResultError("job service not configured"), nil
	}
	id := req.GetString("job_id", "")
	if id == "" {
		return mcplib.NewToolResultError("job_id is required"), nil
	}
	j, err := s.deps.Jobs.Status(ctx, id)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to get job %s", id), err), nil
	}
	return resultJSON(j)
}

func resultJSON(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
