package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ilumeobrasil/desk-research/pkg/flow"
	"github.com/ilumeobrasil/desk-research/pkg/store"
	"github.com/ilumeobrasil/desk-research/pkg/types"
)

// Server exposes the flow engine over the Model Context Protocol, so agent
// hosts can start runs, retry synthesis, and fetch reports.
type Server struct {
	engine    *flow.Engine
	runs      store.Store
	mcpServer *server.MCPServer
	logger    *zap.Logger
}

// NewServer creates the MCP server and registers its tools.
func NewServer(engine *flow.Engine, runs store.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mcpServer := server.NewMCPServer(
		"Desk Research Orchestrator",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	s := &Server{
		engine:    engine,
		runs:      runs,
		mcpServer: mcpServer,
		logger:    logger,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	runResearch := mcp.NewTool("run_research",
		mcp.WithDescription("Run the selected research modules and synthesize an integrated report"),
		mcp.WithString("topic",
			mcp.Required(),
			mcp.Description("Research topic"),
		),
		mcp.WithString("modules",
			mcp.Required(),
			mcp.Description("Comma-separated module IDs (academic, youtube, social, web, focusgroup, docaudit)"),
		),
		mcp.WithString("params_json",
			mcp.Description("JSON object with module parameters"),
		),
	)
	s.mcpServer.AddTool(runResearch, s.handleRunResearch)

	retrySynthesis := mcp.NewTool("retry_synthesis",
		mcp.WithDescription("Re-run only the synthesis stage of a failed run, reusing its collected results"),
		mcp.WithString("run_id",
			mcp.Description("Run to retry; defaults to the most recent persisted run"),
		),
	)
	s.mcpServer.AddTool(retrySynthesis, s.handleRetrySynthesis)

	getReport := mcp.NewTool("get_report",
		mcp.WithDescription("Fetch the integrated report of a completed run"),
		mcp.WithString("run_id",
			mcp.Description("Run to fetch; defaults to the most recent persisted run"),
		),
	)
	s.mcpServer.AddTool(getReport, s.handleGetReport)

	listModules := mcp.NewTool("list_modules",
		mcp.WithDescription("List the available research modules"),
	)
	s.mcpServer.AddTool(listModules, s.handleListModules)
}

func (s *Server) handleRunResearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topic, err := request.RequireString("topic")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid topic: %v", err)), nil
	}
	moduleList, err := request.RequireString("modules")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid modules: %v", err)), nil
	}

	var selected []types.ModuleID
	for _, m := range strings.Split(moduleList, ",") {
		if m = strings.TrimSpace(m); m != "" {
			selected = append(selected, types.ModuleID(m))
		}
	}

	runParams := map[string]any{}
	if raw := request.GetString("params_json", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &runParams); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid params_json: %v", err)), nil
		}
	}

	s.logger.Info("mcp run_research", zap.String("topic", topic), zap.Int("modules", len(selected)))
	report, err := s.engine.Run(ctx, flow.RunRequest{Topic: topic, Modules: selected, Params: runParams})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Research run failed: %v", err)), nil
	}
	return mcp.NewToolResultText(report.Markdown), nil
}

func (s *Server) handleRetrySynthesis(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID := request.GetString("run_id", "")
	if runID != "" || s.engine.Snapshot() == nil {
		snap, err := s.loadSnapshot(ctx, runID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Load run: %v", err)), nil
		}
		if err := s.engine.Restore(snap); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Restore run: %v", err)), nil
		}
	}

	report, err := s.engine.RetrySynthesis(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Synthesis retry failed: %v", err)), nil
	}
	return mcp.NewToolResultText(report.Markdown), nil
}

func (s *Server) handleGetReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID := request.GetString("run_id", "")
	snap, err := s.loadSnapshot(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Load run: %v", err)), nil
	}
	if snap.Report == nil {
		return mcp.NewToolResultError(fmt.Sprintf("Run %s has no report (status %s)", snap.RunID, snap.Status)), nil
	}
	return mcp.NewToolResultText(snap.Report.Markdown), nil
}

func (s *Server) handleListModules(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	infos := s.engine.Modules()
	var b strings.Builder
	b.WriteString("Available research modules:\n")
	for _, info := range infos {
		fmt.Fprintf(&b, "- %s: %s (%s)\n", info.ID, info.Name, info.Description)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) loadSnapshot(ctx context.Context, runID string) (*types.RunSnapshot, error) {
	if s.runs == nil {
		return nil, fmt.Errorf("no run-state store configured")
	}
	if runID == "" {
		return s.runs.Latest(ctx)
	}
	return s.runs.Load(ctx, runID)
}

// Start serves MCP over stdio until the client disconnects or ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("serving MCP over stdio")
	return server.NewStdioServer(s.mcpServer).Listen(ctx, os.Stdin, os.Stdout)
}
