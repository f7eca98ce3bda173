// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hylla/riskcast/internal/adapters/server/common"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter exposing stored-run tools.
func NewHandler(cfg Config, runs common.RunReader) (*Handler, error) {
	if runs == nil {
		return nil, fmt.Errorf("run reader is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerRunTools(mcpSrv, runs)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "riskcast"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	if !strings.HasPrefix(cfg.EndpointPath, "/") {
		cfg.EndpointPath = "/" + cfg.EndpointPath
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

// registerRunTools registers the `riskcast.*` stored-run tools.
func registerRunTools(srv *mcpserver.MCPServer, runs common.RunReader) {
	srv.AddTool(
		mcp.NewTool(
			"riskcast.list_runs",
			mcp.WithDescription("List stored simulation runs, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 50)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			list, err := runs.ListRuns(ctx, common.ListRunsRequest{
				Limit: req.GetInt("limit", 0),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(list)
			if err != nil {
				return nil, fmt.Errorf("encode list_runs result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"riskcast.get_run",
			mcp.WithDescription("Return one run header with its skipped-input diagnostics."),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("Run identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			runID, err := req.RequireString("run_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			detail, err := runs.GetRun(ctx, runID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(detail)
			if err != nil {
				return nil, fmt.Errorf("encode get_run result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"riskcast.ranked_impacts",
			mcp.WithDescription("Return the ranked schedule impacts of one run, largest first."),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("Run identifier")),
			mcp.WithNumber("limit", mcp.Description("Keep only the first N points")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			runID, err := req.RequireString("run_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			points, err := runs.RankedImpacts(ctx, common.RankedRequest{
				RunID: runID,
				Limit: req.GetInt("limit", 0),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{
				"run_id": runID,
				"points": points,
			})
			if err != nil {
				return nil, fmt.Errorf("encode ranked_impacts result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"riskcast.allocations",
			mcp.WithDescription("Return the budgeted mitigation plan of one run."),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("Run identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			runID, err := req.RequireString("run_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			allocation, err := runs.Allocation(ctx, runID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(allocation)
			if err != nil {
				return nil, fmt.Errorf("encode allocations result: %w", err)
			}
			return result, nil
		},
	)
}

// toolResultFromError maps service errors into MCP-visible tool errors.
func toolResultFromError(err error) *mcp.CallToolResult {
	switch {
	case err == nil:
		return mcp.NewToolResultError("unknown error")
	case errors.Is(err, common.ErrInvalidRequest):
		return mcp.NewToolResultError("invalid_request: " + err.Error())
	case errors.Is(err, common.ErrNotFound):
		return mcp.NewToolResultError("not_found: " + err.Error())
	case errors.Is(err, common.ErrUnavailable):
		return mcp.NewToolResultError("service_unavailable: " + err.Error())
	default:
		return mcp.NewToolResultError("internal_error: " + err.Error())
	}
}
