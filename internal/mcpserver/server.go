// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes SPAMM fit tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/spamm/internal/fitservice"
	"github.com/starford/spamm/internal/models"
	"github.com/starford/spamm/internal/specio"
	"github.com/starford/spamm/internal/templates"
)

const configFormatURI = "spamm://config-format"

// Server wraps the MCP server with SPAMM tools.
type Server struct {
	mcp *server.MCPServer
	svc *fitservice.Service
	lib *templates.Library
}

// New creates a new MCP server with all SPAMM tools registered. lib backs the
// upload_template tool.
func New(svc *fitservice.Service, lib *templates.Library) *Server {
	s := &Server{svc: svc, lib: lib}

	s.mcp = server.NewMCPServer(
		"SPAMM",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_components",
		mcp.WithDescription("List the spectral components a fit can combine, with their codes."),
	), s.listComponents)

	s.mcp.AddTool(mcp.NewTool("list_fits",
		mcp.WithDescription("List fit runs, newest first."),
		mcp.WithString("status", mcp.Description("Optional status filter: pending, running, completed, failed, cancelled")),
		mcp.WithNumber("limit", mcp.Description("Page size (default 50)")),
		mcp.WithNumber("offset", mcp.Description("Page offset")),
	), s.listFits)

	s.mcp.AddTool(mcp.NewTool("get_fit",
		mcp.WithDescription("Get a fit run by id, including status and progress."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Run id")),
	), s.getFit)

	s.mcp.AddTool(mcp.NewTool("get_fit_summary",
		mcp.WithDescription("Posterior summary (mean, std, 16/50/84 percentiles) of a completed fit."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Run id")),
		mcp.WithNumber("burn", mcp.Description("Burn-in steps to discard (defaults to the run's)")),
	), s.getFitSummary)

	s.mcp.AddTool(mcp.NewTool("start_fit",
		mcp.WithDescription("Start an asynchronous fit of a spectrum. The spectrum is given as "+
			"column text (wavelength, flux, optional flux error). Read the format first via "+
			"the get_config_format tool or the "+configFormatURI+" resource."),
		mcp.WithArray("components", mcp.Required(), mcp.WithStringItems(),
			mcp.Description("Component codes, e.g. [\"PL\", \"HOST\"]")),
		mcp.WithString("spectrum", mcp.Required(), mcp.Description("Spectrum file content")),
		mcp.WithNumber("walkers", mcp.Description("Ensemble size (even)")),
		mcp.WithNumber("iterations", mcp.Description("Sampler iterations")),
		mcp.WithNumber("burn_in", mcp.Description("Burn-in steps")),
		mcp.WithNumber("seed", mcp.Description("Random seed")),
	), s.startFit)

	s.mcp.AddTool(mcp.NewTool("delete_fit",
		mcp.WithDescription("Delete a finished fit run and its stored chain. Running fits must be cancelled first."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Run id")),
	), s.deleteFit)

	s.mcp.AddTool(mcp.NewTool("get_config_format",
		mcp.WithDescription("Returns the SPAMM configuration and spectrum file format. "+
			"Call this before starting fits or uploading templates."),
	), s.getConfigFormat)

	s.mcp.AddTool(mcp.NewTool("upload_template",
		mcp.WithDescription("Store a template or list file under the template root from an http(s) URL "+
			"or a base64 data URI. Data files must parse as two-column templates."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data: URI")),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path under the template root (e.g. host/young.dat); .dat, .txt, .tab or .asc")),
	), s.uploadTemplate)

	// Resource: configuration format.
	s.mcp.AddResource(
		mcp.NewResource(configFormatURI, "Configuration Format",
			mcp.WithResourceDescription("YAML configuration keys, component codes and spectrum file format."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readConfigFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) listComponents(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Components()), nil
}

func (s *Server) listFits(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := models.RunStatus(req.GetString("status", ""))
	runs, total, err := s.svc.ListRuns(ctx, req.GetInt("limit", 50), req.GetInt("offset", 0), status)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"fits": runs, "total": total}), nil
}

func (s *Server) getFit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	run, err := s.svc.GetRun(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	return jsonResult(run), nil
}

func (s *Server) getFitSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sum, err := s.svc.Summary(ctx, id, req.GetInt("burn", -1))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(sum), nil
}

func (s *Server) startFit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	components, err := req.RequireStringSlice("components")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("spectrum")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	parsed, err := specio.Parse([]byte(text))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := parsed.SpectrumData()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	run, err := s.svc.Start(ctx, fitservice.FitRequest{
		Components: components,
		Spectrum:   data,
		Sampler: fitservice.SamplerOverride{
			Walkers:    optInt(req, "walkers"),
			Iterations: optInt(req, "iterations"),
			BurnIn:     optInt(req, "burn_in"),
			Seed:       optInt64(req, "seed"),
		},
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(run), nil
}

func (s *Server) deleteFit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.DeleteRun(ctx, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted run %s", id)), nil
}

// optInt returns nil when the argument is absent so the service default
// applies; an explicit 0 is passed through.
func optInt(req mcp.CallToolRequest, key string) *int {
	if _, ok := req.GetArguments()[key]; !ok {
		return nil
	}
	v := req.GetInt(key, 0)
	return &v
}

func optInt64(req mcp.CallToolRequest, key string) *int64 {
	v := optInt(req, key)
	if v == nil {
		return nil
	}
	out := int64(*v)
	return &out
}

func (s *Server) getConfigFormat(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ConfigFormatContract), nil
}

func (s *Server) readConfigFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      configFormatURI,
			MIMEType: "text/markdown",
			Text:     ConfigFormatContract,
		},
	}, nil
}
