package deploy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/brandpush/journal"
	"github.com/hazyhaar/brandpush/render"
)

// MCPDeps wires the deployment tools onto an MCP server. Deploy may be nil
// to expose only the read-side tools.
type MCPDeps struct {
	Journal *journal.Journal
	// Deploy renders the current loader and runs the full workflow.
	Deploy func(ctx context.Context) (*Report, error)
}

// RegisterMCP registers the brandpush tools.
func RegisterMCP(srv *mcp.Server, deps MCPDeps) {
	registerRenderTool(srv)
	if deps.Journal != nil {
		registerRunsTool(srv, deps.Journal)
	}
	if deps.Deploy != nil {
		registerDeployTool(srv, deps.Deploy)
	}
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func textResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		var res mcp.CallToolResult
		res.SetError(err)
		return &res, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

func errResult(err error) (*mcp.CallToolResult, error) {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res, nil
}

type renderRequest struct {
	RuntimeURL    string          `json:"runtime_url"`
	Config        json.RawMessage `json:"config,omitempty"`
	PreservedCode string          `json:"preserved_code,omitempty"`
}

func registerRenderTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "brandpush_render",
		Description: "Render a theme-JS loader asset for a runtime URL and config object.",
		InputSchema: inputSchema(map[string]any{
			"runtime_url":    map[string]any{"type": "string", "description": "Remote runtime bundle URL"},
			"config":         map[string]any{"type": "object", "description": "Config object embedded into the loader"},
			"preserved_code": map[string]any{"type": "string", "description": "Operator code carried verbatim in the marker block"},
		}, []string{"runtime_url"}),
	}

	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r renderRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return errResult(fmt.Errorf("brandpush_render: invalid arguments: %w", err))
		}
		out, err := render.Render(render.Params{
			RuntimeURL:    r.RuntimeURL,
			Config:        r.Config,
			PreservedCode: r.PreservedCode,
		})
		if err != nil {
			return errResult(err)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: out}},
		}, nil
	})
}

type runsRequest struct {
	Limit int `json:"limit,omitempty"`
}

func registerRunsTool(srv *mcp.Server, j *journal.Journal) {
	tool := &mcp.Tool{
		Name:        "brandpush_runs",
		Description: "List recent deployment runs from the journal, newest first.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max runs (default 20)"},
		}, nil),
	}

	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r runsRequest
		if req.Params.Arguments != nil {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return errResult(fmt.Errorf("brandpush_runs: invalid arguments: %w", err))
			}
		}
		runs, err := j.Runs(ctx, r.Limit)
		if err != nil {
			return errResult(err)
		}
		return textResult(runs)
	})
}

func registerDeployTool(srv *mcp.Server, deployFn func(ctx context.Context) (*Report, error)) {
	tool := &mcp.Tool{
		Name:        "brandpush_deploy",
		Description: "Run the full theme deployment workflow: upload, await jobs, apply, persist.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		report, err := deployFn(ctx)
		if err != nil {
			if report != nil && report.MD5 != "" {
				// Surface the partial outcome: the asset may be uploaded
				// and applied even though the workflow failed later.
				return errResult(fmt.Errorf("%w (asset md5 %s, locator %s, state %s)",
					err, report.MD5, report.Locator, report.FinalState))
			}
			return errResult(err)
		}
		return textResult(map[string]any{
			"state":     report.FinalState,
			"theme":     report.ThemeName,
			"shared_id": report.SharedID,
			"md5":       report.MD5,
			"locator":   report.Locator,
		})
	})
}
