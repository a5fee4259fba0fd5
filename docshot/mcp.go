package docshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers the docshot tools on an MCP server. Cycles started
// without wait run under ctx.
func (r *Runner) RegisterMCP(ctx context.Context, srv *mcp.Server) {
	r.registerRunTool(ctx, srv)
	r.registerTargetsTool(srv)
	r.registerSnapshotsTool(srv)
	r.registerHistoryTool(srv)
}

type toolEndpoint func(ctx context.Context, req any) (any, error)

type toolDecoder func(*mcp.CallToolRequest) (any, error)

// registerTool wires a typed endpoint as an MCP tool. Decode and endpoint
// errors become tool errors; results are returned as JSON text.
func registerTool(srv *mcp.Server, tool *mcp.Tool, endpoint toolEndpoint, decode toolDecoder) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var res mcp.CallToolResult
		in, err := decode(req)
		if err != nil {
			res.SetError(fmt.Errorf("invalid arguments: %w", err))
			return &res, nil
		}
		out, err := endpoint(ctx, in)
		if err != nil {
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}
		data, err := json.Marshal(out)
		if err != nil {
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

// decodeInto returns a decoder that unmarshals arguments into a fresh T.
func decodeInto[T any]() toolDecoder {
	return func(r *mcp.CallToolRequest) (any, error) {
		p := new(T)
		if len(r.Params.Arguments) == 0 {
			return p, nil
		}
		if err := json.Unmarshal(r.Params.Arguments, p); err != nil {
			return nil, err
		}
		return p, nil
	}
}

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

func (r *Runner) registerRunTool(base context.Context, srv *mcp.Server) {
	type req struct {
		URLs []string `json:"urls"`
		Wait bool     `json:"wait"`
	}

	tool := &mcp.Tool{
		Name:        "docshot_run",
		Description: "Capture and compare targets now. Without wait, returns the cycle ID immediately",
		InputSchema: inputSchema(map[string]any{
			"urls": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Subset of configured target URLs (default: all)"},
			"wait": map[string]any{"type": "boolean", "description": "Block until the cycle finishes and return it"},
		}, nil),
	}

	endpoint := func(ctx context.Context, in any) (any, error) {
		p := in.(*req)
		if !p.Wait {
			id, err := r.Start(base, p.URLs)
			if err != nil {
				return nil, err
			}
			return map[string]string{"status": "accepted", "cycle_id": id}, nil
		}
		if len(p.URLs) == 0 {
			return r.Run(ctx)
		}
		return r.RunTargets(ctx, p.URLs)
	}

	registerTool(srv, tool, endpoint, decodeInto[req]())
}

func (r *Runner) registerTargetsTool(srv *mcp.Server) {
	type req struct{}

	tool := &mcp.Tool{
		Name:        "docshot_targets",
		Description: "List the monitored URLs and their identifiers",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(context.Context, any) (any, error) {
		return r.Targets(), nil
	}

	registerTool(srv, tool, endpoint, decodeInto[req]())
}

func (r *Runner) registerSnapshotsTool(srv *mcp.Server) {
	type req struct {
		Identifier string `json:"identifier"`
	}

	tool := &mcp.Tool{
		Name:        "docshot_snapshots",
		Description: "List stored screenshots of a target, newest first",
		InputSchema: inputSchema(map[string]any{
			"identifier": map[string]any{"type": "string", "description": "Target identifier (see docshot_targets)"},
		}, []string{"identifier"}),
	}

	endpoint := func(_ context.Context, in any) (any, error) {
		snaps, err := r.Snapshots(in.(*req).Identifier)
		if err != nil {
			return nil, err
		}
		if snaps == nil {
			snaps = []Snapshot{}
		}
		return snaps, nil
	}

	registerTool(srv, tool, endpoint, decodeInto[req]())
}

func (r *Runner) registerHistoryTool(srv *mcp.Server) {
	type req struct {
		CycleID    string `json:"cycle_id"`
		Identifier string `json:"identifier"`
		Limit      int    `json:"limit"`
	}

	tool := &mcp.Tool{
		Name:        "docshot_history",
		Description: "Recorded runs: one cycle by ID, one target's results, or the latest cycles",
		InputSchema: inputSchema(map[string]any{
			"cycle_id":   map[string]any{"type": "string", "description": "Return this cycle with all results"},
			"identifier": map[string]any{"type": "string", "description": "Return this target's results across cycles"},
			"limit":      map[string]any{"type": "integer", "description": "Max rows (default 50)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, in any) (any, error) {
		p := in.(*req)
		switch {
		case p.CycleID != "":
			return r.Cycle(ctx, p.CycleID)
		case p.Identifier != "":
			return r.History(ctx, p.Identifier, p.Limit)
		default:
			return r.Cycles(ctx, p.Limit)
		}
	}

	registerTool(srv, tool, endpoint, decodeInto[req]())
}
