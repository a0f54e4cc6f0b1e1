package mirror

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/treemirror/kit"
)

// RegisterMCP registers the mirror's query tools on an MCP server.
func (m *Mirror) RegisterMCP(srv *mcp.Server) {
	m.registerGetNodeTool(srv)
	m.registerFindTool(srv)
	m.registerStatusTool(srv)
}

// toolMiddleware logs each call of tool and counts it by result kind.
func (m *Mirror) toolMiddleware(tool string) kit.Middleware {
	count := func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			resp, err := next(ctx, req)
			m.metrics.recordToolCall(tool, errorKind(err))
			return resp, err
		}
	}
	return kit.Chain(kit.Logging(m.logger, tool), count)
}

// --- get_node ---

type getNodeRequest struct {
	Path  string `json:"path"`
	Depth *int   `json:"depth,omitempty"`
}

func (m *Mirror) registerGetNodeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "treemirror_get_node",
		Description: "Get a node of the mirrored tree by its dot-joined path, with its children down to the given depth.",
		InputSchema: kit.InputSchema(map[string]any{
			"path":  map[string]any{"type": "string", "description": "Node path, e.g. game.Workspace.Baseplate"},
			"depth": map[string]any{"type": "integer", "description": "Levels of children to include (default 1, -1 for the whole subtree)"},
		}, "path"),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*getNodeRequest)
		depth := 1
		if r.Depth != nil {
			depth = *r.Depth
		}
		return m.GetNode(r.Path, depth)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r getNodeRequest
		if err := kit.DecodeArgs(req, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, m.toolMiddleware(tool.Name)(endpoint), decode)
}

// --- find ---

type findRequest struct {
	Class  string `json:"class,omitempty"`
	Prefix string `json:"prefix,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type findResponse struct {
	Nodes any `json:"nodes"`
	Count int `json:"count"`
}

func (m *Mirror) registerFindTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "treemirror_find",
		Description: "Find nodes of the mirrored tree by class name under a path prefix. Returns the nodes without their children.",
		InputSchema: kit.InputSchema(map[string]any{
			"class":  map[string]any{"type": "string", "description": "Class name to match (empty for any)"},
			"prefix": map[string]any{"type": "string", "description": "Only nodes at or below this path"},
			"limit":  map[string]any{"type": "integer", "description": "Max results (default 100, max 1000)"},
		}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*findRequest)
		limit := r.Limit
		if limit <= 0 {
			limit = defaultFindLimit
		}
		if limit > maxFindLimit {
			limit = maxFindLimit
		}
		nodes, err := m.Find(r.Class, r.Prefix, limit)
		if err != nil {
			return nil, err
		}
		return findResponse{Nodes: nodes, Count: len(nodes)}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r findRequest
		if err := kit.DecodeArgs(req, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, m.toolMiddleware(tool.Name)(endpoint), decode)
}

// --- status ---

func (m *Mirror) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "treemirror_status",
		Description: "Report whether the mirror holds a tree, its version, node count, snapshot metadata and any in-flight transfer.",
		InputSchema: kit.InputSchema(map[string]any{}),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return m.Status(), nil
	}

	decode := func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{}, nil
	}

	kit.RegisterMCPTool(srv, tool, m.toolMiddleware(tool.Name)(endpoint), decode)
}
