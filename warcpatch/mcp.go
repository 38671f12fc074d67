package warcpatch

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/USC-NSL/IMC-25-Artifact/kit"
	"github.com/USC-NSL/IMC-25-Artifact/ledger"
)

// RegisterMCP registers warcpatch tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerPatchCollectionTool(srv)
	s.registerListJobsTool(srv)
	s.registerRootInitiatorsTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	sc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sc["required"] = required
	}
	return sc
}

// decodeArgs unmarshals tool arguments into v; absent arguments leave v
// zero.
func decodeArgs(req *mcp.CallToolRequest, v any) error {
	if req.Params == nil || len(req.Params.Arguments) == 0 {
		return nil
	}
	return json.Unmarshal(req.Params.Arguments, v)
}

// --- patch collection ---

type patchCollectionReq struct {
	Collection string `json:"collection"`
	Archive    string `json:"archive"`
}

func (s *Service) registerPatchCollectionTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "warcpatch_patch_collection",
		Description: "Patch the static captures of a collection with the script tags of their dynamic captures. Give archive to patch a single archive.",
		InputSchema: inputSchema(map[string]any{
			"collection": map[string]any{"type": "string", "description": "Collection name; defaults to the configured collection"},
			"archive":    map[string]any{"type": "string", "description": "Optional archive name within the collection"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*patchCollectionReq)
		if r.Archive != "" {
			return s.PatchArchive(ctx, r.Collection, r.Archive)
		}
		return s.PatchCollection(ctx, r.Collection)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r patchCollectionReq
		if err := decodeArgs(req, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(s.logger, tool.Name)(endpoint), decode)
}

// --- list jobs ---

type listJobsReq struct {
	Status     string `json:"status"`
	Collection string `json:"collection"`
	Limit      int    `json:"limit"`
}

func (s *Service) registerListJobsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "warcpatch_list_jobs",
		Description: "List recorded patch jobs, newest first, with optional status and collection filters.",
		InputSchema: inputSchema(map[string]any{
			"status":     map[string]any{"type": "string", "enum": []string{"patched", "skipped", "failed"}},
			"collection": map[string]any{"type": "string"},
			"limit":      map[string]any{"type": "integer", "description": "Max results (default 100)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*listJobsReq)
		f := ledger.Filter{Collection: r.Collection, Limit: r.Limit}
		if r.Status != "" {
			st, err := ledger.ParseStatus(r.Status)
			if err != nil {
				return nil, err
			}
			f.Status = st
		}
		jobs, err := s.Jobs(ctx, f)
		if err != nil {
			return nil, err
		}
		return map[string]any{"jobs": jobs, "count": len(jobs)}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r listJobsReq
		if err := decodeArgs(req, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(s.logger, tool.Name)(endpoint), decode)
}

// --- root initiators ---

type rootInitiatorsReq struct {
	Prefix string `json:"prefix"`
}

func (s *Service) registerRootInitiatorsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "warcpatch_root_initiators",
		Description: "Report, for every resource a capture loaded, the page tags that initiated it.",
		InputSchema: inputSchema(map[string]any{
			"prefix": map[string]any{"type": "string", "description": "Capture prefix relative to <archive_dir>/writes, e.g. col/example.com_1a2b3c/record-js-0"},
		}, []string{"prefix"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*rootInitiatorsReq)
		return s.Initiators(r.Prefix)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r rootInitiatorsReq
		if err := decodeArgs(req, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(s.logger, tool.Name)(endpoint), decode)
}
