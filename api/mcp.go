package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/courrier/docerr"
	"github.com/hazyhaar/courrier/kit"
)

// RegisterMCP registers the courrier tools on an MCP server.
func (s *Server) RegisterMCP(srv *mcp.Server) {
	s.registerDocumentsTool(srv)
	s.registerExtractTool(srv)
}

// publicErr strips internal causes before an error crosses the wire.
func publicErr(err error) error { return errors.New(docerr.Public(err)) }

type documentsReq struct {
	Limit int `json:"limit"`
}

func (s *Server) registerDocumentsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "courrier_documents",
		Description: "List archived letters, newest first.",
		InputSchema: kit.InputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Maximum number of records (0 = all)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*documentsReq)
		recs, err := s.store.List(ctx)
		if err != nil {
			s.logger.Error("mcp: list documents", "error", err)
			return nil, errors.New("internal error")
		}
		if r.Limit > 0 && len(recs) > r.Limit {
			recs = recs[:r.Limit]
		}
		return map[string]any{"documents": recs, "count": len(recs)}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r documentsReq
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.WithLogging(s.logger, "courrier_documents")(endpoint), decode)
}

type extractReq struct {
	Data string `json:"data"` // base64
	MIME string `json:"mime"`
}

func (s *Server) registerExtractTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "courrier_extract_text",
		Description: "Recognize the text of a scanned letter (image or PDF, base64 encoded).",
		InputSchema: kit.InputSchema(map[string]any{
			"data": map[string]any{"type": "string", "description": "Document bytes, base64"},
			"mime": map[string]any{"type": "string", "description": "MIME type, e.g. image/jpeg or application/pdf"},
		}, []string{"data", "mime"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*extractReq)
		data, err := base64.StdEncoding.DecodeString(r.Data)
		if err != nil {
			return nil, fmt.Errorf("data is not valid base64")
		}
		res, err := s.pipeline.ExtractText(ctx, data, r.MIME)
		if err != nil {
			return nil, publicErr(err)
		}
		return map[string]any{"text": res.Text, "pages": res.Pages}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r extractReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.WithLogging(s.logger, "courrier_extract_text")(endpoint), decode)
}
