// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes mrtrack identifier tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/mrtrack/internal/catalog"
	"github.com/starford/mrtrack/internal/scanid"
	"github.com/starford/mrtrack/internal/scanservice"
)

const contractURI = "mrtrack://naming-contract"

// Server wraps the MCP server with mrtrack tools.
type Server struct {
	mcp *server.MCPServer
	svc *scanservice.Service
}

// New creates a new MCP server with all mrtrack tools registered.
func New(svc *scanservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"mrtrack",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("parse_identifier",
		mcp.WithDescription("Parse a scan label or file name into its fields. "+
			"Without a convention, Internal, Site-Issued and Interchange are tried in that order."),
		mcp.WithString("raw", mcp.Required(), mcp.Description("Label or file name (e.g. STU01_UTO_10001_01_SE01)")),
		mcp.WithString("convention", mcp.Description("internal, site-issued or interchange")),
		mcp.WithString("kind", mcp.Description("subject, phantom or file (empty for any label)")),
	), s.parseIdentifier)

	s.mcp.AddTool(mcp.NewTool("translate_identifier",
		mcp.WithDescription("Translate a label into another naming convention using the study mapping tables."),
		mcp.WithString("raw", mcp.Required(), mcp.Description("Label to translate")),
		mcp.WithString("to", mcp.Required(), mcp.Description("Target convention")),
		mcp.WithString("from", mcp.Description("Source convention (detected when empty)")),
	), s.translateIdentifier)

	s.mcp.AddTool(mcp.NewTool("match_identifiers",
		mcp.WithDescription("Report whether two labels name the same subject visit."),
		mcp.WithString("a", mcp.Required(), mcp.Description("First label")),
		mcp.WithString("b", mcp.Required(), mcp.Description("Second label")),
		mcp.WithString("ignore", mcp.Description("Comma-separated fields to ignore (e.g. session,timepoint)")),
		mcp.WithBoolean("canonical", mcp.Description("Translate both sides to Internal before comparing")),
	), s.matchIdentifiers)

	s.mcp.AddTool(mcp.NewTool("list_scans",
		mcp.WithDescription("List catalogued scan files, optionally filtered by study, site or subject."),
		mcp.WithString("study", mcp.Description("Study code")),
		mcp.WithString("site", mcp.Description("Site code")),
		mcp.WithString("subject", mcp.Description("Subject code")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 100)")),
	), s.listScans)

	s.mcp.AddTool(mcp.NewTool("get_naming_contract",
		mcp.WithDescription("Returns the scan naming contract. "+
			"Call this before constructing labels or file names."),
	), s.getNamingContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Naming Contract",
			mcp.WithResourceDescription("Grammar of the Internal, Site-Issued and Interchange conventions."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNamingContractResource,
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

// toolError renders identifier failures with their kind so the caller can
// tell a malformed label from a missing mapping.
func toolError(err error) *mcp.CallToolResult {
	if kind := scanid.KindOf(err); kind != "" {
		return mcp.NewToolResultError(kind + ": " + err.Error())
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func optionalConvention(s string) (scanid.Convention, error) {
	if s == "" {
		return 0, nil
	}
	return scanid.ParseConvention(s)
}

func (s *Server) parseIdentifier(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("raw")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	conv, err := optionalConvention(req.GetString("convention", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	kind, err := scanid.ParseKind(req.GetString("kind", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var id scanid.Identifier
	if kind == scanid.KindFile {
		id, err = s.svc.ParseFile(ctx, raw, conv)
	} else {
		id, err = s.svc.ParseLabel(ctx, raw, conv, kind)
	}
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(id), nil
}

func (s *Server) translateIdentifier(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("raw")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	toName, err := req.RequireString("to")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	to, err := scanid.ParseConvention(toName)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	from, err := optionalConvention(req.GetString("from", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	id, err := s.svc.ParseLabel(ctx, raw, from, scanid.KindAny)
	if err != nil {
		return toolError(err), nil
	}
	out, err := s.svc.Translate(ctx, id, to)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(out.String()), nil
}

func (s *Server) matchIdentifiers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, err := req.RequireString("a")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	b, err := req.RequireString("b")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var names []string
	if v := req.GetString("ignore", ""); v != "" {
		names = strings.Split(v, ",")
	}
	ignore, err := scanservice.ParseIgnore(names)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.svc.Match(ctx, a, b, scanservice.MatchOptions{
		Ignore:    ignore,
		Canonical: req.GetBool("canonical", false),
	})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(res), nil
}

func (s *Server) listScans(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scans, total, err := s.svc.ListScans(ctx, catalog.Filter{
		Study:   req.GetString("study", ""),
		Site:    req.GetString("site", ""),
		Subject: req.GetString("subject", ""),
		Limit:   req.GetInt("limit", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if total == 0 {
		return mcp.NewToolResultText("no scans found"), nil
	}
	return jsonResult(map[string]any{"scans": scans, "total": total}), nil
}

func (s *Server) getNamingContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NamingContract), nil
}

func (s *Server) readNamingContractResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     NamingContract,
		},
	}, nil
}
