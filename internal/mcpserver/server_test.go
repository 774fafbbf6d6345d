package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/mrtrack/internal/testutil"
)

func testServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir, svc := testutil.TestService(t)
	return New(svc), dir
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no in-process call helper, so dispatch to the handlers directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "parse_identifier":
		result, err = srv.parseIdentifier(ctx, req)
	case "translate_identifier":
		result, err = srv.translateIdentifier(ctx, req)
	case "match_identifiers":
		result, err = srv.matchIdentifiers(ctx, req)
	case "list_scans":
		result, err = srv.listScans(ctx, req)
	case "get_naming_contract":
		result, err = srv.getNamingContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestParseIdentifier(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "parse_identifier", map[string]interface{}{
		"raw": "stx01_utp_a-17_bl",
	})
	if r.IsError {
		t.Fatalf("parse failed: %s", resultText(r))
	}
	var id map[string]any
	if err := json.Unmarshal([]byte(resultText(r)), &id); err != nil {
		t.Fatal(err)
	}
	if id["convention"] != "site-issued" || id["label"] != "STX01_UTP_A-17_BL" {
		t.Errorf("parsed = %v", id)
	}
}

func TestParseIdentifier_ErrorKind(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "parse_identifier", map[string]interface{}{
		"raw":        "STU01_UTO_10001_01_SE00",
		"convention": "internal",
	})
	if !r.IsError {
		t.Fatal("expected error for session 00")
	}
	if !strings.HasPrefix(resultText(r), "field_validation: ") {
		t.Errorf("error = %q", resultText(r))
	}

	r = callTool(t, srv, "parse_identifier", map[string]interface{}{})
	if !r.IsError {
		t.Error("expected error for missing raw")
	}
}

func TestTranslateIdentifier(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "translate_identifier", map[string]interface{}{
		"raw": "STU01_UTO_10001_01_SE01",
		"to":  "site-issued",
	})
	if got := resultText(r); got != "STX01_UTP_A-17_01_01" {
		t.Errorf("translate = %q", got)
	}

	r = callTool(t, srv, "translate_identifier", map[string]interface{}{
		"raw": "STU01_UTO_10001_01_SE01",
		"to":  "interchange",
	})
	if got := resultText(r); got != "sub-10001_ses-01" {
		t.Errorf("interchange = %q", got)
	}

	r = callTool(t, srv, "translate_identifier", map[string]interface{}{
		"raw": "STU01_UTO_99999",
		"to":  "site-issued",
	})
	if !r.IsError || !strings.HasPrefix(resultText(r), "unmapped_identifier: ") {
		t.Errorf("unmapped = %q", resultText(r))
	}
}

func TestMatchIdentifiers(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "match_identifiers", map[string]interface{}{
		"a":      "STU01_UTO_10001_01_SE01",
		"b":      "STU01_UTO_10001_01_SE02",
		"ignore": "session",
	})
	var res struct {
		Match bool `json:"match"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &res); err != nil {
		t.Fatalf("decode %q: %v", resultText(r), err)
	}
	if !res.Match {
		t.Error("expected match ignoring session")
	}

	r = callTool(t, srv, "match_identifiers", map[string]interface{}{
		"a":         "STX01_UTP_A-17_01",
		"b":         "STU01_UTO_10001_01_SE01",
		"canonical": true,
	})
	res.Match = false
	_ = json.Unmarshal([]byte(resultText(r)), &res)
	if !res.Match {
		t.Errorf("expected canonical match: %s", resultText(r))
	}
}

func TestListScans(t *testing.T) {
	srv, dir := testServer(t)

	r := callTool(t, srv, "list_scans", map[string]interface{}{})
	if got := resultText(r); got != "no scans found" {
		t.Errorf("empty catalog = %q", got)
	}

	testutil.WriteFile(t, dir, "STU01_UTO_10001_01_SE01_T1.nii")
	if _, err := srv.svc.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	r = callTool(t, srv, "list_scans", map[string]interface{}{"study": "STU01"})
	if !strings.Contains(resultText(r), "STU01_UTO_10001_01_SE01_T1.nii") {
		t.Errorf("list = %q", resultText(r))
	}
}

func TestNamingContract(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "get_naming_contract", nil)
	if !strings.Contains(resultText(r), "## Interchange") {
		t.Error("contract is missing the Interchange section")
	}

	contents, err := srv.readNamingContractResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if tc, ok := contents[0].(mcp.TextResourceContents); !ok || tc.URI != contractURI {
		t.Errorf("resource = %#v", contents[0])
	}
}
