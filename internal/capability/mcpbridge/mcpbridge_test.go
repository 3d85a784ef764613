package mcpbridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/capability"
	"github.com/jkaninda/warden/internal/config"
)

type fakeCaller struct {
	got mcp.CallToolRequest
	res *mcp.CallToolResult
	err error
}

func (f *fakeCaller) CallTool(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.got = req
	return f.res, f.err
}

func newTool(c caller) *Tool {
	return &Tool{
		kind:         KindFor("notes", "append"),
		inputSchema:  map[string]any{"type": "object"},
		client:       c,
		originalName: "append",
		serverName:   "notes",
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestKindFor(t *testing.T) {
	if got := KindFor("git", "log"); got != action.Kind("mcp__git__log") {
		t.Errorf("KindFor = %q", got)
	}
}

func TestTool_Invoke(t *testing.T) {
	fc := &fakeCaller{res: &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: "line one"},
			mcp.TextContent{Type: "text", Text: "line two"},
		},
	}}
	res := newTool(fc).Invoke(context.Background(), action.Params{"text": "hello"})
	if !res.Success || res.Message != "line one\nline two" {
		t.Errorf("unexpected result %+v", res)
	}
	if fc.got.Params.Name != "append" {
		t.Errorf("called %q", fc.got.Params.Name)
	}
	if res.Data["mcp_server"] != "notes" || res.Data["content_items"] != 2 {
		t.Errorf("data = %v", res.Data)
	}
}

func TestTool_InvokeErrors(t *testing.T) {
	res := newTool(&fakeCaller{err: errors.New("broken pipe")}).Invoke(context.Background(), nil)
	if res.Success {
		t.Error("transport error should fail")
	}

	res = newTool(&fakeCaller{res: &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "denied"}},
	}}).Invoke(context.Background(), nil)
	if res.Success || res.Message != "denied" {
		t.Errorf("tool error = %+v", res)
	}
}

func TestConvertInputSchema_RegistersWithValidator(t *testing.T) {
	schema := convertInputSchema(mcp.ToolInputSchema{
		Properties: map[string]any{"text": map[string]any{"type": "string"}},
		Required:   []string{"text"},
	})
	if schema["type"] != "object" {
		t.Errorf("type = %v", schema["type"])
	}

	tool := newTool(&fakeCaller{})
	tool.inputSchema = schema
	reg := capability.NewRegistry()
	reg.Register(tool)
	if err := reg.Validate(tool.Kind(), action.Params{}); err == nil {
		t.Error("missing required property should fail validation")
	}
	if err := reg.Validate(tool.Kind(), action.Params{"text": "x"}); err != nil {
		t.Errorf("valid params rejected: %v", err)
	}
}

func TestNewClient_UnsupportedTransport(t *testing.T) {
	if _, err := newClient(config.MCPServerConfig{Name: "x", Transport: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error")
	}
}
