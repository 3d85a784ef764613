// Package mcpbridge exposes tools from external MCP (Model Context Protocol)
// servers as capability handlers. A bridged tool gets the kind
// "mcp__<server>__<tool>" and goes through the same classification, PIN gate
// and audit as native handlers.
package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/capability"
	"github.com/jkaninda/warden/internal/config"
)

// KindPrefix prefixes every bridged kind.
const KindPrefix = "mcp__"

// KindFor returns the namespaced kind of a server tool.
func KindFor(server, tool string) action.Kind {
	return action.Kind(fmt.Sprintf("%s%s__%s", KindPrefix, server, tool))
}

// caller is the slice of the MCP client a Tool needs.
type caller interface {
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Tool adapts one MCP server tool into a capability.Handler.
type Tool struct {
	kind         action.Kind
	description  string
	inputSchema  map[string]any
	client       caller
	originalName string
	serverName   string
	logger       *slog.Logger
}

var _ capability.Handler = (*Tool)(nil)

func (t *Tool) Kind() action.Kind           { return t.kind }
func (t *Tool) Description() string         { return t.description }
func (t *Tool) InputSchema() map[string]any { return t.inputSchema }

// Invoke calls the remote tool. Transport failures and tool-reported errors
// both come back as failed results.
func (t *Tool) Invoke(ctx context.Context, params action.Params) action.Result {
	t.logger.InfoContext(ctx, "mcp tool executing",
		slog.String("server", t.serverName),
		slog.String("tool", t.originalName),
	)

	req := mcp.CallToolRequest{}
	req.Params.Name = t.originalName
	req.Params.Arguments = map[string]any(params)

	res, err := t.client.CallTool(ctx, req)
	if err != nil {
		return action.Fail("MCP call to %s/%s failed: %v", t.serverName, t.originalName, err)
	}

	out := capability.TruncateOutput(formatContent(res.Content), capability.MaxOutputBytes)
	return action.Result{Success: !res.IsError, Message: out}.
		WithData("mcp_server", t.serverName).
		WithData("mcp_tool", t.originalName).
		WithData("content_items", len(res.Content))
}

// formatContent joins MCP content items; non-text items are JSON encoded.
func formatContent(content []mcp.Content) string {
	var sb strings.Builder
	for i, c := range content {
		if i > 0 {
			sb.WriteString("\n")
		}
		if tc, ok := mcp.AsTextContent(c); ok {
			sb.WriteString(tc.Text)
			continue
		}
		data, _ := json.Marshal(c)
		sb.Write(data)
	}
	return sb.String()
}

// Bridge owns the MCP client connections.
type Bridge struct {
	clients []mcpclient.MCPClient
	logger  *slog.Logger
}

// NewBridge creates an empty bridge.
func NewBridge(logger *slog.Logger) *Bridge {
	return &Bridge{logger: logger}
}

// Connect performs the MCP handshake with one server and returns a Tool
// for every tool it lists.
func (b *Bridge) Connect(ctx context.Context, cfg config.MCPServerConfig, version string) ([]*Tool, error) {
	c, err := newClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating MCP client for %q: %w", cfg.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "warden", Version: version}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("MCP initialize for %q: %w", cfg.Name, err)
	}
	b.clients = append(b.clients, c)

	list, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("MCP list tools for %q: %w", cfg.Name, err)
	}

	out := make([]*Tool, 0, len(list.Tools))
	for _, t := range list.Tools {
		if !cfg.Exposes(t.Name) {
			continue
		}
		out = append(out, &Tool{
			kind:         KindFor(cfg.Name, t.Name),
			description:  fmt.Sprintf("[MCP:%s] %s", cfg.Name, t.Description),
			inputSchema:  convertInputSchema(t.InputSchema),
			client:       c,
			originalName: t.Name,
			serverName:   cfg.Name,
			logger:       b.logger,
		})
	}

	b.logger.Info("MCP server connected",
		slog.String("server", cfg.Name),
		slog.String("transport", cfg.Transport),
		slog.Int("tools", len(out)),
		slog.Bool("dangerous", cfg.Dangerous),
	)
	return out, nil
}

// Close shuts down every client connection.
func (b *Bridge) Close() {
	for _, c := range b.clients {
		if err := c.Close(); err != nil {
			b.logger.Error("closing MCP client", slog.String("error", err.Error()))
		}
	}
	b.clients = nil
}

func newClient(cfg config.MCPServerConfig) (*mcpclient.Client, error) {
	switch cfg.Transport {
	case "stdio":
		return mcpclient.NewStdioMCPClient(cfg.Command, expandEnvList(cfg.Env), cfg.Args...)
	case "sse":
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(expandEnvMap(cfg.Headers)))
		}
		return mcpclient.NewSSEMCPClient(cfg.URL, opts...)
	case "streamable_http":
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(expandEnvMap(cfg.Headers)))
		}
		return mcpclient.NewStreamableHttpClient(cfg.URL, opts...)
	default:
		return nil, fmt.Errorf("unsupported transport: %s", cfg.Transport)
	}
}

// convertInputSchema turns the MCP schema into the map form the registry
// validator compiles.
func convertInputSchema(schema mcp.ToolInputSchema) map[string]any {
	typ := schema.Type
	if typ == "" {
		typ = "object"
	}
	out := map[string]any{"type": typ}
	if schema.Properties != nil {
		out["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		req := make([]any, len(schema.Required))
		for i, r := range schema.Required {
			req[i] = r
		}
		out["required"] = req
	}
	return out
}

func expandEnvList(m map[string]string) []string {
	env := make([]string, 0, len(m))
	for k, v := range m {
		env = append(env, k+"="+os.ExpandEnv(v))
	}
	return env
}

func expandEnvMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = os.ExpandEnv(v)
	}
	return out
}
