// Package mcpclient supplies the concrete outbound transport the security
// gate (internal/security) wraps: a stdio-transport MCP tool call via
// mark3labs/mcp-go.
package mcpclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tidwall/gjson"
)

// Config describes one MCP capability server reachable over stdio.
type Config struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
}

// Client lazily connects to an MCP server and round-trips tool calls
// through it. The connection is established on first CallTool.
type Client struct {
	cfg Config

	mu        sync.Mutex
	inner     *client.Client
	connected bool
}

// New returns a Client for cfg. The connection is not established until
// the first call.
func New(cfg Config) *Client {
	return &Client{cfg: cfg}
}

func (c *Client) connect(ctx context.Context) error {
	if c.connected {
		return nil
	}
	env := make([]string, 0, len(c.cfg.Env))
	for k, v := range c.cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	mcpClient, err := client.NewStdioMCPClient(c.cfg.Command, env, c.cfg.Args...)
	if err != nil {
		return fmt.Errorf("create MCP client for %s: %w", c.cfg.Name, err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("start MCP client for %s: %w", c.cfg.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "fte", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("initialize MCP client for %s: %w", c.cfg.Name, err)
	}

	c.inner = mcpClient
	c.connected = true
	return nil
}

// CallTool invokes name on the server with args, connecting lazily. This
// is the `fn` the security gate's Call wraps with rate-limiting, breaker,
// and audit behavior.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := c.inner.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("MCP call to %s failed: %w", name, err)
	}
	return parseResult(resp)
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inner != nil {
		return c.inner.Close()
	}
	return nil
}

// parseResult flattens an MCP tool result into a plain map. Most servers
// return one text content block holding a JSON payload; gjson pulls out the
// handful of fields mcpInvoker callers care about (`result`, `status`)
// without requiring a struct per server, and text content is kept verbatim
// alongside it so a caller needing the raw body still has it.
func parseResult(resp *mcp.CallToolResult) (map[string]any, error) {
	if resp == nil {
		return map[string]any{}, nil
	}
	out := map[string]any{}
	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	if len(texts) > 0 {
		out["text"] = texts
		joined := texts[len(texts)-1]
		if gjson.Valid(joined) {
			if result := gjson.Get(joined, "result"); result.Exists() {
				out["result"] = result.Value()
			}
			if status := gjson.Get(joined, "status"); status.Exists() {
				out["status"] = status.String()
			}
		}
	}
	if resp.IsError {
		return out, fmt.Errorf("MCP tool reported an error result")
	}
	return out, nil
}
