package scheduler

import (
	"context"
	"fmt"

	"github.com/assadsharif/fte/internal/agent"
	"github.com/assadsharif/fte/internal/security"
	"github.com/assadsharif/fte/internal/task"
)

// mcpInvoker adapts an MCP tool call into the persistence.Invoker interface
// so a task whose metadata names an outbound capability server is driven
// through the same bounded-retry loop as an agent invocation, with every
// attempt passing through the security gate's rate limiter, breaker, and
// audit pipeline (C13).
type mcpInvoker struct {
	gate   *security.Gate
	client mcpClient
	server string
	tool   string
	args   map[string]interface{}
	opts   security.CallOptions
}

// mcpClient is the subset of *mcpclient.Client the invoker needs; declared
// locally so tests can substitute a fake without pulling in the real
// stdio transport.
type mcpClient interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error)
}

func (m *mcpInvoker) Invoke(taskPath string) agent.Result {
	out, err := security.Call(m.gate, m.server, m.tool, m.opts, func() (map[string]interface{}, error) {
		return m.client.CallTool(context.Background(), m.tool, m.args)
	})
	if err != nil {
		return agent.Result{Success: false, Stderr: err.Error()}
	}
	return agent.Result{Success: true, Stdout: fmt.Sprintf("%v", out["text"])}
}

func (m *mcpInvoker) DryRun(taskPath string) agent.Result {
	return agent.Result{Success: true, Stdout: fmt.Sprintf("dry-run: would call %s.%s", m.server, m.tool)}
}

// mcpTarget reads the optional mcp_server/mcp_tool/mcp_args task metadata
// fields that route execution to an external capability server instead of
// the agent invoker.
func mcpTarget(t *task.Task) (server, tool string, args map[string]interface{}, ok bool) {
	if t.Metadata == nil {
		return "", "", nil, false
	}
	server, _ = t.Metadata["mcp_server"].(string)
	tool, _ = t.Metadata["mcp_tool"].(string)
	if server == "" || tool == "" {
		return "", "", nil, false
	}
	if raw, present := t.Metadata["mcp_args"]; present {
		args, _ = raw.(map[string]interface{})
	}
	return server, tool, args, true
}
