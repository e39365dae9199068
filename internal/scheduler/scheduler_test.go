package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assadsharif/fte/internal/agent"
	"github.com/assadsharif/fte/internal/approval"
	"github.com/assadsharif/fte/internal/audit"
	"github.com/assadsharif/fte/internal/gate"
	"github.com/assadsharif/fte/internal/priority"
	"github.com/assadsharif/fte/internal/statemachine"
	"github.com/assadsharif/fte/internal/task"
)

func newTestScheduler(t *testing.T, vault string) *Scheduler {
	t.Helper()
	for _, dir := range []string{"Inbox", "Needs_Action", "In_Progress", "Approvals", "Done", "Rejected"} {
		require.NoError(t, os.MkdirAll(filepath.Join(vault, dir), 0o755))
	}

	metaDir := filepath.Join(vault, ".fte")
	auditLog := audit.Open(filepath.Join(metaDir, "audit.log"))
	mgr := approval.NewManager(filepath.Join(vault, "Approvals"), filepath.Join(metaDir, "nonces.log"), filepath.Join(metaDir, "audit.log"))
	g := gate.New(nil, mgr, filepath.Join(vault, "Approvals"))
	machine := statemachine.New(vault, auditLog)
	scorer := priority.NewScorer(nil)
	inv := agent.NewInvoker("true", time.Second)

	s, err := New(Deps{
		VaultPath:          vault,
		PollInterval:       10 * time.Millisecond,
		MaxConcurrentTasks: 2,
		MaxIterations:      3,
		DryRun:             true,
		Scorer:             scorer,
		Machine:            machine,
		Gate:               g,
		Approvals:          mgr,
		AuditLog:           auditLog,
		Invoker:            inv,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeTask(t *testing.T, vault, name, body string) string {
	t.Helper()
	path := filepath.Join(vault, "Needs_Action", name)
	now := time.Now().UTC().Format(time.RFC3339)
	content := "---\n" +
		"id: " + name[:len(name)-3] + "\n" +
		"state: needs_action\n" +
		"priority: medium\n" +
		"created_at: " + now + "\n" +
		"modified_at: " + now + "\n" +
		"metadata: {}\n" +
		"---\n" + body
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestHappyPathDryRunMovesTasksToDone(t *testing.T) {
	vault := t.TempDir()
	s := newTestScheduler(t, vault)

	writeTask(t, vault, "a.md", "# Task\n**Priority**: High\n**Urgency**: ASAP\n")
	writeTask(t, vault, "b.md", "# Task\n**Priority**: Medium\n")
	writeTask(t, vault, "c.md", "# Task\n**Priority**: Low\n")

	stopped, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, stopped)

	for _, name := range []string{"a.md", "b.md", "c.md"} {
		_, err := os.Stat(filepath.Join(vault, "Done", name))
		assert.NoError(t, err, "%s should be in Done", name)
	}

	summary := s.Summary()
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Done)
}

func TestApprovalRequiredBlocksExecution(t *testing.T) {
	vault := t.TempDir()
	s := newTestScheduler(t, vault)

	writeTask(t, vault, "pay.md", "# Task\nplease send payment to the vendor\n")

	stopped, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, stopped)

	_, err = os.Stat(filepath.Join(vault, "Approvals", "pay.md"))
	assert.NoError(t, err, "pay.md should be in Approvals")

	entries, err := os.ReadDir(filepath.Join(vault, "Approvals"))
	require.NoError(t, err)
	var found bool
	for _, e := range entries {
		if len(e.Name()) > 4 && e.Name()[:4] == "APR-" {
			found = true
			data, rerr := os.ReadFile(filepath.Join(vault, "Approvals", e.Name()))
			require.NoError(t, rerr)
			assert.Contains(t, string(data), "approval_status: pending")
			assert.Contains(t, string(data), "action_type: payment")
			assert.Contains(t, string(data), "risk_level: high")
		}
	}
	assert.True(t, found, "expected an APR- approval file")

	summary := s.Summary()
	assert.Equal(t, 1, summary.Pending)
}

func TestStopHookHaltsSweep(t *testing.T) {
	vault := t.TempDir()
	s := newTestScheduler(t, vault)
	writeTask(t, vault, "a.md", "# Task\n")

	require.NoError(t, os.WriteFile(filepath.Join(vault, defaultStopHookFile), []byte(""), 0o644))

	stopped, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, stopped)

	_, err = os.Stat(filepath.Join(vault, "Needs_Action", "a.md"))
	assert.NoError(t, err, "task should remain untouched when stop hook is already set")
}

func TestDiscoverOrdersByScoreDescending(t *testing.T) {
	vault := t.TempDir()
	s := newTestScheduler(t, vault)

	writeTask(t, vault, "low.md", "# Task\n**Priority**: Low\n")
	writeTask(t, vault, "urgent.md", "# Task\n**Priority**: High\n**Urgency**: URGENT\n")

	paths, err := s.discover()
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Contains(t, paths[0], "urgent.md")
}

func TestExcludesActiveTasksFromDiscovery(t *testing.T) {
	vault := t.TempDir()
	s := newTestScheduler(t, vault)
	writeTask(t, vault, "a.md", "# Task\n")

	s.markActive("a", task.StatePlanning)

	paths, err := s.discover()
	require.NoError(t, err)
	assert.Empty(t, paths)
}
