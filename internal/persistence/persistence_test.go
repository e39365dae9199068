package persistence

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assadsharif/fte/internal/agent"
	"github.com/assadsharif/fte/internal/task"
)

type scriptedInvoker struct {
	results []agent.Result
	calls   int
}

func (s *scriptedInvoker) Invoke(string) agent.Result {
	r := s.results[s.calls]
	if s.calls < len(s.results)-1 {
		s.calls++
	}
	return r
}

func (s *scriptedInvoker) DryRun(string) agent.Result {
	return agent.Result{Success: true}
}

type neverStop struct{}

func (neverStop) IsSet() bool { return false }

func newTask(t *testing.T, path string) {
	t.Helper()
	now := time.Now().UTC()
	tk := &task.Task{ID: "a", State: task.StateExecuting, Priority: task.PriorityMedium, CreatedAt: now, ModifiedAt: now, Body: "# t\n"}
	require.NoError(t, task.Save(tk, path))
}

func TestTransientRecoverySucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.md")
	newTask(t, path)

	inv := &scriptedInvoker{results: []agent.Result{
		{Success: false, Stderr: "rate limit exceeded"},
		{Success: false, Stderr: "rate limit exceeded"},
		{Success: true},
	}}
	loop := NewLoop(5, inv, neverStop{})
	loop.Sleep = func(time.Duration) {}

	res, err := loop.Run(path, false)
	require.NoError(t, err)
	assert.True(t, res.Success)

	final, err := task.Load(path)
	require.NoError(t, err)
	require.NotNil(t, final.Checkpoint)
	assert.Equal(t, 0, final.Checkpoint.ConsecutiveRetries)
	assert.Equal(t, 3, final.Checkpoint.Iteration)
}

func TestMaxIterationsExceeded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.md")
	newTask(t, path)

	inv := &scriptedInvoker{results: []agent.Result{{Success: false, Stderr: "temporary error"}}}
	loop := NewLoop(3, inv, neverStop{})
	loop.Sleep = func(time.Duration) {}

	res, err := loop.Run(path, false)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Stderr, "Max iterations (3) exceeded")
	assert.Equal(t, -2, res.ExitCode)

	final, err := task.Load(path)
	require.NoError(t, err)
	assert.Equal(t, true, final.Checkpoint.StateData["max_iterations_exceeded"])
}

func TestWarningEmittedAtEightyPercentBoundary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.md")
	newTask(t, path)

	inv := &scriptedInvoker{results: []agent.Result{{Success: false, Stderr: "lock acquisition timeout"}}}
	loop := NewLoop(5, inv, neverStop{})
	loop.Sleep = func(time.Duration) {}

	var buf bytes.Buffer
	loop.Logger = slog.New(slog.NewTextHandler(&buf, nil))

	res, err := loop.Run(path, false)
	require.NoError(t, err)
	assert.False(t, res.Success)

	assert.Contains(t, buf.String(), "approaching max iterations")
	assert.Contains(t, buf.String(), "iteration=5")
}

func TestHardFailureReturnsImmediately(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.md")
	newTask(t, path)

	inv := &scriptedInvoker{results: []agent.Result{{Success: false, Stderr: "invalid syntax error in task"}}}
	loop := NewLoop(5, inv, neverStop{})
	loop.Sleep = func(time.Duration) {}

	res, err := loop.Run(path, false)
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestDryRunSucceedsImmediately(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.md")
	newTask(t, path)

	inv := &scriptedInvoker{results: []agent.Result{{Success: false}}}
	loop := NewLoop(5, inv, neverStop{})
	loop.Sleep = func(time.Duration) {}

	res, err := loop.Run(path, true)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, ErrorRateLimit, ClassifyError("rate limit hit"))
	assert.Equal(t, ErrorTimeout, ClassifyError("request timed out"))
	assert.Equal(t, ErrorGenericTransient, ClassifyError("try again later"))
}
