package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvokeBinaryNotFound(t *testing.T) {
	inv := NewInvoker("definitely-not-a-real-binary-xyz", time.Second)
	res := inv.Invoke(filepath.Join(t.TempDir(), "a.md"))
	assert.False(t, res.Success)
	assert.Contains(t, res.Stderr, "not found")
	assert.Equal(t, -1, res.ExitCode)
}

func TestInvokeSuccess(t *testing.T) {
	inv := NewInvoker("true", time.Second)
	res := inv.Invoke(filepath.Join(t.TempDir(), "a.md"))
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ExitCode)
}

func TestInvokeFailure(t *testing.T) {
	inv := NewInvoker("false", time.Second)
	res := inv.Invoke(filepath.Join(t.TempDir(), "a.md"))
	assert.False(t, res.Success)
	assert.NotEqual(t, 0, res.ExitCode)
}

func TestInvokeTimeout(t *testing.T) {
	script := filepath.Join(t.TempDir(), "slow.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nsleep 5\n"), 0o755))

	inv := NewInvoker(script, 50*time.Millisecond)
	res := inv.Invoke(filepath.Join(t.TempDir(), "a.md"))
	assert.False(t, res.Success)
	assert.True(t, res.TimedOut)
}

func TestDryRun(t *testing.T) {
	inv := NewInvoker("claude", time.Second)
	res := inv.DryRun("task.md")
	assert.True(t, res.Success)
	assert.Contains(t, res.Stdout, "DRY-RUN")
}
