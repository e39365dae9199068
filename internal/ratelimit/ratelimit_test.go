package ratelimit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumeThenRemaining(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "ratelimit.json"))
	before := l.Remaining("mcp1", "deploy")
	require.NoError(t, l.Consume("mcp1", "deploy", 1))
	after := l.Remaining("mcp1", "deploy")
	assert.InDelta(t, before-1, after, 0.01)
}

func TestConsumeExhaustsBucket(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "ratelimit.json"))
	for i := 0; i < 20; i++ {
		require.NoError(t, l.Consume("mcp1", "deploy", 1))
	}
	err := l.Consume("mcp1", "deploy", 1)
	require.Error(t, err)
}

func TestPersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratelimit.json")
	l1 := New(path)
	require.NoError(t, l1.Consume("mcp1", "payment", 1))

	l2 := New(path)
	remaining := l2.Remaining("mcp1", "payment")
	assert.Less(t, remaining, 10.0)
}

func TestUnknownActionTypeUsesElseLimit(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "ratelimit.json"))
	remaining := l.Remaining("mcp1", "obscure_action")
	assert.Equal(t, 3600.0, remaining)
}
