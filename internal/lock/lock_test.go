package lock

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	g := New(dir)

	require.NoError(t, g.Acquire())
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	g.Release()
	_, err = os.Stat(filepath.Join(dir, FileName))
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireBlockedByLiveProcess(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(strconv.Itoa(os.Getpid())), 0o644))

	g := New(dir)
	err := g.Acquire()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestAcquireClaimsStaleGuard(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("999999999"), 0o644))

	g := New(dir)
	require.NoError(t, g.Acquire())
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
}

func TestReleaseIdempotent(t *testing.T) {
	dir := t.TempDir()
	g := New(dir)
	g.Release()
	g.Release()
}
