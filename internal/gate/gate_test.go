package gate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assadsharif/fte/internal/approval"
)

func newGate(t *testing.T) (*Gate, string) {
	dir := t.TempDir()
	approvalsDir := filepath.Join(dir, "Approvals")
	mgr := approval.NewManager(approvalsDir, filepath.Join(dir, ".fte", "nonces.txt"), filepath.Join(dir, ".fte", "audit.log"))
	return New(nil, mgr, approvalsDir), dir
}

func TestRequiresApprovalNoKeywords(t *testing.T) {
	g, dir := newGate(t)
	path := filepath.Join(dir, "a.md")
	require.NoError(t, os.WriteFile(path, []byte("# Task\njust some text\n"), 0o644))

	req, err := g.RequiresApproval(path)
	require.NoError(t, err)
	assert.False(t, req)
}

func TestRequiresApprovalWithKeyword(t *testing.T) {
	g, dir := newGate(t)
	path := filepath.Join(dir, "pay.md")
	require.NoError(t, os.WriteFile(path, []byte("please send payment now\n"), 0o644))

	req, err := g.RequiresApproval(path)
	require.NoError(t, err)
	assert.True(t, req)

	matched, err := g.MatchedKeywords(path)
	require.NoError(t, err)
	assert.Contains(t, matched, "payment")
}

func TestCreateApprovalRequestThenIsApproved(t *testing.T) {
	g, dir := newGate(t)
	path := filepath.Join(dir, "pay.md")
	require.NoError(t, os.WriteFile(path, []byte("please send payment now\n"), 0o644))

	approvalPath, err := g.CreateApprovalRequest(path, []string{"payment"})
	require.NoError(t, err)
	assert.FileExists(t, approvalPath)

	ok, err := g.IsApproved(path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLegacyFallbackDisabledByDefault(t *testing.T) {
	g, dir := newGate(t)
	require.False(t, g.LegacyFallbackEnabled)
	require.NoError(t, os.MkdirAll(g.ApprovalsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(g.ApprovalsDir, "manual-a.md"), []byte("approved\n"), 0o644))

	path := filepath.Join(dir, "a.md")
	require.NoError(t, os.WriteFile(path, []byte("text\n"), 0o644))

	ok, err := g.IsApproved(path)
	require.NoError(t, err)
	assert.False(t, ok)
}
