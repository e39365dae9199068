package approval

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) *Manager {
	dir := t.TempDir()
	return NewManager(
		filepath.Join(dir, "Approvals"),
		filepath.Join(dir, ".fte", "approval_nonces.txt"),
		filepath.Join(dir, ".fte", "approval_audit.log"),
	)
}

func TestCreateAndGet(t *testing.T) {
	m := newManager(t)
	req, err := m.Create("pay", "payment", []string{"payment"}, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, req.RiskLevel)
	assert.Equal(t, StatusPending, req.Status)

	got, err := m.Get(req.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, req.IntegrityHash, got.IntegrityHash)
}

func TestCreateCriticalRiskAboveThreshold(t *testing.T) {
	m := newManager(t)
	req, err := m.Create("pay", "payment", []string{"payment"}, map[string]interface{}{"amount": 20000.0}, 0)
	require.NoError(t, err)
	assert.Equal(t, RiskCritical, req.RiskLevel)
}

func TestApproveHappyPath(t *testing.T) {
	m := newManager(t)
	req, err := m.Create("t1", "deploy", []string{"deploy"}, nil, time.Hour)
	require.NoError(t, err)

	approved, err := m.Approve(req.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)

	ok, err := m.IsApproved("t1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestApproveReplayBlocked(t *testing.T) {
	m := newManager(t)
	req, err := m.Create("t1", "deploy", []string{"deploy"}, nil, time.Hour)
	require.NoError(t, err)

	_, err = m.Approve(req.ApprovalID)
	require.NoError(t, err)

	_, err = m.Approve(req.ApprovalID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already used")

	used, err := m.nonces.IsUsed(req.Nonce)
	require.NoError(t, err)
	assert.True(t, used)
}

func TestApproveTamperBlocked(t *testing.T) {
	m := newManager(t)
	req, err := m.Create("t1", "deploy", []string{"deploy"}, nil, time.Hour)
	require.NoError(t, err)

	path := m.filePath(req.ApprovalID)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("TAMPERED")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = m.Approve(req.ApprovalID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Integrity check failed")

	got, err := m.Get(req.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestApproveExpiredBlocked(t *testing.T) {
	m := newManager(t)
	req, err := m.Create("t1", "deploy", []string{"deploy"}, nil, 0)
	require.NoError(t, err)
	// A zero timeout falls back to the 12h default, so force expiry by
	// rewriting the file with an expires_at already in the past; the body is
	// rewritten unchanged, so only the expiry guard can fail.
	req.ExpiresAt = time.Now().UTC().Add(-time.Second)
	require.NoError(t, writeApprovalFile(m.filePath(req.ApprovalID), req, mustBody(m, req.ApprovalID)))

	_, err = m.Approve(req.ApprovalID)
	require.Error(t, err)
}

func mustBody(m *Manager, id string) string {
	b, _ := BodyContent(m.filePath(id))
	return b
}

func TestRejectAppendsReason(t *testing.T) {
	m := newManager(t)
	req, err := m.Create("t1", "delete", []string{"delete"}, nil, time.Hour)
	require.NoError(t, err)

	rejected, err := m.Reject(req.ApprovalID, "too risky")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)

	body, err := BodyContent(m.filePath(req.ApprovalID))
	require.NoError(t, err)
	assert.Contains(t, body, "too risky")
}

func TestCheckExpiredFlipsTimeout(t *testing.T) {
	m := newManager(t)
	req, err := m.Create("t1", "deploy", []string{"deploy"}, nil, time.Hour)
	require.NoError(t, err)
	req.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, writeApprovalFile(m.filePath(req.ApprovalID), req, mustBody(m, req.ApprovalID)))

	flipped, err := m.CheckExpired()
	require.NoError(t, err)
	require.Len(t, flipped, 1)
	assert.Equal(t, StatusTimeout, flipped[0].Status)
}

func TestDeriveActionType(t *testing.T) {
	assert.Equal(t, "payment", DeriveActionType([]string{"payment"}))
	assert.Equal(t, "deploy", DeriveActionType([]string{"production"}))
	assert.Equal(t, "unknown", DeriveActionType([]string{"nonexistent"}))
}

func TestIntegrityHashRoundTrip(t *testing.T) {
	h := ComputeHash("hello")
	assert.True(t, Verify("hello", h))
	assert.False(t, Verify("hello!", h))
}
