package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupVaultWithApproval(t *testing.T) (vault string, taskID string) {
	t.Helper()
	vault = t.TempDir()
	for _, dir := range vaultDirs {
		require.NoError(t, os.MkdirAll(filepath.Join(vault, dir), 0o755))
	}
	withConfig(t, vault)

	cfg, err := loadConfig()
	require.NoError(t, err)
	d := buildDeps(cfg)

	taskID = "TASK-900"
	_, err = d.approvals.Create(taskID, "payment", []string{"payment"}, map[string]interface{}{"amount": 500}, cfg.ApprovalTimeout)
	require.NoError(t, err)
	return vault, taskID
}

func TestApproveCommandApprovesPendingRequest(t *testing.T) {
	_, taskID := setupVaultWithApproval(t)

	cmd := newApproveCmd()
	cmd.SetArgs([]string{taskID})
	require.NoError(t, cmd.Execute())

	cfg, err := loadConfig()
	require.NoError(t, err)
	d := buildDeps(cfg)
	req, err := d.approvals.FindForTask(taskID)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "approved", string(req.Status))
}

func TestRejectCommandRejectsPendingRequest(t *testing.T) {
	_, taskID := setupVaultWithApproval(t)

	cmd := newRejectCmd()
	cmd.SetArgs([]string{taskID, "--reason", "not authorized"})
	require.NoError(t, cmd.Execute())

	cfg, err := loadConfig()
	require.NoError(t, err)
	d := buildDeps(cfg)
	req, err := d.approvals.FindForTask(taskID)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "rejected", string(req.Status))
}

func TestApproveCommandErrorsWithNoPendingRequest(t *testing.T) {
	vault := t.TempDir()
	for _, dir := range vaultDirs {
		require.NoError(t, os.MkdirAll(filepath.Join(vault, dir), 0o755))
	}
	withConfig(t, vault)

	cmd := newApproveCmd()
	cmd.SetArgs([]string{"TASK-404"})
	assert.Error(t, cmd.Execute())
}
