package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withConfig(t *testing.T, vault string) {
	t.Helper()
	configPath := filepath.Join(vault, "fte.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("vault_path: "+vault+"\n"), 0o644))
	prev := cfgFile
	cfgFile = configPath
	t.Cleanup(func() { cfgFile = prev })
}

func TestCountMarkdownIgnoresNonMarkdownAndMissingDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub.md"), 0o755))

	n, err := countMarkdown(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = countMarkdown(filepath.Join(dir, "does-not-exist"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStatusCommandRunsAgainstEmptyVault(t *testing.T) {
	vault := t.TempDir()
	for _, dir := range vaultDirs {
		require.NoError(t, os.MkdirAll(filepath.Join(vault, dir), 0o755))
	}
	withConfig(t, vault)

	cmd := newStatusCmd()
	require.NoError(t, cmd.Execute())
}
