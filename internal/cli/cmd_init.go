package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const defaultConfigTemplate = `# fte scheduler configuration
vault_path: .
poll_interval: 30s
max_concurrent_tasks: 3
agent_timeout: 10m
agent_binary: claude
stop_hook_file: .claude_stop
max_iterations: 10
approval_timeout: 12h
dry_run: false
legacy_approval_fallback: false
`

var vaultDirs = []string{"Inbox", "Needs_Action", "In_Progress", "Approvals", "Done", "Rejected"}

// newInitCmd creates the init command.
func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Initialize a vault in the current directory",
		Long: `Init creates the six task-state directories (Inbox, Needs_Action,
In_Progress, Approvals, Done, Rejected), the .fte metadata directory, and a
default fte.yaml.

Example:
  fte init
  fte init ./my-vault --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vault := "."
			if len(args) == 1 {
				vault = args[0]
			}

			for _, dir := range vaultDirs {
				if err := os.MkdirAll(filepath.Join(vault, dir), 0o755); err != nil {
					return fmt.Errorf("create %s: %w", dir, err)
				}
			}
			if err := os.MkdirAll(filepath.Join(vault, ".fte"), 0o755); err != nil {
				return fmt.Errorf("create .fte: %w", err)
			}

			configPath := filepath.Join(vault, "fte.yaml")
			if _, err := os.Stat(configPath); err == nil && !force {
				fmt.Printf("%s already exists; use --force to overwrite\n", configPath)
			} else {
				if err := os.WriteFile(configPath, []byte(defaultConfigTemplate), 0o644); err != nil {
					return fmt.Errorf("write fte.yaml: %w", err)
				}
			}

			fmt.Printf("initialized vault at %s\n", vault)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing fte.yaml")

	return cmd
}
