package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var statusDirs = []string{"Inbox", "Needs_Action", "In_Progress", "Approvals", "Done", "Rejected"}

// newStatusCmd creates the status command: a read-only snapshot of the
// vault's task directories. It never acquires the vault lock, so it is
// safe to run alongside a live scheduler.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show how many tasks are in each vault state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Printf("vault: %s\n", cfg.VaultPath)
			for _, dir := range statusDirs {
				n, err := countMarkdown(filepath.Join(cfg.VaultPath, dir))
				if err != nil {
					return fmt.Errorf("count %s: %w", dir, err)
				}
				fmt.Printf("  %-14s %d\n", dir, n)
			}
			return nil
		},
	}
}

func countMarkdown(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".md" {
			count++
		}
	}
	return count, nil
}
