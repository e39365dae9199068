// Package cli implements the fte command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/assadsharif/fte/internal/config"
)

var (
	cfgFile string
	verbose bool
	jsonOut bool
)

// Command group IDs.
const (
	groupCore   = "core"
	groupReview = "review"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "fte",
	Short: "File-driven task executor with human-in-the-loop approval gates",
	Long: `fte watches a vault of Markdown task files and drives each one through
a workflow graph (Inbox -> Needs_Action -> Planning -> [Approvals] ->
Executing -> Done/Rejected), invoking an agent to do the work and pausing
for human approval whenever a task's content matches a configured
sensitive-action keyword.

Quick start:
  fte init                 Initialize a vault in the current directory
  fte run                  Run the scheduler loop until stopped
  fte run --once           Run a single sweep and exit
  fte status               Show how many tasks are in each vault state
  fte approve <task-id>    Approve a pending action
  fte reject <task-id>     Reject a pending action`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default search: .fte/fte.yaml, ./fte.yaml, $HOME/.fte/fte.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupCore, Title: "Core Commands:"},
		&cobra.Group{ID: groupReview, Title: "Approval Review:"},
	)

	addCmd(newInitCmd(), groupCore)
	addCmd(newRunCmd(), groupCore)
	addCmd(newStatusCmd(), groupCore)

	addCmd(newApproveCmd(), groupReview)
	addCmd(newRejectCmd(), groupReview)
}

func addCmd(cmd *cobra.Command, groupID string) {
	cmd.GroupID = groupID
	rootCmd.AddCommand(cmd)
}

// loadConfig loads the scheduler config from the --config flag (or the
// standard search path), printing where it looked when --verbose is set.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		fmt.Fprintln(os.Stderr, "Using vault:", cfg.VaultPath)
	}
	return cfg, nil
}
