package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newApproveCmd creates the approve command.
func newApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <task-id>",
		Short: "Approve the pending approval request blocking a task",
		Long: `Approve finds the pending approval request for task-id and marks it
approved. The scheduler picks it up on its next sweep (or immediately, if
it is watching the vault) and resumes execution.

Examples:
  fte approve TASK-001
  fte status              # see which tasks are awaiting approval`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			d := buildDeps(cfg)

			req, err := d.approvals.FindForTask(args[0])
			if err != nil {
				return fmt.Errorf("find approval for %s: %w", args[0], err)
			}
			if req == nil {
				return fmt.Errorf("no pending approval request for task %s", args[0])
			}

			if _, err := d.approvals.Approve(req.ApprovalID); err != nil {
				return fmt.Errorf("approve %s: %w", req.ApprovalID, err)
			}
			fmt.Printf("approved %s (task %s)\n", req.ApprovalID, args[0])
			return nil
		},
	}
}
