package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newRejectCmd creates the reject command.
func newRejectCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reject <task-id>",
		Short: "Reject the pending approval request blocking a task",
		Long: `Reject finds the pending approval request for task-id and marks it
rejected. The scheduler moves the task to Rejected on its next sweep.

Examples:
  fte reject TASK-001 --reason "amount exceeds delegated authority"`,
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

			if _, err := d.approvals.Reject(req.ApprovalID, reason); err != nil {
				return fmt.Errorf("reject %s: %w", req.ApprovalID, err)
			}
			fmt.Printf("rejected %s (task %s)\n", req.ApprovalID, args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded on the approval request")

	return cmd
}
