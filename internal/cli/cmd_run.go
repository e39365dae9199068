package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/assadsharif/fte/internal/lock"
	"github.com/assadsharif/fte/internal/scheduler"
)

// newRunCmd creates the run command: the scheduler's Ralph-Wiggum loop.
func newRunCmd() *cobra.Command {
	var once bool
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler loop, or a single sweep with --once",
		Long: `Run starts the scheduler: it discovers tasks in Needs_Action, scores and
processes them by priority, requests human approval for sensitive actions,
invokes the agent, and moves each task to Done or Rejected.

Only one scheduler may run against a vault at a time; run acquires a
vault-level lock for the duration of the process.

Examples:
  fte run                  # loop until SIGINT/SIGTERM or the stop hook fires
  fte run --once           # run a single sweep and exit
  fte run --dry-run        # skip agent invocation, exercise transitions only`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if dryRun {
				cfg.DryRun = true
			}

			guard := lock.New(cfg.VaultPath)
			if err := guard.Acquire(); err != nil {
				return fmt.Errorf("acquire vault lock: %w", err)
			}
			defer guard.Release()

			d := buildDeps(cfg)
			sched, err := scheduler.New(d.schedulerDeps())
			if err != nil {
				return fmt.Errorf("start scheduler: %w", err)
			}
			defer sched.Close()

			ctx, cancel := setupSignalHandler()
			defer cancel()

			if once {
				stopped, err := sched.RunOnce(ctx)
				if err != nil {
					return fmt.Errorf("sweep: %w", err)
				}
				printSummary(sched.Summary())
				if stopped {
					fmt.Println("stop hook observed; exiting")
				}
				return nil
			}

			if err := sched.Run(ctx); err != nil {
				return fmt.Errorf("scheduler: %w", err)
			}
			printSummary(sched.Summary())
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single sweep and exit instead of looping")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "skip agent invocation; exercise transitions only")

	return cmd
}

func printSummary(s scheduler.Summary) {
	fmt.Printf("processed %d task(s): %d done, %d rejected, %d pending approval\n",
		s.Total, s.Done, s.Rejected, s.Pending)
	for reason, count := range s.ByReason {
		fmt.Printf("  %-24s %d\n", reason, count)
	}
}
