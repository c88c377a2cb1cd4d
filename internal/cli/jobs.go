package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	lichenctx "github.com/Ramsey-B/lichen/pkg/context"
)

var (
	jobsLimit     int
	jobsOlderThan time.Duration
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage batch jobs",
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show a job's status and counters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid job id %q: %w", args[0], err)
		}
		repo, err := env.Jobs(cmd.Context())
		if err != nil {
			return err
		}
		job, err := repo.GetByID(cmd.Context(), id)
		if err != nil {
			return err
		}
		printJob(cmd.OutOrStdout(), job)
		return nil
	},
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent jobs of an actor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		who := lichenctx.GetActor(ctx)
		if who == "" {
			return fmt.Errorf("--actor is required")
		}
		repo, err := env.Jobs(ctx)
		if err != nil {
			return err
		}
		jobs, err := repo.ListByActor(ctx, who, jobsLimit)
		if err != nil {
			return err
		}
		printJobTable(cmd.OutOrStdout(), jobs)
		return nil
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job before its next page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid job id %q: %w", args[0], err)
		}
		control, err := env.JobControl(cmd.Context())
		if err != nil {
			return err
		}
		job, err := control.Cancel(cmd.Context(), id)
		if err != nil {
			return err
		}
		printJob(cmd.OutOrStdout(), job)
		return nil
	},
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete finished jobs older than a duration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		age := jobsOlderThan
		if age <= 0 {
			age = cfg.JobRetention
		}
		repo, err := env.Jobs(cmd.Context())
		if err != nil {
			return err
		}
		deleted, err := repo.CleanupOlderThan(cmd.Context(), age)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d jobs older than %s\n", deleted, age)
		return nil
	},
}

func init() {
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 20, "maximum number of jobs to show")
	jobsCleanupCmd.Flags().DurationVar(&jobsOlderThan, "older-than", 0, "age of finished jobs to delete (default JOB_RETENTION)")

	jobsCmd.AddCommand(jobsGetCmd, jobsListCmd, jobsCancelCmd, jobsCleanupCmd)
}
