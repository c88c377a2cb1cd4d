package cli

import (
	"github.com/spf13/cobra"

	lichenctx "github.com/Ramsey-B/lichen/pkg/context"
	"github.com/Ramsey-B/lichen/pkg/models"
)

var (
	batchAsync    bool
	batchPageSize int
	dryRun        bool
	refreshForce  bool
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-import every locally imported record",
	Long: `Re-fetch every record already in the database. Without --force a record is only
re-mapped when the remote copy is newer than the stored one.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(cmd, models.JobTypeRefresh, models.JobCriteria{
			Force:    refreshForce,
			PageSize: batchPageSize,
		}, batchAsync)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Delete local records that no longer exist remotely",
	Long: `Check every locally imported record against EasyDB and delete the occurrences
whose remote object is gone. --dry-run only reports them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(cmd, models.JobTypeReconcile, models.JobCriteria{
			DryRun:   dryRun,
			PageSize: batchPageSize,
		}, batchAsync)
	},
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshForce, "force", false, "re-map records even when the remote copy is not newer")
	reconcileCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report missing records without deleting them")

	for _, cmd := range []*cobra.Command{refreshCmd, reconcileCmd} {
		cmd.Flags().IntVar(&batchPageSize, "page-size", 0, "records per page (default JOB_PAGE_SIZE)")
		cmd.Flags().BoolVar(&batchAsync, "async", false, "enqueue the job for the workers instead of running it here")
	}
}

// runJob submits a job and either runs it to completion here or hands its first page to the
// workers.
func runJob(cmd *cobra.Command, jobType models.JobType, criteria models.JobCriteria, async bool) error {
	ctx := cmd.Context()
	actorRef := lichenctx.ActorRef(ctx)

	if async {
		control, err := env.JobControl(ctx)
		if err != nil {
			return err
		}
		queue, err := env.Enqueuer(ctx)
		if err != nil {
			return err
		}
		job, err := control.Submit(ctx, jobType, criteria, actorRef)
		if err != nil {
			return err
		}
		if _, err := queue.Enqueue(ctx, job.ID, 0); err != nil {
			return err
		}
		printJob(cmd.OutOrStdout(), job)
		return nil
	}

	driver, err := env.Driver(ctx)
	if err != nil {
		return err
	}
	job, err := driver.Submit(ctx, jobType, criteria, actorRef)
	if err != nil {
		return err
	}

	ctx = lichenctx.SetJobID(ctx, job.ID.String())
	finished, err := driver.Run(ctx, job.ID)
	if err != nil {
		return err
	}
	printJob(cmd.OutOrStdout(), finished)
	return nil
}
