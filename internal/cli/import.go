package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	lichenctx "github.com/Ramsey-B/lichen/pkg/context"
	"github.com/Ramsey-B/lichen/pkg/importer"
	"github.com/Ramsey-B/lichen/pkg/models"
)

var (
	importForce    bool
	importAsync    bool
	importPageSize int
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import records from EasyDB",
	Long: `Import a single record synchronously, or every record carrying a tag or of an
object type as a batch job.

Examples:
  lichen import id 12345@8f1c2e0a-...        # one record by global object id
  lichen import composite fungarium <uuid> 42
  lichen import tag 7                         # all records tagged 7
  lichen import type fungarium --async        # hand the job to the workers`,
}

var importIDCmd = &cobra.Command{
	Use:   "id <globalObjectId>",
	Short: "Import one record by its global object id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := lichenctx.SetGlobalObjectID(cmd.Context(), args[0])
		orch, err := env.Importer(ctx)
		if err != nil {
			return err
		}

		result, err := orch.ImportByGlobalObjectID(ctx, args[0], importer.Options{
			Actor:     lichenctx.ActorRef(ctx),
			CommitNow: true,
			Force:     importForce,
		})
		if err != nil {
			return err
		}
		printResult(cmd, result)
		return nil
	},
}

var importCompositeCmd = &cobra.Command{
	Use:   "composite <objectType> <uuid> <systemObjectId>",
	Short: "Import one record by object type, uuid and system object id",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		systemObjectID, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil || systemObjectID <= 0 {
			return fmt.Errorf("system object id must be a positive integer, got %q", args[2])
		}

		ctx := cmd.Context()
		orch, err := env.Importer(ctx)
		if err != nil {
			return err
		}

		result, err := orch.ImportByCompositeKey(ctx, args[0], args[1], systemObjectID, importer.Options{
			Actor:     lichenctx.ActorRef(ctx),
			CommitNow: true,
			Force:     importForce,
		})
		if err != nil {
			return err
		}
		printResult(cmd, result)
		return nil
	},
}

var importTagCmd = &cobra.Command{
	Use:   "tag <tagId>",
	Short: "Import every record carrying a tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tagID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("tag id must be an integer, got %q", args[0])
		}
		return runJob(cmd, models.JobTypeImportTag, models.JobCriteria{
			TagID:    tagID,
			PageSize: importPageSize,
		}, importAsync)
	},
}

var importTypeCmd = &cobra.Command{
	Use:   "type <objectType>",
	Short: "Import every record of an object type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(cmd, models.JobTypeImportType, models.JobCriteria{
			ObjectType: args[0],
			PageSize:   importPageSize,
		}, importAsync)
	},
}

func init() {
	importCmd.PersistentFlags().BoolVar(&importForce, "force", false, "re-import even when the remote record is not newer")

	for _, cmd := range []*cobra.Command{importTagCmd, importTypeCmd} {
		cmd.Flags().IntVar(&importPageSize, "page-size", 0, "records per page (default JOB_PAGE_SIZE)")
		cmd.Flags().BoolVar(&importAsync, "async", false, "enqueue the job for the workers instead of running it here")
	}

	importCmd.AddCommand(importIDCmd, importCompositeCmd, importTagCmd, importTypeCmd)
}

func printResult(cmd *cobra.Command, result *importer.Result) {
	out := cmd.OutOrStdout()
	record := result.Record
	if record == nil {
		fmt.Fprintf(out, "%s\n", result.Outcome)
		return
	}
	fmt.Fprintf(out, "%s %s (%s)\n", result.Outcome, record.GlobalObjectID, record.ObjectType)
	if record.Occurrence != nil {
		fmt.Fprintf(out, "  occurrenceID: %s\n", record.Occurrence.OccurrenceID)
	}
}
