package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/Ramsey-B/lichen/pkg/models"
)

func printJob(out io.Writer, job *models.Job) {
	fmt.Fprintf(out, "Job: %s\n", job.ID)
	fmt.Fprintf(out, "  Type: %s\n", job.Type)
	fmt.Fprintf(out, "  Status: %s\n", job.Status)
	if job.Actor != nil {
		fmt.Fprintf(out, "  Actor: %s\n", *job.Actor)
	}
	if job.TotalItems > 0 {
		fmt.Fprintf(out, "  Progress: %d/%d\n", job.Progress, job.TotalItems)
	}
	fmt.Fprintf(out, "  Processed: %d (succeeded %d, skipped %d, errored %d)\n",
		job.Processed, job.Succeeded, job.Skipped, job.Errored)
	if job.StartedAt != nil {
		fmt.Fprintf(out, "  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	}
	if job.FinishedAt != nil {
		fmt.Fprintf(out, "  Finished: %s\n", job.FinishedAt.Format(time.RFC3339))
		if job.StartedAt != nil {
			fmt.Fprintf(out, "  Duration: %s\n", job.FinishedAt.Sub(*job.StartedAt).Round(time.Second))
		}
	}
	if job.Error != nil && *job.Error != "" {
		fmt.Fprintf(out, "  Error: %s\n", *job.Error)
	}

	if messages := job.ErrorMessages.Data; len(messages) > 0 {
		fmt.Fprintf(out, "\n  Record errors (%d):\n", job.Errored)
		for _, msg := range messages {
			fmt.Fprintf(out, "    - %s\n", msg)
		}
		if job.ErrorOverflow > 0 {
			fmt.Fprintf(out, "    ... and %d more\n", job.ErrorOverflow)
		}
	}
}

func printJobTable(out io.Writer, jobs []models.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return
	}

	fmt.Fprintf(out, "%-36s %-12s %-10s %-12s %s\n", "ID", "TYPE", "STATUS", "PROGRESS", "CREATED")
	for _, job := range jobs {
		progress := ""
		if job.TotalItems > 0 {
			progress = fmt.Sprintf("%d/%d", job.Progress, job.TotalItems)
		}
		fmt.Fprintf(out, "%-36s %-12s %-10s %-12s %s\n", job.ID, job.Type, job.Status, progress, job.CreatedAt.Format(time.RFC3339))
	}
}
