package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/lichen/pkg/jobs"
	"github.com/Ramsey-B/lichen/pkg/startup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume job pages from the Redis stream",
	Long: `Run queue workers that process one job page per message and enqueue the next page
until the job finishes. Run as many worker processes as EasyDB tolerates.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var queue *jobs.Queue
		s := startup.NewStartup(logger, cfg.StartupMaxAttempts).
			AddDependency(databaseDependency()).
			AddDependency(redisDependency()).
			AddDependency(queueDependency(&queue))

		if err := s.Start(ctx); err != nil {
			return err
		}
		logger.Infof("worker %s is consuming", env.queueConfig().ConsumerName)

		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Stop(stopCtx)
	},
}
