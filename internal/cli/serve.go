package cli

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/lichen/pkg/jobs"
	"github.com/Ramsey-B/lichen/pkg/startup"
)

const shutdownTimeout = 30 * time.Second

var serveWithoutWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and a queue worker",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		checker := newChecker()

		var queue *jobs.Queue
		s := startup.NewStartup(logger, cfg.StartupMaxAttempts).
			AddDependency(databaseDependency()).
			AddDependency(redisDependency())

		if serveWithoutWorker {
			s.AddDependency(startup.Func{
				Name:  "queue",
				Needs: []string{"redis"},
				StartFn: func(ctx context.Context) error {
					q, err := env.Enqueuer(ctx)
					queue = q
					return err
				},
			})
		} else {
			s.AddDependency(queueDependency(&queue))
		}

		var server *echo.Echo
		s.AddDependency(startup.Func{
			Name:  "http",
			Needs: []string{"database", "redis", "queue"},
			StartFn: func(ctx context.Context) error {
				e, err := newServer(ctx, checker, queue)
				if err != nil {
					return err
				}
				server = e
				listen(e)
				return nil
			},
			StopFn: func(ctx context.Context) error {
				if server == nil {
					return nil
				}
				return server.Shutdown(ctx)
			},
		})

		if err := s.Start(ctx); err != nil {
			return err
		}
		checker.SetReady(true)
		logger.Info("lichen is ready")

		<-ctx.Done()
		checker.SetReady(false)
		logger.Info("shutting down")

		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Stop(stopCtx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveWithoutWorker, "no-worker", false, "only serve the API; jobs run on separate workers")
}
