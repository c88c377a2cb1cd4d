// Package cli provides the command-line interface for lichen.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Gobusters/ectologger"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/lichen/config"
	lichenctx "github.com/Ramsey-B/lichen/pkg/context"
	"github.com/Ramsey-B/lichen/pkg/tracing"
	"github.com/Ramsey-B/lichen/pkg/tracing/exporters"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Global flags
	envFile string
	actor   string

	cfg    *config.Config
	logger ectologger.Logger
	env    *environment

	shutdownTracing func(context.Context) error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "lichen",
	Short: "Import fungarium specimens from EasyDB into a Darwin Core database",
	Long: `Lichen imports specimen records from an EasyDB/fylr instance, maps them onto
Darwin Core entities and keeps them in sync.

Single records are imported synchronously. Tag, object type, refresh and reconcile
runs are batch jobs that can run in-process or on the worker queue.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		var files []string
		if envFile != "" {
			files = append(files, envFile)
		}
		loaded, err := config.Load(files...)
		if err != nil {
			return err
		}
		cfg = loaded
		if cfg.Version == "dev" {
			cfg.Version = Version
		}

		logger, err = newLogger(cfg)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		if cfg.OTLPEnabled {
			shutdownTracing, err = tracing.Setup(cmd.Context(), cfg.AppName, exporters.OTLPConfig{
				Endpoint: cfg.OTLPEndpoint,
				Protocol: cfg.OTLPProtocol,
				Insecure: cfg.OTLPInsecure,
			})
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
		}

		env = newEnvironment(cfg, logger)
		if actor != "" {
			cmd.SetContext(lichenctx.SetActor(cmd.Context(), actor))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if env != nil {
			env.Close(ctx)
		}
		if shutdownTracing != nil {
			if err := shutdownTracing(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to flush traces: %v\n", err)
			}
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file to load (default .env when present)")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", os.Getenv("USER"), "user recorded as the trigger of imports and jobs")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(remoteCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}
