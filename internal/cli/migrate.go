package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/lichen/pkg/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply migrations up to DB_MIGRATION_VERSION, or all of them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := migrationService()
		if err != nil {
			return err
		}
		sqlDB, err := env.SQL(cmd.Context())
		if err != nil {
			return err
		}
		return service.Up(sqlDB.DB, cfg.DatabaseName)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back every migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := migrationService()
		if err != nil {
			return err
		}
		sqlDB, err := env.SQL(cmd.Context())
		if err != nil {
			return err
		}
		return service.Down(sqlDB.DB, cfg.DatabaseName)
	},
}

func migrationService() (*database.MigrationService, error) {
	if cfg.DatabaseMigrationVersion < 0 {
		return nil, fmt.Errorf("DB_MIGRATION_VERSION must not be negative")
	}
	return database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	}), nil
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
}
