package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/pkg/errors"
)

type MigrationLogger struct {
	ectologger.Logger
}

func (l MigrationLogger) Verbose() bool {
	return true
}

func (l MigrationLogger) Printf(format string, v ...any) {
	l.Infof(format, v...)
}

type MigrationConfig struct {
	MigrationFolderPath string
	Version             uint
	Force               int
	// AutoRollback forces a dirty database back to the previous version after a failed migration.
	AutoRollback bool
}

type MigrationService struct {
	config *MigrationConfig
	logger ectologger.Logger
}

func NewMigrationService(logger ectologger.Logger, config *MigrationConfig) *MigrationService {
	return &MigrationService{
		config: config,
		logger: logger,
	}
}

func (ms *MigrationService) resolveMigrationFolder() string {
	folder := ms.config.MigrationFolderPath
	if filepath.IsAbs(folder) {
		return folder
	}
	if _, err := os.Stat(folder); err == nil {
		abs, _ := filepath.Abs(folder)
		return abs
	}
	wd, _ := os.Getwd()
	return filepath.Join(wd, folder)
}

func (ms *MigrationService) newMigrate(db *sql.DB, databaseName string) (*migrate.Migrate, error) {
	folder := ms.resolveMigrationFolder()
	if _, err := os.Stat(folder); err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("migration folder %s does not exist", folder))
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{DatabaseName: databaseName})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create postgres migration driver")
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+folder, databaseName, driver)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create migrate instance")
	}
	m.Log = MigrationLogger{Logger: ms.logger}
	return m, nil
}

// Up applies migrations up to the configured version, or all of them.
func (ms *MigrationService) Up(db *sql.DB, databaseName string) error {
	m, err := ms.newMigrate(db, databaseName)
	if err != nil {
		ms.logger.WithError(err).Error("Failed to prepare migrations")
		return err
	}

	if ms.config.Force != 0 {
		if err := m.Force(ms.config.Force); err != nil {
			ms.logger.WithError(err).Errorf("Failed to force database to version %d", ms.config.Force)
			return err
		}
	}

	previous, _, versionErr := m.Version()
	if versionErr != nil && !errors.Is(versionErr, migrate.ErrNilVersion) {
		ms.logger.WithError(versionErr).Warn("Failed to get current migration version")
	}

	start := time.Now()
	if ms.config.Version != 0 {
		err = m.Migrate(ms.config.Version)
	} else {
		err = m.Up()
	}
	ms.logger.Infof("Database migrations completed in %v", time.Since(start))

	return ms.handleMigrationError(m, err, previous)
}

// Down rolls back every migration.
func (ms *MigrationService) Down(db *sql.DB, databaseName string) error {
	m, err := ms.newMigrate(db, databaseName)
	if err != nil {
		return err
	}
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "failed to roll back migrations")
	}
	return nil
}

func (ms *MigrationService) handleMigrationError(m *migrate.Migrate, err error, previousVersion uint) error {
	if err == nil {
		ms.logger.Info("Successfully applied migrations")
		return nil
	}
	if errors.Is(err, migrate.ErrNoChange) {
		ms.logger.Info("No new migrations to apply")
		return nil
	}

	ms.logger.WithError(err).Errorf("Migration failed with error: %v", err)

	version, dirty, versionErr := m.Version()
	if versionErr != nil || !ms.config.AutoRollback || !dirty {
		return errors.Wrap(err, "failed to apply migrations")
	}

	if previousVersion == 0 && version > 0 {
		previousVersion = version - 1
	}
	ms.logger.Warnf("Database is dirty at version %d. Reverting to version %d", version, previousVersion)
	if forceErr := m.Force(int(previousVersion)); forceErr != nil {
		ms.logger.WithError(forceErr).Errorf("Failed to force database to version %d", previousVersion)
		return forceErr
	}

	// the original error still stops startup
	return errors.Wrap(err, "failed to apply migrations")
}
