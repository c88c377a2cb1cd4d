package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Executor is the query surface shared by the pool and an open transaction.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
	Rebind(query string) string
}

type DB interface {
	Executor
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	PingContext(ctx context.Context) error
	Close() error
	// GetTx returns the transaction carried by ctx, or begins a new one and stores it on the returned ctx.
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error)
	// Executor returns the transaction carried by ctx, falling back to the pool.
	Executor(ctx context.Context) Executor
}

type DatabaseInstance struct {
	*sqlx.DB
	logger ectologger.Logger
}

func NewDatabaseInstance(db *sqlx.DB, logger ectologger.Logger) DB {
	return &DatabaseInstance{
		DB:     db,
		logger: logger,
	}
}

func (db *DatabaseInstance) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error) {
	return GetTx(ctx, db.logger, db.DB, opts)
}

func (db *DatabaseInstance) Executor(ctx context.Context) Executor {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return db.DB
}

// ConnectionConfig describes a postgres connection pool.
type ConnectionConfig struct {
	Driver          string
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c ConnectionConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// Connect opens the pool and verifies it with a ping.
func Connect(ctx context.Context, config ConnectionConfig, logger ectologger.Logger) (*sqlx.DB, error) {
	driver := config.Driver
	if driver == "" {
		driver = "postgres"
	}

	db, err := sqlx.ConnectContext(ctx, driver, config.DSN())
	if err != nil {
		logger.WithContext(ctx).WithError(err).Errorf("failed to connect to database %s on %s", config.Name, config.Host)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	return db, nil
}
