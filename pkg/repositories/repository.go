package repositories

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/lichen/pkg/database"
)

// NotFound returns a 404 HTTP error with a descriptive message
func NotFound(format string, args ...any) error {
	return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf(format, args...))
}

// IsNotFound reports whether err is a 404 HTTP error
func IsNotFound(err error) bool {
	return err != nil && httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound
}

// Repository provides common database operations
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new base repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// DB returns the database instance
func (r *Repository) DB() database.DB {
	return r.db
}

// exec returns the transaction carried by ctx, or the pool.
func (r *Repository) exec(ctx context.Context) database.Executor {
	return r.db.Executor(ctx)
}
