package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const (
	uniqueViolationCode = "23505"

	// DefaultFindOrCreateAttempts bounds the lookup/insert race retries.
	DefaultFindOrCreateAttempts = 3
)

var ErrFindOrCreateExhausted = errors.New("find or create: retries exhausted")

// NaturalKey identifies a row by a business key column instead of its surrogate id.
type NaturalKey struct {
	Table  string
	Column string
	Value  string
}

func (k NaturalKey) String() string {
	return fmt.Sprintf("%s.%s=%s", k.Table, k.Column, k.Value)
}

// FindOrCreateResult reports the resolved surrogate id.
type FindOrCreateResult struct {
	ID       int64
	Created  bool
	Attempts int
}

// IsUniqueViolation reports whether err is a postgres unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolationCode
}

// FindOrCreate looks key up and, when absent, inserts the row built by factory. A concurrent
// writer creating the same key between lookup and insert surfaces either as an empty
// ON CONFLICT DO NOTHING result or as a unique violation; both lead to a re-fetch.
func FindOrCreate(ctx context.Context, exec Executor, key NaturalKey, factory func() *InsertBuilder) (FindOrCreateResult, error) {
	if key.Value == "" {
		return FindOrCreateResult{}, fmt.Errorf("find or create %s.%s: empty natural key", key.Table, key.Column)
	}

	tx, _ := exec.(Tx)

	for attempt := 1; attempt <= DefaultFindOrCreateAttempts; attempt++ {
		id, found, err := findByNaturalKey(ctx, exec, key)
		if err != nil {
			return FindOrCreateResult{}, err
		}
		if found {
			return FindOrCreateResult{ID: id, Attempts: attempt}, nil
		}

		ib := factory().OnConflictDoNothing(key.Column).Returning("id")
		query, args := ib.Build()

		if tx != nil {
			if err := tx.Savepoint(ctx, "find_or_create"); err != nil {
				return FindOrCreateResult{}, err
			}
		}

		err = exec.QueryRowxContext(ctx, query, args...).Scan(&id)
		switch {
		case err == nil:
			if tx != nil {
				if err := tx.Release(ctx, "find_or_create"); err != nil {
					return FindOrCreateResult{}, err
				}
			}
			return FindOrCreateResult{ID: id, Created: true, Attempts: attempt}, nil
		case errors.Is(err, sql.ErrNoRows), IsUniqueViolation(err):
			if tx != nil {
				if rbErr := tx.RollbackTo(ctx, "find_or_create"); rbErr != nil {
					return FindOrCreateResult{}, rbErr
				}
			}
			continue
		default:
			if tx != nil {
				_ = tx.RollbackTo(ctx, "find_or_create")
			}
			return FindOrCreateResult{}, fmt.Errorf("insert %s: %w", key, err)
		}
	}

	return FindOrCreateResult{Attempts: DefaultFindOrCreateAttempts}, fmt.Errorf("%w: %s", ErrFindOrCreateExhausted, key)
}

func findByNaturalKey(ctx context.Context, exec Executor, key NaturalKey) (int64, bool, error) {
	sb := NewSelectBuilder()
	sb.Select("id").From(key.Table).Where(sb.Equal(key.Column, key.Value)).Limit(1)
	query, args := sb.Build()

	var id int64
	err := exec.GetContext(ctx, &id, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup %s: %w", key, err)
	}
	return id, true, nil
}
