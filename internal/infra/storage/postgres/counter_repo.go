package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CounterRepo implements storage.CounterRepository using PostgreSQL.
type CounterRepo struct {
	db *DB
}

// NewCounterRepo creates a new PostgreSQL counter repository.
func NewCounterRepo(db *DB) *CounterRepo {
	return &CounterRepo{db: db}
}

// Get returns the counter, 0 when unset.
func (r *CounterRepo) Get(ctx context.Context, scope, key string) (uint64, error) {
	var v int64
	err := r.db.GetContext(ctx, &v, `SELECT value FROM counters WHERE scope = $1 AND key = $2`, scope, key)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get counter: %w", err)
	}
	return uint64(v), nil
}

// Set stores the counter.
func (r *CounterRepo) Set(ctx context.Context, scope, key string, value uint64) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO counters (scope, key, value) VALUES ($1, $2, $3)
ON CONFLICT (scope, key) DO UPDATE SET value = EXCLUDED.value`,
		scope, key, int64(value),
	)
	if err != nil {
		return fmt.Errorf("failed to set counter: %w", err)
	}
	return nil
}
