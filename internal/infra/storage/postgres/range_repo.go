package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vietddude/ethbridge/internal/core/domain"
)

// RangeRepo implements storage.RangeRepository using PostgreSQL.
type RangeRepo struct {
	db *DB
}

// NewRangeRepo creates a new PostgreSQL range repository.
func NewRangeRepo(db *DB) *RangeRepo {
	return &RangeRepo{db: db}
}

type rangeRow struct {
	StartBlock int64 `db:"start_block"`
	Length     int64 `db:"length"`
	Partition  int32 `db:"partition"`
}

// GetActive returns the active range of instance, nil when none.
func (r *RangeRepo) GetActive(ctx context.Context, instance domain.InstanceID) (*domain.ActiveRange, error) {
	var row rangeRow
	err := r.db.GetContext(ctx, &row,
		`SELECT start_block, length, partition FROM active_ranges WHERE instance = $1`,
		int64(instance),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active range: %w", err)
	}
	return &domain.ActiveRange{
		Range:     domain.NewBlockRange(uint32(row.StartBlock), uint32(row.Length)),
		Partition: uint16(row.Partition),
	}, nil
}

// SetActive stores the active range of instance.
func (r *RangeRepo) SetActive(ctx context.Context, instance domain.InstanceID, ar domain.ActiveRange) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO active_ranges (instance, start_block, length, partition) VALUES ($1, $2, $3, $4)
ON CONFLICT (instance) DO UPDATE
SET start_block = EXCLUDED.start_block, length = EXCLUDED.length, partition = EXCLUDED.partition`,
		int64(instance), int64(ar.Range.StartBlock), int64(ar.Range.Length), int32(ar.Partition),
	)
	if err != nil {
		return fmt.Errorf("failed to set active range: %w", err)
	}
	return nil
}

// Clear removes the active range of instance.
func (r *RangeRepo) Clear(ctx context.Context, instance domain.InstanceID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM active_ranges WHERE instance = $1`, int64(instance))
	if err != nil {
		return fmt.Errorf("failed to clear active range: %w", err)
	}
	return nil
}
