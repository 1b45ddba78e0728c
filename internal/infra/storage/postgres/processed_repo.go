package postgres

import (
	"context"
	"fmt"

	"github.com/vietddude/ethbridge/internal/core/domain"
)

// ProcessedRepo implements storage.ProcessedEventRepository using PostgreSQL.
type ProcessedRepo struct {
	db *DB
}

// NewProcessedRepo creates a new PostgreSQL processed event repository.
func NewProcessedRepo(db *DB) *ProcessedRepo {
	return &ProcessedRepo{db: db}
}

// MarkProcessed records id, reporting whether it was new.
func (r *ProcessedRepo) MarkProcessed(ctx context.Context, id domain.EventID, block uint64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
INSERT INTO processed_events (signature, tx_hash, block) VALUES ($1, $2, $3)
ON CONFLICT (signature, tx_hash) DO NOTHING`,
		id.Signature.Hex(), id.TxHash.Hex(), int64(block),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// IsProcessed reports whether id was delivered.
func (r *ProcessedRepo) IsProcessed(ctx context.Context, id domain.EventID) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE signature = $1 AND tx_hash = $2)`,
		id.Signature.Hex(), id.TxHash.Hex(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return exists, nil
}

// DeleteBefore removes records of events below block.
func (r *ProcessedRepo) DeleteBefore(ctx context.Context, block uint64) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM processed_events WHERE block < $1`, int64(block))
	if err != nil {
		return 0, fmt.Errorf("failed to prune processed events: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
