package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vietddude/ethbridge/internal/core/domain"
	"github.com/vietddude/ethbridge/internal/infra/storage"
)

// SessionRepo implements storage.SessionRepository using PostgreSQL.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo creates a new PostgreSQL session repository.
func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

type sessionRow struct {
	Kind    string `db:"kind"`
	Session []byte `db:"session"`
	Payload []byte `db:"payload"`
}

func (row sessionRow) record() (*storage.SessionRecord, error) {
	var s domain.VotingSession
	if err := json.Unmarshal(row.Session, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &storage.SessionRecord{
		Kind:    domain.ActionKind(row.Kind),
		Session: s,
		Payload: row.Payload,
	}, nil
}

const upsertSession = `
INSERT INTO voting_sessions (kind, subject, ingress_counter, state, created_at, session, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (kind, subject, ingress_counter)
DO UPDATE SET state = EXCLUDED.state, session = EXCLUDED.session, payload = EXCLUDED.payload`

// Save inserts or replaces a session.
func (r *SessionRepo) Save(ctx context.Context, rec *storage.SessionRecord) error {
	s, err := json.Marshal(rec.Session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	_, err = r.db.ExecContext(ctx, upsertSession,
		string(rec.Kind),
		rec.Session.ActionID.Subject,
		int64(rec.Session.ActionID.IngressCounter),
		string(rec.Session.State),
		int64(rec.Session.CreatedAt),
		s,
		rec.Payload,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Get retrieves a session.
func (r *SessionRepo) Get(ctx context.Context, kind domain.ActionKind, id domain.ActionID) (*storage.SessionRecord, error) {
	var row sessionRow
	err := r.db.GetContext(ctx, &row,
		`SELECT kind, session, payload FROM voting_sessions WHERE kind = $1 AND subject = $2 AND ingress_counter = $3`,
		string(kind), id.Subject, int64(id.IngressCounter),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return row.record()
}

// Delete removes a session.
func (r *SessionRepo) Delete(ctx context.Context, kind domain.ActionKind, id domain.ActionID) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM voting_sessions WHERE kind = $1 AND subject = $2 AND ingress_counter = $3`,
		string(kind), id.Subject, int64(id.IngressCounter),
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ListOpen returns the open sessions of a kind.
func (r *SessionRepo) ListOpen(ctx context.Context, kind domain.ActionKind) ([]*storage.SessionRecord, error) {
	var rows []sessionRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT kind, session, payload FROM voting_sessions WHERE kind = $1 AND state = $2 ORDER BY subject, ingress_counter`,
		string(kind), string(domain.SessionOpen),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	out := make([]*storage.SessionRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// DeleteConcludedBefore removes concluded sessions created before block.
func (r *SessionRepo) DeleteConcludedBefore(ctx context.Context, block uint64) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM voting_sessions WHERE state <> $1 AND created_at < $2`,
		string(domain.SessionOpen), int64(block),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
