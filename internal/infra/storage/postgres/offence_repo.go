package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/ethbridge/internal/core/domain"
)

// OffenceRepo implements storage.OffenceRepository using PostgreSQL.
type OffenceRepo struct {
	db *DB
}

// NewOffenceRepo creates a new PostgreSQL offence repository.
func NewOffenceRepo(db *DB) *OffenceRepo {
	return &OffenceRepo{db: db}
}

type offenceRow struct {
	ID             string `db:"id"`
	Kind           string `db:"kind"`
	Subject        string `db:"subject"`
	IngressCounter int64  `db:"ingress_counter"`
	ReportedAt     int64  `db:"reported_at"`
}

type offenderRow struct {
	OffenceID      string `db:"offence_id"`
	Kind           string `db:"kind"`
	Subject        string `db:"subject"`
	IngressCounter int64  `db:"ingress_counter"`
	Offender       string `db:"offender"`
}

// Exists reports whether offender was already reported for (kind, action).
func (r *OffenceRepo) Exists(ctx context.Context, kind domain.OffenceKind, id domain.ActionID, offender domain.AccountID) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
SELECT EXISTS (
    SELECT 1 FROM offence_offenders
    WHERE kind = $1 AND subject = $2 AND ingress_counter = $3 AND offender = $4
)`,
		string(kind), id.Subject, int64(id.IngressCounter), offender.Hex(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to check offence: %w", err)
	}
	return exists, nil
}

// Save stores the offence and its offenders in one transaction.
func (r *OffenceRepo) Save(ctx context.Context, o *domain.Offence) error {
	return r.db.WithTx(ctx, func(u *UnitOfWork) error {
		_, err := u.Tx().NamedExecContext(ctx, `
INSERT INTO offences (id, kind, subject, ingress_counter, reported_at)
VALUES (:id, :kind, :subject, :ingress_counter, :reported_at)`,
			offenceRow{
				ID:             o.ID,
				Kind:           string(o.Kind),
				Subject:        o.ActionID.Subject,
				IngressCounter: int64(o.ActionID.IngressCounter),
				ReportedAt:     int64(o.ReportedAt),
			},
		)
		if err != nil {
			return fmt.Errorf("failed to save offence: %w", err)
		}

		for _, a := range o.Offenders {
			_, err := u.Tx().NamedExecContext(ctx, `
INSERT INTO offence_offenders (offence_id, kind, subject, ingress_counter, offender)
VALUES (:offence_id, :kind, :subject, :ingress_counter, :offender)
ON CONFLICT DO NOTHING`,
				offenderRow{
					OffenceID:      o.ID,
					Kind:           string(o.Kind),
					Subject:        o.ActionID.Subject,
					IngressCounter: int64(o.ActionID.IngressCounter),
					Offender:       a.Hex(),
				},
			)
			if err != nil {
				return fmt.Errorf("failed to save offender: %w", err)
			}
		}
		return nil
	})
}

// List returns every offence, oldest first.
func (r *OffenceRepo) List(ctx context.Context) ([]*domain.Offence, error) {
	var rows []offenceRow
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT id, kind, subject, ingress_counter, reported_at FROM offences ORDER BY reported_at, id`,
	); err != nil {
		return nil, fmt.Errorf("failed to list offences: %w", err)
	}

	var offenders []offenderRow
	if err := r.db.SelectContext(ctx, &offenders,
		`SELECT offence_id, kind, subject, ingress_counter, offender FROM offence_offenders ORDER BY offender`,
	); err != nil {
		return nil, fmt.Errorf("failed to list offenders: %w", err)
	}
	byOffence := make(map[string][]domain.AccountID)
	for _, o := range offenders {
		byOffence[o.OffenceID] = append(byOffence[o.OffenceID], common.HexToAddress(o.Offender))
	}

	out := make([]*domain.Offence, 0, len(rows))
	for _, row := range rows {
		out = append(out, &domain.Offence{
			ID:         row.ID,
			Kind:       domain.OffenceKind(row.Kind),
			ActionID:   domain.NewActionID(row.Subject, uint64(row.IngressCounter)),
			Offenders:  byOffence[row.ID],
			ReportedAt: uint64(row.ReportedAt),
		})
	}
	return out, nil
}
