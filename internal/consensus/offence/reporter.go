// Package offence classifies validators that voted against a concluded outcome
// and forwards the reports to a slashing collaborator.
package offence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vietddude/ethbridge/internal/core/domain"
	"github.com/vietddude/ethbridge/internal/indexing/metrics"
	"github.com/vietddude/ethbridge/internal/infra/storage"
)

// Slasher applies penalties for reported offences. It lives outside this node.
type Slasher interface {
	Slash(ctx context.Context, o domain.Offence) error
}

// LogSlasher logs offences without penalising anyone.
type LogSlasher struct {
	log *slog.Logger
}

func NewLogSlasher() *LogSlasher {
	return &LogSlasher{log: slog.Default().With("component", "slasher")}
}

func (s *LogSlasher) Slash(_ context.Context, o domain.Offence) error {
	offenders := make([]string, len(o.Offenders))
	for i, a := range o.Offenders {
		offenders[i] = a.Hex()
	}
	s.log.Warn("offence reported",
		"id", o.ID,
		"kind", o.Kind,
		"action_id", o.ActionID.String(),
		"offenders", offenders,
	)
	return nil
}

// Reporter turns concluded sessions into offence reports.
type Reporter struct {
	store   storage.OffenceRepository
	slasher Slasher
	now     func() uint64
	log     *slog.Logger
}

func NewReporter(store storage.OffenceRepository, slasher Slasher, now func() uint64) *Reporter {
	return &Reporter{
		store:   store,
		slasher: slasher,
		now:     now,
		log:     slog.Default().With("component", "offence"),
	}
}

// OnConcluded reports the minority of a concluded session.
func (r *Reporter) OnConcluded(ctx context.Context, s domain.VotingSession) error {
	switch s.State {
	case domain.SessionApproved:
		return r.report(ctx, domain.OffenceRejectedValidAction, s.ActionID, s.Nays)
	case domain.SessionRejected:
		if err := r.report(ctx, domain.OffenceApprovedInvalidAction, s.ActionID, s.Ayes); err != nil {
			return err
		}
		if s.Kind == domain.ActionSummaryRoot {
			return r.report(ctx, domain.OffenceCreatedInvalidRoot, s.ActionID, []domain.AccountID{s.Creator})
		}
	}
	return nil
}

// InvalidSignature reports voter immediately, regardless of the session outcome.
func (r *Reporter) InvalidSignature(ctx context.Context, id domain.ActionID, voter domain.AccountID) error {
	return r.report(ctx, domain.OffenceInvalidSignatureSubmitted, id, []domain.AccountID{voter})
}

// Report records offenders of kind for id. Offenders already reported for the
// same action are skipped.
func (r *Reporter) Report(ctx context.Context, kind domain.OffenceKind, id domain.ActionID, offenders []domain.AccountID) error {
	return r.report(ctx, kind, id, offenders)
}

func (r *Reporter) report(ctx context.Context, kind domain.OffenceKind, id domain.ActionID, candidates []domain.AccountID) error {
	var offenders []domain.AccountID
	for _, a := range candidates {
		if (a == domain.AccountID{}) {
			continue
		}
		exists, err := r.store.Exists(ctx, kind, id, a)
		if err != nil {
			return fmt.Errorf("check offence: %w", err)
		}
		if !exists {
			offenders = append(offenders, a)
		}
	}
	if len(offenders) == 0 {
		return nil
	}

	o := domain.Offence{
		ID:         uuid.NewString(),
		Kind:       kind,
		ActionID:   id,
		Offenders:  offenders,
		ReportedAt: r.now(),
	}
	if err := r.store.Save(ctx, &o); err != nil {
		return fmt.Errorf("save offence: %w", err)
	}
	metrics.OffencesReported.WithLabelValues(string(kind)).Add(float64(len(offenders)))

	if err := r.slasher.Slash(ctx, o); err != nil {
		// the report is stored, the slasher can be retried from the store
		r.log.Error("slasher rejected offence", "id", o.ID, "kind", kind, "error", err)
		return fmt.Errorf("forward offence %s: %w", o.ID, err)
	}
	return nil
}
