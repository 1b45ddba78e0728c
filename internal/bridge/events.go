package bridge

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vietddude/ethbridge/internal/consensus/auth"
	"github.com/vietddude/ethbridge/internal/consensus/voting"
	"github.com/vietddude/ethbridge/internal/core/domain"
	"github.com/vietddude/ethbridge/internal/indexing/metrics"
	"github.com/vietddude/ethbridge/internal/indexing/partition"
)

func slotPrefix(instance domain.InstanceID, active domain.ActiveRange) string {
	return fmt.Sprintf("%s/%d+%d/p%d/", instance, active.Range.StartBlock, active.Range.Length, active.Partition)
}

func partitionSubject(instance domain.InstanceID, active domain.ActiveRange, id common.Hash) string {
	return slotPrefix(instance, active) + id.Hex()
}

func latestBlockSubject(instance domain.InstanceID) string {
	return instance.String() + "/latest-block"
}

// slotSessions returns the open partition sessions of the active slot.
func (r *Runtime) slotSessions(ctx context.Context, instance domain.InstanceID, active domain.ActiveRange) ([]domain.VotingSession, error) {
	open, err := r.partitions.OpenSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list partition sessions: %w", err)
	}
	prefix := slotPrefix(instance, active)
	var out []domain.VotingSession
	for _, s := range open {
		if strings.HasPrefix(s.ActionID.Subject, prefix) {
			out = append(out, s)
		}
	}
	return out, nil
}

// slotVote returns the session of the active slot voter voted in, if any.
func (r *Runtime) slotVote(ctx context.Context, instance domain.InstanceID, active domain.ActiveRange, voter domain.AccountID) (domain.VotingSession, bool, error) {
	sessions, err := r.slotSessions(ctx, instance, active)
	if err != nil {
		return domain.VotingSession{}, false, err
	}
	for _, s := range sessions {
		if s.HasVoted(voter) {
			return s, true, nil
		}
	}
	return domain.VotingSession{}, false, nil
}

// SubmitVote records voter's vote for the content of the active partition.
// Votes are grouped by partition content; the first content to reach quorum
// is delivered and the active range advances.
func (r *Runtime) SubmitVote(ctx context.Context, instance domain.InstanceID, voter domain.AccountID, p domain.EventsPartition, sig []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.instance(instance); err != nil {
		return err
	}
	if !r.validators.IsValidator(voter) {
		return fmt.Errorf("%w: %s", voting.ErrNotAValidator, voter.Hex())
	}

	active, err := r.store.Ranges.GetActive(ctx, instance)
	if err != nil {
		return fmt.Errorf("get active range: %w", err)
	}
	if active == nil || p.Range != active.Range || p.Partition != active.Partition {
		return fmt.Errorf("%w: got %s partition %d", ErrNonActiveEthereumRange, p.Range, p.Partition)
	}

	encoded, err := partition.Encode(p)
	if err != nil {
		return err
	}
	subject := partitionSubject(instance, *active, crypto.Keccak256Hash(encoded))

	// The signature is the only proof the voter sent this, so a bad one is
	// rejected without blaming the voter.
	if err := auth.VerifyVote(auth.SubmitEventsHashContext, voter, sig, uint64(instance), voter, encoded); err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorizedSignedVote, err)
	}

	if _, voted, err := r.slotVote(ctx, instance, *active, voter); err != nil {
		return err
	} else if voted {
		return fmt.Errorf("%w: %s on %s", ErrEventVoteExists, voter.Hex(), slotPrefix(instance, *active))
	}

	action := domain.Action{Kind: domain.ActionEventsPartition, Instance: instance, Partition: &p}
	s, err := r.openOrGet(ctx, subject, action, voter)
	if err != nil {
		return err
	}
	result, err := r.partitions.CastVote(ctx, s.ActionID, voter, domain.Aye)
	if err != nil {
		return err
	}
	r.log.Info("partition vote accepted",
		"instance", instance,
		"range", p.Range.String(),
		"partition", p.Partition,
		"events", len(p.Events),
		"voter", voter.Hex(),
		"ayes", len(result.Ayes),
		"quorum", result.Quorum,
	)

	if result.State == domain.SessionApproved {
		return r.dropCompetitors(ctx, instance, *active, result.ActionID)
	}
	return nil
}

func (r *Runtime) openOrGet(ctx context.Context, subject string, action domain.Action, creator domain.AccountID) (domain.VotingSession, error) {
	open, err := r.partitions.OpenSessions(ctx)
	if err != nil {
		return domain.VotingSession{}, err
	}
	for _, s := range open {
		if s.ActionID.Subject == subject {
			return s, nil
		}
	}
	counter, err := r.partitions.NextCounter(ctx, subject)
	if err != nil {
		return domain.VotingSession{}, err
	}
	quorum := voting.TwoThirdsQuorum(r.validators.Count())
	return r.partitions.Open(ctx, subject, counter, action, quorum, r.now()+r.period, creator)
}

// dropCompetitors discards the other contents voted for the slot that was just
// approved. Their voters rejected the valid content.
func (r *Runtime) dropCompetitors(ctx context.Context, instance domain.InstanceID, slot domain.ActiveRange, approved domain.ActionID) error {
	sessions, err := r.slotSessions(ctx, instance, slot)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if s.ActionID == approved {
			continue
		}
		if err := r.partitions.Discard(ctx, s.ActionID); err != nil && !errors.Is(err, voting.ErrStaleVote) {
			return fmt.Errorf("discard competing partition: %w", err)
		}
		voters := slices.Concat(s.Ayes, s.Nays)
		if err := r.reporter.Report(ctx, domain.OffenceRejectedValidAction, approved, voters); err != nil {
			r.log.Error("failed to report competing voters", "action_id", approved.String(), "error", err)
		}
	}
	return nil
}

type partitionEffect struct {
	r *Runtime
}

func (e partitionEffect) Approve(ctx context.Context, s domain.VotingSession, a domain.Action) error {
	r := e.r
	p := a.Partition
	if p == nil {
		return fmt.Errorf("session %s carries no partition", s.ActionID)
	}
	st, err := r.instance(a.Instance)
	if err != nil {
		return err
	}

	if err := r.deliver(ctx, a.Instance, p.Events); err != nil {
		return err
	}
	for _, ev := range p.Events {
		st.additional = slices.DeleteFunc(st.additional, func(tx common.Hash) bool {
			return tx == ev.ID.TxHash
		})
	}

	next := domain.ActiveRange{Range: p.Range, Partition: p.Partition}.Next(p.IsLast)
	if err := r.store.Ranges.SetActive(ctx, a.Instance, next); err != nil {
		return fmt.Errorf("advance active range: %w", err)
	}
	metrics.ActiveRangeEnd.WithLabelValues(a.Instance.String()).Set(float64(next.Range.EndBlock()))
	r.log.Info("partition approved",
		"instance", a.Instance,
		"range", p.Range.String(),
		"partition", p.Partition,
		"events", len(p.Events),
		"next_range", next.Range.String(),
		"next_partition", next.Partition,
	)
	return nil
}

// Reject starts a new round so validators whose votes were dropped vote again.
func (e partitionEffect) Reject(ctx context.Context, s domain.VotingSession, a domain.Action) error {
	e.r.log.Warn("partition rejected", "instance", a.Instance, "action_id", s.ActionID.String())
	return e.r.bumpRound(ctx, a.Instance)
}

func latestBlockKey(id domain.ActionID, voter domain.AccountID) string {
	return id.String() + "/" + voter.Hex()
}

// latestSession returns the open latest-block session of instance, if any.
func (r *Runtime) latestSession(ctx context.Context, instance domain.InstanceID) (domain.VotingSession, bool, error) {
	open, err := r.latest.OpenSessions(ctx)
	if err != nil {
		return domain.VotingSession{}, false, fmt.Errorf("list latest block sessions: %w", err)
	}
	subject := latestBlockSubject(instance)
	for _, s := range open {
		if s.ActionID.Subject == subject {
			return s, true, nil
		}
	}
	return domain.VotingSession{}, false, nil
}

// SubmitLatestBlock records voter's view of the latest finalised external block
// while no range is active. Submissions are ayes of one session per instance;
// once two thirds of the validators submitted, the initial range is derived
// from the agreed block.
func (r *Runtime) SubmitLatestBlock(ctx context.Context, instance domain.InstanceID, voter domain.AccountID, block uint32, sig []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.instance(instance); err != nil {
		return err
	}
	if !r.validators.IsValidator(voter) {
		return fmt.Errorf("%w: %s", voting.ErrNotAValidator, voter.Hex())
	}
	active, err := r.store.Ranges.GetActive(ctx, instance)
	if err != nil {
		return fmt.Errorf("get active range: %w", err)
	}
	if active != nil {
		return fmt.Errorf("%w: range %s is active", voting.ErrVotingEnded, active.Range)
	}
	if err := auth.VerifyVote(auth.LatestBlockHashContext, voter, sig, uint64(instance), voter, block); err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorizedSignedVote, err)
	}

	s, ok, err := r.latestSession(ctx, instance)
	if err != nil {
		return err
	}
	if ok && s.HasVoted(voter) {
		return fmt.Errorf("%w: %s", ErrEventVoteExists, voter.Hex())
	}
	if !ok {
		subject := latestBlockSubject(instance)
		counter, err := r.latest.NextCounter(ctx, subject)
		if err != nil {
			return err
		}
		action := domain.Action{Kind: domain.ActionLatestBlock, Instance: instance}
		quorum := voting.TwoThirdsQuorum(r.validators.Count())
		if s, err = r.latest.Open(ctx, subject, counter, action, quorum, r.now()+r.period, voter); err != nil {
			return err
		}
	}

	if err := r.store.Counters.Set(ctx, latestBlockScope, latestBlockKey(s.ActionID, voter), uint64(block)); err != nil {
		return fmt.Errorf("save latest block: %w", err)
	}
	result, err := r.latest.CastVote(ctx, s.ActionID, voter, domain.Aye)
	if err != nil {
		return err
	}
	r.log.Info("latest block vote accepted",
		"instance", instance,
		"block", block,
		"voter", voter.Hex(),
		"ayes", len(result.Ayes),
		"quorum", result.Quorum,
	)
	return nil
}

type latestBlockEffect struct {
	r *Runtime
}

func (e latestBlockEffect) Approve(ctx context.Context, s domain.VotingSession, a domain.Action) error {
	r := e.r
	st, err := r.instance(a.Instance)
	if err != nil {
		return err
	}

	votes := make([]uint32, 0, len(s.Ayes))
	for _, voter := range s.Ayes {
		b, err := r.store.Counters.Get(ctx, latestBlockScope, latestBlockKey(s.ActionID, voter))
		if err != nil {
			return fmt.Errorf("read latest block of %s: %w", voter.Hex(), err)
		}
		votes = append(votes, uint32(b))
	}
	chosen := ChooseLatestBlock(votes, voting.OneThirdQuorum(r.validators.Count()))
	start, err := domain.StartBlockFromFinalised(chosen, st.inst.RangeLength)
	if err != nil {
		return err
	}
	initial := domain.ActiveRange{Range: domain.NewBlockRange(start, st.inst.RangeLength)}
	if err := r.store.Ranges.SetActive(ctx, a.Instance, initial); err != nil {
		return fmt.Errorf("set initial range: %w", err)
	}
	if err := r.bumpRound(ctx, a.Instance); err != nil {
		return err
	}

	metrics.ActiveRangeEnd.WithLabelValues(a.Instance.String()).Set(float64(initial.Range.EndBlock()))
	r.log.Info("initial range agreed",
		"instance", a.Instance,
		"latest_block", chosen,
		"range", initial.Range.String(),
	)
	return nil
}

// Reject runs when too few validators submitted before the deadline. Nobody
// voted for anything wrong, so the manager has no offence observer.
func (e latestBlockEffect) Reject(ctx context.Context, s domain.VotingSession, a domain.Action) error {
	e.r.log.Warn("latest block vote expired", "instance", a.Instance, "action_id", s.ActionID.String(), "ayes", len(s.Ayes))
	return e.r.bumpRound(ctx, a.Instance)
}

// ChooseLatestBlock picks the block at position q-1 of the submissions sorted
// descending: the highest block that at least q validators reached.
func ChooseLatestBlock(votes []uint32, q uint32) uint32 {
	if len(votes) == 0 {
		return 0
	}
	sorted := slices.Clone(votes)
	slices.Sort(sorted)
	slices.Reverse(sorted)
	idx := int(q) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
