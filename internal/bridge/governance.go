package bridge

import (
	"context"
	"fmt"

	"github.com/vietddude/ethbridge/internal/consensus/auth"
	"github.com/vietddude/ethbridge/internal/consensus/voting"
	"github.com/vietddude/ethbridge/internal/core/domain"
)

const summaryRootSubject = "summary-root"

func validatorSubject(v domain.AccountID) string {
	return "validator/" + v.Hex()
}

func (r *Runtime) manager(kind domain.ActionKind) (*voting.Manager[domain.Action], error) {
	switch kind {
	case domain.ActionEventsPartition:
		return r.partitions, nil
	case domain.ActionValidatorChange:
		return r.changes, nil
	case domain.ActionSummaryRoot:
		return r.roots, nil
	case domain.ActionLatestBlock:
		return r.latest, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCall, kind)
}

// Ballot is a vote on a governance session. Signature proves the voter sent
// it. Ayes also carry Approval, the voter's signature over the action itself,
// which is what the external chain later checks.
type Ballot struct {
	Voter     domain.AccountID
	ID        domain.ActionID
	Choice    domain.Choice
	Signature []byte
	Approval  []byte
}

func verifySender(action string, sender domain.AccountID, sig []byte, fields ...any) error {
	if err := auth.VerifyVote(action, sender, sig, fields...); err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorizedSignedVote, err)
	}
	return nil
}

// castBallot records b in m. A bad approval from an authenticated voter is
// reported as an offence; a bad sender signature is only rejected.
func (r *Runtime) castBallot(ctx context.Context, m *voting.Manager[domain.Action], voteContext string, b Ballot) (domain.VotingSession, error) {
	if !r.validators.IsValidator(b.Voter) {
		return domain.VotingSession{}, fmt.Errorf("%w: %s", voting.ErrNotAValidator, b.Voter.Hex())
	}
	if err := verifySender(voteContext, b.Voter, b.Signature, b.ID.Subject, b.ID.IngressCounter, bool(b.Choice)); err != nil {
		return domain.VotingSession{}, err
	}

	if b.Choice == domain.Aye {
		s, action, err := m.Session(ctx, b.ID)
		if err != nil {
			return domain.VotingSession{}, err
		}
		if s.State != domain.SessionOpen {
			return domain.VotingSession{}, fmt.Errorf("%w: %s", voting.ErrStaleVote, b.ID)
		}
		if err := auth.VerifyVote(auth.ApproveActionContext, b.Voter, b.Approval, b.ID.Subject, b.ID.IngressCounter, action); err != nil {
			if rerr := r.reporter.InvalidSignature(ctx, b.ID, b.Voter); rerr != nil {
				r.log.Error("failed to report invalid signature", "voter", b.Voter.Hex(), "error", rerr)
			}
			return domain.VotingSession{}, fmt.Errorf("%w: approval: %w", ErrUnauthorizedSignedVote, err)
		}
	}
	return m.CastVote(ctx, b.ID, b.Voter, b.Choice)
}

// ProposeValidatorChange opens a vote to activate or deactivate a validator.
func (r *Runtime) ProposeValidatorChange(ctx context.Context, proposer domain.AccountID, change domain.ValidatorChange) (domain.ActionID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.validators.IsValidator(proposer) {
		return domain.ActionID{}, fmt.Errorf("%w: %s", voting.ErrNotAValidator, proposer.Hex())
	}
	subject := validatorSubject(change.Validator)
	counter, err := r.changes.NextCounter(ctx, subject)
	if err != nil {
		return domain.ActionID{}, err
	}
	action := domain.Action{Kind: domain.ActionValidatorChange, ValidatorChange: &change}
	quorum := voting.TwoThirdsQuorum(r.validators.Count())
	s, err := r.changes.Open(ctx, subject, counter, action, quorum, r.now()+r.period, proposer)
	if err != nil {
		return domain.ActionID{}, err
	}
	r.log.Info("validator change proposed", "action_id", s.ActionID.String(), "kind", change.Kind, "validator", change.Validator.Hex())
	return s.ActionID, nil
}

// VoteValidatorChange records a vote on a validator change.
func (r *Runtime) VoteValidatorChange(ctx context.Context, b Ballot) (domain.VotingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.castBallot(ctx, r.changes, auth.CastVoteContext, b)
}

type validatorChangeEffect struct {
	r *Runtime
}

func (e validatorChangeEffect) Approve(_ context.Context, s domain.VotingSession, a domain.Action) error {
	c := a.ValidatorChange
	if c == nil {
		return fmt.Errorf("session %s carries no validator change", s.ActionID)
	}
	switch c.Kind {
	case domain.ValidatorActivation:
		e.r.validators.Add(c.Validator)
	case domain.ValidatorDeactivation:
		e.r.validators.Remove(c.Validator)
	default:
		return fmt.Errorf("unknown validator change %q", c.Kind)
	}
	e.r.log.Info("validator set changed", "kind", c.Kind, "validator", c.Validator.Hex(), "validators", e.r.validators.Count())
	return nil
}

func (e validatorChangeEffect) Reject(context.Context, domain.VotingSession, domain.Action) error {
	return nil
}

// ProposeRoot opens a vote on a summary root. The root's counter must follow
// the last accepted root.
func (r *Runtime) ProposeRoot(ctx context.Context, creator domain.AccountID, root domain.SummaryRoot) (domain.ActionID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.validators.IsValidator(creator) {
		return domain.ActionID{}, fmt.Errorf("%w: %s", voting.ErrNotAValidator, creator.Hex())
	}
	if err := r.auth.CheckIngress(ctx, summaryRootSubject, root.Counter); err != nil {
		return domain.ActionID{}, err
	}
	action := domain.Action{Kind: domain.ActionSummaryRoot, SummaryRoot: &root}
	quorum := voting.TwoThirdsQuorum(r.validators.Count())
	s, err := r.roots.Open(ctx, summaryRootSubject, root.Counter, action, quorum, r.now()+r.period, creator)
	if err != nil {
		return domain.ActionID{}, err
	}
	r.log.Info("summary root proposed",
		"action_id", s.ActionID.String(),
		"from", root.FromBlock,
		"to", root.ToBlock,
		"root", root.RootHash.Hex(),
	)
	return s.ActionID, nil
}

// VoteRoot records a vote on a summary root.
func (r *Runtime) VoteRoot(ctx context.Context, b Ballot) (domain.VotingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.castBallot(ctx, r.roots, auth.SummaryRootVoteContext, b)
}

// EndVotingPeriod concludes a validator change or summary root session once
// its outcome is known. Any validator may call it.
func (r *Runtime) EndVotingPeriod(ctx context.Context, kind domain.ActionKind, sender domain.AccountID, id domain.ActionID, sig []byte) (domain.SessionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.manager(kind)
	if err != nil {
		return "", err
	}
	if !r.validators.IsValidator(sender) {
		return "", fmt.Errorf("%w: %s", voting.ErrNotAValidator, sender.Hex())
	}
	if err := verifySender(auth.EndVotingPeriodContext, sender, sig, id.Subject, id.IngressCounter); err != nil {
		return "", err
	}
	return m.TryConclude(ctx, id)
}

// Action returns the action voted on in session id, the content an aye approves.
func (r *Runtime) Action(ctx context.Context, kind domain.ActionKind, id domain.ActionID) (domain.Action, error) {
	m, err := r.manager(kind)
	if err != nil {
		return domain.Action{}, err
	}
	_, action, err := m.Session(ctx, id)
	return action, err
}

// LastRoot returns the last approved summary root.
func (r *Runtime) LastRoot() *domain.SummaryRoot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastRoot == nil {
		return nil
	}
	root := *r.lastRoot
	return &root
}

type summaryRootEffect struct {
	r *Runtime
}

func (e summaryRootEffect) Approve(ctx context.Context, s domain.VotingSession, a domain.Action) error {
	root := a.SummaryRoot
	if root == nil {
		return fmt.Errorf("session %s carries no summary root", s.ActionID)
	}
	if err := e.r.auth.AcceptIngress(ctx, summaryRootSubject, root.Counter); err != nil {
		return err
	}
	e.r.lastRoot = root
	e.r.log.Info("summary root committed", "counter", root.Counter, "root", root.RootHash.Hex())
	return nil
}

// Reject still consumes the counter; the range is proposed again under the next one.
func (e summaryRootEffect) Reject(ctx context.Context, s domain.VotingSession, a domain.Action) error {
	if a.SummaryRoot != nil {
		if err := e.r.auth.AcceptIngress(ctx, summaryRootSubject, a.SummaryRoot.Counter); err != nil {
			return err
		}
	}
	e.r.log.Warn("summary root rejected", "action_id", s.ActionID.String(), "creator", s.Creator.Hex())
	return nil
}

// ExecuteSigned authorizes a call submitted by its signer and runs its handler.
func (r *Runtime) ExecuteSigned(ctx context.Context, d auth.Direct) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.calls[d.Action]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCall, d.Action)
	}
	if err := r.auth.VerifyDirect(ctx, d); err != nil {
		return err
	}
	return h(ctx, d.Signer, d.Fields)
}

// ExecuteRelayed authorizes a call submitted by a relayer and runs its handler.
func (r *Runtime) ExecuteRelayed(ctx context.Context, rel auth.Relayed) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.calls[rel.Action]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCall, rel.Action)
	}
	if err := r.auth.VerifyRelayed(ctx, rel); err != nil {
		return err
	}
	return h(ctx, rel.Proof.Signer, rel.Fields)
}

// Nonce returns the signer's current nonce for signed calls.
func (r *Runtime) Nonce(ctx context.Context, signer domain.AccountID) (uint64, error) {
	return r.auth.Nonce(ctx, signer)
}
