// Package voting implements the quorum voting state machine shared by every
// action the validators agree on.
//
// A session is Open until either side reaches quorum or the deadline passes,
// then it concludes Approved or Rejected exactly once. Only one session per
// subject may be open and its ingress counter must follow the last concluded one.
package voting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vietddude/ethbridge/internal/core/codec"
	"github.com/vietddude/ethbridge/internal/core/domain"
	"github.com/vietddude/ethbridge/internal/indexing/metrics"
	"github.com/vietddude/ethbridge/internal/infra/storage"
)

var (
	ErrSessionAlreadyOpen    = errors.New("a session is already open for subject")
	ErrInvalidIngressCounter = errors.New("invalid ingress counter")
	ErrNotAValidator         = errors.New("voter is not a validator")
	ErrSessionNotFound       = errors.New("voting session not found")
	ErrStaleVote             = errors.New("voting session already concluded")
	ErrDuplicateVote         = errors.New("voter has already voted")
	ErrVotingEnded           = errors.New("voting period has ended")
	ErrCannotConcludeYet     = errors.New("session cannot be concluded yet")
)

const defaultConcludedCacheSize = 1024

// Effect applies the outcome of a concluded session.
type Effect[T any] interface {
	Approve(ctx context.Context, s domain.VotingSession, payload T) error
	Reject(ctx context.Context, s domain.VotingSession, payload T) error
}

// Observer is told about every concluded session after its effect was applied.
type Observer interface {
	OnConcluded(ctx context.Context, s domain.VotingSession) error
}

// ValidatorSet answers membership queries for voters.
type ValidatorSet interface {
	IsValidator(id domain.AccountID) bool
}

// Config configures a Manager.
type Config struct {
	Kind domain.ActionKind
	// Now returns the current host block.
	Now                func() uint64
	ConcludedCacheSize int
}

// Manager runs voting sessions for one action kind. It is safe for concurrent use.
type Manager[T any] struct {
	mu         sync.Mutex
	kind       domain.ActionKind
	now        func() uint64
	sessions   storage.SessionRepository
	counters   storage.CounterRepository
	validators ValidatorSet
	effect     Effect[T]
	observer   Observer
	concluded  *lru.Cache[domain.ActionID, domain.SessionState]
	log        *slog.Logger
}

func NewManager[T any](
	cfg Config,
	sessions storage.SessionRepository,
	counters storage.CounterRepository,
	validators ValidatorSet,
	effect Effect[T],
	observer Observer,
) (*Manager[T], error) {
	if cfg.Now == nil {
		return nil, fmt.Errorf("voting manager %s: clock is required", cfg.Kind)
	}
	size := cfg.ConcludedCacheSize
	if size <= 0 {
		size = defaultConcludedCacheSize
	}
	cache, err := lru.New[domain.ActionID, domain.SessionState](size)
	if err != nil {
		return nil, fmt.Errorf("voting manager %s: %w", cfg.Kind, err)
	}
	return &Manager[T]{
		kind:       cfg.Kind,
		now:        cfg.Now,
		sessions:   sessions,
		counters:   counters,
		validators: validators,
		effect:     effect,
		observer:   observer,
		concluded:  cache,
		log:        slog.Default().With("component", "voting", "action", cfg.Kind),
	}, nil
}

func (m *Manager[T]) counterScope() string {
	return "concluded:" + string(m.kind)
}

// LastConcluded returns the ingress counter of the last concluded session of subject.
func (m *Manager[T]) LastConcluded(ctx context.Context, subject string) (uint64, error) {
	return m.counters.Get(ctx, m.counterScope(), subject)
}

// NextCounter returns the counter the next session of subject must use.
func (m *Manager[T]) NextCounter(ctx context.Context, subject string) (uint64, error) {
	last, err := m.LastConcluded(ctx, subject)
	if err != nil {
		return 0, err
	}
	return last + 1, nil
}

// Open starts a session for (subject, counter) that concludes at deadline.
func (m *Manager[T]) Open(
	ctx context.Context,
	subject string,
	counter uint64,
	payload T,
	quorum uint32,
	deadline uint64,
	creator domain.AccountID,
) (domain.VotingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	open, err := m.sessions.ListOpen(ctx, m.kind)
	if err != nil {
		return domain.VotingSession{}, fmt.Errorf("list open sessions: %w", err)
	}
	for _, rec := range open {
		if rec.Session.ActionID.Subject == subject {
			return domain.VotingSession{}, fmt.Errorf("%w: %s", ErrSessionAlreadyOpen, rec.Session.ActionID)
		}
	}

	last, err := m.LastConcluded(ctx, subject)
	if err != nil {
		return domain.VotingSession{}, err
	}
	if counter != last+1 {
		return domain.VotingSession{}, fmt.Errorf("%w: got %d, expected %d", ErrInvalidIngressCounter, counter, last+1)
	}

	encoded, err := codec.Marshal(payload)
	if err != nil {
		return domain.VotingSession{}, fmt.Errorf("encode payload: %w", err)
	}

	now := m.now()
	s := domain.VotingSession{
		Kind:      m.kind,
		ActionID:  domain.NewActionID(subject, counter),
		Quorum:    quorum,
		Ayes:      []domain.AccountID{},
		Nays:      []domain.AccountID{},
		Creator:   creator,
		CreatedAt: now,
		Deadline:  deadline,
		State:     domain.SessionOpen,
	}
	if err := m.sessions.Save(ctx, &storage.SessionRecord{Kind: m.kind, Session: s, Payload: encoded}); err != nil {
		return domain.VotingSession{}, fmt.Errorf("save session: %w", err)
	}

	metrics.OpenSessions.WithLabelValues(string(m.kind)).Inc()
	m.log.Debug("session opened", "action_id", s.ActionID.String(), "quorum", quorum, "deadline", deadline)
	return s, nil
}

// load returns the open record for id, classifying missing and concluded sessions.
func (m *Manager[T]) load(ctx context.Context, id domain.ActionID) (*storage.SessionRecord, error) {
	if _, ok := m.concluded.Get(id); ok {
		return nil, fmt.Errorf("%w: %s", ErrStaleVote, id)
	}

	rec, err := m.sessions.Get(ctx, m.kind, id)
	if errors.Is(err, storage.ErrNotFound) {
		last, cerr := m.LastConcluded(ctx, id.Subject)
		if cerr != nil {
			return nil, cerr
		}
		if id.IngressCounter <= last {
			return nil, fmt.Errorf("%w: %s", ErrStaleVote, id)
		}
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if rec.Session.State != domain.SessionOpen {
		m.concluded.Add(id, rec.Session.State)
		return nil, fmt.Errorf("%w: %s", ErrStaleVote, id)
	}
	return rec, nil
}

// CastVote records voter's choice. When the vote decides the outcome the session
// concludes immediately. The returned session reflects the state after the vote.
func (m *Manager[T]) CastVote(ctx context.Context, id domain.ActionID, voter domain.AccountID, choice domain.Choice) (domain.VotingSession, error) {
	if !m.validators.IsValidator(voter) {
		return domain.VotingSession{}, fmt.Errorf("%w: %s", ErrNotAValidator, voter.Hex())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.load(ctx, id)
	if err != nil {
		return domain.VotingSession{}, err
	}
	s := &rec.Session
	if s.HasVoted(voter) {
		return domain.VotingSession{}, fmt.Errorf("%w: %s on %s", ErrDuplicateVote, voter.Hex(), id)
	}
	if s.IsExpired(m.now()) {
		return domain.VotingSession{}, fmt.Errorf("%w: %s", ErrVotingEnded, id)
	}

	if choice == domain.Aye {
		s.Ayes = append(s.Ayes, voter)
	} else {
		s.Nays = append(s.Nays, voter)
	}
	if err := m.sessions.Save(ctx, rec); err != nil {
		return domain.VotingSession{}, fmt.Errorf("save vote: %w", err)
	}
	m.log.Debug("vote recorded", "action_id", id.String(), "voter", voter.Hex(), "choice", choice.String())

	if s.HasOutcome() {
		state := domain.SessionRejected
		if s.IsApproved() {
			state = domain.SessionApproved
		}
		if err := m.conclude(ctx, rec, state); err != nil {
			return domain.VotingSession{}, err
		}
	}
	return *s.Clone(), nil
}

// TryConclude concludes the session if its outcome is known.
func (m *Manager[T]) TryConclude(ctx context.Context, id domain.ActionID) (domain.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.load(ctx, id)
	if err != nil {
		return "", err
	}
	state, ok := m.outcome(&rec.Session)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrCannotConcludeYet, id)
	}
	if err := m.conclude(ctx, rec, state); err != nil {
		return "", err
	}
	return state, nil
}

// Reject concludes an open session as rejected whatever its votes. Used when a
// competing proposal for the same slot was approved.
func (m *Manager[T]) Reject(ctx context.Context, id domain.ActionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	return m.conclude(ctx, rec, domain.SessionRejected)
}

// Discard removes an open session without concluding it. No effect is applied
// and the subject's counter does not move.
func (m *Manager[T]) Discard(ctx context.Context, id domain.ActionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.load(ctx, id); err != nil {
		return err
	}
	if err := m.sessions.Delete(ctx, m.kind, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	metrics.OpenSessions.WithLabelValues(string(m.kind)).Dec()
	m.log.Debug("session discarded", "action_id", id.String())
	return nil
}

func (m *Manager[T]) outcome(s *domain.VotingSession) (domain.SessionState, bool) {
	switch {
	case s.IsApproved():
		return domain.SessionApproved, true
	case uint32(len(s.Nays)) >= s.Quorum, s.IsExpired(m.now()):
		return domain.SessionRejected, true
	}
	return "", false
}

// Expire concludes every open session whose deadline has passed.
func (m *Manager[T]) Expire(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	open, err := m.sessions.ListOpen(ctx, m.kind)
	if err != nil {
		return 0, fmt.Errorf("list open sessions: %w", err)
	}
	n := 0
	for _, rec := range open {
		state, ok := m.outcome(&rec.Session)
		if !ok {
			continue
		}
		if err := m.conclude(ctx, rec, state); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// conclude applies the effect first so a failing effect leaves the session open.
func (m *Manager[T]) conclude(ctx context.Context, rec *storage.SessionRecord, state domain.SessionState) error {
	var payload T
	if err := codec.Unmarshal(rec.Payload, &payload); err != nil {
		return fmt.Errorf("decode payload of %s: %w", rec.Session.ActionID, err)
	}

	s := rec.Session
	s.State = state
	if m.effect != nil {
		apply := m.effect.Reject
		if state == domain.SessionApproved {
			apply = m.effect.Approve
		}
		if err := apply(ctx, s, payload); err != nil {
			return fmt.Errorf("apply %s effect of %s: %w", state, s.ActionID, err)
		}
	}

	rec.Session.State = state
	if err := m.sessions.Save(ctx, rec); err != nil {
		return fmt.Errorf("save concluded session: %w", err)
	}
	if err := m.counters.Set(ctx, m.counterScope(), s.ActionID.Subject, s.ActionID.IngressCounter); err != nil {
		return fmt.Errorf("advance counter: %w", err)
	}
	m.concluded.Add(s.ActionID, state)

	metrics.OpenSessions.WithLabelValues(string(m.kind)).Dec()
	metrics.SessionsConcluded.WithLabelValues(string(m.kind), string(state)).Inc()
	m.log.Info("session concluded",
		"action_id", s.ActionID.String(),
		"state", state,
		"ayes", len(s.Ayes),
		"nays", len(s.Nays),
	)

	if m.observer != nil {
		if err := m.observer.OnConcluded(ctx, s); err != nil {
			m.log.Error("offence report failed", "action_id", s.ActionID.String(), "error", err)
		}
	}
	return nil
}

// HasVoted reports whether voter already voted in the open session id.
func (m *Manager[T]) HasVoted(ctx context.Context, id domain.ActionID, voter domain.AccountID) (bool, error) {
	rec, err := m.sessions.Get(ctx, m.kind, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Session.HasVoted(voter), nil
}

// Session returns a session, open or concluded, with its payload.
func (m *Manager[T]) Session(ctx context.Context, id domain.ActionID) (domain.VotingSession, T, error) {
	var payload T
	rec, err := m.sessions.Get(ctx, m.kind, id)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.VotingSession{}, payload, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return domain.VotingSession{}, payload, err
	}
	if err := codec.Unmarshal(rec.Payload, &payload); err != nil {
		return domain.VotingSession{}, payload, fmt.Errorf("decode payload of %s: %w", id, err)
	}
	return rec.Session, payload, nil
}

// OpenSessions lists the open sessions of the manager's kind.
func (m *Manager[T]) OpenSessions(ctx context.Context) ([]domain.VotingSession, error) {
	recs, err := m.sessions.ListOpen(ctx, m.kind)
	if err != nil {
		return nil, err
	}
	out := make([]domain.VotingSession, len(recs))
	for i, rec := range recs {
		out[i] = rec.Session
	}
	return out, nil
}

// Kind returns the action kind the manager handles.
func (m *Manager[T]) Kind() domain.ActionKind {
	return m.kind
}
