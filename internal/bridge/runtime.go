// Package bridge is the host side of the bridge: the state the validators agree
// on and the transactions they submit to change it.
//
// Every mutation is serialised by one lock, the way a host applies transactions
// sequentially within a block.
package bridge

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/ethbridge/internal/consensus/auth"
	"github.com/vietddude/ethbridge/internal/consensus/offence"
	"github.com/vietddude/ethbridge/internal/consensus/voting"
	"github.com/vietddude/ethbridge/internal/core/domain"
	"github.com/vietddude/ethbridge/internal/indexing/metrics"
	"github.com/vietddude/ethbridge/internal/infra/storage"
)

// MaxAdditionalTransactions bounds the queue of transactions awaiting discovery per instance.
const MaxAdditionalTransactions = 16

const defaultVotingPeriod = 100

// Counter scopes of the host state kept beside the sessions.
const (
	roundScope       = "round"
	latestBlockScope = "latest_block"
)

var (
	ErrUnknownInstance               = errors.New("unknown instance")
	ErrInstanceExists                = errors.New("instance already registered")
	ErrNonActiveEthereumRange        = errors.New("non active ethereum range")
	ErrUnauthorizedSignedVote        = errors.New("unauthorized signed vote")
	ErrEventVoteExists               = errors.New("event vote exists")
	ErrTooManyAdditionalTransactions = errors.New("too many additional transactions")
	ErrAdditionalTransactionExists   = errors.New("additional transaction already queued")
	ErrUnknownCall                   = errors.New("unknown call")
)

// Handler consumes events confirmed by the validators.
type Handler interface {
	HandleEvent(ctx context.Context, instance domain.InstanceID, ev domain.ExternalEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, instance domain.InstanceID, ev domain.ExternalEvent) error

func (f HandlerFunc) HandleEvent(ctx context.Context, instance domain.InstanceID, ev domain.ExternalEvent) error {
	return f(ctx, instance, ev)
}

// CallHandler executes an authorized user call such as a signed lower.
type CallHandler func(ctx context.Context, signer domain.AccountID, fields []any) error

// Config configures a Runtime.
type Config struct {
	// VotingPeriod is the number of host blocks a session stays open.
	VotingPeriod uint64
	// Now returns the current host block.
	Now func() uint64
}

type instanceState struct {
	inst       domain.Instance
	requested  []common.Hash
	additional []common.Hash
}

// Runtime holds the bridge state for every instance.
type Runtime struct {
	mu         sync.Mutex
	instances  map[domain.InstanceID]*instanceState
	validators *ValidatorSet
	store      *storage.Store
	auth       *auth.Authorizer
	reporter   *offence.Reporter
	handlers   map[domain.EventKind][]Handler
	calls      map[string]CallHandler
	now        func() uint64
	period     uint64
	lastRoot   *domain.SummaryRoot

	partitions *voting.Manager[domain.Action]
	changes    *voting.Manager[domain.Action]
	roots      *voting.Manager[domain.Action]
	latest     *voting.Manager[domain.Action]

	log *slog.Logger
}

func NewRuntime(cfg Config, store *storage.Store, validators *ValidatorSet, slasher offence.Slasher) (*Runtime, error) {
	if cfg.Now == nil {
		return nil, errors.New("runtime clock is required")
	}
	if cfg.VotingPeriod == 0 {
		cfg.VotingPeriod = defaultVotingPeriod
	}

	r := &Runtime{
		instances:  make(map[domain.InstanceID]*instanceState),
		validators: validators,
		store:      store,
		auth:       auth.NewAuthorizer(store.Counters),
		reporter:   offence.NewReporter(store.Offences, slasher, cfg.Now),
		handlers:   make(map[domain.EventKind][]Handler),
		calls:      make(map[string]CallHandler),
		now:        cfg.Now,
		period:     cfg.VotingPeriod,
		log:        slog.Default().With("component", "runtime"),
	}

	var err error
	newManager := func(kind domain.ActionKind, effect voting.Effect[domain.Action], observer voting.Observer) *voting.Manager[domain.Action] {
		if err != nil {
			return nil
		}
		var m *voting.Manager[domain.Action]
		m, err = voting.NewManager[domain.Action](
			voting.Config{Kind: kind, Now: cfg.Now},
			store.Sessions, store.Counters, validators, effect, observer,
		)
		return m
	}
	r.partitions = newManager(domain.ActionEventsPartition, partitionEffect{r}, r.reporter)
	r.changes = newManager(domain.ActionValidatorChange, validatorChangeEffect{r}, r.reporter)
	r.roots = newManager(domain.ActionSummaryRoot, summaryRootEffect{r}, r.reporter)
	r.latest = newManager(domain.ActionLatestBlock, latestBlockEffect{r}, nil)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// AddInstance registers a bridge deployment and the events its handlers consume.
func (r *Runtime) AddInstance(inst domain.Instance, requested []common.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[inst.ID]; ok {
		return fmt.Errorf("%w: %s", ErrInstanceExists, inst.ID)
	}
	r.instances[inst.ID] = &instanceState{
		inst:      inst,
		requested: slices.Clone(requested),
	}
	return nil
}

func (r *Runtime) instance(id domain.InstanceID) (*instanceState, error) {
	st, ok := r.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, id)
	}
	return st, nil
}

// Instances returns the registered instances.
func (r *Runtime) Instances() []domain.Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Instance, 0, len(r.instances))
	for _, st := range r.instances {
		out = append(out, st.inst)
	}
	slices.SortFunc(out, func(a, b domain.Instance) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// RegisterHandler subscribes h to confirmed events of kind.
func (r *Runtime) RegisterHandler(kind domain.EventKind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = append(r.handlers[kind], h)
}

// RegisterCall registers the handler run after a signed call of action is authorized.
func (r *Runtime) RegisterCall(action string, h CallHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[action] = h
}

// Validators returns the active validator set.
func (r *Runtime) Validators() *ValidatorSet {
	return r.validators
}

// HostBlock returns the current host block.
func (r *Runtime) HostBlock() uint64 {
	return r.now()
}

// View is what a validator needs to decide its next submission for an instance.
type View struct {
	Instance      domain.Instance
	Active        *domain.ActiveRange
	Requested     []common.Hash
	AdditionalTxs []common.Hash
	HasVoted      bool
	// Round changes whenever votes of the instance are dropped without
	// advancing the range, so a validator knows to vote again.
	Round uint64
}

// View returns the state of instance as seen by voter.
func (r *Runtime) View(ctx context.Context, instance domain.InstanceID, voter domain.AccountID) (View, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.instance(instance)
	if err != nil {
		return View{}, err
	}
	active, err := r.store.Ranges.GetActive(ctx, instance)
	if err != nil {
		return View{}, fmt.Errorf("get active range: %w", err)
	}
	voted, err := r.hasVoted(ctx, st, active, voter)
	if err != nil {
		return View{}, err
	}
	round, err := r.store.Counters.Get(ctx, roundScope, instance.String())
	if err != nil {
		return View{}, fmt.Errorf("get round: %w", err)
	}
	return View{
		Instance:      st.inst,
		Active:        active,
		Requested:     slices.Clone(st.requested),
		AdditionalTxs: slices.Clone(st.additional),
		HasVoted:      voted,
		Round:         round,
	}, nil
}

// HasVoted reports whether voter already submitted for the current round of instance.
func (r *Runtime) HasVoted(ctx context.Context, instance domain.InstanceID, voter domain.AccountID) (bool, error) {
	v, err := r.View(ctx, instance, voter)
	if err != nil {
		return false, err
	}
	return v.HasVoted, nil
}

func (r *Runtime) hasVoted(ctx context.Context, st *instanceState, active *domain.ActiveRange, voter domain.AccountID) (bool, error) {
	if active == nil {
		s, ok, err := r.latestSession(ctx, st.inst.ID)
		if err != nil || !ok {
			return false, err
		}
		return s.HasVoted(voter), nil
	}
	_, voted, err := r.slotVote(ctx, st.inst.ID, *active, voter)
	return voted, err
}

// AddAdditionalTransaction queues a transaction whose events must be discovered
// even though its range may already have been voted on.
func (r *Runtime) AddAdditionalTransaction(ctx context.Context, instance domain.InstanceID, tx common.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.instance(instance)
	if err != nil {
		return err
	}
	if slices.Contains(st.additional, tx) {
		return fmt.Errorf("%w: %s", ErrAdditionalTransactionExists, tx.Hex())
	}
	if len(st.additional) >= MaxAdditionalTransactions {
		return ErrTooManyAdditionalTransactions
	}
	st.additional = append(st.additional, tx)
	r.log.Info("additional transaction queued", "instance", instance, "tx", tx.Hex())
	return nil
}

// ResetRange clears the active range so the initial range is agreed again.
// A latest-block vote in progress is dropped.
func (r *Runtime) ResetRange(ctx context.Context, instance domain.InstanceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.instance(instance); err != nil {
		return err
	}
	s, ok, err := r.latestSession(ctx, instance)
	if err != nil {
		return err
	}
	if ok {
		if err := r.latest.Discard(ctx, s.ActionID); err != nil {
			return fmt.Errorf("discard latest block vote: %w", err)
		}
	}
	if err := r.bumpRound(ctx, instance); err != nil {
		return err
	}
	return r.store.Ranges.Clear(ctx, instance)
}

func (r *Runtime) bumpRound(ctx context.Context, instance domain.InstanceID) error {
	n, err := r.store.Counters.Get(ctx, roundScope, instance.String())
	if err != nil {
		return fmt.Errorf("get round: %w", err)
	}
	if err := r.store.Counters.Set(ctx, roundScope, instance.String(), n+1); err != nil {
		return fmt.Errorf("advance round: %w", err)
	}
	return nil
}

// deliver hands each event to its handlers once. Events already processed are skipped.
func (r *Runtime) deliver(ctx context.Context, instance domain.InstanceID, events []domain.ExternalEvent) error {
	for _, ev := range events {
		done, err := r.store.Processed.IsProcessed(ctx, ev.ID)
		if err != nil {
			return fmt.Errorf("check processed event: %w", err)
		}
		if done {
			r.log.Debug("event already processed", "tx", ev.ID.TxHash.Hex(), "kind", ev.Data.Kind)
			continue
		}
		for _, h := range r.handlers[ev.Data.Kind] {
			if err := h.HandleEvent(ctx, instance, ev); err != nil {
				r.log.Error("event handler failed",
					"instance", instance,
					"kind", ev.Data.Kind,
					"tx", ev.ID.TxHash.Hex(),
					"error", err,
				)
			}
		}
		if _, err := r.store.Processed.MarkProcessed(ctx, ev.ID, ev.Block); err != nil {
			return fmt.Errorf("mark processed event: %w", err)
		}
		metrics.EventsDelivered.WithLabelValues(string(ev.Data.Kind)).Inc()
	}
	return nil
}

// ExpireSessions concludes every session whose voting period is over.
func (r *Runtime) ExpireSessions(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for _, m := range r.managers() {
		n, err := m.Expire(ctx)
		total += n
		if err != nil {
			return total, fmt.Errorf("expire %s sessions: %w", m.Kind(), err)
		}
	}
	return total, nil
}

func (r *Runtime) managers() []*voting.Manager[domain.Action] {
	return []*voting.Manager[domain.Action]{r.latest, r.partitions, r.changes, r.roots}
}

// OpenSessions returns the open sessions of every kind.
func (r *Runtime) OpenSessions(ctx context.Context) ([]domain.VotingSession, error) {
	var out []domain.VotingSession
	for _, m := range r.managers() {
		s, err := m.OpenSessions(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, s...)
	}
	return out, nil
}

// Offences returns every offence reported so far.
func (r *Runtime) Offences(ctx context.Context) ([]*domain.Offence, error) {
	return r.store.Offences.List(ctx)
}

// LowestActiveBlock returns the smallest start block over every active range.
// ok is false when some instance has no active range yet.
func (r *Runtime) LowestActiveBlock(ctx context.Context) (block uint64, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.instances) == 0 {
		return 0, false, nil
	}
	block = math.MaxUint64
	for id := range r.instances {
		active, err := r.store.Ranges.GetActive(ctx, id)
		if err != nil {
			return 0, false, fmt.Errorf("get active range: %w", err)
		}
		if active == nil {
			return 0, false, nil
		}
		block = min(block, uint64(active.Range.StartBlock))
	}
	return block, true, nil
}
