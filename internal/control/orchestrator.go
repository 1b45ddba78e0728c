package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/ethbridge/internal/bridge"
	"github.com/vietddude/ethbridge/internal/consensus/auth"
	"github.com/vietddude/ethbridge/internal/core/config"
	"github.com/vietddude/ethbridge/internal/core/domain"
	"github.com/vietddude/ethbridge/internal/indexing/discovery"
	"github.com/vietddude/ethbridge/internal/indexing/metrics"
	"github.com/vietddude/ethbridge/internal/indexing/partition"
	"github.com/vietddude/ethbridge/internal/infra/chain/evm"
	redisclient "github.com/vietddude/ethbridge/internal/infra/redis"
	"github.com/vietddude/ethbridge/internal/infra/rpc/budget"
	"github.com/vietddude/ethbridge/internal/infra/rpc/provider"
	"github.com/vietddude/ethbridge/internal/infra/rpc/routing"
)

// Host is the runtime surface the orchestrator reads and submits votes to.
type Host interface {
	View(ctx context.Context, instance domain.InstanceID, voter domain.AccountID) (bridge.View, error)
	SubmitVote(ctx context.Context, instance domain.InstanceID, voter domain.AccountID, p domain.EventsPartition, sig []byte) error
	SubmitLatestBlock(ctx context.Context, instance domain.InstanceID, voter domain.AccountID, block uint32, sig []byte) error
}

// Locker coordinates several processes sharing one validator key.
type Locker interface {
	AcquireLock(ctx context.Context, instance domain.InstanceID, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, instance domain.InstanceID) error
	MarkVoted(ctx context.Context, instance domain.InstanceID, subject string, block uint64, ttl time.Duration) error
	HasVoted(ctx context.Context, instance domain.InstanceID, subject string) (bool, error)
}

// Dialer opens a ledger connection for an instance.
type Dialer func(ctx context.Context, spec InstanceSpec) (evm.Ledger, error)

// InstanceSpec is an instance together with the endpoints of its ledger.
type InstanceSpec struct {
	Instance  domain.Instance
	Providers []config.ProviderConfig
}

// OrchestratorConfig configures an Orchestrator.
type OrchestratorConfig struct {
	Interval   time.Duration
	RetryLimit int
	RetryDelay time.Duration
	LockTTL    time.Duration
	VotedTTL   time.Duration
}

// instanceHandle owns the ledger connection of one instance.
type instanceHandle struct {
	mu     sync.Mutex
	ledger evm.Ledger
	head   atomic.Uint64
	seen   atomic.Bool
}

// Orchestrator runs one polling task per instance: discover, partition, sign
// and submit the vote the host currently expects from this validator.
type Orchestrator struct {
	cfg       OrchestratorConfig
	host      Host
	signer    *auth.Signer
	dial      Dialer
	locker    Locker
	registry  *discovery.Registry
	instances []InstanceSpec
	handles   sync.Map // domain.InstanceID -> *instanceHandle
	runID     string
	log       *slog.Logger
}

// NewOrchestrator creates an orchestrator. locker may be nil.
func NewOrchestrator(
	cfg OrchestratorConfig,
	host Host,
	signer *auth.Signer,
	dial Dialer,
	locker Locker,
	instances []InstanceSpec,
) *Orchestrator {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 3 * cfg.Interval
	}
	if cfg.VotedTTL <= 0 {
		cfg.VotedTTL = 24 * time.Hour
	}
	runID := uuid.NewString()
	return &Orchestrator{
		cfg:       cfg,
		host:      host,
		signer:    signer,
		dial:      dial,
		locker:    locker,
		registry:  discovery.DefaultRegistry(),
		instances: instances,
		runID:     runID,
		log: slog.Default().With(
			"component", "orchestrator",
			"validator", signer.Address().Hex(),
			"run_id", runID,
		),
	}
}

// DefaultDialer dials every configured provider with a fixed retry policy.
// Provider quotas are shared across reconnects.
func DefaultDialer(retryLimit int, retryDelay time.Duration) Dialer {
	tracker := budget.NewTracker()
	return func(ctx context.Context, spec InstanceSpec) (evm.Ledger, error) {
		providers := make([]provider.Provider, 0, len(spec.Providers))
		for _, p := range spec.Providers {
			tracker.SetLimit(p.Name, p.DailyLimit)
			providers = append(providers, provider.NewHTTPProvider(p.Name, p.URL, p.Timeout))
		}
		c, err := evm.DialProviders(ctx, providers, spec.Instance.ChainID, routing.FixedRetryConfig(retryLimit, retryDelay), tracker)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func (o *Orchestrator) handle(id domain.InstanceID) *instanceHandle {
	h, _ := o.handles.LoadOrStore(id, &instanceHandle{})
	return h.(*instanceHandle)
}

// LedgerHead returns the last ledger head seen for instance.
func (o *Orchestrator) LedgerHead(id domain.InstanceID) (uint64, bool) {
	h := o.handle(id)
	return h.head.Load(), h.seen.Load()
}

// Run starts one task per instance and blocks until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, spec := range o.instances {
		g.Go(func() error {
			o.loop(ctx, spec)
			return nil
		})
	}
	return g.Wait()
}

func (o *Orchestrator) loop(ctx context.Context, spec InstanceSpec) {
	log := o.log.With("instance", spec.Instance.ID)
	log.Info("instance task started", "interval", o.cfg.Interval)

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := o.Tick(ctx, spec); err != nil && ctx.Err() == nil {
			if errors.Is(err, routing.ErrRetryLimitReached) {
				log.Warn("ledger unreachable, skipping tick", "error", err)
			} else {
				log.Error("tick failed", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			log.Info("instance task stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one polling cycle for spec.
func (o *Orchestrator) Tick(ctx context.Context, spec InstanceSpec) error {
	id := spec.Instance.ID

	if o.locker != nil {
		ok, err := o.locker.AcquireLock(ctx, id, o.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("acquire instance lock: %w", err)
		}
		if !ok {
			o.log.Debug("instance driven by another process", "instance", id)
			return nil
		}
	}

	h := o.handle(id)
	h.mu.Lock()
	defer h.mu.Unlock()

	ledger, err := o.connect(ctx, h, spec)
	if err != nil {
		metrics.ConnectionRetries.WithLabelValues(id.String()).Inc()
		return err
	}

	voter := o.signer.Address()
	view, err := o.host.View(ctx, id, voter)
	if err != nil {
		return fmt.Errorf("read host view: %w", err)
	}
	if view.HasVoted {
		return nil
	}

	// The round is part of the marker so a dropped vote is cast again.
	subject := redisclient.VoteSubject(view.Active, view.Round)
	if o.locker != nil {
		voted, err := o.locker.HasVoted(ctx, id, subject)
		if err != nil {
			return fmt.Errorf("read vote marker: %w", err)
		}
		if voted {
			return nil
		}
	}

	head, err := ledger.BlockNumber(ctx)
	if err != nil {
		o.drop(h)
		return fmt.Errorf("get latest block: %w", err)
	}
	h.head.Store(head)
	h.seen.Store(true)
	metrics.LedgerLatestBlock.WithLabelValues(id.String()).Set(float64(head))

	submitted := true
	if view.Active == nil {
		err = o.submitLatestBlock(ctx, spec, head)
	} else {
		submitted, err = o.submitPartition(ctx, spec, ledger, view)
	}
	if err != nil || !submitted {
		return err
	}

	if o.locker != nil {
		if err := o.locker.MarkVoted(ctx, id, subject, head, o.cfg.VotedTTL); err != nil {
			o.log.Warn("failed to mark vote", "instance", id, "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) connect(ctx context.Context, h *instanceHandle, spec InstanceSpec) (evm.Ledger, error) {
	if h.ledger != nil {
		return h.ledger, nil
	}
	ledger, err := o.dial(ctx, spec)
	if err != nil {
		h.seen.Store(false)
		return nil, fmt.Errorf("connect to %s: %w", spec.Instance.ID, err)
	}
	h.ledger = ledger
	return ledger, nil
}

// drop forgets a connection that failed so the next tick dials again.
func (o *Orchestrator) drop(h *instanceHandle) {
	if c, ok := h.ledger.(io.Closer); ok {
		_ = c.Close()
	}
	h.ledger = nil
	h.seen.Store(false)
}

func (o *Orchestrator) submitLatestBlock(ctx context.Context, spec InstanceSpec, head uint64) error {
	id := spec.Instance.ID
	finalised := uint64(0)
	if head > spec.Instance.Confirmations {
		finalised = head - spec.Instance.Confirmations
	}
	if finalised > math.MaxUint32 {
		return fmt.Errorf("latest block %d does not fit a block range", finalised)
	}

	sig, err := bridge.SignLatestBlock(o.signer, id, uint32(finalised))
	if err != nil {
		return fmt.Errorf("sign latest block: %w", err)
	}
	err = o.host.SubmitLatestBlock(ctx, id, o.signer.Address(), uint32(finalised), sig)
	o.record(id, "latest_block", err)
	if errors.Is(err, bridge.ErrEventVoteExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("submit latest block: %w", err)
	}
	o.log.Info("latest block submitted", "instance", id, "block", finalised)
	return nil
}

func (o *Orchestrator) submitPartition(ctx context.Context, spec InstanceSpec, ledger evm.Ledger, view bridge.View) (bool, error) {
	id := spec.Instance.ID
	active := *view.Active

	ok, err := ledger.IsFinalized(ctx, uint64(active.Range.EndBlock()), spec.Instance.Confirmations)
	if err != nil {
		o.drop(o.handle(id))
		return false, fmt.Errorf("check finality: %w", err)
	}
	if !ok {
		o.log.Debug("range not final yet", "instance", id, "range", active.Range.String())
		return false, nil
	}

	start := time.Now()
	events, err := discovery.NewEngine(ledger, o.registry).Discover(ctx, discovery.Request{
		Range:         active.Range,
		Contracts:     []domain.AccountID{spec.Instance.BridgeContract},
		Requested:     view.Requested,
		AdditionalTxs: view.AdditionalTxs,
	})
	metrics.DiscoveryDuration.WithLabelValues(id.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		return false, fmt.Errorf("discover %s: %w", active.Range, err)
	}
	for _, ev := range events {
		metrics.EventsDiscovered.WithLabelValues(id.String(), string(ev.Data.Kind)).Inc()
	}

	parts, err := partition.Create(active.Range, events)
	if err != nil {
		return false, fmt.Errorf("partition %s: %w", active.Range, err)
	}
	p, err := partition.Find(parts, active.Partition)
	if err != nil {
		return false, err
	}
	sig, err := bridge.SignPartitionVote(o.signer, id, p)
	if err != nil {
		return false, fmt.Errorf("sign partition: %w", err)
	}

	err = o.host.SubmitVote(ctx, id, o.signer.Address(), p, sig)
	o.record(id, "events_partition", err)
	if errors.Is(err, bridge.ErrEventVoteExists) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("submit vote: %w", err)
	}
	o.log.Info("partition vote submitted",
		"instance", id,
		"range", active.Range.String(),
		"partition", p.Partition,
		"events", len(p.Events),
		"last", p.IsLast,
	)
	return true, nil
}

func (o *Orchestrator) record(id domain.InstanceID, kind string, err error) {
	result := "ok"
	switch {
	case errors.Is(err, bridge.ErrEventVoteExists):
		result = "duplicate"
	case err != nil:
		result = "error"
	}
	metrics.VotesSubmitted.WithLabelValues(id.String(), kind, result).Inc()
}

// Release drops every instance lock held by this process and closes ledger connections.
func (o *Orchestrator) Release(ctx context.Context) {
	for _, spec := range o.instances {
		id := spec.Instance.ID
		if o.locker != nil {
			if err := o.locker.ReleaseLock(ctx, id); err != nil && !errors.Is(err, redisclient.ErrLockNotHeld) {
				o.log.Warn("failed to release instance lock", "instance", id, "error", err)
			}
		}
		h := o.handle(id)
		h.mu.Lock()
		if h.ledger != nil {
			o.drop(h)
		}
		h.mu.Unlock()
	}
}
