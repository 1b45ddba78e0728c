package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/vietddude/ethbridge/internal/bridge"
	"github.com/vietddude/ethbridge/internal/consensus/auth"
	"github.com/vietddude/ethbridge/internal/consensus/offence"
	"github.com/vietddude/ethbridge/internal/core/config"
	"github.com/vietddude/ethbridge/internal/core/domain"
	"github.com/vietddude/ethbridge/internal/core/worker"
	"github.com/vietddude/ethbridge/internal/indexing/health"
	redisclient "github.com/vietddude/ethbridge/internal/infra/redis"
	"github.com/vietddude/ethbridge/internal/infra/storage"
	"github.com/vietddude/ethbridge/internal/infra/storage/bolt"
	"github.com/vietddude/ethbridge/internal/infra/storage/memory"
	"github.com/vietddude/ethbridge/internal/infra/storage/postgres"
)

// Counter scope used to persist the host clock across restarts.
const (
	clockScope = "clock"
	clockKey   = "host_block"
)

// Node is the validator process: host runtime, orchestrator and their workers.
type Node struct {
	cfg          *config.AppConfig
	signer       *auth.Signer
	store        *storage.Store
	db           *postgres.DB
	clock        *bridge.Clock
	runtime      *bridge.Runtime
	orchestrator *Orchestrator
	pruner       *worker.Pruner
	healthMon    *health.Monitor
	healthServer *health.Server
	redisClient  *redisclient.Client
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	log          *slog.Logger
}

// Options overrides parts of the node, mainly for tests.
type Options struct {
	Dialer  Dialer
	Slasher offence.Slasher
}

// NewNode creates a new Node with all dependencies initialized.
func NewNode(cfg *config.AppConfig, opts Options) (*Node, error) {
	log := slog.Default().With("component", "node")

	// 1. Validator key
	signer, err := loadSigner(cfg.Validator)
	if err != nil {
		return nil, err
	}

	// 2. Storage
	store, db, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}

	// 3. Host runtime
	clock := bridge.NewClock(cfg.Runtime.BlockTime)
	if last, err := store.Counters.Get(context.Background(), clockScope, clockKey); err == nil && last > 0 {
		clock.Resume(last)
	}

	validators := bridge.NewValidatorSet(cfg.Validator.Validators()...)
	if !validators.IsValidator(signer.Address()) {
		validators.Add(signer.Address())
	}

	slasher := opts.Slasher
	if slasher == nil {
		slasher = offence.NewLogSlasher()
	}
	runtime, err := bridge.NewRuntime(bridge.Config{
		VotingPeriod: cfg.Runtime.VotingPeriod,
		Now:          clock.Now,
	}, store, validators, slasher)
	if err != nil {
		closeStore(store)
		return nil, fmt.Errorf("failed to init runtime: %w", err)
	}

	specs := make([]InstanceSpec, 0, len(cfg.Instances))
	instances := make([]domain.Instance, 0, len(cfg.Instances))
	handled := make(map[domain.EventKind]bool)
	for _, ic := range cfg.Instances {
		kinds, err := ic.EventKinds()
		if err != nil {
			closeStore(store)
			return nil, err
		}
		requested := make([]common.Hash, 0, len(kinds))
		for _, k := range kinds {
			requested = append(requested, k.Signature())
			if !handled[k] {
				runtime.RegisterHandler(k, LogHandler{log: slog.Default().With("component", "handler")})
				handled[k] = true
			}
		}

		inst := ic.Instance()
		if err := runtime.AddInstance(inst, requested); err != nil {
			closeStore(store)
			return nil, err
		}
		specs = append(specs, InstanceSpec{Instance: inst, Providers: ic.Providers})
		instances = append(instances, inst)
	}

	// 4. Redis (optional)
	var redisClient *redisclient.Client
	var locker Locker
	if cfg.Redis.URL != "" {
		redisClient, err = redisclient.NewClient(cfg.Redis, signer.Address().Hex()+"/"+uuid.NewString())
		if err != nil {
			log.Warn("Failed to connect to Redis, using local locks only", "error", err)
		} else {
			locker = redisClient
		}
	}

	// 5. Orchestrator
	dial := opts.Dialer
	if dial == nil {
		dial = DefaultDialer(cfg.Polling.RetryLimit, cfg.Polling.RetryDelay)
	}
	orch := NewOrchestrator(OrchestratorConfig{
		Interval:   cfg.Polling.Interval,
		RetryLimit: cfg.Polling.RetryLimit,
		RetryDelay: cfg.Polling.RetryDelay,
		LockTTL:    cfg.Redis.LockTTL,
	}, runtime, signer, dial, locker, specs)

	// 6. Workers and health
	pruner := worker.NewPruner(worker.PrunerConfig{
		Interval: cfg.Runtime.PruneInterval,
		Retain:   cfg.Runtime.RetainBlocks,
	}, store.Sessions, store.Processed, clock.Now, runtime.LowestActiveBlock)

	healthMon := health.NewMonitor(instances, store.Ranges, orch, runtime)
	if redisClient != nil {
		healthMon.AddDependency("redis", redisClient)
	}

	log.Info("Node initialized",
		"validator", signer.Address().Hex(),
		"storage", cfg.StorageBackend(),
		"instances", len(specs),
		"validators", validators.Count(),
	)

	return &Node{
		cfg:          cfg,
		signer:       signer,
		store:        store,
		db:           db,
		clock:        clock,
		runtime:      runtime,
		orchestrator: orch,
		pruner:       pruner,
		healthMon:    healthMon,
		healthServer: health.NewServer(healthMon, cfg.Server.Port),
		redisClient:  redisClient,
		log:          log,
	}, nil
}

func loadSigner(cfg config.ValidatorConfig) (*auth.Signer, error) {
	if cfg.KeyHex != "" {
		return auth.SignerFromHex(cfg.KeyHex)
	}
	return auth.SignerFromFile(cfg.KeyFile)
}

// OpenStore opens the store selected by cfg. The postgres handle is nil for other backends.
func OpenStore(cfg *config.AppConfig) (*storage.Store, *postgres.DB, error) {
	switch cfg.StorageBackend() {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		slog.Info("Using PostgreSQL storage")
		return postgres.NewStore(db), db, nil
	case "bolt":
		db, err := bolt.Open(cfg.Bolt.Path)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using Bolt storage", "path", db.Path())
		return bolt.NewStore(db), nil, nil
	default:
		slog.Info("Using Memory storage")
		return memory.NewStore(), nil, nil
	}
}

func closeStore(s *storage.Store) {
	if s.Close != nil {
		_ = s.Close()
	}
}

// Runtime exposes the host runtime.
func (n *Node) Runtime() *bridge.Runtime {
	return n.runtime
}

// Signer returns the validator key.
func (n *Node) Signer() *auth.Signer {
	return n.signer
}

// Start starts the node and all its components.
func (n *Node) Start(ctx context.Context) error {
	ctx, n.cancel = context.WithCancel(ctx)

	// Start Health Server
	go func() {
		if err := n.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.log.Error("Health server failed", "error", err)
		}
	}()

	// Start DB Metrics Collector
	if n.db != nil {
		n.db.StartMetricsCollector(ctx)
	}

	n.wg.Add(3)
	go func() {
		defer n.wg.Done()
		if err := n.orchestrator.Run(ctx); err != nil {
			n.log.Error("Orchestrator failed", "error", err)
		}
	}()
	go func() {
		defer n.wg.Done()
		n.pruner.Start(ctx)
	}()
	go func() {
		defer n.wg.Done()
		n.runHousekeeping(ctx)
	}()

	return nil
}

// runHousekeeping expires sessions once per host block and persists the clock.
func (n *Node) runHousekeeping(ctx context.Context) {
	interval := n.cfg.Runtime.BlockTime
	if interval <= 0 {
		interval = 6 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if expired, err := n.runtime.ExpireSessions(ctx); err != nil {
				n.log.Error("Failed to expire sessions", "error", err)
			} else if expired > 0 {
				n.log.Info("Expired voting sessions", "count", expired)
			}
			if err := n.store.Counters.Set(ctx, clockScope, clockKey, n.clock.Now()); err != nil {
				n.log.Warn("Failed to persist host clock", "error", err)
			}
		}
	}
}

// Stop stops the node.
func (n *Node) Stop(ctx context.Context) error {
	n.log.Info("Stopping Node...")

	if n.cancel != nil {
		n.cancel()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		n.log.Warn("Timed out waiting for workers")
	}

	n.orchestrator.Release(ctx)

	// Close Redis
	if n.redisClient != nil {
		if err := n.redisClient.Close(); err != nil {
			n.log.Warn("Failed to close Redis", "error", err)
		}
	}

	var errs []error
	if n.store.Close != nil {
		errs = append(errs, n.store.Close())
	}

	// Stop Health Server
	errs = append(errs, n.healthServer.Stop(ctx))
	return errors.Join(errs...)
}

// LogHandler implements bridge.Handler by logging confirmed events.
type LogHandler struct {
	log *slog.Logger
}

func (h LogHandler) HandleEvent(ctx context.Context, instance domain.InstanceID, ev domain.ExternalEvent) error {
	h.log.Info("[EVENT] confirmed",
		"instance", instance,
		"kind", ev.Data.Kind,
		"tx", ev.ID.TxHash.Hex(),
		"block", ev.Block,
	)
	return nil
}
