package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/ethbridge/internal/infra/storage"
)

// Floor returns the lowest ledger block still being voted on. ok is false
// while some instance has not agreed its initial range.
type Floor func(ctx context.Context) (block uint64, ok bool, err error)

// PrunerConfig configures a Pruner.
type PrunerConfig struct {
	Interval time.Duration
	// Retain is kept below both the host clock and the ledger floor. 0 disables pruning.
	Retain uint64
}

// Pruner deletes concluded sessions and processed-event markers that can no longer matter.
type Pruner struct {
	cfg       PrunerConfig
	sessions  storage.SessionRepository
	processed storage.ProcessedEventRepository
	now       func() uint64
	floor     Floor
	log       *slog.Logger
}

// NewPruner creates a new Pruner worker.
func NewPruner(
	cfg PrunerConfig,
	sessions storage.SessionRepository,
	processed storage.ProcessedEventRepository,
	now func() uint64,
	floor Floor,
) *Pruner {
	return &Pruner{
		cfg:       cfg,
		sessions:  sessions,
		processed: processed,
		now:       now,
		floor:     floor,
		log:       slog.Default().With("component", "pruner"),
	}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.cfg.Retain == 0 {
		return // Retention disabled
	}

	interval := max(p.cfg.Interval, 1*time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune runs one pass and returns the number of deleted sessions and event markers.
func (p *Pruner) Prune(ctx context.Context) (sessions, events int) {
	if now := p.now(); now > p.cfg.Retain {
		n, err := p.sessions.DeleteConcludedBefore(ctx, now-p.cfg.Retain)
		if err != nil {
			p.log.Error("failed to prune sessions", "error", err)
		}
		sessions = n
	}

	if p.floor != nil {
		block, ok, err := p.floor(ctx)
		switch {
		case err != nil:
			p.log.Error("failed to read active ranges", "error", err)
		case ok && block > p.cfg.Retain:
			n, err := p.processed.DeleteBefore(ctx, block-p.cfg.Retain)
			if err != nil {
				p.log.Error("failed to prune processed events", "error", err)
			}
			events = n
		}
	}

	if sessions > 0 || events > 0 {
		p.log.Info("pruned", "sessions", sessions, "events", events)
	}
	return sessions, events
}
