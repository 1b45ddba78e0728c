// Package discovery finds, decodes and filters bridge events on the external ledger.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/ethbridge/internal/core/domain"
	"github.com/vietddude/ethbridge/internal/infra/chain/evm"
)

var (
	ErrGettingEventLogs  = errors.New("error getting event logs")
	ErrDecodingEventLogs = errors.New("error decoding event logs")
)

// MaxAdditionalTransactions bounds the out of range transactions checked per cycle.
const MaxAdditionalTransactions = 16

// Request describes one discovery cycle.
type Request struct {
	Range     domain.BlockRange
	Contracts []common.Address
	// Requested are the signatures the host currently accepts votes for.
	Requested []common.Hash
	// AdditionalTxs are re-checked through their receipts regardless of Range.
	AdditionalTxs []common.Hash
}

// Engine runs discovery against a ledger.
type Engine struct {
	ledger   evm.Ledger
	registry *Registry
	log      *slog.Logger
}

func NewEngine(ledger evm.Ledger, registry *Registry) *Engine {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Engine{
		ledger:   ledger,
		registry: registry,
		log:      slog.Default().With("component", "discovery"),
	}
}

// Discover returns the requested events in the range followed by the
// requested events found in the blocks of the additional transactions.
// Any failing sub-query aborts the whole cycle.
func (e *Engine) Discover(ctx context.Context, req Request) ([]domain.ExternalEvent, error) {
	if len(req.AdditionalTxs) > MaxAdditionalTransactions {
		return nil, fmt.Errorf("too many additional transactions: %d > %d", len(req.AdditionalTxs), MaxAdditionalTransactions)
	}

	g, gctx := errgroup.WithContext(ctx)

	var inRange []domain.ExternalEvent
	g.Go(func() error {
		evs, err := e.identify(gctx, req, uint64(req.Range.StartBlock), uint64(req.Range.EndBlock()))
		inRange = evs
		return err
	})

	extra := make([][]domain.ExternalEvent, len(req.AdditionalTxs))
	for i, tx := range req.AdditionalTxs {
		g.Go(func() error {
			receipt, err := e.ledger.GetTransactionReceipt(gctx, tx)
			if err != nil {
				return fmt.Errorf("%w: receipt %s: %w", ErrGettingEventLogs, tx.Hex(), err)
			}
			if receipt == nil || receipt.BlockNumber == nil {
				e.log.Debug("additional transaction has no receipt", "tx", tx.Hex())
				return nil
			}
			block := receipt.BlockNumber.Uint64()
			evs, err := e.identify(gctx, req, block, block)
			extra[i] = evs
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := inRange
	for _, evs := range extra {
		out = append(out, evs...)
	}
	e.log.Debug("discovery finished",
		"range", req.Range.String(),
		"events", len(out),
		"additional_txs", len(req.AdditionalTxs),
	)
	return out, nil
}

// identify queries and decodes logs for [from, to].
func (e *Engine) identify(ctx context.Context, req Request, from, to uint64) ([]domain.ExternalEvent, error) {
	primarySigs := signatures(domain.PrimaryKinds())
	secondarySigs := requestedSecondary(req.Requested)

	g, gctx := errgroup.WithContext(ctx)

	var primary, secondary []types.Log
	g.Go(func() error {
		logs, err := e.ledger.GetLogs(gctx, evm.LogQuery{
			Addresses: req.Contracts,
			Topics:    [][]common.Hash{primarySigs},
			FromBlock: from,
			ToBlock:   to,
		})
		if err != nil {
			return fmt.Errorf("%w: primary [%d,%d]: %w", ErrGettingEventLogs, from, to, err)
		}
		primary = logs
		return nil
	})

	if len(secondarySigs) > 0 && len(req.Contracts) > 0 {
		contractTopics := make([]common.Hash, len(req.Contracts))
		for i, c := range req.Contracts {
			contractTopics[i] = common.BytesToHash(c.Bytes())
		}
		g.Go(func() error {
			logs, err := e.ledger.GetLogs(gctx, evm.LogQuery{
				Topics:    [][]common.Hash{secondarySigs, nil, contractTopics},
				FromBlock: from,
				ToBlock:   to,
			})
			if err != nil {
				return fmt.Errorf("%w: secondary [%d,%d]: %w", ErrGettingEventLogs, from, to, err)
			}
			secondary = logs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := mergeByTx(primary, secondary)
	events, err := e.decode(merged)
	if err != nil {
		return nil, err
	}
	return retainRequested(events, req.Requested), nil
}

// mergeByTx keeps the first log per transaction. Primary logs come first so
// they win over a secondary match in the same transaction.
func mergeByTx(primary, secondary []types.Log) []types.Log {
	seen := make(map[common.Hash]struct{}, len(primary)+len(secondary))
	out := make([]types.Log, 0, len(primary)+len(secondary))
	for _, batch := range [][]types.Log{primary, secondary} {
		for _, l := range batch {
			if l.TxHash == (common.Hash{}) {
				continue
			}
			if _, ok := seen[l.TxHash]; ok {
				continue
			}
			seen[l.TxHash] = struct{}{}
			out = append(out, l)
		}
	}
	return out
}

func (e *Engine) decode(logs []types.Log) ([]domain.ExternalEvent, error) {
	out := make([]domain.ExternalEvent, 0, len(logs))
	for _, l := range logs {
		if len(l.Topics) == 0 {
			continue
		}
		sig := l.Topics[0]
		dec, ok := e.registry.Lookup(sig)
		if !ok {
			e.log.Debug("skipping unknown event", "signature", sig.Hex(), "tx", l.TxHash.Hex())
			continue
		}

		topics := make([][]byte, len(l.Topics))
		for i, t := range l.Topics {
			topics[i] = t.Bytes()
		}
		data, err := dec(l.Data, topics)
		if err != nil {
			return nil, fmt.Errorf("%w: tx %s: %w", ErrDecodingEventLogs, l.TxHash.Hex(), err)
		}
		if data.Lifted != nil && data.Lifted.TokenContract == (common.Address{}) {
			data.Lifted.TokenContract = l.Address
		}

		out = append(out, domain.ExternalEvent{
			ID:    domain.EventID{Signature: sig, TxHash: l.TxHash},
			Data:  data,
			Block: l.BlockNumber,
		})
	}
	return out, nil
}

func retainRequested(events []domain.ExternalEvent, requested []common.Hash) []domain.ExternalEvent {
	want := make(map[common.Hash]struct{}, len(requested))
	for _, s := range requested {
		want[s] = struct{}{}
	}
	out := events[:0]
	for _, ev := range events {
		if _, ok := want[ev.ID.Signature]; ok {
			out = append(out, ev)
		}
	}
	return out
}

func signatures(kinds []domain.EventKind) []common.Hash {
	out := make([]common.Hash, len(kinds))
	for i, k := range kinds {
		out[i] = k.Signature()
	}
	return out
}

func requestedSecondary(requested []common.Hash) []common.Hash {
	var out []common.Hash
	for _, sig := range requested {
		if kind, ok := domain.KindFromSignature(sig); ok && !kind.IsPrimary() {
			out = append(out, sig)
		}
	}
	return out
}
