// Package evm is the external ledger client: a thin JSON-RPC wrapper over an
// EVM chain that exposes just the queries the bridge needs.
package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/ethbridge/internal/infra/rpc/budget"
	"github.com/vietddude/ethbridge/internal/infra/rpc/provider"
	"github.com/vietddude/ethbridge/internal/infra/rpc/routing"
)

var (
	ErrMissingBlockNumber = errors.New("log has no block number")
	ErrNoMatchingLedger   = errors.New("no provider serves the expected chain id")
)

// Ledger is the read interface of the external chain.
type Ledger interface {
	GetLogs(ctx context.Context, q LogQuery) ([]types.Log, error)
	// GetTransactionReceipt returns nil, nil for unknown transactions.
	GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	IsFinalized(ctx context.Context, block, confirmations uint64) (bool, error)
	ChainID(ctx context.Context) (uint64, error)
}

// LogQuery mirrors the eth_getLogs filter object. A nil topic position matches anything.
type LogQuery struct {
	Addresses []common.Address
	Topics    [][]common.Hash
	FromBlock uint64
	ToBlock   uint64
}

func (q LogQuery) toArg() map[string]any {
	arg := map[string]any{
		"fromBlock": hexutil.EncodeUint64(q.FromBlock),
		"toBlock":   hexutil.EncodeUint64(q.ToBlock),
	}
	if len(q.Addresses) > 0 {
		arg["address"] = q.Addresses
	}
	if len(q.Topics) > 0 {
		arg["topics"] = q.Topics
	}
	return arg
}

// Client implements Ledger over one or more JSON-RPC providers serving the
// same chain. Providers are tried in order; throttled, blocked or over-quota
// providers are skipped.
type Client struct {
	providers []provider.Provider
	budget    *budget.Tracker
	retry     routing.RetryConfig
	log       *slog.Logger
}

// NewClient wraps p. Individual calls are retried with routing.DefaultRetryConfig.
func NewClient(p provider.Provider) *Client {
	return newClient([]provider.Provider{p}, nil)
}

func newClient(providers []provider.Provider, tracker *budget.Tracker) *Client {
	return &Client{
		providers: providers,
		budget:    tracker,
		retry:     routing.DefaultRetryConfig,
		log:       slog.Default().With("component", "evm", "provider", providers[0].Name()),
	}
}

// Dial opens an HTTP provider for every url and keeps those that report chainID.
func Dial(ctx context.Context, urls []string, chainID uint64, cfg routing.RetryConfig, timeout time.Duration) (*Client, error) {
	providers := make([]provider.Provider, 0, len(urls))
	for i, u := range urls {
		providers = append(providers, provider.NewHTTPProvider(fmt.Sprintf("ledger-%d", i), u, timeout))
	}
	return DialProviders(ctx, providers, chainID, cfg, nil)
}

// DialProviders is Dial over already constructed providers. One pass over all
// providers counts as one attempt; exhausting cfg.MaxAttempts yields
// routing.ErrRetryLimitReached. tracker may be nil.
func DialProviders(ctx context.Context, providers []provider.Provider, chainID uint64, cfg routing.RetryConfig, tracker *budget.Tracker) (*Client, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("dial: %w", ErrNoMatchingLedger)
	}

	var matching []provider.Provider
	err := routing.Do(ctx, cfg, func(ctx context.Context, attempt int) error {
		matching = matching[:0]
		for _, p := range providers {
			c := NewClient(p)
			c.retry = routing.RetryConfig{MaxAttempts: 1}
			got, err := c.ChainID(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.log.Warn("chain id query failed", "attempt", attempt, "error", err)
				continue
			}
			if got != chainID {
				c.log.Warn("chain id mismatch", "expected", chainID, "got", got)
				continue
			}
			matching = append(matching, p)
		}
		if len(matching) == 0 {
			return ErrNoMatchingLedger
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newClient(matching, tracker), nil
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	var lastErr error
	for _, p := range c.providers {
		if c.budget != nil {
			if !c.budget.CanUse(p.Name()) {
				lastErr = fmt.Errorf("%w: %s", budget.ErrQuotaExhausted, p.Name())
				continue
			}
			c.budget.RecordCall(p.Name(), method)
		}

		raw, err := routing.CallWithRetry(ctx, p, method, params, c.retry)
		if err != nil {
			lastErr = err
			if routing.ClassifyError(err) == routing.ActionFailover {
				c.log.Warn("provider unavailable, failing over", "provider", p.Name(), "method", method, "error", err)
				continue
			}
			return fmt.Errorf("%s: %w", method, err)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
		return nil
	}
	return fmt.Errorf("%s: %w", method, lastErr)
}

// rpcLog accepts logs from nodes that omit fields go-ethereum marks required.
type rpcLog struct {
	Address     common.Address  `json:"address"`
	Topics      []common.Hash   `json:"topics"`
	Data        hexutil.Bytes   `json:"data"`
	BlockNumber *hexutil.Uint64 `json:"blockNumber"`
	TxHash      *common.Hash    `json:"transactionHash"`
	TxIndex     hexutil.Uint    `json:"transactionIndex"`
	BlockHash   common.Hash     `json:"blockHash"`
	Index       hexutil.Uint    `json:"logIndex"`
	Removed     bool            `json:"removed"`
}

// GetLogs runs eth_getLogs. Logs without a transaction hash keep a zero TxHash.
func (c *Client) GetLogs(ctx context.Context, q LogQuery) ([]types.Log, error) {
	var raw []rpcLog
	if err := c.call(ctx, "eth_getLogs", []any{q.toArg()}, &raw); err != nil {
		return nil, err
	}

	logs := make([]types.Log, 0, len(raw))
	for _, l := range raw {
		if l.BlockNumber == nil {
			return nil, fmt.Errorf("eth_getLogs: %w", ErrMissingBlockNumber)
		}
		lg := types.Log{
			Address:     l.Address,
			Topics:      l.Topics,
			Data:        l.Data,
			BlockNumber: uint64(*l.BlockNumber),
			TxIndex:     uint(l.TxIndex),
			BlockHash:   l.BlockHash,
			Index:       uint(l.Index),
			Removed:     l.Removed,
		}
		if l.TxHash != nil {
			lg.TxHash = *l.TxHash
		}
		logs = append(logs, lg)
	}
	return logs, nil
}

func (c *Client) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	if err := c.call(ctx, "eth_getTransactionReceipt", []any{hash}, &receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n hexutil.Uint64
	if err := c.call(ctx, "eth_blockNumber", nil, &n); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// IsFinalized reports whether block has at least confirmations blocks on top of it.
func (c *Client) IsFinalized(ctx context.Context, block, confirmations uint64) (bool, error) {
	current, err := c.BlockNumber(ctx)
	if err != nil {
		return false, err
	}
	return current >= block+confirmations, nil
}

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	var id hexutil.Uint64
	if err := c.call(ctx, "eth_chainId", nil, &id); err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// Close releases every provider.
func (c *Client) Close() error {
	var errs []error
	for _, p := range c.providers {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}
