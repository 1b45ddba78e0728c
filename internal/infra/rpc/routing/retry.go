package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/vietddude/ethbridge/internal/infra/rpc/provider"
)

// ErrRetryLimitReached is returned once a bounded retry loop gives up.
var ErrRetryLimitReached = errors.New("retry limit reached")

// RetryConfig defines retry behavior.
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig provides sensible defaults for individual calls.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     3,
	InitialDelay:    500 * time.Millisecond,
	MaxDelay:        10 * time.Second,
	BackoffMultiple: 2.0,
}

// FixedRetryConfig retries attempts times with a constant delay.
func FixedRetryConfig(attempts int, delay time.Duration) RetryConfig {
	return RetryConfig{
		MaxAttempts:     attempts,
		InitialDelay:    delay,
		MaxDelay:        delay,
		BackoffMultiple: 1.0,
	}
}

// ErrorAction determines how to handle an error.
type ErrorAction int

const (
	ActionRetry ErrorAction = iota
	ActionFailover
	ActionFatal
)

// ClassifyError determines the action for a given error.
func ClassifyError(err error) ErrorAction {
	if err == nil {
		return ActionRetry
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ActionFatal
	}
	if errors.Is(err, provider.ErrThrottled) || errors.Is(err, provider.ErrBlocked) {
		return ActionFailover
	}

	var rpcErr *provider.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		// Parse error, Invalid Request, Method not found, Invalid params
		case -32700, -32600, -32601, -32602:
			return ActionFatal
		}
	}

	s := err.Error()
	sLower := strings.ToLower(s)

	if strings.Contains(s, "-32700") || strings.Contains(s, "-32600") ||
		strings.Contains(s, "-32601") || strings.Contains(s, "-32602") {
		return ActionFatal
	}

	// Failover (Provider specific issues)
	if strings.Contains(s, "429") || strings.Contains(sLower, "too many requests") ||
		strings.Contains(s, "403") || strings.Contains(sLower, "forbidden") ||
		strings.Contains(sLower, "quota") || strings.Contains(sLower, "plan limit") ||
		strings.Contains(sLower, "unauthorized") ||
		strings.Contains(sLower, "rate limit") ||
		strings.Contains(sLower, "count exceeded") {
		return ActionFailover
	}

	// Default to Retry (Network, 5xx, etc)
	return ActionRetry
}

// Do runs op until it succeeds, the attempts are exhausted or ctx is done.
// Exhaustion returns an error wrapping both ErrRetryLimitReached and the last failure.
func Do(ctx context.Context, config RetryConfig, op func(ctx context.Context, attempt int) error) error {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if ClassifyError(err) == ActionFatal {
			return err
		}
		if attempt == config.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(calculateBackoff(attempt, config)):
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryLimitReached, config.MaxAttempts, lastErr)
}

// CallWithRetry executes an RPC call with exponential backoff.
// Provider specific failures return immediately so the caller can fail over.
func CallWithRetry(
	ctx context.Context,
	p provider.Provider,
	method string,
	params []any,
	config RetryConfig,
) (json.RawMessage, error) {
	var result json.RawMessage
	var failover error
	err := Do(ctx, config, func(ctx context.Context, _ int) error {
		res, err := p.Call(ctx, method, params)
		if err != nil {
			if ClassifyError(err) == ActionFailover {
				failover = err
				return nil
			}
			return err
		}
		result = res
		return nil
	})
	if failover != nil {
		return nil, failover
	}
	return result, err
}

// CallWithFailover tries each provider in order with retry.
func CallWithFailover(
	ctx context.Context,
	providers []provider.Provider,
	method string,
	params []any,
	config RetryConfig,
) (json.RawMessage, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	var lastErr error
	for _, p := range providers {
		result, err := CallWithRetry(ctx, p, method, params, config)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ClassifyError(err) == ActionFatal {
			return nil, fmt.Errorf("fatal error from provider %s: %w", p.Name(), err)
		}
	}

	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}

func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	mult := config.BackoffMultiple
	if mult < 1 {
		mult = 1
	}
	delay := float64(config.InitialDelay) * math.Pow(mult, float64(attempt))
	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	return time.Duration(delay)
}
