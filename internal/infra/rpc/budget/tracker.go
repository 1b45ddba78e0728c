// Package budget tracks the daily request quota of JSON-RPC providers.
package budget

import (
	"errors"
	"sync"
	"time"

	"github.com/vietddude/ethbridge/internal/indexing/metrics"
)

// ErrQuotaExhausted is returned when every provider is out of quota.
var ErrQuotaExhausted = errors.New("provider quota exhausted")

// usableBelow is the share of the daily limit after which a provider is skipped.
const usableBelow = 95.0

// UsageStats holds quota usage statistics.
type UsageStats struct {
	TotalCalls      int
	CallsPerHour    int
	DailyLimit      int
	RemainingCalls  int
	UsagePercentage float64
	NextResetAt     time.Time
}

type providerBudget struct {
	limit         int
	totalCalls    int
	callsThisHour int
	hourStartTime time.Time
	methodCalls   map[string]int
}

// Tracker counts calls per provider against a daily limit. Limits reset at
// local midnight. A provider without a limit is never exhausted.
type Tracker struct {
	mu        sync.Mutex
	providers map[string]*providerBudget
	resetTime time.Time
	now       func() time.Time
}

// NewTracker creates a tracker with no limits.
func NewTracker() *Tracker {
	return newTracker(time.Now)
}

func newTracker(now func() time.Time) *Tracker {
	return &Tracker{
		providers: make(map[string]*providerBudget),
		resetTime: nextMidnight(now()),
		now:       now,
	}
}

func nextMidnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
}

func (t *Tracker) budgetLocked(name string) *providerBudget {
	b, ok := t.providers[name]
	if !ok {
		b = &providerBudget{hourStartTime: t.now(), methodCalls: make(map[string]int)}
		t.providers[name] = b
	}
	return b
}

func (t *Tracker) rollLocked() {
	now := t.now()
	if now.Before(t.resetTime) {
		return
	}
	for _, b := range t.providers {
		b.totalCalls = 0
		b.callsThisHour = 0
		b.hourStartTime = now
		b.methodCalls = make(map[string]int)
	}
	t.resetTime = nextMidnight(now)
}

// SetLimit sets the daily call limit of a provider. Zero removes the limit.
func (t *Tracker) SetLimit(name string, daily int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.budgetLocked(name).limit = daily
}

// RecordCall records a call for quota tracking.
func (t *Tracker) RecordCall(name, method string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollLocked()
	b := t.budgetLocked(name)
	if t.now().Sub(b.hourStartTime) >= time.Hour {
		b.callsThisHour = 0
		b.hourStartTime = t.now()
	}
	b.totalCalls++
	b.callsThisHour++
	b.methodCalls[method]++

	if b.limit > 0 {
		metrics.RPCQuotaRemaining.WithLabelValues(name).Set(float64(max(b.limit-b.totalCalls, 0)))
	}
}

// Usage returns usage statistics for a provider.
func (t *Tracker) Usage(name string) UsageStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollLocked()
	b := t.budgetLocked(name)
	stats := UsageStats{
		TotalCalls:   b.totalCalls,
		CallsPerHour: b.callsThisHour,
		DailyLimit:   b.limit,
		NextResetAt:  t.resetTime,
	}
	if b.limit > 0 {
		stats.RemainingCalls = max(b.limit-b.totalCalls, 0)
		stats.UsagePercentage = float64(b.totalCalls) / float64(b.limit) * 100
	}
	return stats
}

// CanUse reports whether the provider has quota remaining.
func (t *Tracker) CanUse(name string) bool {
	return t.Usage(name).UsagePercentage < usableBelow
}

// Reset resets all usage counters.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetTime = t.now()
	t.rollLocked()
}
