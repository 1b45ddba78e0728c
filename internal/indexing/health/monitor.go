package health

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/ethbridge/internal/core/domain"
)

// HeadTracker reports the last ledger head seen for an instance.
type HeadTracker interface {
	LedgerHead(instance domain.InstanceID) (head uint64, ok bool)
}

// RangeReader reads the active range of an instance.
type RangeReader interface {
	GetActive(ctx context.Context, instance domain.InstanceID) (*domain.ActiveRange, error)
}

// SessionCounter counts open voting sessions.
type SessionCounter interface {
	OpenSessions(ctx context.Context) ([]domain.VotingSession, error)
}

// Pinger is an external service the validator depends on, such as Redis.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor aggregates health status from various system components.
type Monitor struct {
	instances  []domain.Instance
	ranges     RangeReader
	heads      HeadTracker
	sessions   SessionCounter
	deps       map[string]Pinger
	lastCheck  time.Time
	lastReport map[uint64]InstanceHealth
	mu         sync.RWMutex
}

// NewMonitor creates a new health monitor.
func NewMonitor(
	instances []domain.Instance,
	ranges RangeReader,
	heads HeadTracker,
	sessions SessionCounter,
) *Monitor {
	return &Monitor{
		instances:  instances,
		ranges:     ranges,
		heads:      heads,
		sessions:   sessions,
		deps:       make(map[string]Pinger),
		lastReport: make(map[uint64]InstanceHealth),
	}
}

// AddDependency registers a service pinged on every dependency check.
func (m *Monitor) AddDependency(name string, p Pinger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deps[name] = p
}

// CheckDependencies pings every registered service. Each value is "ok" or the error.
func (m *Monitor) CheckDependencies(ctx context.Context) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.deps))
	for name, p := range m.deps {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := p.Ping(pingCtx); err != nil {
			out[name] = err.Error()
		} else {
			out[name] = "ok"
		}
		cancel()
	}
	return out
}

// CheckHealth performs a health check for all instances.
func (m *Monitor) CheckHealth(ctx context.Context) map[uint64]InstanceHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rate limit checks to avoid hammering the store
	if time.Since(m.lastCheck) < 10*time.Second && len(m.lastReport) > 0 {
		return m.lastReport
	}

	open := make(map[domain.InstanceID]int)
	if m.sessions != nil {
		if sessions, err := m.sessions.OpenSessions(ctx); err == nil {
			for _, s := range sessions {
				open[instanceOf(s)]++
			}
		}
	}

	report := make(map[uint64]InstanceHealth)
	for _, inst := range m.instances {
		h := InstanceHealth{
			Instance:     uint64(inst.ID),
			Status:       StatusHealthy,
			OpenSessions: open[inst.ID],
		}

		head, seen := m.heads.LedgerHead(inst.ID)
		h.LedgerHead = head
		h.ConnectionDown = !seen

		active, err := m.ranges.GetActive(ctx, inst.ID)
		if err != nil || active == nil {
			// Still agreeing the initial range or the store is unavailable
			h.Status = StatusDegraded
			report[uint64(inst.ID)] = h
			continue
		}
		h.ActiveRange = active.Range.String()

		end := uint64(active.Range.EndBlock()) + inst.Confirmations
		if head > end {
			h.BlockLag = head - end
		}

		span := uint64(max(inst.RangeLength, 1))
		switch {
		case h.BlockLag > 10*span:
			h.Status = StatusCritical
		case h.BlockLag > 2*span || h.ConnectionDown:
			h.Status = StatusDegraded
		}
		report[uint64(inst.ID)] = h
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

// instanceOf recovers the instance of a partition or latest-block session from its subject.
func instanceOf(s domain.VotingSession) domain.InstanceID {
	if s.Kind != domain.ActionEventsPartition && s.Kind != domain.ActionLatestBlock {
		return 0
	}
	rest, ok := strings.CutPrefix(s.ActionID.Subject, "instance-")
	if !ok {
		return 0
	}
	num, _, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0
	}
	return domain.InstanceID(id)
}
