// Package health provides system health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// InstanceHealth contains health metrics for one bridge instance.
type InstanceHealth struct {
	Instance       uint64       `json:"instance"`
	Status         SystemStatus `json:"status"`
	ActiveRange    string       `json:"active_range,omitempty"`
	LedgerHead     uint64       `json:"ledger_head"`
	BlockLag       uint64       `json:"block_lag"`
	OpenSessions   int          `json:"open_sessions"`
	ConnectionDown bool         `json:"connection_down"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus              `json:"system_status"`
	Instances    map[uint64]InstanceHealth `json:"instances"`
	Dependencies map[string]string         `json:"dependencies,omitempty"`
}

// Worst returns the most severe status in report.
func Worst(report map[uint64]InstanceHealth) SystemStatus {
	status := StatusHealthy
	for _, h := range report {
		if h.Status == StatusCritical {
			return StatusCritical
		}
		if h.Status == StatusDegraded {
			status = StatusDegraded
		}
	}
	return status
}

// Overall folds dependency checks into the instance status. An unreachable
// dependency degrades the validator but never makes it critical.
func Overall(report map[uint64]InstanceHealth, deps map[string]string) SystemStatus {
	status := Worst(report)
	if status != StatusHealthy {
		return status
	}
	for _, v := range deps {
		if v != "ok" {
			return StatusDegraded
		}
	}
	return status
}
