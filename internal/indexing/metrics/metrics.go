package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPCCallsTotal tracks JSON-RPC calls per provider and method
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ethbridge_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"provider", "method"},
	)

	// RPCErrorsTotal tracks RPC errors per provider
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ethbridge_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"provider", "method", "error_type"},
	)

	// RPCLatency tracks RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ethbridge_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "method"},
	)

	// RPCQuotaRemaining tracks the calls left in a provider's daily quota
	RPCQuotaRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ethbridge_rpc_quota_remaining",
			Help: "Calls left in the daily provider quota",
		},
		[]string{"provider"},
	)

	// LedgerLatestBlock tracks the latest block height seen on the external ledger
	LedgerLatestBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ethbridge_ledger_latest_block",
			Help: "Latest block height of the external ledger",
		},
		[]string{"instance"},
	)

	// ActiveRangeEnd tracks the end block of the range currently being voted on
	ActiveRangeEnd = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ethbridge_active_range_end_block",
			Help: "End block of the active range",
		},
		[]string{"instance"},
	)

	// EventsDiscovered counts decoded events returned by discovery
	EventsDiscovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ethbridge_events_discovered_total",
			Help: "Total number of external events discovered",
		},
		[]string{"instance", "kind"},
	)

	// DiscoveryDuration tracks the wall time of a discovery cycle
	DiscoveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ethbridge_discovery_duration_seconds",
			Help:    "Duration of a discovery cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"instance"},
	)

	// VotesSubmitted counts votes sent by this validator
	VotesSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ethbridge_votes_submitted_total",
			Help: "Total number of votes submitted",
		},
		[]string{"instance", "type", "result"},
	)

	// SessionsConcluded counts concluded voting sessions by outcome
	SessionsConcluded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ethbridge_sessions_concluded_total",
			Help: "Total number of concluded voting sessions",
		},
		[]string{"action", "outcome"},
	)

	// OpenSessions tracks currently open voting sessions
	OpenSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ethbridge_open_sessions",
			Help: "Number of open voting sessions",
		},
		[]string{"action"},
	)

	// OffencesReported counts offences forwarded to the slasher
	OffencesReported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ethbridge_offences_reported_total",
			Help: "Total number of offences reported",
		},
		[]string{"kind"},
	)

	// EventsDelivered counts events handed to business handlers
	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ethbridge_events_delivered_total",
			Help: "Total number of confirmed events delivered to handlers",
		},
		[]string{"kind"},
	)

	// ConnectionRetries counts ledger connection attempts that failed
	ConnectionRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ethbridge_connection_retries_total",
			Help: "Total number of failed ledger connection attempts",
		},
		[]string{"instance"},
	)

	// DBPoolOpenConnections tracks open database connections
	DBPoolOpenConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ethbridge_db_pool_open_connections",
			Help: "Number of open database connections",
		},
	)

	// DBPoolInUse tracks database connections in use
	DBPoolInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ethbridge_db_pool_in_use",
			Help: "Number of database connections in use",
		},
	)
)
