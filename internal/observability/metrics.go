// Package observability exposes the Prometheus gauges, counters, and
// histograms that back the invariant monitor and the operator dashboard.
// Naming follows the dialcore_* convention; labels stay low-cardinality
// (campaignID only where a metric is meaningfully per-campaign).
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LeasesAcquired tracks successful lease acquisitions by phase.
	LeasesAcquired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialcore_leases_acquired_total",
		Help: "Total lease acquisitions by phase (pre-dial, active)",
	}, []string{"campaign_id", "phase"})

	// LeasesReleased tracks lease releases (idempotent no-ops included in
	// the caller's view, but only real releases increment this).
	LeasesReleased = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialcore_leases_released_total",
		Help: "Total lease releases",
	}, []string{"campaign_id"})

	// CapacityInFlight is the live count of held leases per campaign.
	CapacityInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dialcore_capacity_in_flight",
		Help: "Current number of held leases (pre-dial + active) per campaign",
	}, []string{"campaign_id"})

	// CapacityReserved is the live `reserved` counter per campaign.
	CapacityReserved = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dialcore_capacity_reserved",
		Help: "Current reservation counter per campaign",
	}, []string{"campaign_id"})

	// CapacitySaturation is inflight+reserved divided by limit.
	CapacitySaturation = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dialcore_capacity_saturation_ratio",
		Help: "(leases + reserved) / limit per campaign",
	}, []string{"campaign_id"})

	// LedgerDrift is |reserved counter - ledger cardinality|, the signal
	// the invariant monitor watches to catch drift before it compounds.
	LedgerDrift = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dialcore_ledger_drift",
		Help: "Absolute difference between the reserved counter and the ledger's cardinality",
	}, []string{"campaign_id"})

	// PromotionsTotal counts jobs promoted off a waitlist, by outcome.
	PromotionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialcore_promotions_total",
		Help: "Jobs promoted off a waitlist",
	}, []string{"campaign_id", "priority", "outcome"}) // outcome: leased, stale_gate, abandoned

	// AdmissionRejections counts rejected dial attempts by reason.
	AdmissionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialcore_admission_rejections_total",
		Help: "Dial attempts rejected by admission control",
	}, []string{"campaign_id", "reason"}) // reason: coordinator_error (recorded by the promoter)

	// DialLatency is wall-clock time from promotion to lease-active.
	DialLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dialcore_dial_latency_seconds",
		Help:    "Time from promotion to active lease",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"campaign_id"})

	// DuplicateEnqueues counts contacts rejected by the waitlist:seen guard.
	DuplicateEnqueues = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialcore_duplicate_enqueues_total",
		Help: "Contacts rejected as duplicate enqueue attempts",
	}, []string{"campaign_id"})

	// ColdStartState tracks the cold-start ramp state per campaign.
	ColdStartState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dialcore_cold_start_state",
		Help: "Cold-start ramp state (0=none, 1=active, 2=half-open, 3=done)",
	}, []string{"campaign_id"})

	// CircuitState tracks the per-campaign promotion circuit breaker.
	CircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dialcore_circuit_state",
		Help: "Promotion circuit breaker state (0=closed, 1=half_open, 2=open)",
	}, []string{"campaign_id"})

	// ReconcilerSweeps counts each background reconciler's sweep runs.
	ReconcilerSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialcore_reconciler_sweeps_total",
		Help: "Completed reconciler sweep iterations",
	}, []string{"reconciler"})

	// ReconcilerRepairs counts corrective actions taken by a reconciler.
	ReconcilerRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialcore_reconciler_repairs_total",
		Help: "Corrective actions taken by a reconciler",
	}, []string{"reconciler", "action"})

	// EventPublishFailures tracks failed best-effort pub/sub publishes.
	EventPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialcore_event_publish_failures_total",
		Help: "Failed event publish attempts (non-blocking, best-effort)",
	}, []string{"event_type"})

	// LeaderEpoch tracks the current fencing epoch held by this instance.
	LeaderEpoch = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dialcore_leader_epoch",
		Help: "Current fencing epoch of the leader",
	}, []string{"instance_id"})

	// LeadershipTransitions counts leadership acquisition/loss events.
	LeadershipTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialcore_leader_transitions_total",
		Help: "Total leadership transitions",
	}, []string{"instance_id", "event"})

	// WorkerCarrierRequests counts carrier.Initiate/Hangup calls by outcome.
	WorkerCarrierRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialcore_carrier_requests_total",
		Help: "Carrier client requests by operation and outcome",
	}, []string{"operation", "outcome"}) // outcome: ok, rate_limited, circuit_open, fatal, error
)
