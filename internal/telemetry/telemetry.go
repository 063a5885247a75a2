// Package telemetry exposes the node's metrics: an isolated Prometheus
// registry, never the global default, exactly as the teacher's
// pkg/p2pnet/metrics.go — one collector set per process, opt-in over
// HTTP.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the core subsystems (spec.md §1.4)
// report against: replication phase outcomes, gossip traffic,
// membership transitions, scheduler dispatch, and object-store
// transactions.
type Metrics struct {
	Registry *prometheus.Registry

	// Replication
	ReplicationPhaseDurationSeconds *prometheus.HistogramVec
	ReplicationOutcomesTotal        *prometheus.CounterVec
	ReplicationBytesFetched         *prometheus.CounterVec

	// Gossip
	GossipMessagesTotal *prometheus.CounterVec

	// Membership
	MembershipTransitionsTotal *prometheus.CounterVec
	MembershipActiveSize       *prometheus.GaugeVec
	MembershipPassiveSize      *prometheus.GaugeVec

	// Scheduler
	SchedulerTockDurationSeconds *prometheus.HistogramVec
	SchedulerLaggedTotal         *prometheus.CounterVec

	// Object store
	StoreTransactionsTotal *prometheus.CounterVec

	// Build info
	BuildInfo *prometheus.GaugeVec
}

// New creates a Metrics instance with all collectors registered on a
// fresh, isolated registry.
func New(version, goVersion string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		ReplicationPhaseDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meshd_replication_phase_duration_seconds",
				Help:    "Duration of each replication phase (peek, verify, prepare, fetch, apply, recurse).",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"phase", "outcome"},
		),
		ReplicationOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshd_replication_outcomes_total",
				Help: "Total replications by terminal outcome.",
			},
			[]string{"outcome"},
		),
		ReplicationBytesFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshd_replication_bytes_fetched_total",
				Help: "Total packfile bytes fetched during Phase D, by project urn.",
			},
			[]string{"urn"},
		),

		GossipMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshd_gossip_messages_total",
				Help: "Gossip messages processed, by kind and disposition (the storage outcome: applied, uninteresting, stale, error).",
			},
			[]string{"kind", "disposition"},
		),

		MembershipTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshd_membership_transitions_total",
				Help: "Membership view transitions (promoted, demoted, evicted).",
			},
			[]string{"kind"},
		),
		MembershipActiveSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "meshd_membership_active_size",
				Help: "Current size of the active membership view.",
			},
			[]string{},
		),
		MembershipPassiveSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "meshd_membership_passive_size",
				Help: "Current size of the passive membership view.",
			},
			[]string{},
		),

		SchedulerTockDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meshd_scheduler_tock_duration_seconds",
				Help:    "Duration of Tock dispatch from the scheduler's worker pool.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		SchedulerLaggedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshd_scheduler_lagged_total",
				Help: "Total events dropped because the upstream event bus was full.",
			},
			[]string{"stream"},
		),

		StoreTransactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshd_store_transactions_total",
				Help: "Object store ref-update batch transactions, by outcome.",
			},
			[]string{"outcome"},
		),

		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "meshd_info",
				Help: "Build information for the running meshd instance.",
			},
			[]string{"version", "go_version"},
		),
	}

	reg.MustRegister(
		m.ReplicationPhaseDurationSeconds,
		m.ReplicationOutcomesTotal,
		m.ReplicationBytesFetched,
		m.GossipMessagesTotal,
		m.MembershipTransitionsTotal,
		m.MembershipActiveSize,
		m.MembershipPassiveSize,
		m.SchedulerTockDurationSeconds,
		m.SchedulerLaggedTotal,
		m.StoreTransactionsTotal,
		m.BuildInfo,
	)

	m.BuildInfo.WithLabelValues(version, goVersion).Set(1)
	return m
}

// Handler serves the Prometheus exposition format over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
