// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AlertsIngested counts normalized alerts accepted by source.
	AlertsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "klaxon_alerts_ingested_total",
		Help: "Normalized alerts accepted for processing, by source.",
	}, []string{"source"})

	// IncidentsCreated counts incidents opened by source.
	IncidentsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "klaxon_incidents_created_total",
		Help: "Incidents created, by source.",
	}, []string{"source"})

	// IncidentsEscalated counts escalation steps by level.
	IncidentsEscalated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "klaxon_incidents_escalated_total",
		Help: "Escalation level transitions performed by the engine, by level.",
	}, []string{"level"})

	// EscalationTicks counts engine iterations.
	EscalationTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klaxon_escalation_ticks_total",
		Help: "Escalation engine tick iterations.",
	})

	// ProbeReports counts probe report batches accepted.
	ProbeReports = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klaxon_probe_reports_total",
		Help: "Probe report batches accepted from edge workers.",
	})

	// ProviderSyncs counts provider sync runs by provider type and outcome.
	ProviderSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "klaxon_provider_syncs_total",
		Help: "External uptime provider sync runs, by provider type and outcome.",
	}, []string{"provider_type", "outcome"})
)
