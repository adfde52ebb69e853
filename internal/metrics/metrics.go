// Package metrics exposes Prometheus instrumentation for the HTTP surface,
// the bounty lifecycle and the registry cache.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bountyboard",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status class.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bountyboard",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	BountyTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bountyboard",
		Name:      "bounty_transitions_total",
		Help:      "Bounty state transitions by type and outcome.",
	}, []string{"transition", "outcome"})

	RegistryRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bountyboard",
		Subsystem: "registry",
		Name:      "refreshes_total",
		Help:      "Registry cache refresh attempts by result.",
	}, []string{"result"})

	RegistryAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bountyboard",
		Subsystem: "registry",
		Name:      "agents",
		Help:      "Agents in the current registry snapshot.",
	})

	RegistrySnapshotAge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bountyboard",
		Subsystem: "registry",
		Name:      "snapshot_age_seconds",
		Help:      "Age of the current registry snapshot.",
	})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bountyboard",
		Subsystem: "webhooks",
		Name:      "deliveries_total",
		Help:      "Webhook delivery attempts by result.",
	}, []string{"result"})
)
