// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Orphaned-event queue instrumentation.
var (
	OrphanQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orphan_queue_depth",
		Help: "Events currently waiting for their delivery record to appear.",
	})
	OrphanReadyForRetry = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orphan_queue_ready_for_retry",
		Help: "Parked events whose next retry time has arrived.",
	})
	OrphanProcessing = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orphan_queue_processing",
		Help: "Parked events being resolved by the current cycle.",
	})
	OrphanStale = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orphan_queue_stale",
		Help: "Parked events waiting more than an hour for their delivery record.",
	})
	OrphanEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orphan_events_enqueued_total",
		Help: "Events parked because no matching delivery record existed yet.",
	})
	OrphanResolutionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orphan_resolution_failures_total",
		Help: "Resolution attempts that found no delivery record or errored.",
	})
	OrphanResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orphan_events_resolved_total",
		Help: "Parked events that matched a delivery record on retry.",
	})
	OrphanDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orphan_events_dropped_total",
		Help: "Oldest events evicted because the queue hit its size bound.",
	})
	OrphanDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orphan_events_dead_lettered_total",
		Help: "Events moved to the dead letter store after exhausting retries.",
	})
	OrphanCyclesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orphan_cycles_skipped_total",
		Help: "Retry cycles skipped because the previous cycle was still running.",
	})
	DeadLetterDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dead_letter_depth",
		Help: "Events awaiting operator replay or discard.",
	})
	ShutdownDrainRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shutdown_orphan_drain_remaining",
		Help: "Orphaned events still parked when the shutdown drain finished.",
	})
)

// Background job queue instrumentation.
var (
	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_enqueued_total",
		Help: "Jobs accepted into the queue by type.",
	}, []string{"type"})
	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_completed_total",
		Help: "Jobs finished by type and terminal status.",
	}, []string{"type", "status"})
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "job_duration_seconds",
		Help:    "Wall time of job execution by type.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"type"})
	StaleLeasesReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stale_job_leases_reclaimed_total",
		Help: "Jobs returned to pending after their worker lease went stale.",
	})
)

// Provider call instrumentation.
var (
	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_calls_total",
		Help: "Outbound provider calls by provider and outcome.",
	}, []string{"provider", "outcome"})
	ProviderBreakerOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "provider_breaker_open",
		Help: "1 when the provider circuit breaker is open.",
	}, []string{"provider"})
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_sent_total",
		Help: "Outreach messages sent by channel and provider.",
	}, []string{"channel", "provider"})
	ProviderFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "email_provider_fallbacks_total",
		Help: "Sends served by the secondary email provider after the primary failed.",
	})
)

// Webhook and responder instrumentation.
var (
	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhooks_received_total",
		Help: "Webhook deliveries by provider and verification outcome.",
	}, []string{"provider", "outcome"})
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_ingested_total",
		Help: "Normalized engagement events applied by type.",
	}, []string{"type"})
	AIResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_responses_total",
		Help: "Automated reply pipeline outcomes.",
	}, []string{"outcome"})
	QualityGateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quality_gate_decisions_total",
		Help: "Pre-send quality gate decisions.",
	}, []string{"decision"})
)
