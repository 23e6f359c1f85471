package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "hookq"

var (
	SubscriptionsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_created_total",
			Help:      "Total number of webhook subscriptions created, labeled by scope level.",
		},
		[]string{"scope"},
	)

	SubscriptionsDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_deleted_total",
			Help:      "Total number of webhook subscriptions hard deleted.",
		},
	)

	EventsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Total number of events emitted by the host platform.",
		},
		[]string{"trigger"},
	)

	DeliveryJobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_jobs_enqueued_total",
			Help:      "Total number of (event, subscription) delivery jobs enqueued.",
		},
		[]string{"trigger"},
	)

	DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Total number of HTTP delivery attempts, labeled by attempt outcome.",
		},
		[]string{"trigger", "outcome"},
	)

	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Total number of finished delivery jobs, labeled by final outcome.",
		},
		[]string{"trigger", "outcome"},
	)

	DeliveryLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_latency_seconds",
			Help:      "Latency of a single delivery HTTP attempt (seconds).",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
		},
		[]string{"trigger", "outcome"},
	)

	SigningFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signing_failures_total",
			Help:      "Deliveries aborted because the subscription secret was missing or unreadable.",
		},
	)

	MatcherCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matcher_cache_total",
			Help:      "Trigger matcher cache lookups, labeled hit or miss.",
		},
		[]string{"result"},
	)

	LeaseExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lease_expired_total",
			Help:      "Delivery jobs requeued because a worker lease expired.",
		},
	)

	AttemptsPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_purged_total",
			Help:      "Delivery attempt records removed by retention.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SubscriptionsCreatedTotal,
		SubscriptionsDeletedTotal,
		EventsEmittedTotal,
		DeliveryJobsEnqueuedTotal,
		DeliveryAttemptsTotal,
		WebhookDeliveriesTotal,
		DeliveryLatencySeconds,
		SigningFailuresTotal,
		MatcherCacheTotal,
		LeaseExpiredTotal,
		AttemptsPurgedTotal,
	)
}
