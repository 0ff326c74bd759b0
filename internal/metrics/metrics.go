// Package metrics defines the process's Prometheus instrumentation:
// queue depth, rate-limiter budget, stage durations and the lease
// resurrection counter (spec.md §4.3's operational surface).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry groups every collector this process exposes under one
// struct, registered once at startup against the default registerer.
type Registry struct {
	QueueDepth        *prometheus.GaugeVec
	TasksClaimed      *prometheus.CounterVec
	LeasesResurrected prometheus.Counter
	StageDuration     *prometheus.HistogramVec
	StageFailures     *prometheus.CounterVec
	RateLimiterTokens *prometheus.GaugeVec
	UploadQuotaUsed   *prometheus.GaugeVec
}

// New registers and returns the process's metric collectors.
func New() *Registry {
	return &Registry{
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orchestrator", Name: "queue_depth",
			Help: "Number of pending, available tasks per channel.",
		}, []string{"channel_id"}),

		TasksClaimed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator", Name: "tasks_claimed_total",
			Help: "Number of tasks claimed by a worker, per channel.",
		}, []string{"channel_id"}),

		LeasesResurrected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "orchestrator", Name: "leases_resurrected_total",
			Help: "Number of claimed tasks whose expired lease was returned to pending.",
		}),

		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestrator", Name: "stage_duration_seconds",
			Help:    "Wall-clock duration of one pipeline stage invocation.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"stage"}),

		StageFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator", Name: "stage_failures_total",
			Help: "Number of stage invocations that ended in a non-nil classified error.",
		}, []string{"stage", "kind"}),

		RateLimiterTokens: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orchestrator", Name: "rate_limiter_tokens_available",
			Help: "Tokens currently available in a shared rate limiter's bucket.",
		}, []string{"limiter"}),

		UploadQuotaUsed: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orchestrator", Name: "upload_quota_utilization",
			Help: "Fraction of a channel's daily upload quota consumed.",
		}, []string{"channel_id"}),
	}
}
