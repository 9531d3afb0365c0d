package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons.
const (
	dropInvalid   = "invalid_type"
	dropSampled   = "sampled_out"
	dropOverflow  = "queue_overflow"
	dropExhausted = "retry_exhausted"
	dropEvicted   = "storage_evicted"
)

type Metrics struct {
	tracked     *prometheus.CounterVec
	delivered   prometheus.Counter
	failed      prometheus.Counter
	retried     prometheus.Counter
	dropped     *prometheus.CounterVec
	suggestions prometheus.Counter
}

// NewMetrics registers the tracker counters with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		tracked: f.NewCounterVec(prometheus.CounterOpts{
			Name: "behaviortrace_events_tracked_total",
			Help: "Events accepted by the tracker, by delivery route",
		}, []string{"route"}),
		delivered: f.NewCounter(prometheus.CounterOpts{
			Name: "behaviortrace_events_delivered_total",
			Help: "Events acknowledged by the collector",
		}),
		failed: f.NewCounter(prometheus.CounterOpts{
			Name: "behaviortrace_send_failures_total",
			Help: "Retryable transport failures",
		}),
		retried: f.NewCounter(prometheus.CounterOpts{
			Name: "behaviortrace_retry_attempts_total",
			Help: "Retry attempts made for failed batches",
		}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "behaviortrace_events_dropped_total",
			Help: "Events discarded by the tracker, by reason",
		}, []string{"reason"}),
		suggestions: f.NewCounter(prometheus.CounterOpts{
			Name: "behaviortrace_suggestions_published_total",
			Help: "Suggestion notifications published to the page",
		}),
	}
}
