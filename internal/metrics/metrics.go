package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set bundles every collector the process exports. It implements both the
// engine's Metrics interface and the storage MetricsHook, so one Set is
// shared across the runtime.
type Set struct {
	registry *prometheus.Registry

	messagesPublished *prometheus.CounterVec
	publishedBytes    *prometheus.CounterVec
	pushesDelivered   prometheus.Counter
	pushesFailed      prometheus.Counter
	backlogReplayed   prometheus.Counter

	storageReadSeconds   prometheus.Histogram
	storageReadBytes     prometheus.Counter
	storageCommitSeconds prometheus.Histogram
	storageCommitBytes   prometheus.Counter
}

// New creates and registers the collector set on a fresh registry.
func New() *Set {
	s := &Set{
		registry: prometheus.NewRegistry(),
		messagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jrow_messages_published_total",
			Help: "Messages durably appended, per topic.",
		}, []string{"topic"}),
		publishedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jrow_published_bytes_total",
			Help: "Payload bytes durably appended, per topic.",
		}, []string{"topic"}),
		pushesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jrow_pushes_delivered_total",
			Help: "Pushes handed to a consumer without error.",
		}),
		pushesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jrow_pushes_failed_total",
			Help: "Pushes that failed delivery and await redelivery on resume.",
		}),
		backlogReplayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jrow_backlog_replayed_total",
			Help: "Messages replayed from the log during subscribes.",
		}),
		storageReadSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jrow_storage_read_seconds",
			Help:    "Latency of point reads against the store.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
		}),
		storageReadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jrow_storage_read_bytes_total",
			Help: "Bytes returned by point reads.",
		}),
		storageCommitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jrow_storage_commit_seconds",
			Help:    "Latency of batch commits against the store.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
		}),
		storageCommitBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jrow_storage_commit_bytes_total",
			Help: "Bytes committed in write batches.",
		}),
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		s.messagesPublished, s.publishedBytes,
		s.pushesDelivered, s.pushesFailed, s.backlogReplayed,
		s.storageReadSeconds, s.storageReadBytes,
		s.storageCommitSeconds, s.storageCommitBytes,
	)
	return s
}

// Registry exposes the underlying registry.
func (s *Set) Registry() *prometheus.Registry { return s.registry }

// Handler serves the registry in Prometheus exposition format.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// MessagePublished implements the engine metrics hook.
func (s *Set) MessagePublished(topic string, bytes int) {
	s.messagesPublished.WithLabelValues(topic).Inc()
	s.publishedBytes.WithLabelValues(topic).Add(float64(bytes))
}

func (s *Set) PushDelivered() { s.pushesDelivered.Inc() }
func (s *Set) PushFailed()    { s.pushesFailed.Inc() }

func (s *Set) BacklogReplayed(n int) { s.backlogReplayed.Add(float64(n)) }

// ObserveRead implements the storage metrics hook.
func (s *Set) ObserveRead(elapsed time.Duration, bytes int) {
	s.storageReadSeconds.Observe(elapsed.Seconds())
	s.storageReadBytes.Add(float64(bytes))
}

// ObserveBatchCommit implements the storage metrics hook.
func (s *Set) ObserveBatchCommit(elapsed time.Duration, bytes int) {
	s.storageCommitSeconds.Observe(elapsed.Seconds())
	s.storageCommitBytes.Add(float64(bytes))
}
