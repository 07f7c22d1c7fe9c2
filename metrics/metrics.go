package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type ProcessingMetrics struct {
	producedBlockGauge   prometheus.Gauge
	appliedCount         prometheus.Counter
	droppedCount         prometheus.Counter
	poolSizeGauge        prometheus.Gauge
	invocationCount      *prometheus.CounterVec
	invocationDuration   *prometheus.HistogramVec
	publishedEventsCount prometheus.Counter
}

func NewProcessingMetrics(registerer prometheus.Registerer, namespace string) *ProcessingMetrics {
	factory := promauto.With(registerer)
	m := ProcessingMetrics{
		// block production
		producedBlockGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_produced_block", namespace),
			Help: "The latest produced block",
		}),
		appliedCount: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_applied_extrinsic_count", namespace),
			Help: "The total number of extrinsics applied to the ledger",
		}),
		droppedCount: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_dropped_extrinsic_count", namespace),
			Help: "The total number of extrinsics that failed to apply",
		}),
		poolSizeGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_pool_size", namespace),
			Help: "The number of extrinsics drained from the pool for the latest block",
		}),
		// worker invocations
		invocationCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_invocation_count", namespace),
			Help: "The total number of worker invocations by task and outcome",
		}, []string{"task", "outcome"}),
		invocationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%s_invocation_duration_seconds", namespace),
			Help:    "The duration of worker invocations by task",
			Buckets: prometheus.DefBuckets,
		}, []string{"task"}),
		publishedEventsCount: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_published_event_count", namespace),
			Help: "The total number of published ledger events",
		}),
	}
	return &m
}

func (metrics *ProcessingMetrics) SetProducedBlock(block uint64) {
	metrics.producedBlockGauge.Set(float64(block))
}

func (metrics *ProcessingMetrics) AddApplied(count int) {
	metrics.appliedCount.Add(float64(count))
}

func (metrics *ProcessingMetrics) IncDropped() {
	metrics.droppedCount.Inc()
}

func (metrics *ProcessingMetrics) SetPoolSize(size int) {
	metrics.poolSizeGauge.Set(float64(size))
}

func (metrics *ProcessingMetrics) ObserveInvocation(task, outcome string, seconds float64) {
	metrics.invocationCount.WithLabelValues(task, outcome).Inc()
	metrics.invocationDuration.WithLabelValues(task).Observe(seconds)
}

func (metrics *ProcessingMetrics) IncPublishedEvents() {
	metrics.publishedEventsCount.Inc()
}
