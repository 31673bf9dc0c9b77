package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the currency converter service
type Metrics struct {
	// Conversion metrics
	ConversionsTotal   *prometheus.CounterVec
	ConversionDuration *prometheus.HistogramVec

	// Provider metrics
	ProviderRequestsTotal   *prometheus.CounterVec
	ProviderErrorsTotal     *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec

	// Resource cache metrics
	CacheLookupsTotal     *prometheus.CounterVec
	CacheStoreErrorsTotal prometheus.Counter

	// Recent conversions metrics
	RetentionDeletedTotal prometheus.Counter
	RetentionRunsTotal    prometheus.Counter

	// Event metrics
	EventsPublishedTotal *prometheus.CounterVec
	EventsConsumedTotal  *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg uses the default registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "currency_converter"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ConversionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_total",
				Help:      "Total number of conversion requests",
			},
			[]string{"source_currency", "target_currency", "status"},
		),

		ConversionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "conversion_duration_seconds",
				Help:      "Duration of conversion requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),

		ProviderRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Total number of requests to rate providers",
			},
			[]string{"provider", "status"},
		),

		ProviderErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of errors from rate providers",
			},
			[]string{"provider", "error_type"},
		),

		ProviderRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Duration of provider requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),

		CacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resource_cache_lookups_total",
				Help:      "Total number of resource cache lookups",
			},
			[]string{"result"}, // "hit" or "miss"
		),

		CacheStoreErrorsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resource_cache_store_errors_total",
				Help:      "Total number of responses that could not be cached",
			},
		),

		RetentionDeletedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recent_records_deleted_total",
				Help:      "Total number of recent conversions removed by retention",
			},
		),

		RetentionRunsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_runs_total",
				Help:      "Total number of retention passes",
			},
		),

		EventsPublishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Total number of conversion events published",
			},
			[]string{"status"},
		),

		EventsConsumedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_consumed_total",
				Help:      "Total number of conversion events read by history sync",
			},
			[]string{"status"}, // applied, skipped, invalid, failed
		),
	}
}

// RecordConversion records metrics for a conversion request
func (m *Metrics) RecordConversion(source, target, status string, durationSeconds float64) {
	m.ConversionsTotal.WithLabelValues(source, target, status).Inc()
	m.ConversionDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordProviderRequest records a provider request
func (m *Metrics) RecordProviderRequest(provider, status string, durationSeconds float64) {
	m.ProviderRequestsTotal.WithLabelValues(provider, status).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordProviderError records a provider error
func (m *Metrics) RecordProviderError(provider, errorType string) {
	m.ProviderErrorsTotal.WithLabelValues(provider, errorType).Inc()
}

// RecordCacheLookup records a resource cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordCacheStoreError records a response that could not be cached
func (m *Metrics) RecordCacheStoreError() {
	m.CacheStoreErrorsTotal.Inc()
}

// RecordRetentionDeleted records one retention pass
func (m *Metrics) RecordRetentionDeleted(count int) {
	m.RetentionRunsTotal.Inc()
	m.RetentionDeletedTotal.Add(float64(count))
}

// RecordEventPublished records the outcome of publishing an event
func (m *Metrics) RecordEventPublished(ok bool) {
	status := "error"
	if ok {
		status = "ok"
	}
	m.EventsPublishedTotal.WithLabelValues(status).Inc()
}

// RecordEventConsumed records the outcome of one consumed event
func (m *Metrics) RecordEventConsumed(status string) {
	m.EventsConsumedTotal.WithLabelValues(status).Inc()
}
