package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "stationstore_"

	ResultSuccess  = "success"
	ResultError    = "error"
	ResultNotFound = "not_found"
	ResultConflict = "conflict"
	ResultInvalid  = "invalid"
)

var (
	registerOnce sync.Once

	operationsTotal  *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
	blobReadsTotal   *prometheus.CounterVec
	assetBytes       prometheus.Histogram
	invalidations    *prometheus.CounterVec
)

// Init registers the store metrics with the default registry. It is safe to
// call more than once.
func Init() {
	registerOnce.Do(func() {
		operationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "operations_total",
				Help: "Total station operations by result",
			},
			[]string{"op", "result"},
		)
		operationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "operation_latency_seconds",
				Help:    "Station operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		)
		blobReadsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "blob_reads_total",
				Help: "Record set reads by the source that served them",
			},
			[]string{"source"},
		)
		assetBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "asset_bytes",
			Help:    "Size of committed derived images in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 8),
		})
		invalidations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "invalidations_total",
				Help: "Cache invalidations by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			operationsTotal,
			operationLatency,
			blobReadsTotal,
			assetBytes,
			invalidations,
		)
	})
}

// ObserveOperation records one station operation.
func ObserveOperation(op, result string, duration time.Duration) {
	if op == "" {
		op = "unknown"
	}
	if result == "" {
		result = ResultSuccess
	}
	if operationsTotal != nil {
		operationsTotal.WithLabelValues(op, result).Inc()
	}
	if operationLatency != nil {
		operationLatency.WithLabelValues(op).Observe(duration.Seconds())
	}
}

// ObserveRead counts a record set read served by source.
func ObserveRead(source string) {
	if source == "" {
		source = "unknown"
	}
	if blobReadsTotal != nil {
		blobReadsTotal.WithLabelValues(source).Inc()
	}
}

// ObserveAssetBytes records the size of a committed image.
func ObserveAssetBytes(size int) {
	if assetBytes != nil {
		assetBytes.Observe(float64(size))
	}
}

// IncInvalidation counts an invalidation attempt.
func IncInvalidation(ok bool) {
	result := ResultSuccess
	if !ok {
		result = ResultError
	}
	if invalidations != nil {
		invalidations.WithLabelValues(result).Inc()
	}
}
