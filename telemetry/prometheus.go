package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors holds the pipeline's Prometheus instruments.
type Collectors struct {
	CacheHits         *prometheus.CounterVec
	CacheMisses       *prometheus.CounterVec
	CacheEvictedBytes *prometheus.CounterVec
	Loads             *prometheus.CounterVec
	FetchDuration     *prometheus.HistogramVec
}

// NewCollectors registers the pipeline instruments with reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imgopt_cache_hits_total",
			Help: "Cache hits by partition.",
		}, []string{"partition"}),
		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imgopt_cache_misses_total",
			Help: "Cache misses by partition.",
		}, []string{"partition"}),
		CacheEvictedBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imgopt_cache_evicted_bytes_total",
			Help: "Bytes evicted by partition.",
		}, []string{"partition"}),
		Loads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imgopt_loads_total",
			Help: "Terminal load outcomes (loaded, errored, stale).",
		}, []string{"outcome"}),
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imgopt_fetch_duration_seconds",
			Help:    "Upstream fetch latency by format.",
			Buckets: prometheus.DefBuckets,
		}, []string{"format"}),
	}
}
