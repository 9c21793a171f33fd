package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// QueryDurationSeconds tracks synchronous table query latency.
	QueryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dataplane_query_duration_seconds",
			Help:    "Table query latency by table and outcome.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table", "outcome"},
	)

	// CacheHitsTotal counts result cache hits.
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dataplane_cache_hits_total",
		Help: "Total number of result cache hits.",
	})

	// CacheMissesTotal counts result cache misses, including lazy expiries.
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dataplane_cache_misses_total",
		Help: "Total number of result cache misses.",
	})

	// CacheEvictionsTotal counts capacity evictions.
	CacheEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dataplane_cache_evictions_total",
		Help: "Total number of result cache capacity evictions.",
	})

	// AsyncTasksTotal counts async query tasks by terminal status.
	AsyncTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataplane_async_tasks_total",
			Help: "Total number of async query tasks by terminal status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		QueryDurationSeconds,
		CacheHitsTotal,
		CacheMissesTotal,
		CacheEvictionsTotal,
		AsyncTasksTotal,
	)
}
