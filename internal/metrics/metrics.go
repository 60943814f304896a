package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "h2ox_cache_hits_total",
			Help: "Cache hits served without touching the warehouse",
		},
		[]string{"operation"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "h2ox_cache_misses_total",
			Help: "Cache misses that fell through to the warehouse",
		},
		[]string{"operation"},
	)

	CacheErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "h2ox_cache_errors_total",
			Help: "Cache store failures, by operation and stage (get/set)",
		},
		[]string{"operation", "stage"},
	)

	WarehouseQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "h2ox_warehouse_queries_total",
			Help: "Warehouse queries executed, by logical query and status",
		},
		[]string{"query", "status"},
	)

	WarehouseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "h2ox_warehouse_query_duration_seconds",
			Help:    "Warehouse query latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)
)
