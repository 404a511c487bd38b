// Package metrics exposes the server's Prometheus collectors, scraped
// off the admin surface (internal/adminserver) rather than the main
// static-file port.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AdmissionQueueDepthGauge tracks the current depth of the admission
	// queue shared by the acceptor and every worker.
	AdmissionQueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fileserver",
		Name:      "admission_queue_depth",
		Help:      "Current number of accepted connections waiting for a worker",
	})

	// RequestsTotal counts completed requests by HTTP status code.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fileserver",
		Name:      "requests_total",
		Help:      "Total number of completed requests, by status code",
	}, []string{"status"})

	// RequestsRejectedTotal counts connections refused at admission time
	// because the queue was full (spec's 503 backpressure path).
	RequestsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fileserver",
		Name:      "requests_rejected_total",
		Help:      "Total number of connections rejected because the admission queue was full",
	})

	// BytesTransferredTotal sums response body bytes written to clients.
	BytesTransferredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fileserver",
		Name:      "bytes_transferred_total",
		Help:      "Total number of response body bytes written to clients",
	})

	// ActiveConnectionsGauge tracks connections currently being served by
	// any worker's thread pool.
	ActiveConnectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fileserver",
		Name:      "active_connections",
		Help:      "Current number of connections being actively served",
	})

	// CacheHitsTotal and CacheMissesTotal are per-worker LRU file cache
	// outcomes, labeled by worker id.
	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fileserver",
		Name:      "cache_hits_total",
		Help:      "Total number of file cache hits, by worker",
	}, []string{"worker"})

	CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fileserver",
		Name:      "cache_misses_total",
		Help:      "Total number of file cache misses, by worker",
	}, []string{"worker"})

	// CacheEvictionsTotal counts LRU evictions, by worker.
	CacheEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fileserver",
		Name:      "cache_evictions_total",
		Help:      "Total number of file cache evictions, by worker",
	}, []string{"worker"})

	// CacheBytesUsedGauge tracks current cache occupancy, by worker.
	CacheBytesUsedGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fileserver",
		Name:      "cache_bytes_used",
		Help:      "Current number of bytes held in the file cache, by worker",
	}, []string{"worker"})
)
