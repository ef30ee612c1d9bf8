package inference

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nezgo_cache_hits_total",
		Help: "Sequences served from the vector cache",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nezgo_cache_misses_total",
		Help: "Sequences that required a forward pass",
	})

	sequencesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nezgo_sequences_processed_total",
		Help: "Total number of sequences run through the encoder",
	})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nezgo_batch_duration_seconds",
		Help:    "Time spent encoding one request batch",
		Buckets: prometheus.DefBuckets,
	})
)
