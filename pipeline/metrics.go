package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects pipeline counters. A nil *Metrics records nothing.
type Metrics struct {
	ingestions     *prometheus.CounterVec
	ingestDuration prometheus.Histogram
	chunks         prometheus.Counter
	retries        prometheus.Counter
	searches       *prometheus.CounterVec
	searchDuration prometheus.Histogram
	results        prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ingestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_ingestions_total",
			Help: "Document ingestions by outcome.",
		}, []string{"outcome"}),
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rag_ingestion_duration_seconds",
			Help:    "Time spent ingesting one document.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rag_chunks_stored_total",
			Help: "Chunks written to the index.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rag_store_retries_total",
			Help: "Retried embed and store attempts.",
		}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_searches_total",
			Help: "Searches by outcome.",
		}, []string{"outcome"}),
		searchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rag_search_duration_seconds",
			Help:    "Time spent answering one search.",
			Buckets: prometheus.DefBuckets,
		}),
		results: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rag_search_results",
			Help:    "Results returned per search.",
			Buckets: prometheus.LinearBuckets(0, 5, 10),
		}),
	}

	reg.MustRegister(m.ingestions, m.ingestDuration, m.chunks, m.retries, m.searches, m.searchDuration, m.results)

	return m
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}

	return "ok"
}

func (m *Metrics) observeIngest(err error, chunks int, d time.Duration) {
	if m == nil {
		return
	}

	m.ingestions.WithLabelValues(outcome(err)).Inc()
	m.ingestDuration.Observe(d.Seconds())
	if err == nil {
		m.chunks.Add(float64(chunks))
	}
}

func (m *Metrics) observeRetry() {
	if m == nil {
		return
	}

	m.retries.Inc()
}

func (m *Metrics) observeSearch(err error, results int, d time.Duration) {
	if m == nil {
		return
	}

	m.searches.WithLabelValues(outcome(err)).Inc()
	m.searchDuration.Observe(d.Seconds())
	if err == nil {
		m.results.Observe(float64(results))
	}
}
