package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "tally"

	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics records upstream traffic and aggregation progress. All methods are
// safe to call on a nil receiver.
type Metrics struct {
	pages           *prometheus.CounterVec
	pageDuration    *prometheus.HistogramVec
	entries         prometheus.Counter
	retries         *prometheus.CounterVec
	chunksCompleted prometheus.Counter
	failures        prometheus.Counter
	lastBlock       prometheus.Gauge
}

// New creates a Metrics instance registered with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pages_total",
			Help:      "Page requests by source and status",
		}, []string{"source", "status"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "page_duration_seconds",
			Help:      "Page request duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		entries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "entries_total",
			Help:      "Log entries counted from completed chunks",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "retries_total",
			Help:      "Page retries by source",
		}, []string{"source"}),
		chunksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "chunks_completed_total",
			Help:      "Block chunks fully paginated",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "upstream_unavailable_total",
			Help:      "Aggregations aborted after exhausting retries",
		}),
		lastBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_completed_block",
			Help:      "Last block of the most recently completed chunk",
		}),
	}

	collectors := []prometheus.Collector{
		m.pages,
		m.pageDuration,
		m.entries,
		m.retries,
		m.chunksCompleted,
		m.failures,
		m.lastBlock,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordPage records the outcome of a single page request.
func (m *Metrics) RecordPage(source string, err error, durationSeconds float64) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.pages.WithLabelValues(source, status).Inc()
	m.pageDuration.WithLabelValues(source).Observe(durationSeconds)
}

// IncRetry counts a page retry.
func (m *Metrics) IncRetry(source string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(source).Inc()
}

// CompleteChunk records a fully paginated chunk.
func (m *Metrics) CompleteChunk(toBlock uint64, entries int) {
	if m == nil {
		return
	}
	m.chunksCompleted.Inc()
	m.entries.Add(float64(entries))
	m.lastBlock.Set(float64(toBlock))
}

// IncFailure counts an aggregation aborted by an unavailable upstream.
func (m *Metrics) IncFailure() {
	if m == nil {
		return
	}
	m.failures.Inc()
}
