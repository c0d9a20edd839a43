package observability

import (
	"io"
	"net/http"
	"strconv"
	"time"
)

// Metrics holds the journey engine's counters. Every method is safe on a nil
// receiver so callers never branch on whether metrics are enabled.
type Metrics struct {
	apiRequests    *CounterVec
	apiLatency     *HistogramVec
	apiInflight    *Gauge
	artifactWrites *CounterVec
	artifactTime   *HistogramVec
	indexFailures  *CounterVec
	dedupHits      *CounterVec
	corpusBuilds   *CounterVec
	corpusRecords  *Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("rj_api_requests_total", "API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec("rj_api_request_duration_seconds", "API latency in seconds.",
			[]string{"method", "route"}, []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}),
		apiInflight:    NewGauge("rj_api_inflight_requests", "In-flight API requests."),
		artifactWrites: NewCounterVec("rj_artifact_writes_total", "Artifact writes by the store that accepted them.", []string{"backend"}),
		artifactTime: NewHistogramVec("rj_artifact_write_duration_seconds", "Artifact write latency including fallback.",
			[]string{"backend"}, []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}),
		indexFailures: NewCounterVec("rj_index_update_failures_total", "Best-effort index updates that failed.", []string{"kind"}),
		dedupHits:     NewCounterVec("rj_submission_dedup_total", "Initial submissions answered from the index.", []string{"phase"}),
		corpusBuilds:  NewCounterVec("rj_corpus_builds_total", "Training corpus builds by backend.", []string{"backend"}),
		corpusRecords: NewGauge("rj_corpus_records", "Records in the most recent training corpus."),
	}
}

func (m *Metrics) ObserveAPI(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.apiRequests.Inc(method, route, strconv.Itoa(status))
	m.apiLatency.Observe(dur.Seconds(), method, route)
}

func (m *Metrics) APIInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) APIInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) ObserveArtifactWrite(backend string, dur time.Duration) {
	if m == nil {
		return
	}
	m.artifactWrites.Inc(backend)
	m.artifactTime.Observe(dur.Seconds(), backend)
}

func (m *Metrics) ArtifactWrites(backend string) float64 {
	if m == nil {
		return 0
	}
	return m.artifactWrites.Value(backend)
}

func (m *Metrics) IncIndexFailure(kind string) {
	if m == nil {
		return
	}
	m.indexFailures.Inc(kind)
}

func (m *Metrics) IndexFailures(kind string) float64 {
	if m == nil {
		return 0
	}
	return m.indexFailures.Value(kind)
}

func (m *Metrics) IncDedupHit(phase string) {
	if m == nil {
		return
	}
	m.dedupHits.Inc(phase)
}

func (m *Metrics) ObserveCorpusBuild(backend string, records int) {
	if m == nil {
		return
	}
	m.corpusBuilds.Inc(backend)
	m.corpusRecords.Set(float64(records))
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, s := range []interface{ WritePrometheus(io.Writer) error }{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.artifactWrites, m.artifactTime, m.indexFailures, m.dedupHits,
		m.corpusBuilds, m.corpusRecords,
	} {
		if err := s.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}
