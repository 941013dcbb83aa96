// Package metrics exposes run outcomes as Prometheus series.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcome label values.
const (
	OutcomeOK          = "ok"
	OutcomeUnavailable = "unavailable"
	OutcomeFailed      = "failed"
)

// Digest result label values.
const (
	DigestSent       = "sent"
	DigestSuppressed = "suppressed"
	DigestFailed     = "failed"
)

// Recorder owns a private registry so tests and multiple pipelines never
// collide on the global one. A nil *Recorder is a valid no-op.
type Recorder struct {
	reg *prometheus.Registry

	runs         *prometheus.CounterVec
	fetches      *prometheus.CounterVec
	newRecords   *prometheus.CounterVec
	severity     *prometheus.GaugeVec
	digests      *prometheus.CounterVec
	lastRun      *prometheus.GaugeVec
	runDuration  *prometheus.HistogramVec
	storageFails prometheus.Counter
}

func NewRecorder() *Recorder {
	r := &Recorder{reg: prometheus.NewRegistry()}
	r.runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "monitor",
		Name:      "runs_total",
		Help:      "Pipeline runs by mode",
	}, []string{"mode"})
	r.fetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "monitor",
		Name:      "source_fetch_total",
		Help:      "Source fetches by outcome",
	}, []string{"source", "outcome"})
	r.newRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "monitor",
		Name:      "new_records_total",
		Help:      "Records reported as new",
	}, []string{"source"})
	r.severity = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "monitor",
		Name:      "severity_level",
		Help:      "Last classified severity per source (0 low, 1 medium, 2 high)",
	}, []string{"source"})
	r.digests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "monitor",
		Name:      "digests_total",
		Help:      "Digests by mode and delivery result",
	}, []string{"mode", "result"})
	r.lastRun = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "monitor",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix timestamp of the last completed run",
	}, []string{"mode"})
	r.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "monitor",
		Name:      "run_duration_seconds",
		Help:      "Wall time of a pipeline run",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"mode"})
	r.storageFails = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "monitor",
		Name:      "storage_failures_total",
		Help:      "Runs that hit a snapshot storage failure",
	})

	r.reg.MustRegister(
		r.runs, r.fetches, r.newRecords, r.severity,
		r.digests, r.lastRun, r.runDuration, r.storageFails,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry is exposed for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Recorder) Run(mode string, took time.Duration, at time.Time) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(mode).Inc()
	r.runDuration.WithLabelValues(mode).Observe(took.Seconds())
	r.lastRun.WithLabelValues(mode).Set(float64(at.Unix()))
}

func (r *Recorder) Fetch(source, outcome string) {
	if r == nil {
		return
	}
	r.fetches.WithLabelValues(source, outcome).Inc()
}

func (r *Recorder) NewRecords(source string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.newRecords.WithLabelValues(source).Add(float64(n))
}

func (r *Recorder) Severity(source string, level int) {
	if r == nil {
		return
	}
	r.severity.WithLabelValues(source).Set(float64(level))
}

func (r *Recorder) Digest(mode, result string) {
	if r == nil {
		return
	}
	r.digests.WithLabelValues(mode, result).Inc()
}

func (r *Recorder) StorageFailure() {
	if r == nil {
		return
	}
	r.storageFails.Inc()
}
