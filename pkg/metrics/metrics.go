// Package metrics exposes the import worker's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives import pipeline events. Domain packages depend on this
// interface only; Noop is used when metrics are disabled and in tests.
type Recorder interface {
	JobFinished(status, format string, d time.Duration)
	AICall(mode, outcome string, d time.Duration)
	AICacheHit(mode string)
	CircuitState(name string, state int)
	PageAudited(status string)
	VisionRepair(success bool)
	DedupOutcome(outcome string)
}

// Noop discards every event.
type Noop struct{}

func (Noop) JobFinished(string, string, time.Duration) {}
func (Noop) AICall(string, string, time.Duration)      {}
func (Noop) AICacheHit(string)                         {}
func (Noop) CircuitState(string, int)                  {}
func (Noop) PageAudited(string)                        {}
func (Noop) VisionRepair(bool)                         {}
func (Noop) DedupOutcome(string)                       {}

// PrometheusCollector implements Recorder for Prometheus.
type PrometheusCollector struct {
	jobsTotal    *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	aiCalls      *prometheus.CounterVec
	aiLatency    *prometheus.HistogramVec
	aiCacheHits  *prometheus.CounterVec
	circuitState *prometheus.GaugeVec
	pagesAudited *prometheus.CounterVec
	visionRepair *prometheus.CounterVec
	dedup        *prometheus.CounterVec
}

// NewPrometheusCollector creates the collectors under namespace.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	return &PrometheusCollector{
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "import_jobs_total",
				Help:      "Import jobs processed by terminal status and file format",
			},
			[]string{"status", "format"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "import_job_duration_seconds",
				Help:      "Wall time from claim to terminal status",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"format"},
		),
		aiCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ai_calls_total",
				Help:      "AI extraction calls by mode (text, vision) and outcome",
			},
			[]string{"mode", "outcome"},
		),
		aiLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ai_call_duration_seconds",
				Help:      "AI extraction call latency",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
			},
			[]string{"mode"},
		),
		aiCacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ai_cache_hits_total",
				Help:      "AI responses served from the page cache",
			},
			[]string{"mode"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		pagesAudited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pages_audited_total",
				Help:      "Statement pages by final audit status",
			},
			[]string{"status"},
		),
		visionRepair: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vision_repairs_total",
				Help:      "Vision repair attempts by result",
			},
			[]string{"success"},
		),
		dedup: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dedup_outcomes_total",
				Help:      "Deduplication outcomes per transaction (inserted, skipped, flagged, error)",
			},
			[]string{"outcome"},
		),
	}
}

// Register registers all collectors with reg.
func (pc *PrometheusCollector) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pc.jobsTotal, pc.jobDuration, pc.aiCalls, pc.aiLatency, pc.aiCacheHits,
		pc.circuitState, pc.pagesAudited, pc.visionRepair, pc.dedup,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (pc *PrometheusCollector) JobFinished(status, format string, d time.Duration) {
	pc.jobsTotal.WithLabelValues(status, format).Inc()
	pc.jobDuration.WithLabelValues(format).Observe(d.Seconds())
}

func (pc *PrometheusCollector) AICall(mode, outcome string, d time.Duration) {
	pc.aiCalls.WithLabelValues(mode, outcome).Inc()
	pc.aiLatency.WithLabelValues(mode).Observe(d.Seconds())
}

func (pc *PrometheusCollector) AICacheHit(mode string) {
	pc.aiCacheHits.WithLabelValues(mode).Inc()
}

func (pc *PrometheusCollector) CircuitState(name string, state int) {
	pc.circuitState.WithLabelValues(name).Set(float64(state))
}

func (pc *PrometheusCollector) PageAudited(status string) {
	pc.pagesAudited.WithLabelValues(status).Inc()
}

func (pc *PrometheusCollector) VisionRepair(success bool) {
	pc.visionRepair.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func (pc *PrometheusCollector) DedupOutcome(outcome string) {
	pc.dedup.WithLabelValues(outcome).Inc()
}
