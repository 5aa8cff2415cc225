// Package monitoring exposes Prometheus metrics for reconciliation runs and
// a background checker that alerts on failing or review-heavy batches.
package monitoring

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tolima-epi/vereda-cli/internal/model"
	"github.com/tolima-epi/vereda-cli/internal/reference"
	"github.com/tolima-epi/vereda-cli/internal/report"
)

const namespace = "vereda"

// Metrics holds the Prometheus counters, histograms, and gauges for classification.
type Metrics struct {
	RecordsClassified      *prometheus.CounterVec // labels: category
	ClassificationFailures prometheus.Counter
	MissingSum             prometheus.Counter
	BatchSize              prometheus.Histogram

	ReferenceEntries    prometheus.Gauge
	ReferenceCollisions prometheus.Counter

	Runs        *prometheus.CounterVec // labels: status={complete,failed}
	RunDuration prometheus.Histogram

	// Populated by the Checker from the run store.
	RecentRuns *prometheus.GaugeVec // labels: status
	ReviewRate prometheus.Gauge

	HTTPRequests *prometheus.CounterVec // labels: route, code
}

// NewMetrics creates the metrics and registers them with reg. A nil reg
// registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		RecordsClassified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_classified_total",
			Help:      "Records classified, by category.",
		}, []string{"category"}),
		ClassificationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classification_failures_total",
			Help:      "Records whose classification panicked and were sent to manual review.",
		}),
		MissingSum: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_sum_total",
			Help:      "Records with an absent or unparseable sum attribute.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of records per classified batch.",
			Buckets:   []float64{1, 10, 100, 500, 1000, 5000, 10000, 50000},
		}),
		ReferenceEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reference_entries",
			Help:      "Entries in the most recently built reference index.",
		}),
		ReferenceCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reference_collisions_total",
			Help:      "Reference rows that replaced an earlier row with the same key.",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished reconciliation runs by outcome.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a full load-classify-export run.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		RecentRuns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recent_runs",
			Help:      "Runs created inside the lookback window, by status.",
		}, []string{"status"}),
		ReviewRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "review_rate",
			Help:      "Share of records sent to manual review inside the lookback window.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by route and status code.",
		}, []string{"route", "code"}),
	}

	reg.MustRegister(
		m.RecordsClassified,
		m.ClassificationFailures,
		m.MissingSum,
		m.BatchSize,
		m.ReferenceEntries,
		m.ReferenceCollisions,
		m.Runs,
		m.RunDuration,
		m.RecentRuns,
		m.ReviewRate,
		m.HTTPRequests,
	)

	return m
}

// ObserveIndex records the size and collision count of a freshly built index.
func (m *Metrics) ObserveIndex(idx *reference.Index) {
	if m == nil || idx == nil {
		return
	}
	m.ReferenceEntries.Set(float64(idx.Len()))
	m.ReferenceCollisions.Add(float64(len(idx.Collisions())))
}

// ObserveReport counts a classified batch.
func (m *Metrics) ObserveReport(r *report.Report) {
	if m == nil || r == nil {
		return
	}
	m.BatchSize.Observe(float64(r.Len()))
	m.MissingSum.Add(float64(r.MissingSum))
	for _, t := range r.Totals() {
		m.RecordsClassified.WithLabelValues(string(t.Category)).Add(float64(t.Count))
	}
	for _, row := range r.Rows {
		if strings.HasPrefix(row.Result.Reason, report.ReasonFailed) {
			m.ClassificationFailures.Inc()
		}
	}
}

// ObserveRun counts a finished run.
func (m *Metrics) ObserveRun(status model.RunStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(string(status)).Inc()
	m.RunDuration.Observe(d.Seconds())
}

// ObserveSnapshot publishes the collector's view of recent runs.
func (m *Metrics) ObserveSnapshot(snap *Snapshot) {
	if m == nil || snap == nil {
		return
	}
	m.RecentRuns.WithLabelValues(string(model.RunStatusComplete)).Set(float64(snap.Complete))
	m.RecentRuns.WithLabelValues(string(model.RunStatusFailed)).Set(float64(snap.Failed))
	m.RecentRuns.WithLabelValues("in_progress").Set(float64(snap.InProgress))
	m.ReviewRate.Set(snap.ReviewRate)
}

// ObserveRequest counts one HTTP API request.
func (m *Metrics) ObserveRequest(route string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
