// Package metrics provides Prometheus metrics instrumentation for the forecaster.
//
// It exposes operational metrics about forecast runs: their duration, the
// time spent inside the model, how often the stabilizer had to clamp a
// prediction, the latest predicted value and errors. All metrics are exposed
// via the /metrics HTTP endpoint for Prometheus scraping.
//
// Metrics exposed:
//   - linecast_run_duration_seconds: Histogram of forecast run duration
//   - linecast_model_predict_seconds: Histogram of model time per run
//   - linecast_runs_total: Counter of runs by outcome
//   - linecast_clamps_total: Counter of stabilizer clamps by kind
//   - linecast_predicted_value: Gauge of the last predicted value
//   - linecast_last_success_timestamp_seconds: Gauge of the last completed run
//   - linecast_errors_total: Counter of errors by component and reason
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/HatiCode/linecast/pkg/forecast"
)

// Metrics holds all Prometheus metrics for the forecaster.
type Metrics struct {
	RunDuration         *prometheus.HistogramVec
	ModelPredictSeconds *prometheus.HistogramVec
	RunsTotal           *prometheus.CounterVec
	ClampsTotal         *prometheus.CounterVec
	PredictedValue      *prometheus.GaugeVec
	LastSuccess         *prometheus.GaugeVec
	ErrorsTotal         *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	runBuckets := []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120}

	return &Metrics{
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "linecast_run_duration_seconds",
			Help:    "Duration of forecast runs",
			Buckets: runBuckets,
		}, []string{"line"}),

		ModelPredictSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "linecast_model_predict_seconds",
			Help:    "Time spent inside the model during one run",
			Buckets: runBuckets,
		}, []string{"line"}),

		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "linecast_runs_total",
			Help: "Total number of forecast runs by outcome",
		}, []string{"line", "outcome"}),

		ClampsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "linecast_clamps_total",
			Help: "Total number of predictions changed by the stabilizer, by clamp kind",
		}, []string{"line", "kind"}),

		PredictedValue: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "linecast_predicted_value",
			Help: "Last predicted value of the most recent run",
		}, []string{"line", "hours"}),

		LastSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "linecast_last_success_timestamp_seconds",
			Help: "Unix time of the last completed run",
		}, []string{"line"}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "linecast_errors_total",
			Help: "Total number of errors by component and reason",
		}, []string{"component", "reason"}),
	}
}

// RecordRun records a completed run.
func (m *Metrics) RecordRun(res *forecast.Result) {
	line := res.Line
	m.RunsTotal.WithLabelValues(line, "success").Inc()
	m.RunDuration.WithLabelValues(line).Observe(res.Stats.Duration.Seconds())
	m.ModelPredictSeconds.WithLabelValues(line).Observe(res.Stats.PredictTime.Seconds())

	c := res.Stats.Clamps
	m.ClampsTotal.WithLabelValues(line, "bounds").Add(float64(c.Bounds))
	m.ClampsTotal.WithLabelValues(line, "envelope").Add(float64(c.Envelope))
	m.ClampsTotal.WithLabelValues(line, "step").Add(float64(c.Step))
	m.ClampsTotal.WithLabelValues(line, "non_finite").Add(float64(c.NonFinite))

	if n := len(res.Records); n > 0 {
		m.PredictedValue.WithLabelValues(line, strconv.Itoa(res.Hours)).Set(res.Records[n-1].Value)
	}
	m.LastSuccess.WithLabelValues(line).Set(float64(res.GeneratedAt.Unix()))
}

// RecordFailure records a failed run and its error.
func (m *Metrics) RecordFailure(line, component, reason string) {
	m.RunsTotal.WithLabelValues(line, "failure").Inc()
	m.RecordError(component, reason)
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
