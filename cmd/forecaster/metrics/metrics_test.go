package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/HatiCode/linecast/pkg/forecast"
	"github.com/HatiCode/linecast/pkg/stabilize"
)

func TestRecordRun(t *testing.T) {
	m := New(prometheus.NewRegistry())

	res := &forecast.Result{
		Line:        "L1",
		Hours:       2,
		GeneratedAt: time.Unix(1741000000, 0),
		Records: []forecast.StepRecord{
			{Timestamp: time.Unix(1741000030, 0), Value: 110},
			{Timestamp: time.Unix(1741000060, 0), Value: 115},
		},
		Stats: forecast.RunStats{
			Clamps:      stabilize.Counts{Steps: 2, Bounds: 1, Step: 2},
			Duration:    time.Second,
			PredictTime: 200 * time.Millisecond,
		},
	}
	m.RecordRun(res)

	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("L1", "success")); got != 1 {
		t.Errorf("runs success = %v", got)
	}
	if got := testutil.ToFloat64(m.ClampsTotal.WithLabelValues("L1", "step")); got != 2 {
		t.Errorf("step clamps = %v", got)
	}
	if got := testutil.ToFloat64(m.ClampsTotal.WithLabelValues("L1", "bounds")); got != 1 {
		t.Errorf("bounds clamps = %v", got)
	}
	if got := testutil.ToFloat64(m.PredictedValue.WithLabelValues("L1", "2")); got != 115 {
		t.Errorf("predicted value = %v", got)
	}
	if got := testutil.ToFloat64(m.LastSuccess.WithLabelValues("L1")); got != 1741000000 {
		t.Errorf("last success = %v", got)
	}
}

func TestRecordFailure(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordFailure("L1", "artifacts", "not_found")
	m.RecordFailure("L1", "artifacts", "not_found")
	m.RecordError("store", "put")

	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("L1", "failure")); got != 2 {
		t.Errorf("runs failure = %v", got)
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("artifacts", "not_found")); got != 2 {
		t.Errorf("errors = %v", got)
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("store", "put")); got != 1 {
		t.Errorf("store errors = %v", got)
	}
}
