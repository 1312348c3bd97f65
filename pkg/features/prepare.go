package features

import (
	"fmt"
	"sort"
	"time"

	"github.com/HatiCode/linecast/pkg/series"
)

// Prepare materializes the historical feature table from merged observations.
//
// Rows are sorted by timestamp, then each gets the calendar features of its own
// timestamp, lag_k = value k rows earlier and roll_mean_w = mean of the last w
// values up to and including itself (fewer at the start). Rows that do not
// have every lag yet are dropped. Existing columns are kept.
//
// Engine.Assemble gives a new row at t the features Prepare writes on the row
// at t-step, so its lag_k matches Prepare's lag_(k+1) at t.
func Prepare(rows []series.Row, cfg Config) ([]series.Row, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("features: %w", err)
	}

	sorted := make([]series.Row, len(rows))
	for i, r := range rows {
		sorted[i] = r.Clone()
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	for i := 1; i < len(sorted); i++ {
		if !sorted[i].Timestamp.After(sorted[i-1].Timestamp) {
			return nil, fmt.Errorf("features: duplicate timestamp %s", sorted[i].Timestamp.Format(time.RFC3339))
		}
	}

	maxLag := cfg.MaxLag()
	out := make([]series.Row, 0, max(0, len(sorted)-maxLag))
	for i := maxLag; i < len(sorted); i++ {
		r := sorted[i]
		if r.Columns == nil {
			r.Columns = make(map[string]float64)
		}
		for name, v := range Calendar(r.Timestamp) {
			r.Columns[name] = v
		}
		for _, k := range cfg.Lags {
			r.Columns[LagName(k)] = sorted[i-k].Value
		}
		for _, w := range cfg.Windows {
			start := max(0, i-w+1)
			sum := 0.0
			for _, prev := range sorted[start : i+1] {
				sum += prev.Value
			}
			r.Columns[RollName(w)] = sum / float64(i+1-start)
		}
		out = append(out, r)
	}

	return out, nil
}
