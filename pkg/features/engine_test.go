package features

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/HatiCode/linecast/pkg/series"
)

type identityScaler struct{ dim int }

func (s identityScaler) Transform(x []float64) ([]float64, error) {
	out := make([]float64, len(x))
	copy(out, x)
	return out, nil
}

func (s identityScaler) Dim() int { return s.dim }

// recordingModel returns the first input and remembers every call.
type recordingModel struct {
	calls  int
	inputs [][]float64
}

func (m *recordingModel) Predict(ctx context.Context, x []float64) (float64, error) {
	m.calls++
	m.inputs = append(m.inputs, append([]float64(nil), x...))
	return x[0], nil
}

var base = time.Date(2025, 3, 14, 18, 50, 0, 0, time.UTC) // Friday

func history(n int) []series.Row {
	rows := make([]series.Row, n)
	for i := range rows {
		rows[i] = series.Row{
			Timestamp: base.Add(time.Duration(i) * 30 * time.Second),
			Value:     float64(100 + i),
			Device:    "L3",
			Columns:   map[string]float64{"avail_Mantenimiento": 0.5},
		}
	}
	return rows
}

func seeded(t *testing.T, n int) *series.Buffer {
	t.Helper()
	buf := series.NewBuffer("velocity_bpm")
	if err := buf.Seed(history(n), 10); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	return buf
}

func TestCalendar(t *testing.T) {
	ts := time.Date(2025, 3, 15, 20, 30, 0, 0, time.UTC) // Saturday
	c := Calendar(ts)

	checks := map[string]float64{
		Hour:      20,
		Minute:    30,
		DayOfWeek: 5,
		IsWeekend: 1,
		Shift:     1,
		HourSin:   math.Sin(2 * math.Pi * 20 / 24),
		HourCos:   math.Cos(2 * math.Pi * 20 / 24),
		MinuteSin: math.Sin(math.Pi),
		MinuteCos: -1,
		DowSin:    math.Sin(2 * math.Pi * 5 / 7),
		DowCos:    math.Cos(2 * math.Pi * 5 / 7),
	}
	for name, want := range checks {
		if math.Abs(c[name]-want) > 1e-12 {
			t.Errorf("%s = %v, want %v", name, c[name], want)
		}
	}
	if len(c) != len(CalendarNames) {
		t.Errorf("Calendar() returned %d features, want %d", len(c), len(CalendarNames))
	}
}

func TestCalendar_Shift(t *testing.T) {
	tests := []struct {
		hour int
		want float64
	}{
		{6, 1}, {7, 0}, {12, 0}, {18, 0}, {19, 1}, {23, 1}, {0, 1},
	}
	for _, tt := range tests {
		ts := time.Date(2025, 3, 12, tt.hour, 0, 0, 0, time.UTC)
		if got := Calendar(ts)[Shift]; got != tt.want {
			t.Errorf("shift at %02d:00 = %v, want %v", tt.hour, got, tt.want)
		}
	}
}

func TestCalendar_MondayIsZero(t *testing.T) {
	monday := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	sunday := monday.AddDate(0, 0, 6)
	if got := Calendar(monday)[DayOfWeek]; got != 0 {
		t.Errorf("monday dayofweek = %v, want 0", got)
	}
	if got := Calendar(sunday)[DayOfWeek]; got != 6 {
		t.Errorf("sunday dayofweek = %v, want 6", got)
	}
}

func TestNewEngine_SchemaErrors(t *testing.T) {
	cfg := DefaultConfig()
	model := &recordingModel{}

	tests := []struct {
		name   string
		names  []string
		scaler Scaler
	}{
		{name: "empty list", names: nil, scaler: identityScaler{}},
		{name: "renamed lag", names: []string{"hour", "lag_3"}, scaler: identityScaler{dim: 2}},
		{name: "unconfigured window", names: []string{"roll_mean_5"}, scaler: identityScaler{dim: 1}},
		{name: "malformed lag", names: []string{"lag_x"}, scaler: identityScaler{dim: 1}},
		{name: "duplicate", names: []string{"hour", "hour"}, scaler: identityScaler{dim: 2}},
		{name: "target as input", names: []string{"velocity_bpm"}, scaler: identityScaler{dim: 1}},
		{name: "scaler dimension", names: []string{"hour", "minute"}, scaler: identityScaler{dim: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(cfg, tt.names, tt.scaler, model)
			var mismatch *FeatureSchemaMismatchError
			if !errors.As(err, &mismatch) {
				t.Fatalf("NewEngine() error = %v, want *FeatureSchemaMismatchError", err)
			}
		})
	}
	if model.calls != 0 {
		t.Errorf("model invoked %d times during validation", model.calls)
	}
}

func TestAssemble_OrderAndValues(t *testing.T) {
	names := []string{"roll_mean_10", "lag_1", "hour", "avail_Mantenimiento", "lag_10", "minute", "shift", "roll_mean_20"}
	e, err := NewEngine(DefaultConfig(), names, identityScaler{dim: len(names)}, &recordingModel{})
	if err != nil {
		t.Fatal(err)
	}

	buf := seeded(t, 30) // values 100..129, tail at 19:04:30
	step, err := e.Assemble(buf)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}

	if len(step.Vector) != len(names) {
		t.Fatalf("len(vector) = %d, want %d", len(step.Vector), len(names))
	}

	wantTs := base.Add(30 * 30 * time.Second)
	if !step.Timestamp.Equal(wantTs) {
		t.Errorf("timestamp = %v, want %v", step.Timestamp, wantTs)
	}

	want := []float64{
		124.5, // mean(120..129)
		128,   // position len-2
		19,
		0.5,
		119, // position len-11
		5,
		1,
		119.5, // mean(110..129)
	}
	for i := range want {
		if math.Abs(step.Vector[i]-want[i]) > 1e-9 {
			t.Errorf("vector[%d] (%s) = %v, want %v", i, names[i], step.Vector[i], want[i])
		}
	}

	if step.Columns["avail_Mantenimiento"] != 0.5 {
		t.Error("carried column not stored on the new row")
	}
	for _, k := range DefaultConfig().Lags {
		if _, ok := step.Columns[LagName(k)]; !ok {
			t.Errorf("column %s missing", LagName(k))
		}
	}
}

func TestAssemble_MissingCarriedColumn(t *testing.T) {
	names := []string{"hour", "avail_Renamed"}
	model := &recordingModel{}
	e, err := NewEngine(DefaultConfig(), names, identityScaler{dim: 2}, model)
	if err != nil {
		t.Fatal(err)
	}

	_, err = e.Next(context.Background(), seeded(t, 20))
	var mismatch *FeatureSchemaMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Next() error = %v, want *FeatureSchemaMismatchError", err)
	}
	if mismatch.Feature != "avail_Renamed" {
		t.Errorf("mismatch.Feature = %q", mismatch.Feature)
	}
	if model.calls != 0 {
		t.Errorf("model invoked %d times before schema failure", model.calls)
	}
}

func TestAssemble_InsufficientHistory(t *testing.T) {
	e, err := NewEngine(DefaultConfig(), []string{"lag_10"}, identityScaler{dim: 1}, &recordingModel{})
	if err != nil {
		t.Fatal(err)
	}

	// 10 rows satisfies seeding, lag 10 needs 11.
	err = e.Validate(seeded(t, 10))
	var insufficient *series.InsufficientHistoryError
	if !errors.As(err, &insufficient) {
		t.Fatalf("Validate() error = %v, want *series.InsufficientHistoryError", err)
	}
}

func TestNext_ScoresScaledVector(t *testing.T) {
	names := []string{"lag_1", "hour"}
	model := &recordingModel{}
	e, err := NewEngine(DefaultConfig(), names, identityScaler{dim: 2}, model)
	if err != nil {
		t.Fatal(err)
	}

	buf := seeded(t, 12)
	step, err := e.Next(context.Background(), buf)
	if err != nil {
		t.Fatal(err)
	}
	if model.calls != 1 {
		t.Fatalf("model calls = %d, want 1", model.calls)
	}
	if step.Raw != 110 {
		t.Errorf("Raw = %v, want 110 (lag_1)", step.Raw)
	}
	if buf.Len() != 12 {
		t.Errorf("Next() modified the buffer: len = %d", buf.Len())
	}
}

func TestNext_Causality(t *testing.T) {
	names := []string{"lag_1", "lag_2"}
	model := &recordingModel{}
	e, err := NewEngine(DefaultConfig(), names, identityScaler{dim: 2}, model)
	if err != nil {
		t.Fatal(err)
	}
	buf := seeded(t, 11) // values 100..110

	step, err := e.Next(context.Background(), buf)
	if err != nil {
		t.Fatal(err)
	}
	if err := buf.Append(series.Row{Timestamp: step.Timestamp, Value: 999, Columns: step.Columns}); err != nil {
		t.Fatal(err)
	}

	if _, err := e.Next(context.Background(), buf); err != nil {
		t.Fatal(err)
	}

	// lag_k reads position len-1-k, so the appended 999 sits at lag 0 and
	// every lag shifts by exactly one row.
	first, second := model.inputs[0], model.inputs[1]
	if first[0] != 109 || first[1] != 108 {
		t.Errorf("first step lags = %v, want [109 108]", first)
	}
	if second[0] != 110 || second[1] != 109 {
		t.Errorf("second step lags = %v, want [110 109]", second)
	}
}

func TestPrepare(t *testing.T) {
	cfg := Config{Lags: []int{1, 2}, Windows: []int{3}, Step: 30 * time.Second, Target: "velocity_bpm"}

	raw := make([]series.Row, 5)
	for i := range raw {
		raw[i] = series.Row{Timestamp: base.Add(time.Duration(i) * 30 * time.Second), Value: float64(i + 1)}
	}
	raw[0], raw[4] = raw[4], raw[0]

	out, err := Prepare(raw, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3 (first 2 rows dropped)", len(out))
	}

	first := out[0]
	if first.Value != 3 {
		t.Errorf("first kept value = %v, want 3", first.Value)
	}
	if first.Columns["lag_1"] != 2 || first.Columns["lag_2"] != 1 {
		t.Errorf("lags = %v/%v, want 2/1", first.Columns["lag_1"], first.Columns["lag_2"])
	}
	if first.Columns["roll_mean_3"] != 2 {
		t.Errorf("roll_mean_3 = %v, want 2", first.Columns["roll_mean_3"])
	}
	if first.Columns["hour"] != 18 {
		t.Errorf("hour = %v, want 18", first.Columns["hour"])
	}
	if raw[2].Columns != nil {
		t.Error("Prepare mutated its input")
	}
}

func TestPrepare_MinPeriods(t *testing.T) {
	cfg := Config{Lags: nil, Windows: []int{10}, Step: 30 * time.Second, Target: "v"}
	raw := []series.Row{
		{Timestamp: base, Value: 4},
		{Timestamp: base.Add(30 * time.Second), Value: 8},
	}

	out, err := Prepare(raw, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if out[0].Columns["roll_mean_10"] != 4 || out[1].Columns["roll_mean_10"] != 6 {
		t.Errorf("rolling means = %v, %v; want 4, 6", out[0].Columns["roll_mean_10"], out[1].Columns["roll_mean_10"])
	}
}

// A new row gets the lags and rolling means Prepare writes on the last
// observed row, one step earlier. Against Prepare's row at the same
// timestamp, engine lag_k is lag_(k+1).
func TestAssemble_LagsRelativeToPrepare(t *testing.T) {
	cfg := Config{Lags: []int{1, 2, 3}, Windows: []int{3}, Step: 30 * time.Second, Target: "velocity_bpm"}
	names := []string{"lag_1", "lag_2", "lag_3", "roll_mean_3"}
	e, err := NewEngine(cfg, names, identityScaler{dim: len(names)}, &recordingModel{})
	if err != nil {
		t.Fatal(err)
	}

	rows := history(21) // values 100..120
	buf := series.NewBuffer(cfg.Target)
	if err := buf.Seed(rows[:20], cfg.MaxLag()); err != nil {
		t.Fatal(err)
	}
	step, err := e.Assemble(buf)
	if err != nil {
		t.Fatal(err)
	}

	prepared, err := Prepare(rows, cfg)
	if err != nil {
		t.Fatal(err)
	}
	last, same := prepared[len(prepared)-2], prepared[len(prepared)-1]
	if !same.Timestamp.Equal(step.Timestamp) {
		t.Fatalf("prepared timestamp = %v, want %v", same.Timestamp, step.Timestamp)
	}

	for _, name := range names {
		if step.Columns[name] != last.Columns[name] {
			t.Errorf("%s = %v, want Prepare's value on the last observed row %v", name, step.Columns[name], last.Columns[name])
		}
	}
	if step.Columns["lag_1"] != 118 || same.Columns["lag_1"] != 119 {
		t.Errorf("lag_1 = %v (engine) / %v (Prepare at same time), want 118 / 119", step.Columns["lag_1"], same.Columns["lag_1"])
	}
	if step.Columns["lag_1"] != same.Columns["lag_2"] || step.Columns["lag_2"] != same.Columns["lag_3"] {
		t.Errorf("engine lag_k should equal Prepare lag_(k+1) at the same timestamp: %v", step.Columns)
	}
}
