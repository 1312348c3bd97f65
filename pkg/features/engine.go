// Package features builds the model input for each forecast step.
//
// The Engine is the recurrence at the heart of a multi-step forecast: given the
// buffer tail at time t it derives the calendar features of t+step, the lag and
// rolling features of the target over the buffer, carries every other trained
// column forward from the tail, and assembles them in the exact order the model
// was trained with. The vector is then scaled and scored.
//
// Prepare is the batch counterpart used to materialize the historical feature
// table; both share the same calendar, lag and rolling definitions.
package features

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/HatiCode/linecast/pkg/series"
)

// Scaler transforms a raw feature vector into the model's input space.
type Scaler interface {
	Transform(x []float64) ([]float64, error)
}

// Model scores a scaled feature vector.
type Model interface {
	Predict(ctx context.Context, x []float64) (float64, error)
}

// Dimensioned is implemented by scalers and models that know their input size.
type Dimensioned interface {
	Dim() int
}

// Config controls which history-derived features are produced.
type Config struct {
	// Lags are the lag offsets in steps, e.g. {1, 2, 4, 10}.
	Lags []int
	// Windows are the rolling-mean window sizes in steps, e.g. {10, 20}.
	Windows []int
	// Step is the spacing between consecutive rows.
	Step time.Duration
	// Target is the column being forecast.
	Target string
}

// DefaultConfig returns lags {1,2,4,10}, windows {10,20}, 30s steps, target velocity_bpm.
func DefaultConfig() Config {
	return Config{
		Lags:    []int{1, 2, 4, 10},
		Windows: []int{10, 20},
		Step:    30 * time.Second,
		Target:  "velocity_bpm",
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Step <= 0 {
		return fmt.Errorf("step must be > 0, got %v", c.Step)
	}
	if c.Target == "" {
		return errors.New("target column cannot be empty")
	}
	for _, k := range c.Lags {
		if k <= 0 {
			return fmt.Errorf("lags must be positive, got %d", k)
		}
	}
	for _, w := range c.Windows {
		if w <= 0 {
			return fmt.Errorf("rolling windows must be positive, got %d", w)
		}
	}
	return nil
}

// MaxLag returns the largest configured lag, 0 when there are none.
func (c Config) MaxLag() int {
	m := 0
	for _, k := range c.Lags {
		if k > m {
			m = k
		}
	}
	return m
}

type sourceKind int

const (
	fromCalendar sourceKind = iota
	fromLag
	fromRolling
	fromTail
)

// Engine computes one forecast step at a time. It holds no per-run state and
// may be shared between runs that use the same artifact set.
type Engine struct {
	cfg    Config
	names  []string
	kinds  []sourceKind
	scaler Scaler
	model  Model
}

// NewEngine validates names against cfg and the artifact dimensions.
// Every name shaped lag_<k> or roll_mean_<w> must be a configured lag or
// window; calendar names are recomputed; anything else is carried from the tail.
func NewEngine(cfg Config, names []string, scaler Scaler, model Model) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("features: %w", err)
	}
	if scaler == nil || model == nil {
		return nil, errors.New("features: scaler and model are required")
	}
	if len(names) == 0 {
		return nil, &FeatureSchemaMismatchError{Reason: "feature list is empty"}
	}

	kinds := make([]sourceKind, len(names))
	seen := make(map[string]bool, len(names))
	for i, name := range names {
		if seen[name] {
			return nil, &FeatureSchemaMismatchError{Feature: name, Reason: "listed twice"}
		}
		seen[name] = true

		if name == cfg.Target {
			return nil, &FeatureSchemaMismatchError{Feature: name, Reason: "target column cannot be a model input"}
		}

		if isCalendar(name) {
			kinds[i] = fromCalendar
			continue
		}
		if k, ok, err := parseWindowed(name, lagPrefix); ok {
			if err != nil {
				return nil, &FeatureSchemaMismatchError{Feature: name, Reason: err.Error()}
			}
			if !slices.Contains(cfg.Lags, k) {
				return nil, &FeatureSchemaMismatchError{Feature: name, Reason: fmt.Sprintf("lag %d is not configured (lags %v)", k, cfg.Lags)}
			}
			kinds[i] = fromLag
			continue
		}
		if w, ok, err := parseWindowed(name, rollPrefix); ok {
			if err != nil {
				return nil, &FeatureSchemaMismatchError{Feature: name, Reason: err.Error()}
			}
			if !slices.Contains(cfg.Windows, w) {
				return nil, &FeatureSchemaMismatchError{Feature: name, Reason: fmt.Sprintf("window %d is not configured (windows %v)", w, cfg.Windows)}
			}
			kinds[i] = fromRolling
			continue
		}
		kinds[i] = fromTail
	}

	if d, ok := scaler.(Dimensioned); ok && d.Dim() != len(names) {
		return nil, &FeatureSchemaMismatchError{Reason: fmt.Sprintf("scaler expects %d features, feature list has %d", d.Dim(), len(names))}
	}
	if d, ok := model.(Dimensioned); ok && d.Dim() != len(names) {
		return nil, &FeatureSchemaMismatchError{Reason: fmt.Sprintf("model expects %d inputs, feature list has %d", d.Dim(), len(names))}
	}

	return &Engine{
		cfg:    cfg,
		names:  slices.Clone(names),
		kinds:  kinds,
		scaler: scaler,
		model:  model,
	}, nil
}

// Names returns the feature names in model order.
func (e *Engine) Names() []string {
	return slices.Clone(e.names)
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Step is the outcome of one recurrence.
type Step struct {
	// Timestamp is tail + step.
	Timestamp time.Time
	// Raw is the unstabilized model output.
	Raw float64
	// Vector is the unscaled feature vector in model order.
	Vector []float64
	// Columns are the derived and carried columns of the new row.
	Columns map[string]float64
}

// Assemble computes the next timestamp, the derived columns and the feature
// vector from buf without calling the scaler or the model.
func (e *Engine) Assemble(buf *series.Buffer) (Step, error) {
	tail, err := buf.Tail()
	if err != nil {
		return Step{}, fmt.Errorf("features: %w", err)
	}
	next := tail.Timestamp.Add(e.cfg.Step)

	columns := Calendar(next)
	for _, k := range e.cfg.Lags {
		v, err := buf.LagValue(e.cfg.Target, k)
		if err != nil {
			return Step{}, fmt.Errorf("features: %s: %w", LagName(k), err)
		}
		columns[LagName(k)] = v
	}
	for _, w := range e.cfg.Windows {
		v, err := buf.RollingMean(e.cfg.Target, w)
		if err != nil {
			return Step{}, fmt.Errorf("features: %s: %w", RollName(w), err)
		}
		columns[RollName(w)] = v
	}

	vector := make([]float64, len(e.names))
	for i, name := range e.names {
		if e.kinds[i] == fromTail {
			v, ok := tail.Column(name)
			if !ok {
				return Step{}, &FeatureSchemaMismatchError{Feature: name, Reason: "not derivable and absent from the latest row"}
			}
			columns[name] = v
		}
		vector[i] = columns[name]
	}

	return Step{Timestamp: next, Vector: vector, Columns: columns}, nil
}

// Validate runs Assemble so schema and history problems surface before any
// model invocation.
func (e *Engine) Validate(buf *series.Buffer) error {
	_, err := e.Assemble(buf)
	return err
}

// Next assembles, scales and scores the next step. It only reads buf.
func (e *Engine) Next(ctx context.Context, buf *series.Buffer) (Step, error) {
	step, err := e.Assemble(buf)
	if err != nil {
		return Step{}, err
	}

	scaled, err := e.scaler.Transform(step.Vector)
	if err != nil {
		return Step{}, fmt.Errorf("features: scale: %w", err)
	}
	if len(scaled) != len(e.names) {
		return Step{}, &FeatureSchemaMismatchError{Reason: fmt.Sprintf("scaler returned %d values for %d features", len(scaled), len(e.names))}
	}

	raw, err := e.model.Predict(ctx, scaled)
	if err != nil {
		return Step{}, fmt.Errorf("features: predict: %w", err)
	}
	step.Raw = raw
	return step, nil
}
