// Package forecast sequences one multi-step forecast run.
//
// A Driver resolves the artifact set of its line once, seeds a buffer from the
// historical table and then, for every step of the horizon, asks the feature
// engine for a raw prediction, stabilizes it and appends the stabilized value
// back to the buffer so the next step's lags and rolling means see it.
//
// A Driver owns its buffer and stabilizer and runs exactly once. Concurrent
// runs use separate Drivers and share nothing mutable; artifact sets are
// immutable and may be shared.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/HatiCode/linecast/pkg/artifacts"
	"github.com/HatiCode/linecast/pkg/features"
	"github.com/HatiCode/linecast/pkg/history"
	"github.com/HatiCode/linecast/pkg/otel"
	"github.com/HatiCode/linecast/pkg/series"
	"github.com/HatiCode/linecast/pkg/stabilize"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "github.com/HatiCode/linecast/pkg/forecast"

// ErrAlreadyRun is returned when Run is called on a Driver that has run.
var ErrAlreadyRun = errors.New("forecast: driver has already run")

// State is the lifecycle state of a run.
type State int

const (
	Idle State = iota
	ArtifactsLoaded
	Stepping
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ArtifactsLoaded:
		return "artifacts_loaded"
	case Stepping:
		return "stepping"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StepRecord is one stabilized prediction.
type StepRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// RunStats describes how a run went.
type RunStats struct {
	History     stabilize.Stats  `json:"history"`
	HistoryRows int              `json:"historyRows"`
	Clamps      stabilize.Counts `json:"clamps"`
	PredictTime time.Duration    `json:"predictTimeNs"`
	Duration    time.Duration    `json:"durationNs"`
}

// Result is the output of a completed run.
type Result struct {
	Line           string        `json:"line"`
	Hours          int           `json:"hours"`
	Target         string        `json:"target"`
	Step           time.Duration `json:"stepNs"`
	Version        string        `json:"version"`
	HistoryVersion string        `json:"historyVersion"`
	GeneratedAt    time.Time     `json:"generatedAt"`
	Records        []StepRecord  `json:"records"`
	Stats          RunStats      `json:"stats"`
}

// Driver runs one forecast.
type Driver struct {
	cfg    Config
	repo   artifacts.Repository
	source history.Source
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	started     bool
	state       State
	transitions []State
}

// NewDriver creates a Driver for cfg.
func NewDriver(cfg Config, repo artifacts.Repository, source history.Source, logger *slog.Logger) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("forecast: invalid config: %w", err)
	}
	if repo == nil {
		return nil, errors.New("forecast: artifact repository is required")
	}
	if source == nil {
		return nil, errors.New("forecast: history source is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Driver{
		cfg:         cfg.clone(),
		repo:        repo,
		source:      source,
		logger:      logger.With("component", "driver", "line", cfg.Line, "hours", cfg.Hours),
		now:         time.Now,
		state:       Idle,
		transitions: []State{Idle},
	}, nil
}

// State returns the current state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Transitions returns every state the driver has been in, in order.
func (d *Driver) Transitions() []State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]State(nil), d.transitions...)
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = s
	d.transitions = append(d.transitions, s)
}

// Run executes the forecast. The context is checked between steps; a
// cancelled run fails without a result.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil, ErrAlreadyRun
	}
	d.started = true
	d.mu.Unlock()

	ctx, span := otel.StartSpan(ctx, tracerName, "forecast.run", otel.RunAttributes(d.cfg.Line, d.cfg.Hours)...)
	defer span.End()

	start := d.now()
	d.logger.Info("forecast run started", "steps", d.cfg.Steps())

	res, err := d.run(ctx)
	if err != nil {
		d.setState(Failed)
		otel.RecordError(span, err)
		d.logger.Error("forecast run failed", "error", err, "duration", time.Since(start))
		return nil, err
	}

	res.GeneratedAt = start
	res.Stats.Duration = time.Since(start)
	span.SetAttributes(otel.AttrVersion.String(res.Version), otel.AttrHistoryVersion.String(res.HistoryVersion))
	d.setState(Completed)
	d.logger.Info("forecast run completed",
		"version", res.Version,
		"history_version", res.HistoryVersion,
		"records", len(res.Records),
		"clamped_steps", res.Stats.Clamps.Step,
		"duration", res.Stats.Duration,
	)
	return res, nil
}

func (d *Driver) run(ctx context.Context) (*Result, error) {
	set, err := d.resolve(ctx)
	if err != nil {
		return nil, err
	}
	d.setState(ArtifactsLoaded)

	buf, table, err := d.seed(ctx)
	if err != nil {
		return nil, err
	}

	stab, err := d.stabilizer(buf, table)
	if err != nil {
		return nil, err
	}

	engine, err := features.NewEngine(d.cfg.Features(), set.Names(), set.Scaler, set.Model)
	if err != nil {
		return nil, err
	}
	if err := engine.Validate(buf); err != nil {
		return nil, err
	}

	d.setState(Stepping)
	records, predictTime, err := d.step(ctx, engine, buf, stab)
	if err != nil {
		return nil, err
	}

	return &Result{
		Line:           d.cfg.Line,
		Hours:          d.cfg.Hours,
		Target:         d.cfg.Target,
		Step:           d.cfg.Step,
		Version:        set.Version,
		HistoryVersion: table.Version,
		Records:        records,
		Stats: RunStats{
			History:     stab.Stats(),
			HistoryRows: len(table.Rows),
			Clamps:      stab.Counts(),
			PredictTime: predictTime,
		},
	}, nil
}

func (d *Driver) resolve(ctx context.Context) (*artifacts.Set, error) {
	ctx, span := otel.StartSpan(ctx, tracerName, "forecast.resolve")
	defer span.End()

	set, err := artifacts.Resolve(ctx, d.repo, d.cfg.Line)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	if set.Model == nil {
		return nil, &artifacts.ArtifactNotFoundError{Line: d.cfg.Line, Kind: artifacts.KindModel, Version: set.Version}
	}
	if set.Scaler == nil {
		return nil, &artifacts.ArtifactNotFoundError{Line: d.cfg.Line, Kind: artifacts.KindScaler, Version: set.Version}
	}
	span.SetAttributes(otel.AttrVersion.String(set.Version), attribute.Int("linecast.features", len(set.FeatureNames)))
	d.logger.Debug("artifacts resolved", "version", set.Version, "model", set.Model.Name(), "features", len(set.FeatureNames))
	return set, nil
}

func (d *Driver) seed(ctx context.Context) (*series.Buffer, history.Table, error) {
	ctx, span := otel.StartSpan(ctx, tracerName, "forecast.seed")
	defer span.End()

	table, err := d.source.Load(ctx, d.cfg.Line)
	if err != nil {
		otel.RecordError(span, err)
		return nil, history.Table{}, fmt.Errorf("forecast: load history: %w", err)
	}

	buf := series.NewBuffer(d.cfg.Target)
	if err := buf.Seed(table.Rows, d.cfg.Features().MaxLag()); err != nil {
		otel.RecordError(span, err)
		return nil, history.Table{}, err
	}
	span.SetAttributes(otel.AttrHistoryVersion.String(table.Version), otel.AttrHistoryRows.Int(buf.Len()))
	return buf, table, nil
}

// stabilizer clamps against the whole table's statistics, which a source
// reports separately when it returned only the most recent rows.
func (d *Driver) stabilizer(buf *series.Buffer, table history.Table) (*stabilize.Stabilizer, error) {
	if table.Stats != nil {
		return stabilize.New(*table.Stats), nil
	}
	values, err := buf.Values(d.cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("forecast: history statistics: %w", err)
	}
	return stabilize.New(stabilize.Describe(values)), nil
}

func (d *Driver) step(ctx context.Context, engine *features.Engine, buf *series.Buffer, stab *stabilize.Stabilizer) ([]StepRecord, time.Duration, error) {
	n := d.cfg.Steps()
	ctx, span := otel.StartSpan(ctx, tracerName, "forecast.step", otel.AttrSteps.Int(n))
	defer span.End()

	records := make([]StepRecord, 0, n)
	var predictTime time.Duration
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			otel.RecordError(span, err)
			return nil, 0, fmt.Errorf("forecast: cancelled at step %d of %d: %w", i, n, err)
		}

		t0 := time.Now()
		next, err := engine.Next(ctx, buf)
		predictTime += time.Since(t0)
		if err != nil {
			otel.RecordError(span, err)
			return nil, 0, fmt.Errorf("forecast: step %d: %w", i, err)
		}

		value := stab.Apply(next.Raw)
		row := series.Row{
			Timestamp: next.Timestamp,
			Value:     value,
			Device:    d.cfg.Line,
			Columns:   next.Columns,
		}
		if err := buf.Append(row); err != nil {
			otel.RecordError(span, err)
			return nil, 0, fmt.Errorf("forecast: step %d: %w", i, err)
		}
		records = append(records, StepRecord{Timestamp: next.Timestamp, Value: value})
	}

	return records, predictTime, nil
}
