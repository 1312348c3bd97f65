// Package main implements the forecaster service.
//
// This file contains the Forecaster type which turns one request, scheduled
// or over HTTP, into a forecast run:
//
//	snapshot settings → resolve artifacts → load history → drive steps → store
//
// Each run takes a copy of the current pipeline settings, so a configuration
// reload only affects runs started afterwards. Runs are bounded by the run
// timeout and share nothing mutable except the artifact caches and the
// stores, which are safe for concurrent use.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/HatiCode/linecast/cmd/forecaster/config"
	"github.com/HatiCode/linecast/cmd/forecaster/metrics"
	"github.com/HatiCode/linecast/pkg/artifacts"
	"github.com/HatiCode/linecast/pkg/features"
	"github.com/HatiCode/linecast/pkg/forecast"
	"github.com/HatiCode/linecast/pkg/history"
	"github.com/HatiCode/linecast/pkg/series"
	"github.com/HatiCode/linecast/pkg/storage"
)

// SourceFunc returns the history source for a pipeline snapshot.
type SourceFunc func(p config.Pipeline) (history.Source, error)

// CSVSources reads prepared tables from the pipeline's data directory.
func CSVSources(p config.Pipeline) (history.Source, error) {
	loc, err := p.Location()
	if err != nil {
		return nil, err
	}
	return &history.CSVSource{
		Dir:      p.DataDir,
		Target:   p.Target,
		MaxRows:  p.MaxRows,
		Location: loc,
	}, nil
}

// FixedSource always returns src.
func FixedSource(src history.Source) SourceFunc {
	return func(config.Pipeline) (history.Source, error) { return src, nil }
}

// Forecaster runs forecasts and keeps their results.
type Forecaster struct {
	settings   *config.Live
	sources    SourceFunc
	serving    storage.Store
	client     *http.Client
	cacheSize  int
	runTimeout time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
	ready      []func(ctx context.Context) error

	mu     sync.Mutex
	caches map[string]*artifacts.Cache
	files  map[string]*storage.FileStore
}

// Options configures a Forecaster.
type Options struct {
	Settings *config.Live
	Sources  SourceFunc
	// Serving receives every result next to the CSV output; nil keeps CSV only.
	Serving storage.Store
	// Client is used by remote models.
	Client     *http.Client
	CacheSize  int
	RunTimeout time.Duration
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	// Ready checks are run by the health endpoint.
	Ready []func(ctx context.Context) error
}

// New creates a Forecaster.
func New(opts Options) (*Forecaster, error) {
	if opts.Settings == nil {
		return nil, errors.New("settings are required")
	}
	if opts.Sources == nil {
		return nil, errors.New("history source is required")
	}
	if opts.Metrics == nil {
		return nil, errors.New("metrics are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 16
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 2 * time.Minute
	}

	return &Forecaster{
		settings:   opts.Settings,
		sources:    opts.Sources,
		serving:    opts.Serving,
		client:     opts.Client,
		cacheSize:  opts.CacheSize,
		runTimeout: opts.RunTimeout,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		ready:      opts.Ready,
		caches:     make(map[string]*artifacts.Cache),
		files:      make(map[string]*storage.FileStore),
	}, nil
}

// Run executes one forecast for line and hours; empty line or zero hours use
// the configured defaults. The result is written to the CSV output directory
// and the serving store before it is returned. A failed run writes nothing.
func (f *Forecaster) Run(ctx context.Context, line string, hours int) (*forecast.Result, error) {
	p := f.settings.Pipeline()
	if line == "" {
		line = p.Line
	}
	if hours == 0 {
		hours = p.Hours
	}

	ctx, cancel := context.WithTimeout(ctx, f.runTimeout)
	defer cancel()

	res, err := f.run(ctx, p, line, hours)
	if err != nil {
		component, reason := classify(err)
		f.metrics.RecordFailure(line, component, reason)
		return nil, err
	}

	if err := f.store(ctx, p, res); err != nil {
		f.metrics.RecordError("store", "put_failed")
		return nil, fmt.Errorf("store: %w", err)
	}

	f.metrics.RecordRun(res)
	f.logger.Info("forecast stored",
		"line", res.Line,
		"hours", res.Hours,
		"version", res.Version,
		"records", len(res.Records),
		"predict_ms", res.Stats.PredictTime.Milliseconds(),
		"total_ms", res.Stats.Duration.Milliseconds(),
	)
	return res, nil
}

func (f *Forecaster) run(ctx context.Context, p config.Pipeline, line string, hours int) (*forecast.Result, error) {
	repo, err := f.artifacts(p.ModelsDir)
	if err != nil {
		return nil, err
	}
	source, err := f.sources(p)
	if err != nil {
		return nil, fmt.Errorf("history source: %w", err)
	}

	driver, err := forecast.NewDriver(p.Forecast(line, hours), repo, source, f.logger)
	if err != nil {
		return nil, err
	}
	return driver.Run(ctx)
}

func (f *Forecaster) store(ctx context.Context, p config.Pipeline, res *forecast.Result) error {
	files, err := f.fileStore(p.OutputDir)
	if err != nil {
		return err
	}
	stores := storage.Multi{files}
	if f.serving != nil {
		stores = append(stores, f.serving)
	}
	return stores.Put(ctx, res)
}

// Latest returns the newest stored result for line and hours, looking in the
// serving store first and in the CSV output directory second.
func (f *Forecaster) Latest(ctx context.Context, line string, hours int) (*forecast.Result, bool, error) {
	files, err := f.fileStore(f.settings.Pipeline().OutputDir)
	if err != nil {
		return nil, false, err
	}
	stores := storage.Multi{}
	if f.serving != nil {
		stores = append(stores, f.serving)
	}
	stores = append(stores, files)
	return stores.GetLatest(ctx, line, hours)
}

// Ready reports whether the models directory is readable and every
// configured dependency answers.
func (f *Forecaster) Ready(ctx context.Context) error {
	if _, err := os.Stat(f.settings.Pipeline().ModelsDir); err != nil {
		return fmt.Errorf("models dir: %w", err)
	}
	for _, check := range f.ready {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// artifacts returns the cached repository of dir. Caches are kept per
// directory so a reload pointing elsewhere never serves stale sets.
func (f *Forecaster) artifacts(dir string) (*artifacts.Cache, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.caches[dir]; ok {
		return c, nil
	}
	c, err := artifacts.NewCache(artifacts.NewFSRepository(dir, f.client), f.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("artifact cache: %w", err)
	}
	f.caches[dir] = c
	return c, nil
}

// fileStore returns the store of dir. One store per directory holds the
// per-key write locks, so it must be shared by all runs.
func (f *Forecaster) fileStore(dir string) (*storage.FileStore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.files[dir]; ok {
		return s, nil
	}
	s, err := storage.NewFileStore(dir)
	if err != nil {
		return nil, err
	}
	f.files[dir] = s
	return s, nil
}

// classify returns the component and reason an error is counted under.
func classify(err error) (component, reason string) {
	var (
		notFound     *artifacts.ArtifactNotFoundError
		noTable      *history.NoTableError
		empty        *series.EmptyHistoryError
		insufficient *series.InsufficientHistoryError
		mismatch     *features.FeatureSchemaMismatchError
	)
	switch {
	case errors.As(err, &notFound):
		return "artifacts", "not_found"
	case errors.As(err, &mismatch):
		return "features", "schema_mismatch"
	case errors.As(err, &noTable):
		return "history", "no_table"
	case errors.As(err, &empty):
		return "history", "empty"
	case errors.As(err, &insufficient):
		return "history", "insufficient"
	case errors.Is(err, context.DeadlineExceeded):
		return "driver", "timeout"
	case errors.Is(err, context.Canceled):
		return "driver", "canceled"
	default:
		return "driver", "run_failed"
	}
}
