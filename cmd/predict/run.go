package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/HatiCode/linecast/pkg/artifacts"
	"github.com/HatiCode/linecast/pkg/features"
	"github.com/HatiCode/linecast/pkg/forecast"
	"github.com/HatiCode/linecast/pkg/history"
	"github.com/HatiCode/linecast/pkg/storage"
)

type runOptions struct {
	line      string
	hours     int
	target    string
	step      time.Duration
	lags      []int
	windows   []int
	modelsDir string
	dataDir   string
	outputDir string
	maxRows   int
	timezone  string
	timeout   time.Duration
}

func newRunCmd(root *rootOptions) *cobra.Command {
	fc := features.DefaultConfig()
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one forecast and write it as CSV",
		Long: `Loads the newest artifact set and prepared table for a line, predicts
the next --hours hours step by step and writes
forecast_{line}_{hours}h_{date}.csv to the output directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runForecast(ctx, cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.line, "line", "", "Production line to forecast (required)")
	f.IntVar(&opts.hours, "hours", 12, "Forecast horizon in hours")
	f.StringVar(&opts.target, "target", fc.Target, "Target column")
	f.DurationVar(&opts.step, "step", fc.Step, "Spacing between forecast rows")
	f.IntSliceVar(&opts.lags, "lags", fc.Lags, "Lag offsets in steps")
	f.IntSliceVar(&opts.windows, "windows", fc.Windows, "Rolling mean windows in steps")
	f.StringVar(&opts.modelsDir, "models-dir", "models", "Trained artifact directory")
	f.StringVar(&opts.dataDir, "data-dir", "data/processed/final", "Prepared history directory")
	f.StringVar(&opts.outputDir, "output-dir", "data/predictions", "Forecast CSV directory")
	f.IntVar(&opts.maxRows, "max-rows", 5000, "Most recent history rows to seed from (0 keeps all)")
	f.StringVar(&opts.timezone, "timezone", "", "Zone of timestamps without an offset (default UTC)")
	f.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Maximum run duration")
	_ = cmd.MarkFlagRequired("line")

	return cmd
}

func runForecast(ctx context.Context, cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	log := root.logger(cmd.ErrOrStderr())

	loc := time.UTC
	if opts.timezone != "" {
		l, err := time.LoadLocation(opts.timezone)
		if err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
		loc = l
	}

	cfg := forecast.Config{
		Line:    opts.line,
		Hours:   opts.hours,
		Target:  opts.target,
		Step:    opts.step,
		Lags:    opts.lags,
		Windows: opts.windows,
	}
	source := &history.CSVSource{
		Dir:      opts.dataDir,
		Target:   opts.target,
		MaxRows:  opts.maxRows,
		Location: loc,
	}

	driver, err := forecast.NewDriver(cfg, artifacts.NewFSRepository(opts.modelsDir, nil), source, log.With("line", opts.line))
	if err != nil {
		return err
	}
	store, err := storage.NewFileStore(opts.outputDir)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	res, err := driver.Run(ctx)
	if err != nil {
		return err
	}
	if err := store.Put(ctx, res); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	path := store.Path(storage.KeyFor(res))
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d records, model %s, history %s\n",
		path, len(res.Records), res.Version, res.HistoryVersion)
	return nil
}
