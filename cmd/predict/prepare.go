package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/HatiCode/linecast/pkg/features"
	"github.com/HatiCode/linecast/pkg/history"
)

type prepareOptions struct {
	input    string
	output   string
	target   string
	line     string
	lags     []int
	windows  []int
	timezone string
}

func newPrepareCmd(root *rootOptions) *cobra.Command {
	fc := features.DefaultConfig()
	opts := &prepareOptions{}

	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Build a feature table from raw observations",
		Long: `Reads a CSV with _time, device_id and the target column, adds the
calendar, lag and rolling mean columns and writes a table that run and the
forecaster can seed from. Rows without every lag are dropped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return prepare(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.input, "input", "", "Raw observations CSV (required)")
	f.StringVar(&opts.output, "output", "", "Feature table to write (required)")
	f.StringVar(&opts.target, "target", fc.Target, "Target column")
	f.StringVar(&opts.line, "line", "", "Keep only rows of this device_id")
	f.IntSliceVar(&opts.lags, "lags", fc.Lags, "Lag offsets in rows")
	f.IntSliceVar(&opts.windows, "windows", fc.Windows, "Rolling mean windows in rows")
	f.StringVar(&opts.timezone, "timezone", "", "Zone of timestamps without an offset (default UTC)")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func prepare(cmd *cobra.Command, root *rootOptions, opts *prepareOptions) error {
	log := root.logger(cmd.ErrOrStderr())

	loc := time.UTC
	if opts.timezone != "" {
		l, err := time.LoadLocation(opts.timezone)
		if err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
		loc = l
	}

	in, err := os.Open(opts.input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	rows, err := history.ReadCSV(in, history.ReadOptions{Target: opts.target, Line: opts.line, Location: loc})
	if err != nil {
		return err
	}

	fc := features.DefaultConfig()
	fc.Target = opts.target
	fc.Lags = opts.lags
	fc.Windows = opts.windows
	prepared, err := features.Prepare(rows, fc)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(opts.output), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	out, err := os.Create(opts.output)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := history.WriteCSV(out, prepared, opts.target); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}

	log.Info("feature table written", "path", opts.output, "input_rows", len(rows), "rows", len(prepared))
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rows\n", opts.output, len(prepared))
	return nil
}
