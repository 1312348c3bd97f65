// Command predict runs linecast forecasts and prepares feature tables from
// the command line, without starting the forecast service.
//
// Usage:
//
//	predict run --line=L1 --hours=12 --models-dir=models --data-dir=data/processed/final
//	predict prepare --input=raw.csv --output=data/processed/final/dataset_final_20250303.csv
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/HatiCode/linecast/cmd/forecaster/logger"
)

// version is set via ldflags at build time
var version = "dev"

type rootOptions struct {
	logFormat string
	logLevel  string
}

func (o *rootOptions) logger(w io.Writer) *slog.Logger {
	return logger.NewWithWriter(w, o.logFormat, o.logLevel)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "predict",
		Short:         "Production-speed forecasts for packaging lines",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newPrepareCmd(opts))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
