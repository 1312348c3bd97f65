// Package router configures HTTP routes for the forecaster's HTTP API.
//
// Routes configured:
//   - GET /forecast?line=<name>&hours=<n> - Run a forecast and download it as CSV
//   - GET /forecast/data?line=<name>&hours=<n> - Run a forecast and return its records as JSON
//   - GET /forecast/latest?line=<name>&hours=<n> - Return the last stored forecast without running
//   - GET /healthz - Health check endpoint
//   - GET /metrics - Prometheus metrics endpoint
//
// line and hours default to the configured pipeline. Every route but /healthz
// requires basic auth when credentials are configured, and the two routes
// that run a forecast share a rate limit.
package router

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/HatiCode/linecast/cmd/forecaster/config"
	"github.com/HatiCode/linecast/pkg/artifacts"
	"github.com/HatiCode/linecast/pkg/features"
	"github.com/HatiCode/linecast/pkg/forecast"
	"github.com/HatiCode/linecast/pkg/history"
	"github.com/HatiCode/linecast/pkg/httpx"
	"github.com/HatiCode/linecast/pkg/series"
	"github.com/HatiCode/linecast/pkg/storage"
)

// Service runs and retrieves forecasts.
type Service interface {
	Run(ctx context.Context, line string, hours int) (*forecast.Result, error)
	Latest(ctx context.Context, line string, hours int) (*forecast.Result, bool, error)
	Ready(ctx context.Context) error
}

// Settings exposes the current pipeline settings and credentials.
type Settings interface {
	Pipeline() config.Pipeline
	Auth() config.Auth
}

// Options tunes the routes.
type Options struct {
	// RateLimit is the number of forecast runs per second; 0 disables the limit.
	RateLimit rate.Limit
	RateBurst int
}

// SetupRoutes configures HTTP endpoints for the forecaster.
func SetupRoutes(svc Service, settings Settings, opts Options, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	auth := httpx.BasicAuthFunc("linecast", func() (string, string) {
		a := settings.Auth()
		return a.User, a.Pass
	})
	limit := httpx.RateLimit(opts.RateLimit, opts.RateBurst)

	mux := http.NewServeMux()

	mux.Handle("GET /healthz", httpx.HealthHandlerWithCheck(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return svc.Ready(ctx)
	}))

	// Both run routes sit behind one limiter.
	runs := http.NewServeMux()
	runs.Handle("GET /forecast", handleForecastCSV(svc, settings, logger))
	runs.Handle("GET /forecast/data", handleForecastData(svc, settings, logger))
	limited := httpx.Chain(runs, auth, limit)
	mux.Handle("GET /forecast", limited)
	mux.Handle("GET /forecast/data", limited)
	mux.Handle("GET /forecast/latest", httpx.Chain(handleLatest(svc, settings, logger), auth))

	mux.Handle("GET /metrics", auth(promhttp.Handler()))

	return httpx.Chain(mux, httpx.RecoveryMiddleware(logger), httpx.LoggingMiddleware(logger))
}

// handleForecastCSV returns a handler for GET /forecast.
func handleForecastCSV(svc Service, settings Settings, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		line, hours, ok := params(w, r, settings.Pipeline())
		if !ok {
			return
		}

		res, err := svc.Run(r.Context(), line, hours)
		if err != nil {
			writeRunError(w, err, logger)
			return
		}

		var buf bytes.Buffer
		if err := storage.WriteCSV(&buf, res); err != nil {
			logger.Error("failed to encode forecast", "line", line, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}

		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", storage.KeyFor(res).FileName()))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(buf.Bytes()); err != nil {
			logger.Error("failed to write forecast", "line", line, "error", err)
		}
	}
}

// handleForecastData returns a handler for GET /forecast/data. The body is
// the CSV as a JSON array: [{"_time": ..., "predicted_<target>": ...}].
func handleForecastData(svc Service, settings Settings, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		line, hours, ok := params(w, r, settings.Pipeline())
		if !ok {
			return
		}

		res, err := svc.Run(r.Context(), line, hours)
		if err != nil {
			writeRunError(w, err, logger)
			return
		}

		column := "predicted_" + res.Target
		rows := make([]map[string]any, len(res.Records))
		for i, rec := range res.Records {
			rows[i] = map[string]any{
				"_time": rec.Timestamp.Format(time.RFC3339),
				column:  rec.Value,
			}
		}
		if err := httpx.WriteJSON(w, http.StatusOK, rows); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// handleLatest returns a handler for GET /forecast/latest.
func handleLatest(svc Service, settings Settings, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		line, hours, ok := params(w, r, settings.Pipeline())
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		res, found, err := svc.Latest(ctx, line, hours)
		if err != nil {
			logger.Error("failed to get forecast", "line", line, "hours", hours, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !found {
			httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("no forecast for line %q over %dh", line, hours))
			return
		}

		if err := httpx.WriteJSON(w, http.StatusOK, res); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// params reads line and hours, falling back to the pipeline defaults.
func params(w http.ResponseWriter, r *http.Request, p config.Pipeline) (string, int, bool) {
	q := r.URL.Query()

	line := q.Get("line")
	if line == "" {
		line = p.Line
	}
	if err := storage.ValidateLine(line); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err)
		return "", 0, false
	}

	hours := p.Hours
	if s := q.Get("hours"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid hours %q", s))
			return "", 0, false
		}
		hours = n
	}
	if hours < 1 || hours > p.MaxHours {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("hours must be between 1 and %d", p.MaxHours))
		return "", 0, false
	}
	return line, hours, true
}

// StatusFor maps a run error to an HTTP status.
func StatusFor(err error) int {
	var (
		notFound     *artifacts.ArtifactNotFoundError
		noTable      *history.NoTableError
		empty        *series.EmptyHistoryError
		insufficient *series.InsufficientHistoryError
		mismatch     *features.FeatureSchemaMismatchError
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &noTable):
		return http.StatusNotFound
	case errors.As(err, &empty), errors.As(err, &insufficient), errors.As(err, &mismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeRunError(w http.ResponseWriter, err error, logger *slog.Logger) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("forecast run failed", "error", err)
		httpx.WriteErrorMessage(w, status, "internal server error")
		return
	}
	httpx.WriteError(w, status, err)
}
