// Command forecaster implements the linecast forecast service.
//
// The forecaster produces multi-step production-speed forecasts for packaging
// lines from trained artifacts and prepared history tables. It:
//  1. Runs a forecast for the default line and horizon at fixed times of day
//  2. Runs forecasts on demand over HTTP
//  3. Writes every result as forecast_{line}_{hours}h_{date}.csv and to the serving store
//
// The forecaster serves an HTTP API on port 8080 (configurable) providing:
//   - GET /forecast?line=<name>&hours=<n> - Run a forecast, download CSV
//   - GET /forecast/data?line=<name>&hours=<n> - Run a forecast, JSON records
//   - GET /forecast/latest?line=<name>&hours=<n> - Last stored forecast
//   - GET /healthz - Health check endpoint
//   - GET /metrics - Prometheus metrics endpoint
//
// Usage:
//
//	forecaster \
//	  -line=L1 \
//	  -hours=12 \
//	  -models-dir=/var/lib/linecast/models \
//	  -data-dir=/var/lib/linecast/final \
//	  -output-dir=/var/lib/linecast/predictions \
//	  -config-file=/etc/linecast/config.yaml
//
// Environment variables:
//
//	LINE          - Default production line (required)
//	HORIZON_HOURS - Default forecast horizon (default: 12)
//	MODELS_DIR    - Trained artifact directory (default: models)
//	DATA_DIR      - Prepared history directory (default: data/processed/final)
//	OUTPUT_DIR    - Forecast CSV directory (default: data/predictions)
//	SCHEDULE      - Daily run times (default: 07:30,19:30)
//	STORAGE       - Serving store: memory, redis (default: memory)
//	HISTORY       - History source: csv, postgres (default: csv)
//	AUTH_USER     - Basic auth user (default: disabled)
//	LOG_LEVEL     - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT    - Logging format: text, json (default: text)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/HatiCode/linecast/cmd/forecaster/config"
	"github.com/HatiCode/linecast/cmd/forecaster/logger"
	"github.com/HatiCode/linecast/cmd/forecaster/metrics"
	"github.com/HatiCode/linecast/cmd/forecaster/router"
	"github.com/HatiCode/linecast/pkg/history"
	"github.com/HatiCode/linecast/pkg/httpx"
	"github.com/HatiCode/linecast/pkg/otel"
	"github.com/HatiCode/linecast/pkg/storage"
	"github.com/HatiCode/linecast/pkg/tls"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("forecaster failed", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func run(cfg *config.Config, log *slog.Logger) error {
	log.Info("starting linecast forecaster",
		"version", version,
		"line", cfg.Pipeline.Line,
		"hours", cfg.Pipeline.Hours,
		"storage", cfg.Storage,
		"history", cfg.History,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelCfg := otel.DefaultConfig("linecast-forecaster")
	otelCfg.ServiceVersion = cfg.ServiceVersion
	otelCfg.CollectorEndpoint = cfg.OTLPEndpoint
	otelCfg.CollectorInsecure = cfg.OTLPInsecure
	otelCfg.SamplingRate = cfg.TraceSampling
	tp, err := otel.InitTracer(ctx, otelCfg)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otel.Shutdown(shutdownCtx, tp); err != nil {
			log.Error("failed to shut down tracer", "error", err)
		}
	}()

	var ready []func(context.Context) error

	serving, closeServing, err := newServingStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeServing()
	if pinger, ok := serving.(interface{ Ping(context.Context) error }); ok {
		ready = append(ready, pinger.Ping)
	}

	sources := SourceFunc(CSVSources)
	if cfg.History == "postgres" {
		pg, err := history.NewPostgresSource(ctx, cfg.PostgresDSN, cfg.PostgresTable, cfg.Pipeline.MaxRows)
		if err != nil {
			return err
		}
		defer pg.Close()
		sources = FixedSource(pg)
		ready = append(ready, pg.Ping)
	}

	client, err := httpx.NewClient(cfg.RemoteTLS, cfg.RemoteTimeout)
	if err != nil {
		return fmt.Errorf("remote model client: %w", err)
	}

	live := config.NewLive(cfg.Pipeline, cfg.Auth)
	m := metrics.New(prometheus.DefaultRegisterer)

	f, err := New(Options{
		Settings:   live,
		Sources:    sources,
		Serving:    serving,
		Client:     client,
		CacheSize:  cfg.ArtifactCache,
		RunTimeout: cfg.RunTimeout,
		Logger:     log,
		Metrics:    m,
		Ready:      ready,
	})
	if err != nil {
		return err
	}

	if cfg.ConfigFile != "" {
		go func() {
			err := config.Watch(ctx, cfg.ConfigFile, log, func(file *config.File) {
				p, a := cfg.Merge(file)
				if err := live.Update(p, a); err != nil {
					m.RecordError("config", "invalid_reload")
					log.Error("rejected config reload", "error", err)
				}
			})
			if err != nil {
				log.Error("config watcher stopped", "error", err)
			}
		}()
	}

	scheduler := NewScheduler(live, func(ctx context.Context) error {
		_, err := f.Run(ctx, "", 0)
		return err
	}, log)
	go func() {
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("scheduler stopped", "error", err)
		}
	}()

	handler := router.SetupRoutes(f, live, router.Options{
		RateLimit: rate.Limit(cfg.RateLimit),
		RateBurst: cfg.RateBurst,
	}, log)
	httpServer := httpx.NewServer(cfg.Listen, handler, cfg.RunTimeout+10*time.Second, log)

	serverErr := make(chan error, 1)
	go func() {
		if cfg.TLS.Enabled {
			tlsConfig, err := tls.NewServerTLSConfig(cfg.TLS)
			if err != nil {
				serverErr <- fmt.Errorf("server tls: %w", err)
				return
			}
			httpServer.SetTLSConfig(tlsConfig)
			serverErr <- httpServer.StartTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		serverErr <- httpServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	case runErr = <-serverErr:
	}

	log.Info("shutting down")
	cancel()

	if err := httpServer.Stop(10 * time.Second); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// newServingStore creates the store answering /forecast/latest.
func newServingStore(cfg *config.Config, log *slog.Logger) (storage.Store, func(), error) {
	switch cfg.Storage {
	case "redis":
		rs, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.ResultTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis store: %w", err)
		}
		log.Info("using redis store", "addr", cfg.RedisAddr, "db", cfg.RedisDB, "ttl", cfg.ResultTTL)
		return rs, func() {
			if err := rs.Close(); err != nil {
				log.Error("failed to close redis store", "error", err)
			}
		}, nil
	default:
		ms := storage.NewMemoryStore()
		if cfg.ResultTTL > 0 {
			ms = storage.NewMemoryStoreWithTTL(cfg.ResultTTL, 10*time.Minute)
		}
		log.Info("using memory store", "ttl", cfg.ResultTTL)
		return ms, ms.Stop, nil
	}
}
