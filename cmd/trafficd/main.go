// Command trafficd serves the traffic intersection engine over HTTP. It opens
// the configured ledger and blob store, seeds initial challans, optionally runs
// arbitration cycles on a timer and exposes Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"trafficcore/internal/adapters/httpapi"
	"trafficcore/internal/blob"
	"trafficcore/internal/core"
	"trafficcore/internal/documents"
	"trafficcore/pkg/domain"
)

// Environment variables read at startup. Storage and blob variables are
// documented in core.OpenLedger and blob.Open.
const (
	envAddr           = "TRAFFICCORE_HTTP_ADDR"
	envSeed           = "TRAFFICCORE_SEED"
	envSeedChallans   = "TRAFFICCORE_SEED_CHALLANS"
	envProbability    = "TRAFFICCORE_VIOLATION_PROBABILITY"
	envLogLevel       = "TRAFFICCORE_LOG_LEVEL"
	envCycleInterval  = "TRAFFICCORE_CYCLE_INTERVAL"
	defaultAddr       = ":8080"
	shutdownTimeout   = 15 * time.Second
	readHeaderTimeout = 5 * time.Second
)

var exitFunc = os.Exit

type config struct {
	Addr          string
	Seed          uint64
	SeedChallans  bool
	Probability   float64
	LogLevel      slog.Level
	CycleInterval time.Duration
}

func main() {
	cfg, err := loadConfig(os.Getenv, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitFunc(2)
		return
	}
	logger := newLogger(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("trafficd stopped", "error", err)
		exitFunc(1)
	}
}

func loadConfig(getenv func(string) string, args []string) (config, error) {
	cfg := config{
		Addr:         defaultAddr,
		Seed:         uint64(time.Now().UnixNano()),
		SeedChallans: true,
		Probability:  core.DefaultViolationProbability,
		LogLevel:     slog.LevelInfo,
	}
	if v := getenv(envAddr); v != "" {
		cfg.Addr = v
	}
	if v := getenv(envSeed); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return config{}, fmt.Errorf("%s: %w", envSeed, err)
		}
		cfg.Seed = seed
	}
	if v := getenv(envSeedChallans); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return config{}, fmt.Errorf("%s: %w", envSeedChallans, err)
		}
		cfg.SeedChallans = b
	}
	if v := getenv(envProbability); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil || p < 0 || p > 1 {
			return config{}, fmt.Errorf("%s must be a probability in [0,1], got %q", envProbability, v)
		}
		cfg.Probability = p
	}
	if v := getenv(envLogLevel); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(strings.ToUpper(v))); err != nil {
			return config{}, fmt.Errorf("%s: %w", envLogLevel, err)
		}
	}
	if v := getenv(envCycleInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return config{}, fmt.Errorf("%s must be a non-negative duration, got %q", envCycleInterval, v)
		}
		cfg.CycleInterval = d
	}

	fs := flag.NewFlagSet("trafficd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	fs.DurationVar(&cfg.CycleInterval, "cycle-interval", cfg.CycleInterval, "run a cycle for every area at this interval (0 disables)")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

type documentAudit struct{ logger *slog.Logger }

func (a documentAudit) Record(ctx context.Context, e documents.AuditEntry) {
	level := slog.LevelDebug
	if e.Status == documents.JobStatusFailed {
		level = slog.LevelWarn
	}
	a.logger.Log(ctx, level, "document job", "job_id", e.JobID, "action", e.Action,
		"challan_id", e.ChallanID, "kind", e.Kind, "status", e.Status, "error", e.Error)
}

func run(ctx context.Context, cfg config, logger *slog.Logger) error {
	ledger, driver, err := core.OpenLedger(ctx)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer func() { _ = ledger.Close() }()

	store, err := blob.Open(ctx)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := core.NewPrometheusMetricsRecorder(registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	// source and detector lock independently, so each owns its stream
	svc := core.NewService(ledger,
		core.WithLogger(logger),
		core.WithMetricsRecorder(metrics),
		core.WithAuditRecorder(core.LoggerAuditRecorder{Logger: logger.With("component", "audit")}),
		core.WithSampleSource(core.NewSimulatedSource(core.NewRand(cfg.Seed))),
		core.WithViolationDetector(core.NewViolationDetector(core.NewRand(cfg.Seed+1), core.WithViolationProbability(cfg.Probability))),
	)
	logger.Info("trafficd starting", "storage", driver, "blob", store.Driver(), "addr", cfg.Addr, "seed", cfg.Seed)

	if cfg.SeedChallans {
		if _, err := svc.SeedChallans(ctx); err != nil {
			return fmt.Errorf("seed challans: %w", err)
		}
	}

	worker := documents.NewWorker(svc, store, documents.WithAuditLogger(documentAudit{logger: logger}))
	worker.Start()

	mux := http.NewServeMux()
	mux.Handle("/api/", httpapi.NewHandler(svc, worker))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok\n")
	})
	server := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: readHeaderTimeout}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.CycleInterval > 0 {
		g.Go(func() error { return runCycles(gctx, svc, cfg.CycleInterval, logger) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := worker.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("document worker: %w", err))
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

type cycler interface {
	Areas() []domain.Area
	RunCycle(ctx context.Context, area string) (core.CycleResult, error)
}

// runCycles drives one cycle per area every interval until ctx is done. A
// failed cycle is logged and does not stop the loop.
func runCycles(ctx context.Context, svc cycler, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, area := range svc.Areas() {
				if _, err := svc.RunCycle(ctx, area.Name); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					logger.Error("cycle failed", "area", area.Name, "error", err)
				}
			}
		}
	}
}
