package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fractal-lba/adaptive/internal/config"
	"github.com/fractal-lba/adaptive/internal/engine"
	"github.com/fractal-lba/adaptive/internal/events"
	"github.com/fractal-lba/adaptive/internal/journal"
	"github.com/fractal-lba/adaptive/internal/metrics"
	"github.com/fractal-lba/adaptive/internal/snapshot"
	"github.com/fractal-lba/adaptive/internal/strategy"
	"github.com/fractal-lba/adaptive/pkg/logger"
	"github.com/fractal-lba/adaptive/pkg/otel"
)

func main() {
	configPath := flag.String("config", os.Getenv("ADAPTIVE_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewWithLevel(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server exited", "error", err)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if cfg.Tracing.Enabled {
		tcfg := otel.DefaultConfig(cfg.Tracing.ServiceName)
		tcfg.Environment = cfg.Tracing.Environment
		tcfg.CollectorEndpoint = cfg.Tracing.Endpoint
		tcfg.CollectorInsecure = cfg.Tracing.Insecure
		tcfg.SamplingRate = cfg.Tracing.SamplingRate
		tp, err := otel.InitTracer(ctx, tcfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := otel.Shutdown(context.Background(), tp); err != nil {
				log.Warn("tracer shutdown failed", "error", err)
			}
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	bus := events.NewBus(cfg.Server.EventBuffer)
	defer bus.Close()
	bus.Subscribe(func(ev events.Event) {
		log.Debug("event", "kind", ev.Kind, "time", ev.Time)
	})

	eng, err := engine.New(cfg.Engine,
		engine.WithLogger(log.With("component", "engine")),
		engine.WithMetrics(m),
		engine.WithPublisher(bus),
	)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	eng.Executors().SetFallback(strategy.Acknowledge())

	store, err := snapshot.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	if store != nil {
		defer store.Close()
		snap, err := store.Load(ctx, cfg.Store.Name)
		switch {
		case errors.Is(err, snapshot.ErrSnapshotNotFound):
			log.Info("no snapshot found, starting fresh", "name", cfg.Store.Name)
		case err != nil:
			return fmt.Errorf("load snapshot: %w", err)
		default:
			if err := eng.Restore(snap); err != nil {
				return fmt.Errorf("restore snapshot: %w", err)
			}
			log.Info("engine restored", "name", cfg.Store.Name, "taken_at", snap.TakenAt, "states", len(snap.QTable))
		}
	}

	var jrnl *journal.Journal
	if cfg.Journal.Enabled {
		jrnl, err = journal.Open(cfg.Journal.Dir)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer func() {
			if err := jrnl.Close(); err != nil {
				log.Warn("error closing journal", "error", err)
			}
		}()
	}

	srv := &Server{
		engine:       eng,
		store:        store,
		snapshotName: cfg.Store.Name,
		journal:      jrnl,
		metrics:      m,
		gatherer:     reg,
		limiter:      rate.NewLimiter(rate.Limit(cfg.Server.TokenRate), cfg.Server.TokenRate*2),
		log:          log.With("component", "http"),
		maxBodyBytes: cfg.Server.MaxBodyBytes,
		auth:         cfg.Server.Auth,
	}
	srv.metricsAuth.enabled = cfg.Server.MetricsUser != ""
	srv.metricsAuth.user = cfg.Server.MetricsUser
	srv.metricsAuth.password = cfg.Server.MetricsPass

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	eng.Start(gctx)

	g.Go(func() error {
		log.Info("starting server", "port", cfg.Server.Port, "policy", eng.Policy(), "store", cfg.Store.Backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return srv.snapshotLoop(gctx, cfg.Server.SnapshotInterval)
	})

	err = g.Wait()
	eng.Stop()
	if serr := srv.saveSnapshot(context.Background()); serr != nil {
		log.Error("final snapshot failed", "error", serr)
	}
	if dropped := bus.Dropped(); dropped > 0 {
		log.Warn("events dropped", "count", dropped)
	}
	return err
}
