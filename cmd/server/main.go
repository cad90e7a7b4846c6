package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	allochandler "organlink/internal/allocation/handler"
	allocmetrics "organlink/internal/allocation/metrics"
	"organlink/internal/allocation/service"
	"organlink/internal/allocation/store/seed"
	jwttoken "organlink/internal/jwt_token"
	"organlink/internal/platform/config"
	"organlink/internal/platform/httpserver"
	"organlink/internal/platform/logger"
	httpmetrics "organlink/internal/platform/metrics"
	"organlink/pkg/platform/httputil"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal/allocation.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "organlink:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, syncLog, err := logger.New(cfg.IsProduction(), os.Getenv("LOG_LEVEL"))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = syncLog() }()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps := &closers{}
	defer deps.closeAll(log)

	store, err := openStore(ctx, cfg.Store, deps)
	if err != nil {
		return err
	}
	if cfg.Server.SeedDemoData || cfg.Store.Driver == config.StoreMemory {
		if _, err := seed.Demo(ctx, store, time.Now().UTC()); err != nil {
			return err
		}
		log.Info("demo users seeded", "clinician_id", seed.DemoClinician.String(), "donor_id", seed.DemoDonor.String())
	}

	metrics := allocmetrics.New(reg)
	redisClient, err := openRedis(cfg.Redis, deps)
	if err != nil {
		return err
	}
	distanceProvider := buildDistance(cfg.Distance, redisClient, log)
	sink, err := buildAnchor(ctx, cfg.Anchor, deps)
	if err != nil {
		return err
	}
	notifier, runNotifier, err := buildNotifier(ctx, cfg.Kafka, log, metrics, deps)
	if err != nil {
		return err
	}
	// Registered after deps.closeAll, so it runs first: the queue drains
	// before the Kafka client closes, and after srv.Shutdown has returned.
	stopNotifier := startNotifier(runNotifier, log)
	defer stopNotifier()

	svc := service.New(store,
		service.WithLogger(log),
		service.WithMetrics(metrics),
		service.WithDistanceProvider(distanceProvider),
		service.WithNotifier(notifier),
		service.WithAuditSink(sink, cfg.Anchor.Timeout),
		service.WithLockTimeout(cfg.Allocation.LockTimeout),
		service.WithCandidateConcurrency(cfg.Allocation.CandidateConcurrency),
		service.WithDistanceTimeout(cfg.Allocation.DistanceTimeout),
	)

	jwtService := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience)
	handler := allochandler.New(svc, log, jwttoken.NewJWTServiceAdapter(jwtService),
		allochandler.WithMetrics(httpmetrics.New(reg)),
		allochandler.WithAdminToken(cfg.Server.AdminToken),
		allochandler.WithRequestTimeout(cfg.Server.RequestTimeout),
		allochandler.WithRateLimit(buildRateLimit(cfg.RateLimit, redisClient, log)),
	)

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	handler.Register(r)

	srv := httpserver.New(cfg.Server.Addr, r)
	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting organlink", "addr", cfg.Server.Addr, "store", cfg.Store.Driver, "anchor", cfg.Anchor.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
