// main wires high-level dependencies, exposes the HTTP router, and keeps
// the server lifecycle small. Business logic lives in the internal
// service packages.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"caltrack/internal/audit"
	calstore "caltrack/internal/calibration/store"
	eqstore "caltrack/internal/equipment/store"
	invstore "caltrack/internal/investigation/store"
	"caltrack/internal/jwtauth"
	"caltrack/internal/lifecycle/handler"
	"caltrack/internal/lifecycle/metrics"
	"caltrack/internal/lifecycle/service"
	"caltrack/internal/notification"
	"caltrack/internal/platform/config"
	"caltrack/internal/platform/httpserver"
	"caltrack/internal/platform/logger"
	platformredis "caltrack/internal/platform/redis"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	ctx := context.Background()

	equipment, tasks, pm, investigations, err := stores(cfg)
	if err != nil {
		log.Error("storage init failed", "error", err)
		os.Exit(1)
	}

	sink, closeSink, err := notificationSink(ctx, cfg)
	if err != nil {
		log.Error("notification sink init failed", "error", err)
		os.Exit(1)
	}
	defer closeSink()

	trail := audit.NewInMemoryStore()
	inbox := make(chan audit.Event, 256)
	workerCtx, stopWorker := context.WithCancel(ctx)
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- audit.NewWorker(trail, inbox).Run(workerCtx)
	}()

	jwtService := jwtauth.New(cfg.JWTSigningKey, "caltrack", "caltrack-api")

	svc := service.New(equipment, tasks, pm, investigations,
		service.WithLogger(log),
		service.WithAuditPublisher(audit.NewPublisher(audit.NewQueue(inbox, trail))),
		service.WithMetrics(metrics.New()),
		service.WithNotificationSink(sink),
		service.WithDueWindowDays(cfg.DueWindowDays),
		service.WithIntervalPolicy(cfg.IntervalPolicy),
	)

	router := chi.NewRouter()
	handler.New(svc, log, jwtService).Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting caltrack", "addr", cfg.Addr, "interval_policy", string(cfg.IntervalPolicy))
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}

	// Stop the audit worker last so in-flight events drain to the trail.
	stopWorker()
	if err := <-workerDone; err != nil && !errors.Is(err, context.Canceled) {
		log.Error("audit worker stopped with error", "error", err)
	}
}

// stores returns Postgres-backed stores when a database is configured and
// in-memory stores otherwise.
func stores(cfg config.Server) (service.EquipmentStore, service.TaskStore, service.PMStore, service.InvestigationStore, error) {
	if cfg.DatabaseURL == "" {
		return eqstore.NewInMemory(), calstore.NewInMemoryTaskStore(),
			calstore.NewInMemoryPMStore(), invstore.NewInMemory(), nil
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, nil, nil, nil, err
	}
	return eqstore.NewPostgres(db), calstore.NewPostgresTaskStore(db),
		calstore.NewPostgresPMStore(db), invstore.NewPostgres(db), nil
}

// notificationSink picks the configured channel: Kafka when brokers are
// set, a Redis stream when only Redis is, otherwise a no-op.
func notificationSink(ctx context.Context, cfg config.Server) (notification.Sink, func(), error) {
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := notification.NewKafkaSink(ctx, cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		return sink, sink.Close, nil
	}
	if cfg.Redis.URL != "" {
		client, err := platformredis.New(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return notification.NewStreamSink(client), func() { _ = client.Close() }, nil
	}
	return notification.Noop{}, func() {}, nil
}
