package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"chargegate/internal/filing/driver"
	filinghandler "chargegate/internal/filing/handler"
	filingmetrics "chargegate/internal/filing/metrics"
	"chargegate/internal/filing/notify"
	"chargegate/internal/filing/realtime"
	"chargegate/internal/filing/service"
	"chargegate/internal/filing/store"
	"chargegate/internal/platform/config"
	"chargegate/internal/platform/httpserver"
	"chargegate/internal/platform/logger"
	"chargegate/internal/platform/middleware"
	platformredis "chargegate/internal/platform/redis"
	httptransport "chargegate/internal/transport/http"
	id "chargegate/pkg/domain"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal/filing packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	records, closeStore, err := buildStore(cfg)
	if err != nil {
		log.Error("record store init failed", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	}

	var notifier service.Notifier = &notify.LogNotifier{Logger: log}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaNotifier, closeKafka, err := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		if err != nil {
			log.Error("kafka init failed", "error", err)
			os.Exit(1)
		}
		defer closeKafka()
		notifier = kafkaNotifier
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := filingmetrics.New(registry)

	synchronizer := realtime.NewSynchronizer(records, log)
	defer synchronizer.Close()
	if redisClient != nil {
		// Bridge record pushes to other processes. The zero tenant
		// watches every scope.
		cancel, err := synchronizer.Register(id.TenantID{}, realtime.NewRedisFanout(redisClient, log))
		if err != nil {
			log.Error("redis fanout registration failed", "error", err)
			os.Exit(1)
		}
		defer cancel()
		defer redisClient.Close()
	}

	orchestrator := service.NewOrchestrator(records,
		service.WithLogger(log),
		service.WithMetrics(metrics),
		service.WithNotifier(notifier),
		service.WithPortalSession(&driver.SimulatedSession{StepDelay: cfg.StepDelay}),
		service.WithEvidenceCapturer(&driver.SnapshotCapturer{}),
		service.WithRunTimeout(cfg.RunTimeout),
	)
	defer orchestrator.Close()

	validator := &middleware.HMACValidator{Key: []byte(cfg.JWTSigningKey)}
	handler := filinghandler.New(orchestrator, synchronizer, validator, log)
	router := httptransport.NewRouter(handler, registry)

	srv := httpserver.New(cfg.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting chargegate", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func buildStore(cfg config.Config) (store.RecordStore, func(), error) {
	if cfg.PostgresDSN == "" {
		return store.NewInMemory(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	pg := store.NewPostgres(db)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := pg.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return pg, func() { db.Close() }, nil
}
