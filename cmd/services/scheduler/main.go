package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tradeflow-hq/tradeflow/internal/credential"
	"github.com/tradeflow-hq/tradeflow/internal/migration"
	"github.com/tradeflow-hq/tradeflow/internal/node/runtime"
	"github.com/tradeflow-hq/tradeflow/internal/node/runtime/nodes"
	"github.com/tradeflow-hq/tradeflow/internal/notification"
	"github.com/tradeflow-hq/tradeflow/internal/platform/cache"
	"github.com/tradeflow-hq/tradeflow/internal/platform/config"
	"github.com/tradeflow-hq/tradeflow/internal/platform/database"
	"github.com/tradeflow-hq/tradeflow/internal/platform/health"
	"github.com/tradeflow-hq/tradeflow/internal/platform/logger"
	"github.com/tradeflow-hq/tradeflow/internal/platform/messaging/kafka"
	"github.com/tradeflow-hq/tradeflow/internal/platform/metrics"
	"github.com/tradeflow-hq/tradeflow/internal/platform/telemetry"
	runpostgres "github.com/tradeflow-hq/tradeflow/internal/run/adapters/repository/postgres"
	runstore "github.com/tradeflow-hq/tradeflow/internal/run/adapters/store"
	runservice "github.com/tradeflow-hq/tradeflow/internal/run/app/service"
	schedservice "github.com/tradeflow-hq/tradeflow/internal/schedule/app/service"
	webhookpostgres "github.com/tradeflow-hq/tradeflow/internal/webhook/adapters/repository/postgres"
	webhookservice "github.com/tradeflow-hq/tradeflow/internal/webhook/app/service"
	workflowpostgres "github.com/tradeflow-hq/tradeflow/internal/workflow/adapters/repository/postgres"
	"github.com/tradeflow-hq/tradeflow/internal/workflow/domain/model"
)

func main() {
	cfg, err := config.Load("scheduler")
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log := logger.New(cfg.Logger)
	log.Info("Starting Scheduler Service", "version", cfg.Version)

	tel, err := telemetry.New(telemetry.Config{
		ServiceName:    cfg.Service.Name,
		JaegerEndpoint: cfg.Telemetry.JaegerEndpoint,
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
		TracingEnabled: cfg.Telemetry.TracingEnabled,
	})
	if err != nil {
		log.Fatal("failed to initialize telemetry", "error", err)
	}
	defer tel.Close()
	m := metrics.New("tradeflow", tel.Registry())

	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to database", "error", err)
	}
	defer db.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), time.Minute)
	err = migration.New(db, log).Up(migrateCtx)
	cancelMigrate()
	if err != nil {
		log.Fatal("failed to apply migrations", "error", err)
	}

	redisClient, err := cache.NewClient(cfg.Redis)
	if err != nil {
		log.Fatal("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	publisher, err := kafka.NewEventPublisher(&kafka.Config{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.EventsTopic,
	})
	if err != nil {
		log.Fatal("failed to create event publisher", "error", err)
	}
	defer publisher.Close()

	workflows := workflowpostgres.NewWorkflowRepository(db)
	runs := runpostgres.NewRunRepository(db)
	audit := runpostgres.NewAuditRepository(db)
	nodeStore := runstore.NewNodeStore(redisClient, cfg.Engine.NodeStateTTL)
	creds := credential.NewStore(db, os.Getenv("CREDENTIAL_MASTER_SECRET"))
	webhooks := webhookpostgres.NewWebhookRepository(db)
	notify := notification.NewRedisSink(redisClient, "notifications")

	dispatcher := webhookservice.NewDispatcher(webhookservice.Params{
		Repo:           webhooks,
		Version:        cfg.Version,
		DefaultTimeout: cfg.Webhook.Timeout,
		DefaultRetries: cfg.Webhook.RetryAttempts,
		Logger:         log,
		Metrics:        m,
		Notify:         notify,
		Events:         publisher,
	})

	registry, err := buildRegistry(dispatcher)
	if err != nil {
		log.Fatal("failed to build executor registry", "error", err)
	}

	launcher := runservice.New(runservice.Params{
		Runs:        runs,
		Audit:       audit,
		NodeStore:   nodeStore,
		States:      workflows,
		Registry:    registry,
		Credentials: creds,
		Config:      cfg.Engine,
		Logger:      log,
		Metrics:     m,
		Tracer:      tel.Tracer(),
		Events:      publisher,
	})

	scheduler := schedservice.New(launcher, cfg.Engine.WatchdogTimeout, log, m, publisher)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	err = scheduler.Start(startCtx, workflows)
	cancelStart()
	if err != nil {
		log.Fatal("failed to start scheduler", "error", err)
	}
	log.Info("scheduler started", "registered", len(scheduler.List()))

	// Expose Prometheus metrics and health probes.
	probes := health.NewHandler(cfg.Service.Name, cfg.Version)
	probes.AddProbe("postgres", func(ctx context.Context) error { return db.PingContext(ctx) })
	probes.AddProbe("redis", func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })

	mux := http.NewServeMux()
	mux.Handle("/metrics", tel.MetricsHandler())
	mux.HandleFunc("/healthz", probes.Liveness())
	mux.HandleFunc("/readyz", probes.Readiness())
	opsSrv := &http.Server{Addr: ":9090", Handler: mux}
	go func() {
		if err := opsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("ops server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received shutdown signal", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = opsSrv.Shutdown(shutdownCtx)
	scheduler.Shutdown()

	log.Info("Scheduler Service stopped gracefully")
}

// buildRegistry wires the built-in executors. Integration categories
// (DataSource, Broker, Communication) register their plug-ins here as
// they land.
func buildRegistry(dispatcher *webhookservice.Dispatcher) (*runtime.Registry, error) {
	registry := runtime.NewRegistry()
	httpExec := nodes.NewHTTPExecutor(nil)

	register := []struct {
		category model.Category
		executor runtime.Executor
	}{
		{model.CategoryControlFlow, nodes.NewControlFlowExecutor()},
		{model.CategoryIndicator, nodes.NewIndicatorExecutor()},
		{model.CategoryHTTP, httpExec},
		{model.CategoryUtility, nodes.NewUtilityExecutor(httpExec, dispatcher)},
	}
	for _, r := range register {
		if err := registry.Register(r.category, r.executor); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
