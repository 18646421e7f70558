package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/servicedesk-io/sla-engine/internal/api"
	"github.com/servicedesk-io/sla-engine/internal/backend"
	"github.com/servicedesk-io/sla-engine/internal/bootstrap"
	"github.com/servicedesk-io/sla-engine/internal/config"
	"github.com/servicedesk-io/sla-engine/internal/database"
	"github.com/servicedesk-io/sla-engine/internal/metrics"
	"github.com/servicedesk-io/sla-engine/internal/notifications"
	"github.com/servicedesk-io/sla-engine/internal/repository"
	"github.com/servicedesk-io/sla-engine/internal/services/businesshours"
	"github.com/servicedesk-io/sla-engine/internal/services/pause"
	"github.com/servicedesk-io/sla-engine/internal/services/policy"
	"github.com/servicedesk-io/sla-engine/internal/services/scheduler"
	"github.com/servicedesk-io/sla-engine/internal/services/threshold"
	"github.com/servicedesk-io/sla-engine/internal/services/tracking"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine: scheduler, ops HTTP and metrics",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := config.Load(configPathFlag); err != nil {
		return err
	}
	cfg := config.Get()
	logger := log.Default()

	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.Open(cfg.Database.Driver, cfg.Database.GetDSN(),
		cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	repo := repository.NewSQLSlaRepository(db)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	engineMetrics := metrics.New(registry)

	calculator := businesshours.NewCalculator()
	resolver := policy.NewResolver(repo)
	dispatcher := notifications.NewLogDispatcher(logger)
	pauseSvc := pause.NewService(repo, pause.WithLogger(logger))
	trackingSvc := tracking.NewService(repo, calculator, resolver,
		tracking.WithLogger(logger),
		tracking.WithMetrics(engineMetrics),
		tracking.WithDispatcher(dispatcher),
	)
	evaluator := threshold.NewEngine(repo, calculator, resolver,
		threshold.WithLogger(logger),
		threshold.WithMetrics(engineMetrics),
		threshold.WithWorkers(cfg.Sla.ScanWorkers),
		threshold.WithDispatcher(dispatcher),
	)

	polling := backend.NewPollingBackend(trackingSvc, pauseSvc)
	var orchestrated backend.SlaBackend
	if needsOrchestrated(cfg) {
		redisClient := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.GetRedisAddr(),
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		defer redisClient.Close()
		workflow := backend.NewRedisWorkflowClient(redisClient, cfg.Redis.TimerStream, cfg.Redis.TimerStreamMaxLen)
		orchestrated = backend.NewOrchestratedBackend(trackingSvc, pauseSvc, evaluator, workflow, logger)
	}
	selector := backend.NewSelector(polling, orchestrated, cfg.Sla.TenantBackends, cfg.Sla.Backend)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Sla.BootstrapFile != "" {
		if err := bootstrap.LoadFile(ctx, repo, cfg.Sla.BootstrapFile, logger); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	api.NewRouter(router, selector, registry).SetupRoutes()

	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Printf("ops http listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("http server: %v", err)
			stop()
		}
	}()

	if cfg.Scheduler.Enabled {
		sched := scheduler.NewService(
			scheduler.DefaultJobs(cfg.Scheduler.ScanSchedule),
			scheduler.WithLogger(logger),
		)
		sched.RegisterHandler(scheduler.ThresholdScanJob, scheduler.ThresholdScanHandler(repo, evaluator))
		go func() {
			if err := sched.Run(ctx); err != nil {
				logger.Printf("scheduler: %v", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func needsOrchestrated(cfg *config.Config) bool {
	if cfg.Sla.Backend == backend.BackendOrchestrated {
		return true
	}
	for _, name := range cfg.Sla.TenantBackends {
		if name == backend.BackendOrchestrated {
			return true
		}
	}
	return false
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}
