package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sakura/internal/analytics"
	"sakura/internal/bot"
	"sakura/internal/cache"
	"sakura/internal/config"
	"sakura/internal/gate"
	"sakura/internal/modules/audit"
	"sakura/internal/modules/check"
	"sakura/internal/modules/recycle"
	"sakura/internal/modules/scan"
	"sakura/internal/modules/settings"
	"sakura/internal/modules/validation"
	"sakura/internal/permissions"
	"sakura/internal/scheduler"
	"sakura/internal/storage"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := storage.New(startCtx, cfg.DatabaseURL, storage.PoolOptions{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(startCtx); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}
	startCancel()

	entityCache := cache.New()
	evaluator := permissions.NewEvaluator(entityCache)
	scanGate := gate.New(entityCache)

	session, err := bot.NewSession(cfg)
	if err != nil {
		logger.Fatal("session init failed", zap.Error(err))
	}
	rest := bot.NewREST(session)

	tracker := scan.NewTracker(scanGate, rest, store, logger, cfg.Jobs.MessageFetchLimit)
	auditLogger := audit.NewLogger(store, logger)
	analyticsEngine := analytics.New(entityCache, store)

	validationJob := validation.NewJob(store, rest, logger, cfg.Jobs.ValidationBatchSize, cfg.Jobs.ValidationConcurrency)
	recycleJob := recycle.NewJob(entityCache, scanGate, store, tracker, logger, recycle.Options{
		RetentionDays: cfg.Jobs.RetentionDays,
		ChannelDelay:  cfg.Jobs.RecycleChannelDelay(),
		Concurrency:   cfg.Jobs.RecycleConcurrency,
	})
	orchestrator := check.NewOrchestrator(entityCache, scanGate, evaluator, store, rest, auditLogger, logger)
	settingsSvc := settings.NewService(entityCache, scanGate, evaluator, store, tracker, logger, cfg.Jobs.BackfillChannelDelay())

	botSvc := bot.New(cfg, logger, session, bot.Deps{
		Store:     store,
		Cache:     entityCache,
		Perms:     evaluator,
		Tracker:   tracker,
		Audit:     auditLogger,
		Analytics: analyticsEngine,
		Checks:    orchestrator,
		Settings:  settingsSvc,
	})
	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started")

	jobs := scheduler.New(logger, cfg.Jobs.StartupDelay())
	jobs.Add(scheduler.Job{Name: "validation", Interval: cfg.Jobs.ValidationInterval(), Run: validationJob.Run})
	jobs.Add(scheduler.Job{Name: "recycle", Interval: cfg.Jobs.RecycleInterval(), Run: recycleJob.Run})

	jobsCtx, stopJobs := context.WithCancel(context.Background())
	jobsDone := make(chan struct{})
	go func() {
		defer close(jobsDone)
		if err := jobs.Run(jobsCtx); err != nil {
			logger.Error("scheduler stopped", zap.Error(err))
		}
	}()

	var server *http.Server
	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("database unavailable"))
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		server = &http.Server{Addr: cfg.Health.Addr, Handler: mux}
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopJobs()
	select {
	case <-jobsDone:
	case <-ctx.Done():
		logger.Warn("jobs did not stop in time")
	}
	if server != nil {
		_ = server.Shutdown(ctx)
	}
	botSvc.Close()
}
