package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"PaceMail/internal/api"
	"PaceMail/internal/config"
	"PaceMail/internal/db"
	"PaceMail/internal/email"
	"PaceMail/internal/metrics"
	"PaceMail/internal/queue"
	"PaceMail/internal/ratelimit"
	"PaceMail/internal/scheduler"
	"PaceMail/internal/worker"
)

func main() {

	// ------------------------------------------------
	// Logger
	// ------------------------------------------------
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// ------------------------------------------------
	// Config
	// ------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ------------------------------------------------
	// Root Context + Shutdown
	// ------------------------------------------------
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	// ------------------------------------------------
	// Database
	// ------------------------------------------------
	store, err := db.New(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		logger.Fatal("database migration failed", zap.Error(err))
	}

	// ------------------------------------------------
	// Redis
	// ------------------------------------------------
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis connection failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}

	// ------------------------------------------------
	// Metrics
	// ------------------------------------------------
	metrics.Init()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Delayed Job Queue
	// ------------------------------------------------
	jobQueue := queue.New(rdb, queue.Options{
		Prefix:      cfg.QueuePrefix,
		MaxAttempts: cfg.RetryAttempts,
		Backoff:     cfg.RetryBackoff,
		Lease:       cfg.QueueLease,
	})

	// ------------------------------------------------
	// Email Sender
	// ------------------------------------------------
	sender := &email.Sender{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		Timeout:  cfg.SMTPTimeout,
	}

	// ------------------------------------------------
	// Rate Limiters
	// ------------------------------------------------
	hourly := ratelimit.New(rdb, cfg.HourlyLimit)
	throughput := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)

	// ------------------------------------------------
	// Worker Pool
	// ------------------------------------------------
	var wg sync.WaitGroup

	pool := worker.NewPool(
		worker.Config{
			Workers:      cfg.WorkerCount,
			Throttle:     cfg.SendThrottle,
			PollInterval: cfg.QueuePollInterval,
			Throughput:   throughput,
		},
		jobQueue,
		store,
		hourly,
		sender,
		logger,
	)
	pool.Start(ctx, &wg)

	// ------------------------------------------------
	// HTTP API Server
	// ------------------------------------------------
	apiHandler := &api.Handler{
		Scheduler:  scheduler.New(store, jobQueue, logger),
		Log:        logger,
		CSVMaxRows: cfg.CSVMaxRows,
	}

	apiServer := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: apiHandler.Routes(),
	}

	go func() {
		logger.Info("api server started", zap.String("port", cfg.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Wait for shutdown
	// ------------------------------------------------
	<-ctx.Done()

	logger.Info("shutting down services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// Stop accepting new batches
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}

	// Wait for in-flight sends to finish
	wg.Wait()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}

	logger.Info("application shutdown complete")
}
