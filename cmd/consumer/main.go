package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/topichub/delivery-engine/internal/api"
	"github.com/topichub/delivery-engine/internal/config"
	"github.com/topichub/delivery-engine/internal/consumer"
	"github.com/topichub/delivery-engine/internal/db"
	"github.com/topichub/delivery-engine/internal/directory"
	"github.com/topichub/delivery-engine/internal/job"
	"github.com/topichub/delivery-engine/internal/metrics"
	"github.com/topichub/delivery-engine/internal/provider"
	"github.com/topichub/delivery-engine/internal/ratelimiter"
	"github.com/topichub/delivery-engine/internal/repository"
	"github.com/topichub/delivery-engine/internal/transport"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	subs := repository.NewPgSubscriptionStore(pool)
	users := repository.NewPgUserStore(pool)
	heartbeats := repository.NewPgHeartbeatStore(pool)

	dir := directory.New(subs, cfg.CacheTTL, cfg.CacheMaxTopics, logger)
	decoder := job.NewDecoder(dir, job.NewProtocolRenderer(), cfg.UseSubscriberCache, logger)
	tr := transport.NewPgTransport(pool, cfg.VisibilityTimeout)
	deliverer := provider.NewWebhookDeliverer(cfg.EndpointTimeout)
	limiter := ratelimiter.New(cfg.RateLimitPerProto)

	c := consumer.New(cfg, tr, decoder, users, heartbeats, deliverer, limiter,
		m.ConsumerHooks(), logger)
	if err := c.Initialize(ctx); err != nil {
		logger.Fatal("failed to initialize consumer", zap.Error(err))
	}

	// ---- partition pollers ----
	// One goroutine per partition; cancelled on shutdown signal.
	pollCtx, cancelPollers := context.WithCancel(ctx)
	defer cancelPollers()

	var pollers sync.WaitGroup
	for p := 0; p < cfg.Partitions; p++ {
		p := p
		pollers.Add(1)
		go func() {
			defer pollers.Done()
			pollPartition(pollCtx, c, m, p, cfg.IdlePollInterval, logger)
		}()
	}

	// ---- ops HTTP server ----
	router := api.NewRouter(c, reg, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("ops server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("ops server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown error", zap.Error(err))
	}

	// 2. Stop dequeuing new jobs.
	cancelPollers()
	pollers.Wait()

	// 3. Stop the worker pools. In-flight jobs stay unacknowledged and come
	// back via the visibility timeout after restart.
	c.Shutdown()

	logger.Info("consumer stopped cleanly")
}

// pollPartition drives one partition's consume loop until ctx is cancelled.
// An idle pass sleeps before polling again; a productive pass polls
// immediately since more jobs are likely waiting.
func pollPartition(
	ctx context.Context,
	c *consumer.Consumer,
	m *metrics.Metrics,
	partition int,
	idleInterval time.Duration,
	logger *zap.Logger,
) {
	log := logger.With(zap.Int("partition", partition))
	log.Info("partition poller started")

	for {
		select {
		case <-ctx.Done():
			log.Info("partition poller stopped")
			return
		default:
		}

		found, err := c.Run(ctx, partition)
		if err != nil {
			// Only programming errors reach here; transport trouble is
			// handled inside Run.
			log.Error("consume pass failed", zap.Error(err))
			return
		}

		m.PendingDelivery.Set(float64(c.PendingDeliveries()))
		m.PendingRetry.Set(float64(c.PendingRetries()))

		if !found {
			select {
			case <-ctx.Done():
			case <-time.After(idleInterval):
			}
		}
	}
}
