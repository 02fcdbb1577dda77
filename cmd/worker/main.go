// Package main is the entry point for the stockpick background worker:
// expiry sweeps, outbox relay and retention cleanup.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"stockpick/internal/app"
	appctx "stockpick/internal/core/context"
	"stockpick/internal/domain/allocation"
	"stockpick/internal/infrastructure/messaging"
	"stockpick/internal/infrastructure/metrics"
	"stockpick/internal/infrastructure/storage/postgres"
	"stockpick/pkg/logger"
)

func main() {
	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("starting stockpick worker")

	poolCfg := postgres.DefaultPoolConfig(mustEnv("DATABASE_URL"))
	poolCfg.MaxConns = int32(getEnvInt("DB_MAX_CONNS", 5))
	poolCfg.MinConns = 1
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	txm := postgres.NewTxManager(pool)
	m := metrics.New("stockpick-worker")

	backend, err := app.PostgresBackend(txm, getEnvInt("AUDIT_COMPRESS_THRESHOLD", 0))
	if err != nil {
		log.Fatalw("failed to initialize storage", "error", err)
	}
	engineCfg := app.DefaultEngineConfig()
	engineCfg.ReservationTTL = getEnvDuration("RESERVATION_TTL", engineCfg.ReservationTTL)
	engineCfg.FallbackLocation = getEnv("FALLBACK_LOCATION", engineCfg.FallbackLocation)
	engine := app.NewEngine(backend, engineCfg, m)

	var handler postgres.OutboxHandler = messaging.LogPublisher{}
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		publisher := messaging.NewKafkaPublisher(messaging.Config{
			Brokers: strings.Split(brokers, ","),
			Topic:   getEnv("KAFKA_TOPIC", "stockpick.reservations"),
		}, m)
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Warnw("failed to close kafka writer", "error", err)
			}
		}()
		handler = publisher
		log.Infow("outbox relay publishes to kafka", "brokers", brokers)
	} else {
		log.Warn("KAFKA_BROKERS not set, outbox events are only logged")
	}

	w := &Worker{
		sweeper:       engine.Sweeper(),
		relay:         postgres.NewOutboxRelay(txm, getEnvInt("OUTBOX_BATCH_SIZE", 100), handler),
		idempotency:   postgres.NewIdempotencyStore(txm, getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour)),
		pool:          pool,
		log:           log.WithComponent("worker"),
		sweepInterval: getEnvDuration("SWEEP_INTERVAL", time.Minute),
		pollInterval:  getEnvDuration("OUTBOX_POLL_INTERVAL", 500*time.Millisecond),
		retention:     getEnvDuration("OUTBOX_RETENTION", 7*24*time.Hour),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}

// Worker runs the periodic jobs of the engine.
type Worker struct {
	sweeper     *allocation.Sweeper
	relay       *postgres.OutboxRelay
	idempotency *postgres.IdempotencyStore
	pool        *postgres.Pool
	log         *logger.Logger

	sweepInterval time.Duration
	pollInterval  time.Duration
	retention     time.Duration
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ctx = logger.WithLogger(ctx, w.log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.sweeper.Run(ctx, w.sweepInterval)
	}()

	pollTicker := time.NewTicker(w.pollInterval)
	defer pollTicker.Stop()

	cleanupTicker := time.NewTicker(time.Hour)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-pollTicker.C:
			w.processOutbox(ctx)
		case <-cleanupTicker.C:
			w.cleanup(ctx)
			w.pool.LogStats(ctx)
		}
	}
}

func (w *Worker) processOutbox(ctx context.Context) {
	ctx = appctx.WithTrace(ctx, appctx.NewTraceContext())

	// drain while full batches keep coming
	for {
		n, err := w.relay.ProcessBatch(ctx)
		if err != nil {
			logger.Error(ctx, "outbox batch failed", "error", err)
			return
		}
		if n > 0 {
			logger.Debug(ctx, "processed outbox batch", "count", n)
		}
		if n < w.relay.BatchSize() || ctx.Err() != nil {
			return
		}
	}
}

func (w *Worker) cleanup(ctx context.Context) {
	if n, err := w.relay.CleanupPublished(ctx, w.retention); err != nil {
		logger.Warn(ctx, "outbox cleanup failed", "error", err)
	} else if n > 0 {
		logger.Info(ctx, "cleaned up published outbox messages", "count", n)
	}

	if n, err := w.idempotency.CleanupExpired(ctx); err != nil {
		logger.Warn(ctx, "idempotency cleanup failed", "error", err)
	} else if n > 0 {
		logger.Info(ctx, "cleaned up expired idempotency keys", "count", n)
	}
}
