// Package main is the entry point for the stockpick API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"stockpick/internal/app"
	"stockpick/internal/domain/auth"
	v1 "stockpick/internal/infrastructure/http/v1"
	"stockpick/internal/infrastructure/http/v1/middleware"
	"stockpick/internal/infrastructure/metrics"
	"stockpick/internal/infrastructure/storage/demo"
	"stockpick/internal/infrastructure/storage/memory"
	"stockpick/internal/infrastructure/storage/postgres"
	"stockpick/pkg/logger"
)

const version = "0.1.0"

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

	storage := getEnv("STORAGE", "postgres")
	log.Infow("starting stockpick server", "storage", storage, "version", version)

	m := metrics.New("stockpick-api")

	engineCfg := app.DefaultEngineConfig()
	engineCfg.ReservationTTL = getEnvDuration("RESERVATION_TTL", engineCfg.ReservationTTL)
	engineCfg.FallbackLocation = getEnv("FALLBACK_LOCATION", engineCfg.FallbackLocation)

	var (
		backend     app.Backend
		idempotency middleware.IdempotencyStore
		wg          sync.WaitGroup
	)

	switch storage {
	case "memory":
		store := memory.New()
		demo.Load(store)
		backend = app.MemoryBackend(store)
		log.Info("in-memory storage loaded with demo data")

	case "postgres":
		dsn := mustEnv("DATABASE_URL")

		if getEnv("MIGRATE_ON_START", "false") == "true" {
			if err := postgres.RunMigrations(ctx, dsn); err != nil {
				log.Fatalw("failed to run migrations", "error", err)
			}
			log.Info("migrations applied")
		}

		poolCfg := postgres.DefaultPoolConfig(dsn)
		poolCfg.MaxConns = int32(getEnvInt("DB_MAX_CONNS", int(poolCfg.MaxConns)))
		pool, err := postgres.NewPool(ctx, poolCfg)
		if err != nil {
			log.Fatalw("failed to connect to database", "error", err)
		}
		defer pool.Close()
		log.Info("database connection established")

		txm := postgres.NewTxManager(pool)
		backend, err = app.PostgresBackend(txm, getEnvInt("AUDIT_COMPRESS_THRESHOLD", 0))
		if err != nil {
			log.Fatalw("failed to initialize storage", "error", err)
		}

		if getEnv("IDEMPOTENCY_ENABLED", "true") == "true" {
			idempotency = postgres.NewIdempotencyStore(txm, getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour))
		}

	default:
		log.Fatalw("unknown storage", "storage", storage)
	}

	engine := app.NewEngine(backend, engineCfg, m)

	// Nothing else shares the in-memory store, so the server sweeps it.
	if backend.Name == "memory" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			engine.Sweeper().Run(logger.WithLogger(ctx, log.WithComponent("sweeper")),
				getEnvDuration("SWEEP_INTERVAL", time.Minute))
		}()
	}

	var jwtValidator middleware.JWTValidator
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		jwtValidator = auth.NewJWTService(auth.DefaultJWTConfig(secret))
	} else {
		log.Warn("JWT_SECRET not set, admin routes are disabled")
	}

	router := v1.NewRouter(v1.RouterConfig{
		Allocation:   engine,
		History:      backend.History,
		Store:        backend.Pinger,
		StorageName:  backend.Name,
		Version:      version,
		Logger:       log,
		JWTValidator: jwtValidator,
		Idempotency:  idempotency,
		Metrics:      m,
	})

	port := getEnv("APP_PORT", "8080")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	cancel()
	wg.Wait()

	log.Info("server stopped")
}
