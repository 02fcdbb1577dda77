// Package main provides a CLI tool for seeding the database with demo
// locations and stock.
package main

import (
	"context"
	"fmt"
	"os"

	appctx "stockpick/internal/core/context"
	"stockpick/internal/domain/auth"
	"stockpick/internal/infrastructure/storage/demo"
	"stockpick/internal/infrastructure/storage/postgres"
	"stockpick/internal/infrastructure/storage/postgres/catalog_repo"
	"stockpick/internal/infrastructure/storage/postgres/register_repo"
	"stockpick/pkg/logger"
)

func main() {
	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	if os.Getenv("MIGRATE") != "false" {
		if err := postgres.RunMigrations(ctx, dbURL); err != nil {
			log.Fatalw("failed to run migrations", "error", err)
		}
	}

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(dbURL))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	log.Info("connected to database")

	txm := postgres.NewTxManager(pool)
	if err := seedDemoData(ctx, txm, log); err != nil {
		log.Fatalw("failed to seed demo data", "error", err)
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		token, expiresAt, err := auth.NewJWTService(auth.DefaultJWTConfig(secret)).
			GenerateAccessToken("seed-supervisor", []string{appctx.RoleSupervisor})
		if err != nil {
			log.Fatalw("failed to issue supervisor token", "error", err)
		}
		log.Infow("supervisor token issued", "expires_at", expiresAt)
		fmt.Println(token)
	}

	log.Info("seeding completed successfully")
}

func seedDemoData(ctx context.Context, txm *postgres.TxManager, log *logger.Logger) error {
	stock := register_repo.NewStockRepo(txm)
	locations := catalog_repo.NewLocationRepo(txm)

	return txm.RunInTransaction(ctx, func(ctx context.Context) error {
		for _, p := range demo.Products() {
			if err := stock.RegisterProduct(ctx, p.SKU, p.Name); err != nil {
				return err
			}
		}
		log.Infow("products registered", "count", len(demo.Products()))

		if err := locations.UpsertMany(ctx, demo.Locations()); err != nil {
			return err
		}
		log.Infow("locations upserted", "count", len(demo.Locations()))

		// COPY needs an empty key space; reruns keep existing stock
		loaded, err := stock.HasStock(ctx, demo.SKUs()...)
		if err != nil {
			return err
		}
		if loaded {
			log.Info("stock already loaded, skipping")
			return nil
		}

		n, err := stock.LoadStock(ctx, demo.Stock())
		if err != nil {
			return err
		}
		log.Infow("stock loaded", "rows", n)
		return nil
	})
}
