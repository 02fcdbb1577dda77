// Package app assembles the allocation engine on a storage backend.
package app

import (
	"context"
	"fmt"
	"time"

	"stockpick/internal/core/tx"
	"stockpick/internal/domain/allocation"
	"stockpick/internal/domain/reservation"
	"stockpick/internal/infrastructure/storage/memory"
	"stockpick/internal/infrastructure/storage/postgres"
	"stockpick/internal/infrastructure/storage/postgres/catalog_repo"
	"stockpick/internal/infrastructure/storage/postgres/register_repo"
	"stockpick/internal/infrastructure/storage/postgres/reservation_repo"
)

// Pinger reports storage reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Backend is one storage implementation of every engine port.
type Backend struct {
	Name         string
	TxManager    tx.Manager
	Inventory    allocation.Inventory
	Locations    allocation.LocationDirectory
	Reservations reservation.Repository
	Commitments  allocation.CommitmentStore
	Events       reservation.EventSink
	History      reservation.HistoryReader
	Pinger       Pinger
}

// PostgresBackend wires the Postgres repositories. Reservation events go to
// the outbox and the audit log in the caller's transaction.
func PostgresBackend(txm *postgres.TxManager, auditCompressThreshold int) (Backend, error) {
	audit, err := postgres.NewAuditService(txm, auditCompressThreshold)
	if err != nil {
		return Backend{}, fmt.Errorf("audit service: %w", err)
	}

	journal := postgres.NewEventJournal(postgres.NewOutboxPublisher(txm), audit)

	return Backend{
		Name:         "postgres",
		TxManager:    txm,
		Inventory:    register_repo.NewStockRepo(txm),
		Locations:    catalog_repo.NewLocationRepo(txm),
		Reservations: reservation_repo.New(txm),
		Commitments:  register_repo.NewCommitmentRepo(txm),
		Events:       journal,
		History:      journal,
		Pinger:       txm,
	}, nil
}

// MemoryBackend wires the in-process store. It keeps no audit trail, so
// History is nil.
func MemoryBackend(store *memory.Store) Backend {
	return Backend{
		Name:         "memory",
		TxManager:    store,
		Inventory:    store.Inventory(),
		Locations:    store.Locations(),
		Reservations: store.Reservations(),
		Commitments:  store.Commitments(),
		Events:       store,
		Pinger:       store,
	}
}

// EngineConfig tunes the assembled engine.
type EngineConfig struct {
	ReservationTTL      time.Duration
	FallbackLocation    string
	SweepBeforeAllocate bool
	Now                 func() time.Time
}

// DefaultEngineConfig returns production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ReservationTTL:      reservation.DefaultTTL,
		FallbackLocation:    allocation.DefaultFallbackLocation,
		SweepBeforeAllocate: true,
	}
}

// NewEngine builds the allocation service over b.
func NewEngine(b Backend, cfg EngineConfig, observer allocation.Observer) *allocation.Service {
	calc := allocation.NewCalculator(b.Inventory, b.Locations, b.Reservations, cfg.Now)
	reservations := reservation.NewService(b.Reservations, b.TxManager, calc, b.Events, reservation.Config{
		TTL: cfg.ReservationTTL,
		Now: cfg.Now,
	})
	return allocation.NewService(b.TxManager, b.Inventory, calc, reservations, b.Commitments, observer, allocation.Config{
		FallbackLocation:    cfg.FallbackLocation,
		SweepBeforeAllocate: cfg.SweepBeforeAllocate,
	})
}
