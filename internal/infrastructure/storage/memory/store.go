// Package memory is an in-process implementation of the allocation ports.
// It backs STORAGE=memory deployments and the domain tests.
package memory

import (
	"context"
	"maps"
	"sync"

	"stockpick/internal/core/id"
	"stockpick/internal/core/tx"
	"stockpick/internal/domain/allocation"
	"stockpick/internal/domain/location"
	"stockpick/internal/domain/reservation"
)

var _ tx.Manager = (*Store)(nil)

type stockKey struct {
	location string
	sku      string
}

type state struct {
	products     map[string]bool
	locations    map[string]location.Location
	stock        map[stockKey]int
	reservations map[id.ID]*reservation.Reservation
	commitments  map[id.ID]*allocation.Commitment
	events       []reservation.Event

	// seq orders reservations created within the same instant.
	seq      int64
	inserted map[id.ID]int64
}

func (s *state) clone() *state {
	c := &state{
		products:     maps.Clone(s.products),
		locations:    maps.Clone(s.locations),
		stock:        maps.Clone(s.stock),
		reservations: make(map[id.ID]*reservation.Reservation, len(s.reservations)),
		commitments:  make(map[id.ID]*allocation.Commitment, len(s.commitments)),
		events:       append([]reservation.Event(nil), s.events...),
		seq:          s.seq,
		inserted:     maps.Clone(s.inserted),
	}
	for k, r := range s.reservations {
		c.reservations[k] = cloneReservation(r)
	}
	for k, cm := range s.commitments {
		c.commitments[k] = cloneCommitment(cm)
	}
	return c
}

// Store holds the whole warehouse state behind one mutex. A transaction
// holds the mutex for its whole duration, so transactions are serial.
type Store struct {
	mu sync.Mutex
	st *state
}

// New creates an empty store.
func New() *Store {
	return &Store{st: &state{
		products:     make(map[string]bool),
		locations:    make(map[string]location.Location),
		stock:        make(map[stockKey]int),
		reservations: make(map[id.ID]*reservation.Reservation),
		commitments:  make(map[id.ID]*allocation.Commitment),
		inserted:     make(map[id.ID]int64),
	}}
}

type txKey struct{}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(bool)
	return ok
}

// RunInTransaction runs fn holding the store lock. State changes made by
// fn are discarded when it returns an error. Nested calls join the outer
// transaction.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// lock takes the store mutex for a single call made outside a transaction.
func (s *Store) lock(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// Ping implements the health check contract.
func (s *Store) Ping(context.Context) error {
	return nil
}

// --- Seeding ---

// AddProduct registers a SKU.
func (s *Store) AddProduct(sku string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[sku] = true
}

// AddLocation registers a storage location.
func (s *Store) AddLocation(name string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.locations[name] = location.Location{Name: name, Enabled: enabled}
}

// SetStock sets the physical quantity of sku at loc and registers both.
func (s *Store) SetStock(loc, sku string, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[sku] = true
	if _, ok := s.st.locations[loc]; !ok {
		s.st.locations[loc] = location.Location{Name: loc, Enabled: true}
	}
	s.st.stock[stockKey{loc, sku}] = quantity
}

// Events returns every recorded reservation event in order.
func (s *Store) Events() []reservation.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]reservation.Event(nil), s.st.events...)
}

// Record implements reservation.EventSink.
func (s *Store) Record(ctx context.Context, events ...reservation.Event) error {
	defer s.lock(ctx)()
	s.st.events = append(s.st.events, events...)
	return nil
}

// --- Port views ---

// Inventory returns the stock view of the store.
func (s *Store) Inventory() *Inventory { return &Inventory{s: s} }

// Locations returns the location directory view of the store.
func (s *Store) Locations() *Locations { return &Locations{s: s} }

// Reservations returns the reservation repository view of the store.
func (s *Store) Reservations() *Reservations { return &Reservations{s: s} }

// Commitments returns the outgoing commitment view of the store.
func (s *Store) Commitments() *Commitments { return &Commitments{s: s} }

func cloneReservation(r *reservation.Reservation) *reservation.Reservation {
	c := *r
	return &c
}

func cloneCommitment(cm *allocation.Commitment) *allocation.Commitment {
	c := *cm
	if cm.ReservationID != nil {
		rid := *cm.ReservationID
		c.ReservationID = &rid
	}
	if cm.ReleasedAt != nil {
		at := *cm.ReleasedAt
		c.ReleasedAt = &at
	}
	if cm.ReleasedTo != nil {
		to := *cm.ReleasedTo
		c.ReleasedTo = &to
	}
	return &c
}
