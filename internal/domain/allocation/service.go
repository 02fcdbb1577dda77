package allocation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stockpick/internal/core/apperror"
	"stockpick/internal/core/id"
	"stockpick/internal/core/tx"
	"stockpick/internal/domain/location"
	"stockpick/internal/domain/reservation"
	"stockpick/pkg/logger"
)

var tracer = otel.Tracer("stockpick/allocation")

// DefaultFallbackLocation receives stock restored by order cancellation.
const DefaultFallbackLocation = "FLOOR"

// Demand is one line of an order: a SKU and the quantity to pick.
type Demand struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// Allocation is one slice of a demand placed on one location.
type Allocation struct {
	Location      string `json:"location"`
	Quantity      int    `json:"quantity"`
	ReservationID id.ID  `json:"reservationId"`
}

// Outcome classifies a demand result.
type Outcome string

const (
	OutcomeFull     Outcome = "full"
	OutcomePartial  Outcome = "partial"
	OutcomeNone     Outcome = "none"
	OutcomeExisting Outcome = "existing"
)

// Result is the outcome of allocating one demand.
type Result struct {
	SKU             string       `json:"sku"`
	RequestedQty    int          `json:"requestedQty"`
	AllocatedQty    int          `json:"allocatedQty"`
	RemainingQty    int          `json:"remainingQty"`
	Allocations     []Allocation `json:"allocations"`
	FullyAllocated  bool         `json:"fullyAllocated"`
	AlreadyReserved bool         `json:"alreadyReserved"`
}

// Outcome classifies r.
func (r Result) Outcome() Outcome {
	switch {
	case r.AlreadyReserved:
		return OutcomeExisting
	case r.FullyAllocated:
		return OutcomeFull
	case r.AllocatedQty > 0:
		return OutcomePartial
	}
	return OutcomeNone
}

// Config tunes the allocation service.
type Config struct {
	// FallbackLocation receives stock restored when an order is released.
	FallbackLocation string

	// SweepBeforeAllocate expires stale reservations before each Allocate.
	SweepBeforeAllocate bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FallbackLocation:    DefaultFallbackLocation,
		SweepBeforeAllocate: true,
	}
}

// Service is the allocation orchestrator and the completion/release
// protocol.
//
// Concurrency: each demand is allocated inside one transaction that first
// locks every stock row of the SKU (Inventory.LockSKU). Competing orders
// for the same SKU are therefore serialised at the database, which also
// makes the idempotence check and the reservation inserts atomic.
type Service struct {
	txm          tx.Manager
	inventory    Inventory
	calculator   *Calculator
	reservations *reservation.Service
	commitments  CommitmentStore
	sweeper      *Sweeper
	observer     Observer
	cfg          Config
}

// NewService wires the orchestrator.
func NewService(
	txm tx.Manager,
	inventory Inventory,
	calculator *Calculator,
	reservations *reservation.Service,
	commitments CommitmentStore,
	observer Observer,
	cfg Config,
) *Service {
	if observer == nil {
		observer = nopObserver{}
	}
	if cfg.FallbackLocation == "" {
		cfg.FallbackLocation = DefaultFallbackLocation
	}
	return &Service{
		txm:          txm,
		inventory:    inventory,
		calculator:   calculator,
		reservations: reservations,
		commitments:  commitments,
		sweeper:      NewSweeper(reservations, observer),
		observer:     observer,
		cfg:          cfg,
	}
}

// Sweeper exposes the expiry sweeper bound to this service.
func (s *Service) Sweeper() *Sweeper {
	return s.sweeper
}

// Availability returns the availability read model for sku.
func (s *Service) Availability(ctx context.Context, sku string) (Report, error) {
	if sku == "" {
		return Report{}, apperror.NewInvalidInput("sku is required")
	}
	return s.calculator.Availability(ctx, sku)
}

// Allocate places each demand of orderID on storage locations and
// reserves the stock.
//
// A demand that cannot be fully met is not an error: its result reports
// FullyAllocated=false. When live reservations already exist for the
// (order, SKU) pair they are returned unchanged with AlreadyReserved=true,
// without topping up a shortfall.
func (s *Service) Allocate(ctx context.Context, orderID string, demands []Demand) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "allocation.Allocate",
		trace.WithAttributes(
			attribute.String("order.id", orderID),
			attribute.Int("demands", len(demands)),
		))
	defer span.End()

	if err := s.validate(ctx, orderID, demands); err != nil {
		return nil, err
	}

	if s.cfg.SweepBeforeAllocate {
		if _, err := s.sweeper.Sweep(ctx, s.reservations.Now()); err != nil {
			// correctness does not depend on the sweep
			logger.Warn(ctx, "opportunistic sweep failed", "error", err)
		}
	}

	results := make([]Result, 0, len(demands))
	var last location.Coordinate

	for _, d := range demands {
		var (
			res  Result
			next location.Coordinate
		)
		err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
			var err error
			res, next, err = s.allocateDemand(ctx, orderID, d, last)
			return err
		})
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("allocate %s: %w", d.SKU, err)
		}

		last = next
		results = append(results, res)
		s.observer.DemandAllocated(res.Outcome(), res.AllocatedQty)

		logger.Info(ctx, "demand allocated",
			"order_id", orderID,
			"sku", d.SKU,
			"requested", res.RequestedQty,
			"allocated", res.AllocatedQty,
			"locations", len(res.Allocations),
			"outcome", res.Outcome(),
		)
	}

	return results, nil
}

func (s *Service) validate(ctx context.Context, orderID string, demands []Demand) error {
	if orderID == "" {
		return apperror.NewInvalidInput("orderId is required")
	}
	if len(demands) == 0 {
		return apperror.NewInvalidInput("at least one demand is required")
	}
	for i, d := range demands {
		if d.SKU == "" {
			return apperror.NewInvalidInput(fmt.Sprintf("demand %d: sku is required", i))
		}
		if d.Quantity <= 0 {
			return apperror.NewInvalidInput(fmt.Sprintf("demand %d: quantity must be positive", i)).
				WithDetail("sku", d.SKU).
				WithDetail("quantity", d.Quantity)
		}
		known, err := s.inventory.KnowsSKU(ctx, d.SKU)
		if err != nil {
			return fmt.Errorf("lookup sku %s: %w", d.SKU, err)
		}
		if !known {
			return apperror.NewInvalidInput(fmt.Sprintf("demand %d: unknown sku", i)).
				WithDetail("sku", d.SKU)
		}
	}
	return nil
}

// allocateDemand must run inside a transaction. last is the coordinate of
// the previous pick in this call; the returned coordinate is carried to the
// next demand.
func (s *Service) allocateDemand(ctx context.Context, orderID string, d Demand, last location.Coordinate) (Result, location.Coordinate, error) {
	if err := s.inventory.LockSKU(ctx, d.SKU); err != nil {
		return Result{}, last, fmt.Errorf("lock sku: %w", err)
	}

	existing, err := s.reservations.FindActive(ctx, orderID, d.SKU)
	if err != nil {
		return Result{}, last, fmt.Errorf("find active reservations: %w", err)
	}
	if len(existing) > 0 {
		res := fromExisting(d, existing)
		return res, location.Parse(existing[len(existing)-1].Location), nil
	}

	res := Result{SKU: d.SKU, RequestedQty: d.Quantity, Allocations: []Allocation{}}
	remaining := d.Quantity
	rejected := make(map[string]bool)

	for remaining > 0 {
		candidates, err := s.calculator.Candidates(ctx, d.SKU, remaining)
		if err != nil {
			return Result{}, last, fmt.Errorf("candidate locations: %w", err)
		}
		ranked := Rank(withoutRejected(candidates, rejected), last)
		if len(ranked) == 0 {
			break
		}

		c := ranked[0]
		take := min(remaining, c.Available)
		if take <= 0 {
			break
		}

		r, err := s.reservations.Create(ctx, orderID, d.SKU, c.Location, take)
		if apperror.IsInsufficientAvailability(err) {
			logger.Debug(ctx, "candidate could not honour reservation",
				"location", c.Location, "sku", d.SKU, "take", take)
			rejected[c.Location] = true
			continue
		}
		if err != nil {
			return Result{}, last, err
		}

		res.Allocations = append(res.Allocations, Allocation{
			Location:      c.Location,
			Quantity:      take,
			ReservationID: r.ID,
		})
		remaining -= take
		last = c.Coordinate
	}

	res.AllocatedQty = d.Quantity - remaining
	res.RemainingQty = remaining
	res.FullyAllocated = remaining == 0
	return res, last, nil
}

func fromExisting(d Demand, existing []*reservation.Reservation) Result {
	res := Result{
		SKU:             d.SKU,
		RequestedQty:    d.Quantity,
		Allocations:     make([]Allocation, 0, len(existing)),
		AlreadyReserved: true,
	}
	for _, r := range existing {
		res.Allocations = append(res.Allocations, Allocation{
			Location:      r.Location,
			Quantity:      r.Quantity,
			ReservationID: r.ID,
		})
		res.AllocatedQty += r.Quantity
	}
	res.RemainingQty = max(d.Quantity-res.AllocatedQty, 0)
	res.FullyAllocated = res.RemainingQty == 0
	return res
}

func withoutRejected(candidates []Candidate, rejected map[string]bool) []Candidate {
	if len(rejected) == 0 {
		return candidates
	}
	out := candidates[:0:0]
	for _, c := range candidates {
		if !rejected[c.Location] {
			out = append(out, c)
		}
	}
	return out
}

// ListOrderReservations returns every reservation of orderID.
func (s *Service) ListOrderReservations(ctx context.Context, orderID string) ([]*reservation.Reservation, error) {
	if orderID == "" {
		return nil, apperror.NewInvalidInput("orderId is required")
	}
	return s.reservations.ListByOrder(ctx, orderID)
}

// CancelReservation cancels one active reservation.
func (s *Service) CancelReservation(ctx context.Context, reservationID id.ID) (*reservation.Reservation, error) {
	r, err := s.reservations.Cancel(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	s.observer.ReservationsTransitioned(string(reservation.StatusCancelled), 1)
	return r, nil
}

func (s *Service) now() time.Time {
	return s.reservations.Now()
}
