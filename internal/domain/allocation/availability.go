package allocation

import (
	"context"
	"fmt"
	"time"

	"stockpick/internal/domain/location"
	"stockpick/internal/domain/reservation"
	"stockpick/pkg/logger"
)

// Candidate is a location able to supply a SKU right now.
type Candidate struct {
	Location   string
	Coordinate location.Coordinate

	Physical  int
	Available int

	// ExactMatch is true when Available equals the quantity asked for.
	ExactMatch bool
	// EmptiesLocation is true when taking Available leaves nothing behind.
	EmptiesLocation bool
	// HasActiveReservation is true when any active reservation for the SKU
	// exists at the location, expired or not.
	HasActiveReservation bool
}

// LocationAvailability is one row of the availability read model.
type LocationAvailability struct {
	Location  string `json:"location"`
	Physical  int    `json:"physical"`
	Reserved  int    `json:"reserved"`
	Withheld  int    `json:"withheld"`
	Available int    `json:"available"`
}

// Report is the availability of a SKU across the warehouse.
type Report struct {
	SKU            string                 `json:"sku"`
	Locations      []LocationAvailability `json:"locations"`
	TotalAvailable int                    `json:"totalAvailable"`
}

// Calculator derives availability from physical stock and reservations.
// available = physical - reserved (live) - withheld (under-picks), floored at 0.
type Calculator struct {
	inventory    Inventory
	directory    LocationDirectory
	reservations reservation.Repository
	now          func() time.Time
}

// NewCalculator creates an availability calculator.
func NewCalculator(inventory Inventory, directory LocationDirectory, reservations reservation.Repository, now func() time.Time) *Calculator {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Calculator{
		inventory:    inventory,
		directory:    directory,
		reservations: reservations,
		now:          now,
	}
}

// AvailableQuantity returns what location can offer for sku.
func (c *Calculator) AvailableQuantity(ctx context.Context, loc, sku string) (int, error) {
	physical, err := c.inventory.PhysicalQuantity(ctx, loc, sku)
	if err != nil {
		return 0, fmt.Errorf("physical quantity: %w", err)
	}
	return c.subtractHold(ctx, loc, sku, physical)
}

// AvailableForUpdate is AvailableQuantity with the stock row locked, so
// the caller may insert a reservation without racing other writers.
func (c *Calculator) AvailableForUpdate(ctx context.Context, loc, sku string) (int, error) {
	physical, err := c.inventory.PhysicalQuantityForUpdate(ctx, loc, sku)
	if err != nil {
		return 0, fmt.Errorf("physical quantity for update: %w", err)
	}
	return c.subtractHold(ctx, loc, sku, physical)
}

func (c *Calculator) subtractHold(ctx context.Context, loc, sku string, physical int) (int, error) {
	if physical <= 0 {
		return 0, nil
	}
	hold, err := c.reservations.HoldAt(ctx, loc, sku, c.now())
	if err != nil {
		return 0, fmt.Errorf("reservation hold: %w", err)
	}
	return max(physical-hold.Claimed(), 0), nil
}

// Candidates returns every enabled location with available stock of sku,
// annotated for ranking. required is the quantity still to be placed.
func (c *Calculator) Candidates(ctx context.Context, sku string, required int) ([]Candidate, error) {
	rows, err := c.rows(ctx, sku)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(rows))
	for _, r := range rows {
		if r.available <= 0 {
			continue
		}
		candidates = append(candidates, Candidate{
			Location:             r.location.Name,
			Coordinate:           r.location.Coordinate(),
			Physical:             r.physical,
			Available:            r.available,
			ExactMatch:           r.available == required,
			EmptiesLocation:      r.available == r.physical,
			HasActiveReservation: r.hold.HasActive,
		})
	}
	return candidates, nil
}

// Availability builds the read model for sku. Enabled locations holding
// physical stock are listed even when fully reserved.
func (c *Calculator) Availability(ctx context.Context, sku string) (Report, error) {
	rows, err := c.rows(ctx, sku)
	if err != nil {
		return Report{}, err
	}

	report := Report{SKU: sku, Locations: make([]LocationAvailability, 0, len(rows))}
	for _, r := range rows {
		report.Locations = append(report.Locations, LocationAvailability{
			Location:  r.location.Name,
			Physical:  r.physical,
			Reserved:  r.hold.Reserved,
			Withheld:  r.hold.Withheld,
			Available: r.available,
		})
		report.TotalAvailable += r.available
	}
	return report, nil
}

type stockRow struct {
	location  location.Location
	physical  int
	hold      reservation.Hold
	available int
}

func (c *Calculator) rows(ctx context.Context, sku string) ([]stockRow, error) {
	stock, err := c.inventory.StockBySKU(ctx, sku)
	if err != nil {
		return nil, fmt.Errorf("stock by sku: %w", err)
	}
	if len(stock) == 0 {
		return nil, nil
	}

	locations, err := c.directory.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	byName := make(map[string]location.Location, len(locations))
	for _, l := range locations {
		byName[l.Name] = l
	}

	holds, err := c.reservations.Holds(ctx, sku, c.now())
	if err != nil {
		return nil, fmt.Errorf("reservation holds: %w", err)
	}
	holdByLocation := make(map[string]reservation.Hold, len(holds))
	for _, h := range holds {
		holdByLocation[h.Location] = h
	}

	rows := make([]stockRow, 0, len(stock))
	for _, s := range stock {
		loc, ok := byName[s.Location]
		if !ok {
			logger.Debug(ctx, "stock at unknown location ignored", "location", s.Location, "sku", sku)
			continue
		}
		if !loc.Enabled {
			continue
		}
		hold := holdByLocation[s.Location]
		rows = append(rows, stockRow{
			location:  loc,
			physical:  s.Quantity,
			hold:      hold,
			available: max(s.Quantity-hold.Claimed(), 0),
		})
	}
	return rows, nil
}
