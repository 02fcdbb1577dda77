package memory

import (
	"context"
	"slices"
	"strings"

	"stockpick/internal/core/apperror"
	"stockpick/internal/domain/allocation"
	"stockpick/internal/domain/location"
)

var (
	_ allocation.Inventory         = (*Inventory)(nil)
	_ allocation.LocationDirectory = (*Locations)(nil)
)

// Inventory is the stock view of Store.
type Inventory struct {
	s *Store
}

func (i *Inventory) KnowsSKU(ctx context.Context, sku string) (bool, error) {
	defer i.s.lock(ctx)()
	return i.s.st.products[sku], nil
}

// LockSKU is a no-op: transactions already hold the store lock.
func (i *Inventory) LockSKU(context.Context, string) error {
	return nil
}

func (i *Inventory) PhysicalQuantity(ctx context.Context, loc, sku string) (int, error) {
	defer i.s.lock(ctx)()
	return i.s.st.stock[stockKey{loc, sku}], nil
}

func (i *Inventory) PhysicalQuantityForUpdate(ctx context.Context, loc, sku string) (int, error) {
	return i.PhysicalQuantity(ctx, loc, sku)
}

func (i *Inventory) StockBySKU(ctx context.Context, sku string) ([]allocation.StockRecord, error) {
	defer i.s.lock(ctx)()

	var out []allocation.StockRecord
	for k, q := range i.s.st.stock {
		if k.sku == sku && q > 0 {
			out = append(out, allocation.StockRecord{Location: k.location, SKU: sku, Quantity: q})
		}
	}
	slices.SortFunc(out, func(a, b allocation.StockRecord) int {
		return strings.Compare(a.Location, b.Location)
	})
	return out, nil
}

func (i *Inventory) AdjustQuantity(ctx context.Context, loc, sku string, delta int) error {
	defer i.s.lock(ctx)()

	k := stockKey{loc, sku}
	next := i.s.st.stock[k] + delta
	if next < 0 {
		return apperror.NewInsufficientAvailability(loc, sku, -delta, i.s.st.stock[k])
	}
	i.s.st.stock[k] = next
	if _, ok := i.s.st.locations[loc]; !ok {
		i.s.st.locations[loc] = location.Location{Name: loc, Enabled: true}
	}
	return nil
}

// Locations is the location directory view of Store.
type Locations struct {
	s *Store
}

func (l *Locations) List(ctx context.Context) ([]location.Location, error) {
	defer l.s.lock(ctx)()

	out := make([]location.Location, 0, len(l.s.st.locations))
	for _, loc := range l.s.st.locations {
		out = append(out, loc)
	}
	slices.SortFunc(out, func(a, b location.Location) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (l *Locations) Get(ctx context.Context, name string) (location.Location, error) {
	defer l.s.lock(ctx)()

	loc, ok := l.s.st.locations[name]
	if !ok {
		return location.Location{}, apperror.NewNotFound("location", name)
	}
	return loc, nil
}
