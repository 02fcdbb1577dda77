// Package demo holds the development data set loaded by cmd/seed and by
// the in-memory storage mode.
package demo

import (
	"stockpick/internal/domain/allocation"
	"stockpick/internal/domain/location"
)

// Product is a SKU with a display name.
type Product struct {
	SKU  string
	Name string
}

// Products returns the demo catalog.
func Products() []Product {
	return []Product{
		{SKU: "SKU-1001", Name: "Cordless drill"},
		{SKU: "SKU-1002", Name: "Drill bit set"},
		{SKU: "SKU-2001", Name: "Safety gloves"},
	}
}

// SKUs lists the demo product SKUs.
func SKUs() []string {
	products := Products()
	skus := make([]string, len(products))
	for i, p := range products {
		skus[i] = p.SKU
	}
	return skus
}

// Locations returns the demo storage locations. FLOOR receives released stock.
func Locations() []location.Location {
	return []location.Location{
		{Name: "1A1P1", Enabled: true},
		{Name: "1A1P2", Enabled: true},
		{Name: "1A2P1", Enabled: true},
		{Name: "1B1P1", Enabled: true},
		{Name: allocation.DefaultFallbackLocation, Enabled: true},
	}
}

// Stock returns the demo stock records.
func Stock() []allocation.StockRecord {
	return []allocation.StockRecord{
		{Location: "1A1P1", SKU: "SKU-1001", Quantity: 10},
		{Location: "1A1P2", SKU: "SKU-1001", Quantity: 8},
		{Location: "1A2P1", SKU: "SKU-1001", Quantity: 6},
		{Location: "1B1P1", SKU: "SKU-1001", Quantity: 12},
		{Location: "1A1P1", SKU: "SKU-1002", Quantity: 25},
		{Location: "1B1P1", SKU: "SKU-1002", Quantity: 5},
		{Location: "1A2P1", SKU: "SKU-2001", Quantity: 40},
	}
}

// Loader receives demo data.
type Loader interface {
	AddProduct(sku string)
	AddLocation(name string, enabled bool)
	SetStock(location, sku string, quantity int)
}

// Load feeds the demo data set into l.
func Load(l Loader) {
	for _, p := range Products() {
		l.AddProduct(p.SKU)
	}
	for _, loc := range Locations() {
		l.AddLocation(loc.Name, loc.Enabled)
	}
	for _, s := range Stock() {
		l.SetStock(s.Location, s.SKU, s.Quantity)
	}
}
