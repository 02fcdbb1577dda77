package demo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpick/internal/infrastructure/storage/demo"
	"stockpick/internal/infrastructure/storage/memory"
)

func TestLoad(t *testing.T) {
	store := memory.New()
	demo.Load(store)

	ctx := context.Background()
	locs, err := store.Locations().List(ctx)
	require.NoError(t, err)
	assert.Len(t, locs, len(demo.Locations()))

	for _, p := range demo.Products() {
		known, err := store.Inventory().KnowsSKU(ctx, p.SKU)
		require.NoError(t, err)
		assert.True(t, known, p.SKU)
	}

	qty, err := store.Inventory().PhysicalQuantity(ctx, "1B1P1", "SKU-1001")
	require.NoError(t, err)
	assert.Equal(t, 12, qty)
}

func TestSKUsCoverStock(t *testing.T) {
	skus := demo.SKUs()
	require.Len(t, skus, len(demo.Products()))
	for _, rec := range demo.Stock() {
		assert.Contains(t, skus, rec.SKU)
	}
}
