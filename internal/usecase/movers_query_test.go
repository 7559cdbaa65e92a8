package usecase

import (
	"context"
	"testing"
	"time"

	"MoverPull/internal/domain/models"
	"MoverPull/internal/repository"
	"MoverPull/internal/service/cache"
)

func TestMoversQueryNewestFirst(t *testing.T) {
	store := repository.NewMemoryMoverStore()
	ing := newTestIngestor(t, weekQuotes(), abc, store)
	if _, err := ing.Backfill(context.Background(), "2024-10-11", 5); err != nil {
		t.Fatalf("seed: %v", err)
	}

	uc := NewMoversQueryUseCase(store)
	items, err := uc.Latest(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 || items[0].Date != "2024-10-11" || items[1].Date != "2024-10-10" {
		t.Fatalf("unexpected items %+v", items)
	}

	all, _ := uc.Latest(context.Background(), 0)
	if len(all) != 5 {
		t.Fatalf("expected default limit to return all 5, got %d", len(all))
	}
}

func TestMoversQueryCacheInvalidatedOnInsert(t *testing.T) {
	store := repository.NewMemoryMoverStore()
	uc := NewMoversQueryUseCase(store, WithMoversCache(cache.NewTTLCache(), time.Hour))
	ing := newTestIngestor(t, weekQuotes(), abc, store, WithCacheInvalidation(uc))
	ctx := context.Background()

	if _, err := ing.Backfill(ctx, "2024-10-10", 1); err != nil {
		t.Fatalf("seed: %v", err)
	}
	items, _ := uc.Latest(ctx, 7)
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}

	if _, err := ing.Backfill(ctx, "2024-10-11", 1); err != nil {
		t.Fatalf("second: %v", err)
	}
	items, _ = uc.Latest(ctx, 7)
	if len(items) != 2 || items[0].Date != "2024-10-11" {
		t.Fatalf("expected fresh items after insert, got %+v", items)
	}
}

func TestMoversQueryServesFromCache(t *testing.T) {
	store := repository.NewMemoryMoverStore()
	c := cache.NewTTLCache()
	uc := NewMoversQueryUseCase(store, WithMoversCache(c, time.Hour))
	ctx := context.Background()

	if _, err := uc.Latest(ctx, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// a write that bypasses the ingestor is not seen until the entry expires
	_, _ = store.TryInsert(ctx, models.NewMoverRecord("2024-10-10", models.MoverCandidate{Symbol: "A", PercentChange: 1, ClosingPrice: 2}))
	items, _ := uc.Latest(ctx, 3)
	if len(items) != 0 {
		t.Fatalf("expected cached empty list, got %d", len(items))
	}
	if _, ok, _ := c.GetBytes(ctx, "movers:latest:3"); !ok {
		t.Fatalf("expected cache entry")
	}
}
