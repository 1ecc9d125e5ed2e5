package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/commercekit/channelsync/channelsync"
	syncErrors "github.com/commercekit/channelsync/errors"
)

func record(productID, channelID string) *channelsync.ChannelProduct {
	return &channelsync.ChannelProduct{
		ProductID:     productID,
		ChannelID:     channelID,
		Available:     true,
		BasePrice:     decimal.NewFromInt(50),
		Currency:      "USD",
		StockQuantity: 100,
	}
}

func TestPutAndGet(t *testing.T) {
	ctx := context.Background()
	store := New()

	cp := record("p1", "web")
	if err := store.Put(ctx, cp); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if cp.Version != 1 {
		t.Errorf("version after Put = %d, want 1", cp.Version)
	}

	got, err := store.Get(ctx, "p1", "web")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ProductID != "p1" || got.StockQuantity != 100 {
		t.Errorf("unexpected record: %+v", got)
	}

	// Mutating the returned copy must not affect stored state.
	got.StockQuantity = 0
	again, _ := store.Get(ctx, "p1", "web")
	if again.StockQuantity != 100 {
		t.Error("Get must return an isolated copy")
	}
}

func TestGetMissing(t *testing.T) {
	store := New()
	if _, err := store.Get(context.Background(), "p1", "web"); err != channelsync.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutDuplicate(t *testing.T) {
	ctx := context.Background()
	store := New()
	if err := store.Put(ctx, record("p1", "web")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, record("p1", "web")); err == nil {
		t.Fatal("expected error for duplicate pair")
	}
}

func TestUpdateBumpsVersion(t *testing.T) {
	ctx := context.Background()
	store := New()
	cp := record("p1", "web")
	if err := store.Put(ctx, cp); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	cp.StockQuantity = 80
	if err := store.Update(ctx, cp, 1); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if cp.Version != 2 {
		t.Errorf("version after Update = %d, want 2", cp.Version)
	}

	got, _ := store.Get(ctx, "p1", "web")
	if got.StockQuantity != 80 || got.Version != 2 {
		t.Errorf("unexpected stored record: %+v", got)
	}
}

func TestUpdateStaleVersionConflicts(t *testing.T) {
	ctx := context.Background()
	store := New()
	cp := record("p1", "web")
	if err := store.Put(ctx, cp); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Update(ctx, cp, 1); err != nil {
		t.Fatalf("first Update failed: %v", err)
	}

	err := store.Update(ctx, cp, 1)
	if !syncErrors.IsVersionConflict(err) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestUpdateMissing(t *testing.T) {
	store := New()
	if err := store.Update(context.Background(), record("p1", "web"), 1); err != channelsync.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentGuardedUpdatesAdmitOneWriterPerVersion(t *testing.T) {
	ctx := context.Background()
	store := New()
	if err := store.Put(ctx, record("p1", "web")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	const writers = 16
	var wg sync.WaitGroup
	conflicts := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp := record("p1", "web")
			if err := store.Update(ctx, cp, 1); err != nil {
				conflicts <- err
			}
		}()
	}
	wg.Wait()
	close(conflicts)

	failed := 0
	for err := range conflicts {
		if !syncErrors.IsVersionConflict(err) {
			t.Fatalf("unexpected error: %v", err)
		}
		failed++
	}
	if failed != writers-1 {
		t.Fatalf("expected %d conflicts, got %d", writers-1, failed)
	}

	got, _ := store.Get(ctx, "p1", "web")
	if got.Version != 2 {
		t.Errorf("version = %d, want 2", got.Version)
	}
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	store := New()
	if err := store.Put(ctx, record("p1", "web")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := store.Get(ctx, "p1", "web"); err == nil {
		t.Fatal("expected error after Close")
	}
	if err := store.Put(ctx, record("p2", "web")); err == nil {
		t.Fatal("expected error after Close")
	}
}

func TestContextCancellation(t *testing.T) {
	store := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Get(ctx, "p1", "web"); err == nil {
		t.Fatal("expected context error")
	}
}
