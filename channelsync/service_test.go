package channelsync

import (
	"context"
	goerrors "errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/commercekit/channelsync/breaker"
	syncErrors "github.com/commercekit/channelsync/errors"
)

func asSyncError(err error, target **syncErrors.SyncError) bool {
	return goerrors.As(err, target)
}

func TestNewServiceRequiresStore(t *testing.T) {
	if _, err := NewService(nil); err == nil {
		t.Fatal("expected error for nil store")
	}
}

func TestSynchronizeFromProductCreatesRecord(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	pub := &capturePublisher{}
	svc, err := NewService(store, WithPublisher(pub))
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	res, err := svc.SynchronizeFromProduct(ctx,
		activeProduct("p1", "50.00", 100),
		activeChannel("web", "1.1"))
	if err != nil {
		t.Fatalf("SynchronizeFromProduct failed: %v", err)
	}
	if !res.Success || res.ConflictDetected {
		t.Fatalf("unexpected result: %+v", res)
	}

	stored := store.get("p1", "web")
	if stored.Version != 1 {
		t.Errorf("new record version = %d, want 1", stored.Version)
	}
	if !stored.EffectivePrice.Equal(dec("55.00")) {
		t.Errorf("effective price = %s, want 55.00", stored.EffectivePrice)
	}
	if stored.StockQuantity != 100 {
		t.Errorf("stock = %d, want 100", stored.StockQuantity)
	}
	if !stored.Available {
		t.Error("record should be available")
	}

	if pub.count() != 1 {
		t.Fatalf("expected 1 event, got %d", pub.count())
	}
	ev := pub.last()
	if ev.Kind.String() != "ChannelProductSynchronized" {
		t.Errorf("event kind = %s, want ChannelProductSynchronized", ev.Kind)
	}
	if ev.ID == "" {
		t.Error("event must carry an id")
	}
}

func TestSynchronizeFromProductUpdatesExisting(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc, _ := NewService(store)

	product := activeProduct("p1", "50.00", 100)
	channel := activeChannel("web", "1.1")
	if _, err := svc.SynchronizeFromProduct(ctx, product, channel); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	product.BasePrice = dec("40.00")
	product.StockQuantity = 60
	if _, err := svc.SynchronizeFromProduct(ctx, product, channel); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	stored := store.get("p1", "web")
	if stored.Version != 2 {
		t.Errorf("version = %d, want 2", stored.Version)
	}
	if !stored.EffectivePrice.Equal(dec("44.00")) {
		t.Errorf("effective price = %s, want 44.00", stored.EffectivePrice)
	}
	if stored.StockQuantity != 60 {
		t.Errorf("stock = %d, want 60", stored.StockQuantity)
	}
}

func TestSynchronizeFromProductAppliesChannelOverrides(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc, _ := NewService(store)

	channel := activeChannel("web", "1.0")
	channel.PriceOverride = decPtr("30.00")
	channel.InventoryOverride = i64(25)

	_, err := svc.SynchronizeFromProduct(ctx, activeProduct("p1", "50.00", 100), channel)
	if err != nil {
		t.Fatalf("SynchronizeFromProduct failed: %v", err)
	}

	stored := store.get("p1", "web")
	if !stored.EffectivePrice.Equal(dec("30.00")) {
		t.Errorf("effective price = %s, want override 30.00", stored.EffectivePrice)
	}
	if stored.StockQuantity != 25 {
		t.Errorf("stock = %d, want override 25", stored.StockQuantity)
	}
}

func TestSynchronizeFromProductRejectsInactive(t *testing.T) {
	ctx := context.Background()
	svc, _ := NewService(newMemStore())

	inactiveProduct := activeProduct("p1", "50.00", 100)
	inactiveProduct.Active = false
	if _, err := svc.SynchronizeFromProduct(ctx, inactiveProduct, activeChannel("web", "1.0")); err == nil {
		t.Fatal("expected error for inactive product")
	}

	inactiveChannel := activeChannel("web", "1.0")
	inactiveChannel.Active = false
	_, err := svc.SynchronizeFromProduct(ctx, activeProduct("p1", "50.00", 100), inactiveChannel)
	if err == nil {
		t.Fatal("expected error for inactive channel")
	}
	var se *syncErrors.SyncError
	if !asSyncError(err, &se) {
		t.Fatalf("expected SyncError, got %T", err)
	}
}

func TestSynchronizePriceUpdateRecomputesWithStoredMultiplier(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	pub := &capturePublisher{}
	svc, _ := NewService(store, WithPublisher(pub))

	// $50 base at 1.1 multiplier lists at $55.
	_, err := svc.SynchronizeFromProduct(ctx,
		activeProduct("p1", "50.00", 100),
		activeChannel("web", "1.1"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// A $60 price payload re-lists at $66 using the stored multiplier.
	res, err := svc.SynchronizePriceUpdate(ctx, "p1", "web", PricingPayload{
		Price: decPtr("60.00"),
	})
	if err != nil {
		t.Fatalf("SynchronizePriceUpdate failed: %v", err)
	}

	stored := store.get("p1", "web")
	if !stored.EffectivePrice.Equal(dec("66.00")) {
		t.Errorf("effective price = %s, want 66.00", stored.EffectivePrice)
	}
	if !stored.BasePrice.Equal(dec("60.00")) {
		t.Errorf("base price = %s, want 60.00", stored.BasePrice)
	}

	got, ok := res.Changes["price"]
	if !ok {
		t.Error("result changes must include the payload price")
	} else if price, isDec := got.(decimal.Decimal); !isDec || !price.Equal(dec("60.00")) {
		t.Errorf("changes[price] = %v, want 60.00", got)
	}

	ev := pub.last()
	if ev.Kind.String() != "ChannelPricingSynchronized" {
		t.Errorf("event kind = %s, want ChannelPricingSynchronized", ev.Kind)
	}
}

func TestSynchronizePriceUpdateRejectsNonPositivePrice(t *testing.T) {
	svc, _ := NewService(newMemStore())
	_, err := svc.SynchronizePriceUpdate(context.Background(), "p1", "web", PricingPayload{
		Price: decPtr("0"),
	})
	if !syncErrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSynchronizePriceUpdateMissingRecord(t *testing.T) {
	svc, _ := NewService(newMemStore())
	_, err := svc.SynchronizePriceUpdate(context.Background(), "p1", "web", PricingPayload{
		Price: decPtr("10.00"),
	})
	if err == nil {
		t.Fatal("expected error for missing channel product")
	}
}

func TestSynchronizeInventoryUpdateListsMissingFields(t *testing.T) {
	svc, _ := NewService(newMemStore())
	_, err := svc.SynchronizeInventoryUpdate(context.Background(), "p1", "web", InventoryPayload{})
	if err == nil {
		t.Fatal("expected error for empty payload")
	}
	msg := err.Error()
	if !strings.Contains(msg, "available_quantity") || !strings.Contains(msg, "reserved_quantity") {
		t.Fatalf("error must name both missing fields, got %q", msg)
	}
}

func TestSynchronizeInventoryUpdatePersistsEffectiveStock(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	pub := &capturePublisher{}
	svc, _ := NewService(store, WithPublisher(pub))

	channel := activeChannel("web", "1.0")
	channel.InventoryOverride = i64(25)
	if _, err := svc.SynchronizeFromProduct(ctx, activeProduct("p1", "50.00", 100), channel); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	res, err := svc.SynchronizeInventoryUpdate(ctx, "p1", "web", InventoryPayload{
		AvailableQuantity: i64(80),
		ReservedQuantity:  i64(5),
		Metadata:          map[string]string{"source": "warehouse"},
	})
	if err != nil {
		t.Fatalf("SynchronizeInventoryUpdate failed: %v", err)
	}

	stored := store.get("p1", "web")
	if stored.StockQuantity != 85 {
		t.Errorf("stock = %d, want effective 85", stored.StockQuantity)
	}
	if stored.ReservedQuantity != 5 {
		t.Errorf("reserved = %d, want 5", stored.ReservedQuantity)
	}
	if stored.InventoryOverride != nil {
		t.Error("inventory update must clear the channel override")
	}
	if stored.Metadata["source"] != "warehouse" {
		t.Error("payload metadata must be merged")
	}
	if got := res.Changes["effective_stock"].(int64); got != 85 {
		t.Errorf("changes[effective_stock] = %d, want 85", got)
	}
	if pub.last().Kind.String() != "ChannelInventorySynchronized" {
		t.Errorf("event kind = %s, want ChannelInventorySynchronized", pub.last().Kind)
	}
}

func TestSynchronizeInventoryUpdateRejectsOverReservation(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc, _ := NewService(store)
	if _, err := svc.SynchronizeFromProduct(ctx, activeProduct("p1", "50.00", 100), activeChannel("web", "1.0")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Negative available is structurally invalid before any storage access.
	_, err := svc.SynchronizeInventoryUpdate(ctx, "p1", "web", InventoryPayload{
		AvailableQuantity: i64(-1),
		ReservedQuantity:  i64(0),
	})
	if !syncErrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestConflictRetriesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	pub := &capturePublisher{}
	svc, _ := NewService(store, WithPublisher(pub))

	if _, err := svc.SynchronizeFromProduct(ctx, activeProduct("p1", "50.00", 100), activeChannel("web", "1.0")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// A concurrent writer lands a metadata change between our read and write.
	store.onUpdate = func(st *memStore, cp *ChannelProduct) {
		cur := st.get("p1", "web")
		cur.Metadata = map[string]string{"badge": "sale"}
		st.write(cur)
	}

	res, err := svc.SynchronizeInventoryUpdate(ctx, "p1", "web", InventoryPayload{
		AvailableQuantity: i64(80),
		ReservedQuantity:  i64(5),
	})
	if err != nil {
		t.Fatalf("conflicted sync failed: %v", err)
	}
	if !res.ConflictDetected {
		t.Fatal("result must report the conflict")
	}
	if res.Resolution == nil || res.Resolution.Phase != PhaseValidated {
		t.Fatalf("resolution must be validated, got %+v", res.Resolution)
	}

	// Both sides survive: our stock change plus their metadata change.
	stored := store.get("p1", "web")
	if stored.StockQuantity != 85 || stored.ReservedQuantity != 5 {
		t.Errorf("stock/reserved = %d/%d, want 85/5", stored.StockQuantity, stored.ReservedQuantity)
	}
	if stored.Metadata["badge"] != "sale" {
		t.Error("concurrent metadata change must survive the merge")
	}
	if stored.Version != 3 {
		t.Errorf("version = %d, want 3 (create, concurrent write, retry)", stored.Version)
	}
	if pub.last().ConflictDetected != true {
		t.Error("event must carry the conflict flag")
	}
}

func TestSecondConflictIsFatal(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc, _ := NewService(store)

	if _, err := svc.SynchronizeFromProduct(ctx, activeProduct("p1", "50.00", 100), activeChannel("web", "1.0")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// The hook reinstalls itself so the retry write also hits a conflict.
	var hook func(st *memStore, cp *ChannelProduct)
	hook = func(st *memStore, cp *ChannelProduct) {
		cur := st.get("p1", "web")
		st.write(cur)
		st.onUpdate = hook
	}
	store.onUpdate = hook

	_, err := svc.SynchronizeInventoryUpdate(ctx, "p1", "web", InventoryPayload{
		AvailableQuantity: i64(80),
		ReservedQuantity:  i64(0),
	})
	if err == nil {
		t.Fatal("expected fatal error after second conflict")
	}
	var se *syncErrors.SyncError
	if !asSyncError(err, &se) {
		t.Fatalf("expected SyncError, got %T", err)
	}
	if se.Code != syncErrors.ErrCodeConcurrencyFailure {
		t.Errorf("code = %s, want %s", se.Code, syncErrors.ErrCodeConcurrencyFailure)
	}
	if se.Retryable {
		t.Error("a conflict that survived the retry must not be marked retryable")
	}
}

func TestBreakerOpensAfterRepeatedStorageFailures(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.getErr = fmt.Errorf("disk failure")

	svc, _ := NewService(store, WithBreaker(breaker.New(breaker.Config{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
	})))

	payload := InventoryPayload{AvailableQuantity: i64(1), ReservedQuantity: i64(0)}
	if _, err := svc.SynchronizeInventoryUpdate(ctx, "p1", "web", payload); err == nil {
		t.Fatal("expected storage failure")
	}

	_, err := svc.SynchronizeInventoryUpdate(ctx, "p1", "web", payload)
	if !syncErrors.IsCircuitOpen(err) {
		t.Fatalf("expected circuit-open error, got %v", err)
	}
}

func TestPublisherFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	svc, _ := NewService(newMemStore(), WithPublisher(&capturePublisher{err: fmt.Errorf("broker down")}))

	res, err := svc.SynchronizeFromProduct(ctx, activeProduct("p1", "50.00", 100), activeChannel("web", "1.0"))
	if err != nil {
		t.Fatalf("publish failure must not fail the sync: %v", err)
	}
	if !res.Success {
		t.Error("sync must still report success")
	}
}

func TestEventKindNames(t *testing.T) {
	tests := []struct {
		kind EventKind
		want string
	}{
		{KindProductSynchronized, "ChannelProductSynchronized"},
		{KindInventorySynchronized, "ChannelInventorySynchronized"},
		{KindPricingSynchronized, "ChannelPricingSynchronized"},
		{EventKind(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("EventKind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
