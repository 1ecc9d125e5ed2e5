// Package channelsync keeps a product's availability, price, and inventory
// consistent across sales channels under concurrent updates, with explicit
// handling of staleness, overrides, and optimistic-concurrency conflicts.
package channelsync

import (
	"context"
	goerrors "errors"
	"time"

	"github.com/shopspring/decimal"
)

// MaxMetadataKeys bounds the channel-specific metadata mapping.
const MaxMetadataKeys = 64

// ErrNotFound is returned by stores when no ChannelProduct exists for the
// requested (product, channel) pair.
var ErrNotFound = goerrors.New("channel product not found")

// ChannelProduct is the per-(product, sales-channel) record holding overrides
// and synchronization state. Exactly one exists per (ProductID, ChannelID)
// pair. It is never hard-deleted; Available acts as the soft-disable flag.
type ChannelProduct struct {
	ProductID string
	ChannelID string

	// Available mirrors the product's active state on the channel.
	Available bool

	// Pricing state persisted at the last synchronization.
	BasePrice          decimal.Decimal
	PriceOverride      *decimal.Decimal
	Currency           string
	Multiplier         decimal.Decimal
	DiscountPercentage decimal.Decimal
	TaxRate            decimal.Decimal
	EffectivePrice     decimal.Decimal

	// Inventory state persisted at the last synchronization.
	InventoryOverride *int64
	StockQuantity     int64
	ReservedQuantity  int64

	// Metadata holds channel-specific key-value pairs, bounded in size.
	Metadata map[string]string

	LastSyncedAt time.Time

	// Version is the optimistic-concurrency counter. A write must supply the
	// version it read; stores bump it on every successful update.
	Version int64
}

// Clone returns a deep copy so callers can mutate a working copy without
// touching the loaded record.
func (cp *ChannelProduct) Clone() *ChannelProduct {
	out := *cp
	if cp.PriceOverride != nil {
		v := *cp.PriceOverride
		out.PriceOverride = &v
	}
	if cp.InventoryOverride != nil {
		v := *cp.InventoryOverride
		out.InventoryOverride = &v
	}
	if cp.Metadata != nil {
		out.Metadata = make(map[string]string, len(cp.Metadata))
		for k, v := range cp.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// ProductState is the authoritative product snapshot a synchronization runs
// from.
type ProductState struct {
	ProductID     string
	Active        bool
	BasePrice     decimal.Decimal
	Currency      string
	StockQuantity int64
}

// ChannelState is the authoritative sales-channel snapshot, including any
// channel-level overrides.
type ChannelState struct {
	ChannelID          string
	Active             bool
	Multiplier         decimal.Decimal
	DiscountPercentage decimal.Decimal
	TaxRate            decimal.Decimal
	PriceOverride      *decimal.Decimal
	InventoryOverride  *int64
}

// ChannelProductStore provides persistence for channel products. Update is a
// guarded write: it must fail with errors.ErrVersionConflict when the stored
// version no longer matches expectedVersion.
type ChannelProductStore interface {
	// Get retrieves the record for a (product, channel) pair, or ErrNotFound.
	Get(ctx context.Context, productID, channelID string) (*ChannelProduct, error)

	// Put creates a record. The stored version starts at 1.
	Put(ctx context.Context, cp *ChannelProduct) error

	// Update persists cp if the stored version equals expectedVersion,
	// bumping the version by one. cp.Version is set to the new version on
	// success.
	Update(ctx context.Context, cp *ChannelProduct, expectedVersion int64) error

	// Close releases resources held by the store.
	Close() error
}

// ProductSource resolves product IDs to authoritative product state during
// bulk synchronization.
type ProductSource interface {
	ProductState(ctx context.Context, productID string) (ProductState, error)
}

// InventoryPayload is the payload for inventory synchronization. Required
// fields are pointers so missing and zero are distinguishable.
type InventoryPayload struct {
	AvailableQuantity  *int64
	ReservedQuantity   *int64
	SafetyStock        *int64
	ReorderPoint       *int64
	AllocationStrategy string
	Metadata           map[string]string
}

// PricingPayload is the payload for price synchronization. Absent fields fall
// back to the values stored on the channel product.
type PricingPayload struct {
	Price              *decimal.Decimal
	Currency           string
	TaxRate            *decimal.Decimal
	DiscountPercentage *decimal.Decimal
	ChannelMultiplier  *decimal.Decimal
	Metadata           map[string]string
}

// SyncResult reports the outcome of one synchronization attempt. It is
// transient: used for event publication and bulk aggregation, then discarded.
type SyncResult struct {
	Success          bool
	ProductID        string
	ChannelID        string
	Changes          map[string]any
	ConflictDetected bool
	Resolution       *Resolution
	Timestamp        time.Time
	Duration         time.Duration
}

// BulkResult aggregates per-item outcomes of a bulk synchronization.
type BulkResult struct {
	Total           int
	Successful      int
	Failed          int
	Conflicted      int
	AverageDuration time.Duration
	Errors          []error
}
