// Package inventory provides the immutable ChannelInventory value object that
// computes effective and available stock from a base stock level, channel
// override, reservations, safety stock, and reorder point.
package inventory

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/commercekit/channelsync/errors"
)

// maxQuantity is the sanity bound on any stock quantity input.
const maxQuantity = int64(1_000_000_000)

// AllocationStrategy determines how reservations are drawn from stock.
type AllocationStrategy string

const (
	AllocationFIFO          AllocationStrategy = "fifo"
	AllocationLIFO          AllocationStrategy = "lifo"
	AllocationFEFO          AllocationStrategy = "fefo"
	AllocationPriorityBased AllocationStrategy = "priority_based"
	AllocationDemandDriven  AllocationStrategy = "demand_driven"
)

// ValidStrategies lists the allowed allocation strategies.
var ValidStrategies = []AllocationStrategy{
	AllocationFIFO,
	AllocationLIFO,
	AllocationFEFO,
	AllocationPriorityBased,
	AllocationDemandDriven,
}

func (s AllocationStrategy) valid() bool {
	for _, v := range ValidStrategies {
		if s == v {
			return true
		}
	}
	return false
}

// Config carries the inputs for constructing a ChannelInventory.
type Config struct {
	ProductStock       int64
	ChannelOverride    *int64
	ReservedQuantity   int64
	SafetyStock        int64
	ReorderPoint       int64
	MaxStockLevel      *int64
	AllocationStrategy AllocationStrategy
}

// ChannelInventory is an immutable value object. Reserve, Release, and
// UpdateStockLevel return new instances with adjusted quantities; the
// receiver is never mutated.
type ChannelInventory struct {
	productStock       int64
	channelOverride    *int64
	reservedQuantity   int64
	safetyStock        int64
	reorderPoint       int64
	maxStockLevel      *int64
	allocationStrategy AllocationStrategy
}

// New validates the config. Violations fail with a *errors.ValidationError
// naming the offending field; a reservation above effective stock fails with
// a *errors.CapacityError.
func New(cfg Config) (*ChannelInventory, error) {
	if cfg.AllocationStrategy == "" {
		cfg.AllocationStrategy = AllocationFIFO
	}

	for _, q := range []struct {
		field string
		value int64
	}{
		{"product_stock", cfg.ProductStock},
		{"reserved_quantity", cfg.ReservedQuantity},
		{"safety_stock", cfg.SafetyStock},
		{"reorder_point", cfg.ReorderPoint},
	} {
		if q.value < 0 {
			return nil, errors.NewValidationError(q.field, "must be non-negative")
		}
		if q.value > maxQuantity {
			return nil, errors.NewValidationError(q.field, fmt.Sprintf("exceeds upper bound %d", maxQuantity))
		}
	}
	if cfg.ChannelOverride != nil {
		if *cfg.ChannelOverride < 0 {
			return nil, errors.NewValidationError("channel_override", "must be non-negative")
		}
		if *cfg.ChannelOverride > maxQuantity {
			return nil, errors.NewValidationError("channel_override", fmt.Sprintf("exceeds upper bound %d", maxQuantity))
		}
	}
	if cfg.MaxStockLevel != nil && *cfg.MaxStockLevel <= 0 {
		return nil, errors.NewValidationError("max_stock_level", "must be positive when set")
	}
	if !cfg.AllocationStrategy.valid() {
		return nil, errors.NewValidationError("allocation_strategy",
			fmt.Sprintf("%q is not one of the allowed strategies", cfg.AllocationStrategy))
	}

	inv := &ChannelInventory{
		productStock:       cfg.ProductStock,
		reservedQuantity:   cfg.ReservedQuantity,
		safetyStock:        cfg.SafetyStock,
		reorderPoint:       cfg.ReorderPoint,
		allocationStrategy: cfg.AllocationStrategy,
	}
	if cfg.ChannelOverride != nil {
		v := *cfg.ChannelOverride
		inv.channelOverride = &v
	}
	if cfg.MaxStockLevel != nil {
		v := *cfg.MaxStockLevel
		inv.maxStockLevel = &v
	}

	if inv.reservedQuantity > inv.EffectiveStock() {
		return nil, &errors.CapacityError{
			Requested: inv.reservedQuantity,
			Available: inv.EffectiveStock(),
		}
	}
	return inv, nil
}

// ProductStock returns the base stock level input.
func (i *ChannelInventory) ProductStock() int64 { return i.productStock }

// ChannelOverride returns the override and whether one is set.
func (i *ChannelInventory) ChannelOverride() (int64, bool) {
	if i.channelOverride == nil {
		return 0, false
	}
	return *i.channelOverride, true
}

// ReservedQuantity returns the currently reserved amount.
func (i *ChannelInventory) ReservedQuantity() int64 { return i.reservedQuantity }

// SafetyStock returns the safety stock threshold.
func (i *ChannelInventory) SafetyStock() int64 { return i.safetyStock }

// ReorderPoint returns the reorder threshold.
func (i *ChannelInventory) ReorderPoint() int64 { return i.reorderPoint }

// MaxStockLevel returns the maximum stock level and whether one is set.
func (i *ChannelInventory) MaxStockLevel() (int64, bool) {
	if i.maxStockLevel == nil {
		return 0, false
	}
	return *i.maxStockLevel, true
}

// AllocationStrategy returns the configured strategy.
func (i *ChannelInventory) AllocationStrategy() AllocationStrategy { return i.allocationStrategy }

// EffectiveStock is the channel override when present, else the product stock.
func (i *ChannelInventory) EffectiveStock() int64 {
	if i.channelOverride != nil {
		return *i.channelOverride
	}
	return i.productStock
}

// AvailableQuantity = max(effective stock - reserved, 0). Never negative.
func (i *ChannelInventory) AvailableQuantity() int64 {
	available := i.EffectiveStock() - i.reservedQuantity
	if available < 0 {
		return 0
	}
	return available
}

// NeedsReorder reports whether available stock has reached the reorder point.
func (i *ChannelInventory) NeedsReorder() bool {
	return i.AvailableQuantity() <= i.reorderPoint
}

// IsLowStock reports whether available stock has reached the safety stock.
func (i *ChannelInventory) IsLowStock() bool {
	return i.AvailableQuantity() <= i.safetyStock
}

// IsOverstocked reports whether effective stock exceeds the maximum level.
// Always false when no maximum is set.
func (i *ChannelInventory) IsOverstocked() bool {
	if i.maxStockLevel == nil {
		return false
	}
	return i.EffectiveStock() > *i.maxStockLevel
}

// StockHealthPercentage = effective stock / max stock level * 100, or 100
// when no maximum is set.
func (i *ChannelInventory) StockHealthPercentage() decimal.Decimal {
	if i.maxStockLevel == nil {
		return decimal.NewFromInt(100)
	}
	return decimal.NewFromInt(i.EffectiveStock()).
		Div(decimal.NewFromInt(*i.maxStockLevel)).
		Mul(decimal.NewFromInt(100)).
		Round(2)
}

// StockValue returns effective stock valued at the given unit price.
func (i *ChannelInventory) StockValue(unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(i.EffectiveStock())).Round(2)
}

// Reserve returns a new instance with the reserved quantity increased by n.
// Fails with a *errors.CapacityError when reserved+n would exceed effective
// stock; the receiver is left unchanged.
func (i *ChannelInventory) Reserve(n int64) (*ChannelInventory, error) {
	if n <= 0 {
		return nil, errors.NewValidationError("quantity", "must be positive")
	}
	if i.reservedQuantity+n > i.EffectiveStock() {
		return nil, &errors.CapacityError{
			Requested: n,
			Available: i.AvailableQuantity(),
		}
	}
	out := i.clone()
	out.reservedQuantity += n
	return out, nil
}

// Release returns a new instance with the reserved quantity decreased by n,
// clamped at zero. Releasing more than is reserved is not an error.
func (i *ChannelInventory) Release(n int64) (*ChannelInventory, error) {
	if n <= 0 {
		return nil, errors.NewValidationError("quantity", "must be positive")
	}
	out := i.clone()
	out.reservedQuantity -= n
	if out.reservedQuantity < 0 {
		out.reservedQuantity = 0
	}
	return out, nil
}

// UpdateStockLevel returns a new instance with the product stock reset to
// newLevel and any channel override cleared. If the new level is below the
// prior effective stock, reservations are scaled down proportionally so they
// cannot exceed physical stock. The reason is informational, carried by the
// caller into the synchronization metadata.
func (i *ChannelInventory) UpdateStockLevel(newLevel int64, reason string) (*ChannelInventory, error) {
	if newLevel < 0 {
		return nil, errors.NewValidationError("stock_level", "must be non-negative")
	}
	if newLevel > maxQuantity {
		return nil, errors.NewValidationError("stock_level", fmt.Sprintf("exceeds upper bound %d", maxQuantity))
	}

	out := i.clone()
	prior := i.EffectiveStock()
	out.productStock = newLevel
	out.channelOverride = nil

	if newLevel < prior && prior > 0 {
		scaled := decimal.NewFromInt(i.reservedQuantity).
			Mul(decimal.NewFromInt(newLevel)).
			Div(decimal.NewFromInt(prior)).
			Floor().IntPart()
		out.reservedQuantity = scaled
	}
	if out.reservedQuantity > newLevel {
		out.reservedQuantity = newLevel
	}
	return out, nil
}

// WithChannelOverride returns a new instance with the override substituted.
func (i *ChannelInventory) WithChannelOverride(n int64) (*ChannelInventory, error) {
	if n < 0 {
		return nil, errors.NewValidationError("channel_override", "must be non-negative")
	}
	if n > maxQuantity {
		return nil, errors.NewValidationError("channel_override", fmt.Sprintf("exceeds upper bound %d", maxQuantity))
	}
	out := i.clone()
	out.channelOverride = &n
	return out, nil
}

func (i *ChannelInventory) clone() *ChannelInventory {
	out := &ChannelInventory{
		productStock:       i.productStock,
		reservedQuantity:   i.reservedQuantity,
		safetyStock:        i.safetyStock,
		reorderPoint:       i.reorderPoint,
		allocationStrategy: i.allocationStrategy,
	}
	if i.channelOverride != nil {
		v := *i.channelOverride
		out.channelOverride = &v
	}
	if i.maxStockLevel != nil {
		v := *i.maxStockLevel
		out.maxStockLevel = &v
	}
	return out
}
