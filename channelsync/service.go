package channelsync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/commercekit/channelsync/breaker"
	syncErrors "github.com/commercekit/channelsync/errors"
	"github.com/commercekit/channelsync/inventory"
	"github.com/commercekit/channelsync/logging"
	"github.com/commercekit/channelsync/pricing"
)

// Service orchestrates single-item and bulk synchronization of channel
// products, detects optimistic-concurrency conflicts, and publishes outcome
// events. It is request-scoped and synchronous: every public operation runs
// to completion in the calling goroutine.
type Service struct {
	store     ChannelProductStore
	publisher Publisher
	policy    ContentionPolicy
	resolver  *Resolver
	breaker   *breaker.Breaker
	metrics   MetricsCollector
	logger    *logging.Logger

	batchSize  int
	batchPause time.Duration
	now        func() time.Time
}

// NewService constructs a Service around a store. All other collaborators
// have working defaults and are replaced via options.
func NewService(store ChannelProductStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, syncErrors.NewValidationError("store", "is required")
	}

	s := &Service{
		store:      store,
		publisher:  NoOpPublisher{},
		metrics:    &NoOpMetricsCollector{},
		logger:     logging.Discard(),
		batchSize:  100,
		batchPause: 100 * time.Millisecond,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.breaker == nil {
		s.breaker = breaker.New(breaker.DefaultConfig())
	}
	s.logger = s.logger.WithComponent("sync")
	s.resolver = NewResolver(s.policy, s.logger)
	return s, nil
}

// Close releases the underlying store.
func (s *Service) Close() error {
	if err := s.store.Close(); err != nil {
		return syncErrors.WrapOpComponent(err, syncErrors.OpClose, "store")
	}
	return nil
}

// SynchronizeFromProduct synchronizes one channel product's availability,
// pricing, and inventory fields from authoritative product and channel state.
// Both product and channel must be active. A concurrency conflict is retried
// exactly once with freshly reloaded state; the result's ConflictDetected
// flag reports whether that happened.
func (s *Service) SynchronizeFromProduct(ctx context.Context, product ProductState, channel ChannelState) (*SyncResult, error) {
	const op = syncErrors.OpSyncProduct
	start := s.now()

	if !product.Active {
		s.metrics.RecordSyncErrors(string(op), "inactive_product")
		return nil, syncErrors.NewSyncError(op, "sync",
			fmt.Errorf("product %s is inactive", product.ProductID))
	}
	if !channel.Active {
		s.metrics.RecordSyncErrors(string(op), "inactive_channel")
		return nil, syncErrors.NewSyncError(op, "sync",
			fmt.Errorf("channel %s is inactive", channel.ChannelID))
	}

	price, err := s.buildPricing(product, channel)
	if err != nil {
		s.metrics.RecordSyncErrors(string(op), "validation_failure")
		return nil, err
	}

	var res *SyncResult
	err = s.breaker.Execute(ctx, func(ctx context.Context) error {
		var innerErr error
		res, innerErr = s.syncFromProduct(ctx, product, channel, price)
		return innerErr
	})
	if err != nil {
		s.recordFailure(op, err)
		return nil, err
	}

	res.Duration = s.now().Sub(start)
	s.finish(ctx, op, KindProductSynchronized, res)
	return res, nil
}

func (s *Service) buildPricing(product ProductState, channel ChannelState) (*pricing.ChannelPricing, error) {
	multiplier := channel.Multiplier
	if multiplier.IsZero() {
		multiplier = decimal.NewFromInt(1)
	}
	return pricing.New(pricing.Config{
		BasePrice:          product.BasePrice,
		OverridePrice:      channel.PriceOverride,
		Currency:           product.Currency,
		TaxRate:            channel.TaxRate,
		DiscountPercentage: channel.DiscountPercentage,
		ChannelMultiplier:  multiplier,
	})
}

func (s *Service) syncFromProduct(ctx context.Context, product ProductState, channel ChannelState, price *pricing.ChannelPricing) (*SyncResult, error) {
	base, err := s.store.Get(ctx, product.ProductID, channel.ChannelID)
	if err == ErrNotFound {
		return s.createFromProduct(ctx, product, channel, price)
	}
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}

	inv, err := inventory.New(inventory.Config{
		ProductStock:     product.StockQuantity,
		ChannelOverride:  channel.InventoryOverride,
		ReservedQuantity: min(base.ReservedQuantity, effectiveStock(product, channel)),
	})
	if err != nil {
		return nil, err
	}

	updated := base.Clone()
	updated.Available = product.Active
	updated.BasePrice = product.BasePrice
	updated.PriceOverride = clonePrice(channel.PriceOverride)
	updated.Currency = product.Currency
	updated.Multiplier = price.ChannelMultiplier()
	updated.DiscountPercentage = channel.DiscountPercentage
	updated.TaxRate = channel.TaxRate
	updated.EffectivePrice = price.EffectivePrice()
	updated.InventoryOverride = cloneQty(channel.InventoryOverride)
	updated.StockQuantity = inv.EffectiveStock()
	updated.ReservedQuantity = inv.ReservedQuantity()

	return s.guardedWrite(ctx, syncErrors.OpSyncProduct, base, updated, nil)
}

func (s *Service) createFromProduct(ctx context.Context, product ProductState, channel ChannelState, price *pricing.ChannelPricing) (*SyncResult, error) {
	inv, err := inventory.New(inventory.Config{
		ProductStock:    product.StockQuantity,
		ChannelOverride: channel.InventoryOverride,
	})
	if err != nil {
		return nil, err
	}

	cp := &ChannelProduct{
		ProductID:          product.ProductID,
		ChannelID:          channel.ChannelID,
		Available:          product.Active,
		BasePrice:          product.BasePrice,
		PriceOverride:      clonePrice(channel.PriceOverride),
		Currency:           product.Currency,
		Multiplier:         price.ChannelMultiplier(),
		DiscountPercentage: channel.DiscountPercentage,
		TaxRate:            channel.TaxRate,
		EffectivePrice:     price.EffectivePrice(),
		InventoryOverride:  cloneQty(channel.InventoryOverride),
		StockQuantity:      inv.EffectiveStock(),
		LastSyncedAt:       s.now().UTC(),
	}
	if err := s.store.Put(ctx, cp); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpStore, err)
	}

	return &SyncResult{
		Success:   true,
		ProductID: cp.ProductID,
		ChannelID: cp.ChannelID,
		Changes:   recordChanges(diffRecords(&ChannelProduct{}, cp, time.Time{})),
		Timestamp: cp.LastSyncedAt,
	}, nil
}

// SynchronizeInventoryUpdate applies an inventory payload to one channel
// product, persisting the effective-stock derivative plus raw metadata.
// The payload must contain at minimum available_quantity and
// reserved_quantity.
func (s *Service) SynchronizeInventoryUpdate(ctx context.Context, productID, channelID string, payload InventoryPayload) (*SyncResult, error) {
	const op = syncErrors.OpSyncInventory
	start := s.now()

	var missing []string
	if payload.AvailableQuantity == nil {
		missing = append(missing, "available_quantity")
	}
	if payload.ReservedQuantity == nil {
		missing = append(missing, "reserved_quantity")
	}
	if len(missing) > 0 {
		s.metrics.RecordSyncErrors(string(op), "invalid_payload")
		return nil, syncErrors.NewSyncError(op, "payload",
			fmt.Errorf("missing required fields: %s", strings.Join(missing, ", ")))
	}

	cfg := inventory.Config{
		ProductStock:       *payload.AvailableQuantity + *payload.ReservedQuantity,
		ReservedQuantity:   *payload.ReservedQuantity,
		AllocationStrategy: inventory.AllocationStrategy(payload.AllocationStrategy),
	}
	if payload.SafetyStock != nil {
		cfg.SafetyStock = *payload.SafetyStock
	}
	if payload.ReorderPoint != nil {
		cfg.ReorderPoint = *payload.ReorderPoint
	}
	inv, err := inventory.New(cfg)
	if err != nil {
		s.metrics.RecordSyncErrors(string(op), "validation_failure")
		return nil, err
	}

	var res *SyncResult
	err = s.breaker.Execute(ctx, func(ctx context.Context) error {
		base, err := s.loadExisting(ctx, op, productID, channelID)
		if err != nil {
			return err
		}

		updated := base.Clone()
		updated.StockQuantity = inv.EffectiveStock()
		updated.ReservedQuantity = inv.ReservedQuantity()
		updated.InventoryOverride = nil
		if err := mergeMetadata(updated, payload.Metadata); err != nil {
			return err
		}

		var innerErr error
		res, innerErr = s.guardedWrite(ctx, op, base, updated, map[string]any{
			"available_quantity": *payload.AvailableQuantity,
			"reserved_quantity":  *payload.ReservedQuantity,
			"effective_stock":    inv.EffectiveStock(),
		})
		return innerErr
	})
	if err != nil {
		s.recordFailure(op, err)
		return nil, err
	}

	res.Duration = s.now().Sub(start)
	s.finish(ctx, op, KindInventorySynchronized, res)
	return res, nil
}

// SynchronizePriceUpdate applies a pricing payload to one channel product,
// recomputing and persisting the effective price. Absent payload fields fall
// back to the values stored on the record.
func (s *Service) SynchronizePriceUpdate(ctx context.Context, productID, channelID string, payload PricingPayload) (*SyncResult, error) {
	const op = syncErrors.OpSyncPricing
	start := s.now()

	if payload.Price != nil && !payload.Price.IsPositive() {
		s.metrics.RecordSyncErrors(string(op), "invalid_payload")
		return nil, syncErrors.NewValidationError("price", "must be positive")
	}

	var res *SyncResult
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		base, err := s.loadExisting(ctx, op, productID, channelID)
		if err != nil {
			return err
		}

		price, err := s.buildPayloadPricing(base, payload)
		if err != nil {
			return err
		}

		updated := base.Clone()
		updated.BasePrice = price.BasePrice()
		updated.Currency = price.Currency()
		updated.Multiplier = price.ChannelMultiplier()
		updated.DiscountPercentage = price.DiscountPercentage()
		updated.TaxRate = price.TaxRate()
		updated.EffectivePrice = price.EffectivePrice()
		if err := mergeMetadata(updated, payload.Metadata); err != nil {
			return err
		}

		changes := map[string]any{"effective_price": price.EffectivePrice()}
		if payload.Price != nil {
			changes["price"] = *payload.Price
		}
		if payload.Currency != "" {
			changes["currency"] = payload.Currency
		}

		var innerErr error
		res, innerErr = s.guardedWrite(ctx, op, base, updated, changes)
		return innerErr
	})
	if err != nil {
		s.recordFailure(op, err)
		return nil, err
	}

	res.Duration = s.now().Sub(start)
	s.finish(ctx, op, KindPricingSynchronized, res)
	return res, nil
}

func (s *Service) buildPayloadPricing(base *ChannelProduct, payload PricingPayload) (*pricing.ChannelPricing, error) {
	cfg := pricing.Config{
		BasePrice:          base.BasePrice,
		Currency:           base.Currency,
		TaxRate:            base.TaxRate,
		DiscountPercentage: base.DiscountPercentage,
		ChannelMultiplier:  base.Multiplier,
	}
	if cfg.ChannelMultiplier.IsZero() {
		cfg.ChannelMultiplier = decimal.NewFromInt(1)
	}
	if payload.Price != nil {
		cfg.BasePrice = *payload.Price
	}
	if payload.Currency != "" {
		cfg.Currency = payload.Currency
	}
	if payload.TaxRate != nil {
		cfg.TaxRate = *payload.TaxRate
	}
	if payload.DiscountPercentage != nil {
		cfg.DiscountPercentage = *payload.DiscountPercentage
	}
	if payload.ChannelMultiplier != nil {
		cfg.ChannelMultiplier = *payload.ChannelMultiplier
	}
	return pricing.New(cfg)
}

// loadExisting fetches a record that must already exist for update-style
// operations.
func (s *Service) loadExisting(ctx context.Context, op syncErrors.Operation, productID, channelID string) (*ChannelProduct, error) {
	base, err := s.store.Get(ctx, productID, channelID)
	if err == ErrNotFound {
		return nil, syncErrors.NewSyncError(op, "store",
			fmt.Errorf("no channel product for product %s on channel %s", productID, channelID))
	}
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	return base, nil
}

// guardedWrite performs the optimistic write. On a version conflict it
// reloads, resolves through the conflict lifecycle, and retries exactly once;
// a second conflict is fatal. eventChanges, when non-nil, overrides the
// diff-derived change map reported on the result.
func (s *Service) guardedWrite(ctx context.Context, op syncErrors.Operation, base, updated *ChannelProduct, eventChanges map[string]any) (*SyncResult, error) {
	now := s.now().UTC()
	updated.LastSyncedAt = now

	err := s.store.Update(ctx, updated, base.Version)
	if err == nil {
		changes := eventChanges
		if changes == nil {
			changes = recordChanges(diffRecords(base, updated, now))
		}
		return &SyncResult{
			Success:   true,
			ProductID: updated.ProductID,
			ChannelID: updated.ChannelID,
			Changes:   changes,
			Timestamp: now,
		}, nil
	}
	if !syncErrors.IsVersionConflict(err) {
		return nil, syncErrors.NewStorageError(syncErrors.OpStore, err)
	}

	s.logger.Warn("version conflict detected, retrying with reloaded state",
		"product_id", updated.ProductID,
		"channel_id", updated.ChannelID,
		"expected_version", base.Version)
	s.metrics.RecordConflicts(1)

	// Reload: the stored record now reflects the concurrent writer.
	current, err := s.store.Get(ctx, updated.ProductID, updated.ChannelID)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}

	conflict := Conflict{
		ProductID:       updated.ProductID,
		ChannelID:       updated.ChannelID,
		ExpectedVersion: base.Version,
		ActualVersion:   current.Version,
		Ours:            diffRecords(base, updated, now),
		Theirs:          diffRecords(base, current, current.LastSyncedAt),
	}

	resolution, err := s.resolver.Resolve(ctx, conflict)
	if err != nil {
		return nil, syncErrors.NewSyncError(syncErrors.OpResolve, "resolver", err)
	}

	merged := current.Clone()
	for field, change := range resolution.Merged {
		applyField(merged, field, change.Value)
	}
	merged.LastSyncedAt = now

	if err := s.store.Update(ctx, merged, current.Version); err != nil {
		if syncErrors.IsVersionConflict(err) {
			return nil, syncErrors.NewConcurrencyError(op, err)
		}
		return nil, syncErrors.NewStorageError(syncErrors.OpStore, err)
	}

	if err := s.resolver.Validate(ctx, s.store, conflict, resolution, merged.Version); err != nil {
		return nil, err
	}

	changes := eventChanges
	if changes == nil {
		changes = recordChanges(resolution.Merged)
	}
	return &SyncResult{
		Success:          true,
		ProductID:        merged.ProductID,
		ChannelID:        merged.ChannelID,
		Changes:          changes,
		ConflictDetected: true,
		Resolution:       resolution,
		Timestamp:        now,
	}, nil
}

// finish publishes the outcome event and records metrics. Event transport
// failures are logged, not surfaced: delivery is the publisher's concern.
func (s *Service) finish(ctx context.Context, op syncErrors.Operation, kind EventKind, res *SyncResult) {
	s.metrics.RecordSyncDuration(string(op), res.Duration)
	s.metrics.RecordSyncItems(1, 0)

	if err := s.publisher.Publish(ctx, newEvent(kind, res)); err != nil {
		s.logger.LogError(ctx, err, "event publication failed",
			slog.String("product_id", res.ProductID),
			slog.String("channel_id", res.ChannelID))
	}

	s.logger.Info("synchronization completed",
		"operation", string(op),
		"product_id", res.ProductID,
		"channel_id", res.ChannelID,
		"conflict_detected", res.ConflictDetected,
		"duration", res.Duration)
}

func (s *Service) recordFailure(op syncErrors.Operation, err error) {
	s.metrics.RecordSyncItems(0, 1)
	switch {
	case syncErrors.IsCircuitOpen(err):
		s.metrics.RecordSyncErrors(string(op), "circuit_open")
	case syncErrors.IsValidation(err):
		s.metrics.RecordSyncErrors(string(op), "validation_failure")
	default:
		s.metrics.RecordSyncErrors(string(op), "sync_failure")
	}
}

// diffRecords returns the fields whose values differ between two records,
// stamped with changedAt.
func diffRecords(from, to *ChannelProduct, changedAt time.Time) ChangeSet {
	out := make(ChangeSet)
	record := func(field string, a, b any) {
		if !valuesEqual(a, b) {
			out[field] = FieldChange{Value: b, ChangedAt: changedAt}
		}
	}
	record("available", from.Available, to.Available)
	record("base_price", from.BasePrice, to.BasePrice)
	record("effective_price", from.EffectivePrice, to.EffectivePrice)
	record("currency", from.Currency, to.Currency)
	record("multiplier", from.Multiplier, to.Multiplier)
	record("discount_percentage", from.DiscountPercentage, to.DiscountPercentage)
	record("tax_rate", from.TaxRate, to.TaxRate)
	record("stock_quantity", from.StockQuantity, to.StockQuantity)
	record("reserved_quantity", from.ReservedQuantity, to.ReservedQuantity)

	keys := make(map[string]bool)
	for k := range from.Metadata {
		keys[k] = true
	}
	for k := range to.Metadata {
		keys[k] = true
	}
	for k := range keys {
		if from.Metadata[k] != to.Metadata[k] {
			out["metadata."+k] = FieldChange{Value: to.Metadata[k], ChangedAt: changedAt}
		}
	}
	return out
}

// applyField writes a resolved field value back onto a record.
func applyField(cp *ChannelProduct, field string, value any) {
	switch field {
	case "available":
		if v, ok := value.(bool); ok {
			cp.Available = v
		}
	case "base_price":
		if v, ok := value.(decimal.Decimal); ok {
			cp.BasePrice = v
		}
	case "effective_price":
		if v, ok := value.(decimal.Decimal); ok {
			cp.EffectivePrice = v
		}
	case "currency":
		if v, ok := value.(string); ok {
			cp.Currency = v
		}
	case "multiplier":
		if v, ok := value.(decimal.Decimal); ok {
			cp.Multiplier = v
		}
	case "discount_percentage":
		if v, ok := value.(decimal.Decimal); ok {
			cp.DiscountPercentage = v
		}
	case "tax_rate":
		if v, ok := value.(decimal.Decimal); ok {
			cp.TaxRate = v
		}
	case "stock_quantity":
		if v, ok := value.(int64); ok {
			cp.StockQuantity = v
		}
	case "reserved_quantity":
		if v, ok := value.(int64); ok {
			cp.ReservedQuantity = v
		}
	default:
		if key, ok := strings.CutPrefix(field, "metadata."); ok {
			if v, vok := value.(string); vok {
				if cp.Metadata == nil {
					cp.Metadata = make(map[string]string)
				}
				cp.Metadata[key] = v
			}
		}
	}
}

// recordChanges flattens a ChangeSet into the map carried on results and
// events.
func recordChanges(cs ChangeSet) map[string]any {
	out := make(map[string]any, len(cs))
	for field, change := range cs {
		out[field] = change.Value
	}
	return out
}

// mergeMetadata merges payload metadata into a record, enforcing the bounded
// mapping size.
func mergeMetadata(cp *ChannelProduct, metadata map[string]string) error {
	if len(metadata) == 0 {
		return nil
	}
	if cp.Metadata == nil {
		cp.Metadata = make(map[string]string, len(metadata))
	}
	for k, v := range metadata {
		cp.Metadata[k] = v
	}
	if len(cp.Metadata) > MaxMetadataKeys {
		return syncErrors.NewValidationError("metadata",
			fmt.Sprintf("exceeds %d keys", MaxMetadataKeys))
	}
	return nil
}

func effectiveStock(product ProductState, channel ChannelState) int64 {
	if channel.InventoryOverride != nil {
		return *channel.InventoryOverride
	}
	return product.StockQuantity
}

func clonePrice(p *decimal.Decimal) *decimal.Decimal {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneQty(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
