package channelsync

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	syncErrors "github.com/commercekit/channelsync/errors"
	"github.com/commercekit/channelsync/logging"
)

// Phase tracks the conflict lifecycle: detected -> analyzed -> resolved ->
// validated. Validated is terminal; a resolution that fails validation
// surfaces as a fatal error rather than being retried again.
type Phase int

const (
	PhaseDetected Phase = iota
	PhaseAnalyzed
	PhaseResolved
	PhaseValidated
)

func (p Phase) String() string {
	switch p {
	case PhaseDetected:
		return "detected"
	case PhaseAnalyzed:
		return "analyzed"
	case PhaseResolved:
		return "resolved"
	case PhaseValidated:
		return "validated"
	default:
		return "unknown"
	}
}

// FieldGroup classifies a conflicting field.
type FieldGroup string

const (
	GroupPrice     FieldGroup = "price"
	GroupInventory FieldGroup = "inventory"
	GroupMetadata  FieldGroup = "metadata"
)

var priceFields = map[string]bool{
	"base_price":          true,
	"price_override":      true,
	"effective_price":     true,
	"currency":            true,
	"multiplier":          true,
	"discount_percentage": true,
	"tax_rate":            true,
}

var inventoryFields = map[string]bool{
	"stock_quantity":     true,
	"reserved_quantity":  true,
	"inventory_override": true,
	"available":          true,
}

// GroupOf classifies a field name. Metadata keys are namespaced "metadata.*".
func GroupOf(field string) FieldGroup {
	switch {
	case priceFields[field]:
		return GroupPrice
	case inventoryFields[field]:
		return GroupInventory
	case strings.HasPrefix(field, "metadata."):
		return GroupMetadata
	default:
		return GroupMetadata
	}
}

// FieldChange is one side's proposed value for a field.
type FieldChange struct {
	Value     any
	ChangedAt time.Time
}

// ChangeSet maps field names to proposed changes.
type ChangeSet map[string]FieldChange

// Conflict carries both sides of a detected version mismatch: the fields this
// writer wants to change (Ours) and the fields the winning concurrent writer
// already changed (Theirs), diffed against the state both started from.
type Conflict struct {
	ProductID       string
	ChannelID       string
	ExpectedVersion int64
	ActualVersion   int64
	Ours            ChangeSet
	Theirs          ChangeSet
}

// Resolution is the decision for one conflict, carried through the lifecycle
// phases.
type Resolution struct {
	Phase Phase

	// Mergeable fields changed by only one side.
	Mergeable []string

	// Contending fields changed by both sides to different values.
	Contending []string

	// Merged is the final change set to persist.
	Merged ChangeSet

	// LosingWrites records the overridden side of each contended field for
	// audit.
	LosingWrites ChangeSet

	// Decisions maps contended fields to the policy decision applied.
	Decisions map[string]string
}

// ContentionPolicy decides the winner for a field both writers changed.
type ContentionPolicy interface {
	// Name identifies the policy in decisions and logs.
	Name() string

	// Pick returns the winning change and a short decision label.
	Pick(field string, ours, theirs FieldChange) (FieldChange, string)
}

// LastWriterWins picks the change with the later timestamp. Equal timestamps
// prefer the already-stored side. This is the default policy.
type LastWriterWins struct{}

func (LastWriterWins) Name() string { return "last_writer_wins" }

func (LastWriterWins) Pick(field string, ours, theirs FieldChange) (FieldChange, string) {
	if ours.ChangedAt.After(theirs.ChangedAt) {
		return ours, "keep_ours"
	}
	return theirs, "keep_theirs"
}

// FirstWriterWins picks the change with the earlier timestamp.
type FirstWriterWins struct{}

func (FirstWriterWins) Name() string { return "first_writer_wins" }

func (FirstWriterWins) Pick(field string, ours, theirs FieldChange) (FieldChange, string) {
	if ours.ChangedAt.Before(theirs.ChangedAt) {
		return ours, "keep_ours"
	}
	return theirs, "keep_theirs"
}

// PreferOurs always keeps this writer's change.
type PreferOurs struct{}

func (PreferOurs) Name() string { return "prefer_ours" }

func (PreferOurs) Pick(field string, ours, theirs FieldChange) (FieldChange, string) {
	return ours, "keep_ours"
}

// PreferTheirs always keeps the stored concurrent change.
type PreferTheirs struct{}

func (PreferTheirs) Name() string { return "prefer_theirs" }

func (PreferTheirs) Pick(field string, ours, theirs FieldChange) (FieldChange, string) {
	return theirs, "keep_theirs"
}

// Resolver runs the conflict lifecycle for the synchronization service.
type Resolver struct {
	policy ContentionPolicy
	logger *logging.Logger
}

// NewResolver constructs a Resolver. A nil policy falls back to
// LastWriterWins; a nil logger discards.
func NewResolver(policy ContentionPolicy, logger *logging.Logger) *Resolver {
	if policy == nil {
		policy = LastWriterWins{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Resolver{policy: policy, logger: logger.WithComponent("resolver")}
}

// Resolve analyzes the conflict and applies the contention policy, advancing
// the resolution through the analyzed and resolved phases. Validation happens
// separately once the merged change set has been persisted.
func (r *Resolver) Resolve(ctx context.Context, c Conflict) (*Resolution, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	res := &Resolution{
		Phase:        PhaseDetected,
		Merged:       make(ChangeSet),
		LosingWrites: make(ChangeSet),
		Decisions:    make(map[string]string),
	}

	// Analyze: fields changed by one side only are independently mergeable;
	// fields both sides changed to different values are contending.
	for field, ours := range c.Ours {
		theirs, both := c.Theirs[field]
		if !both || valuesEqual(ours.Value, theirs.Value) {
			res.Mergeable = append(res.Mergeable, field)
			continue
		}
		res.Contending = append(res.Contending, field)
	}
	for field := range c.Theirs {
		if _, ok := c.Ours[field]; !ok {
			res.Mergeable = append(res.Mergeable, field)
		}
	}
	res.Phase = PhaseAnalyzed

	r.logger.Debug("conflict analyzed",
		"product_id", c.ProductID,
		"channel_id", c.ChannelID,
		"mergeable", len(res.Mergeable),
		"contending", len(res.Contending))

	// Resolve: merge one-sided changes, apply the policy to contended ones.
	for _, field := range res.Mergeable {
		if ours, ok := c.Ours[field]; ok {
			res.Merged[field] = ours
		} else {
			res.Merged[field] = c.Theirs[field]
		}
	}
	for _, field := range res.Contending {
		ours, theirs := c.Ours[field], c.Theirs[field]
		winner, decision := r.policy.Pick(field, ours, theirs)
		res.Merged[field] = winner
		res.Decisions[field] = decision
		if decision == "keep_ours" {
			res.LosingWrites[field] = theirs
		} else {
			res.LosingWrites[field] = ours
		}
		r.logger.Info("contended field resolved",
			"product_id", c.ProductID,
			"channel_id", c.ChannelID,
			"field", field,
			"group", string(GroupOf(field)),
			"policy", r.policy.Name(),
			"decision", decision)
	}
	res.Phase = PhaseResolved

	return res, nil
}

// Validate re-reads persisted state and confirms the resolution was applied
// exactly once: the version advanced by one over the write and every merged
// field holds its resolved value. Guards against double-apply under retry.
func (r *Resolver) Validate(ctx context.Context, store ChannelProductStore, c Conflict, res *Resolution, writtenVersion int64) error {
	if res.Phase != PhaseResolved {
		return syncErrors.NewSyncError(syncErrors.OpResolve, "resolver",
			fmt.Errorf("cannot validate resolution in phase %s", res.Phase))
	}

	current, err := store.Get(ctx, c.ProductID, c.ChannelID)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpResolve, err)
	}
	if current.Version != writtenVersion {
		return syncErrors.NewSyncError(syncErrors.OpResolve, "resolver",
			fmt.Errorf("resolution not applied exactly once: stored version %d, wrote %d",
				current.Version, writtenVersion))
	}
	for field, change := range res.Merged {
		if got, ok := fieldValue(current, field); ok && !valuesEqual(got, change.Value) {
			return syncErrors.NewSyncError(syncErrors.OpResolve, "resolver",
				fmt.Errorf("resolved field %s not persisted: stored %v, resolved %v", field, got, change.Value))
		}
	}

	res.Phase = PhaseValidated
	return nil
}

// fieldValue extracts a named field from a record for validation. Unknown
// fields report ok=false and are skipped.
func fieldValue(cp *ChannelProduct, field string) (any, bool) {
	switch field {
	case "available":
		return cp.Available, true
	case "base_price":
		return cp.BasePrice, true
	case "effective_price":
		return cp.EffectivePrice, true
	case "currency":
		return cp.Currency, true
	case "multiplier":
		return cp.Multiplier, true
	case "discount_percentage":
		return cp.DiscountPercentage, true
	case "tax_rate":
		return cp.TaxRate, true
	case "stock_quantity":
		return cp.StockQuantity, true
	case "reserved_quantity":
		return cp.ReservedQuantity, true
	}
	if key, ok := strings.CutPrefix(field, "metadata."); ok {
		v, present := cp.Metadata[key]
		return v, present
	}
	return nil, false
}

// valuesEqual compares field values, treating decimals by numeric equality.
func valuesEqual(a, b any) bool {
	da, aok := a.(decimal.Decimal)
	db, bok := b.(decimal.Decimal)
	if aok && bok {
		return da.Equal(db)
	}
	return reflect.DeepEqual(a, b)
}
