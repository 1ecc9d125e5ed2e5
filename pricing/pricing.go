// Package pricing provides the immutable ChannelPricing value object that
// computes an effective per-channel price from a base price, override,
// multiplier, discount, and tax rate.
package pricing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/commercekit/channelsync/errors"
)

// Internal prices are kept at 4 decimal places; display rounds to 2.
const (
	InternalScale = 4
	DisplayScale  = 2
)

// maxBasePrice is the sanity bound on any price input.
var maxBasePrice = decimal.NewFromInt(1_000_000_000)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

var hundred = decimal.NewFromInt(100)

// Config carries the inputs for constructing a ChannelPricing. Optional
// fields use pointers so absent and zero are distinguishable.
type Config struct {
	BasePrice          decimal.Decimal
	OverridePrice      *decimal.Decimal
	Currency           string
	TaxRate            decimal.Decimal // 0..1
	DiscountPercentage decimal.Decimal // 0..100
	ChannelMultiplier  decimal.Decimal // > 0
}

// ChannelPricing is an immutable, self-validating value object. All derived
// operations are pure; With* methods return new instances.
type ChannelPricing struct {
	basePrice          decimal.Decimal
	overridePrice      *decimal.Decimal
	currency           string
	taxRate            decimal.Decimal
	discountPercentage decimal.Decimal
	channelMultiplier  decimal.Decimal
	effectivePrice     decimal.Decimal
	contentHash        string
	computedAt         time.Time
}

// New validates the config and computes the effective price once.
// Violating any constraint fails with a *errors.ValidationError naming the
// offending field.
func New(cfg Config) (*ChannelPricing, error) {
	if cfg.BasePrice.IsNegative() {
		return nil, errors.NewValidationError("base_price", "must be non-negative")
	}
	if cfg.BasePrice.GreaterThan(maxBasePrice) {
		return nil, errors.NewValidationError("base_price", fmt.Sprintf("exceeds upper bound %s", maxBasePrice))
	}
	if cfg.OverridePrice != nil {
		if cfg.OverridePrice.IsNegative() {
			return nil, errors.NewValidationError("override_price", "must be non-negative")
		}
		if cfg.OverridePrice.GreaterThan(maxBasePrice) {
			return nil, errors.NewValidationError("override_price", fmt.Sprintf("exceeds upper bound %s", maxBasePrice))
		}
	}
	if !currencyPattern.MatchString(cfg.Currency) {
		return nil, errors.NewValidationError("currency", "must be a 3-uppercase-letter code")
	}
	if cfg.TaxRate.IsNegative() || cfg.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, errors.NewValidationError("tax_rate", "must be within [0, 1]")
	}
	if cfg.DiscountPercentage.IsNegative() || cfg.DiscountPercentage.GreaterThan(hundred) {
		return nil, errors.NewValidationError("discount_percentage", "must be within [0, 100]")
	}
	if !cfg.ChannelMultiplier.IsPositive() {
		return nil, errors.NewValidationError("channel_multiplier", "must be positive")
	}

	p := &ChannelPricing{
		basePrice:          cfg.BasePrice,
		currency:           cfg.Currency,
		taxRate:            cfg.TaxRate,
		discountPercentage: cfg.DiscountPercentage,
		channelMultiplier:  cfg.ChannelMultiplier,
		computedAt:         time.Now().UTC(),
	}
	if cfg.OverridePrice != nil {
		op := *cfg.OverridePrice
		p.overridePrice = &op
	}
	p.effectivePrice = p.computeEffective()
	p.contentHash = p.computeHash()
	return p, nil
}

// effective = (override | base) * multiplier * (1 - discount/100)
func (p *ChannelPricing) computeEffective() decimal.Decimal {
	price := p.basePrice
	if p.overridePrice != nil {
		price = *p.overridePrice
	}
	factor := decimal.NewFromInt(1).Sub(p.discountPercentage.Div(hundred))
	return price.Mul(p.channelMultiplier).Mul(factor).Round(InternalScale)
}

// The content hash covers all inputs plus the construction timestamp, not
// just the computed output, so equal outputs from different inputs do not
// collide.
func (p *ChannelPricing) computeHash() string {
	h := sha256.New()
	fmt.Fprintf(h, "base=%s;", p.basePrice)
	if p.overridePrice != nil {
		fmt.Fprintf(h, "override=%s;", *p.overridePrice)
	}
	fmt.Fprintf(h, "currency=%s;tax=%s;discount=%s;multiplier=%s;at=%d",
		p.currency, p.taxRate, p.discountPercentage, p.channelMultiplier, p.computedAt.UnixNano())
	return hex.EncodeToString(h.Sum(nil))
}

// BasePrice returns the base price input.
func (p *ChannelPricing) BasePrice() decimal.Decimal { return p.basePrice }

// OverridePrice returns the override and whether one is set.
func (p *ChannelPricing) OverridePrice() (decimal.Decimal, bool) {
	if p.overridePrice == nil {
		return decimal.Decimal{}, false
	}
	return *p.overridePrice, true
}

// Currency returns the 3-letter currency code.
func (p *ChannelPricing) Currency() string { return p.currency }

// TaxRate returns the tax rate input.
func (p *ChannelPricing) TaxRate() decimal.Decimal { return p.taxRate }

// DiscountPercentage returns the discount input.
func (p *ChannelPricing) DiscountPercentage() decimal.Decimal { return p.discountPercentage }

// ChannelMultiplier returns the channel multiplier input.
func (p *ChannelPricing) ChannelMultiplier() decimal.Decimal { return p.channelMultiplier }

// EffectivePrice returns the price computed at construction, rounded to the
// internal scale.
func (p *ChannelPricing) EffectivePrice() decimal.Decimal { return p.effectivePrice }

// DisplayPrice returns the effective price rounded to the display scale.
func (p *ChannelPricing) DisplayPrice() decimal.Decimal {
	return p.effectivePrice.Round(DisplayScale)
}

// ContentHash returns the hash over all inputs and the construction time.
func (p *ChannelPricing) ContentHash() string { return p.contentHash }

// ComputedAt returns the construction timestamp.
func (p *ChannelPricing) ComputedAt() time.Time { return p.computedAt }

// PriceWithTax returns the effective price with the tax rate applied.
func (p *ChannelPricing) PriceWithTax() decimal.Decimal {
	return p.effectivePrice.Mul(decimal.NewFromInt(1).Add(p.taxRate)).Round(InternalScale)
}

// PriceAfterDiscount returns the pre-multiplier price with only the discount
// applied.
func (p *ChannelPricing) PriceAfterDiscount() decimal.Decimal {
	price := p.basePrice
	if p.overridePrice != nil {
		price = *p.overridePrice
	}
	factor := decimal.NewFromInt(1).Sub(p.discountPercentage.Div(hundred))
	return price.Mul(factor).Round(InternalScale)
}

// Comparison reports the difference between two pricings.
type Comparison struct {
	Difference        decimal.Decimal
	PercentDifference decimal.Decimal
	CurrencyMismatch  bool
}

// Compare returns this price minus other, the percentage difference relative
// to other, and whether the currencies differ. The percentage is zero when
// other's effective price is zero.
func (p *ChannelPricing) Compare(other *ChannelPricing) Comparison {
	cmp := Comparison{
		Difference:       p.effectivePrice.Sub(other.effectivePrice).Round(InternalScale),
		CurrencyMismatch: p.currency != other.currency,
	}
	if !other.effectivePrice.IsZero() {
		cmp.PercentDifference = cmp.Difference.Div(other.effectivePrice).Mul(hundred).Round(InternalScale)
	}
	return cmp
}

// Equal compares by content hash plus effective price plus currency. Two
// pricings with identical computed prices compare equal only if their full
// input sets match.
func (p *ChannelPricing) Equal(other *ChannelPricing) bool {
	if other == nil {
		return false
	}
	return p.contentHash == other.contentHash &&
		p.effectivePrice.Equal(other.effectivePrice) &&
		p.currency == other.currency
}

// WithPriceOverride returns a new instance with the override substituted.
// The receiver is never mutated.
func (p *ChannelPricing) WithPriceOverride(override decimal.Decimal) (*ChannelPricing, error) {
	cfg := p.config()
	cfg.OverridePrice = &override
	return New(cfg)
}

// WithCurrencyConversion returns a new instance with all price inputs
// converted at the given rate and the currency replaced.
func (p *ChannelPricing) WithCurrencyConversion(rate decimal.Decimal, currency string) (*ChannelPricing, error) {
	if !rate.IsPositive() {
		return nil, errors.NewValidationError("conversion_rate", "must be positive")
	}
	cfg := p.config()
	cfg.BasePrice = p.basePrice.Mul(rate).Round(InternalScale)
	if p.overridePrice != nil {
		converted := p.overridePrice.Mul(rate).Round(InternalScale)
		cfg.OverridePrice = &converted
	}
	cfg.Currency = currency
	return New(cfg)
}

func (p *ChannelPricing) config() Config {
	cfg := Config{
		BasePrice:          p.basePrice,
		Currency:           p.currency,
		TaxRate:            p.taxRate,
		DiscountPercentage: p.discountPercentage,
		ChannelMultiplier:  p.channelMultiplier,
	}
	if p.overridePrice != nil {
		op := *p.overridePrice
		cfg.OverridePrice = &op
	}
	return cfg
}
